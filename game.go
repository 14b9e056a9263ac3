package main

// Position of a worm on the (not yet simulated) game board.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Worm is one unit of a player's team, seeded from the scheme.
type Worm struct {
	Name     string   `json:"name"`
	HP       int      `json:"hp"`
	Position Position `json:"position"`
}

// GamePlayer is a room member carried over into a started game. Every
// participant is addressed by two ids: firstID, fixed at the room-to-game
// transition and stable across reconnects, keys all membership lookups;
// lastID, the most recent live connection, keys message delivery. They must
// never be conflated.
type GamePlayer struct {
	firstID string
	lastID  string
	online  bool
	ready   bool

	weapons []Ammo
	worms   []Worm
}

func newGamePlayer(id string, index int, scheme Scheme) *GamePlayer {
	ps := scheme.PlayerScheme

	weapons := make([]Ammo, len(ps.Weapons))
	copy(weapons, ps.Weapons)

	worms := make([]Worm, ps.WormCount)
	for j := range worms {
		worms[j] = Worm{
			Name: scheme.wormName(index, j),
			HP:   ps.WormHP,
		}
	}

	return &GamePlayer{
		firstID: id,
		lastID:  id,
		weapons: weapons,
		worms:   worms,
	}
}

// PublicGamePlayer is the broadcastable view of a game participant.
type PublicGamePlayer struct {
	ID     string `json:"id"`
	Online bool   `json:"online"`
	Ready  bool   `json:"ready"`
}

// gameHandle mirrors roomHandle for games: the null object absorbs every
// operation against an unknown game id.
type gameHandle interface {
	ID() string
	Join(firstID, lastID string) bool
	SetReady(lastID string)
	HidePlayer(lastID string)
	HasPlayer(firstID string) bool
	CanStart() bool
	Players() []PublicGamePlayer
	Scheme() Scheme
}

// Game is seeded from exactly one finished room: same id, a value copy of
// the room's scheme, and one player per member in member order. Readiness
// restarts from false (the game page runs its own ready-up round) and
// players count as offline until their live connection joins the game.
type Game struct {
	id      string
	scheme  Scheme
	players []*GamePlayer

	ids *Allocator
	bus *gameBus
}

func newGame(room *Room, ids *Allocator, bus *gameBus) *Game {
	game := &Game{
		id:     room.id,
		scheme: room.Scheme(),
		ids:    ids,
		bus:    bus,
	}

	game.players = make([]*GamePlayer, 0, len(room.players))
	for i, member := range room.players {
		game.players = append(game.players, newGamePlayer(member.ID, i, game.scheme))
	}

	bus.Emit(GameEvent{Kind: eventGameCreated, Game: game})

	return game
}

func (g *Game) ID() string {
	return g.id
}

// Join marks the player with the given durable id as present, recording the
// live connection id for delivery. Unknown first ids are refused.
func (g *Game) Join(firstID, lastID string) bool {
	i := g.indexByFirst(firstID)
	if i == -1 {
		return false
	}

	g.players[i].lastID = lastID
	g.players[i].online = true

	g.bus.Emit(GameEvent{Kind: eventGamePlayerJoined, Game: g, Index: i})

	return true
}

func (g *Game) SetReady(lastID string) {
	i := g.indexByLast(lastID)
	if i == -1 {
		return
	}

	g.players[i].ready = true

	g.bus.Emit(GameEvent{Kind: eventGamePlayerReady, Game: g, Index: i})
}

// HidePlayer marks a disconnected player offline without removing them;
// they rejoin later with the same firstID.
func (g *Game) HidePlayer(lastID string) {
	i := g.indexByLast(lastID)
	if i == -1 {
		return
	}

	g.players[i].online = false

	g.bus.Emit(GameEvent{Kind: eventGamePlayerHidden, Game: g, Index: i})
}

func (g *Game) HasPlayer(firstID string) bool {
	return g.indexByFirst(firstID) != -1
}

func (g *Game) CanStart() bool {
	for _, p := range g.players {
		if !p.ready {
			return false
		}
	}
	return true
}

func (g *Game) Players() []PublicGamePlayer {
	players := make([]PublicGamePlayer, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, g.publicPlayer(p))
	}
	return players
}

func (g *Game) Scheme() Scheme {
	return g.scheme.clone()
}

// PlayerInfo returns the broadcastable view of the player at index i.
func (g *Game) PlayerInfo(i int) PublicGamePlayer {
	return g.publicPlayer(g.players[i])
}

func (g *Game) publicPlayer(p *GamePlayer) PublicGamePlayer {
	return PublicGamePlayer{
		ID:     g.ids.Shorten(p.firstID),
		Online: p.online,
		Ready:  p.ready,
	}
}

func (g *Game) indexByFirst(firstID string) int {
	for i, p := range g.players {
		if p.firstID == firstID {
			return i
		}
	}
	return -1
}

func (g *Game) indexByLast(lastID string) int {
	for i, p := range g.players {
		if p.lastID == lastID {
			return i
		}
	}
	return -1
}

type dummyGame struct{}

func (dummyGame) ID() string                  { return "" }
func (dummyGame) Join(string, string) bool    { return false }
func (dummyGame) SetReady(string)             {}
func (dummyGame) HidePlayer(string)           {}
func (dummyGame) HasPlayer(string) bool       { return false }
func (dummyGame) CanStart() bool              { return false }
func (dummyGame) Players() []PublicGamePlayer { return []PublicGamePlayer{} }
func (dummyGame) Scheme() Scheme              { return Scheme{} }

// GameRegistry constructs a game whenever a room reports game_started and
// keeps the live set of games.
type GameRegistry struct {
	ids   *Allocator
	games map[string]*Game
}

func newGameRegistry(ids *Allocator, rooms *roomBus, bus *gameBus) *GameRegistry {
	reg := &GameRegistry{
		ids:   ids,
		games: make(map[string]*Game),
	}

	rooms.Subscribe(func(ev RoomEvent) {
		if ev.Kind == eventGameStarted {
			newGame(ev.Room, ids, bus)
		}
	})

	bus.Subscribe(func(ev GameEvent) {
		if ev.Kind == eventGameCreated {
			reg.games[ev.Game.id] = ev.Game
		}
	})

	return reg
}

func (reg *GameRegistry) Get(gameID string) gameHandle {
	if game, ok := reg.games[gameID]; ok {
		return game
	}
	return dummyGame{}
}
