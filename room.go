package main

// PlayerState is one room member: the connection id that joined, and whether
// it has readied up. Insertion order is significant; the member at index 0
// is the host and the only one allowed to start the game.
type PlayerState struct {
	ID    string
	Ready bool
}

// PublicPlayer is the externally visible view of a member, with the raw
// connection id shortened to a display id.
type PublicPlayer struct {
	ID    string `json:"id"`
	Ready bool   `json:"ready"`
}

// roomHandle is satisfied by both *Room and dummyRoom, so lookups for an
// unknown or retired room id hand back something whose mutations are safe
// no-ops instead of forcing nil checks on every call site.
type roomHandle interface {
	ID() string
	AddPlayer(playerID string) bool
	DeletePlayer(playerID string)
	SetReady(playerID string, ready bool)
	StartGame()
	Players() []PublicPlayer
	PlayerIndex(playerID string) int
	IsFull() bool
	Scheme() Scheme
}

// Room is a pre-game lobby. It is only ever mutated from the server run
// loop; every mutation announces itself on the room bus.
type Room struct {
	id      string
	scheme  Scheme
	players []PlayerState

	ids *Allocator
	bus *roomBus
}

func (r *Room) ID() string {
	return r.id
}

// AddPlayer appends a member. It refuses, without mutation, when the room
// is at capacity or the id is already a member.
func (r *Room) AddPlayer(playerID string) bool {
	if r.IsFull() {
		return false
	}
	if r.PlayerIndex(playerID) != -1 {
		return false
	}

	r.players = append(r.players, PlayerState{ID: playerID})

	r.bus.Emit(RoomEvent{Kind: eventPlayerJoined, Room: r})

	return true
}

// DeletePlayer removes a member if present. The emitted event carries the
// member's index before removal, since removing index 0 transfers host
// privileges to the next member.
func (r *Room) DeletePlayer(playerID string) {
	i := r.PlayerIndex(playerID)
	if i == -1 {
		return
	}

	r.players = append(r.players[:i], r.players[i+1:]...)

	r.bus.Emit(RoomEvent{Kind: eventPlayerLeft, Room: r, PlayerID: playerID, Index: i})
}

// SetReady flips a member's ready flag. Idempotent; unknown ids are ignored.
func (r *Room) SetReady(playerID string, ready bool) {
	i := r.PlayerIndex(playerID)
	if i == -1 {
		return
	}

	r.players[i].Ready = ready

	r.bus.Emit(RoomEvent{Kind: eventPlayerReady, Room: r, Index: i})
}

// StartGame retires the room into a game, but only once every member is
// ready. The registry removes the room on the emitted event, so no further
// mutation can reach it.
func (r *Room) StartGame() {
	if len(r.players) == 0 {
		return
	}
	for _, p := range r.players {
		if !p.Ready {
			return
		}
	}

	r.bus.Emit(RoomEvent{Kind: eventGameStarted, Room: r})
}

func (r *Room) Players() []PublicPlayer {
	players := make([]PublicPlayer, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, PublicPlayer{
			ID:    r.ids.Shorten(p.ID),
			Ready: p.Ready,
		})
	}
	return players
}

func (r *Room) PlayerIndex(playerID string) int {
	for i, p := range r.players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) IsFull() bool {
	return len(r.players) == r.scheme.PlayerLimit
}

func (r *Room) Scheme() Scheme {
	return r.scheme.clone()
}

// allReady reports whether the start precondition holds; broadcast to the
// host as the start-button enablement flag.
func (r *Room) allReady() bool {
	for _, p := range r.players {
		if !p.Ready {
			return false
		}
	}
	return true
}

// dummyRoom stands in for a missing room.
type dummyRoom struct{}

func (dummyRoom) ID() string              { return "" }
func (dummyRoom) AddPlayer(string) bool   { return false }
func (dummyRoom) DeletePlayer(string)     {}
func (dummyRoom) SetReady(string, bool)   {}
func (dummyRoom) StartGame()              {}
func (dummyRoom) Players() []PublicPlayer { return []PublicPlayer{} }
func (dummyRoom) PlayerIndex(string) int  { return -1 }
func (dummyRoom) IsFull() bool            { return false }
func (dummyRoom) Scheme() Scheme          { return Scheme{} }
