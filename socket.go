package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Messages coming from clients
type clientMessage struct {
	Type    string `json:"type"`    // "client:room#join", "client:room#ready", "client:room#leave", "client:room#start", "client:game#join", "client:game#ready"
	Room    string `json:"room,omitempty"`
	Ready   *bool  `json:"ready,omitempty"`
	FirstID string `json:"first_id,omitempty"`
}

// sessionMessage tells a fresh connection its connection id, which the
// client stores as its durable identity for later game joins.
type sessionMessage struct {
	Type string `json:"type"` // "server:session"
	ID   string `json:"id"`
}

// roomJoinAck answers a single client's join attempt.
type roomJoinAck struct {
	Type  string `json:"type"` // "server:room#joined"
	Me    string `json:"me,omitempty"`
	Error string `json:"error,omitempty"`
}

// gameJoinAck answers a single client's game join attempt.
type gameJoinAck struct {
	Type   string  `json:"type"` // "server:game#joined"
	Scheme *Scheme `json:"scheme,omitempty"`
	Me     string  `json:"me,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// playerMessage carries a public player id for join/first/leave/ready/hidden
// broadcasts.
type playerMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// readyMessage broadcasts a room member's readiness change.
type readyMessage struct {
	Type  string `json:"type"` // "server:room#ready"
	ID    string `json:"id"`
	Ready bool   `json:"ready"`
}

// enableMessage is sent to the host only: whether all members are ready and
// the game may be started.
type enableMessage struct {
	Type    string `json:"type"` // "server:room#enable"
	Enabled bool   `json:"enabled"`
}

type startMessage struct {
	Type string `json:"type"` // "server:game#start"
}

// gamePlayerMessage broadcasts a game participant's public state.
type gamePlayerMessage struct {
	Type   string           `json:"type"` // "server:game#join"
	Player PublicGamePlayer `json:"player"`
}

type client struct {
	conn *websocket.Conn
	send chan any
	id   string // connection id; a participant's last_id

	// ids of the room/game this connection joined, resolved through the
	// registries on every use so retired rooms fall through to the null
	// object. Only touched from the server run loop.
	roomID string
	gameID string
}

type inboundMsg struct {
	c   *client
	msg clientMessage
}

type joinIDReply struct {
	id  string
	err error
}

type canJoinReq struct {
	roomID string
	reply  chan bool
}

type getPlayersReq struct {
	roomID string
	reply  chan []PublicPlayer
}

type hasPlayerReq struct {
	gameID  string
	firstID string
	reply   chan bool
}

// Server is the transport adapter: it maps socket messages onto registry
// calls and bus events onto broadcasts. A single run goroutine owns every
// registry and all client bookkeeping, so no room or game state needs locks.
type Server struct {
	cfg *Config

	ids   *Allocator
	rooms *Registry
	games *GameRegistry

	clients map[*client]struct{}
	byConn  map[string]*client
	groups  map[string]map[*client]struct{}

	register   chan *client
	unregister chan *client
	inbound    chan inboundMsg

	joinIDReqs     chan chan joinIDReply
	canJoinReqs    chan canJoinReq
	getPlayersReqs chan getPlayersReq
	hasPlayerReqs  chan hasPlayerReq
}

func newServer(cfg *Config, ids *Allocator, scheme Scheme) *Server {
	roomEvents := &roomBus{}
	gameEvents := &gameBus{}

	s := &Server{
		cfg: cfg,

		ids:   ids,
		rooms: newRegistry(ids, scheme, roomEvents),
		games: newGameRegistry(ids, roomEvents, gameEvents),

		clients: make(map[*client]struct{}),
		byConn:  make(map[string]*client),
		groups:  make(map[string]map[*client]struct{}),

		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inboundMsg),

		joinIDReqs:     make(chan chan joinIDReply),
		canJoinReqs:    make(chan canJoinReq),
		getPlayersReqs: make(chan getPlayersReq),
		hasPlayerReqs:  make(chan hasPlayerReq),
	}

	// Broadcast subscribers run after the registries' own bookkeeping, so
	// the lobby index is already settled when a broadcast goes out.
	roomEvents.Subscribe(s.onRoomEvent)
	gameEvents.Subscribe(s.onGameEvent)

	return s
}

func (s *Server) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-s.register:
			s.clients[c] = struct{}{}
			s.byConn[c.id] = c
			s.sendOrDrop(c, sessionMessage{Type: "server:session", ID: c.id})

		case c := <-s.unregister:
			s.rooms.Get(c.roomID).DeletePlayer(c.id)
			s.games.Get(c.gameID).HidePlayer(c.id)
			s.removeClient(c)

		case in := <-s.inbound:
			// A dropped connection can still have messages in flight
			// from its reader; they must not seat it in a room.
			if _, ok := s.clients[in.c]; !ok {
				continue
			}
			s.handleMessage(in.c, in.msg)

		case reply := <-s.joinIDReqs:
			id, err := s.rooms.JoinID()
			reply <- joinIDReply{id: id, err: err}

		case req := <-s.canJoinReqs:
			req.reply <- s.rooms.CanJoin(req.roomID)

		case req := <-s.getPlayersReqs:
			req.reply <- s.rooms.Get(req.roomID).Players()

		case req := <-s.hasPlayerReqs:
			req.reply <- s.games.Get(req.gameID).HasPlayer(req.firstID)
		}
	}
}

func (s *Server) handleMessage(c *client, msg clientMessage) {
	switch msg.Type {
	case "client:room#join":
		// Joining while already in a room counts as leaving the old one.
		if c.roomID != "" && c.roomID != msg.Room {
			s.rooms.Get(c.roomID).DeletePlayer(c.id)
			s.leaveGroup(c.roomID, c)
			c.roomID = ""
		}

		room := s.rooms.Get(msg.Room)
		if room.AddPlayer(c.id) {
			c.roomID = msg.Room
			s.joinGroup(msg.Room, c)
			s.sendOrDrop(c, roomJoinAck{
				Type: "server:room#joined",
				Me:   s.ids.Shorten(c.id),
			})
			logf(s.cfg, "ROOMS: Player %s joined %s", s.ids.Shorten(c.id), msg.Room)
		} else {
			s.sendOrDrop(c, roomJoinAck{
				Type:  "server:room#joined",
				Error: fmt.Sprintf("Failed to join room %s.", msg.Room),
			})
		}

	case "client:room#ready":
		if msg.Ready != nil {
			s.rooms.Get(c.roomID).SetReady(c.id, *msg.Ready)
		}

	case "client:room#leave":
		s.rooms.Get(c.roomID).DeletePlayer(c.id)
		s.leaveGroup(c.roomID, c)
		c.roomID = ""

	case "client:room#start":
		// Host privilege: only the member at index 0 may start.
		room := s.rooms.Get(c.roomID)
		if room.PlayerIndex(c.id) == 0 {
			room.StartGame()
		}

	case "client:game#join":
		game := s.games.Get(msg.Room)
		s.joinGroup(msg.Room, c)
		if game.Join(msg.FirstID, c.id) {
			c.gameID = msg.Room
			scheme := game.Scheme()
			s.sendOrDrop(c, gameJoinAck{
				Type:   "server:game#joined",
				Scheme: &scheme,
				Me:     s.ids.Shorten(msg.FirstID),
			})
			logf(s.cfg, "GAMES: Player %s joined %s", s.ids.Shorten(msg.FirstID), msg.Room)
		} else {
			s.leaveGroup(msg.Room, c)
			s.sendOrDrop(c, gameJoinAck{
				Type:  "server:game#joined",
				Error: fmt.Sprintf("Failed to join game %s.", msg.Room),
			})
		}

	case "client:game#ready":
		s.games.Get(c.gameID).SetReady(c.id)

	default:
		// ignore unknown types
	}
}

func (s *Server) onRoomEvent(ev RoomEvent) {
	switch ev.Kind {
	case eventPlayerJoined:
		room := ev.Room
		newest := room.players[len(room.players)-1]
		s.broadcast(room.id, playerMessage{
			Type: "server:room#join",
			ID:   s.ids.Shorten(newest.ID),
		})
		if len(room.players) == 1 {
			s.emitFirst(room)
		}
		s.emitEnable(room)

	case eventPlayerReady:
		room := ev.Room
		member := room.players[ev.Index]
		s.broadcast(room.id, readyMessage{
			Type:  "server:room#ready",
			ID:    s.ids.Shorten(member.ID),
			Ready: member.Ready,
		})
		s.emitEnable(room)

	case eventPlayerLeft:
		room := ev.Room
		s.broadcast(room.id, playerMessage{
			Type: "server:room#leave",
			ID:   s.ids.Shorten(ev.PlayerID),
		})
		if ev.Index == 0 && len(room.players) != 0 {
			s.emitFirst(room)
		}
		if len(room.players) != 0 {
			s.emitEnable(room)
		}
	}
}

func (s *Server) onGameEvent(ev GameEvent) {
	switch ev.Kind {
	case eventGameCreated:
		s.broadcast(ev.Game.id, startMessage{Type: "server:game#start"})
		logf(s.cfg, "GAMES: Room %s started with %d players", ev.Game.id, len(ev.Game.players))

	case eventGamePlayerJoined:
		s.broadcast(ev.Game.id, gamePlayerMessage{
			Type:   "server:game#join",
			Player: ev.Game.PlayerInfo(ev.Index),
		})

	case eventGamePlayerReady:
		s.broadcast(ev.Game.id, playerMessage{
			Type: "server:game#ready",
			ID:   ev.Game.PlayerInfo(ev.Index).ID,
		})

	case eventGamePlayerHidden:
		s.broadcast(ev.Game.id, playerMessage{
			Type: "server:game#hidden",
			ID:   ev.Game.PlayerInfo(ev.Index).ID,
		})
	}
}

// emitFirst announces the current host to the whole room.
func (s *Server) emitFirst(room *Room) {
	s.broadcast(room.id, playerMessage{
		Type: "server:room#first",
		ID:   s.ids.Shorten(room.players[0].ID),
	})
}

// emitEnable tells the host, and only the host, whether the start
// precondition currently holds.
func (s *Server) emitEnable(room *Room) {
	host, ok := s.byConn[room.players[0].ID]
	if !ok {
		return
	}
	s.sendOrDrop(host, enableMessage{
		Type:    "server:room#enable",
		Enabled: room.allReady(),
	})
}

func (s *Server) broadcast(id string, msg any) {
	for c := range s.groups[id] {
		s.sendOrDrop(c, msg)
	}
}

func (s *Server) sendOrDrop(c *client, msg any) {
	// Never write to a connection that has already been dropped; its
	// send channel is closed.
	if _, ok := s.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		s.removeClient(c)
	}
}

func (s *Server) removeClient(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	delete(s.byConn, c.id)
	s.leaveGroup(c.roomID, c)
	s.leaveGroup(c.gameID, c)
	close(c.send)
}

func (s *Server) joinGroup(id string, c *client) {
	if s.groups[id] == nil {
		s.groups[id] = make(map[*client]struct{})
	}
	s.groups[id][c] = struct{}{}
}

func (s *Server) leaveGroup(id string, c *client) {
	group, ok := s.groups[id]
	if !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(s.groups, id)
	}
}

// JoinID returns the id of an open lobby, creating one if necessary. The
// one side effect permitted on a read path.
func (s *Server) JoinID(ctx context.Context) (string, error) {
	reply := make(chan joinIDReply, 1)
	select {
	case s.joinIDReqs <- reply:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-reply:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Server) CanJoin(ctx context.Context, roomID string) bool {
	reply := make(chan bool, 1)
	select {
	case s.canJoinReqs <- canJoinReq{roomID: roomID, reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return false
	}
}

func (s *Server) RoomPlayers(ctx context.Context, roomID string) []PublicPlayer {
	reply := make(chan []PublicPlayer, 1)
	select {
	case s.getPlayersReqs <- getPlayersReq{roomID: roomID, reply: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) GameHasPlayer(ctx context.Context, gameID, firstID string) bool {
	reply := make(chan bool, 1)
	select {
	case s.hasPlayerReqs <- hasPlayerReq{gameID: gameID, firstID: firstID, reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case r := <-reply:
		return r
	case <-ctx.Done():
		return false
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "wormbox_id"

// getOrSetPlayerID gives the browser a durable identity cookie. The lobby
// protocol itself keys on connection ids; the cookie is how the client side
// remembers its first_id across page loads.
func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

func serveWS(cfg *Config, s *Server) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		c := &client{
			conn: conn,
			send: make(chan any, 8),
			id:   newConnID(),
		}

		s.register <- c

		go c.writePump()
		c.readPump(s)
	}
}

func (c *client) readPump(s *Server) {
	defer func() {
		s.unregister <- c
		_ = c.conn.Close()
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		s.inbound <- inboundMsg{c: c, msg: msg}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}
