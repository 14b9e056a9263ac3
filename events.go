package main

// Every room mutation is announced as one of a closed set of event variants.
// Subscribers run synchronously, in subscription order, on the goroutine
// that performed the mutation; an event is fully handled before the next
// inbound message is processed, so all observers see room state changes in
// the same order.

type roomEventKind int

const (
	eventRoomCreated roomEventKind = iota
	eventPlayerJoined
	eventPlayerReady
	eventPlayerLeft
	eventGameStarted
)

// RoomEvent carries the payload for each kind:
//
//	eventRoomCreated  carries Room
//	eventPlayerJoined carries Room (the new member is the last one)
//	eventPlayerReady  carries Room and Index
//	eventPlayerLeft   carries Room, PlayerID and Index (position before removal)
//	eventGameStarted  carries Room
type RoomEvent struct {
	Kind     roomEventKind
	Room     *Room
	PlayerID string
	Index    int
}

type roomBus struct {
	subscribers []func(RoomEvent)
}

func (b *roomBus) Subscribe(fn func(RoomEvent)) {
	b.subscribers = append(b.subscribers, fn)
}

func (b *roomBus) Emit(ev RoomEvent) {
	for _, fn := range b.subscribers {
		fn(ev)
	}
}

type gameEventKind int

const (
	eventGameCreated gameEventKind = iota
	eventGamePlayerJoined
	eventGamePlayerReady
	eventGamePlayerHidden
)

// GameEvent carries the game and, for the per-player kinds, the player's
// index.
type GameEvent struct {
	Kind  gameEventKind
	Game  *Game
	Index int
}

type gameBus struct {
	subscribers []func(GameEvent)
}

func (b *gameBus) Subscribe(fn func(GameEvent)) {
	b.subscribers = append(b.subscribers, fn)
}

func (b *gameBus) Emit(ev GameEvent) {
	for _, fn := range b.subscribers {
		fn(ev)
	}
}
