package main

// Registry owns the set of live rooms and the lobby index (rooms still open
// to joins). It keeps the index current by subscribing to the room bus
// rather than being called directly, so the index is settled before any
// later subscriber (the transport) observes the same event.
type Registry struct {
	ids    *Allocator
	scheme Scheme
	bus    *roomBus

	rooms   map[string]*Room
	lobbies map[string]struct{}
}

func newRegistry(ids *Allocator, scheme Scheme, bus *roomBus) *Registry {
	reg := &Registry{
		ids:     ids,
		scheme:  scheme,
		bus:     bus,
		rooms:   make(map[string]*Room),
		lobbies: make(map[string]struct{}),
	}

	bus.Subscribe(reg.bookkeep)

	return reg
}

func (reg *Registry) bookkeep(ev RoomEvent) {
	switch ev.Kind {
	case eventRoomCreated:
		reg.rooms[ev.Room.id] = ev.Room
		reg.lobbies[ev.Room.id] = struct{}{}

	case eventPlayerJoined:
		if ev.Room.IsFull() {
			delete(reg.lobbies, ev.Room.id)
		}

	case eventPlayerLeft:
		// A room someone just left is never full, so it is joinable again.
		if _, ok := reg.rooms[ev.Room.id]; ok {
			reg.lobbies[ev.Room.id] = struct{}{}
		}

	case eventGameStarted:
		delete(reg.rooms, ev.Room.id)
		delete(reg.lobbies, ev.Room.id)
	}
}

// NewRoom creates an empty room with a freshly allocated id. The only error
// is keyspace exhaustion.
func (reg *Registry) NewRoom() (*Room, error) {
	id, err := reg.ids.Next()
	if err != nil {
		return nil, err
	}

	room := &Room{
		id:     id,
		scheme: reg.scheme.clone(),
		ids:    reg.ids,
		bus:    reg.bus,
	}

	reg.bus.Emit(RoomEvent{Kind: eventRoomCreated, Room: room})

	return room, nil
}

// JoinID returns the id of some open lobby, creating a room only when none
// exists.
func (reg *Registry) JoinID() (string, error) {
	for id := range reg.lobbies {
		return id, nil
	}

	room, err := reg.NewRoom()
	if err != nil {
		return "", err
	}

	return room.id, nil
}

// CanJoin reports whether the id names an open lobby.
func (reg *Registry) CanJoin(roomID string) bool {
	_, ok := reg.lobbies[roomID]
	return ok
}

// Get resolves an id to its room, or to the null object when the room is
// unknown or already started.
func (reg *Registry) Get(roomID string) roomHandle {
	if room, ok := reg.rooms[roomID]; ok {
		return room
	}
	return dummyRoom{}
}

func (reg *Registry) HasLobbies() bool {
	return len(reg.lobbies) != 0
}
