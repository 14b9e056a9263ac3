package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSocketServer(t *testing.T) *Server {
	t.Helper()

	words, err := defaultWords()
	require.NoError(t, err)

	ids, err := newAllocator(words, 3)
	require.NoError(t, err)

	s := newServer(&Config{}, ids, testScheme(4))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.run(ctx)

	return s
}

// dial registers a fake connection and consumes the session hello.
func dial(t *testing.T, s *Server, id string) *client {
	t.Helper()

	c := &client{send: make(chan any, 32), id: id}
	s.register <- c

	hello := recvMessage(t, c)
	require.Equal(t, sessionMessage{Type: "server:session", ID: id}, hello)

	return c
}

func say(s *Server, c *client, msg clientMessage) {
	s.inbound <- inboundMsg{c: c, msg: msg}
}

func recvMessage(t *testing.T, c *client) any {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "connection was dropped")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// settle round-trips a request through the run loop so every message sent
// before it is guaranteed to have been handled.
func settle(t *testing.T, s *Server) {
	t.Helper()
	s.CanJoin(context.Background(), "settle")
}

func assertQuiet(t *testing.T, c *client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %#v", msg)
	default:
	}
}

func TestJoinAcksAndNotifiesHost(t *testing.T) {
	s := newSocketServer(t)

	roomID, err := s.JoinID(context.Background())
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})

	enable := recvMessage(t, a)
	require.IsType(t, enableMessage{}, enable)
	assert.False(t, enable.(enableMessage).Enabled)

	msg := recvMessage(t, a)
	require.IsType(t, roomJoinAck{}, msg)
	ack := msg.(roomJoinAck)
	assert.Equal(t, s.ids.Shorten("conn-a"), ack.Me)
	assert.Empty(t, ack.Error)
}

func TestJoinUnknownRoomRejected(t *testing.T) {
	s := newSocketServer(t)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: "no-such-room"})

	msg := recvMessage(t, a)
	require.IsType(t, roomJoinAck{}, msg)
	ack := msg.(roomJoinAck)
	assert.Empty(t, ack.Me)
	assert.NotEmpty(t, ack.Error)
}

func TestJoinBroadcastReachesExistingMembers(t *testing.T) {
	s := newSocketServer(t)

	roomID, err := s.JoinID(context.Background())
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})
	recvMessage(t, a) // enable
	recvMessage(t, a) // ack

	b := dial(t, s, "conn-b")
	say(s, b, clientMessage{Type: "client:room#join", Room: roomID})

	joined := recvMessage(t, a)
	require.IsType(t, playerMessage{}, joined)
	assert.Equal(t, "server:room#join", joined.(playerMessage).Type)
	assert.Equal(t, s.ids.Shorten("conn-b"), joined.(playerMessage).ID)

	enable := recvMessage(t, a)
	require.IsType(t, enableMessage{}, enable)
	assert.False(t, enable.(enableMessage).Enabled)

	// The joiner only gets its ack; the join broadcast predates its
	// membership of the group.
	msg := recvMessage(t, b)
	require.IsType(t, roomJoinAck{}, msg)
	settle(t, s)
	assertQuiet(t, b)
}

func TestReadyFlowEnablesHost(t *testing.T) {
	s := newSocketServer(t)

	roomID, err := s.JoinID(context.Background())
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})
	recvMessage(t, a)
	recvMessage(t, a)

	b := dial(t, s, "conn-b")
	say(s, b, clientMessage{Type: "client:room#join", Room: roomID})
	recvMessage(t, a)
	recvMessage(t, a)
	recvMessage(t, b)

	ready := true
	say(s, b, clientMessage{Type: "client:room#ready", Ready: &ready})

	for _, c := range []*client{a, b} {
		msg := recvMessage(t, c)
		require.IsType(t, readyMessage{}, msg)
		assert.Equal(t, s.ids.Shorten("conn-b"), msg.(readyMessage).ID)
		assert.True(t, msg.(readyMessage).Ready)
	}

	enable := recvMessage(t, a)
	require.IsType(t, enableMessage{}, enable)
	assert.False(t, enable.(enableMessage).Enabled, "host is not ready yet")

	say(s, a, clientMessage{Type: "client:room#ready", Ready: &ready})
	recvMessage(t, a) // ready broadcast
	recvMessage(t, b)

	enable = recvMessage(t, a)
	require.IsType(t, enableMessage{}, enable)
	assert.True(t, enable.(enableMessage).Enabled)

	settle(t, s)
	assertQuiet(t, b)
}

func TestOnlyHostCanStart(t *testing.T) {
	s := newSocketServer(t)
	ctx := context.Background()

	roomID, err := s.JoinID(ctx)
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})
	b := dial(t, s, "conn-b")
	say(s, b, clientMessage{Type: "client:room#join", Room: roomID})

	ready := true
	say(s, a, clientMessage{Type: "client:room#ready", Ready: &ready})
	say(s, b, clientMessage{Type: "client:room#ready", Ready: &ready})

	drain := func(c *client) {
		settle(t, s)
		for {
			select {
			case <-c.send:
			default:
				return
			}
		}
	}
	drain(a)
	drain(b)

	say(s, b, clientMessage{Type: "client:room#start"})
	settle(t, s)
	assertQuiet(t, a)
	assertQuiet(t, b)
	assert.True(t, s.CanJoin(ctx, roomID), "a non-host start must not retire the room")

	say(s, a, clientMessage{Type: "client:room#start"})
	for _, c := range []*client{a, b} {
		msg := recvMessage(t, c)
		require.IsType(t, startMessage{}, msg)
		assert.Equal(t, "server:game#start", msg.(startMessage).Type)
	}

	assert.False(t, s.CanJoin(ctx, roomID))
	assert.True(t, s.GameHasPlayer(ctx, roomID, "conn-a"))
	assert.True(t, s.GameHasPlayer(ctx, roomID, "conn-b"))
	assert.False(t, s.GameHasPlayer(ctx, roomID, "conn-c"))
}

func TestLeaveTransfersHostOverTransport(t *testing.T) {
	s := newSocketServer(t)

	roomID, err := s.JoinID(context.Background())
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})
	b := dial(t, s, "conn-b")
	say(s, b, clientMessage{Type: "client:room#join", Room: roomID})

	drain := func(c *client) {
		settle(t, s)
		for {
			select {
			case <-c.send:
			default:
				return
			}
		}
	}
	drain(a)
	drain(b)

	say(s, a, clientMessage{Type: "client:room#leave"})

	left := recvMessage(t, b)
	require.IsType(t, playerMessage{}, left)
	assert.Equal(t, "server:room#leave", left.(playerMessage).Type)
	assert.Equal(t, s.ids.Shorten("conn-a"), left.(playerMessage).ID)

	first := recvMessage(t, b)
	require.IsType(t, playerMessage{}, first)
	assert.Equal(t, "server:room#first", first.(playerMessage).Type)
	assert.Equal(t, s.ids.Shorten("conn-b"), first.(playerMessage).ID)

	enable := recvMessage(t, b)
	require.IsType(t, enableMessage{}, enable)
	assert.False(t, enable.(enableMessage).Enabled)
}

func TestGameJoinOverTransport(t *testing.T) {
	s := newSocketServer(t)
	ctx := context.Background()

	roomID, err := s.JoinID(ctx)
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})
	ready := true
	say(s, a, clientMessage{Type: "client:room#ready", Ready: &ready})
	say(s, a, clientMessage{Type: "client:room#start"})

	drain := func(c *client) {
		settle(t, s)
		for {
			select {
			case <-c.send:
			default:
				return
			}
		}
	}
	drain(a)

	// The game page opens a fresh connection and presents the identity it
	// was handed in the lobby.
	a2 := dial(t, s, "conn-a2")
	say(s, a2, clientMessage{Type: "client:game#join", Room: roomID, FirstID: "conn-a"})

	joined := recvMessage(t, a2)
	require.IsType(t, gamePlayerMessage{}, joined)
	assert.Equal(t, "server:game#join", joined.(gamePlayerMessage).Type)
	assert.Equal(t, s.ids.Shorten("conn-a"), joined.(gamePlayerMessage).Player.ID)
	assert.True(t, joined.(gamePlayerMessage).Player.Online)

	msg := recvMessage(t, a2)
	require.IsType(t, gameJoinAck{}, msg)
	ack := msg.(gameJoinAck)
	assert.Equal(t, s.ids.Shorten("conn-a"), ack.Me)
	require.NotNil(t, ack.Scheme)
	assert.Equal(t, 4, ack.Scheme.PlayerLimit)

	// Readiness in the game is keyed on the live connection.
	say(s, a2, clientMessage{Type: "client:game#ready"})
	readyMsg := recvMessage(t, a2)
	require.IsType(t, playerMessage{}, readyMsg)
	assert.Equal(t, "server:game#ready", readyMsg.(playerMessage).Type)
	assert.Equal(t, s.ids.Shorten("conn-a"), readyMsg.(playerMessage).ID)
}

func TestGameJoinWithUnknownIdentityFails(t *testing.T) {
	s := newSocketServer(t)
	ctx := context.Background()

	roomID, err := s.JoinID(ctx)
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})
	ready := true
	say(s, a, clientMessage{Type: "client:room#ready", Ready: &ready})
	say(s, a, clientMessage{Type: "client:room#start"})

	intruder := dial(t, s, "conn-x")
	say(s, intruder, clientMessage{Type: "client:game#join", Room: roomID, FirstID: "stranger"})

	msg := recvMessage(t, intruder)
	require.IsType(t, gameJoinAck{}, msg)
	ack := msg.(gameJoinAck)
	assert.NotEmpty(t, ack.Error)
	assert.Nil(t, ack.Scheme)
}

func TestDisconnectHidesGamePlayer(t *testing.T) {
	s := newSocketServer(t)
	ctx := context.Background()

	roomID, err := s.JoinID(ctx)
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: roomID})
	b := dial(t, s, "conn-b")
	say(s, b, clientMessage{Type: "client:room#join", Room: roomID})
	ready := true
	say(s, a, clientMessage{Type: "client:room#ready", Ready: &ready})
	say(s, b, clientMessage{Type: "client:room#ready", Ready: &ready})
	say(s, a, clientMessage{Type: "client:room#start"})

	a2 := dial(t, s, "conn-a2")
	say(s, a2, clientMessage{Type: "client:game#join", Room: roomID, FirstID: "conn-a"})
	b2 := dial(t, s, "conn-b2")
	say(s, b2, clientMessage{Type: "client:game#join", Room: roomID, FirstID: "conn-b"})

	drain := func(c *client) {
		settle(t, s)
		for {
			select {
			case <-c.send:
			default:
				return
			}
		}
	}
	drain(a2)
	drain(b2)

	s.unregister <- a2
	settle(t, s)

	hidden := recvMessage(t, b2)
	require.IsType(t, playerMessage{}, hidden)
	assert.Equal(t, "server:game#hidden", hidden.(playerMessage).Type)
	assert.Equal(t, s.ids.Shorten("conn-a"), hidden.(playerMessage).ID)

	// Membership survives going offline; the player can rejoin later.
	assert.True(t, s.GameHasPlayer(ctx, roomID, "conn-a"))
}

func TestSwitchingRoomsLeavesTheOldOne(t *testing.T) {
	s := newSocketServer(t)
	ctx := context.Background()

	first, err := s.JoinID(ctx)
	require.NoError(t, err)

	a := dial(t, s, "conn-a")
	say(s, a, clientMessage{Type: "client:room#join", Room: first})

	// Fill the first lobby so JoinID has to mint a second one.
	others := make([]*client, 0, 3)
	for _, id := range []string{"conn-b", "conn-c", "conn-d"} {
		c := dial(t, s, id)
		say(s, c, clientMessage{Type: "client:room#join", Room: first})
		others = append(others, c)
	}

	second, err := s.JoinID(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	say(s, a, clientMessage{Type: "client:room#join", Room: second})
	settle(t, s)

	// The old room regained a seat and the transfer announced a new host.
	assert.True(t, s.CanJoin(ctx, first))

	players := s.RoomPlayers(ctx, first)
	require.Len(t, players, 3)
	assert.Equal(t, s.ids.Shorten("conn-b"), players[0].ID)

	_ = others
}

func TestDroppedConnectionIsInert(t *testing.T) {
	s := newSocketServer(t)
	ctx := context.Background()

	roomID, err := s.JoinID(ctx)
	require.NoError(t, err)

	// An unbuffered send channel overflows on the session hello, so the
	// connection is dropped the moment it registers.
	c := &client{send: make(chan any), id: "conn-slow"}
	s.register <- c
	settle(t, s)

	_, open := <-c.send
	require.False(t, open, "expected the send channel to be closed")

	// Its reader may still have had a message in flight when the drop
	// happened. Handling it must neither seat the ghost in a room nor
	// write to the closed channel.
	say(s, c, clientMessage{Type: "client:room#join", Room: roomID})
	settle(t, s)

	assert.Empty(t, s.RoomPlayers(ctx, roomID))
	assert.True(t, s.CanJoin(ctx, roomID))
}

func TestRequestsHonourContext(t *testing.T) {
	words, err := defaultWords()
	require.NoError(t, err)

	ids, err := newAllocator(words, 3)
	require.NoError(t, err)

	// No run loop: every bridge must bail out on its context instead of
	// blocking forever.
	s := newServer(&Config{}, ids, testScheme(4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.JoinID(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, s.CanJoin(ctx, "any"))
	assert.Nil(t, s.RoomPlayers(ctx, "any"))
	assert.False(t, s.GameHasPlayer(ctx, "any", "any"))
}
