package realtime

import (
	"io"
	"testing"

	"github.com/rs/zerolog"
)

func discardLogger() zerolog.Logger { return zerolog.New(io.Discard) }

func TestItoa(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{42, "42"},
		{-7, "-7"},
		{1234567890123, "1234567890123"},
	}
	for _, tc := range tests {
		if got := itoa(tc.n); got != tc.want {
			t.Fatalf("itoa(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestConversationRoomAndBack(t *testing.T) {
	room := ConversationRoom(123)
	if room != "conversation:123" {
		t.Fatalf("got room %q, want %q", room, "conversation:123")
	}

	id, ok := conversationIDFromRoom(room)
	if !ok || id != 123 {
		t.Fatalf("conversationIDFromRoom(%q) = (%d, %v), want (123, true)", room, id, ok)
	}
}

func TestConversationIDFromRoomRejectsOtherRooms(t *testing.T) {
	tests := []string{
		"user:123",
		"conversation:",
		"conversation:abc",
		"conversation",
		"",
	}
	for _, room := range tests {
		if _, ok := conversationIDFromRoom(room); ok {
			t.Fatalf("conversationIDFromRoom(%q) unexpectedly succeeded", room)
		}
	}
}

// newConn registers a bare connection directly in the registry's indexes,
// bypassing Register (which talks to the database and kv store).
func newConn(r *Registry, connID string, userID int64) chan Event {
	send := make(chan Event, 4)
	c := &Conn{ID: connID, UserID: userID, send: send, rooms: make(map[string]struct{})}
	r.conns[connID] = c
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
	return send
}

func newTestRegistry() *Registry {
	return NewRegistry(nil, nil, discardLogger())
}

func TestJoinLeaveAndRoomsOf(t *testing.T) {
	r := newTestRegistry()
	newConn(r, "conn-1", 1)

	room := ConversationRoom(5)
	r.Join("conn-1", room)

	rooms := r.RoomsOf("conn-1")
	if len(rooms) != 1 || rooms[0] != room {
		t.Fatalf("got rooms %v, want [%s]", rooms, room)
	}

	r.Leave("conn-1", room)
	if rooms := r.RoomsOf("conn-1"); len(rooms) != 0 {
		t.Fatalf("expected no rooms after Leave, got %v", rooms)
	}
}

func TestBroadcastDeliversToRoomMembers(t *testing.T) {
	r := newTestRegistry()
	send1 := newConn(r, "conn-1", 1)
	send2 := newConn(r, "conn-2", 2)

	room := ConversationRoom(9)
	r.Join("conn-1", room)
	r.Join("conn-2", room)

	ev := NewEvent("test:event", map[string]string{"hello": "world"})
	r.Broadcast(room, ev)

	select {
	case got := <-send1:
		if got.Event != "test:event" {
			t.Fatalf("conn-1 got wrong event: %+v", got)
		}
	default:
		t.Fatal("expected conn-1 to receive the broadcast event")
	}
	select {
	case got := <-send2:
		if got.Event != "test:event" {
			t.Fatalf("conn-2 got wrong event: %+v", got)
		}
	default:
		t.Fatal("expected conn-2 to receive the broadcast event")
	}
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	r := newTestRegistry()
	send1 := newConn(r, "conn-1", 1)
	send2 := newConn(r, "conn-2", 2)

	room := ConversationRoom(9)
	r.Join("conn-1", room)
	r.Join("conn-2", room)

	r.broadcastExcept(room, "conn-1", NewEvent("typing:start", nil))

	select {
	case <-send1:
		t.Fatal("expected sender to be skipped")
	default:
	}
	select {
	case <-send2:
	default:
		t.Fatal("expected the other member to receive the event")
	}
}

func TestSendToFullBufferDropsSilently(t *testing.T) {
	r := newTestRegistry()
	send := make(chan Event) // unbuffered: any send without a receiver will not succeed
	c := &Conn{ID: "conn-1", UserID: 1, send: send, rooms: make(map[string]struct{})}
	r.conns["conn-1"] = c

	// Must not block or panic even though nothing ever drains the channel.
	r.SendTo("conn-1", NewEvent("test:event", nil))
}

func TestSendToUnknownConnectionIsNoop(t *testing.T) {
	r := newTestRegistry()
	r.SendTo("does-not-exist", NewEvent("test:event", nil)) // must not panic
}

func TestConnectionsOfAndIsOnline(t *testing.T) {
	r := newTestRegistry()
	if r.IsOnline(1) {
		t.Fatal("expected user with no connections to be offline")
	}

	newConn(r, "conn-1", 1)
	newConn(r, "conn-2", 1)

	if !r.IsOnline(1) {
		t.Fatal("expected user with a connection to be online")
	}
	conns := r.ConnectionsOf(1)
	if len(conns) != 2 {
		t.Fatalf("got %d connections, want 2", len(conns))
	}
}

func TestBroadcastToUser(t *testing.T) {
	r := newTestRegistry()
	send1 := newConn(r, "conn-1", 1)
	send2 := newConn(r, "conn-2", 1)

	r.BroadcastToUser(1, NewEvent("user:event", nil))

	for _, ch := range []chan Event{send1, send2} {
		select {
		case <-ch:
		default:
			t.Fatal("expected every connection of the user to receive the event")
		}
	}
}
