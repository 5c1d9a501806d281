package realtime

import "testing"

func TestRoomsBroadcastAndExclude(t *testing.T) {
	rooms := NewRooms()

	alice := newFakeHandle(1, "alice", "alice")
	bob := newFakeHandle(2, "bob", "bob")
	outsider := newFakeHandle(3, "carol", "carol")

	room := ChatRoom("c1")
	rooms.Join(room, alice)
	rooms.Join(room, bob)

	ev := Event{Type: EventUserTyping}
	rooms.Broadcast(room, ev, alice)

	if got := len(alice.delivered()); got != 0 {
		t.Fatalf("excluded sender received %d events", got)
	}
	if got := len(bob.delivered()); got != 1 {
		t.Fatalf("expected 1 event for bob, got %d", got)
	}
	if got := len(outsider.delivered()); got != 0 {
		t.Fatalf("non-member received %d events", got)
	}
}

func TestRoomsLifecycle(t *testing.T) {
	rooms := NewRooms()
	alice := newFakeHandle(1, "alice", "alice")

	room := ChatRoom("c1")
	rooms.Join(room, alice)
	rooms.Join(room, alice) // idempotent
	if got := rooms.MemberCount(room); got != 1 {
		t.Fatalf("expected 1 member after duplicate join, got %d", got)
	}

	rooms.Leave(room, alice)
	if got := rooms.MemberCount(room); got != 0 {
		t.Fatalf("expected empty room, got %d members", got)
	}

	// broadcasting to a room that no longer exists is a no-op
	rooms.Broadcast(room, Event{Type: EventNewMessage}, nil)
	if got := len(alice.delivered()); got != 0 {
		t.Fatalf("handle received %d events after leaving", got)
	}

	// leaving again is harmless
	rooms.Leave(room, alice)
}

func TestRoomsLeaveAll(t *testing.T) {
	rooms := NewRooms()
	alice := newFakeHandle(1, "alice", "alice")
	bob := newFakeHandle(2, "bob", "bob")

	rooms.Join(ChatRoom("c1"), alice)
	rooms.Join(UserRoom("alice"), alice)
	rooms.Join(ChatRoom("c1"), bob)

	rooms.LeaveAll(alice)

	if got := rooms.MemberCount(ChatRoom("c1")); got != 1 {
		t.Fatalf("expected bob alone in the chat room, got %d members", got)
	}
	if got := rooms.MemberCount(UserRoom("alice")); got != 0 {
		t.Fatalf("expected alice's user room to be gone, got %d members", got)
	}
}
