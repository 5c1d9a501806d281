package realtime

import (
	"context"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

func TestPresenceAnnouncesToOnlineContactsOnly(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry()
	rooms := NewRooms()
	b := NewBroadcaster(store, registry, rooms, zap.NewNop().Sugar())

	aliceID := bson.NewObjectID().Hex()
	bobID := bson.NewObjectID().Hex()
	carolID := bson.NewObjectID().Hex()
	store.contacts[aliceID] = []string{bobID, carolID}

	// bob is connected, carol is not
	bob := newFakeHandle(1, bobID, "bob")
	registry.Register(bob)
	rooms.Join(UserRoom(bobID), bob)
	carol := newFakeHandle(2, carolID, "carol")

	b.AnnounceOnline(context.Background(), aliceID)

	ev := bob.lastEvent(t)
	if ev.Type != EventUserStatusChanged {
		t.Fatalf("expected user_status_changed, got %q", ev.Type)
	}
	p := ev.Payload.(map[string]any)
	if p["userId"] != aliceID || p["isOnline"] != true {
		t.Fatalf("unexpected presence payload %v", p)
	}
	if got := len(carol.delivered()); got != 0 {
		t.Fatalf("offline contact received %d events", got)
	}

	b.AnnounceOffline(context.Background(), aliceID)
	p = bob.lastEvent(t).Payload.(map[string]any)
	if p["isOnline"] != false {
		t.Fatalf("expected offline announcement, got %v", p)
	}
}

func TestPresenceSkipsStrangers(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry()
	rooms := NewRooms()
	b := NewBroadcaster(store, registry, rooms, zap.NewNop().Sugar())

	aliceID := bson.NewObjectID().Hex()
	strangerID := bson.NewObjectID().Hex()

	// the stranger is online but shares no chat with alice
	stranger := newFakeHandle(1, strangerID, "stranger")
	registry.Register(stranger)
	rooms.Join(UserRoom(strangerID), stranger)

	b.AnnounceOnline(context.Background(), aliceID)

	if got := len(stranger.delivered()); got != 0 {
		t.Fatalf("non-contact received %d presence events", got)
	}
}
