package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Broadcaster pushes presence transitions to the users who care: everyone
// who shares a chat with the affected user. Announcements fire only on the
// offline->online and online->offline edges, never per connection.
type Broadcaster struct {
	store    Store
	registry *Registry
	rooms    *Rooms
	log      *zap.SugaredLogger
}

// NewBroadcaster wires the presence broadcaster.
func NewBroadcaster(store Store, registry *Registry, rooms *Rooms, log *zap.SugaredLogger) *Broadcaster {
	return &Broadcaster{store: store, registry: registry, rooms: rooms, log: log}
}

// AnnounceOnline tells the user's online contacts that the user came online.
func (b *Broadcaster) AnnounceOnline(ctx context.Context, userID string) {
	b.announce(ctx, userID, true)
}

// AnnounceOffline tells the user's online contacts that the user went offline.
func (b *Broadcaster) AnnounceOffline(ctx context.Context, userID string) {
	b.announce(ctx, userID, false)
}

func (b *Broadcaster) announce(ctx context.Context, userID string, online bool) {
	contacts, err := b.store.UserContacts(ctx, userID)
	if err != nil {
		b.log.Errorw("presence: contact lookup failed", "user", userID, "online", online, "err", err)
		return
	}

	ev := Event{Type: EventUserStatusChanged, Payload: map[string]any{
		"userId":    userID,
		"isOnline":  online,
		"timestamp": time.Now().UTC(),
	}}
	for _, contact := range contacts {
		// Offline contacts have no sessions in their room; skip the lookup
		// entirely when the registry says nobody is listening.
		if !b.registry.IsOnline(contact) {
			continue
		}
		b.rooms.Broadcast(UserRoom(contact), ev, nil)
	}
}
