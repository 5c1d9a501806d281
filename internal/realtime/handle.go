package realtime

// Handle is one live connection as seen by the registry, the rooms and the
// coordinator. A user may hold several handles at once (one per device).
type Handle interface {
	// ConnID is unique among live connections for the process lifetime.
	ConnID() int64
	UserID() string
	Username() string
	UserCode() string

	// CurrentChat is the chat this connection most recently joined, or ""
	// when it sits outside any conversation view.
	CurrentChat() string
	SetCurrentChat(chatID string)

	// Deliver queues an event for the connection. It never blocks; events
	// for a closed or backed-up connection are dropped.
	Deliver(ev Event)
}

// ChatRoom names the fan-out group for a conversation.
func ChatRoom(chatID string) string { return "chat_" + chatID }

// UserRoom names the per-user group every session of a user joins at
// connect time. Presence updates are addressed to these.
func UserRoom(userID string) string { return "user_" + userID }
