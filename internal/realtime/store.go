package realtime

import (
	"context"
	"time"

	"github.com/duochat/duochat/internal/data"
)

// Store is the persistence surface the realtime layer depends on. IDs cross
// this boundary as hex strings. Implemented by data.Stores in production and
// by fakes in tests.
type Store interface {
	SessionUser(ctx context.Context, userID string) (*data.User, error)
	IsParticipant(ctx context.Context, chatID, userID string) (bool, error)
	CreateMessage(ctx context.Context, chatID, senderID, content, messageType, replyTo string) (*data.Message, error)
	ChatMessage(ctx context.Context, chatID, messageID string) (*data.Message, error)
	UpdateChatLastMessage(ctx context.Context, chatID string, lm data.LastMessage) error
	MarkMessagesRead(ctx context.Context, chatID, userID string, messageIDs []string) ([]string, error)
	UserContacts(ctx context.Context, userID string) ([]string, error)
	UserLastActive(ctx context.Context, userID string) (time.Time, error)
	SetUserOnline(ctx context.Context, userID string, online bool) error
	ResolveUserID(ctx context.Context, idOrCode string) (string, error)
}
