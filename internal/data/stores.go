package data

import (
	"context"
	"time"

	"github.com/duochat/duochat/internal/normalize"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// Stores bundles the three collection stores behind the string-keyed
// operations the realtime layer consumes. IDs cross this boundary as hex
// strings; anything that fails to parse maps to ErrNotFound rather than a
// distinct error, since a malformed ID can never match a document anyway.
type Stores struct {
	Users    *UsersStore
	Chats    *ChatsStore
	Messages *MessagesStore
}

// NewStores returns the combined store facade.
func NewStores(users *UsersStore, chats *ChatsStore, messages *MessagesStore) *Stores {
	return &Stores{Users: users, Chats: chats, Messages: messages}
}

func parseID(hexID string) (bson.ObjectID, error) {
	id, err := bson.ObjectIDFromHex(hexID)
	if err != nil {
		return bson.ObjectID{}, ErrNotFound
	}
	return id, nil
}

// SessionUser loads the user a realtime session authenticates as.
func (s *Stores) SessionUser(ctx context.Context, userID string) (*User, error) {
	id, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	return s.Users.GetUserByID(ctx, id)
}

// IsParticipant reports whether the user belongs to the chat.
func (s *Stores) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	cid, err := parseID(chatID)
	if err != nil {
		return false, nil
	}
	uid, err := parseID(userID)
	if err != nil {
		return false, nil
	}
	return s.Chats.IsParticipant(ctx, cid, uid)
}

// ChatParticipants returns the chat's member IDs as hex strings.
func (s *Stores) ChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	cid, err := parseID(chatID)
	if err != nil {
		return nil, err
	}
	chat, err := s.Chats.GetChatByID(ctx, cid)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(chat.Participants))
	for _, p := range chat.Participants {
		out = append(out, p.Hex())
	}
	return out, nil
}

// CreateMessage persists a new message. replyTo is optional; an empty string
// means no reply link.
func (s *Stores) CreateMessage(ctx context.Context, chatID, senderID, content, messageType, replyTo string) (*Message, error) {
	cid, err := parseID(chatID)
	if err != nil {
		return nil, err
	}
	uid, err := parseID(senderID)
	if err != nil {
		return nil, err
	}
	var replyID bson.ObjectID
	if replyTo != "" {
		if replyID, err = parseID(replyTo); err != nil {
			return nil, err
		}
	}
	return s.Messages.CreateMessage(ctx, cid, uid, content, messageType, replyID)
}

// ChatMessage resolves a non-deleted message within the chat, or ErrNotFound.
func (s *Stores) ChatMessage(ctx context.Context, chatID, messageID string) (*Message, error) {
	cid, err := parseID(chatID)
	if err != nil {
		return nil, err
	}
	mid, err := parseID(messageID)
	if err != nil {
		return nil, err
	}
	return s.Messages.GetChatMessage(ctx, cid, mid)
}

// UpdateChatLastMessage rewrites the chat's cached latest-message summary.
func (s *Stores) UpdateChatLastMessage(ctx context.Context, chatID string, lm LastMessage) error {
	cid, err := parseID(chatID)
	if err != nil {
		return err
	}
	return s.Chats.UpdateLastMessage(ctx, cid, lm)
}

// MarkMessagesRead marks unread messages read by the user and returns the
// affected message IDs as hex strings.
func (s *Stores) MarkMessagesRead(ctx context.Context, chatID, userID string, messageIDs []string) ([]string, error) {
	cid, err := parseID(chatID)
	if err != nil {
		return nil, err
	}
	uid, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	var ids []bson.ObjectID
	for _, raw := range messageIDs {
		id, err := parseID(raw)
		if err != nil {
			continue // unknown IDs simply match nothing
		}
		ids = append(ids, id)
	}

	marked, err := s.Messages.MarkRead(ctx, cid, uid, ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(marked))
	for _, id := range marked {
		out = append(out, id.Hex())
	}
	return out, nil
}

// UserContacts returns the distinct other participants of the user's chats.
func (s *Stores) UserContacts(ctx context.Context, userID string) ([]string, error) {
	uid, err := parseID(userID)
	if err != nil {
		return nil, err
	}
	contacts, err := s.Chats.FindUserContacts(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		out = append(out, c.Hex())
	}
	return out, nil
}

// UserLastActive returns the user's last-active timestamp.
func (s *Stores) UserLastActive(ctx context.Context, userID string) (time.Time, error) {
	uid, err := parseID(userID)
	if err != nil {
		return time.Time{}, err
	}
	user, err := s.Users.GetUserByID(ctx, uid)
	if err != nil {
		return time.Time{}, err
	}
	return user.LastActive, nil
}

// SetUserOnline flips the durable online flag.
func (s *Stores) SetUserOnline(ctx context.Context, userID string, online bool) error {
	uid, err := parseID(userID)
	if err != nil {
		return err
	}
	return s.Users.SetOnline(ctx, uid, online)
}

// ResolveUserID maps either a durable hex ID or an 8-char short code to the
// durable hex ID. The short code is purely a lookup alias; internal state is
// keyed by the durable ID only.
func (s *Stores) ResolveUserID(ctx context.Context, idOrCode string) (string, error) {
	if id, err := bson.ObjectIDFromHex(idOrCode); err == nil {
		return id.Hex(), nil
	}
	user, err := s.Users.GetUserByCode(ctx, normalize.UserCode(idOrCode))
	if err != nil {
		return "", err
	}
	return user.ID.Hex(), nil
}
