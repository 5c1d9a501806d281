package data

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// CreateMessage inserts a message document and returns the saved record.
// replyTo may be the zero ObjectID when the message is not a reply.
func (m *MessagesStore) CreateMessage(ctx context.Context, chatID, sender bson.ObjectID, content, messageType string, replyTo bson.ObjectID) (*Message, error) {
	if messageType == "" {
		messageType = MessageTypeText
	}

	msg := &Message{
		ChatID:      chatID,
		Sender:      sender,
		Content:     strings.TrimSpace(content),
		MessageType: messageType,
		ReplyTo:     replyTo,
		ReadBy:      []ReadReceipt{},
		CreatedAt:   time.Now(),
	}

	result, err := m.coll.InsertOne(ctx, msg)
	if err != nil {
		return nil, err
	}
	msg.ID = result.InsertedID.(bson.ObjectID)
	return msg, nil
}

// GetMessageByID finds a message regardless of deletion state.
func (m *MessagesStore) GetMessageByID(ctx context.Context, id bson.ObjectID) (*Message, error) {
	var msg Message
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// GetChatMessage finds a non-deleted message belonging to the given chat.
// Used to resolve reply references within the same chat only.
func (m *MessagesStore) GetChatMessage(ctx context.Context, chatID, id bson.ObjectID) (*Message, error) {
	var msg Message
	filter := bson.M{"_id": id, "chat_id": chatID, "is_deleted": false}
	err := m.coll.FindOne(ctx, filter).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// ListChatMessages returns non-deleted messages for a chat in chronological
// order (oldest first), honoring limit/skip pagination counted from the most
// recent message backwards.
func (m *MessagesStore) ListChatMessages(ctx context.Context, chatID bson.ObjectID, limit, skip int64) ([]*Message, error) {
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetLimit(limit).
		SetSkip(skip)

	cursor, err := m.coll.Find(ctx, bson.M{"chat_id": chatID, "is_deleted": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}

	// Query returned newest first; clients expect oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead appends a read receipt for the user to every unread message in the
// chat authored by someone else, or to the given subset when messageIDs is
// non-empty. Idempotent per (message, user): the filter excludes messages the
// user already read, and the per-document $push is atomic. Returns the IDs of
// the messages that were actually marked.
func (m *MessagesStore) MarkRead(ctx context.Context, chatID, userID bson.ObjectID, messageIDs []bson.ObjectID) ([]bson.ObjectID, error) {
	filter := bson.M{
		"chat_id":      chatID,
		"sender":       bson.M{"$ne": userID},
		"is_deleted":   false,
		"read_by.user": bson.M{"$ne": userID},
	}
	if len(messageIDs) > 0 {
		filter["_id"] = bson.M{"$in": messageIDs}
	}

	// Collect the affected IDs first so callers can broadcast exactly what
	// changed; the update below re-applies the same guard so a concurrent
	// marker cannot double-append.
	cursor, err := m.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID bson.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]bson.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}

	receipt := ReadReceipt{User: userID, ReadAt: time.Now()}
	updateFilter := bson.M{
		"_id":          bson.M{"$in": ids},
		"read_by.user": bson.M{"$ne": userID},
	}
	if _, err := m.coll.UpdateMany(ctx, updateFilter, bson.M{"$push": bson.M{"read_by": receipt}}); err != nil {
		return nil, err
	}
	return ids, nil
}

// SearchMessages returns non-deleted messages in the chat whose content
// contains the term, case-insensitively, newest first.
func (m *MessagesStore) SearchMessages(ctx context.Context, chatID bson.ObjectID, term string, limit int64) ([]*Message, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}

	filter := bson.M{
		"chat_id":    chatID,
		"is_deleted": false,
		"content":    bson.M{"$regex": regexp.QuoteMeta(term), "$options": "i"},
	}
	opts := options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(limit)

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// CountUnread returns how many non-deleted messages from the other
// participant the user has not read yet.
func (m *MessagesStore) CountUnread(ctx context.Context, chatID, userID bson.ObjectID) (int64, error) {
	return m.coll.CountDocuments(ctx, bson.M{
		"chat_id":      chatID,
		"sender":       bson.M{"$ne": userID},
		"is_deleted":   false,
		"read_by.user": bson.M{"$ne": userID},
	})
}

// EditMessage replaces the content and stamps edited_at.
func (m *MessagesStore) EditMessage(ctx context.Context, id bson.ObjectID, newContent string) (time.Time, error) {
	editedAt := time.Now()
	result, err := m.coll.UpdateOne(ctx, bson.M{"_id": id, "is_deleted": false}, bson.M{"$set": bson.M{
		"content":   strings.TrimSpace(newContent),
		"edited_at": editedAt,
	}})
	if err != nil {
		return time.Time{}, err
	}
	if result.MatchedCount == 0 {
		return time.Time{}, ErrNotFound
	}
	return editedAt, nil
}

// SoftDelete flags the message as deleted while retaining the document.
func (m *MessagesStore) SoftDelete(ctx context.Context, id bson.ObjectID) (time.Time, error) {
	deletedAt := time.Now()
	result, err := m.coll.UpdateOne(ctx, bson.M{"_id": id, "is_deleted": false}, bson.M{"$set": bson.M{
		"is_deleted": true,
		"deleted_at": deletedAt,
	}})
	if err != nil {
		return time.Time{}, err
	}
	if result.MatchedCount == 0 {
		return time.Time{}, ErrNotFound
	}
	return deletedAt, nil
}

// LatestVisibleMessage returns the most recent non-deleted message in the
// chat, or ErrNotFound when the chat has none left.
func (m *MessagesStore) LatestVisibleMessage(ctx context.Context, chatID bson.ObjectID) (*Message, error) {
	var msg Message
	opts := options.FindOne().SetSort(bson.M{"created_at": -1})
	err := m.coll.FindOne(ctx, bson.M{"chat_id": chatID, "is_deleted": false}, opts).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &msg, nil
}
