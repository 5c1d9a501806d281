package data

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ChatsStore performs chat DB operations.
type ChatsStore struct {
	coll *mongo.Collection
}

// NewChatsStore returns a ChatsStore using the provided collection.
func NewChatsStore(coll *mongo.Collection) *ChatsStore {
	return &ChatsStore{coll: coll}
}

// GetChatByID finds a chat by ObjectID.
func (c *ChatsStore) GetChatByID(ctx context.Context, id bson.ObjectID) (*Chat, error) {
	var chat Chat
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// FindChatBetween returns the active chat shared by the two users, or
// ErrNotFound.
func (c *ChatsStore) FindChatBetween(ctx context.Context, a, b bson.ObjectID) (*Chat, error) {
	var chat Chat
	filter := bson.M{
		"participants": bson.M{"$all": bson.A{a, b}},
		"is_active":    true,
	}
	err := c.coll.FindOne(ctx, filter).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &chat, nil
}

// CreateOrGetChat returns the existing chat between the two users, creating
// one if none exists. Membership is fixed at exactly these two users.
func (c *ChatsStore) CreateOrGetChat(ctx context.Context, a, b bson.ObjectID) (*Chat, error) {
	if a == b {
		return nil, errors.New("chat participants must be distinct")
	}

	chat, err := c.FindChatBetween(ctx, a, b)
	if err == nil {
		return chat, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	chat = &Chat{
		Participants: []bson.ObjectID{a, b},
		LastMessage:  LastMessage{MessageType: MessageTypeText, Timestamp: now},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	result, err := c.coll.InsertOne(ctx, chat)
	if err != nil {
		return nil, err
	}
	chat.ID = result.InsertedID.(bson.ObjectID)
	return chat, nil
}

// ListUserChats returns the user's active chats, most recently updated first.
func (c *ChatsStore) ListUserChats(ctx context.Context, userID bson.ObjectID, limit, skip int64) ([]*Chat, error) {
	filter := bson.M{"participants": userID, "is_active": true}
	opts := options.Find().
		SetSort(bson.M{"updated_at": -1}).
		SetLimit(limit).
		SetSkip(skip)

	cursor, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chats []*Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// IsParticipant reports whether the user belongs to the chat.
func (c *ChatsStore) IsParticipant(ctx context.Context, chatID, userID bson.ObjectID) (bool, error) {
	count, err := c.coll.CountDocuments(ctx, bson.M{
		"_id":          chatID,
		"participants": userID,
		"is_active":    true,
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateLastMessage rewrites the chat's cached latest-message summary.
func (c *ChatsStore) UpdateLastMessage(ctx context.Context, chatID bson.ObjectID, lm LastMessage) error {
	_, err := c.coll.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{"$set": bson.M{
		"last_message": lm,
		"updated_at":   time.Now(),
	}})
	return err
}

// FindUserContacts returns the distinct other participants across all of the
// user's active chats.
func (c *ChatsStore) FindUserContacts(ctx context.Context, userID bson.ObjectID) ([]bson.ObjectID, error) {
	filter := bson.M{"participants": userID, "is_active": true}

	cursor, err := c.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var chats []*Chat
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, err
	}

	seen := make(map[bson.ObjectID]struct{})
	var contacts []bson.ObjectID
	for _, chat := range chats {
		for _, p := range chat.Participants {
			if p == userID {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			contacts = append(contacts, p)
		}
	}
	return contacts, nil
}
