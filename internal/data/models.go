// Package data provides DB models and stores.
package data

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrNotFound is returned by store lookups when no matching document exists.
var ErrNotFound = errors.New("not found")

// Message type tags. Attachments are stored as references only; upload
// handling lives outside this service.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// User maps to the users collection. UserCode is the 8-char short code other
// users search by; the durable identity is always the ObjectID.
type User struct {
	ID           bson.ObjectID `bson:"_id,omitempty" json:"id"`
	UserCode     string        `bson:"user_code" json:"userCode"`
	Username     string        `bson:"username" json:"username"`
	Email        string        `bson:"email" json:"email"`
	PasswordHash string        `bson:"password_hash" json:"-"`
	IsOnline     bool          `bson:"is_online" json:"isOnline"`
	LastActive   time.Time     `bson:"last_active" json:"lastActive"`
	CreatedAt    time.Time     `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updatedAt"`
}

// LastMessage is the chat's cached copy of its most recent message,
// denormalized for cheap list views.
type LastMessage struct {
	Content     string        `bson:"content" json:"content"`
	Sender      bson.ObjectID `bson:"sender,omitempty" json:"sender,omitempty"`
	Timestamp   time.Time     `bson:"timestamp" json:"timestamp"`
	MessageType string        `bson:"message_type" json:"messageType"`
}

// Chat maps to the chats collection. Membership is exactly two distinct users
// and never changes after creation.
type Chat struct {
	ID           bson.ObjectID   `bson:"_id,omitempty" json:"id"`
	Participants []bson.ObjectID `bson:"participants" json:"participants"`
	LastMessage  LastMessage     `bson:"last_message" json:"lastMessage"`
	IsActive     bool            `bson:"is_active" json:"isActive"`
	CreatedAt    time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt    time.Time       `bson:"updated_at" json:"updatedAt"`
}

// ReadReceipt records one user having read a message.
type ReadReceipt struct {
	User   bson.ObjectID `bson:"user" json:"user"`
	ReadAt time.Time     `bson:"read_at" json:"readAt"`
}

// Message maps to the messages collection. Deleted messages keep their
// document (soft delete) so reply references stay resolvable.
type Message struct {
	ID          bson.ObjectID `bson:"_id,omitempty" json:"id"`
	ChatID      bson.ObjectID `bson:"chat_id" json:"chatId"`
	Sender      bson.ObjectID `bson:"sender" json:"sender"`
	Content     string        `bson:"content" json:"content"`
	MessageType string        `bson:"message_type" json:"messageType"`
	ReplyTo     bson.ObjectID `bson:"reply_to,omitempty" json:"replyTo,omitempty"`
	ReadBy      []ReadReceipt `bson:"read_by" json:"readBy"`
	EditedAt    *time.Time    `bson:"edited_at,omitempty" json:"editedAt,omitempty"`
	IsDeleted   bool          `bson:"is_deleted" json:"isDeleted"`
	DeletedAt   *time.Time    `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
	CreatedAt   time.Time     `bson:"created_at" json:"createdAt"`
}

// IsReadBy reports whether the given user appears in the read list.
func (m *Message) IsReadBy(userID bson.ObjectID) bool {
	for _, r := range m.ReadBy {
		if r.User == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the chat member that is not the given user.
func (c *Chat) OtherParticipant(userID bson.ObjectID) (bson.ObjectID, bool) {
	for _, p := range c.Participants {
		if p != userID {
			return p, true
		}
	}
	return bson.ObjectID{}, false
}

// HasParticipant reports whether the user is one of the chat's two members.
func (c *Chat) HasParticipant(userID bson.ObjectID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
