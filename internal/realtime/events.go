package realtime

import (
	"encoding/json"
	"time"

	"github.com/duochat/duochat/internal/data"
)

// Inbound event types (client -> server).
const (
	EventJoinChat         = "join_chat"
	EventLeaveChat        = "leave_chat"
	EventTypingStart      = "typing_start"
	EventTypingStop       = "typing_stop"
	EventSendMessage      = "send_message"
	EventMarkMessagesRead = "mark_messages_read"
	EventGetUserStatus    = "get_user_status"
)

// Outbound event types (server -> client).
const (
	EventChatJoined        = "chat_joined"
	EventChatLeft          = "chat_left"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventNewMessage        = "new_message"
	EventMessageSent       = "message_sent"
	EventMessagesRead      = "messages_read"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventUserStatuses      = "user_statuses"
	EventUserStatusChanged = "user_status_changed"
	EventError             = "error"
)

// Event is the wire envelope for every frame in both directions.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// rawEvent is the inbound form of Event; the payload stays raw until the
// type-specific handler decodes it.
type rawEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound payloads.

type chatPayload struct {
	ChatID string `json:"chatId"`
}

type sendMessagePayload struct {
	ChatID      string `json:"chatId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
	ReplyToID   string `json:"replyToId,omitempty"`
}

type markReadPayload struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

type userStatusPayload struct {
	UserIDs []string `json:"userIds"`
}

// Outbound payloads.

// MessageSender identifies a message author on the wire.
type MessageSender struct {
	ID       string `json:"id"`
	UserCode string `json:"userCode"`
	Username string `json:"username"`
}

// ReplyRef is the populated reply-to reference embedded in a message.
type ReplyRef struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReadMark records one reader of a message on the wire.
type ReadMark struct {
	User   string    `json:"user"`
	ReadAt time.Time `json:"readAt"`
}

// MessagePayload is the fully populated wire form of a message.
type MessagePayload struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chatId"`
	Sender      MessageSender `json:"sender"`
	Content     string        `json:"content"`
	MessageType string        `json:"messageType"`
	ReplyTo     *ReplyRef     `json:"replyTo,omitempty"`
	ReadBy      []ReadMark    `json:"readBy"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// UserStatus is one entry of a user_statuses reply.
type UserStatus struct {
	IsOnline   bool       `json:"isOnline"`
	LastActive *time.Time `json:"lastActive"`
}

// messagePayload builds the wire form of a persisted message. reply may be
// nil when the message carries no reply link.
func messagePayload(msg *data.Message, sender MessageSender, reply *data.Message) MessagePayload {
	p := MessagePayload{
		ID:          msg.ID.Hex(),
		ChatID:      msg.ChatID.Hex(),
		Sender:      sender,
		Content:     msg.Content,
		MessageType: msg.MessageType,
		ReadBy:      make([]ReadMark, 0, len(msg.ReadBy)),
		EditedAt:    msg.EditedAt,
		CreatedAt:   msg.CreatedAt,
	}
	for _, r := range msg.ReadBy {
		p.ReadBy = append(p.ReadBy, ReadMark{User: r.User.Hex(), ReadAt: r.ReadAt})
	}
	if reply != nil {
		p.ReplyTo = &ReplyRef{
			ID:        reply.ID.Hex(),
			Content:   reply.Content,
			Sender:    reply.Sender.Hex(),
			CreatedAt: reply.CreatedAt,
		}
	}
	return p
}

// errorEvent wraps a user-facing failure message. Only ever delivered to the
// connection whose action failed.
func errorEvent(message string) Event {
	return Event{Type: EventError, Payload: map[string]string{"message": message}}
}
