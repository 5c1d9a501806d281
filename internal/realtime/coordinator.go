package realtime

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/duochat/duochat/internal/data"

	"go.uber.org/zap"
)

// maxMessageRunes caps message content length, counted in code points.
const maxMessageRunes = 1000

// validMessageType reports whether the tag is one of the allowed message
// kinds. An empty tag is legal and defaults to text at the storage layer.
func validMessageType(t string) bool {
	switch t {
	case "", data.MessageTypeText, data.MessageTypeImage, data.MessageTypeFile:
		return true
	}
	return false
}

// Coordinator executes the socket-event handlers for live connections. Every
// failure surfaces as an error event on the acting connection only; the
// coordinator never tears a session down.
type Coordinator struct {
	store    Store
	registry *Registry
	rooms    *Rooms
	log      *zap.SugaredLogger
}

// NewCoordinator wires the coordinator to its collaborators.
func NewCoordinator(store Store, registry *Registry, rooms *Rooms, log *zap.SugaredLogger) *Coordinator {
	return &Coordinator{store: store, registry: registry, rooms: rooms, log: log}
}

// JoinChat verifies membership and enters the chat's room. A connection
// views one conversation at a time, so joining a new chat implicitly leaves
// the previous one.
func (c *Coordinator) JoinChat(ctx context.Context, h Handle, chatID string) {
	if chatID == "" {
		h.Deliver(errorEvent("chat id is required"))
		return
	}
	ok, err := c.store.IsParticipant(ctx, chatID, h.UserID())
	if err != nil {
		c.log.Errorw("join chat: membership check failed", "chat", chatID, "user", h.UserID(), "err", err)
		h.Deliver(errorEvent("failed to join chat"))
		return
	}
	if !ok {
		h.Deliver(errorEvent("you are not a participant of this chat"))
		return
	}

	if prev := h.CurrentChat(); prev != "" && prev != chatID {
		c.rooms.Leave(ChatRoom(prev), h)
	}
	c.rooms.Join(ChatRoom(chatID), h)
	h.SetCurrentChat(chatID)
	h.Deliver(Event{Type: EventChatJoined, Payload: map[string]string{"chatId": chatID}})
}

// LeaveChat exits the chat's room. Leaving a chat the connection never
// joined is harmless.
func (c *Coordinator) LeaveChat(ctx context.Context, h Handle, chatID string) {
	if chatID == "" {
		h.Deliver(errorEvent("chat id is required"))
		return
	}
	c.rooms.Leave(ChatRoom(chatID), h)
	if h.CurrentChat() == chatID {
		h.SetCurrentChat("")
	}
	h.Deliver(Event{Type: EventChatLeft, Payload: map[string]string{"chatId": chatID}})
}

// TypingStart tells the chat's other members that this user is typing. The
// sender is excluded; stale indicators are the receiving client's problem,
// typing carries no server-side timer.
func (c *Coordinator) TypingStart(ctx context.Context, h Handle, chatID string) {
	if chatID == "" {
		return
	}
	c.rooms.Broadcast(ChatRoom(chatID), Event{Type: EventUserTyping, Payload: map[string]string{
		"userId":   h.UserID(),
		"username": h.Username(),
		"chatId":   chatID,
	}}, h)
}

// TypingStop clears the typing indicator for the chat's other members.
func (c *Coordinator) TypingStop(ctx context.Context, h Handle, chatID string) {
	if chatID == "" {
		return
	}
	c.rooms.Broadcast(ChatRoom(chatID), Event{Type: EventUserStoppedTyping, Payload: map[string]string{
		"userId": h.UserID(),
		"chatId": chatID,
	}}, h)
}

// SendMessage validates, persists and fans out a message. The durable write
// always happens before any broadcast, so no receiver ever sees a message
// that storage could still reject.
func (c *Coordinator) SendMessage(ctx context.Context, h Handle, p sendMessagePayload) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		h.Deliver(errorEvent("message content cannot be empty"))
		return
	}
	if utf8.RuneCountInString(content) > maxMessageRunes {
		h.Deliver(errorEvent("message content is too long"))
		return
	}
	if !validMessageType(p.MessageType) {
		h.Deliver(errorEvent("invalid message type"))
		return
	}
	ok, err := c.store.IsParticipant(ctx, p.ChatID, h.UserID())
	if err != nil {
		c.log.Errorw("send message: membership check failed", "chat", p.ChatID, "user", h.UserID(), "err", err)
		h.Deliver(errorEvent("failed to send message"))
		return
	}
	if !ok {
		h.Deliver(errorEvent("you are not a participant of this chat"))
		return
	}

	// A reply link that no longer resolves degrades to a plain message.
	var reply *data.Message
	replyTo := ""
	if p.ReplyToID != "" {
		reply, err = c.store.ChatMessage(ctx, p.ChatID, p.ReplyToID)
		switch {
		case err == nil:
			replyTo = p.ReplyToID
		case errors.Is(err, data.ErrNotFound):
			reply = nil
		default:
			c.log.Warnw("send message: reply lookup failed", "chat", p.ChatID, "reply", p.ReplyToID, "err", err)
			reply = nil
		}
	}

	msg, err := c.store.CreateMessage(ctx, p.ChatID, h.UserID(), content, p.MessageType, replyTo)
	if err != nil {
		c.log.Errorw("send message: persist failed", "chat", p.ChatID, "user", h.UserID(), "err", err)
		h.Deliver(errorEvent("failed to send message"))
		return
	}

	// Best effort; the chat list showing a slightly stale preview is
	// acceptable, a lost message is not.
	if err := c.store.UpdateChatLastMessage(ctx, p.ChatID, data.LastMessage{
		Content:     msg.Content,
		Sender:      msg.Sender,
		Timestamp:   msg.CreatedAt,
		MessageType: msg.MessageType,
	}); err != nil {
		c.log.Warnw("send message: last-message cache update failed", "chat", p.ChatID, "err", err)
	}

	sender := MessageSender{ID: h.UserID(), UserCode: h.UserCode(), Username: h.Username()}
	wire := messagePayload(msg, sender, reply)

	c.rooms.Broadcast(ChatRoom(p.ChatID), Event{Type: EventNewMessage, Payload: map[string]any{
		"message": wire,
		"chatId":  p.ChatID,
	}}, nil)

	h.Deliver(Event{Type: EventMessageSent, Payload: map[string]any{
		"messageId": msg.ID.Hex(),
		"chatId":    p.ChatID,
		"timestamp": msg.CreatedAt,
	}})
}

// MarkMessagesRead records read receipts and tells the chat's other members
// which messages were affected. Re-marking already-read messages changes
// nothing and stays silent.
func (c *Coordinator) MarkMessagesRead(ctx context.Context, h Handle, p markReadPayload) {
	ok, err := c.store.IsParticipant(ctx, p.ChatID, h.UserID())
	if err != nil {
		c.log.Errorw("mark read: membership check failed", "chat", p.ChatID, "user", h.UserID(), "err", err)
		h.Deliver(errorEvent("failed to mark messages as read"))
		return
	}
	if !ok {
		h.Deliver(errorEvent("you are not a participant of this chat"))
		return
	}

	marked, err := c.store.MarkMessagesRead(ctx, p.ChatID, h.UserID(), p.MessageIDs)
	if err != nil {
		c.log.Errorw("mark read: persist failed", "chat", p.ChatID, "user", h.UserID(), "err", err)
		h.Deliver(errorEvent("failed to mark messages as read"))
		return
	}
	if len(marked) == 0 {
		return
	}

	c.rooms.Broadcast(ChatRoom(p.ChatID), Event{Type: EventMessagesRead, Payload: map[string]any{
		"chatId":     p.ChatID,
		"readBy":     h.UserID(),
		"messageIds": marked,
	}}, h)
}

// UserStatus answers an on-demand presence query. Each entry is keyed by the
// identifier the client asked with, whether a durable ID or a short code.
// Unknown users report offline with no last-active time; a storage failure
// surfaces to the sender instead of masquerading as an offline user.
func (c *Coordinator) UserStatus(ctx context.Context, h Handle, p userStatusPayload) {
	statuses := make(map[string]UserStatus, len(p.UserIDs))
	for _, raw := range p.UserIDs {
		userID, err := c.store.ResolveUserID(ctx, raw)
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				statuses[raw] = UserStatus{}
				continue
			}
			c.log.Errorw("user status: resolve failed", "id", raw, "err", err)
			h.Deliver(errorEvent("failed to get user status"))
			return
		}
		st := UserStatus{IsOnline: c.registry.IsOnline(userID)}
		last, err := c.store.UserLastActive(ctx, userID)
		switch {
		case err == nil:
			st.LastActive = &last
		case errors.Is(err, data.ErrNotFound):
			// resolved but since deleted; report offline with no timestamp
		default:
			c.log.Errorw("user status: last-active lookup failed", "user", userID, "err", err)
			h.Deliver(errorEvent("failed to get user status"))
			return
		}
		statuses[raw] = st
	}
	h.Deliver(Event{Type: EventUserStatuses, Payload: statuses})
}

// NotifyMessageEdited fans an edit out to the chat's room. Called by the
// HTTP layer after the durable update.
func (c *Coordinator) NotifyMessageEdited(chatID, messageID, content string, editedAt time.Time) {
	c.rooms.Broadcast(ChatRoom(chatID), Event{Type: EventMessageEdited, Payload: map[string]any{
		"messageId":  messageID,
		"chatId":     chatID,
		"newContent": content,
		"editedAt":   editedAt,
	}}, nil)
}

// NotifyMessageDeleted fans a deletion out to the chat's room.
func (c *Coordinator) NotifyMessageDeleted(chatID, messageID string) {
	c.rooms.Broadcast(ChatRoom(chatID), Event{Type: EventMessageDeleted, Payload: map[string]string{
		"messageId": messageID,
		"chatId":    chatID,
	}}, nil)
}
