package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is the idle deadline; a connection that answers no ping
	// within this window is considered dead.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize bounds inbound frames. The largest legal event is a
	// send_message with 1000 code points of content, which is ~12KB when
	// every code point arrives as an escaped surrogate pair; oversized
	// content is the validator's call, not the framing layer's.
	maxFrameSize = 16 << 10
	// sendBuffer is the per-connection outbound queue depth.
	sendBuffer = 64
)

// Session is one authenticated websocket connection. It owns the read and
// write pumps and implements Handle for the registry and rooms.
type Session struct {
	id    int64
	conn  *websocket.Conn
	coord *Coordinator
	log   *zap.SugaredLogger

	userID   string
	username string
	userCode string

	send   chan Event
	closed chan struct{}
	once   sync.Once

	mu          sync.RWMutex
	currentChat string
}

// NewSession wraps an upgraded connection for the given authenticated user.
func NewSession(id int64, conn *websocket.Conn, coord *Coordinator, userID, username, userCode string, log *zap.SugaredLogger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		coord:    coord,
		log:      log,
		userID:   userID,
		username: username,
		userCode: userCode,
		send:     make(chan Event, sendBuffer),
		closed:   make(chan struct{}),
	}
}

func (s *Session) ConnID() int64    { return s.id }
func (s *Session) UserID() string   { return s.userID }
func (s *Session) Username() string { return s.username }
func (s *Session) UserCode() string { return s.userCode }

func (s *Session) CurrentChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentChat
}

func (s *Session) SetCurrentChat(chatID string) {
	s.mu.Lock()
	s.currentChat = chatID
	s.mu.Unlock()
}

// Deliver queues an event without blocking. Events for a closed session are
// discarded; a full queue drops the event rather than stalling the sender.
func (s *Session) Deliver(ev Event) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.send <- ev:
	case <-s.closed:
	default:
		s.log.Warnw("session: send queue full, dropping event",
			"user", s.userID, "conn", s.id, "type", ev.Type)
	}
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.closed)
		_ = s.conn.Close()
	})
}

// Run drives both pumps and returns when the connection is gone. The caller
// performs registry/room cleanup after Run returns.
func (s *Session) Run(ctx context.Context) {
	go s.writePump()
	s.readPump(ctx)
	s.Close()
}

func (s *Session) readPump(ctx context.Context) {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debugw("session: read failed", "user", s.userID, "conn", s.id, "err", err)
			}
			return
		}
		s.dispatch(ctx, raw)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(ev); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.closed:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dispatch routes one inbound frame. A frame that fails to decode earns the
// connection an error event, never a disconnect.
func (s *Session) dispatch(ctx context.Context, raw []byte) {
	var ev rawEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		s.Deliver(errorEvent("malformed event"))
		return
	}

	switch ev.Type {
	case EventJoinChat:
		var p chatPayload
		if s.decode(ev.Payload, &p) {
			s.coord.JoinChat(ctx, s, p.ChatID)
		}
	case EventLeaveChat:
		var p chatPayload
		if s.decode(ev.Payload, &p) {
			s.coord.LeaveChat(ctx, s, p.ChatID)
		}
	case EventTypingStart:
		var p chatPayload
		if s.decode(ev.Payload, &p) {
			s.coord.TypingStart(ctx, s, p.ChatID)
		}
	case EventTypingStop:
		var p chatPayload
		if s.decode(ev.Payload, &p) {
			s.coord.TypingStop(ctx, s, p.ChatID)
		}
	case EventSendMessage:
		var p sendMessagePayload
		if s.decode(ev.Payload, &p) {
			s.coord.SendMessage(ctx, s, p)
		}
	case EventMarkMessagesRead:
		var p markReadPayload
		if s.decode(ev.Payload, &p) {
			s.coord.MarkMessagesRead(ctx, s, p)
		}
	case EventGetUserStatus:
		var p userStatusPayload
		if s.decode(ev.Payload, &p) {
			s.coord.UserStatus(ctx, s, p)
		}
	default:
		s.Deliver(errorEvent("unknown event type: " + ev.Type))
	}
}

func (s *Session) decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		s.Deliver(errorEvent("missing event payload"))
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.Deliver(errorEvent("malformed event payload"))
		return false
	}
	return true
}
