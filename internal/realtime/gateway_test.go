package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/duochat/duochat/internal/auth"
	"github.com/duochat/duochat/internal/data"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type gatewayFixture struct {
	store    *fakeStore
	registry *Registry
	rooms    *Rooms
	jwt      *auth.JWTManager
	gw       *Gateway
	srv      *httptest.Server
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop().Sugar()
	store := newFakeStore()
	registry := NewRegistry()
	rooms := NewRooms()
	coord := NewCoordinator(store, registry, rooms, log)
	presence := NewBroadcaster(store, registry, rooms, log)
	jwtm := auth.NewJWTManager("test-secret", time.Hour)
	gw := NewGateway(jwtm, store, registry, rooms, coord, presence, log)

	r := gin.New()
	r.GET("/ws", gw.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &gatewayFixture{store: store, registry: registry, rooms: rooms, jwt: jwtm, gw: gw, srv: srv}
}

func (f *gatewayFixture) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (f *gatewayFixture) addUser(t *testing.T, username, code string) (*data.User, string) {
	t.Helper()
	id := bson.NewObjectID()
	user := &data.User{ID: id, Username: username, UserCode: code}
	f.store.users[id.Hex()] = user
	token, _, err := f.jwt.GenerateToken(id, username, code)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return user, token
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return ev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestGatewayRejectsMissingToken(t *testing.T) {
	f := newGatewayFixture(t)

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL(""), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	ev := readEvent(t, conn)
	if ev.Type != EventError {
		t.Fatalf("expected error event, got %q", ev.Type)
	}
	var p map[string]string
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		t.Fatalf("bad error payload: %v", err)
	}
	if !strings.Contains(p["message"], "token required") {
		t.Fatalf("unexpected rejection reason %q", p["message"])
	}

	// the server closes right after the rejection
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy-violation close, got %v", err)
	}
}

func TestGatewayRejectsBadToken(t *testing.T) {
	f := newGatewayFixture(t)

	cases := map[string]string{
		"garbage":      "invalid authentication token",
		"unknown-user": "user not found",
	}

	// a syntactically valid token for a user the store has never seen
	strangerID := bson.NewObjectID()
	strangerToken, _, err := f.jwt.GenerateToken(strangerID, "ghost", "GHOST000")
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	tokens := map[string]string{
		"garbage":      "not.a.token",
		"unknown-user": strangerToken,
	}

	for name, wantReason := range cases {
		conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("token="+tokens[name]), nil)
		if err != nil {
			t.Fatalf("%s: dial failed: %v", name, err)
		}
		ev := readEvent(t, conn)
		var p map[string]string
		_ = json.Unmarshal(ev.Payload, &p)
		if ev.Type != EventError || p["message"] != wantReason {
			t.Fatalf("%s: expected %q, got %q / %q", name, wantReason, ev.Type, p["message"])
		}
		conn.Close()
	}
}

func TestGatewayAcceptsMaximalEscapedMessage(t *testing.T) {
	f := newGatewayFixture(t)
	user, token := f.addUser(t, "alice", "ALICE001")
	chatID := bson.NewObjectID().Hex()
	f.store.addMember(chatID, user.ID.Hex())

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("token="+token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Event{Type: EventJoinChat, Payload: map[string]string{"chatId": chatID}}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventChatJoined {
		t.Fatalf("expected chat_joined, got %q", ev.Type)
	}

	// 1000 code points, each arriving as an escaped surrogate pair: a
	// ~12KB frame carrying content exactly at the cap. The frame must
	// survive the read limit and be accepted by the validator.
	escaped := strings.Repeat(`\uD83D\uDE00`, 1000)
	frame := `{"type":"` + EventSendMessage + `","payload":{"chatId":"` + chatID + `","content":"` + escaped + `"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	if ev := readEvent(t, conn); ev.Type != EventNewMessage {
		t.Fatalf("expected new_message, got %q", ev.Type)
	}
	if ev := readEvent(t, conn); ev.Type != EventMessageSent {
		t.Fatalf("expected message_sent, got %q", ev.Type)
	}

	// one more code point and the validator, not the framing layer, says no
	over := strings.Repeat(`\uD83D\uDE00`, 1001)
	frame = `{"type":"` + EventSendMessage + `","payload":{"chatId":"` + chatID + `","content":"` + over + `"}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventError {
		t.Fatalf("expected error event for oversized content, got %q", ev.Type)
	}
}

func TestGatewayShutdownClosesSessions(t *testing.T) {
	f := newGatewayFixture(t)
	user, token := f.addUser(t, "alice", "ALICE001")
	userID := user.ID.Hex()

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("token="+token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	waitFor(t, "registration", func() bool { return f.registry.IsOnline(userID) })

	f.gw.Shutdown()

	waitFor(t, "teardown", func() bool { return !f.registry.IsOnline(userID) })
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed after shutdown")
	}
}

func TestGatewaySessionLifecycle(t *testing.T) {
	f := newGatewayFixture(t)
	user, token := f.addUser(t, "alice", "ALICE001")
	userID := user.ID.Hex()

	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL("token="+token), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	waitFor(t, "registration", func() bool { return f.registry.IsOnline(userID) })
	waitFor(t, "user room join", func() bool { return f.rooms.MemberCount(UserRoom(userID)) == 1 })
	waitFor(t, "online flag", func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.online[userID]
	})

	// a round trip through the dispatcher
	if err := conn.WriteJSON(Event{Type: EventGetUserStatus, Payload: map[string]any{"userIds": []string{userID}}}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	ev := readEvent(t, conn)
	if ev.Type != EventUserStatuses {
		t.Fatalf("expected user_statuses, got %q", ev.Type)
	}
	var statuses map[string]UserStatus
	if err := json.Unmarshal(ev.Payload, &statuses); err != nil {
		t.Fatalf("bad statuses payload: %v", err)
	}
	if st := statuses[userID]; !st.IsOnline {
		t.Fatalf("expected the connected user to read online, got %+v", st)
	}

	// malformed frames earn an error event, not a disconnect
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventError {
		t.Fatalf("expected error event for malformed frame, got %q", ev.Type)
	}
	if err := conn.WriteJSON(Event{Type: "time_travel"}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != EventError {
		t.Fatalf("expected error event for unknown type, got %q", ev.Type)
	}

	conn.Close()
	waitFor(t, "teardown", func() bool { return !f.registry.IsOnline(userID) })
	waitFor(t, "room cleanup", func() bool { return f.rooms.MemberCount(UserRoom(userID)) == 0 })
	waitFor(t, "offline flag", func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return !f.store.online[userID]
	})
}
