package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/duochat/duochat/internal/auth"
	"github.com/duochat/duochat/internal/data"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// cleanupTimeout bounds the storage work done while tearing a session down.
const cleanupTimeout = 5 * time.Second

// Gateway upgrades HTTP requests to websocket sessions, runs the token
// handshake and manages the session lifecycle around the registry, rooms and
// presence broadcaster.
type Gateway struct {
	auth     *auth.JWTManager
	store    Store
	registry *Registry
	rooms    *Rooms
	coord    *Coordinator
	presence *Broadcaster
	log      *zap.SugaredLogger

	upgrader websocket.Upgrader
	nextID   atomic.Int64

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewGateway wires the websocket entry point.
func NewGateway(jwt *auth.JWTManager, store Store, registry *Registry, rooms *Rooms, coord *Coordinator, presence *Broadcaster, log *zap.SugaredLogger) *Gateway {
	return &Gateway{
		auth:     jwt,
		store:    store,
		registry: registry,
		rooms:    rooms,
		coord:    coord,
		presence: presence,
		log:      log,
		sessions: make(map[int64]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers cannot set Authorization headers on websocket
			// upgrades, so the token arrives in the query string and
			// origin checking is left to the deployment's proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// HandleWS is the gin handler for GET /ws. The connection is upgraded first
// so that a failed handshake can still tell the client why it was rejected.
func (g *Gateway) HandleWS(c *gin.Context) {
	token := bearerToken(c)

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Debugw("ws: upgrade failed", "remote", c.ClientIP(), "err", err)
		return
	}

	user, reason := g.authenticate(c.Request.Context(), token)
	if reason != "" {
		g.reject(conn, reason)
		return
	}

	session := NewSession(g.nextID.Add(1), conn, g.coord,
		user.ID.Hex(), user.Username, user.UserCode, g.log)
	g.log.Infow("ws: connected", "user", session.UserID(), "conn", session.ConnID())

	g.mu.Lock()
	g.sessions[session.ConnID()] = session
	g.mu.Unlock()

	first := g.registry.Register(session)
	g.rooms.Join(UserRoom(session.UserID()), session)
	if first {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := g.store.SetUserOnline(ctx, session.UserID(), true); err != nil {
			g.log.Errorw("ws: online flag update failed", "user", session.UserID(), "err", err)
		}
		g.presence.AnnounceOnline(ctx, session.UserID())
		cancel()
	}

	session.Run(c.Request.Context())
	g.teardown(session)
}

// teardown runs after the session's pumps exit: drop room memberships, then
// the registry entry, and announce offline only if this was the user's last
// connection.
func (g *Gateway) teardown(s *Session) {
	g.mu.Lock()
	delete(g.sessions, s.ConnID())
	g.mu.Unlock()

	g.rooms.LeaveAll(s)
	last := g.registry.Unregister(s)
	g.log.Infow("ws: disconnected", "user", s.UserID(), "conn", s.ConnID(), "last", last)
	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := g.store.SetUserOnline(ctx, s.UserID(), false); err != nil {
		g.log.Errorw("ws: offline flag update failed", "user", s.UserID(), "err", err)
	}
	g.presence.AnnounceOffline(ctx, s.UserID())
}

// Shutdown closes every live session. Each handler goroutine then runs its
// normal teardown. Call after the HTTP listener has stopped accepting
// upgrades.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	sessions := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// authenticate resolves the handshake token to a user. A non-empty reason
// means rejection; the reasons are distinct per failure mode.
func (g *Gateway) authenticate(ctx context.Context, token string) (*data.User, string) {
	if token == "" {
		return nil, "authentication token required"
	}
	claims, err := g.auth.VerifyToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			return nil, "authentication token expired"
		}
		return nil, "invalid authentication token"
	}
	user, err := g.store.SessionUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, "user not found"
		}
		g.log.Errorw("ws: user lookup failed", "user", claims.UserID, "err", err)
		return nil, "authentication failed"
	}
	return user, ""
}

// reject delivers the rejection reason over the fresh connection, then
// closes it with a policy-violation close frame.
func (g *Gateway) reject(conn *websocket.Conn, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(errorEvent(reason))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	_ = conn.Close()
}

// bearerToken pulls the handshake token from the Authorization header or,
// failing that, the token query parameter.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
	}
	return c.Query("token")
}
