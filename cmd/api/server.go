package main

import (
	"context"
	"time"

	"github.com/duochat/duochat/internal/auth"
	"github.com/duochat/duochat/internal/data"
	"github.com/duochat/duochat/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

// The handler layer depends on narrow store interfaces so tests can swap in
// fakes; data.UsersStore etc. satisfy them in production.

type userStore interface {
	CreateUser(ctx context.Context, username, email, hashedPassword string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	SearchByCodePrefix(ctx context.Context, term string, limit int64) ([]*data.User, error)
	UpdateUsername(ctx context.Context, id bson.ObjectID, username string) (*data.User, error)
}

type chatStore interface {
	GetChatByID(ctx context.Context, id bson.ObjectID) (*data.Chat, error)
	CreateOrGetChat(ctx context.Context, a, b bson.ObjectID) (*data.Chat, error)
	ListUserChats(ctx context.Context, userID bson.ObjectID, limit, skip int64) ([]*data.Chat, error)
	IsParticipant(ctx context.Context, chatID, userID bson.ObjectID) (bool, error)
	UpdateLastMessage(ctx context.Context, chatID bson.ObjectID, lm data.LastMessage) error
}

type messageStore interface {
	ListChatMessages(ctx context.Context, chatID bson.ObjectID, limit, skip int64) ([]*data.Message, error)
	SearchMessages(ctx context.Context, chatID bson.ObjectID, term string, limit int64) ([]*data.Message, error)
	GetMessageByID(ctx context.Context, id bson.ObjectID) (*data.Message, error)
	EditMessage(ctx context.Context, id bson.ObjectID, newContent string) (time.Time, error)
	SoftDelete(ctx context.Context, id bson.ObjectID) (time.Time, error)
	LatestVisibleMessage(ctx context.Context, chatID bson.ObjectID) (*data.Message, error)
	CountUnread(ctx context.Context, chatID, userID bson.ObjectID) (int64, error)
}

// notifier fans message mutations out to connected clients.
type notifier interface {
	NotifyMessageEdited(chatID, messageID, content string, editedAt time.Time)
	NotifyMessageDeleted(chatID, messageID string)
}

// Server holds the HTTP handler dependencies.
type Server struct {
	users  userStore
	chats  chatStore
	msgs   messageStore
	auth   *auth.JWTManager
	notify notifier
	log    *zap.SugaredLogger
}

func newServer(users userStore, chats chatStore, msgs messageStore, authMgr *auth.JWTManager, notify notifier, log *zap.SugaredLogger) *Server {
	return &Server{users: users, chats: chats, msgs: msgs, auth: authMgr, notify: notify, log: log}
}

// registerRoutes mounts the API. The credential endpoints sit behind the
// rate limiter; everything else behind bearer auth. wsHandler performs the
// websocket upgrade and runs its own handshake auth.
func (s *Server) registerRoutes(r *gin.Engine, limiter *middleware.LimiterStore, wsHandler gin.HandlerFunc) {
	api := r.Group("/api")

	creds := api.Group("/auth", middleware.RateLimit(limiter))
	creds.POST("/signup", s.handleSignup)
	creds.POST("/signin", s.handleSignin)

	authed := api.Group("", s.requireAuth())
	authed.GET("/users/me", s.handleGetProfile)
	authed.PUT("/users/me", s.handleUpdateProfile)
	authed.GET("/users/search/:code", s.handleSearchUsers)
	authed.GET("/chats", s.handleListChats)
	authed.GET("/chats/with/:otherUserId", s.handleGetOrCreateChat)
	authed.GET("/chats/:chatId", s.handleGetChat)
	authed.GET("/chats/:chatId/messages", s.handleChatMessages)
	authed.GET("/chats/:chatId/messages/search", s.handleSearchMessages)
	authed.PUT("/messages/:messageId", s.handleEditMessage)
	authed.DELETE("/messages/:messageId", s.handleDeleteMessage)

	r.GET("/ws", wsHandler)
}
