package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/duochat/duochat/internal/auth"
	"github.com/duochat/duochat/internal/data"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	// editWindow bounds how long after sending a message may be edited.
	editWindow = 15 * time.Minute
	// maxContentRunes caps message content, counted in code points.
	maxContentRunes = 1000
)

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type editMessageRequest struct {
	Content string `json:"content"`
}

type updateProfileRequest struct {
	Username string `json:"username"`
}

// publicUser is the user shape returned to other users: no email.
type publicUser struct {
	ID         string    `json:"id"`
	UserCode   string    `json:"userCode"`
	Username   string    `json:"username"`
	IsOnline   bool      `json:"isOnline"`
	LastActive time.Time `json:"lastActive"`
}

func toPublicUser(u *data.User) publicUser {
	return publicUser{
		ID:         u.ID.Hex(),
		UserCode:   u.UserCode,
		Username:   u.Username,
		IsOnline:   u.IsOnline,
		LastActive: u.LastActive,
	}
}

func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-30 characters"})
		return
	}
	if !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
		return
	}
	if len(req.Password) < 6 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 6 characters"})
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		s.log.Errorw("signup: hash failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	user, err := s.users.CreateUser(c.Request.Context(), req.Username, req.Email, hashed)
	if err != nil {
		if errors.Is(err, data.ErrUserExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "an account with this email or username already exists"})
			return
		}
		s.log.Errorw("signup: create failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Username, user.UserCode)
	if err != nil {
		s.log.Errorw("signup: token failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":     token,
		"expiresAt": expiresAt,
		"user":      user,
	})
}

func (s *Server) handleSignin(c *gin.Context) {
	var req signinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	user, err := s.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		// indistinguishable from a wrong password on purpose
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Username, user.UserCode)
	if err != nil {
		s.log.Errorw("signin: token failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt,
		"user":      user,
	})
}

func (s *Server) handleGetProfile(c *gin.Context) {
	claims := claimsFrom(c)
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}

	user, err := s.users.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		s.log.Errorw("profile: lookup failed", "user", claims.UserID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	claims := claimsFrom(c)
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if len(req.Username) < 3 || len(req.Username) > 30 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username must be 3-30 characters"})
		return
	}

	user, err := s.users.UpdateUsername(c.Request.Context(), userID, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": "username is already taken"})
		case errors.Is(err, data.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		default:
			s.log.Errorw("profile: update failed", "user", claims.UserID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update profile"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) handleSearchUsers(c *gin.Context) {
	claims := claimsFrom(c)
	term := c.Param("code")
	if len(term) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search term must be at least 2 characters"})
		return
	}

	users, err := s.users.SearchByCodePrefix(c.Request.Context(), term, 10)
	if err != nil {
		s.log.Errorw("search: query failed", "term", term, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}

	results := make([]publicUser, 0, len(users))
	for _, u := range users {
		if u.ID.Hex() == claims.UserID {
			continue // never suggest the caller to themselves
		}
		results = append(results, toPublicUser(u))
	}
	c.JSON(http.StatusOK, gin.H{"users": results})
}

func (s *Server) handleListChats(c *gin.Context) {
	claims := claimsFrom(c)
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}

	limit := queryInt64(c, "limit", 50)
	skip := queryInt64(c, "skip", 0)

	chats, err := s.chats.ListUserChats(c.Request.Context(), userID, limit, skip)
	if err != nil {
		s.log.Errorw("list chats: query failed", "user", claims.UserID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list chats"})
		return
	}

	type chatView struct {
		ID          string           `json:"id"`
		Participant *publicUser      `json:"participant"`
		LastMessage data.LastMessage `json:"lastMessage"`
		UnreadCount int64            `json:"unreadCount"`
		UpdatedAt   time.Time        `json:"updatedAt"`
	}

	views := make([]chatView, 0, len(chats))
	for _, chat := range chats {
		view := chatView{
			ID:          chat.ID.Hex(),
			LastMessage: chat.LastMessage,
			UpdatedAt:   chat.UpdatedAt,
		}
		if other, ok := chat.OtherParticipant(userID); ok {
			if u, err := s.users.GetUserByID(c.Request.Context(), other); err == nil {
				pu := toPublicUser(u)
				view.Participant = &pu
			}
		}
		if n, err := s.msgs.CountUnread(c.Request.Context(), chat.ID, userID); err == nil {
			view.UnreadCount = n
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"chats": views})
}

func (s *Server) handleGetOrCreateChat(c *gin.Context) {
	claims := claimsFrom(c)
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}
	otherID, err := bson.ObjectIDFromHex(c.Param("otherUserId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}
	if otherID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot start a chat with yourself"})
		return
	}

	other, err := s.users.GetUserByID(c.Request.Context(), otherID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		s.log.Errorw("get chat: user lookup failed", "other", otherID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open chat"})
		return
	}

	chat, err := s.chats.CreateOrGetChat(c.Request.Context(), userID, otherID)
	if err != nil {
		s.log.Errorw("get chat: create failed", "user", claims.UserID, "other", otherID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open chat"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chat": chat, "participant": toPublicUser(other)})
}

func (s *Server) handleGetChat(c *gin.Context) {
	claims := claimsFrom(c)
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}
	chatID, err := bson.ObjectIDFromHex(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	chat, err := s.chats.GetChatByID(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
			return
		}
		s.log.Errorw("get chat: lookup failed", "chat", chatID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}
	if !chat.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a participant of this chat"})
		return
	}

	resp := gin.H{"chat": chat}
	if other, ok := chat.OtherParticipant(userID); ok {
		if u, err := s.users.GetUserByID(c.Request.Context(), other); err == nil {
			resp["participant"] = toPublicUser(u)
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChatMessages(c *gin.Context) {
	claims := claimsFrom(c)
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}
	chatID, err := bson.ObjectIDFromHex(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	ok, err := s.chats.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		s.log.Errorw("messages: membership check failed", "chat", chatID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a participant of this chat"})
		return
	}

	limit := queryInt64(c, "limit", 50)
	if limit > 100 {
		limit = 100
	}
	skip := queryInt64(c, "skip", 0)

	messages, err := s.msgs.ListChatMessages(c.Request.Context(), chatID, limit, skip)
	if err != nil {
		s.log.Errorw("messages: query failed", "chat", chatID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) handleSearchMessages(c *gin.Context) {
	claims := claimsFrom(c)
	userID, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authentication token"})
		return
	}
	chatID, err := bson.ObjectIDFromHex(c.Param("chatId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	term := strings.TrimSpace(c.Query("q"))
	if len(term) < 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "search term must be at least 2 characters"})
		return
	}

	ok, err := s.chats.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		s.log.Errorw("search messages: membership check failed", "chat", chatID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a participant of this chat"})
		return
	}

	limit := queryInt64(c, "limit", 20)
	if limit > 50 {
		limit = 50
	}

	messages, err := s.msgs.SearchMessages(c.Request.Context(), chatID, term, limit)
	if err != nil {
		s.log.Errorw("search messages: query failed", "chat", chatID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) handleEditMessage(c *gin.Context) {
	claims := claimsFrom(c)
	msgID, err := bson.ObjectIDFromHex(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}
	var req editMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content cannot be empty"})
		return
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message content is too long"})
		return
	}

	msg, err := s.msgs.GetMessageByID(c.Request.Context(), msgID)
	if err != nil || msg.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if msg.Sender.Hex() != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "you can only edit your own messages"})
		return
	}
	if time.Since(msg.CreatedAt) > editWindow {
		c.JSON(http.StatusForbidden, gin.H{"error": "messages can only be edited within 15 minutes of sending"})
		return
	}

	editedAt, err := s.msgs.EditMessage(c.Request.Context(), msgID, content)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		s.log.Errorw("edit: update failed", "message", msgID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to edit message"})
		return
	}

	s.notify.NotifyMessageEdited(msg.ChatID.Hex(), msgID.Hex(), content, editedAt)
	c.JSON(http.StatusOK, gin.H{
		"messageId": msgID.Hex(),
		"content":   content,
		"editedAt":  editedAt,
	})
}

func (s *Server) handleDeleteMessage(c *gin.Context) {
	claims := claimsFrom(c)
	msgID, err := bson.ObjectIDFromHex(c.Param("messageId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := s.msgs.GetMessageByID(c.Request.Context(), msgID)
	if err != nil || msg.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if msg.Sender.Hex() != claims.UserID {
		c.JSON(http.StatusForbidden, gin.H{"error": "you can only delete your own messages"})
		return
	}

	deletedAt, err := s.msgs.SoftDelete(c.Request.Context(), msgID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		s.log.Errorw("delete: update failed", "message", msgID.Hex(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete message"})
		return
	}

	// the chat list preview must not show the deleted message
	s.refreshLastMessage(c, msg.ChatID)

	s.notify.NotifyMessageDeleted(msg.ChatID.Hex(), msgID.Hex())
	c.JSON(http.StatusOK, gin.H{
		"messageId": msgID.Hex(),
		"deletedAt": deletedAt,
	})
}

// refreshLastMessage recomputes the chat's cached preview from the latest
// surviving message. Best effort.
func (s *Server) refreshLastMessage(c *gin.Context, chatID bson.ObjectID) {
	var lm data.LastMessage
	latest, err := s.msgs.LatestVisibleMessage(c.Request.Context(), chatID)
	switch {
	case err == nil:
		lm = data.LastMessage{
			Content:     latest.Content,
			Sender:      latest.Sender,
			Timestamp:   latest.CreatedAt,
			MessageType: latest.MessageType,
		}
	case errors.Is(err, data.ErrNotFound):
		// chat is now empty, clear the preview
	default:
		s.log.Warnw("delete: latest-message lookup failed", "chat", chatID.Hex(), "err", err)
		return
	}
	if err := s.chats.UpdateLastMessage(c.Request.Context(), chatID, lm); err != nil {
		s.log.Warnw("delete: last-message cache update failed", "chat", chatID.Hex(), "err", err)
	}
}

func queryInt64(c *gin.Context, name string, def int64) int64 {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return def
	}
	return n
}
