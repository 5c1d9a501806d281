package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/duochat/duochat/internal/auth"

	"github.com/gin-gonic/gin"
)

const claimsKey = "authClaims"

// requireAuth validates the Authorization bearer token and stashes the
// claims in the request context.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication token required"})
			return
		}

		claims, err := s.auth.VerifyToken(token)
		if err != nil {
			msg := "invalid authentication token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "authentication token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// claimsFrom returns the verified claims set by requireAuth.
func claimsFrom(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
