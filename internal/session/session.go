// Package session carries the authenticated buyer through a request. Sessions
// are issued upstream; this service only reads the identity headers the
// gateway in front of it sets.
package session

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID = "X-User-Id"
	HeaderEmail  = "X-User-Email"
	HeaderName   = "X-User-Name"
	HeaderPhone  = "X-User-Phone"
	HeaderRole   = "X-User-Role"

	RoleAdmin = "admin"

	contextKey = "session"
)

type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Role   string `json:"role"`
}

func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// FromHeaders reads a session, reporting false when no user is present.
func FromHeaders(h http.Header) (Session, bool) {
	s := Session{
		UserID: strings.TrimSpace(h.Get(HeaderUserID)),
		Email:  strings.TrimSpace(h.Get(HeaderEmail)),
		Name:   strings.TrimSpace(h.Get(HeaderName)),
		Phone:  strings.TrimSpace(h.Get(HeaderPhone)),
		Role:   strings.ToLower(strings.TrimSpace(h.Get(HeaderRole))),
	}
	return s, s.UserID != ""
}

// Required aborts with 401 when the request carries no user.
func Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := FromHeaders(c.Request.Header)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		c.Set(contextKey, s)
		c.Next()
	}
}

// Admin must run after Required.
func Admin() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := FromContext(c)
		if !ok || !s.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// FromContext returns the session stored by Required.
func FromContext(c *gin.Context) (Session, bool) {
	v, ok := c.Get(contextKey)
	if !ok {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}
