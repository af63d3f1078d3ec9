package http

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"account-service/internal/auth"
)

const identityKey = "identity"

// requireSession decodes the caller's session and rejects the request with
// 403 on any failure.
func (h *Handler) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			h.fail(c, auth.ErrInvalidSession)
			return
		}

		identity, err := h.sessions.Parse(token)
		if err != nil {
			h.fail(c, err)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// sessionToken reads the session from the Authorization header or the session cookie.
func sessionToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	token, _ := c.Cookie(sessionCookie)
	return token
}

func identityFrom(c *gin.Context) auth.Identity {
	value, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}
	}
	identity, _ := value.(auth.Identity)
	return identity
}

// RequestLogger logs one line per request.
func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request")
		case c.Writer.Status() >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}
