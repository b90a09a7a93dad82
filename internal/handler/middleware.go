package handler

import (
	"strconv"
	"strings"
	"time"

	"corracoins/internal/monitoring"
	"corracoins/internal/service"
	"corracoins/pkg/response"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
	HeaderAdminID   = "X-Admin-ID"

	userIDKey    = "corra.user_id"
	sessionIDKey = "corra.session_id"
	adminIDKey   = "corra.admin_id"
	requestIDKey = "corra.request_id"
)

// LoggerMiddleware writes one structured line per request.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := requestid.Get(c)
		c.Set(requestIDKey, rid)

		c.Next()

		entry := logrus.WithFields(logrus.Fields{
			"request_id": rid,
			"status":     c.Writer.Status(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			entry.Error("http request")
			return
		}
		entry.Info("http request")
	}
}

// MetricsMiddleware reports request counts and latency by route template.
func MetricsMiddleware(metrics monitoring.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logrus.WithField("panic", err).WithField("request_id", c.GetString(requestIDKey)).Error("recovered from panic")
				response.ServerError(c, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, X-Request-ID, X-User-ID, X-Session-ID, X-Admin-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// RequireUser resolves the authenticated user placed in X-User-ID by the
// gateway in front of this service.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := headerID(c, HeaderUserID)
		if !ok {
			response.Unauthorized(c, "sign in required")
			c.Abort()
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// UserOrSession accepts a signed-in user or, failing that, an anonymous
// session id.
func UserOrSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := headerID(c, HeaderUserID); ok {
			c.Set(userIDKey, id)
			c.Next()
			return
		}
		session := strings.TrimSpace(c.GetHeader(HeaderSessionID))
		if session == "" || len(session) > 64 {
			response.Unauthorized(c, "sign in or provide a session id")
			c.Abort()
			return
		}
		c.Set(sessionIDKey, session)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := headerID(c, HeaderAdminID)
		if !ok {
			response.Unauthorized(c, "admin access required")
			c.Abort()
			return
		}
		c.Set(adminIDKey, id)
		c.Next()
	}
}

func headerID(c *gin.Context, header string) (int64, bool) {
	raw := strings.TrimSpace(c.GetHeader(header))
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

func currentAdminID(c *gin.Context) int64 {
	return c.GetInt64(adminIDKey)
}

func currentOwner(c *gin.Context) service.Owner {
	if id, ok := c.Get(userIDKey); ok {
		return service.UserOwner(id.(int64))
	}
	return service.SessionOwner(c.GetString(sessionIDKey))
}
