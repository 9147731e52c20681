package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smallbiznis/tably/internal/metrics"
	"github.com/smallbiznis/tably/internal/usercontext"
)

const headerUserID = "X-User-Id"

// RequestLoggerMiddleware tags each request with an id and logs its outcome.
func RequestLoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")

	return func(c *gin.Context) {
		requestID := uuid.NewString()
		c.Header("X-Request-Id", requestID)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if err := c.Errors.Last(); err != nil {
			fields = append(fields, zap.Error(err.Err))
		}

		if c.Writer.Status() >= 500 {
			log.Error("request failed", fields...)
			return
		}
		log.Info("request handled", fields...)
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}

// UserContextMiddleware moves the authenticated user id from the request
// header into the context the services read. Identity verification itself is
// the front door's job; this service trusts the header it is handed.
func UserContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerUserID))
		if raw != "" {
			userID, err := snowflake.ParseString(raw)
			if err != nil {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			ctx := usercontext.WithUserID(c.Request.Context(), int64(userID))
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func (s *Server) requireUser(c *gin.Context) (snowflake.ID, bool) {
	userID, ok := usercontext.UserIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return 0, false
	}
	return userID, true
}

// writeRateLimitMiddleware throttles mutating receipt calls per user.
// Limiter errors reject the write.
func (s *Server) writeRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.writeLimiter.Enabled() {
			c.Next()
			return
		}

		userID, ok := s.requireUser(c)
		if !ok {
			return
		}

		allowed, err := s.writeLimiter.AllowUser(c.Request.Context(), userID)
		if err != nil {
			s.log.Warn("write rate limiter unavailable", zap.Error(err))
			AbortWithError(c, ErrRateLimited)
			return
		}
		if !allowed {
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
