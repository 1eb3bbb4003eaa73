package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"quotasigner/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ctxLoggerKey    = "quotasigner.logger"
	maxRequestIDLen = 128
)

// requestLogger tags each request with an id and stores a scoped logger.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		logger := s.logger.With("request_id", id)
		c.Set(ctxLoggerKey, logger)

		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}

func requestLogger(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if v, ok := c.Get(ctxLoggerKey); ok {
		if logger, ok := v.(*slog.Logger); ok {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
		c.Next()
	}
}

// boundary is the last line of defence for an endpoint handler. A panic is
// logged and counted; a 500 is written only if the response has not started.
func (s *Server) boundary(endpoint string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger := requestLogger(c, s.logger)
			s.metrics.ErrorCaughtInEndpointHandler()
			if c.Writer.Written() {
				s.metrics.ErrorAfterResponseSent()
				logger.Error("panic after response sent", "endpoint", endpoint, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
				return
			}
			logger.Error("panic in endpoint handler", "endpoint", endpoint, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			c.Abort()
			writeErrorCode(c, http.StatusInternalServerError, "UNKNOWN_ERROR", "unexpected error")
		}()
		h(c)
	}
}

func (s *Server) rateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
			c.Next()
			return
		}
		key := fmt.Sprintf("ip:%s:endpoint:%s", c.ClientIP(), endpoint)
		decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
		if err != nil {
			requestLogger(c, s.logger).Warn("rate limiter error", "endpoint", endpoint, "err", err)
			if s.rateLimitFailClosed {
				writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
				c.Abort()
				return
			}
			c.Next()
			return
		}
		writeRateLimitHeaders(c, decision)
		if !decision.Allowed {
			writeErrorCode(c, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
