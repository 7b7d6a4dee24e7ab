package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/ratelimit"
	"github.com/zulandar/switchboard/internal/voice"
)

// RequestIDHeader carries the per-request identifier.
const RequestIDHeader = "X-Request-ID"

// requestLogger tags each request with an id and writes one access log line.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)
		start := time.Now()

		c.Next()

		fields := []logger.Field{
			logger.String("request_id", id),
			logger.String("method", c.Request.Method),
			logger.String("path", c.Request.URL.Path),
			logger.Int("status", c.Writer.Status()),
			logger.Duration("latency", time.Since(start)),
			logger.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, logger.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Error("request", fields...)
		case c.Writer.Status() >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

func isVoiceRoute(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, "/voice/")
}

// recovery turns a panic into a response the caller can still use: the
// fallback voice action on voice routes, since a live call must never be left
// unanswered, and a 500 JSON body elsewhere.
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		s.log.Error("panic recovered",
			logger.String("path", c.Request.URL.Path), logger.Any("panic", rec))
		if isVoiceRoute(c) {
			s.writeFallback(c)
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

func (s *Server) writeFallback(c *gin.Context) {
	out, err := s.renderer.Render(voice.Fallback(), "")
	if err != nil {
		c.String(http.StatusInternalServerError, "")
		return
	}
	c.Data(http.StatusOK, voice.ContentType, []byte(out))
}

// verifySignature rejects carrier webhooks whose signature does not match.
// It parses the form, so handlers read c.Request.Form afterwards.
func (s *Server) verifySignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed form"})
			return
		}
		if !*s.cfg.Carrier.ValidateSignatures {
			c.Next()
			return
		}
		if err := s.validator.Validate(c.Request, c.Request.PostForm); err != nil {
			s.log.Security("webhook signature rejected",
				logger.String("path", c.Request.URL.Path),
				logger.String("client_ip", c.ClientIP()),
				logger.String("call_sid", c.Request.PostForm.Get("CallSid")),
				logger.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

// rateLimit admits requests per caller number or client IP for endpoint.
func (s *Server) rateLimit(endpoint, identifierType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		lim, ok := s.cfg.Limit(endpoint)
		if !ok {
			c.Next()
			return
		}
		id := c.ClientIP()
		if identifierType == ratelimit.IdentifierPhone {
			id = c.Request.PostFormValue("From")
		}
		if id == "" {
			c.Next()
			return
		}

		res := s.limiter.Check(c.Request.Context(), id, identifierType, endpoint, lim.Window, lim.Max)
		c.Header("X-RateLimit-Limit", strconv.Itoa(lim.Max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed {
			c.Next()
			return
		}

		secs := res.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		s.log.Info("rate limited",
			logger.String("endpoint", endpoint),
			logger.String("identifier_type", identifierType),
			logger.Int("retry_after", secs))
		if isVoiceRoute(c) {
			// The carrier only plays markup; a 429 would drop the caller into
			// its own error message.
			s.writeAction(c, voice.RateLimited(), c.Request.PostFormValue("CallSid"))
			c.Abort()
			return
		}
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":      "rate_limited",
			"retryAfter": secs,
		})
	}
}

// validNumbers rejects webhooks whose From or To is not E.164.
func (s *Server) validNumbers() gin.HandlerFunc {
	return func(c *gin.Context) {
		ev := carrier.Event{From: c.Request.Form.Get("From"), To: c.Request.Form.Get("To")}
		if err := ev.ValidateNumbers(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}
