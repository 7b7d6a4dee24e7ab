package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/idempotency"
	"github.com/zulandar/switchboard/internal/lifecycle"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/ratelimit"
	"github.com/zulandar/switchboard/internal/receptionist"
	"github.com/zulandar/switchboard/internal/voice"
)

// IdempotencyKeyHeader lets API clients name a submission for safe retries.
const IdempotencyKeyHeader = "Idempotency-Key"

func (s *Server) registerRoutes() {
	r := s.router

	webhook := r.Group("/", s.verifySignature(), s.validNumbers())
	webhook.POST(voice.PathInbound, s.rateLimit(receptionist.OpInbound, ratelimit.IdentifierPhone), s.voiceHandler(s.rec.Inbound))
	webhook.POST(voice.PathConsent, s.voiceHandler(s.rec.Consent))
	webhook.POST(voice.PathMenu, s.voiceHandler(s.rec.Menu))
	webhook.POST(voice.PathConnect, s.voiceHandler(s.rec.Connect))
	webhook.POST(voice.PathRecording, s.handleRecording)
	webhook.POST(voice.PathStatus, s.voiceHandler(s.rec.Status))
	webhook.POST("/sms/inbound", s.rateLimit(receptionist.OpSMS, ratelimit.IdentifierPhone), s.handleSMS)

	r.GET(voice.PathStream, s.handleStream)

	api := r.Group("/api/v1")
	api.POST("/contact", s.rateLimit(receptionist.OpContact, ratelimit.IdentifierIP), s.handleContact)
	api.POST("/outbound/eligibility", s.handleEligibility)
	api.GET("/calls/:id", s.handleCall)

	r.GET("/health", s.handleHealth)
}

type voiceFunc func(context.Context, carrier.Event) (voice.Action, error)

// voiceHandler parses the webhook, runs fn and renders its action. A failure
// still answers with the fallback action so the caller hears something.
func (s *Server) voiceHandler(fn voiceFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev := carrier.ParseEvent(c.Request.Form, s.now())
		if ev.CallSid == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid is required"})
			return
		}
		a, err := fn(c.Request.Context(), ev)
		if err != nil {
			s.log.WithCall(ev.CallSid).Error("voice handler failed",
				logger.String("path", c.Request.URL.Path), logger.Error(err))
			_ = c.Error(err)
			s.writeFallback(c)
			return
		}
		s.writeAction(c, a, ev.CallSid)
	}
}

// handleRecording serves both the recording action and the transcription
// callback, which is told apart by its transcript=1 query.
func (s *Server) handleRecording(c *gin.Context) {
	transcript := c.Query("transcript") == "1"
	s.voiceHandler(func(ctx context.Context, ev carrier.Event) (voice.Action, error) {
		return s.rec.Recording(ctx, ev, transcript)
	})(c)
}

func (s *Server) writeAction(c *gin.Context, a voice.Action, callID string) {
	out, err := s.renderer.Render(a, callID)
	if err != nil {
		s.log.WithCall(callID).Error("render failed", logger.Error(err))
		s.writeFallback(c)
		return
	}
	c.Data(http.StatusOK, voice.ContentType, []byte(out))
}

func (s *Server) handleSMS(c *gin.Context) {
	ev := carrier.ParseEvent(c.Request.Form, s.now())
	if ev.MessageSid == "" || ev.From == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "MessageSid and From are required"})
		return
	}
	res, err := s.rec.SMS(c.Request.Context(), ev)
	if err != nil {
		s.log.Error("sms handler failed", logger.String("message_sid", ev.MessageSid), logger.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out, err := voice.RenderMessage(res.Reply)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Data(http.StatusOK, voice.ContentType, []byte(out))
}

// apiError maps receptionist errors to HTTP statuses.
func (s *Server) apiError(c *gin.Context, err error) {
	var ve *receptionist.ValidationError
	switch {
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Msg})
	case errors.Is(err, lifecycle.ErrSessionNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, idempotency.ErrRequestMismatch):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency key reused with a different request"})
	case errors.Is(err, idempotency.ErrInProgress):
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request in progress"})
	case errors.Is(err, idempotency.ErrStoreUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
	default:
		s.log.Error("api handler failed", logger.String("path", c.Request.URL.Path), logger.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) handleContact(c *gin.Context) {
	var req receptionist.ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	res, replayed, err := s.rec.Contact(c.Request.Context(), req, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		s.apiError(c, err)
		return
	}
	if replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	c.JSON(http.StatusAccepted, res)
}

func (s *Server) handleEligibility(c *gin.Context) {
	var req receptionist.EligibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	d, err := s.rec.Eligibility(c.Request.Context(), req)
	if err != nil {
		s.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) handleCall(c *gin.Context) {
	detail, err := s.rec.Call(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.apiError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}
