package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/logger"
)

// Health statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Health is the health endpoint body.
type Health struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    int64             `json:"uptimeSeconds"`
	Checks    map[string]string `json:"checks"`
}

// Check runs the health checks. A missing configuration or an unreachable
// database is unhealthy; a slow database or no recent call activity is
// degraded.
func (s *Server) Check(ctx context.Context) Health {
	now := s.now()
	h := Health{
		Status:    StatusHealthy,
		Timestamp: now,
		Version:   Version,
		Uptime:    int64(now.Sub(s.started).Seconds()),
		Checks:    map[string]string{},
	}
	worst := func(status string) {
		if status == StatusUnhealthy || (status == StatusDegraded && h.Status == StatusHealthy) {
			h.Status = status
		}
	}

	h.Checks["env"] = "ok"
	if s.cfg.Server.PublicBaseURL == "" || s.cfg.Stream.URL == "" ||
		(*s.cfg.Carrier.ValidateSignatures && len(s.cfg.Carrier.AuthTokens) == 0) {
		h.Checks["env"] = "missing"
		worst(StatusUnhealthy)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	latency, err := db.Ping(ctx, s.db)
	switch {
	case err != nil:
		s.log.Error("health: database unreachable", logger.Error(err))
		h.Checks["database"] = "error"
		h.Checks["recentActivity"] = "unknown"
		worst(StatusUnhealthy)
		return h
	case latency > s.cfg.Health.SlowDatabase:
		h.Checks["database"] = "slow"
		worst(StatusDegraded)
	default:
		h.Checks["database"] = "ok"
	}

	last, err := s.rec.Machine().LastActivity(ctx)
	switch {
	case err != nil:
		h.Checks["recentActivity"] = "unknown"
		worst(StatusDegraded)
	case last.IsZero() || now.Sub(last) > s.cfg.Health.ActivityWindow:
		h.Checks["recentActivity"] = "idle"
		worst(StatusDegraded)
	default:
		h.Checks["recentActivity"] = "ok"
	}
	return h
}

func (s *Server) handleHealth(c *gin.Context) {
	h := s.Check(c.Request.Context())
	code := http.StatusOK
	if h.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.Header("Cache-Control", "no-cache")
	c.JSON(code, h)
}
