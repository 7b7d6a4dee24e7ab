// Package server exposes the receptionist over HTTP: carrier webhooks, the
// media stream websocket, the public JSON API and the health check.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/ratelimit"
	"github.com/zulandar/switchboard/internal/receptionist"
	"github.com/zulandar/switchboard/internal/streamtoken"
	"github.com/zulandar/switchboard/internal/voice"
	"gorm.io/gorm"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Options holds the dependencies of a Server.
type Options struct {
	Config       *config.Config
	DB           *gorm.DB
	Receptionist *receptionist.Receptionist
	Limiter      *ratelimit.Limiter
	Keyring      *streamtoken.Keyring
	Log          *logger.Logger
	Out          io.Writer
}

// Server routes requests to the receptionist.
type Server struct {
	cfg       *config.Config
	db        *gorm.DB
	rec       *receptionist.Receptionist
	limiter   *ratelimit.Limiter
	keyring   *streamtoken.Keyring
	validator *carrier.Validator
	renderer  *voice.Renderer
	upgrader  websocket.Upgrader
	log       *logger.Logger
	out       io.Writer
	router    *gin.Engine
	started   time.Time
	now       func() time.Time

	handshakeTimeout time.Duration
}

// New builds a Server and its routes.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("server: config is required")
	case opts.DB == nil:
		return nil, fmt.Errorf("server: db is required")
	case opts.Receptionist == nil:
		return nil, fmt.Errorf("server: receptionist is required")
	case opts.Limiter == nil:
		return nil, fmt.Errorf("server: limiter is required")
	case opts.Keyring == nil:
		return nil, fmt.Errorf("server: keyring is required")
	}
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	cfg := opts.Config
	s := &Server{
		cfg:       cfg,
		db:        opts.DB,
		rec:       opts.Receptionist,
		limiter:   opts.Limiter,
		keyring:   opts.Keyring,
		validator: carrier.NewValidator(cfg.Server.PublicBaseURL, cfg.Carrier.AuthTokens),
		renderer:  voice.NewRenderer(cfg.Server.PublicBaseURL, cfg.Stream.URL, cfg.Voice.Voice, opts.Keyring),
		upgrader: websocket.Upgrader{
			// The carrier is not a browser and sends no Origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:              log.Named("server"),
		out:              opts.Out,
		now:              func() time.Time { return time.Now().UTC() },
		handshakeTimeout: 10 * time.Second,
	}
	s.started = s.now()

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	if !cfg.Server.TrustProxyHeaders {
		if err := s.router.SetTrustedProxies(nil); err != nil {
			return nil, fmt.Errorf("server: trusted proxies: %w", err)
		}
	}
	s.router.Use(requestLogger(s.log), s.recovery())
	s.registerRoutes()
	return s, nil
}

// SetClock overrides the time source used for events without a carrier
// timestamp and for the health check.
func (s *Server) SetClock(now func() time.Time) { s.now = now }

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves on the configured port until ctx is cancelled, then shuts
// down gracefully and waits for pending handoff notifications.
func Start(ctx context.Context, opts Options) error {
	s, err := New(opts)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("shutdown", logger.Error(err))
		}
	}()

	if s.out != nil {
		fmt.Fprintf(s.out, "Switchboard listening on :%d (%s)\n", s.cfg.Server.Port, s.cfg.Server.PublicBaseURL)
	}
	s.log.Info("listening", logger.Int("port", s.cfg.Server.Port))

	err = srv.ListenAndServe()
	s.rec.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
