package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/compliance"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/idempotency"
	"github.com/zulandar/switchboard/internal/lifecycle"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/ratelimit"
	"github.com/zulandar/switchboard/internal/receptionist"
	"github.com/zulandar/switchboard/internal/server"
	"github.com/zulandar/switchboard/internal/streamtoken"
	"github.com/zulandar/switchboard/internal/sweeper"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
		migrate    bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and API server",
		Long: `Starts the HTTP server for carrier voice and SMS webhooks, the media
stream websocket, the public API and the health check. The expired-row
sweeper runs alongside on its configured schedule.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port, migrate)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfig, "path to Switchboard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides server.port)")
	cmd.Flags().BoolVar(&migrate, "migrate", true, "migrate tables before serving")
	return cmd
}

// stack is everything the server and the admin commands share.
type stack struct {
	cfg      *config.Config
	db       *gorm.DB
	log      *logger.Logger
	rec      *receptionist.Receptionist
	idem     *idempotency.Manager
	limiter  *ratelimit.Limiter
	counters sweeper.BucketDeleter
	keyring  *streamtoken.Keyring
	close    func()
}

func buildStack(cfg *config.Config, gormDB *gorm.DB, log *logger.Logger) (*stack, error) {
	policy, err := compliance.PolicyFromConfig(cfg.Compliance)
	if err != nil {
		return nil, err
	}
	keyring, err := streamtoken.FromConfig(cfg.Stream)
	if err != nil {
		return nil, err
	}
	notifier, err := notify.FromConfig(cfg.Notify, log)
	if err != nil {
		return nil, err
	}

	st := &stack{cfg: cfg, db: gormDB, log: log, keyring: keyring, close: func() {}}
	st.idem = idempotency.New(gormDB, cfg.Idempotency, log)

	var store ratelimit.Store
	switch cfg.RateLimit.Backend {
	case "redis":
		rdb := ratelimit.NewRedisClient(cfg.RateLimit.Redis)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, rate limiting will fail open", logger.Error(err))
		}
		cancel()
		store = ratelimit.NewRedisStore(rdb)
		st.close = func() { _ = rdb.Close() }
	default:
		gs := ratelimit.NewGormStore(gormDB)
		store = gs
		st.counters = gs
	}
	st.limiter = ratelimit.New(store, cfg.RateLimit.Precision, log)

	st.rec, err = receptionist.New(receptionist.Options{
		DB:          gormDB,
		Machine:     lifecycle.New(gormDB, log),
		Idempotency: st.idem,
		Policy:      policy,
		Notifier:    notifier,
		Voice:       cfg.Voice,
		Log:         log,
	})
	if err != nil {
		st.close()
		return nil, err
	}
	return st, nil
}

func (st *stack) sweeper() *sweeper.Sweeper {
	return sweeper.New(st.idem, st.counters, st.cfg.Sweeper.CounterRetention, st.log)
}

func runServe(cmd *cobra.Command, configPath string, port int, migrate bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	log, err := newLogger(cfg, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if migrate {
		if err := db.AutoMigrate(gormDB); err != nil {
			return err
		}
	}

	st, err := buildStack(cfg, gormDB, log)
	if err != nil {
		return err
	}
	defer st.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := st.sweeper().Run(ctx, cfg.Sweeper.Schedule); err != nil {
			log.Error("sweeper stopped", logger.Error(err))
		}
	}()

	server.Version = Version
	err = server.Start(ctx, server.Options{
		Config:       cfg,
		DB:           gormDB,
		Receptionist: st.rec,
		Limiter:      st.limiter,
		Keyring:      st.keyring,
		Log:          log,
		Out:          cmd.OutOrStdout(),
	})
	if ctx.Err() != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Shut down.")
	}
	return err
}
