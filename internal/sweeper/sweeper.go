// Package sweeper periodically deletes expired idempotency records and old
// rate limit buckets so the coordination tables stay small.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/switchboard/internal/logger"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ExpiredDeleter removes idempotency records past their expiry.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// BucketDeleter removes rate limit buckets that started before cutoff.
type BucketDeleter interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Report counts the rows removed by one sweep.
type Report struct {
	Idempotency int64
	Counters    int64
}

// Sweeper runs the cleanup.
type Sweeper struct {
	records   ExpiredDeleter
	counters  BucketDeleter
	retention time.Duration
	log       *logger.Logger
	now       func() time.Time
}

// New creates a Sweeper. counters may be nil when buckets expire on their
// own, as they do in Redis.
func New(records ExpiredDeleter, counters BucketDeleter, retention time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	return &Sweeper{
		records:   records,
		counters:  counters,
		retention: retention,
		log:       log.Named("sweeper"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source for the bucket cutoff.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Sweep deletes expired rows once. Both deletions are attempted even if the
// first fails.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	var firstErr error
	if s.records != nil {
		n, err := s.records.DeleteExpired(ctx)
		if err != nil {
			firstErr = err
		}
		rep.Idempotency = n
	}
	if s.counters != nil {
		n, err := s.counters.DeleteBefore(ctx, s.now().Add(-s.retention))
		if err != nil && firstErr == nil {
			firstErr = err
		}
		rep.Counters = n
	}
	if firstErr != nil {
		return rep, fmt.Errorf("sweeper: %w", firstErr)
	}
	return rep, nil
}

// Next returns the duration from now until the schedule next fires.
func Next(schedule string, now time.Time) (time.Duration, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return 0, fmt.Errorf("sweeper: parse schedule %q: %w", schedule, err)
	}
	return sched.Next(now).Sub(now), nil
}

// Run sweeps on schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	d, err := Next(schedule, s.now())
	if err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	s.log.Info("sweeper started", logger.String("schedule", schedule))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			rep, err := s.Sweep(ctx)
			if err != nil {
				s.log.Warn("sweep failed", logger.Error(err))
			} else if rep.Idempotency > 0 || rep.Counters > 0 {
				s.log.Info("sweep finished",
					logger.Int64("idempotency_records", rep.Idempotency),
					logger.Int64("rate_limit_buckets", rep.Counters))
			}
			d, _ := Next(schedule, s.now())
			timer.Reset(d)
		}
	}
}
