// Package idempotency makes side-effecting operations execute at most once
// across retried, concurrent deliveries. Coordination happens entirely in the
// database: a unique key insert decides who runs, and compare-and-set on the
// attempts counter decides who may retry.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrInProgress means another invocation holds the key and has not finished.
	ErrInProgress = errors.New("idempotency: operation in progress")
	// ErrRequestMismatch means an explicit key was reused with different arguments.
	ErrRequestMismatch = errors.New("idempotency: key reused with different request")
	// ErrStoreUnavailable means the record store could not be reached; the
	// operation was not run.
	ErrStoreUnavailable = errors.New("idempotency: store unavailable")
)

// CheckResult reports what is known about a key without claiming it.
type CheckResult struct {
	IsDuplicate  bool
	Status       string
	CachedResult json.RawMessage
}

// Manager owns IdempotencyRecord rows.
type Manager struct {
	db                *gorm.DB
	log               *logger.Logger
	completedTTL      time.Duration
	failedTTL         time.Duration
	processingTimeout time.Duration
	now               func() time.Time
}

// New creates a Manager.
func New(db *gorm.DB, cfg config.IdempotencyConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		db:                db,
		log:               log.Named("idempotency"),
		completedTTL:      cfg.CompletedTTL,
		failedTTL:         cfg.FailedTTL,
		processingTimeout: cfg.ProcessingTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Check reports whether key has been seen. It never claims the key and fails
// open: a store error is logged and reported as not a duplicate.
func (m *Manager) Check(ctx context.Context, key string) CheckResult {
	var rec models.IdempotencyRecord
	err := m.db.WithContext(ctx).Where("idem_key = ?", key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CheckResult{}
	}
	if err != nil {
		m.log.Warn("check failed open", logger.String("key", key), logger.Error(err))
		return CheckResult{}
	}
	if !rec.ExpiresAt.After(m.now()) {
		return CheckResult{}
	}
	res := CheckResult{IsDuplicate: true, Status: rec.Status}
	if rec.Status == models.IdempotencyCompleted {
		res.CachedResult = json.RawMessage(rec.Result)
	}
	return res
}

// Do runs fn at most once for the operation identified by (op, args). A
// completed prior run is replayed from its stored result with replayed=true.
// fn's result must round-trip through encoding/json.
func Do[T any](ctx context.Context, m *Manager, op string, args any, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	key, err := Key(op, args)
	if err != nil {
		return zero, false, err
	}
	return DoWithKey(ctx, m, key, op, args, fn)
}

// DoWithKey is Do with a caller-supplied key, such as a client's
// Idempotency-Key header. Reusing the key with different args fails with
// ErrRequestMismatch.
func DoWithKey[T any](ctx context.Context, m *Manager, key, op string, args any, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	reqHash, err := RequestHash(args)
	if err != nil {
		return zero, false, err
	}

	c, err := m.claim(ctx, key, op, reqHash)
	if err != nil {
		return zero, false, err
	}
	if c.cached != nil {
		var out T
		if err := json.Unmarshal(c.cached, &out); err != nil {
			return zero, false, fmt.Errorf("idempotency: decode cached result for %s: %w", key, err)
		}
		return out, true, nil
	}

	result, runErr := fn(ctx)
	if runErr != nil {
		m.finish(ctx, key, c.attempts, models.IdempotencyFailed, "", runErr.Error())
		return zero, false, runErr
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		m.finish(ctx, key, c.attempts, models.IdempotencyFailed, "", err.Error())
		return zero, false, fmt.Errorf("idempotency: encode result for %s: %w", key, err)
	}
	m.finish(ctx, key, c.attempts, models.IdempotencyCompleted, string(encoded), "")
	return result, false, nil
}

type claimed struct {
	attempts int
	cached   json.RawMessage
}

// claim inserts a processing record or takes over a reclaimable one.
func (m *Manager) claim(ctx context.Context, key, op, reqHash string) (claimed, error) {
	db := m.db.WithContext(ctx)

	// Two passes: a sweeper may delete the row between the failed insert and
	// the read.
	for pass := 0; pass < 2; pass++ {
		now := m.now()
		rec := models.IdempotencyRecord{
			Key:           key,
			OperationType: op,
			Status:        models.IdempotencyProcessing,
			RequestHash:   reqHash,
			Attempts:      1,
			ExpiresAt:     now.Add(m.processingTimeout),
		}
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			m.log.Error("claim insert failed", logger.String("key", key), logger.Error(res.Error))
			return claimed{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
		}
		if res.RowsAffected == 1 {
			return claimed{attempts: 1}, nil
		}

		var existing models.IdempotencyRecord
		err := db.Where("idem_key = ?", key).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			m.log.Error("claim read failed", logger.String("key", key), logger.Error(err))
			return claimed{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if existing.RequestHash != reqHash {
			return claimed{}, ErrRequestMismatch
		}

		expired := !existing.ExpiresAt.After(now)
		switch existing.Status {
		case models.IdempotencyCompleted:
			if !expired {
				return claimed{cached: json.RawMessage(existing.Result)}, nil
			}
		case models.IdempotencyProcessing:
			if !expired {
				return claimed{}, ErrInProgress
			}
			m.log.Warn("reclaiming stale record",
				logger.String("key", key), logger.Int("attempts", existing.Attempts))
		case models.IdempotencyFailed:
		}
		return m.reclaim(ctx, existing, now)
	}
	return claimed{}, ErrInProgress
}

// reclaim moves an existing record back to processing, guarded by its
// attempts counter so only one contender wins.
func (m *Manager) reclaim(ctx context.Context, existing models.IdempotencyRecord, now time.Time) (claimed, error) {
	res := m.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("idem_key = ? AND attempts = ? AND status = ?", existing.Key, existing.Attempts, existing.Status).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyProcessing,
			"attempts":   existing.Attempts + 1,
			"result":     "",
			"error":      "",
			"expires_at": now.Add(m.processingTimeout),
			"updated_at": now,
		})
	if res.Error != nil {
		m.log.Error("reclaim failed", logger.String("key", existing.Key), logger.Error(res.Error))
		return claimed{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return claimed{}, ErrInProgress
	}
	return claimed{attempts: existing.Attempts + 1}, nil
}

// finish records the terminal status of the attempt this invocation owns. If
// the record was taken over meanwhile the write is skipped.
func (m *Manager) finish(ctx context.Context, key string, attempts int, status, result, errText string) {
	now := m.now()
	ttl := m.completedTTL
	if status == models.IdempotencyFailed {
		ttl = m.failedTTL
	}
	// The caller's context may already be cancelled; the outcome must still land.
	ctx = context.WithoutCancel(ctx)
	res := m.db.WithContext(ctx).Model(&models.IdempotencyRecord{}).
		Where("idem_key = ? AND attempts = ? AND status = ?", key, attempts, models.IdempotencyProcessing).
		Updates(map[string]interface{}{
			"status":     status,
			"result":     result,
			"error":      errText,
			"expires_at": now.Add(ttl),
			"updated_at": now,
		})
	switch {
	case res.Error != nil:
		m.log.Error("record outcome failed", logger.String("key", key), logger.String("status", status), logger.Error(res.Error))
	case res.RowsAffected == 0:
		m.log.Warn("record taken over before completion", logger.String("key", key), logger.Int("attempts", attempts))
	}
}

// DeleteExpired removes records whose expiry has passed.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	res := m.db.WithContext(ctx).Where("expires_at <= ?", m.now()).Delete(&models.IdempotencyRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("idempotency: delete expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}
