// Package lifecycle is the call state machine. Every carrier status report
// becomes a LifecycleEvent row; only legal, in-order transitions move the
// CallSession's status, and everything else is kept as an anomalous event
// with the session flagged for review.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/carrier"
	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrSessionNotFound means no CallSession exists for the id.
	ErrSessionNotFound = errors.New("lifecycle: session not found")
	// ErrConflict means the session kept changing underneath a transition.
	ErrConflict = errors.New("lifecycle: concurrent update conflict")
	// ErrPhoneRequired means a per-number lookup or update got no number.
	ErrPhoneRequired = errors.New("lifecycle: phone number is required")

	errStale = errors.New("lifecycle: stale session version")
)

// Anomaly reasons stored on rejected events.
const (
	AnomalyUnknownSession    = "unknown_session"
	AnomalyUnknownStatus     = "unknown_status"
	AnomalyAfterTerminal     = "after_terminal"
	AnomalyInvalidTransition = "invalid_transition"
	AnomalyOutOfOrder        = "out_of_order"
)

// ValidTransitions maps each status to its valid next statuses. The graph is
// acyclic, so a call visits each status at most once.
var ValidTransitions = map[string][]string{
	carrier.StatusRinging:   {carrier.StatusAnswered, carrier.StatusCompleted, carrier.StatusFailed, carrier.StatusNoAnswer},
	carrier.StatusAnswered:  {carrier.StatusIVRMenu, carrier.StatusVoicemail, carrier.StatusStreaming, carrier.StatusCompleted, carrier.StatusFailed},
	carrier.StatusIVRMenu:   {carrier.StatusVoicemail, carrier.StatusStreaming, carrier.StatusCompleted, carrier.StatusFailed},
	carrier.StatusStreaming: {carrier.StatusVoicemail, carrier.StatusCompleted, carrier.StatusFailed},
	carrier.StatusVoicemail: {carrier.StatusCompleted, carrier.StatusFailed},
}

// IsTerminal reports whether status is absorbing.
func IsTerminal(status string) bool {
	switch status {
	case carrier.StatusCompleted, carrier.StatusFailed, carrier.StatusNoAnswer:
		return true
	}
	return false
}

// IsValidTransition checks whether from → to is allowed.
func IsValidTransition(from, to string) bool {
	for _, v := range ValidTransitions[from] {
		if v == to {
			return true
		}
	}
	return false
}

func knownStatus(s string) bool {
	_, ok := ValidTransitions[s]
	return ok || IsTerminal(s)
}

// Event is one observed status for a call.
type Event struct {
	CallID     string
	Status     string
	OccurredAt time.Time
	// From and To are used only when this event starts a new session.
	From     string
	To       string
	Metadata map[string]any
}

// Result is the outcome of ApplyEvent. Accepted is true for applied events
// and for re-deliveries of an already applied (call, status) pair, which set
// Duplicate. Rejected events carry their Anomaly reason.
type Result struct {
	Accepted  bool
	Duplicate bool
	Anomaly   string
	Event     *models.LifecycleEvent
	Session   *models.CallSession
}

// Machine applies events to sessions stored in the database.
type Machine struct {
	db          *gorm.DB
	log         *logger.Logger
	maxAttempts int
	now         func() time.Time
}

// New creates a Machine.
func New(db *gorm.DB, log *logger.Logger) *Machine {
	if log == nil {
		log = logger.Nop()
	}
	return &Machine{
		db:          db,
		log:         log.Named("lifecycle"),
		maxAttempts: 3,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for events without a timestamp.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

func dedupKey(callID, status string) string { return callID + ":" + status }

// ApplyEvent validates ev against the session's current state and either
// applies it or records it as anomalous. A call never seen before is started
// in RINGING first, as long as no event has ever been recorded for it.
func (m *Machine) ApplyEvent(ctx context.Context, ev Event) (Result, error) {
	if ev.CallID == "" {
		return Result{}, fmt.Errorf("lifecycle: apply: call id is required")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = m.now()
	}
	ev.OccurredAt = ev.OccurredAt.UTC()
	meta, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return Result{}, fmt.Errorf("lifecycle: apply %s: %w", ev.Status, err)
	}

	for attempt := 0; attempt < m.maxAttempts; attempt++ {
		res, err := m.apply(ctx, ev, meta)
		if errors.Is(err, errStale) {
			m.log.Debug("retrying stale transition",
				logger.String("call_id", ev.CallID), logger.String("status", ev.Status), logger.Int("attempt", attempt+1))
			continue
		}
		return res, err
	}
	return Result{}, fmt.Errorf("lifecycle: apply %s to %s: %w", ev.Status, ev.CallID, ErrConflict)
}

func (m *Machine) apply(ctx context.Context, ev Event, meta datatypes.JSON) (Result, error) {
	s, err := m.load(ctx, ev.CallID)
	if errors.Is(err, ErrSessionNotFound) {
		var res Result
		var done bool
		res, done, err = m.start(ctx, ev, meta)
		if err != nil || done {
			return res, err
		}
		s, err = m.load(ctx, ev.CallID)
	}
	if err != nil {
		return Result{}, err
	}
	return m.transition(ctx, s, ev, meta)
}

func (m *Machine) load(ctx context.Context, id string) (*models.CallSession, error) {
	var s models.CallSession
	err := m.db.WithContext(ctx).Where("id = ?", id).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: load %s: %w", id, err)
	}
	return &s, nil
}

// start creates the session in RINGING. done is true when ev itself was the
// RINGING event that started it, or when ev had to be rejected.
func (m *Machine) start(ctx context.Context, ev Event, meta datatypes.JSON) (Result, bool, error) {
	db := m.db.WithContext(ctx)

	var seen int64
	if err := db.Model(&models.LifecycleEvent{}).Where("call_id = ?", ev.CallID).Count(&seen).Error; err != nil {
		return Result{}, false, fmt.Errorf("lifecycle: count events for %s: %w", ev.CallID, err)
	}
	if seen > 0 {
		// The session may have been committed between our two reads.
		if _, err := m.load(ctx, ev.CallID); err == nil {
			return Result{}, false, nil
		}
		e := newEvent(ev, "", meta)
		e.Anomalous = true
		e.AnomalyReason = AnomalyUnknownSession
		if err := db.Create(&e).Error; err != nil {
			return Result{}, false, fmt.Errorf("lifecycle: record %s for %s: %w", ev.Status, ev.CallID, err)
		}
		m.log.Info("anomalous lifecycle event",
			logger.String("anomaly", AnomalyUnknownSession), logger.String("call_id", ev.CallID), logger.String("status", ev.Status))
		return Result{Anomaly: AnomalyUnknownSession, Event: &e}, true, nil
	}

	s := models.CallSession{
		ID:          ev.CallID,
		From:        ev.From,
		To:          ev.To,
		Status:      carrier.StatusRinging,
		StartedAt:   ev.OccurredAt,
		LastEventAt: ev.OccurredAt,
	}
	ringing := ev
	ringing.Status = carrier.StatusRinging
	var ringMeta datatypes.JSON
	if ev.Status == carrier.StatusRinging {
		ringMeta = meta
	}
	e := newEvent(ringing, "", ringMeta)
	key := dedupKey(ev.CallID, carrier.StatusRinging)
	e.DedupKey = &key

	created := false
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&s)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		return tx.Create(&e).Error
	})
	if err != nil {
		return Result{}, false, fmt.Errorf("lifecycle: start %s: %w", ev.CallID, err)
	}
	if !created {
		return Result{}, false, nil
	}
	m.log.Info("call started", logger.String("call_id", ev.CallID))
	if ev.Status == carrier.StatusRinging {
		return Result{Accepted: true, Event: &e, Session: &s}, true, nil
	}
	return Result{}, false, nil
}

func (m *Machine) transition(ctx context.Context, s *models.CallSession, ev Event, meta datatypes.JSON) (Result, error) {
	db := m.db.WithContext(ctx)
	key := dedupKey(s.ID, ev.Status)

	if prior, err := m.applied(ctx, key); err != nil {
		return Result{}, err
	} else if prior != nil {
		return Result{Accepted: true, Duplicate: true, Event: prior, Session: s}, nil
	}

	if anomaly := validate(s, ev); anomaly != "" {
		return m.recordAnomaly(ctx, s, ev, meta, anomaly)
	}

	e := newEvent(ev, s.Status, meta)
	e.DedupKey = &key
	updates := map[string]interface{}{
		"status":        ev.Status,
		"version":       s.Version + 1,
		"last_event_at": ev.OccurredAt,
	}
	if IsTerminal(ev.Status) {
		updates["ended_at"] = ev.OccurredAt
	}

	dup := false
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&e)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			dup = true
			return nil
		}
		up := tx.Model(&models.CallSession{}).
			Where("id = ? AND version = ?", s.ID, s.Version).
			Updates(updates)
		if up.Error != nil {
			return up.Error
		}
		if up.RowsAffected == 0 {
			return errStale
		}
		return nil
	})
	if errors.Is(err, errStale) {
		return Result{}, errStale
	}
	if err != nil {
		return Result{}, fmt.Errorf("lifecycle: apply %s to %s: %w", ev.Status, s.ID, err)
	}
	if dup {
		prior, err := m.applied(ctx, key)
		if err != nil {
			return Result{}, err
		}
		return Result{Accepted: true, Duplicate: true, Event: prior, Session: s}, nil
	}

	from := s.Status
	s.Status = ev.Status
	s.Version++
	s.LastEventAt = ev.OccurredAt
	if IsTerminal(ev.Status) {
		ended := ev.OccurredAt
		s.EndedAt = &ended
	}
	m.log.Info("call transitioned",
		logger.String("call_id", s.ID), logger.String("from", from), logger.String("to", ev.Status))
	return Result{Accepted: true, Event: &e, Session: s}, nil
}

// applied returns the event that applied key, or nil.
func (m *Machine) applied(ctx context.Context, key string) (*models.LifecycleEvent, error) {
	var e models.LifecycleEvent
	err := m.db.WithContext(ctx).Where("dedup_key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: lookup %s: %w", key, err)
	}
	return &e, nil
}

func validate(s *models.CallSession, ev Event) string {
	switch {
	case !knownStatus(ev.Status):
		return AnomalyUnknownStatus
	case IsTerminal(s.Status):
		return AnomalyAfterTerminal
	case !IsValidTransition(s.Status, ev.Status):
		return AnomalyInvalidTransition
	case ev.OccurredAt.Before(s.LastEventAt):
		return AnomalyOutOfOrder
	}
	return ""
}

func (m *Machine) recordAnomaly(ctx context.Context, s *models.CallSession, ev Event, meta datatypes.JSON, reason string) (Result, error) {
	e := newEvent(ev, s.Status, meta)
	e.Anomalous = true
	e.AnomalyReason = reason
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&e).Error; err != nil {
			return err
		}
		return tx.Model(&models.CallSession{}).Where("id = ?", s.ID).Update("needs_review", true).Error
	})
	if err != nil {
		return Result{}, fmt.Errorf("lifecycle: record anomalous %s for %s: %w", ev.Status, s.ID, err)
	}
	s.NeedsReview = true
	m.log.Info("anomalous lifecycle event",
		logger.String("anomaly", reason), logger.String("call_id", s.ID),
		logger.String("status", ev.Status), logger.String("current", s.Status))
	return Result{Anomaly: reason, Event: &e, Session: s}, nil
}

func newEvent(ev Event, from string, meta datatypes.JSON) models.LifecycleEvent {
	return models.LifecycleEvent{
		ID:         uuid.NewString(),
		CallID:     ev.CallID,
		Status:     ev.Status,
		FromStatus: from,
		OccurredAt: ev.OccurredAt,
		Metadata:   meta,
	}
}

func encodeMetadata(meta map[string]any) (datatypes.JSON, error) {
	if len(meta) == 0 {
		return datatypes.JSON("{}"), nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return datatypes.JSON(b), nil
}
