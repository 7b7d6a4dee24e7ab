package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/switchboard/internal/logger"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
)

// ListFilters holds optional filters for listing sessions.
type ListFilters struct {
	Status      string
	Category    string
	NeedsReview bool
	Limit       int
}

// Session returns the session for id.
func (m *Machine) Session(ctx context.Context, id string) (*models.CallSession, error) {
	return m.load(ctx, id)
}

// Events returns every event recorded for id, applied or not, oldest first.
func (m *Machine) Events(ctx context.Context, id string) ([]models.LifecycleEvent, error) {
	var events []models.LifecycleEvent
	if err := m.db.WithContext(ctx).Where("call_id = ?", id).
		Order("occurred_at ASC, created_at ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("lifecycle: events for %s: %w", id, err)
	}
	return events, nil
}

// List returns sessions matching filters, most recent activity first.
func (m *Machine) List(ctx context.Context, f ListFilters) ([]models.CallSession, error) {
	q := m.db.WithContext(ctx).Model(&models.CallSession{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.NeedsReview {
		q = q.Where("needs_review = ?", true)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var sessions []models.CallSession
	if err := q.Order("last_event_at DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("lifecycle: list: %w", err)
	}
	return sessions, nil
}

// SetConsent records the caller's recording consent answer.
func (m *Machine) SetConsent(ctx context.Context, id string, recording bool) error {
	return m.update(ctx, id, "consent", map[string]interface{}{"consent_recording": recording})
}

// SetCategory stores the latest category for the call.
func (m *Machine) SetCategory(ctx context.Context, id, category string) error {
	return m.update(ctx, id, "category", map[string]interface{}{"category": category})
}

// SetTimezone stores the caller's timezone once it is known.
func (m *Machine) SetTimezone(ctx context.Context, id, tz string) error {
	return m.update(ctx, id, "timezone", map[string]interface{}{"timezone": tz})
}

// AttachRecording stores the voicemail recording location.
func (m *Machine) AttachRecording(ctx context.Context, id, url string) error {
	return m.update(ctx, id, "recording", map[string]interface{}{"recording_url": url})
}

// ClearReview marks a session as reviewed.
func (m *Machine) ClearReview(ctx context.Context, id string) error {
	return m.update(ctx, id, "clear review", map[string]interface{}{"needs_review": false})
}

// MarkHandoff flags the session for human handoff. It returns false when the
// session was already handed off, so callers notify a human only once.
func (m *Machine) MarkHandoff(ctx context.Context, id, reason string) (bool, error) {
	res := m.db.WithContext(ctx).Model(&models.CallSession{}).
		Where("id = ? AND handoff = ?", id, false).
		Updates(map[string]interface{}{"handoff": true, "handoff_reason": reason})
	if res.Error != nil {
		return false, fmt.Errorf("lifecycle: handoff %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := m.load(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	m.log.Info("handoff requested", logger.String("call_id", id), logger.String("reason", reason))
	return true, nil
}

// SetSMSOptIn records a number's SMS opt-in state on all its sessions.
func (m *Machine) SetSMSOptIn(ctx context.Context, phone string, optIn bool) (int64, error) {
	if phone == "" {
		return 0, ErrPhoneRequired
	}
	res := m.db.WithContext(ctx).Model(&models.CallSession{}).
		Where(map[string]interface{}{"from": phone}).
		Update("consent_sms_opt_in", optIn)
	if res.Error != nil {
		return 0, fmt.Errorf("lifecycle: sms opt-in for %s: %w", phone, res.Error)
	}
	return res.RowsAffected, nil
}

// LatestForCaller returns the most recent session placed by phone.
func (m *Machine) LatestForCaller(ctx context.Context, phone string) (*models.CallSession, error) {
	if phone == "" {
		return nil, ErrPhoneRequired
	}
	var s models.CallSession
	err := m.db.WithContext(ctx).Where(map[string]interface{}{"from": phone}).Order("started_at DESC").Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: caller %s", ErrSessionNotFound, phone)
	}
	if err != nil {
		return nil, fmt.Errorf("lifecycle: latest for %s: %w", phone, err)
	}
	return &s, nil
}

// LastActivity returns the time of the most recent applied event, or the
// zero time when nothing has been recorded.
func (m *Machine) LastActivity(ctx context.Context) (time.Time, error) {
	var s models.CallSession
	err := m.db.WithContext(ctx).Order("last_event_at DESC").Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("lifecycle: last activity: %w", err)
	}
	return s.LastEventAt, nil
}

func (m *Machine) update(ctx context.Context, id, what string, cols map[string]interface{}) error {
	res := m.db.WithContext(ctx).Model(&models.CallSession{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return fmt.Errorf("lifecycle: set %s on %s: %w", what, id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
