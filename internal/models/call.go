package models

import (
	"time"

	"gorm.io/datatypes"
)

// CallSession is the authoritative record of one phone call, keyed by the
// carrier's call identifier.
type CallSession struct {
	ID               string  `gorm:"primaryKey;size:64"`
	From             string  `gorm:"size:32;index"`
	To               string  `gorm:"size:32"`
	Status           string  `gorm:"size:16;not null;index"`
	Category         string  `gorm:"size:16"`
	Timezone         string  `gorm:"size:64"`
	ConsentRecording *bool   // nil means the caller has not answered
	ConsentSMSOptIn  *bool   // nil means unknown
	NeedsReview      bool    `gorm:"default:false;index"`
	Handoff          bool    `gorm:"default:false"`
	HandoffReason    *string `gorm:"size:64"`
	RecordingURL     string  `gorm:"size:512"`
	Version          int     `gorm:"not null;default:0"`
	StartedAt        time.Time
	EndedAt          *time.Time
	LastEventAt      time.Time `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LifecycleEvent is one carrier status report applied to (or rejected by) a
// call's state machine. Applied events carry a DedupKey of "callID:status" so
// the store refuses a second application of the same transition.
type LifecycleEvent struct {
	ID            string         `gorm:"primaryKey;size:36"`
	CallID        string         `gorm:"size:64;not null;index"`
	Status        string         `gorm:"size:16;not null"`
	FromStatus    string         `gorm:"size:16"`
	OccurredAt    time.Time      `gorm:"not null"`
	Metadata      datatypes.JSON `gorm:"type:json"`
	Anomalous     bool           `gorm:"default:false;index"`
	AnomalyReason string         `gorm:"size:64"`
	DedupKey      *string        `gorm:"size:96;uniqueIndex"`
	CreatedAt     time.Time
}
