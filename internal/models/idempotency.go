package models

import "time"

// Idempotency record statuses.
const (
	IdempotencyProcessing = "processing"
	IdempotencyCompleted  = "completed"
	IdempotencyFailed     = "failed"
)

// IdempotencyRecord remembers the outcome of one side-effecting operation.
type IdempotencyRecord struct {
	Key           string    `gorm:"column:idem_key;primaryKey;size:128"`
	OperationType string    `gorm:"size:64;not null;index"`
	Status        string    `gorm:"size:16;not null"`
	RequestHash   string    `gorm:"size:64;not null"`
	Result        string    `gorm:"type:text"`
	Error         string    `gorm:"type:text"`
	Attempts      int       `gorm:"not null;default:1"`
	ExpiresAt     time.Time `gorm:"not null;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
