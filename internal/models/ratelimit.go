package models

// RateLimitCounter counts admitted requests for one identifier and endpoint
// within one sub-window bucket.
type RateLimitCounter struct {
	Identifier     string `gorm:"primaryKey;size:128"`
	IdentifierType string `gorm:"primaryKey;size:16"`
	Endpoint       string `gorm:"primaryKey;size:64"`
	WindowStartMs  int64  `gorm:"primaryKey;autoIncrement:false;index"`
	Count          int    `gorm:"not null;default:0"`
}
