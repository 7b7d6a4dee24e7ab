package models

import "time"

// Message is an inbound text, web contact, or voicemail transcript. Body is
// stored already redacted.
type Message struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	Channel   string  `gorm:"size:16;not null;index"` // sms, web, voicemail
	From      string  `gorm:"size:128;index"`
	To        string  `gorm:"size:32"`
	CallID    string  `gorm:"size:64;index"`
	Body      string  `gorm:"type:text"`
	Category  string  `gorm:"size:16"`
	Sentiment float64 `gorm:"default:0"`
	Escalated bool    `gorm:"default:false"`
	CreatedAt time.Time
}

// Suppression records that a number opted out of a channel.
type Suppression struct {
	Phone     string `gorm:"primaryKey;size:32"`
	Channel   string `gorm:"primaryKey;size:16"`
	Reason    string `gorm:"size:32"`
	CreatedAt time.Time
}
