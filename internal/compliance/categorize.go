package compliance

import (
	"strings"
	"time"
)

// Category classifies a call or message.
type Category string

const (
	CategorySales     Category = "sales"
	CategorySupport   Category = "support"
	CategorySpam      Category = "spam"
	CategoryVoicemail Category = "voicemail"
	CategoryAbandoned Category = "abandoned"
	CategoryUrgent    Category = "urgent"
)

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, bool) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategorySales, CategorySupport, CategorySpam, CategoryVoicemail, CategoryAbandoned, CategoryUrgent:
		return c, true
	}
	return "", false
}

var (
	leadSignals     = []string{"quote", "estimate", "pricing", "cost", "how much", "available", "schedule", "book", "appointment"}
	prospectSignals = []string{"interested", "learn more", "tell me about", "considering", "looking for"}
	urgentSignals   = []string{"emergency", "urgent", "asap", "right away", "immediately", "flooding", "flooded", "leak", "fire", "no heat", "gas smell", "smell gas"}
	spamSignals     = []string{"extended warranty", "vehicle warranty", "you have been selected", "you've been selected", "final notice", "social security number has been", "press 1 to be removed", "this is not a sales call", "lower your interest rate"}
)

// DefaultAbandonedAfter is the call length below which a call with no
// interaction counts as abandoned.
const DefaultAbandonedAfter = 5 * time.Second

// Signal is everything known about an interaction when it is categorized.
type Signal struct {
	Transcript         string
	Keywords           []string
	Digits             string
	IsExistingCustomer bool
	Voicemail          bool
	Ended              bool
	Duration           time.Duration
	AbandonedAfter     time.Duration
}

// Categorize assigns one category. Precedence: spam, urgent, voicemail,
// abandoned, existing customer, sales intent, menu choice, support.
func Categorize(sig Signal) Category {
	text := strings.ToLower(sig.Transcript)
	has := func(signals []string) bool {
		for _, s := range signals {
			if strings.Contains(text, s) {
				return true
			}
			for _, k := range sig.Keywords {
				if strings.Contains(strings.ToLower(k), s) {
					return true
				}
			}
		}
		return false
	}

	if has(spamSignals) {
		return CategorySpam
	}
	if has(urgentSignals) {
		return CategoryUrgent
	}
	if sig.Voicemail {
		return CategoryVoicemail
	}
	threshold := sig.AbandonedAfter
	if threshold == 0 {
		threshold = DefaultAbandonedAfter
	}
	if sig.Ended && sig.Duration < threshold && strings.TrimSpace(text) == "" && sig.Digits == "" {
		return CategoryAbandoned
	}
	if sig.IsExistingCustomer {
		return CategorySupport
	}
	if has(leadSignals) || has(prospectSignals) {
		return CategorySales
	}
	switch sig.Digits {
	case "1":
		return CategorySales
	case "2":
		return CategorySupport
	}
	return CategorySupport
}
