package compliance

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // deterministic zone data regardless of host
)

// Window is the local-time range [StartHour, EndHour) in which outbound
// contact is allowed. Unknown caller time zones fall back to the next
// business day at FallbackHour in BusinessTimezone.
type Window struct {
	StartHour        int
	EndHour          int
	BusinessTimezone string
	FallbackHour     int
}

// DefaultWindow is 08:00-21:00 with a 10:00 Eastern fallback.
var DefaultWindow = Window{StartHour: 8, EndHour: 21, BusinessTimezone: "America/New_York", FallbackHour: 10}

// QuietHoursResult is the verdict for one proposed contact time.
type QuietHoursResult struct {
	Allowed       bool       `json:"allowed"`
	NextAllowedAt *time.Time `json:"nextAllowedAt,omitempty"`
	NeedsReview   bool       `json:"needsReview,omitempty"`
	Reason        string     `json:"reason,omitempty"`
}

// EvaluateQuietHours decides whether contact at now is allowed for a
// recipient in timezone. It depends only on its arguments. An empty,
// "unknown" or unloadable timezone is treated as quiet hours active.
func EvaluateQuietHours(now time.Time, timezone string, w Window) QuietHoursResult {
	tz := strings.TrimSpace(timezone)
	if tz == "" || strings.EqualFold(tz, "unknown") {
		return fallback(now, w, ReasonTimezoneUnknown)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fallback(now, w, ReasonTimezoneInvalid)
	}

	local := now.In(loc)
	h := local.Hour()
	if h >= w.StartHour && h < w.EndHour {
		return QuietHoursResult{Allowed: true}
	}
	day := local.Day()
	if h >= w.EndHour {
		day++
	}
	next := time.Date(local.Year(), local.Month(), day, w.StartHour, 0, 0, 0, loc).UTC()
	return QuietHoursResult{
		NextAllowedAt: &next,
		Reason:        ReasonQuietHours,
	}
}

func fallback(now time.Time, w Window, reason string) QuietHoursResult {
	biz, err := time.LoadLocation(w.BusinessTimezone)
	if err != nil {
		biz = time.UTC
	}
	local := now.In(biz)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, w.FallbackHour, 0, 0, 0, biz)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = time.Date(next.Year(), next.Month(), next.Day()+1, w.FallbackHour, 0, 0, 0, biz)
	}
	next = next.UTC()
	return QuietHoursResult{NextAllowedAt: &next, NeedsReview: true, Reason: reason}
}

// areaCodeZones maps North American area codes to IANA zones. Coverage is
// partial; anything missing is unknown.
var areaCodeZones = map[string]string{
	"212": "America/New_York", "718": "America/New_York", "917": "America/New_York",
	"416": "America/Toronto", "647": "America/Toronto", "437": "America/Toronto",
	"312": "America/Chicago", "773": "America/Chicago",
	"204": "America/Winnipeg",
	"303": "America/Denver", "720": "America/Denver",
	"403": "America/Edmonton", "587": "America/Edmonton", "780": "America/Edmonton",
	"206": "America/Los_Angeles", "213": "America/Los_Angeles", "310": "America/Los_Angeles",
	"604": "America/Vancouver", "778": "America/Vancouver", "236": "America/Vancouver",
}

// InferTimezone guesses a zone from a +1 number's area code. It returns ""
// when the number is not North American or the area code is not mapped.
func InferTimezone(e164 string) string {
	if !strings.HasPrefix(e164, "+1") || len(e164) < 5 {
		return ""
	}
	return areaCodeZones[e164[2:5]]
}

// ValidateWindow checks a window's hours and business zone.
func ValidateWindow(w Window) error {
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return fmt.Errorf("compliance: window %d-%d is invalid", w.StartHour, w.EndHour)
	}
	if _, err := time.LoadLocation(w.BusinessTimezone); err != nil {
		return fmt.Errorf("compliance: business timezone %q: %w", w.BusinessTimezone, err)
	}
	return nil
}
