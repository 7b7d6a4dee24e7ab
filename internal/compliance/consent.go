// Package compliance holds the pure policy functions applied to every call
// and message event: consent, quiet hours, categorization, redaction and
// escalation. Nothing here touches the database; callers persist the
// resulting Decision alongside the lifecycle event it governed.
package compliance

import "github.com/zulandar/switchboard/internal/models"

// SMS purposes.
const (
	PurposeTransactional = "transactional"
	PurposeMarketing     = "marketing"
)

// Reasons recorded when an action is suppressed or a policy input is unknown.
const (
	ReasonRecordingConsentUnknown = "recording_skipped_consent_unknown"
	ReasonRecordingConsentDenied  = "recording_skipped_consent_denied"
	ReasonRecordingDisabled       = "recording_disabled"
	ReasonTimezoneUnknown         = "timezone_unknown"
	ReasonTimezoneInvalid         = "timezone_invalid"
	ReasonQuietHours              = "quiet_hours_active"
	ReasonSuppressed              = "suppressed"
	ReasonSMSNoOptIn              = "sms_no_opt_in"
	ReasonUnknownPurpose          = "unknown_purpose"
)

// EvaluateRecordingConsent reports whether the session may be recorded.
// Only an explicit yes counts.
func EvaluateRecordingConsent(s *models.CallSession) bool {
	return s != nil && s.ConsentRecording != nil && *s.ConsentRecording
}

// recordingReason explains a refused recording.
func recordingReason(s *models.CallSession) string {
	if s == nil || s.ConsentRecording == nil {
		return ReasonRecordingConsentUnknown
	}
	return ReasonRecordingConsentDenied
}

// EvaluateSMSConsent reports whether an SMS with purpose may be sent given
// the recipient's opt-in state. Transactional replies are always allowed;
// marketing requires an explicit opt-in.
func EvaluateSMSConsent(optIn *bool, purpose string) (bool, string) {
	switch purpose {
	case PurposeTransactional:
		return true, ""
	case PurposeMarketing:
		if optIn != nil && *optIn {
			return true, ""
		}
		return false, ReasonSMSNoOptIn
	default:
		return false, ReasonUnknownPurpose
	}
}
