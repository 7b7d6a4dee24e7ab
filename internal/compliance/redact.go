package compliance

import "regexp"

// Patterns run in order: wider shapes first so a card number is not eaten
// by the phone pattern and an email's digits survive as part of [EMAIL].
var redactions = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), "[CARD]"},
	{regexp.MustCompile(`\+\d{10,15}`), "[PHONE]"},
	{regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`), "[PHONE]"},
	{regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`\b\d{3}[-\s]?\d{3}[-\s]?\d{3}\b`), "[SIN]"},
}

// Redact masks card numbers, SSN and SIN shaped sequences, phone numbers and
// email addresses. Apply it to any caller text before it is logged or stored.
func Redact(text string) string {
	if text == "" {
		return text
	}
	for _, r := range redactions {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	return text
}
