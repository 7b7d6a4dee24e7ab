// Package voice describes the next thing a call or message should do as a
// small declarative Action, and renders it to carrier markup. Actions are
// plain data so they can be cached by the idempotency layer and replayed;
// anything time-sensitive, such as a stream token, is produced at render time.
package voice

// Kind is one verb of an Action.
type Kind string

const (
	KindSay      Kind = "say"
	KindGather   Kind = "gather"
	KindRecord   Kind = "record"
	KindStream   Kind = "stream"
	KindDial     Kind = "dial"
	KindRedirect Kind = "redirect"
	KindPause    Kind = "pause"
	KindHangup   Kind = "hangup"
)

// Callback paths, relative to the public base URL.
const (
	PathInbound   = "/voice/inbound"
	PathConsent   = "/voice/consent"
	PathMenu      = "/voice/menu"
	PathConnect   = "/voice/connect"
	PathRecording = "/voice/recording"
	PathStatus    = "/voice/status"
	PathStream    = "/voice/stream"
)

// Step is one verb. Say prompts nested in a Gather are carried in Prompt.
type Step struct {
	Kind      Kind   `json:"kind"`
	Text      string `json:"text,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
	Path      string `json:"path,omitempty"`
	NumDigits int    `json:"numDigits,omitempty"`
	Timeout   int    `json:"timeout,omitempty"`
	Speech    bool   `json:"speech,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
	Number    string `json:"number,omitempty"`
	CallerID  string `json:"callerId,omitempty"`
	Seconds   int    `json:"seconds,omitempty"`
	Record    bool   `json:"record,omitempty"`
}

// Action is the full response to one voice webhook.
type Action struct {
	Steps []Step `json:"steps"`
}

// HasStream reports whether rendering a needs a stream token.
func (a Action) HasStream() bool {
	for _, s := range a.Steps {
		if s.Kind == KindStream {
			return true
		}
	}
	return false
}

// Ends reports whether the action hangs up.
func (a Action) Ends() bool {
	n := len(a.Steps)
	return n > 0 && a.Steps[n-1].Kind == KindHangup
}

// Prompts.
const (
	PromptConsent     = "Press 1 to consent to recording. Otherwise, we will continue without recording."
	PromptMenu        = "Press 1 for Sales. Press 2 for Support. Press 9 to leave a voicemail."
	PromptVoicemail   = "Please leave a message after the tone. Press pound when finished."
	PromptRecorded    = "Thank you. Your message has been recorded. Goodbye."
	PromptRateLimited = "We're experiencing high call volume. Please try again in a moment."
	PromptFallback    = "We're sorry, we are unable to take your call right now. Please try again later. Goodbye."
	PromptConnecting  = "Please hold while we connect you."
	PromptTransfer    = "Connecting you to a member of our team."
	PromptGoodbye     = "Thank you for calling. Goodbye."
	PromptNoSelection = "We did not receive a selection."
)

// Greeting welcomes the caller by business name.
func Greeting(business string) string {
	return "Thank you for calling " + business + "."
}

// Consent greets the caller and asks for recording consent. No input falls
// through to the consent callback with no digits.
func Consent(business string) Action {
	return Action{Steps: []Step{
		{Kind: KindGather, Prompt: Greeting(business) + " " + PromptConsent, Path: PathConsent, NumDigits: 1, Timeout: 5},
		{Kind: KindRedirect, Path: PathConsent},
	}}
}

// Menu offers the IVR choices. Digits or speech go to the menu callback.
func Menu() Action {
	return Action{Steps: []Step{
		{Kind: KindGather, Prompt: PromptMenu, Path: PathMenu, NumDigits: 1, Timeout: 6, Speech: true},
		{Kind: KindSay, Text: PromptNoSelection},
		{Kind: KindRedirect, Path: PathMenu},
	}}
}

// Stream connects the call to the realtime assistant. record marks whether
// the media leg may be recorded.
func Stream(record bool) Action {
	return Action{Steps: []Step{
		{Kind: KindSay, Text: PromptConnecting},
		{Kind: KindStream, Path: PathConnect, Record: record},
	}}
}

// Voicemail prompts and records a message. The carrier continues at the
// recording callback, which answers with Recorded.
func Voicemail(maxLength int) Action {
	return Action{Steps: []Step{
		{Kind: KindSay, Text: PromptVoicemail},
		{Kind: KindRecord, Path: PathRecording, MaxLength: maxLength, Timeout: 5},
	}}
}

// Recorded thanks the caller after a voicemail and hangs up.
func Recorded() Action { return Say(PromptRecorded) }

// Transfer dials a human.
func Transfer(number, callerID string) Action {
	return Action{Steps: []Step{
		{Kind: KindSay, Text: PromptTransfer},
		{Kind: KindDial, Number: number, CallerID: callerID, Timeout: 20},
		{Kind: KindSay, Text: PromptGoodbye},
		{Kind: KindHangup},
	}}
}

// Goodbye ends the call politely.
func Goodbye() Action { return Say(PromptGoodbye) }

// RateLimited is the terminal action for a denied voice request.
func RateLimited() Action { return Say(PromptRateLimited) }

// Fallback is returned when handling fails so the caller is never left in
// silence.
func Fallback() Action { return Say(PromptFallback) }

// Retry asks the carrier to come back to path shortly, for a delivery whose
// twin is still being processed.
func Retry(path string) Action {
	return Action{Steps: []Step{
		{Kind: KindPause, Seconds: 1},
		{Kind: KindRedirect, Path: path},
	}}
}

// Say speaks text and hangs up.
func Say(text string) Action {
	return Action{Steps: []Step{{Kind: KindSay, Text: text}, {Kind: KindHangup}}}
}

// Empty acknowledges a webhook without doing anything.
func Empty() Action { return Action{} }
