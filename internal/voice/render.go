package voice

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/twiml"
)

// ContentType is the media type of rendered markup.
const ContentType = "text/xml"

// TokenIssuer mints stream tokens bound to a call.
type TokenIssuer interface {
	Issue(callID string) (string, error)
}

// Renderer turns Actions into TwiML.
type Renderer struct {
	baseURL   string
	streamURL string
	voice     string
	tokens    TokenIssuer
}

// NewRenderer creates a Renderer. Callback paths are made absolute against
// baseURL; stream steps connect to streamURL with a token from tokens.
func NewRenderer(baseURL, streamURL, voiceName string, tokens TokenIssuer) *Renderer {
	return &Renderer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		streamURL: streamURL,
		voice:     voiceName,
		tokens:    tokens,
	}
}

func (r *Renderer) url(path string) string {
	if path == "" || strings.Contains(path, "://") {
		return path
	}
	return r.baseURL + path
}

func (r *Renderer) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: text, Voice: r.voice}
}

// Render produces the voice document for a on call callID.
func (r *Renderer) Render(a Action, callID string) (string, error) {
	elems := make([]twiml.Element, 0, len(a.Steps))
	for _, s := range a.Steps {
		el, err := r.element(s, callID)
		if err != nil {
			return "", err
		}
		elems = append(elems, el)
	}
	out, err := twiml.Voice(elems)
	if err != nil {
		return "", fmt.Errorf("voice: render: %w", err)
	}
	return out, nil
}

func (r *Renderer) element(s Step, callID string) (twiml.Element, error) {
	switch s.Kind {
	case KindSay:
		return r.say(s.Text), nil
	case KindGather:
		input := "dtmf"
		if s.Speech {
			input = "dtmf speech"
		}
		g := &twiml.VoiceGather{
			Action:    r.url(s.Path),
			Method:    "POST",
			Input:     input,
			NumDigits: itoa(s.NumDigits),
			Timeout:   itoa(s.Timeout),
		}
		if s.Prompt != "" {
			g.InnerElements = []twiml.Element{r.say(s.Prompt)}
		}
		return g, nil
	case KindRecord:
		return &twiml.VoiceRecord{
			Action:             r.url(s.Path),
			Method:             "POST",
			MaxLength:          itoa(s.MaxLength),
			Timeout:            itoa(s.Timeout),
			FinishOnKey:        "#",
			PlayBeep:           "true",
			Transcribe:         "true",
			TranscribeCallback: r.url(s.Path) + "?transcript=1",
		}, nil
	case KindStream:
		return r.stream(s, callID)
	case KindDial:
		return &twiml.VoiceDial{
			Number:   s.Number,
			CallerId: s.CallerID,
			Timeout:  itoa(s.Timeout),
		}, nil
	case KindRedirect:
		return &twiml.VoiceRedirect{Url: r.url(s.Path), Method: "POST"}, nil
	case KindPause:
		return &twiml.VoicePause{Length: itoa(s.Seconds)}, nil
	case KindHangup:
		return &twiml.VoiceHangup{}, nil
	}
	return nil, fmt.Errorf("voice: unknown step kind %q", s.Kind)
}

// stream mints a fresh token for the call and embeds it both in the stream
// URL and as a stream parameter, since the carrier forwards parameters in its
// start message.
func (r *Renderer) stream(s Step, callID string) (twiml.Element, error) {
	if r.tokens == nil {
		return nil, errors.New("voice: stream step without a token issuer")
	}
	if callID == "" {
		return nil, errors.New("voice: stream step without a call id")
	}
	tok, err := r.tokens.Issue(callID)
	if err != nil {
		return nil, fmt.Errorf("voice: issue stream token: %w", err)
	}
	sep := "?"
	if strings.Contains(r.streamURL, "?") {
		sep = "&"
	}
	stream := &twiml.VoiceStream{
		Url: r.streamURL + sep + "token=" + tok,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "token", Value: tok},
			&twiml.VoiceParameter{Name: "record", Value: strconv.FormatBool(s.Record)},
		},
	}
	return &twiml.VoiceConnect{
		Action:        r.url(s.Path),
		Method:        "POST",
		InnerElements: []twiml.Element{stream},
	}, nil
}

// RenderMessage produces a messaging document replying with body, or an
// empty document when body is empty.
func RenderMessage(body string) (string, error) {
	var elems []twiml.Element
	if body != "" {
		elems = append(elems, &twiml.MessagingMessage{Body: body})
	}
	out, err := twiml.Messages(elems)
	if err != nil {
		return "", fmt.Errorf("voice: render message: %w", err)
	}
	return out, nil
}

func itoa(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
