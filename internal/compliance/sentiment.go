package compliance

import (
	"strings"
	"unicode"
)

var (
	positiveWords = map[string]bool{
		"great": true, "good": true, "thanks": true, "thank": true, "happy": true,
		"excellent": true, "perfect": true, "appreciate": true, "love": true,
		"wonderful": true, "helpful": true, "awesome": true, "pleased": true,
	}
	negativeWords = map[string]bool{
		"angry": true, "upset": true, "terrible": true, "awful": true, "horrible": true,
		"worst": true, "frustrated": true, "furious": true, "ridiculous": true,
		"unacceptable": true, "hate": true, "disappointed": true, "useless": true,
		"complaint": true, "annoyed": true, "bad": true, "lawsuit": true,
		"lawyer": true, "scam": true, "rude": true,
	}
	negations = map[string]bool{
		"not": true, "no": true, "never": true, "don't": true, "didn't": true,
		"isn't": true, "wasn't": true, "can't": true, "won't": true, "hardly": true,
	}
	humanPhrases = []string{
		"speak to a human", "talk to a human", "speak to a person", "talk to a person",
		"real person", "representative", "operator", "speak to someone",
		"talk to someone", "speak with someone", "live agent", "a manager",
	}
)

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// ScoreSentiment returns a lexicon score in (-1, 1): (pos-neg)/(pos+neg+1).
// A negation directly before a sentiment word flips it.
func ScoreSentiment(text string) float64 {
	var pos, neg float64
	toks := tokens(text)
	for i, tok := range toks {
		p, n := positiveWords[tok], negativeWords[tok]
		if !p && !n {
			continue
		}
		if i > 0 && negations[toks[i-1]] {
			p, n = n, p
		}
		if p {
			pos++
		} else {
			neg++
		}
	}
	return (pos - neg) / (pos + neg + 1)
}

// HumanRequested detects an explicit request for a person, by phrase or by
// pressing 0.
func HumanRequested(text, digits string) bool {
	if digits == "0" {
		return true
	}
	lower := strings.ToLower(text)
	for _, p := range humanPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
