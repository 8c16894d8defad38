// Package risk provides the coarse safety-triage level used throughout a
// conversation turn and the keyword classifier that produces it.
package risk

import (
	"fmt"
	"strings"
)

// Level is an ordered safety-triage signal. The zero value is Low.
type Level int

const (
	Low Level = iota
	Medium
	High
)

// String returns the lowercase name of the level.
func (l Level) String() string {
	switch l {
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "low"
	}
}

// ParseLevel converts a level name into a Level. Matching is case-insensitive.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "":
		return Low, nil
	case "medium":
		return Medium, nil
	case "high":
		return High, nil
	default:
		return Low, fmt.Errorf("unknown risk level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Max returns the higher of two levels.
func Max(a, b Level) Level {
	if b > a {
		return b
	}
	return a
}

// AtLeast reports whether l is at or above min.
func (l Level) AtLeast(min Level) bool {
	return l >= min
}

// crisisPhrases overmatches on purpose: a false positive costs a supportive
// message, a false negative costs much more.
var crisisPhrases = []string{
	"suicide",
	"kill myself",
	"end my life",
	"want to die",
	"hurt myself",
	"no reason to live",
	"cut myself",
	"self harm",
	"self-harm",
	"harm myself",
	"die by suicide",
	"suicidal",
}

// Phrases returns a copy of the crisis phrase list.
func Phrases() []string {
	out := make([]string, len(crisisPhrases))
	copy(out, crisisPhrases)
	return out
}

// Classify maps free text to High when it contains any crisis phrase and Low
// otherwise.
func Classify(text string) Level {
	if len(Matches(text)) > 0 {
		return High
	}
	return Low
}

// Matches returns the crisis phrases contained in text, in list order.
func Matches(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, phrase := range crisisPhrases {
		if strings.Contains(lower, phrase) {
			found = append(found, phrase)
		}
	}
	return found
}
