// Package sentiment scores the polarity of a user message with a weighted
// lexicon that understands simple negation and intensifiers.
package sentiment

import (
	"context"
	"errors"
	"math"
	"strings"
)

// ErrEmptyText is returned when there is nothing to analyze.
var ErrEmptyText = errors.New("sentiment: empty text")

// Score represents a polarity from -1 (very negative) to 1 (very positive).
type Score float64

// Label thresholds.
const (
	PositiveThreshold Score = 0.1
	NegativeThreshold Score = -0.1
)

// Label returns positive, negative or neutral using fixed ±0.1 thresholds.
func (s Score) Label() string {
	switch {
	case s > PositiveThreshold:
		return "positive"
	case s < NegativeThreshold:
		return "negative"
	default:
		return "neutral"
	}
}

// Analysis is the sentiment of a single message.
type Analysis struct {
	Polarity Score    `json:"polarity"`
	Label    string   `json:"label"`
	Keywords []string `json:"keywords,omitempty"`
}

// Analyzer performs lexicon-based sentiment analysis. It is safe for
// concurrent use once constructed.
type Analyzer struct {
	positive     map[string]float64
	negative     map[string]float64
	intensifiers map[string]float64
	negations    map[string]struct{}
}

// NewAnalyzer creates an Analyzer with the built-in lexicon.
func NewAnalyzer() *Analyzer {
	neg := make(map[string]struct{})
	for _, w := range defaultNegations() {
		neg[w] = struct{}{}
	}
	return &Analyzer{
		positive:     defaultPositiveWords(),
		negative:     defaultNegativeWords(),
		intensifiers: defaultIntensifiers(),
		negations:    neg,
	}
}

// Analyze scores text. The context is accepted so callers can treat this the
// same as the other analyzers in a turn; the lexicon never blocks.
func (a *Analyzer) Analyze(_ context.Context, text string) (*Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	words := strings.Fields(strings.ToLower(text))
	var total float64
	var matches int
	var keywords []string

	for i, word := range words {
		cleaned := clean(word)

		negated := false
		intensity := 1.0
		if i > 0 {
			prev := clean(words[i-1])
			if _, ok := a.negations[prev]; ok {
				negated = true
			}
			if mult, ok := a.intensifiers[prev]; ok {
				intensity = mult
				// "not very happy": look one word further back for the negation.
				if i > 1 {
					if _, ok := a.negations[clean(words[i-2])]; ok {
						negated = true
					}
				}
			}
		}

		var delta float64
		if w, ok := a.positive[cleaned]; ok {
			delta = w * intensity
		} else if w, ok := a.negative[cleaned]; ok {
			delta = -w * intensity
		} else {
			continue
		}
		if negated {
			delta = -delta
		}
		total += delta
		matches++
		keywords = append(keywords, cleaned)
	}

	var polarity Score
	if matches > 0 {
		polarity = Score(math.Max(-1, math.Min(1, total/float64(matches))))
	}
	polarity = Score(math.Round(float64(polarity)*100) / 100)

	return &Analysis{
		Polarity: polarity,
		Label:    polarity.Label(),
		Keywords: keywords,
	}, nil
}

func clean(word string) string {
	return strings.Trim(word, ".,!?;:'\"()")
}

func defaultPositiveWords() map[string]float64 {
	return map[string]float64{
		"good": 0.6, "better": 0.7, "best": 0.8,
		"happy": 0.8, "glad": 0.6, "great": 0.7,
		"wonderful": 0.9, "amazing": 0.9, "love": 0.8,
		"like": 0.3, "hope": 0.6, "hopeful": 0.7,
		"grateful": 0.8, "thankful": 0.7, "thanks": 0.5,
		"helped": 0.6, "helpful": 0.6, "safe": 0.7,
		"calm": 0.6, "relaxed": 0.6, "peaceful": 0.7,
		"rested": 0.6, "energetic": 0.6, "excited": 0.7,
		"okay": 0.3, "fine": 0.3, "alright": 0.3,
		"improving": 0.6, "progress": 0.5, "proud": 0.7,
		"loved": 0.8, "supported": 0.6, "smile": 0.6,
	}
}

func defaultNegativeWords() map[string]float64 {
	return map[string]float64{
		"sad": 0.6, "depressed": 0.8, "hopeless": 0.9,
		"anxious": 0.6, "worried": 0.5, "scared": 0.7,
		"angry": 0.7, "furious": 0.9, "hate": 0.8,
		"terrible": 0.8, "awful": 0.8, "horrible": 0.8,
		"worst": 0.9, "bad": 0.5, "painful": 0.7,
		"hurt": 0.7, "suffering": 0.8, "miserable": 0.8,
		"lonely": 0.6, "alone": 0.5, "empty": 0.7,
		"numb": 0.6, "worthless": 0.9, "useless": 0.8,
		"failure": 0.8, "burden": 0.8, "guilty": 0.6,
		"ashamed": 0.7, "afraid": 0.7, "panic": 0.8,
		"overwhelmed": 0.7, "stressed": 0.6, "exhausted": 0.6,
		"tired": 0.4, "restless": 0.4, "insomnia": 0.5,
		"crying": 0.5, "broken": 0.8, "trapped": 0.8,
		"stuck": 0.5, "lost": 0.5, "die": 0.9,
	}
}

func defaultIntensifiers() map[string]float64 {
	return map[string]float64{
		"very":       1.5,
		"really":     1.4,
		"extremely":  1.8,
		"incredibly": 1.7,
		"so":         1.3,
		"too":        1.2,
		"completely": 1.5,
		"totally":    1.4,
	}
}

func defaultNegations() []string {
	return []string{
		"not", "no", "never", "nothing", "hardly",
		"cannot", "can't", "won't", "don't", "doesn't",
		"didn't", "isn't", "aren't", "wasn't", "haven't",
	}
}
