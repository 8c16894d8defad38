package emotion

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode"
)

// Model is a trained linear bag-of-words classifier exported as JSON by the
// offline training pipeline. Weights[token][i] is the contribution of token to
// Labels[i].
type Model struct {
	Labels   []string             `json:"labels"`
	Bias     []float64            `json:"bias"`
	Weights  map[string][]float64 `json:"weights"`
	LabelMap *LabelMap            `json:"label_map,omitempty"`
}

// LabelMap maps raw emotion labels to coarse polarity and risk names.
type LabelMap struct {
	Polarity map[string]string `json:"polarity_map"`
	Risk     map[string]string `json:"risk_map"`
}

// LoadModel reads and validates a model artifact.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrModelUnavailable, path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return &m, nil
}

// Validate checks that every weight vector has one entry per label.
func (m *Model) Validate() error {
	if len(m.Labels) == 0 {
		return fmt.Errorf("model has no labels")
	}
	if len(m.Bias) != len(m.Labels) {
		return fmt.Errorf("bias has %d entries, want %d", len(m.Bias), len(m.Labels))
	}
	for tok, w := range m.Weights {
		if len(w) != len(m.Labels) {
			return fmt.Errorf("weights for %q have %d entries, want %d", tok, len(w), len(m.Labels))
		}
	}
	return nil
}

// Predict returns the probability of each label for text.
func (m *Model) Predict(text string) []float64 {
	logits := make([]float64, len(m.Labels))
	copy(logits, m.Bias)
	for _, tok := range Tokenize(text) {
		w, ok := m.Weights[tok]
		if !ok {
			continue
		}
		for i := range logits {
			logits[i] += w[i]
		}
	}
	return softmax(logits)
}

// Tokenize lowercases text and splits it into unigrams and bigrams, matching
// the vectorizer used at training time.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	tokens := make([]string, 0, len(words)*2)
	for i, w := range words {
		tokens = append(tokens, w)
		if i > 0 {
			tokens = append(tokens, words[i-1]+" "+w)
		}
	}
	return tokens
}

func softmax(logits []float64) []float64 {
	max := math.Inf(-1)
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
