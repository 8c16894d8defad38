// Package emotion classifies user text into a discrete emotion with a
// confidence, coarse polarity and risk level using an offline-trained model.
//
// The analyzer fails closed: when the model artifact is missing or corrupt it
// returns ErrModelUnavailable instead of guessing, and callers proceed with no
// emotion signal.
package emotion

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/GoCodeAlone/mindcare/ai/risk"
)

// ErrModelUnavailable is returned when no usable model artifact is loaded.
var ErrModelUnavailable = errors.New("emotion model unavailable")

// Result is a text-derived emotion signal.
type Result struct {
	Emotion    string     `json:"emotion"`
	Confidence float64    `json:"confidence"`
	Polarity   string     `json:"polarity"`
	Risk       risk.Level `json:"risk"`
}

// DefaultLabelMap is used when the artifact carries no label map of its own.
func DefaultLabelMap() LabelMap {
	return LabelMap{
		Polarity: map[string]string{
			"joy":     "positive",
			"fear":    "negative",
			"anger":   "negative",
			"sadness": "negative",
			"disgust": "negative",
			"shame":   "negative",
			"guilt":   "negative",
		},
		Risk: map[string]string{
			"joy":     "low",
			"fear":    "medium",
			"anger":   "medium",
			"sadness": "high",
			"disgust": "medium",
			"shame":   "high",
			"guilt":   "high",
		},
	}
}

// Analyzer wraps a Model that may be swapped at runtime by a Watcher.
type Analyzer struct {
	model atomic.Pointer[Model]
	path  string
}

// NewAnalyzer loads the artifact at path. A load failure is not fatal: the
// returned Analyzer reports ErrModelUnavailable until a valid artifact is
// loaded with Reload. The load error is returned alongside for logging.
func NewAnalyzer(path string) (*Analyzer, error) {
	a := &Analyzer{path: path}
	if path == "" {
		return a, ErrModelUnavailable
	}
	return a, a.Reload()
}

// NewAnalyzerWithModel creates an Analyzer around an in-memory model.
func NewAnalyzerWithModel(m *Model) *Analyzer {
	a := &Analyzer{}
	a.model.Store(m)
	return a
}

// Path returns the artifact path the analyzer loads from.
func (a *Analyzer) Path() string { return a.path }

// Reload re-reads the artifact from disk. On failure the previously loaded
// model, if any, stays active.
func (a *Analyzer) Reload() error {
	m, err := LoadModel(a.path)
	if err != nil {
		return err
	}
	a.model.Store(m)
	return nil
}

// Available reports whether a model is loaded.
func (a *Analyzer) Available() bool {
	return a.model.Load() != nil
}

// Analyze classifies text.
func (a *Analyzer) Analyze(text string) (*Result, error) {
	m := a.model.Load()
	if m == nil {
		return nil, ErrModelUnavailable
	}

	probs := m.Predict(text)
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	label := m.Labels[best]

	lm := DefaultLabelMap()
	if m.LabelMap != nil {
		lm = *m.LabelMap
	}
	polarity, ok := lm.Polarity[label]
	if !ok {
		polarity = "neutral"
	}
	level := risk.Low
	if name, ok := lm.Risk[label]; ok {
		parsed, err := risk.ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("label map for %q: %w", label, err)
		}
		level = parsed
	}

	return &Result{
		Emotion:    label,
		Confidence: math.Round(probs[best]*10000) / 10000,
		Polarity:   polarity,
		Risk:       level,
	}, nil
}
