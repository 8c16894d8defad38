// Package facial turns an image into a facial-emotion signal by delegating to
// an external face-analysis capability.
//
// Detection walks an ordered list of detector backends. Each backend is tried
// strictly first (a face must be found) and then leniently; the first success
// wins. When every attempt fails the caller receives a *DetectionError whose
// message is safe to show to the user.
package facial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// NoFaceMessage is the user-facing text for a failed detection.
const NoFaceMessage = "No face detected in the image. Please ensure your face is clearly visible and well-lit."

// ErrNoFace matches any DetectionError via errors.Is.
var ErrNoFace = errors.New("no face detected")

// DefaultBackends is the detector priority order.
var DefaultBackends = []string{"retinaface", "opencv", "ssd", "mtcnn", "dlib"}

// Raw is what a backend reports before normalization.
type Raw struct {
	Dominant string             `json:"dominant_emotion"`
	Scores   map[string]float64 `json:"emotion"`
}

// Backend runs one detector. When strict is true the backend must fail if no
// face is found instead of analyzing the whole frame.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, image []byte, strict bool) (*Raw, error)
}

// Emotion is the normalized facial-emotion signal.
type Emotion struct {
	Emotion    string             `json:"emotion"`
	Confidence float64            `json:"confidence"`
	// Mood is on the 1-10 scale. Zero means the caller reported none and the
	// mood is taken from the label.
	Mood       int                `json:"mood"`
	Scores     map[string]float64 `json:"emotion_scores,omitempty"`
	Backend    string             `json:"backend,omitempty"`
}

// DetectionError is returned when no backend produced a result. Error returns
// the user-facing message; Last keeps the final backend error for logs.
type DetectionError struct {
	Attempts int
	Last     error
}

func (e *DetectionError) Error() string { return NoFaceMessage }

// Unwrap exposes ErrNoFace and the last backend error.
func (e *DetectionError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrNoFace}
	}
	return []error{ErrNoFace, e.Last}
}

// Detector tries its backends in order.
type Detector struct {
	backends []Backend
	logger   *slog.Logger
}

// NewDetector creates a Detector. The order of backends is the priority order.
func NewDetector(logger *slog.Logger, backends ...Backend) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{backends: backends, logger: logger}
}

// Detect analyzes image and returns the normalized emotion of the first
// successful attempt.
func (d *Detector) Detect(ctx context.Context, image []byte) (*Emotion, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("facial: empty image")
	}

	derr := &DetectionError{}
	for _, b := range d.backends {
		for _, strict := range []bool{true, false} {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			derr.Attempts++
			raw, err := b.Analyze(ctx, image, strict)
			if err == nil && raw != nil && len(raw.Scores) > 0 {
				em := FromRaw(raw)
				em.Backend = b.Name()
				return em, nil
			}
			if err == nil {
				err = fmt.Errorf("backend %s returned no scores", b.Name())
			}
			d.logger.Debug("facial backend attempt failed", "backend", b.Name(), "strict", strict, "err", err)
			derr.Last = fmt.Errorf("%s (strict=%t): %w", b.Name(), strict, err)
		}
	}
	return nil, derr
}

// FromRaw normalizes a backend result. The dominant label reported by the
// backend wins; when absent the highest normalized score is used.
func FromRaw(raw *Raw) *Emotion {
	scores := Normalize(raw.Scores)
	dominant := strings.ToLower(raw.Dominant)
	if _, ok := scores[dominant]; !ok || dominant == "" {
		dominant = argmax(scores)
	}
	conf := math.Max(0, math.Min(1, scores[dominant]))

	rounded := make(map[string]float64, len(scores))
	for k, v := range scores {
		rounded[k] = round4(v)
	}
	return &Emotion{
		Emotion:    dominant,
		Confidence: round4(conf),
		Mood:       MoodFor(dominant),
		Scores:     rounded,
	}
}

var moodScale = map[string]int{
	"angry":    3,
	"disgust":  2,
	"fear":     3,
	"happy":    8,
	"sad":      4,
	"surprise": 7,
	"neutral":  5,
}

// MoodFor maps a facial emotion label onto the 1-10 mood scale. Unknown
// labels map to 5.
func MoodFor(emotion string) int {
	if m, ok := moodScale[strings.ToLower(emotion)]; ok {
		return m
	}
	return 5
}

func argmax(scores map[string]float64) string {
	best := ""
	for k, v := range scores {
		if best == "" || v > scores[best] || (v == scores[best] && k < best) {
			best = k
		}
	}
	return best
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
