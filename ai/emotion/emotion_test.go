package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoCodeAlone/mindcare/ai/risk"
)

func testModel() *Model {
	return &Model{
		Labels: []string{"joy", "sadness", "fear", "anger"},
		Bias:   []float64{0, 0, 0, 0},
		Weights: map[string][]float64{
			"happy":     {3, 0, 0, 0},
			"sad":       {0, 3, 0, 0},
			"scared":    {0, 0, 3, 0},
			"angry":     {0, 0, 0, 3},
			"not happy": {-4, 2, 0, 0},
		},
	}
}

func writeModel(t *testing.T, dir string, m *Model) string {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "emotion_model.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyze(t *testing.T) {
	a := NewAnalyzerWithModel(testModel())

	tests := []struct {
		text     string
		emotion  string
		polarity string
		risk     risk.Level
	}{
		{"I am so happy today", "joy", "positive", risk.Low},
		{"I feel sad", "sadness", "negative", risk.High},
		{"I'm scared of tomorrow", "fear", "negative", risk.Medium},
		{"so ANGRY right now", "anger", "negative", risk.Medium},
		{"I am not happy", "sadness", "negative", risk.High},
	}
	for _, tt := range tests {
		got, err := a.Analyze(tt.text)
		if err != nil {
			t.Fatalf("Analyze(%q): %v", tt.text, err)
		}
		if got.Emotion != tt.emotion || got.Polarity != tt.polarity || got.Risk != tt.risk {
			t.Errorf("Analyze(%q) = %+v, want %s/%s/%v", tt.text, got, tt.emotion, tt.polarity, tt.risk)
		}
		if got.Confidence <= 0.25 || got.Confidence > 1 {
			t.Errorf("Analyze(%q) confidence %v out of range", tt.text, got.Confidence)
		}
	}
}

func TestAnalyze_Confidence(t *testing.T) {
	got, err := NewAnalyzerWithModel(testModel()).Analyze("sad")
	if err != nil {
		t.Fatal(err)
	}
	want := math.Exp(3) / (math.Exp(3) + 3)
	if math.Abs(got.Confidence-want) > 1e-4 {
		t.Fatalf("confidence = %v, want %v", got.Confidence, want)
	}
}

func TestAnalyze_UnknownLabelDefaults(t *testing.T) {
	m := &Model{Labels: []string{"surprise"}, Bias: []float64{1}}
	got, err := NewAnalyzerWithModel(m).Analyze("whoa")
	if err != nil {
		t.Fatal(err)
	}
	if got.Polarity != "neutral" || got.Risk != risk.Low {
		t.Fatalf("unexpected defaults %+v", got)
	}
}

func TestAnalyzer_FailsClosed(t *testing.T) {
	a, err := NewAnalyzer(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable from constructor, got %v", err)
	}
	if a.Available() {
		t.Fatal("analyzer should not report available")
	}
	if _, err := a.Analyze("I feel sad"); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestLoadModel_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadModel(path); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	bad := testModel()
	bad.Bias = []float64{0}
	path = writeModel(t, dir, bad)
	if _, err := LoadModel(path); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for mismatched bias, got %v", err)
	}
}

func TestReload_KeepsPreviousModelOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, testModel())
	a, err := NewAnalyzer(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := a.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if _, err := a.Analyze("sad"); err != nil {
		t.Fatalf("previous model should still serve: %v", err)
	}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("I'm NOT happy!")
	want := []string{"i'm", "not", "i'm not", "happy", "not happy"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize = %v, want %v", got, want)
		}
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeModel(t, dir, &Model{Labels: []string{"joy"}, Bias: []float64{0}})
	a, err := NewAnalyzer(path)
	if err != nil {
		t.Fatal(err)
	}

	w := NewWatcher(a, nil)
	w.SetDebounce(20 * time.Millisecond)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop(context.Background())

	writeModel(t, dir, testModel())

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := a.Analyze("I feel sad")
		if err == nil && got.Emotion == "sadness" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("model was not reloaded after the artifact changed")
}
