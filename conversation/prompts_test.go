package conversation

import (
	"strings"
	"testing"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/risk"
)

func TestLanguageName(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"en", "English"},
		{"bn", "Bengali"},
		{"PA", "Punjabi"},
		{"fr", "French"},
		{"", "English"},
		{"not a language!", "English"},
	}
	for _, tt := range tests {
		if got := LanguageName(tt.code); got != tt.want {
			t.Errorf("LanguageName(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestRouting(t *testing.T) {
	tests := []struct {
		text      string
		personal  bool
		knowledge bool
	}{
		{"what's my name", true, false},
		{"What's my name? explain please", true, false},
		{"What is depression?", false, true},
		{"Can you explain my mood swings", false, false},
		{"Who is Carl Rogers", false, true},
		{"I had a rough day", false, false},
		{"Do you remember what I said?", true, false},
	}
	for _, tt := range tests {
		if got := IsPersonalQuery(tt.text); got != tt.personal {
			t.Errorf("IsPersonalQuery(%q) = %v", tt.text, got)
		}
		if got := WantsKnowledge(tt.text); got != tt.knowledge {
			t.Errorf("WantsKnowledge(%q) = %v", tt.text, got)
		}
	}
}

func TestIsClosingWord(t *testing.T) {
	for _, w := range []string{"end", "Done", " stop\n", "FINISH"} {
		if !IsClosingWord(w) {
			t.Errorf("%q should close the session", w)
		}
	}
	for _, w := range []string{"I'm done with work", "the end is near", ""} {
		if IsClosingWord(w) {
			t.Errorf("%q should not close the session", w)
		}
	}
}

func TestEmotionDigest(t *testing.T) {
	text := &emotion.Result{Emotion: "fear", Confidence: 0.7, Risk: risk.Medium}
	face := &facial.Emotion{Emotion: "sad", Confidence: 0.91, Mood: 3}

	got := emotionDigest(text, face)
	want := "\n\nEmotion Analysis: text analysis shows fear (confidence: 0.70, risk: medium) and " +
		"facial expression shows sad (confidence: 0.91 (mood level: 3/10))."
	if !strings.HasPrefix(got, want) {
		t.Fatalf("got %q", got)
	}
	if emotionDigest(&emotion.Result{Confidence: 0.5}, &facial.Emotion{Confidence: 0.2}) != "" {
		t.Fatal("signals at or below 0.5 confidence must be dropped")
	}
	if emotionDigest(nil, nil) != "" {
		t.Fatal("no signals, no digest")
	}
}

func TestReplyUserContent(t *testing.T) {
	got := replyUserContent("hello", "", nil, nil)
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
	got = replyUserContent("hello", "User: hi", nil, nil)
	if got != "hello\n\nPrevious conversation context:\nUser: hi" {
		t.Fatalf("got %q", got)
	}
}
