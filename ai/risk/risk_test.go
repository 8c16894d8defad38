package risk

import (
	"encoding/json"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Level
	}{
		{"I want to end my life", High},
		{"sometimes I think about SUICIDE", High},
		{"I have been having self-harm thoughts", High},
		{"i feel suicidal tonight", High},
		{"there is no reason to live anymore", High},
		{"I had a long day at work", Low},
		{"", Low},
		{"I want to die my hair blue", High},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClassify_EveryPhrase(t *testing.T) {
	for _, p := range Phrases() {
		if Classify("so... "+p+" ...") != High {
			t.Errorf("phrase %q did not classify as high", p)
		}
	}
}

func TestMatches(t *testing.T) {
	got := Matches("I want to kill myself, I feel suicidal")
	if len(got) != 2 || got[0] != "kill myself" || got[1] != "suicidal" {
		t.Fatalf("unexpected matches: %v", got)
	}
	if Matches("fine thanks") != nil {
		t.Fatal("expected no matches")
	}
}

func TestLevelOrderingAndMax(t *testing.T) {
	if !(Low < Medium && Medium < High) {
		t.Fatal("levels are not ordered")
	}
	if Max(Low, High) != High || Max(High, Medium) != High || Max(Medium, Low) != Medium {
		t.Fatal("Max returned wrong level")
	}
	if !High.AtLeast(Medium) || Low.AtLeast(Medium) {
		t.Fatal("AtLeast returned wrong result")
	}
}

func TestLevelJSON(t *testing.T) {
	b, err := json.Marshal(map[string]Level{"risk": Medium})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"risk":"medium"}` {
		t.Fatalf("got %s", b)
	}

	var out struct {
		Risk Level `json:"risk"`
	}
	if err := json.Unmarshal([]byte(`{"risk":"HIGH"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.Risk != High {
		t.Fatalf("got %v", out.Risk)
	}
	if err := json.Unmarshal([]byte(`{"risk":"severe"}`), &out); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
