package conversation

import (
	"strings"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/recommend"
	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/ai/sentiment"
	"github.com/GoCodeAlone/mindcare/memory"
)

// MaxAssistantMessages is the number of assistant messages after which the
// next turn closes the session with a summary.
const MaxAssistantMessages = 8

// ContextMessages is how many recent messages are shown to the generator.
const ContextMessages = 10

// DefaultLanguage is used when a request carries no language.
const DefaultLanguage = "en"

var closingWords = map[string]struct{}{
	"end": {}, "finish": {}, "stop": {}, "done": {},
}

// IsClosingWord reports whether text, on its own, asks to end the session.
func IsClosingWord(text string) bool {
	_, ok := closingWords[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// Request is one user turn.
type Request struct {
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	Text      string          `json:"text"`
	Language  string          `json:"language,omitempty"`
	Facial    *facial.Emotion `json:"facial_emotion,omitempty"`
	// History is the session's message log before this turn.
	History []memory.Message `json:"-"`
}

// Turn is the state threaded through every node. All fields are set by the
// init node so handlers never deal with missing values.
type Turn struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	Input     string `json:"text"`

	Messages []memory.Message `json:"messages"`

	Risk        risk.Level          `json:"risk"`
	KeywordRisk risk.Level          `json:"-"`
	Sentiment   *sentiment.Analysis `json:"sentiment,omitempty"`
	TextEmotion *emotion.Result     `json:"text_emotion,omitempty"`
	Facial      *facial.Emotion     `json:"facial_emotion,omitempty"`

	Reply    string `json:"reply,omitempty"`
	Question string `json:"question,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Done     bool   `json:"done"`

	Recommendations []recommend.Recommendation `json:"recommendations"`
	Decision        Decision                   `json:"decision_type,omitempty"`
	Path            []State                    `json:"path,omitempty"`

	priorAssistant int
}

// AssistantReply is the text shown to the user for this turn: the reply when
// one was generated, otherwise the follow-up question.
func (t *Turn) AssistantReply() string {
	if t.Reply != "" {
		return t.Reply
	}
	return t.Question
}

// NewMessages returns the messages appended during this turn, starting with
// the user's input.
func (t *Turn) NewMessages(history []memory.Message) []memory.Message {
	if len(t.Messages) <= len(history) {
		return nil
	}
	return t.Messages[len(history):]
}

func (t *Turn) appendAssistant(text string) {
	t.Messages = append(t.Messages, memory.NewMessage(memory.RoleAssistant, text))
}
