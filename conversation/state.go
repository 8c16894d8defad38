// Package conversation runs one user turn through the assistant's finite
// state machine: risk and emotion analysis, crisis handling, routing between
// knowledge lookup and an empathetic reply, and the follow-up question or
// closing summary.
package conversation

// State is a node of the conversation state machine.
type State int

const (
	StateInit State = iota
	StateRiskCheck
	StateAnalyzeSentiment
	StateAnalyzeEmotion
	StateCrisisResponse
	StateRouter
	StateKnowledgeLookup
	StateEmpatheticReply
	StateNextQuestion
	StateSummarize
	StateDone
)

var stateNames = map[State]string{
	StateInit:             "init",
	StateRiskCheck:        "risk_check",
	StateAnalyzeSentiment: "analyze_sentiment",
	StateAnalyzeEmotion:   "analyze_emotion",
	StateCrisisResponse:   "crisis_response",
	StateRouter:           "router",
	StateKnowledgeLookup:  "knowledge_lookup",
	StateEmpatheticReply:  "empathetic_reply",
	StateNextQuestion:     "next_question",
	StateSummarize:        "summarize",
	StateDone:             "done",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Decision describes which reply path a turn took.
type Decision string

const (
	DecisionCrisis     Decision = "crisis"
	DecisionKnowledge  Decision = "knowledge"
	DecisionPersonal   Decision = "personal"
	DecisionEmpathetic Decision = "empathetic"
)
