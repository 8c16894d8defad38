package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/GoCodeAlone/mindcare/ai/emotion"
	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/llm"
	"github.com/GoCodeAlone/mindcare/ai/recommend"
	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/ai/sentiment"
	"github.com/GoCodeAlone/mindcare/knowledge"
	"github.com/GoCodeAlone/mindcare/memory"
	"github.com/GoCodeAlone/mindcare/observability/tracing"
)

// ErrInvalidTransition is returned when a node hands control to a state it
// has no edge to.
var ErrInvalidTransition = errors.New("conversation: invalid transition")

// ErrGeneration wraps every language model failure.
var ErrGeneration = errors.New("conversation: generation failed")

// KnowledgeUnavailable is the reply used when a knowledge lookup fails.
const KnowledgeUnavailable = "I couldn't look that up right now. Could you tell me more about what you'd like to know?"

// neutralMood is assumed when no facial mood is supplied.
const neutralMood = 5

// lowMood and below escalates an otherwise low-risk turn to medium.
const lowMood = 3

// SentimentAnalyzer scores the polarity of a message.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, text string) (*sentiment.Analysis, error)
}

// EmotionAnalyzer classifies the emotion expressed in a message.
type EmotionAnalyzer interface {
	Analyze(text string) (*emotion.Result, error)
}

// Observer receives timing for calls to the language model.
type Observer interface {
	GenerationDone(kind string, elapsed time.Duration, err error)
}

// Config wires the engine to its collaborators. Only Generator is required.
type Config struct {
	Generator llm.Generator
	Sentiment SentimentAnalyzer
	Emotion   EmotionAnalyzer
	Knowledge knowledge.Source
	Tracer    *tracing.TurnTracer
	Observer  Observer
	Logger    *slog.Logger
}

type handler func(ctx context.Context, t *Turn) error

// transition picks the next state from the turn's derived fields.
type transition func(t *Turn) State

// Engine is the conversation state machine. It holds no per-turn state and
// is safe for concurrent use; callers serialise turns of the same session.
type Engine struct {
	generator llm.Generator
	sentiment SentimentAnalyzer
	emotion   EmotionAnalyzer
	knowledge knowledge.Source
	tracer    *tracing.TurnTracer
	observer  Observer
	logger    *slog.Logger

	handlers    map[State]handler
	transitions map[State]transition
	edges       map[State][]State
}

// NewEngine builds the state machine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Generator == nil {
		return nil, errors.New("conversation: a generator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.NewTurnTracer(nil)
	}
	e := &Engine{
		generator: cfg.Generator,
		sentiment: cfg.Sentiment,
		emotion:   cfg.Emotion,
		knowledge: cfg.Knowledge,
		tracer:    cfg.Tracer,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}

	e.handlers = map[State]handler{
		StateInit:             func(context.Context, *Turn) error { return nil },
		StateRiskCheck:        e.riskCheck,
		StateAnalyzeSentiment: e.analyzeSentiment,
		StateAnalyzeEmotion:   e.analyzeEmotion,
		StateCrisisResponse:   e.crisisResponse,
		StateRouter:           func(context.Context, *Turn) error { return nil },
		StateKnowledgeLookup:  e.knowledgeLookup,
		StateEmpatheticReply:  e.empatheticReply,
		StateNextQuestion:     e.nextQuestion,
		StateSummarize:        e.summarize,
	}

	fixed := func(s State) transition { return func(*Turn) State { return s } }
	e.transitions = map[State]transition{
		StateInit:             fixed(StateRiskCheck),
		StateRiskCheck:        fixed(StateAnalyzeSentiment),
		StateAnalyzeSentiment: fixed(StateAnalyzeEmotion),
		StateAnalyzeEmotion: func(t *Turn) State {
			if t.Risk == risk.High {
				return StateCrisisResponse
			}
			return StateRouter
		},
		StateCrisisResponse: fixed(StateEmpatheticReply),
		StateRouter: func(t *Turn) State {
			if e.knowledge != nil && WantsKnowledge(t.Input) {
				return StateKnowledgeLookup
			}
			return StateEmpatheticReply
		},
		StateKnowledgeLookup: fixed(StateNextQuestion),
		StateEmpatheticReply: func(t *Turn) State {
			if IsClosingWord(t.Input) || t.priorAssistant >= MaxAssistantMessages {
				return StateSummarize
			}
			return StateNextQuestion
		},
		StateNextQuestion: fixed(StateDone),
		StateSummarize:    fixed(StateDone),
	}

	e.edges = map[State][]State{
		StateInit:             {StateRiskCheck},
		StateRiskCheck:        {StateAnalyzeSentiment},
		StateAnalyzeSentiment: {StateAnalyzeEmotion},
		StateAnalyzeEmotion:   {StateCrisisResponse, StateRouter},
		StateCrisisResponse:   {StateEmpatheticReply},
		StateRouter:           {StateKnowledgeLookup, StateEmpatheticReply},
		StateKnowledgeLookup:  {StateNextQuestion},
		StateEmpatheticReply:  {StateNextQuestion, StateSummarize},
		StateNextQuestion:     {StateDone},
		StateSummarize:        {StateDone},
	}
	return e, nil
}

// NewTurn builds the fully defaulted turn record for a request. The user's
// input is appended to the history unless the history already ends with it,
// which makes a retried request idempotent.
func NewTurn(req Request) *Turn {
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = DefaultLanguage
	}
	msgs := make([]memory.Message, len(req.History), len(req.History)+4)
	copy(msgs, req.History)

	t := &Turn{
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		Language:        lang,
		Input:           req.Text,
		Risk:            risk.Low,
		KeywordRisk:     risk.Low,
		Facial:          req.Facial,
		Recommendations: []recommend.Recommendation{},
		priorAssistant:  memory.CountRole(req.History, memory.RoleAssistant),
	}
	if n := len(msgs); n == 0 || msgs[n-1].Role != memory.RoleUser || msgs[n-1].Text != req.Text {
		msgs = append(msgs, memory.NewMessage(memory.RoleUser, req.Text))
	}
	t.Messages = msgs
	return t
}

// Run executes one turn from init to a terminal state. A generator failure
// aborts the turn and is returned as-is; every other collaborator failure
// only drops the signal it would have produced.
func (e *Engine) Run(ctx context.Context, req Request) (*Turn, error) {
	ctx, span := e.tracer.StartTurn(ctx, req.UserID, req.SessionID)
	defer span.End()

	t := NewTurn(req)
	state := StateInit
	for steps := 0; state != StateDone; steps++ {
		if steps > len(e.handlers) {
			err := fmt.Errorf("%w: no terminal state reached after %d steps", ErrInvalidTransition, steps)
			e.tracer.RecordError(span, err)
			return nil, err
		}
		next, err := e.step(ctx, state, t)
		if err != nil {
			e.tracer.RecordError(span, err)
			return nil, err
		}
		t.Path = append(t.Path, state)
		state = next
	}

	e.logger.Debug("turn complete",
		"user_id", t.UserID, "session_id", t.SessionID,
		"risk", t.Risk, "decision", t.Decision, "done", t.Done, "path", t.Path)
	e.tracer.SetSuccess(span)
	return t, nil
}

func (e *Engine) step(ctx context.Context, state State, t *Turn) (State, error) {
	h, ok := e.handlers[state]
	if !ok {
		return StateDone, fmt.Errorf("%w: no handler for state %s", ErrInvalidTransition, state)
	}
	nctx, span := e.tracer.StartNode(ctx, state.String())
	defer span.End()

	if err := h(nctx, t); err != nil {
		e.tracer.RecordError(span, err)
		return StateDone, fmt.Errorf("%s: %w", state, err)
	}
	next := e.transitions[state](t)
	if !e.allowed(state, next) {
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, next)
		e.tracer.RecordError(span, err)
		return StateDone, err
	}
	return next, nil
}

func (e *Engine) allowed(from, to State) bool {
	for _, s := range e.edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (e *Engine) riskCheck(_ context.Context, t *Turn) error {
	t.KeywordRisk = risk.Classify(t.Input)
	t.Risk = t.KeywordRisk
	return nil
}

func (e *Engine) analyzeSentiment(ctx context.Context, t *Turn) error {
	if e.sentiment == nil || strings.TrimSpace(t.Input) == "" {
		return nil
	}
	a, err := e.sentiment.Analyze(ctx, t.Input)
	if err != nil {
		e.logger.Debug("sentiment analysis skipped", "err", err)
		return nil
	}
	t.Sentiment = a
	return nil
}

// analyzeEmotion raises risk from the text emotion signal and, when the
// keyword check found nothing, from a low facial mood. Risk never decreases.
func (e *Engine) analyzeEmotion(_ context.Context, t *Turn) error {
	if e.emotion != nil && strings.TrimSpace(t.Input) != "" {
		res, err := e.emotion.Analyze(t.Input)
		if err != nil {
			e.logger.Debug("emotion analysis skipped", "err", err)
		} else {
			t.TextEmotion = res
			t.Risk = risk.Max(t.Risk, res.Risk)
		}
	}
	if t.KeywordRisk == risk.Low && facialMood(t.Facial) <= lowMood {
		t.Risk = risk.Max(t.Risk, risk.Medium)
	}
	return nil
}

// facialMood is the supplied mood, the label's mood when none was reported,
// or neutral without a facial signal.
func facialMood(f *facial.Emotion) int {
	switch {
	case f == nil:
		return neutralMood
	case f.Mood != 0:
		return f.Mood
	case strings.TrimSpace(f.Emotion) != "":
		return facial.MoodFor(f.Emotion)
	default:
		return neutralMood
	}
}

func (e *Engine) crisisResponse(_ context.Context, t *Turn) error {
	t.Decision = DecisionCrisis
	t.Reply = CrisisMessage
	t.appendAssistant(CrisisMessage)
	return nil
}

func (e *Engine) knowledgeLookup(ctx context.Context, t *Turn) error {
	t.Decision = DecisionKnowledge
	cctx, span := e.tracer.StartCall(ctx, "knowledge")
	answer, err := e.knowledge.Lookup(cctx, t.Input, t.Language)
	if err != nil {
		e.tracer.RecordError(span, err)
		e.logger.Warn("knowledge lookup failed", "session_id", t.SessionID, "err", err)
		answer = KnowledgeUnavailable
	}
	span.End()
	t.Reply = answer
	t.appendAssistant(answer)
	return nil
}

func (e *Engine) empatheticReply(ctx context.Context, t *Turn) error {
	history := memory.FormatContext(t.Messages, ContextMessages)
	personal := IsPersonalQuery(t.Input)
	if t.Decision == "" {
		t.Decision = DecisionEmpathetic
		if personal {
			t.Decision = DecisionPersonal
		}
	}

	reply, err := e.generate(ctx, "reply",
		replySystemPrompt(LanguageName(t.Language), personal),
		replyUserContent(t.Input, history, t.TextEmotion, t.Facial))
	if err != nil {
		return err
	}
	t.Recommendations = recommend.Select(recommend.Input{
		Text:        t.Input,
		Context:     history,
		Risk:        t.Risk,
		TextEmotion: t.TextEmotion,
		Facial:      t.Facial,
	})
	t.Reply = reply
	t.appendAssistant(reply)
	return nil
}

func (e *Engine) nextQuestion(ctx context.Context, t *Turn) error {
	question, err := e.generate(ctx, "question", questionSystemPrompt(LanguageName(t.Language)), transcript(t.Messages))
	if err != nil {
		return err
	}
	t.Question = question
	t.appendAssistant(question)
	return nil
}

func (e *Engine) summarize(ctx context.Context, t *Turn) error {
	summary, err := e.Summarize(ctx, t.Language, t.Messages)
	if err != nil {
		return err
	}
	t.Summary = summary
	t.Done = true
	return nil
}

// Summarize produces the structured end-of-session summary for msgs.
func (e *Engine) Summarize(ctx context.Context, language string, msgs []memory.Message) (string, error) {
	convo := transcript(msgs)
	return e.generate(ctx, "summary", summarySystemPrompt(LanguageName(language), convo), convo)
}

func (e *Engine) generate(ctx context.Context, kind, system, user string) (string, error) {
	ctx, span := e.tracer.StartCall(ctx, "llm."+kind)
	defer span.End()

	start := time.Now()
	text, err := e.generator.Generate(ctx, system, user)
	if e.observer != nil {
		e.observer.GenerationDone(kind, time.Since(start), err)
	}
	if err != nil {
		e.tracer.RecordError(span, err)
		return "", fmt.Errorf("%w: %s: %w", ErrGeneration, kind, err)
	}
	return strings.TrimSpace(text), nil
}
