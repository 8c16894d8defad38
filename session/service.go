// Package session owns the lifecycle of a conversation: starting a session
// with a greeting, running turns through the conversation engine, persisting
// history and checkpoints, and closing the session with a summary email.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/mindcare/ai/facial"
	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/conversation"
	"github.com/GoCodeAlone/mindcare/events"
	"github.com/GoCodeAlone/mindcare/mail"
	"github.com/GoCodeAlone/mindcare/memory"
	"github.com/GoCodeAlone/mindcare/observability/metrics"
	"github.com/GoCodeAlone/mindcare/scale"
	"github.com/GoCodeAlone/mindcare/store"
)

// Checkpoint labels written by the service.
const (
	LabelAutoReply     = "auto-reply"
	LabelSessionFinish = "session-finish"
)

// DefaultContextMessages is how many short-term messages SessionContext
// returns by default.
const DefaultContextMessages = 10

var (
	// ErrInvalidRequest is returned for missing ids or text.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSessionFinished is returned when a turn targets a closed session.
	ErrSessionFinished = errors.New("session already finished")
)

// Config wires the service to its collaborators. Engine, Store, History and
// Checkpoints are required.
type Config struct {
	Engine      *conversation.Engine
	Store       store.Store
	History     memory.History
	Checkpoints *memory.Checkpoints
	ShortTerm   memory.ShortTerm
	Mailer      mail.Mailer
	Publisher   events.Publisher
	Lock        scale.DistributedLock
	Bulkhead    *scale.Bulkhead
	Metrics     *metrics.Collector
	Logger      *slog.Logger
	// TurnTimeout bounds a whole turn; zero means no limit.
	TurnTimeout time.Duration
}

// Service runs conversation sessions.
type Service struct {
	engine      *conversation.Engine
	users       store.UserStore
	sessions    store.SessionStore
	history     memory.History
	checkpoints *memory.Checkpoints
	shortTerm   memory.ShortTerm
	mailer      mail.Mailer
	publisher   events.Publisher
	lock        scale.DistributedLock
	bulkhead    *scale.Bulkhead
	metrics     *metrics.Collector
	logger      *slog.Logger
	turnTimeout time.Duration
}

// NewService validates cfg and builds a Service.
func NewService(cfg Config) (*Service, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("session: engine is required")
	case cfg.Store == nil:
		return nil, errors.New("session: store is required")
	case cfg.History == nil:
		return nil, errors.New("session: history is required")
	case cfg.Checkpoints == nil:
		return nil, errors.New("session: checkpoints are required")
	}
	if cfg.ShortTerm == nil {
		cfg.ShortTerm = memory.NewMemoryShortTerm()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.Nop{}
	}
	if cfg.Lock == nil {
		cfg.Lock = scale.NewInMemoryLock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		engine:      cfg.Engine,
		users:       cfg.Store.Users(),
		sessions:    cfg.Store.Sessions(),
		history:     cfg.History,
		checkpoints: cfg.Checkpoints,
		shortTerm:   cfg.ShortTerm,
		mailer:      cfg.Mailer,
		publisher:   cfg.Publisher,
		lock:        cfg.Lock,
		bulkhead:    cfg.Bulkhead,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		turnTimeout: cfg.TurnTimeout,
	}, nil
}

// StartRequest opens a session. Email and ConsentEmail update an existing
// user when set; Email is also the session's summary address.
type StartRequest struct {
	UserID       string `json:"user_id" jsonschema:"required,minLength=1"`
	Email        string `json:"email,omitempty" jsonschema:"format=email"`
	ConsentEmail *bool  `json:"consent_email,omitempty"`
	Language     string `json:"language,omitempty" jsonschema:"example=en"`
}

// StartResponse carries the new session id and its greeting.
type StartResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Greeting  string `json:"greeting"`
	Language  string `json:"language"`
}

// Start creates or updates the user, opens a session and records the
// greeting.
func (s *Service) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	}
	defaults := store.User{Email: req.Email, Language: req.Language}
	if req.ConsentEmail != nil {
		defaults.ConsentEmail = *req.ConsentEmail
	}
	user, created, err := s.users.GetOrCreate(ctx, userID, defaults)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	if !created && (req.Email != "" || req.ConsentEmail != nil) {
		if req.Email != "" {
			user.Email = req.Email
		}
		if req.ConsentEmail != nil {
			user.ConsentEmail = *req.ConsentEmail
		}
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("update user %s: %w", userID, err)
		}
	}

	lang := req.Language
	if lang == "" {
		lang = user.Language
	}
	greeting := memory.NewMessage(memory.RoleAssistant, conversation.Greeting)
	sess := &store.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		CustomEmail: req.Email,
		Language:    lang,
		Messages:    []memory.Message{greeting},
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if _, err := s.shortTerm.Start(ctx, userID, sess.ID); err != nil {
		s.logger.Warn("short-term memory start failed", "user_id", userID, "err", err)
	}
	s.remember(ctx, userID, greeting)
	if err := s.history.Append(ctx, userID, greeting); err != nil {
		s.logger.Warn("history append failed", "user_id", userID, "err", err)
	}

	s.metrics.SessionStarted()
	s.publish(ctx, events.New(events.TypeSessionStarted, userID, sess.ID, map[string]any{"language": sess.Language}))
	s.logger.Info("session started", "user_id", userID, "session_id", sess.ID, "new_user", created)

	return &StartResponse{SessionID: sess.ID, UserID: userID, Greeting: conversation.Greeting, Language: sess.Language}, nil
}

// RespondRequest is one user turn. Finish closes the session after the turn
// even when the conversation would otherwise continue.
type RespondRequest struct {
	UserID    string          `json:"user_id" jsonschema:"required,minLength=1"`
	SessionID string          `json:"session_id" jsonschema:"required,minLength=1"`
	Text      string          `json:"text" jsonschema:"required"`
	Language  string          `json:"language,omitempty"`
	Facial    *facial.Emotion `json:"facial_emotion,omitempty"`
	Finish    bool            `json:"finish,omitempty"`
}

// RespondResponse is the turn result plus session-level outcome. Summary is
// the formatted summary, shadowing the raw one on the turn.
type RespondResponse struct {
	*conversation.Turn
	AssistantReply string `json:"assistant_reply"`
	Finished       bool   `json:"finished"`
	Summary        string `json:"summary,omitempty"`
	EmailAttempted bool   `json:"email_attempted"`
	EmailSent      bool   `json:"email_sent"`
}

// Respond runs one turn. Turns of the same user never run concurrently.
func (s *Service) Respond(ctx context.Context, req RespondRequest) (*RespondResponse, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SessionID) == "" {
		return nil, fmt.Errorf("%w: user_id and session_id are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}
	if req.Facial != nil && (req.Facial.Mood < 0 || req.Facial.Mood > 10) {
		return nil, fmt.Errorf("%w: facial_emotion.mood must be between 1 and 10, or 0 when unknown", ErrInvalidRequest)
	}
	if s.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.turnTimeout)
		defer cancel()
	}
	if s.bulkhead != nil {
		release, err := s.bulkhead.AcquireWait(ctx, scale.PoolTurns)
		if err != nil {
			return nil, err
		}
		defer release()
	}
	unlock, err := s.lock.Acquire(ctx, scale.UserKey(req.UserID), 0)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	resp, err := s.respond(ctx, req)
	if err != nil {
		s.metrics.RecordTurn("", "", time.Since(start), err)
		return nil, err
	}
	s.metrics.RecordTurn(string(resp.Decision), resp.Risk.String(), time.Since(start), nil)
	return resp, nil
}

func (s *Service) respond(ctx context.Context, req RespondRequest) (*RespondResponse, error) {
	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, err)
	}
	if sess.UserID != req.UserID {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, store.ErrNotFound)
	}
	if sess.Finished {
		return nil, fmt.Errorf("session %s: %w", req.SessionID, ErrSessionFinished)
	}
	lang := req.Language
	if lang == "" {
		lang = sess.Language
	}

	prefix, history := splitGreeting(sess.Messages)
	turn, err := s.engine.Run(ctx, conversation.Request{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Text:      req.Text,
		Language:  lang,
		Facial:    req.Facial,
		History:   history,
	})
	if err != nil {
		return nil, err
	}
	if req.Finish && !turn.Done {
		summary, err := s.engine.Summarize(ctx, lang, turn.Messages)
		if err != nil {
			return nil, err
		}
		turn.Summary = summary
		turn.Done = true
	}

	added := turn.NewMessages(history)
	sess.Messages = append(prefix, turn.Messages...)
	sess.Risk = turn.Risk
	if err := s.history.Append(ctx, req.UserID, added...); err != nil {
		s.logger.Warn("history append failed", "user_id", req.UserID, "err", err)
	}
	s.remember(ctx, req.UserID, added...)
	if _, err := s.checkpoints.Save(ctx, req.UserID, LabelAutoReply, nil); err != nil {
		s.logger.Warn("checkpoint failed", "user_id", req.UserID, "label", LabelAutoReply, "err", err)
	}
	if turn.Risk.AtLeast(risk.Medium) {
		s.publish(ctx, events.New(events.TypeRiskEscalated, req.UserID, req.SessionID, map[string]any{
			"risk":     turn.Risk.String(),
			"decision": string(turn.Decision),
			"phrases":  risk.Matches(req.Text),
		}))
	}

	resp := &RespondResponse{Turn: turn, AssistantReply: turn.AssistantReply()}
	if req.Finish {
		if err := s.finish(ctx, sess, turn, resp); err != nil {
			return nil, err
		}
		return resp, nil
	}
	// A summarizing turn reports done but the session stays open until the
	// caller finishes it.
	if turn.Done {
		sess.Summary = turn.Summary
		resp.Summary = mail.FormatSummary(turn.Summary, turn.Risk.String())
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return resp, nil
}

// finish persists the summary, emails it when the user opted in and closes
// short-term memory. A mail failure is reported in resp, never returned.
func (s *Service) finish(ctx context.Context, sess *store.Session, turn *conversation.Turn, resp *RespondResponse) error {
	sess.Summary = turn.Summary
	sess.Finished = true
	resp.Finished = true
	resp.Summary = mail.FormatSummary(turn.Summary, turn.Risk.String())

	user, err := s.users.Get(ctx, sess.UserID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("load user for summary email failed", "user_id", sess.UserID, "err", err)
	}
	resp.EmailAttempted, resp.EmailSent = s.deliverSummary(ctx, sess, user, resp.Summary)
	sess.Emailed = resp.EmailSent

	if err := s.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	extra := map[string]any{"summary": turn.Summary, "risk": turn.Risk.String()}
	if _, err := s.checkpoints.Save(ctx, sess.UserID, LabelSessionFinish, extra); err != nil {
		s.logger.Warn("checkpoint failed", "user_id", sess.UserID, "label", LabelSessionFinish, "err", err)
	}
	if err := s.shortTerm.End(ctx, sess.UserID); err != nil {
		s.logger.Warn("short-term memory end failed", "user_id", sess.UserID, "err", err)
	}

	s.metrics.SessionFinished()
	s.publish(ctx, events.New(events.TypeSessionFinished, sess.UserID, sess.ID, map[string]any{
		"risk":    turn.Risk.String(),
		"emailed": sess.Emailed,
	}))
	s.logger.Info("session finished", "user_id", sess.UserID, "session_id", sess.ID,
		"risk", turn.Risk, "email_sent", sess.Emailed)
	return nil
}

// deliverSummary emails the summary when the user exists, consented, has a
// resolvable address and the summary is not empty.
func (s *Service) deliverSummary(ctx context.Context, sess *store.Session, user *store.User, body string) (attempted, sent bool) {
	to := sess.SummaryEmail(user)
	if user == nil || !user.ConsentEmail || to == "" || strings.TrimSpace(sess.Summary) == "" {
		s.metrics.RecordEmail(metrics.EmailSkipped)
		return false, false
	}
	if s.mailer == nil {
		s.logger.Warn("summary email not sent: no mailer configured", "session_id", sess.ID)
		s.metrics.RecordEmail(metrics.EmailFailed)
		return true, false
	}
	err := s.mailer.Send(ctx, mail.Message{
		To:      to,
		Subject: mail.SummarySubject(sess.ID),
		Body:    body,
	})
	if err != nil {
		s.logger.Warn("summary email failed", "session_id", sess.ID, "err", err)
		s.metrics.RecordEmail(metrics.EmailFailed)
		return true, false
	}
	s.metrics.RecordEmail(metrics.EmailSent)
	return true, true
}

// splitGreeting separates the session's opening greeting from the
// conversation the engine sees.
func splitGreeting(msgs []memory.Message) (prefix, rest []memory.Message) {
	if len(msgs) > 0 && msgs[0].Role == memory.RoleAssistant && msgs[0].Text == conversation.Greeting {
		return []memory.Message{msgs[0]}, msgs[1:]
	}
	return nil, msgs
}

func (s *Service) remember(ctx context.Context, userID string, msgs ...memory.Message) {
	for _, m := range msgs {
		if err := s.shortTerm.Add(ctx, userID, m); err != nil {
			s.logger.Warn("short-term memory add failed", "user_id", userID, "err", err)
			return
		}
	}
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("event publish failed", "type", ev.Type, "err", err)
	}
}

// History lists the user's sessions, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]*store.Session, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID, 0)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}
	return sessions, nil
}

// Checkpoints lists the user's checkpoints, newest first.
func (s *Service) Checkpoints(ctx context.Context, userID string) ([]memory.CheckpointInfo, error) {
	return s.checkpoints.List(ctx, userID)
}

// Restore replaces the user's durable history with a checkpoint. It waits
// for any running turn of the same user.
func (s *Service) Restore(ctx context.Context, userID, checkpointID string) (*memory.Checkpoint, error) {
	if strings.TrimSpace(checkpointID) == "" {
		return nil, fmt.Errorf("%w: checkpoint_id is required", ErrInvalidRequest)
	}
	unlock, err := s.lock.Acquire(ctx, scale.UserKey(userID), 0)
	if err != nil {
		return nil, err
	}
	defer unlock()

	cp, err := s.checkpoints.Restore(ctx, userID, checkpointID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkpoint restored", "user_id", userID, "checkpoint_id", checkpointID, "messages", len(cp.History))
	return cp, nil
}

// SessionContext returns the active session's recent short-term messages
// formatted for a prompt, and whether a session is active.
func (s *Service) SessionContext(ctx context.Context, userID string, maxMessages int) (string, bool, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultContextMessages
	}
	msgs, active, err := s.SessionHistory(ctx, userID)
	if err != nil || !active {
		return "", active, err
	}
	return memory.FormatContext(msgs, maxMessages), true, nil
}

// SessionHistory returns the active session's short-term messages.
func (s *Service) SessionHistory(ctx context.Context, userID string) ([]memory.Message, bool, error) {
	active, err := s.shortTerm.Active(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("short-term memory for %s: %w", userID, err)
	}
	if !active {
		return []memory.Message{}, false, nil
	}
	msgs, err := s.shortTerm.Messages(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("short-term memory for %s: %w", userID, err)
	}
	return msgs, true, nil
}
