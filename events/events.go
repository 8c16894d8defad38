// Package events publishes domain events about sessions and risk to
// in-process recorders and message brokers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeSessionStarted  = "session.started"
	TypeSessionFinished = "session.finished"
	TypeRiskEscalated   = "risk.escalated"
)

// Event is a domain event. Data carries type-specific fields.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Time      time.Time      `json:"time"`
	Data      map[string]any `json:"data,omitempty"`
}

// New stamps an event with an id and the current time.
func New(typ, userID, sessionID string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		SessionID: sessionID,
		Time:      time.Now().UTC(),
		Data:      data,
	}
}

// Encode serialises the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Multi fans an event out to several publishers. A failing publisher is
// logged and does not stop delivery to the others; Publish never fails.
type Multi struct {
	publishers []Publisher
	logger     *slog.Logger
}

// NewMulti creates a fan-out publisher. Nil publishers are skipped.
func NewMulti(logger *slog.Logger, publishers ...Publisher) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Add appends a publisher.
func (m *Multi) Add(p Publisher) {
	if p != nil {
		m.publishers = append(m.publishers, p)
	}
}

func (m *Multi) Publish(ctx context.Context, ev Event) error {
	for _, p := range m.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			m.logger.Warn("event publish failed", "type", ev.Type, "event_id", ev.ID, "err", err)
		}
	}
	return nil
}
