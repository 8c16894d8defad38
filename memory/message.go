// Package memory keeps conversation history: a durable per-user log capped
// at a fixed length, immutable checkpoints of that log, and a short-lived
// per-session store that exists only while a session is active.
package memory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation log.
type Message struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UnmarshalJSON accepts the legacy "message" key in place of "text".
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role      string    `json:"role"`
		Text      *string   `json:"text"`
		Legacy    *string   `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Timestamp = raw.Timestamp
	switch {
	case raw.Text != nil:
		m.Text = *raw.Text
	case raw.Legacy != nil:
		m.Text = *raw.Legacy
	default:
		m.Text = ""
	}
	return nil
}

// NewMessage stamps a message with the current UTC time.
func NewMessage(role, text string) Message {
	return Message{Role: role, Text: text, Timestamp: time.Now().UTC()}
}

// FormatContext renders the last max messages as "Role: text" lines. A max
// of zero or less renders every message.
func FormatContext(msgs []Message, max int) string {
	if max > 0 && len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	// A Caser is stateful; each call gets its own.
	title := cases.Title(language.English)
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		if role == "" {
			role = RoleUser
		}
		lines = append(lines, fmt.Sprintf("%s: %s", title.String(role), m.Text))
	}
	return strings.Join(lines, "\n")
}

// CountRole returns how many messages have the given role.
func CountRole(msgs []Message, role string) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}
