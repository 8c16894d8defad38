// Package store persists users and their conversation sessions.
package store

import (
	"time"

	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/memory"
)

// DefaultLanguage is used when a user or session has no language set.
const DefaultLanguage = "en"

// User is a person talking to the assistant.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email,omitempty"`
	ConsentEmail bool      `json:"consent_email"`
	Language     string    `json:"language"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is one conversation, from greeting to summary.
type Session struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	CustomEmail string           `json:"custom_email,omitempty"`
	Language    string           `json:"language"`
	Messages    []memory.Message `json:"messages"`
	Summary     string           `json:"summary,omitempty"`
	Risk        risk.Level       `json:"risk"`
	Emailed     bool             `json:"emailed"`
	Finished    bool             `json:"finished"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// SummaryEmail returns the address a session summary goes to: the session's
// custom address when set, otherwise the user's.
func (s *Session) SummaryEmail(u *User) string {
	if s.CustomEmail != "" {
		return s.CustomEmail
	}
	if u == nil {
		return ""
	}
	return u.Email
}

func (u *User) normalize() {
	if u.Language == "" {
		u.Language = DefaultLanguage
	}
}

func (s *Session) normalize() {
	if s.Language == "" {
		s.Language = DefaultLanguage
	}
	if s.Messages == nil {
		s.Messages = []memory.Message{}
	}
}
