package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GoCodeAlone/mindcare/ai/risk"
	"github.com/GoCodeAlone/mindcare/memory"
)

func ctx() context.Context { return context.Background() }

// runStoreContract exercises a Store implementation against the behaviour
// every backend must share.
func runStoreContract(t *testing.T, s Store) {
	t.Helper()
	users, sessions := s.Users(), s.Sessions()

	t.Run("GetOrCreate", func(t *testing.T) {
		u, created, err := users.GetOrCreate(ctx(), "alice", User{Email: "alice@example.com", ConsentEmail: true})
		if err != nil {
			t.Fatal(err)
		}
		if !created || u.Language != DefaultLanguage || u.CreatedAt.IsZero() {
			t.Fatalf("unexpected new user %+v created=%v", u, created)
		}
		again, created, err := users.GetOrCreate(ctx(), "alice", User{Email: "other@example.com"})
		if err != nil {
			t.Fatal(err)
		}
		if created || again.Email != "alice@example.com" {
			t.Fatalf("existing user should be returned unchanged, got %+v created=%v", again, created)
		}
		if _, _, err := users.GetOrCreate(ctx(), "", User{}); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid for empty id, got %v", err)
		}
	})

	t.Run("UserGetUpdate", func(t *testing.T) {
		if _, err := users.Get(ctx(), "nobody"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		u, err := users.Get(ctx(), "alice")
		if err != nil {
			t.Fatal(err)
		}
		u.Language = "hi"
		if err := users.Update(ctx(), u); err != nil {
			t.Fatal(err)
		}
		got, _ := users.Get(ctx(), "alice")
		if got.Language != "hi" || !got.ConsentEmail {
			t.Fatalf("update not persisted: %+v", got)
		}
		if err := users.Update(ctx(), &User{ID: "nobody"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Sessions", func(t *testing.T) {
		first := &Session{UserID: "alice", CustomEmail: "care@example.com"}
		if err := sessions.Create(ctx(), first); err != nil {
			t.Fatal(err)
		}
		if first.ID == "" {
			t.Fatal("expected an id to be assigned")
		}
		time.Sleep(5 * time.Millisecond)
		second := &Session{UserID: "alice"}
		if err := sessions.Create(ctx(), second); err != nil {
			t.Fatal(err)
		}

		got, err := sessions.Get(ctx(), first.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Language != DefaultLanguage || len(got.Messages) != 0 || got.Risk != risk.Low {
			t.Fatalf("unexpected defaults %+v", got)
		}

		got.Messages = append(got.Messages,
			memory.Message{Role: memory.RoleAssistant, Text: "hi"},
			memory.Message{Role: memory.RoleUser, Text: "hello"})
		got.Summary = "Overall Mood: ok"
		got.Risk = risk.Medium
		got.Finished = true
		if err := sessions.Update(ctx(), got); err != nil {
			t.Fatal(err)
		}
		reloaded, _ := sessions.Get(ctx(), first.ID)
		if len(reloaded.Messages) != 2 || reloaded.Messages[1].Text != "hello" {
			t.Fatalf("messages not persisted: %+v", reloaded.Messages)
		}
		if reloaded.Risk != risk.Medium || !reloaded.Finished || reloaded.Summary == "" {
			t.Fatalf("fields not persisted: %+v", reloaded)
		}
		if reloaded.CustomEmail != "care@example.com" {
			t.Fatalf("custom email lost: %+v", reloaded)
		}

		list, err := sessions.ListByUser(ctx(), "alice", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 2 || list[0].ID != second.ID {
			t.Fatalf("expected newest first, got %d sessions", len(list))
		}
		if list, _ := sessions.ListByUser(ctx(), "alice", 1); len(list) != 1 {
			t.Fatalf("limit not applied: %d", len(list))
		}

		if _, err := sessions.Get(ctx(), "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := sessions.Update(ctx(), &Session{ID: "missing"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if err := sessions.Create(ctx(), &Session{UserID: "ghost"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(ctx(), filepath.Join(t.TempDir(), "mindcare.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	runStoreContract(t, s)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mindcare.db")
	s, err := NewSQLiteStore(ctx(), path)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Users().GetOrCreate(ctx(), "bob", User{}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(ctx(), path)
	if err != nil {
		t.Fatalf("reopen should not re-run migrations: %v", err)
	}
	defer s.Close()
	if _, err := s.Users().Get(ctx(), "bob"); err != nil {
		t.Fatal(err)
	}
}

func TestPGStore_Integration(t *testing.T) {
	url := os.Getenv("MINDCARE_TEST_PG_URL")
	if url == "" {
		t.Skip("MINDCARE_TEST_PG_URL not set")
	}
	s, err := NewPGStore(ctx(), PGConfig{URL: url})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_, _ = s.Pool().Exec(ctx(), `DELETE FROM users WHERE id = 'alice'`)
		s.Close()
	})
	_, _ = s.Pool().Exec(ctx(), `DELETE FROM users WHERE id = 'alice'`)
	runStoreContract(t, s)
}

func TestSummaryEmail(t *testing.T) {
	u := &User{Email: "user@example.com"}
	if got := (&Session{}).SummaryEmail(u); got != "user@example.com" {
		t.Fatalf("got %q", got)
	}
	if got := (&Session{CustomEmail: "x@example.com"}).SummaryEmail(u); got != "x@example.com" {
		t.Fatalf("custom email should win, got %q", got)
	}
	if got := (&Session{}).SummaryEmail(nil); got != "" {
		t.Fatalf("got %q", got)
	}
}
