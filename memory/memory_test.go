package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestFileStore_AppendTruncates(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	for i := range 12 {
		if err := s.Append(ctx, "u1", NewMessage(RoleUser, string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}
	got := s.Load(ctx, "u1")
	if len(got) != DefaultMaxHistory {
		t.Fatalf("expected %d messages, got %d", DefaultMaxHistory, len(got))
	}
	if got[0].Text != "c" || got[9].Text != "l" {
		t.Fatalf("kept the wrong window: first=%q last=%q", got[0].Text, got[9].Text)
	}
}

func TestFileStore_MissingAndCorrupt(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	if got := s.Load(ctx, "nobody"); got == nil || len(got) != 0 {
		t.Fatalf("missing history should be empty, got %v", got)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.Load(ctx, "broken"); len(got) != 0 {
		t.Fatalf("corrupt history should be empty, got %v", got)
	}
}

func TestFileStore_LegacyMessageKey(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	legacy := `[{"role":"user","message":"old format","timestamp":"2024-01-01T00:00:00Z"}]`
	if err := os.WriteFile(filepath.Join(s.Dir(), "legacy.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	got := s.Load(ctx, "legacy")
	if len(got) != 1 || got[0].Text != "old format" {
		t.Fatalf("legacy message not migrated: %+v", got)
	}
}

func TestFileStore_ReplaceAndClear(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	_ = s.Append(ctx, "u", NewMessage(RoleUser, "one"))
	if err := s.Replace(ctx, "u", []Message{NewMessage(RoleAssistant, "two")}); err != nil {
		t.Fatal(err)
	}
	if got := s.Load(ctx, "u"); len(got) != 1 || got[0].Text != "two" {
		t.Fatalf("replace failed: %+v", got)
	}
	if err := s.Clear(ctx, "u"); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx, "u"); err != nil {
		t.Fatalf("second clear should be a no-op: %v", err)
	}
	if got := s.Load(ctx, "u"); len(got) != 0 {
		t.Fatalf("expected empty after clear, got %+v", got)
	}
}

func TestFormatContext(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
		{Role: RoleUser, Text: "sad today"},
	}
	if got := FormatContext(msgs, 0); got != "User: hi\nAssistant: hello\nUser: sad today" {
		t.Fatalf("unexpected context %q", got)
	}
	if got := FormatContext(msgs, 2); got != "Assistant: hello\nUser: sad today" {
		t.Fatalf("unexpected windowed context %q", got)
	}
	if got := CountRole(msgs, RoleUser); got != 2 {
		t.Fatalf("CountRole = %d", got)
	}
}

func TestFormatContext_Concurrent(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Text: "hi"},
		{Role: RoleAssistant, Text: "hello"},
	}
	const want = "User: hi\nAssistant: hello"

	var wg sync.WaitGroup
	errs := make(chan string, 50)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				if got := FormatContext(msgs, 0); got != want {
					errs <- got
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Errorf("corrupted context %q", got)
	}
}

var checkpointIDPattern = regexp.MustCompile(`^\d{8}T\d{6}Z_[0-9a-f]{8}$`)

func TestCheckpoints_SaveListRestore(t *testing.T) {
	ctx := context.Background()
	hist := newFileStore(t)
	cps, err := NewCheckpoints(t.TempDir(), hist, nil)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	cps.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_ = hist.Append(ctx, "alice", NewMessage(RoleUser, "first"))
	first, err := cps.Save(ctx, "alice", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !checkpointIDPattern.MatchString(first.CheckpointID) {
		t.Fatalf("bad checkpoint id %q", first.CheckpointID)
	}
	if first.Label != DefaultCheckpointLabel {
		t.Fatalf("expected default label, got %q", first.Label)
	}

	_ = hist.Append(ctx, "alice", NewMessage(RoleAssistant, "second"))
	second, err := cps.Save(ctx, "alice", "session-finish", map[string]any{"risk": "low"})
	if err != nil {
		t.Fatal(err)
	}

	// another user's checkpoint must not leak into alice's listing
	if _, err := cps.Save(ctx, "bob", "auto", nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cps.dir, "alice__garbage.json"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	list, err := cps.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(list))
	}
	if list[0].CheckpointID != second.CheckpointID || list[1].CheckpointID != first.CheckpointID {
		t.Fatalf("list not newest-first: %+v", list)
	}
	if list[0].Messages != 2 {
		t.Fatalf("expected 2 messages in newest checkpoint, got %d", list[0].Messages)
	}

	if _, err := cps.Restore(ctx, "alice", first.CheckpointID); err != nil {
		t.Fatal(err)
	}
	got := hist.Load(ctx, "alice")
	if len(got) != 1 || got[0].Text != "first" {
		t.Fatalf("restore did not overwrite history: %+v", got)
	}
}

func TestCheckpoints_RestoreNotFound(t *testing.T) {
	ctx := context.Background()
	hist := newFileStore(t)
	cps, err := NewCheckpoints(t.TempDir(), hist, nil)
	if err != nil {
		t.Fatal(err)
	}
	cp, err := cps.Save(ctx, "alice", "auto", nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []string{"", "missing", cp.CheckpointID[:10], "../alice__" + cp.CheckpointID}
	for _, id := range tests {
		if _, err := cps.Restore(ctx, "alice", id); !errors.Is(err, ErrCheckpointNotFound) {
			t.Errorf("Restore(%q): expected ErrCheckpointNotFound, got %v", id, err)
		}
	}
	if _, err := cps.Restore(ctx, "bob", cp.CheckpointID); !errors.Is(err, ErrCheckpointNotFound) {
		t.Errorf("restoring another user's checkpoint should fail, got %v", err)
	}
}

func TestThreadID(t *testing.T) {
	if got := ThreadID("s1", "u1"); got != "session_s1_u1" {
		t.Fatalf("ThreadID = %q", got)
	}
}

func exerciseShortTerm(t *testing.T, st ShortTerm) {
	t.Helper()
	ctx := context.Background()

	if ok, _ := st.Active(ctx, "u1"); ok {
		t.Fatal("user should not be active before Start")
	}
	// adds without an active thread are dropped
	_ = st.Add(ctx, "u1", NewMessage(RoleUser, "ignored"))

	id, err := st.Start(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if id != "session_s1_u1" {
		t.Fatalf("unexpected thread id %q", id)
	}
	if ok, _ := st.Active(ctx, "u1"); !ok {
		t.Fatal("user should be active after Start")
	}
	_ = st.Add(ctx, "u1", NewMessage(RoleUser, "hello"))
	_ = st.Add(ctx, "u1", NewMessage(RoleAssistant, "hi there"))

	msgs, err := st.Messages(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].Text != "hi there" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if !strings.Contains(FormatContext(msgs, 10), "Assistant: hi there") {
		t.Fatal("context missing assistant line")
	}

	// a new session replaces the old thread
	if _, err := st.Start(ctx, "u1", "s2"); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := st.Messages(ctx, "u1"); len(msgs) != 0 {
		t.Fatalf("new session should start empty, got %d", len(msgs))
	}

	if err := st.End(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := st.Active(ctx, "u1"); ok {
		t.Fatal("user should be inactive after End")
	}
	if err := st.End(ctx, "u1"); err != nil {
		t.Fatalf("second End should be a no-op: %v", err)
	}
	msgs, _ = st.Messages(ctx, "u1")
	if len(msgs) != 0 {
		t.Fatalf("expected no messages after End, got %d", len(msgs))
	}
}

func TestMemoryShortTerm(t *testing.T) {
	exerciseShortTerm(t, NewMemoryShortTerm())
}

func TestRedisShortTerm(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	st := NewRedisShortTerm(client, "", time.Hour)
	exerciseShortTerm(t, st)

	ctx := context.Background()
	_, _ = st.Start(ctx, "u2", "s9")
	_ = st.Add(ctx, "u2", NewMessage(RoleUser, "x"))
	if !mr.Exists("mindcare:stm:thread:session_s9_u2") {
		t.Fatal("expected thread list key")
	}
	mr.FastForward(2 * time.Hour)
	if ok, _ := st.Active(ctx, "u2"); ok {
		t.Fatal("thread should expire after ttl")
	}
}
