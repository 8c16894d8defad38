package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// DefaultMaxHistory is the number of messages kept per user.
const DefaultMaxHistory = 10

// History is the durable per-user conversation log.
type History interface {
	// Load returns the user's history. It never fails: unreadable or corrupt
	// data is logged and treated as an empty history.
	Load(ctx context.Context, userID string) []Message
	Append(ctx context.Context, userID string, msgs ...Message) error
	Replace(ctx context.Context, userID string, msgs []Message) error
	Clear(ctx context.Context, userID string) error
}

// FileStore keeps each user's history in its own JSON file, rewritten
// atomically on every change and truncated to the most recent MaxLength
// messages.
type FileStore struct {
	dir       string
	maxLength int
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewFileStore creates the history directory if needed.
func NewFileStore(dir string, maxLength int, logger *slog.Logger) (*FileStore, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxHistory
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &FileStore{dir: dir, maxLength: maxLength, logger: logger}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(userID string) string {
	return filepath.Join(s.dir, safeName(userID)+".json")
}

// Load implements History.
func (s *FileStore) Load(_ context.Context, userID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(userID)
}

func (s *FileStore) load(userID string) []Message {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("history unreadable, starting fresh", "user", userID, "err", err)
		}
		return []Message{}
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		s.logger.Warn("history corrupt, starting fresh", "user", userID, "err", err)
		return []Message{}
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs
}

// Append implements History.
func (s *FileStore) Append(_ context.Context, userID string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(userID, append(s.load(userID), msgs...))
}

// Replace implements History.
func (s *FileStore) Replace(_ context.Context, userID string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(userID, msgs)
}

// Clear implements History.
func (s *FileStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(userID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

func (s *FileStore) save(userID string, msgs []Message) error {
	if len(msgs) > s.maxLength {
		msgs = msgs[len(msgs)-s.maxLength:]
	}
	if msgs == nil {
		msgs = []Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return writeFileAtomic(s.path(userID), data)
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// safeName makes a user id usable as a file name component.
func safeName(id string) string {
	return url.PathEscape(id)
}
