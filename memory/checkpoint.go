package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrCheckpointNotFound is returned when no checkpoint matches an id.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// DefaultCheckpointLabel is used when Save is called without a label.
const DefaultCheckpointLabel = "auto"

const checkpointTimeLayout = "20060102T150405Z"

// Checkpoint is an immutable snapshot of a user's history.
type Checkpoint struct {
	UserID       string         `json:"user_id"`
	CheckpointID string         `json:"checkpoint_id"`
	Label        string         `json:"label"`
	CreatedAt    time.Time      `json:"created_at"`
	History      []Message      `json:"history"`
	Extra        map[string]any `json:"extra"`
}

// CheckpointInfo is the listing view of a checkpoint.
type CheckpointInfo struct {
	CheckpointID string    `json:"checkpoint_id"`
	Label        string    `json:"label"`
	CreatedAt    time.Time `json:"created_at"`
	Messages     int       `json:"messages"`
}

// Checkpoints stores snapshots as one JSON file per checkpoint, named
// "<user>__<id>.json".
type Checkpoints struct {
	dir     string
	history History
	logger  *slog.Logger
	now     func() time.Time
}

// NewCheckpoints creates the checkpoint directory if needed.
func NewCheckpoints(dir string, history History, logger *slog.Logger) (*Checkpoints, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Checkpoints{dir: dir, history: history, logger: logger, now: time.Now}, nil
}

// NewCheckpointID returns an id of the form YYYYmmddTHHMMSSZ_<8 hex>.
func NewCheckpointID(t time.Time) string {
	return t.UTC().Format(checkpointTimeLayout) + "_" + uuid.NewString()[:8]
}

// Save snapshots the user's current history. Existing checkpoints are never
// overwritten.
func (c *Checkpoints) Save(ctx context.Context, userID, label string, extra map[string]any) (*Checkpoint, error) {
	if strings.TrimSpace(label) == "" {
		label = DefaultCheckpointLabel
	}
	if extra == nil {
		extra = map[string]any{}
	}
	now := c.now().UTC()
	cp := &Checkpoint{
		UserID:       userID,
		CheckpointID: NewCheckpointID(now),
		Label:        label,
		CreatedAt:    now,
		History:      c.history.Load(ctx, userID),
		Extra:        extra,
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	f, err := os.OpenFile(c.path(userID, cp.CheckpointID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create checkpoint: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close checkpoint: %w", err)
	}
	return cp, nil
}

// List returns the user's checkpoints, newest first. Unreadable files are
// skipped.
func (c *Checkpoints) List(_ context.Context, userID string) ([]CheckpointInfo, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, globEscape(safeName(userID))+"__*.json"))
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	out := make([]CheckpointInfo, 0, len(matches))
	for _, path := range matches {
		cp, err := c.read(path)
		if err != nil {
			c.logger.Warn("skipping unreadable checkpoint", "path", path, "err", err)
			continue
		}
		if cp.UserID != userID {
			continue
		}
		out = append(out, CheckpointInfo{
			CheckpointID: cp.CheckpointID,
			Label:        cp.Label,
			CreatedAt:    cp.CreatedAt,
			Messages:     len(cp.History),
		})
	}
	slices.SortStableFunc(out, func(a, b CheckpointInfo) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// Get loads one checkpoint by exact id.
func (c *Checkpoints) Get(_ context.Context, userID, checkpointID string) (*Checkpoint, error) {
	if checkpointID == "" || strings.ContainsAny(checkpointID, `/\`) {
		return nil, ErrCheckpointNotFound
	}
	cp, err := c.read(c.path(userID, checkpointID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCheckpointNotFound
		}
		return nil, err
	}
	if cp.UserID != userID {
		return nil, ErrCheckpointNotFound
	}
	return cp, nil
}

// Restore overwrites the user's history with the checkpoint's snapshot.
func (c *Checkpoints) Restore(ctx context.Context, userID, checkpointID string) (*Checkpoint, error) {
	cp, err := c.Get(ctx, userID, checkpointID)
	if err != nil {
		return nil, err
	}
	if err := c.history.Replace(ctx, userID, cp.History); err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	return cp, nil
}

func (c *Checkpoints) path(userID, checkpointID string) string {
	return filepath.Join(c.dir, safeName(userID)+"__"+checkpointID+".json")
}

func (c *Checkpoints) read(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.History == nil {
		cp.History = []Message{}
	}
	return &cp, nil
}

// globEscape quotes the metacharacters filepath.Match understands.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
