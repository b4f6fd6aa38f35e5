// Package checkpoint persists crawl state so a paused or interrupted run can
// resume without re-fetching what it already visited.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JakeFAU/politecrawl/internal/frontier"
	"github.com/JakeFAU/politecrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/politecrawl/internal/policy/robots"
	"github.com/JakeFAU/politecrawl/internal/storage/memory"
)

// Version is the current state file format.
const Version = 1

// ErrVersion is returned when a state file has an unsupported format.
var ErrVersion = errors.New("unsupported checkpoint version")

// State is everything needed to resume a crawl.
type State struct {
	Version   int                      `json:"version"`
	RunID     string                   `json:"run_id"`
	SavedAt   time.Time                `json:"saved_at"`
	Frontier  frontier.Snapshot        `json:"frontier"`
	Robots    []robots.Record          `json:"robots,omitempty"`
	RateLimit []ratelimit.OriginRecord `json:"rate_limit,omitempty"`
	// Dedup is set only for the in-memory backend; persistent backends keep
	// their own state.
	Dedup *memory.Snapshot `json:"dedup,omitempty"`
	Stats map[string]int64 `json:"stats,omitempty"`
}

// FileStore reads and writes State as a JSON file.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the saved state. It reports false when no state file exists.
func (s *FileStore) Load(_ context.Context) (State, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("decode checkpoint: %w", err)
	}
	if state.Version != Version {
		return State{}, false, fmt.Errorf("%w: %d", ErrVersion, state.Version)
	}
	return state, true, nil
}

// Save writes state atomically: a temp file in the same directory is
// renamed over the previous checkpoint.
func (s *FileStore) Save(_ context.Context, state State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	state.Version = Version
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
