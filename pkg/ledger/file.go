package ledger

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// FileRepository persists the ledger to a local JSON file for simple
// durability in dev environments. It delegates chaining to an in-memory
// repository and snapshots the whole state after every append.
type FileRepository struct {
	mu   sync.Mutex
	path string
	mem  *MemoryRepository
}

type fileState struct {
	Entries map[string][]Entry `json:"entries"`
	Heads   map[string]string  `json:"heads"`
}

// NewFileRepository loads (or starts) a file-backed ledger at path.
func NewFileRepository(path string) (*FileRepository, error) {
	return NewFileRepositoryWithClock(path, time.Now)
}

// NewFileRepositoryWithClock allows tests to pin time.
func NewFileRepositoryWithClock(path string, clock func() time.Time) (*FileRepository, error) {
	f := &FileRepository{
		path: path,
		mem:  NewMemoryRepositoryWithClock(clock),
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileRepository) load() error {
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return nil // Start empty
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	var state fileState
	if err := json.Unmarshal(raw, &state); err != nil {
		return err
	}
	if state.Entries != nil {
		f.mem.entries = state.Entries
	}
	if state.Heads != nil {
		f.mem.heads = state.Heads
	}
	return nil
}

func (f *FileRepository) save() error {
	f.mem.mu.RLock()
	state := fileState{Entries: f.mem.entries, Heads: f.mem.heads}
	raw, err := json.MarshalIndent(state, "", "  ")
	f.mem.mu.RUnlock()
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, raw, 0600)
}

// Append implements Repository.
func (f *FileRepository) Append(ctx context.Context, e Entry) (Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored, err := f.mem.Append(ctx, e)
	if err != nil {
		return Entry{}, err
	}
	if err := f.save(); err != nil {
		return Entry{}, err
	}
	return stored, nil
}

// LatestByType implements Repository.
func (f *FileRepository) LatestByType(ctx context.Context, tenantID, robotID, entryType string) (Entry, error) {
	return f.mem.LatestByType(ctx, tenantID, robotID, entryType)
}

// ListByRobot implements Repository.
func (f *FileRepository) ListByRobot(ctx context.Context, tenantID, robotID string) ([]Entry, error) {
	return f.mem.ListByRobot(ctx, tenantID, robotID)
}
