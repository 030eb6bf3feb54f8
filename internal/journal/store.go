package journal

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"loyaltymint/internal/mint"
)

// Store records finished mint outcomes for later lookup.
type Store interface {
	Save(ctx context.Context, outcome mint.Outcome) error
	// Get returns nil, nil when attemptID is unknown.
	Get(ctx context.Context, attemptID string) (*mint.Outcome, error)
	// List returns the newest outcomes first.
	List(ctx context.Context, limit int) ([]mint.Outcome, error)
	// ByKey returns the newest outcome recorded under an idempotency key,
	// or nil, nil when there is none.
	ByKey(ctx context.Context, key string) (*mint.Outcome, error)
}

var ErrNotFinished = errors.New("outcome is not finished")

func checkFinished(outcome mint.Outcome) error {
	if outcome.AttemptID == "" || !outcome.Done() {
		return ErrNotFinished
	}
	return nil
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]mint.Outcome
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]mint.Outcome),
	}
}

func (m *MemoryStore) Get(_ context.Context, attemptID string) (*mint.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[attemptID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, outcome mint.Outcome) error {
	if err := checkFinished(outcome); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[outcome.AttemptID] = outcome
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]mint.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.data, limit), nil
}

func (m *MemoryStore) ByKey(_ context.Context, key string) (*mint.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestWithKey(m.data, key), nil
}

// FileStore persists outcomes to a JSON file. Suitable for local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]mint.Outcome
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]mint.Outcome),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, attemptID string) (*mint.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.data[attemptID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *FileStore) Save(_ context.Context, outcome mint.Outcome) error {
	if err := checkFinished(outcome); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[outcome.AttemptID] = outcome
	return f.persist()
}

func (f *FileStore) List(_ context.Context, limit int) ([]mint.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return newestFirst(f.data, limit), nil
}

func (f *FileStore) ByKey(_ context.Context, key string) (*mint.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return newestWithKey(f.data, key), nil
}

func newestWithKey(data map[string]mint.Outcome, key string) *mint.Outcome {
	if key == "" {
		return nil
	}
	var found *mint.Outcome
	for _, rec := range data {
		if rec.IdempotencyKey != key {
			continue
		}
		if found == nil || rec.FinishedAt.After(found.FinishedAt) {
			rec := rec
			found = &rec
		}
	}
	return found
}

func newestFirst(data map[string]mint.Outcome, limit int) []mint.Outcome {
	out := make([]mint.Outcome, 0, len(data))
	for _, rec := range data {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FinishedAt.Equal(out[j].FinishedAt) {
			return out[i].AttemptID < out[j].AttemptID
		}
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
