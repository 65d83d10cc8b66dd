package consent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoDecision is returned when no consent record has been persisted yet.
var ErrNoDecision = errors.New("no consent decision recorded")

// Store persists consent records. Persistence is advisory: a failing store
// never blocks an in-memory state transition.
type Store interface {
	Save(ctx context.Context, record Record) error
	Load(ctx context.Context) (Record, error)
}

const recordFileName = "consent.json"

// fileStore keeps the authoritative record as one JSON file in a directory
// the host page controls.
type fileStore struct {
	dir string
}

// ResolveDir applies the consent directory fallbacks and ensures the
// directory exists. An empty dir falls back to the user cache directory, and
// failing that, the system temp directory, so consent state always has
// somewhere to live.
func ResolveDir(dir string) (string, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		dir = filepath.Join(base, "wrapline")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("could not create consent dir: %w", err)
	}
	return dir, nil
}

// NewFileStore creates a file-backed consent store rooted at dir, resolved
// through ResolveDir.
func NewFileStore(dir string) (Store, error) {
	resolved, err := ResolveDir(dir)
	if err != nil {
		return nil, err
	}
	return &fileStore{dir: resolved}, nil
}

// Save writes the record atomically: temp file then rename, so a crashed
// write never leaves a half-written record behind.
func (f *fileStore) Save(_ context.Context, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, recordFileName+".*")
	if err != nil {
		return err
	}

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	return os.Rename(tmp.Name(), filepath.Join(f.dir, recordFileName))
}

func (f *fileStore) Load(_ context.Context) (Record, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, recordFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrNoDecision
		}
		return Record{}, err
	}

	var record Record
	if err = json.Unmarshal(data, &record); err != nil {
		// A corrupt record is treated as no decision; the banner shows again.
		return Record{}, fmt.Errorf("%w: %w", ErrNoDecision, err)
	}

	return record, nil
}

// memoryStore holds the record in memory only; used when the host explicitly
// opts out of durable storage and in tests.
type memoryStore struct {
	record *Record
}

// NewMemoryStore creates a non-durable consent store.
func NewMemoryStore() Store {
	return &memoryStore{}
}

func (m *memoryStore) Save(_ context.Context, record Record) error {
	m.record = &record
	return nil
}

func (m *memoryStore) Load(_ context.Context) (Record, error) {
	if m.record == nil {
		return Record{}, ErrNoDecision
	}
	return *m.record, nil
}
