// Package datastore defines the key-value transport this library
// replicates over — an opaque get(key) → value / set(key, value |
// producer-fn) store — plus an in-memory reference implementation used
// by tests and a JSON-file-backed store used by the CLI demo. This is
// deliberately an interface, not a production backend.
package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gosynchro/synchro/internal/synerr"
)

// ProducerFunc is a lazily-evaluated value: the producer endpoint
// registers one at "{prefix}.all" so every Get re-snapshots the Set
// instead of serving a stale cached value.
type ProducerFunc func(ctx context.Context) (any, error)

// Datastore is the transport contract the Producer endpoint writes to
// and the Consumer engine reads from.
type Datastore interface {
	Get(ctx context.Context, key string) (any, error)
	Set(ctx context.Context, key string, value any) error
}

// Memory is an in-process reference Datastore. It is a test double, not
// a production backend: see DESIGN.md for why no SQL-backed store is
// wired here.
type Memory struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewMemory creates an empty in-memory Datastore.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]any)}
}

// Set stores value under key, overwriting any previous value
// (producer writes are idempotent).
func (m *Memory) Set(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Get returns the value stored at key. If the stored value is a
// ProducerFunc, it is invoked and its result returned instead of the
// function itself — the "{prefix}.all" callback semantics the producer
// endpoint relies on.
func (m *Memory) Get(ctx context.Context, key string) (any, error) {
	m.mu.RLock()
	v, ok := m.values[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: key %q", synerr.ErrNotFound, key)
	}
	if fn, ok := v.(ProducerFunc); ok {
		return fn(ctx)
	}
	return v, nil
}

// FileStore is a JSON-file-backed Datastore for the CLI: the "serve"
// command's producer endpoint writes through one, and the "mirror"
// command's consumer reads a second instance opened on the same path
// from a separate process. A ProducerFunc stored by Set is resolved
// immediately and its result persisted to disk — the disk copy never
// holds a live callback — so every Set call snapshots the current state
// for any reader with no in-memory entry of its own. There is no
// cross-process file locking; concurrent writers can race. That's an
// acceptable limitation for a manual-verification CLI, not a production
// backend (the datastore is explicitly out of scope for durability).
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]any
}

// NewFileStore opens (without requiring it to yet exist) a JSON-file
// Datastore at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, values: make(map[string]any)}
}

// Set stores value under key in memory, then persists every key's
// resolved (non-function) value to the backing file.
func (f *FileStore) Set(ctx context.Context, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return f.persistLocked(ctx)
}

// Get returns the value at key. If this FileStore instance wrote it
// (it's present in memory), a ProducerFunc is resolved the same way
// Memory resolves it. Otherwise the key is looked up in the on-disk
// snapshot, which is how a "mirror" process observes a "serve"
// process's writes.
func (f *FileStore) Get(ctx context.Context, key string) (any, error) {
	f.mu.Lock()
	v, ok := f.values[key]
	f.mu.Unlock()
	if ok {
		if fn, isFn := v.(ProducerFunc); isFn {
			return fn(ctx)
		}
		return v, nil
	}

	disk, err := f.readDisk()
	if err != nil {
		return nil, err
	}
	v, ok = disk[key]
	if !ok {
		return nil, fmt.Errorf("%w: key %q", synerr.ErrNotFound, key)
	}
	return v, nil
}

func (f *FileStore) persistLocked(ctx context.Context) error {
	resolved := make(map[string]any, len(f.values))
	for k, v := range f.values {
		if fn, ok := v.(ProducerFunc); ok {
			out, err := fn(ctx)
			if err != nil {
				return fmt.Errorf("%w: resolving %q: %v", synerr.ErrTransportError, k, err)
			}
			resolved[k] = out
			continue
		}
		resolved[k] = v
	}

	data, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", synerr.ErrMalformed, err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", tmp, f.path, err)
	}
	return nil
}

func (f *FileStore) readDisk() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", synerr.ErrMalformed, err)
	}
	return out, nil
}
