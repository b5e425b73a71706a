package yuuki

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/lmittmann/tint"
)

// FileRegistry is a per-guild (or per-user) key-value settings store
// backed by a single flat JSON file: one JSON object keyed by owner ID,
// read once at startup and rewritten wholesale on every mutation.
//
// Concurrent writers across multiple processes are not supported; the
// registry serializes mutation and persistence under one lock.
type FileRegistry[T any] struct {
	path    string
	mu      sync.RWMutex
	entries map[string]T
	logger  *slog.Logger
}

func NewFileRegistry[T any](path string, logger *slog.Logger) *FileRegistry[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRegistry[T]{
		path:    path,
		entries: map[string]T{},
		logger:  logger.With(loggerNameKey, "registry", "path", path),
	}
}

// Load reads the backing file. A missing file leaves the registry empty
// and is not an error.
func (r *FileRegistry[T]) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.entries = map[string]T{}
			return nil
		}
		return fmt.Errorf("reading %s: %w", r.path, err)
	}
	entries := map[string]T{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing %s: %w", r.path, err)
	}
	r.entries = entries
	r.logger.Info("loaded registry", "entries", len(entries))
	return nil
}

// Get returns the entry for the given owner.
func (r *FileRegistry[T]) Get(ownerID string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[ownerID]
	return v, ok
}

// Set stores the entry for the given owner and persists the full
// mapping.
func (r *FileRegistry[T]) Set(ownerID string, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ownerID] = v
	return r.save()
}

// Update applies fn to the entry for the given owner (zero value if
// absent), stores the result, and persists. If fn returns false the
// entry is left untouched and nothing is written.
func (r *FileRegistry[T]) Update(ownerID string, fn func(v T, ok bool) (T, bool)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[ownerID]
	next, keep := fn(v, ok)
	if !keep {
		return nil
	}
	r.entries[ownerID] = next
	return r.save()
}

// Delete removes the entry for the given owner and persists.
func (r *FileRegistry[T]) Delete(ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[ownerID]; !ok {
		return nil
	}
	delete(r.entries, ownerID)
	return r.save()
}

// All returns a copy of the current mapping.
func (r *FileRegistry[T]) All() map[string]T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make(map[string]T, len(r.entries))
	for k, v := range r.entries {
		entries[k] = v
	}
	return entries
}

// Len returns the number of entries.
func (r *FileRegistry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// save writes the full mapping via a temp file and rename. Callers must
// hold the write lock.
func (r *FileRegistry[T]) save() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, r.path); err != nil {
		r.logger.Error("error replacing registry file", tint.Err(err))
		return err
	}
	return nil
}
