// Package store implements the file-backed prompt store: one JSON file per
// prompt, keyed by its time-ordered uuid, written atomically via
// write-to-temp-then-rename (grounded on internal/config/save.go's pattern
// in the teacher repo).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/abusi/clhorde/internal/log"
	"github.com/abusi/clhorde/internal/model"
)

// Filter selects a subset of prompts for bulk store operations
// (StoreDrop/StoreKeep).
type Filter string

const (
	FilterAll       Filter = "all"
	FilterCompleted Filter = "completed"
	FilterFailed    Filter = "failed"
	FilterPending   Filter = "pending"
)

// Matches reports whether p's status satisfies f. FilterAll matches
// everything except active (Running/Idle) prompts, which bulk operations
// must never touch regardless of filter.
func (f Filter) Matches(p model.Prompt) bool {
	if p.Status.IsActive() {
		return false
	}
	switch f {
	case FilterAll:
		return true
	case FilterCompleted:
		return p.Status == model.StatusCompleted
	case FilterFailed:
		return p.Status == model.StatusFailed
	case FilterPending:
		return p.Status == model.StatusPending
	default:
		return false
	}
}

// Store persists Prompt records as one JSON file per prompt under Dir.
type Store struct {
	dir string

	mu        sync.Mutex
	ownWrites map[string]struct{}
}

// New returns a Store rooted at dir. The directory is created if absent.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating prompt directory: %w", err)
	}
	return &Store{dir: dir, ownWrites: make(map[string]struct{})}, nil
}

// Dir returns the directory prompts are stored under.
func (s *Store) Dir() string {
	return s.dir
}

// PathFor returns the file path for a prompt's uuid, whether or not it has
// been written yet.
func (s *Store) PathFor(promptUUID string) string {
	return filepath.Join(s.dir, promptUUID+".json")
}

// NewUUID returns a fresh time-ordered (UUIDv7) prompt identifier.
func NewUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the OS entropy source is broken; fall back to
		// a random v4 rather than panicking the orchestrator loop.
		return uuid.NewString()
	}
	return id.String()
}

// Save atomically writes p to its file, creating or overwriting it.
func (s *Store) Save(p model.Prompt) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling prompt %s: %w", p.UUID, err)
	}

	temp, err := os.CreateTemp(s.dir, ".clhorde.prompt.tmp.*")
	if err != nil {
		return fmt.Errorf("store: creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("store: writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("store: closing temp file: %w", err)
	}

	// Mark this uuid as our own write before the rename lands on disk, so
	// a racing watcher goroutine can never observe the file without the
	// marker already set.
	s.markOwnWrite(p.UUID)

	if err := os.Rename(tempPath, s.PathFor(p.UUID)); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("store: renaming temp file: %w", err)
	}
	return nil
}

func (s *Store) markOwnWrite(promptUUID string) {
	s.mu.Lock()
	s.ownWrites[promptUUID] = struct{}{}
	s.mu.Unlock()
}

// consumeOwnWrite reports whether promptUUID was just written by this
// store's own Save, clearing the marker so later external edits to the
// same file are no longer mistaken for our own writes.
func (s *Store) consumeOwnWrite(promptUUID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ownWrites[promptUUID]; ok {
		delete(s.ownWrites, promptUUID)
		return true
	}
	return false
}

// Watch watches the prompt directory for files dropped in by tooling other
// than this Store's own Save and invokes onExternal for each one. It blocks
// until ctx is cancelled or the watcher fails.
func (s *Store) Watch(ctx context.Context, onExternal func(model.Prompt)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("store: creating directory watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("store: watching prompt directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleWatchEvent(ev, onExternal)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn(log.CatStore, "prompt directory watch error", "error", err)
		}
	}
}

func (s *Store) handleWatchEvent(ev fsnotify.Event, onExternal func(model.Prompt)) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !strings.HasSuffix(ev.Name, ".json") {
		return
	}
	promptUUID := strings.TrimSuffix(filepath.Base(ev.Name), ".json")
	if s.consumeOwnWrite(promptUUID) {
		return
	}

	data, err := os.ReadFile(ev.Name)
	if err != nil {
		log.Warn(log.CatStore, "failed reading externally dropped prompt file", "path", ev.Name, "error", err)
		return
	}
	var p model.Prompt
	if err := json.Unmarshal(data, &p); err != nil {
		log.Warn(log.CatStore, "failed parsing externally dropped prompt file", "path", ev.Name, "error", err)
		return
	}
	onExternal(p)
}

// Delete removes a prompt's file. A missing file is not an error.
func (s *Store) Delete(promptUUID string) error {
	if err := os.Remove(s.PathFor(promptUUID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: deleting prompt %s: %w", promptUUID, err)
	}
	return nil
}

// LoadAll reads every prompt file in the directory. Files that fail to
// parse are logged and skipped rather than aborting startup. Results are
// sorted by id ascending.
func (s *Store) LoadAll() ([]model.Prompt, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: reading prompt directory: %w", err)
	}

	var prompts []model.Prompt
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, ent.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn(log.CatStore, "failed reading prompt file", "path", path, "error", err)
			continue
		}
		var p model.Prompt
		if err := json.Unmarshal(data, &p); err != nil {
			log.Warn(log.CatStore, "failed parsing prompt file", "path", path, "error", err)
			continue
		}
		prompts = append(prompts, p)
	}

	sort.Slice(prompts, func(i, j int) bool { return prompts[i].ID < prompts[j].ID })
	return prompts, nil
}

// Count returns the number of prompt files on disk.
func (s *Store) Count() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("store: reading prompt directory: %w", err)
	}
	n := 0
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), ".json") {
			n++
		}
	}
	return n, nil
}
