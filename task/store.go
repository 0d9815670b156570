package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// DefaultKey is the record key the task list is stored under.
const DefaultKey = "tasks"

// Backend is the durable key-value store the task list is written to.
// kv.Store satisfies it.
type Backend interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Options configures a Store.
type Options struct {
	Key    string       // record key; DefaultKey when empty
	Logger *slog.Logger // slog.Default() when nil
}

// Store owns the task list. Every mutating call persists the full list
// before it returns. Calls are serialised.
type Store struct {
	mu      sync.Mutex
	backend Backend
	key     string
	logger  *slog.Logger
	tasks   List
	dirty   bool // in-memory list differs from the last successful write
}

// NewStore returns an empty Store writing to backend. Call LoadAll (or use
// Open) to read existing state.
func NewStore(backend Backend, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		backend: backend,
		key:     opts.Key,
		logger:  opts.Logger,
	}
}

// Open creates a Store and loads persisted state. A corrupt record does not
// fail startup: the raw value is copied to "<key>.corrupt" and the store
// starts empty. Backend read failures are returned, since starting empty
// would overwrite data that may still be intact. IDs assigned to entries
// stored without one are written back before Open returns.
func Open(ctx context.Context, backend Backend, opts Options) (*Store, error) {
	s := NewStore(backend, opts)
	raw, present, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	tasks, assigned, err := s.decode(raw, present)
	var corrupt *CorruptStateError
	if errors.As(err, &corrupt) {
		backupKey := s.key + ".corrupt"
		s.logger.Warn("persisted tasks are corrupt; starting with an empty list",
			slog.String("key", s.key),
			slog.String("backup_key", backupKey),
			slog.Any("err", err),
		)
		if berr := backend.Set(ctx, backupKey, raw); berr != nil {
			s.logger.Error("back up corrupt tasks", slog.Any("err", berr))
		}
		tasks = List{}
	} else if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
	if assigned {
		// Failure is logged and leaves the store dirty for the next write.
		_ = s.persistLocked(ctx)
	}
	return s, nil
}

// LoadAll reads the persisted list, replaces the in-memory list with it and
// returns a copy. An absent record yields an empty list. Undecodable data or
// a failed read yields a *CorruptStateError and leaves the store unchanged.
func (s *Store) LoadAll(ctx context.Context) (List, error) {
	raw, present, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	tasks, assigned, err := s.decode(raw, present)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = tasks
	s.dirty = false
	if assigned {
		_ = s.persistLocked(ctx)
	}
	return s.copyLocked(), nil
}

func (s *Store) read(ctx context.Context) (string, bool, error) {
	raw, ok, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return "", false, &CorruptStateError{Key: s.key, Reason: "read failed", Err: err}
	}
	return raw, ok, nil
}

// decode parses a persisted list. assigned reports whether any entry was
// given a fresh ID, in which case the caller must write the list back so
// IDs stay stable across loads.
func (s *Store) decode(raw string, present bool) (tasks List, assigned bool, err error) {
	if !present {
		return List{}, false, nil
	}
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false, &CorruptStateError{Key: s.key, Reason: "value is not a JSON array"}
	}
	if err := json.Unmarshal(trimmed, &tasks); err != nil {
		return nil, false, &CorruptStateError{Key: s.key, Reason: "decode", Err: err}
	}
	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		t.Name = normalizeName(t.Name)
		if t.Name == "" {
			return nil, false, &CorruptStateError{Key: s.key, Reason: fmt.Sprintf("task %d has no name", i)}
		}
		if t.ID == "" || seen[t.ID] {
			t.ID = uuid.NewString()
			assigned = true
		}
		seen[t.ID] = true
		if !t.Completed {
			t.Time = ""
		}
	}
	if tasks == nil {
		tasks = List{}
	}
	return tasks, assigned, nil
}

// Add appends a new, incomplete task and persists. A name that is empty
// after trimming is ignored and Add returns an empty ID.
func (s *Store) Add(ctx context.Context, name string) (string, error) {
	name = normalizeName(name)
	if name == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.tasks = append(s.tasks, Task{ID: id, Name: name})
	return id, s.persistLocked(ctx)
}

// Rename changes a task's name and persists. It reports false without
// persisting when the trimmed name is empty or equal to the current name.
func (s *Store) Rename(ctx context.Context, id, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.tasks.Index(id)
	if i < 0 {
		return false, fmt.Errorf("rename %s: %w", id, ErrInvalidTaskReference)
	}
	name = normalizeName(name)
	if name == "" || name == s.tasks[i].Name {
		return false, nil
	}
	s.tasks[i].Name = name
	return true, s.persistLocked(ctx)
}

// SetCompletion sets a task's completion flag and recorded time together and
// persists. Reopening a task always clears its recorded time.
func (s *Store) SetCompletion(ctx context.Context, id string, completed bool, recordedTime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.tasks.Index(id)
	if i < 0 {
		return fmt.Errorf("set completion %s: %w", id, ErrInvalidTaskReference)
	}
	if !completed {
		recordedTime = ""
	}
	s.tasks[i].Completed = completed
	s.tasks[i].Time = recordedTime
	return s.persistLocked(ctx)
}

// Persist writes the full list to the backend, overwriting prior contents.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(ctx context.Context) error {
	tasks := s.tasks
	if tasks == nil {
		tasks = List{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return &PersistenceError{Err: err}
	}
	if err := s.backend.Set(ctx, s.key, string(data)); err != nil {
		s.dirty = true
		s.logger.Warn("persist tasks failed; keeping in-memory state",
			slog.String("key", s.key), slog.Any("err", err))
		return &PersistenceError{Err: err}
	}
	if s.dirty {
		s.logger.Info("persisted tasks after earlier failure", slog.String("key", s.key))
	}
	s.dirty = false
	return nil
}

// Get returns a copy of the task with the given ID.
func (s *Store) Get(id string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.tasks.Index(id)
	if i < 0 {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrInvalidTaskReference)
	}
	return s.tasks[i], nil
}

// List returns a copy of the task list in insertion order.
func (s *Store) List() List {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// Len returns the number of tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Dirty reports whether the last write to the backend failed.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

func (s *Store) copyLocked() List {
	out := make(List, len(s.tasks))
	copy(out, s.tasks)
	return out
}

func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}
