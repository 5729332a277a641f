package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"soclite-backend/internal/feature"
)

// FileStore keeps every target's state in one JSON snapshot, rewritten
// through a temp file so a crash never leaves a half-written snapshot
// behind. Reads reload the snapshot when another process has rewritten
// it; updates assume this store is the only writer.
type FileStore struct {
	mu     sync.Mutex
	path   string
	states map[string]State
	mtime  time.Time
	size   int64
}

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create baseline dir: %w", err)
	}
	store := &FileStore{path: path, states: map[string]State{}}
	if err := store.loadLocked(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *FileStore) Read(ctx context.Context, target string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadIfChangedLocked(); err != nil {
		return State{}, err
	}
	return s.states[target], nil
}

func (s *FileStore) Update(ctx context.Context, target, obsID string, vec feature.Vector) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.states[target]
	if obsID != "" && state.LastObservationID == obsID {
		return state, nil
	}
	next := state.Apply(obsID, vec, time.Now().UTC())
	s.states[target] = next
	if err := s.flushLocked(); err != nil {
		s.states[target] = state
		return State{}, err
	}
	return next, nil
}

func (s *FileStore) Targets(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reloadIfChangedLocked(); err != nil {
		return nil, err
	}
	targets := make([]string, 0, len(s.states))
	for target := range s.states {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) loadLocked() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat baseline snapshot: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read baseline snapshot: %w", err)
	}
	states := map[string]State{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &states); err != nil {
			return fmt.Errorf("parse baseline snapshot: %w", err)
		}
	}
	s.states = states
	s.mtime = info.ModTime()
	s.size = info.Size()
	return nil
}

func (s *FileStore) reloadIfChangedLocked() error {
	info, err := os.Stat(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat baseline snapshot: %w", err)
	}
	if info.ModTime().Equal(s.mtime) && info.Size() == s.size {
		return nil
	}
	return s.loadLocked()
}

func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.states, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal baseline snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write baseline snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace baseline snapshot: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.mtime = info.ModTime()
		s.size = info.Size()
	}
	return nil
}
