package baseline

import (
	"context"
	"sort"
	"sync"
	"time"

	"soclite-backend/internal/feature"
)

// Store persists per-target baseline state. Read returns the zero state
// for an unseen target. Update must be idempotent for a repeated
// observation id: retrying a failed update never double-counts.
type Store interface {
	Read(ctx context.Context, target string) (State, error)
	Update(ctx context.Context, target, obsID string, vec feature.Vector) (State, error)
	Targets(ctx context.Context) ([]string, error)
	Close() error
}

type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]State{}}
}

func (s *MemoryStore) Read(ctx context.Context, target string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[target], nil
}

func (s *MemoryStore) Update(ctx context.Context, target, obsID string, vec feature.Vector) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.states[target]
	if obsID != "" && state.LastObservationID == obsID {
		return state, nil
	}
	next := state.Apply(obsID, vec, time.Now().UTC())
	s.states[target] = next
	return next, nil
}

func (s *MemoryStore) Targets(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	targets := make([]string, 0, len(s.states))
	for target := range s.states {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
