package memory

import (
	"context"
	"sync"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/quiz"
)

// StateStore is an in-memory implementation of app.StateStore for tests and
// redis-less runs. The mutex gives Update the same serialization the Redis
// store gets from its guarded read-modify-write.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]quiz.State
	clock  func() int64
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]quiz.State),
		clock:  func() int64 { return time.Now().Unix() },
	}
}

// NewStateStoreWithClock is test-only for deterministic timestamps.
func NewStateStoreWithClock(clock func() int64) *StateStore {
	store := NewStateStore()
	store.clock = clock
	return store
}

func (s *StateStore) Init(_ context.Context, state quiz.State) (quiz.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.states[state.SessionID]; ok {
		return existing, nil
	}
	s.states[state.SessionID] = state
	return state, nil
}

func (s *StateStore) Get(_ context.Context, sessionID string) (quiz.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sessionID]
	if !ok {
		return quiz.State{}, domain.ErrSessionNotFound
	}
	return state, nil
}

func (s *StateStore) Update(_ context.Context, sessionID string, apply func(quiz.State) (quiz.State, error)) (quiz.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.states[sessionID]
	if !ok {
		return quiz.State{}, domain.ErrSessionNotFound
	}
	next, err := apply(current)
	if err != nil {
		return quiz.State{}, err
	}
	s.states[sessionID] = next
	return next, nil
}

func (s *StateStore) ServerTime(_ context.Context) (int64, error) {
	return s.clock(), nil
}
