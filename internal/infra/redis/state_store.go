package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/quiz"
)

// maxUpdateRetries bounds optimistic retries when concurrent writers keep
// invalidating the watched key.
const maxUpdateRetries = 5

// StateStore keeps one Quiz State per session in Redis. It is the only
// synchronization point between connections: every mutation is a WATCH-guarded
// read-modify-write, so a moderator command racing the timeout clock
// serializes on the key instead of last-writer-wins.
//
// The Redis TIME command doubles as the server-wide clock so every process
// reasons about deadlines against the same time source.
type StateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateStore(client *redis.Client, ttl time.Duration) *StateStore {
	return &StateStore{client: client, ttl: ttl}
}

func (s *StateStore) key(sessionID string) string {
	return "quiz:session:" + sessionID
}

func (s *StateStore) Init(ctx context.Context, state quiz.State) (quiz.State, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return quiz.State{}, fmt.Errorf("marshal session state: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.key(state.SessionID), data, s.ttl).Result()
	if err != nil {
		return quiz.State{}, fmt.Errorf("init session state: %w", err)
	}
	if created {
		return state, nil
	}
	// A state already exists (moderator reconnect): it stays authoritative.
	return s.Get(ctx, state.SessionID)
}

func (s *StateStore) Get(ctx context.Context, sessionID string) (quiz.State, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return quiz.State{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return quiz.State{}, fmt.Errorf("get session state: %w", err)
	}

	var state quiz.State
	if err := json.Unmarshal(data, &state); err != nil {
		return quiz.State{}, fmt.Errorf("unmarshal session state: %w", err)
	}
	return state, nil
}

// Update applies fn to the current snapshot under WATCH and writes the result
// back transactionally. When another writer touches the key in between, the
// transaction fails and the whole cycle reruns against the fresh snapshot.
func (s *StateStore) Update(ctx context.Context, sessionID string, apply func(quiz.State) (quiz.State, error)) (quiz.State, error) {
	key := s.key(sessionID)
	var updated quiz.State

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("read session state: %w", err)
		}

		var current quiz.State
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("unmarshal session state: %w", err)
		}

		next, err := apply(current)
		if err != nil {
			return err
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal session state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		updated = next
		return nil
	}

	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return quiz.State{}, err
		}
		return updated, nil
	}
	return quiz.State{}, fmt.Errorf("update session %s: too many concurrent writers", sessionID)
}

func (s *StateStore) ServerTime(ctx context.Context) (int64, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("redis time: %w", err)
	}
	return t.Unix(), nil
}
