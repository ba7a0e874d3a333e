package memory

import (
	"context"
	"errors"
	"testing"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/quiz"
)

func TestStateStoreInitReusesExisting(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore()

	first, err := store.Init(ctx, quiz.NewState("session-1", "quiz-1", 2))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if first.Status != quiz.StatusWaiting {
		t.Fatalf("expected waiting, got %s", first.Status)
	}

	// Mutate, then re-init: the live state wins.
	_, err = store.Update(ctx, "session-1", func(s quiz.State) (quiz.State, error) {
		s.Status = quiz.StatusActive
		return s, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	again, err := store.Init(ctx, quiz.NewState("session-1", "quiz-1", 2))
	if err != nil {
		t.Fatalf("re-init: %v", err)
	}
	if again.Status != quiz.StatusActive {
		t.Fatalf("re-init must return the live state, got %s", again.Status)
	}
}

func TestStateStoreGetMissing(t *testing.T) {
	store := NewStateStore()
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestStateStoreUpdateErrorNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := NewStateStore()
	if _, err := store.Init(ctx, quiz.NewState("session-1", "quiz-1", 2)); err != nil {
		t.Fatalf("init: %v", err)
	}

	boom := errors.New("boom")
	_, err := store.Update(ctx, "session-1", func(s quiz.State) (quiz.State, error) {
		s.Status = quiz.StatusEnded
		return s, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected apply error, got %v", err)
	}

	state, err := store.Get(ctx, "session-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if state.Status != quiz.StatusWaiting {
		t.Fatalf("failed update must not persist, got %s", state.Status)
	}
}

func TestStateStoreClock(t *testing.T) {
	store := NewStateStoreWithClock(func() int64 { return 42 })
	now, err := store.ServerTime(context.Background())
	if err != nil || now != 42 {
		t.Fatalf("expected injected clock, got %d err=%v", now, err)
	}
}
