package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

type countingSource struct {
	calls     atomic.Int64
	questions []domain.Question
}

func (s *countingSource) QuizQuestions(_ context.Context, quizID string) ([]domain.Question, error) {
	s.calls.Add(1)
	if quizID != "quiz-1" {
		return nil, domain.ErrQuizNotFound
	}
	return s.questions, nil
}

func (s *countingSource) QuestionByNumber(_ context.Context, quizID string, number int) (domain.Question, error) {
	s.calls.Add(1)
	for _, q := range s.questions {
		if q.QuizID == quizID && q.Number == number {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

func newCountingSource() *countingSource {
	return &countingSource{questions: []domain.Question{
		{QuestionID: "q1", QuizID: "quiz-1", Text: "first", Number: 1, SecondsToAnswer: 30},
		{QuestionID: "q2", QuizID: "quiz-1", Text: "second", Number: 2, SecondsToAnswer: 30},
	}}
}

func TestQuestionCacheHitsBackendOnce(t *testing.T) {
	ctx := context.Background()
	mr, client := testClient(t)
	source := newCountingSource()
	cache := NewQuestionCache(client, source, time.Minute)

	questions, err := cache.QuizQuestions(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(questions) != 2 || questions[0].Number != 1 {
		t.Fatalf("unexpected questions: %+v", questions)
	}
	if !mr.Exists("quiz:quiz-1:questions") {
		t.Fatalf("expected cache hash in redis")
	}

	// Second read is served from the hash.
	if _, err := cache.QuizQuestions(ctx, "quiz-1"); err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected 1 backend call, got %d", got)
	}
}

func TestQuestionByNumberWarmsCache(t *testing.T) {
	ctx := context.Background()
	_, client := testClient(t)
	source := newCountingSource()
	cache := NewQuestionCache(client, source, time.Minute)

	q, err := cache.QuestionByNumber(ctx, "quiz-1", 2)
	if err != nil {
		t.Fatalf("question by number: %v", err)
	}
	if q.QuestionID != "q2" {
		t.Fatalf("expected q2, got %+v", q)
	}

	// The miss loaded the whole quiz; later lookups never touch the backend.
	if _, err := cache.QuestionByNumber(ctx, "quiz-1", 1); err != nil {
		t.Fatalf("cached lookup: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected 1 backend call, got %d", got)
	}

	if _, err := cache.QuestionByNumber(ctx, "quiz-1", 9); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
}

func TestQuestionCacheMissPropagatesError(t *testing.T) {
	ctx := context.Background()
	_, client := testClient(t)
	cache := NewQuestionCache(client, newCountingSource(), time.Minute)

	if _, err := cache.QuizQuestions(ctx, "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected quiz not found, got %v", err)
	}
}
