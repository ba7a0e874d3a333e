package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// QuestionCache is a cache-aside layer over a question repository. Questions
// are stored as a hash per quiz (field = question number, value = JSON) and
// reloaded from the backing repository on miss, with singleflight preventing
// a stampede when many connections warm the same quiz at once.
type QuestionCache struct {
	client *redis.Client
	source app.QuestionRepository
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, source app.QuestionRepository, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) key(quizID string) string {
	return "quiz:" + quizID + ":questions"
}

func (c *QuestionCache) QuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	cached, err := c.client.HGetAll(ctx, c.key(quizID)).Result()
	if err == nil && len(cached) > 0 {
		return decodeQuestions(cached)
	}
	return c.load(ctx, quizID)
}

func (c *QuestionCache) QuestionByNumber(ctx context.Context, quizID string, number int) (domain.Question, error) {
	raw, err := c.client.HGet(ctx, c.key(quizID), strconv.Itoa(number)).Result()
	if err == nil {
		var question domain.Question
		if err := json.Unmarshal([]byte(raw), &question); err == nil {
			return question, nil
		}
	}

	questions, err := c.load(ctx, quizID)
	if err != nil {
		return domain.Question{}, err
	}
	for _, q := range questions {
		if q.Number == number {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

// load fills the cache from the backing repository, collapsing concurrent
// misses for the same quiz into one fetch.
func (c *QuestionCache) load(ctx context.Context, quizID string) ([]domain.Question, error) {
	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache meanwhile.
		cached, err := c.client.HGetAll(ctx, c.key(quizID)).Result()
		if err == nil && len(cached) > 0 {
			return decodeQuestions(cached)
		}

		questions, err := c.source.QuizQuestions(ctx, quizID)
		if err != nil {
			return nil, err
		}

		key := c.key(quizID)
		pipe := c.client.Pipeline()
		for _, q := range questions {
			encoded, err := json.Marshal(q)
			if err != nil {
				return nil, fmt.Errorf("marshal question %s: %w", q.QuestionID, err)
			}
			pipe.HSet(ctx, key, strconv.Itoa(q.Number), encoded)
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, _ = pipe.Exec(ctx)

		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func decodeQuestions(cached map[string]string) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, len(cached))
	for _, raw := range cached {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, fmt.Errorf("unmarshal cached question: %w", err)
		}
		questions = append(questions, q)
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Number < questions[j].Number })
	return questions, nil
}

// ttlWithJitter spreads expirations by up to 10%.
func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
