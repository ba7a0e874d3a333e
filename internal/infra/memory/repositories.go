package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/domain"
)

// Repositories is an in-memory persistence layer implementing the app
// repository interfaces, used for tests and the zero-dependency demo mode.
type Repositories struct {
	mu           sync.RWMutex
	users        map[string]domain.User
	sessions     map[string]domain.Session
	quizzes      map[string]domain.Quiz
	questions    map[string][]domain.Question // quizID -> ordered questions
	answers      map[answerKey]domain.ParticipantAnswer
	participants map[string][]domain.SessionParticipant
}

type answerKey struct {
	sessionID  string
	userID     string
	questionID string
}

func NewRepositories() *Repositories {
	return &Repositories{
		users:        make(map[string]domain.User),
		sessions:     make(map[string]domain.Session),
		quizzes:      make(map[string]domain.Quiz),
		questions:    make(map[string][]domain.Question),
		answers:      make(map[answerKey]domain.ParticipantAnswer),
		participants: make(map[string][]domain.SessionParticipant),
	}
}

func (r *Repositories) GetUser(_ context.Context, userID string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (r *Repositories) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *Repositories) QuizQuestions(_ context.Context, quizID string) ([]domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	questions, ok := r.questions[quizID]
	if !ok {
		return nil, domain.ErrQuizNotFound
	}
	out := make([]domain.Question, len(questions))
	copy(out, questions)
	return out, nil
}

func (r *Repositories) QuestionByNumber(_ context.Context, quizID string, number int) (domain.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, q := range r.questions[quizID] {
		if q.Number == number {
			return q, nil
		}
	}
	return domain.Question{}, domain.ErrQuestionNotFound
}

// RecordAnswer keeps the first fact per (session, user, question); later
// submissions for the same question are dropped, mirroring the Postgres
// ON CONFLICT DO NOTHING policy.
func (r *Repositories) RecordAnswer(_ context.Context, answer domain.ParticipantAnswer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := answerKey{sessionID: answer.SessionID, userID: answer.UserID, questionID: answer.QuestionID}
	if _, exists := r.answers[key]; exists {
		return nil
	}
	r.answers[key] = answer
	return nil
}

// SessionScores sums awarded points per user, ordered by score descending
// then username for a stable board.
func (r *Repositories) SessionScores(_ context.Context, sessionID string) ([]domain.ScoreEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Everyone who answered lands on the board; only correct answers score.
	totals := make(map[string]int)
	for key, answer := range r.answers {
		if key.sessionID != sessionID {
			continue
		}
		if _, ok := totals[answer.UserID]; !ok {
			totals[answer.UserID] = 0
		}
		if answer.Correct {
			totals[answer.UserID] += answer.Points
		}
	}

	entries := make([]domain.ScoreEntry, 0, len(totals))
	for userID, score := range totals {
		entry := domain.ScoreEntry{UserID: userID, Score: score}
		if user, ok := r.users[userID]; ok {
			entry.Username = user.Username
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Username < entries[j].Username
	})
	return entries, nil
}

func (r *Repositories) AddParticipant(_ context.Context, participant domain.SessionParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants[participant.SessionID] {
		if existing.UserID == participant.UserID {
			return nil
		}
	}
	r.participants[participant.SessionID] = append(r.participants[participant.SessionID], participant)
	return nil
}

func (r *Repositories) AddUser(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UserID] = user
	return nil
}

func (r *Repositories) AddSession(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.SessionID] = session
	return nil
}

func (r *Repositories) AddQuiz(_ context.Context, q domain.Quiz, questions []domain.Question, _ domain.Permission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quizzes[q.QuizID] = q
	sorted := make([]domain.Question, len(questions))
	copy(sorted, questions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number < sorted[j].Number })
	r.questions[q.QuizID] = sorted
	return nil
}
