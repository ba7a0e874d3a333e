package app

import (
	"context"
	"fmt"
	"time"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/quiz"
)

// StateStore holds the single writable Quiz State per session and supplies
// the server clock every timing decision is made against.
type StateStore interface {
	// Init stores the snapshot unless one already exists, and returns the
	// snapshot that is now authoritative.
	Init(ctx context.Context, state quiz.State) (quiz.State, error)
	Get(ctx context.Context, sessionID string) (quiz.State, error)
	// Update runs apply inside a guarded read-modify-write cycle. The store
	// retries apply when a concurrent writer invalidates the read snapshot,
	// so apply must be safe to re-run.
	Update(ctx context.Context, sessionID string, apply func(quiz.State) (quiz.State, error)) (quiz.State, error)
	// ServerTime returns the store's monotonic clock in unix seconds.
	ServerTime(ctx context.Context) (int64, error)
}

// Envelope is the notification published on a session's broadcast channel.
// Subscribers treat it as "state may have changed": they re-fetch the
// snapshot from the store and re-project, never trusting the body.
type Envelope struct {
	Type             string `json:"type"`
	ModeratorEvent   string `json:"moderator_event,omitempty"`
	ParticipantEvent string `json:"participant_event,omitempty"`
}

// Broadcaster decouples whoever mutates state from every connection
// rendering the session.
type Broadcaster interface {
	Publish(ctx context.Context, sessionID string, env Envelope) error
	// Subscribe returns a channel of notifications plus a cancel function
	// releasing the subscription.
	Subscribe(ctx context.Context, sessionID string) (<-chan Envelope, func(), error)
}

// UserRepository looks up registered users.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (domain.User, error)
}

// SessionRepository looks up scheduled sessions.
type SessionRepository interface {
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
}

// QuestionRepository loads authored quiz questions.
type QuestionRepository interface {
	QuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error)
	QuestionByNumber(ctx context.Context, quizID string, number int) (domain.Question, error)
}

// AnswerRepository appends answer facts and aggregates scores.
type AnswerRepository interface {
	RecordAnswer(ctx context.Context, answer domain.ParticipantAnswer) error
	SessionScores(ctx context.Context, sessionID string) ([]domain.ScoreEntry, error)
}

// ParticipantRepository records session joins.
type ParticipantRepository interface {
	AddParticipant(ctx context.Context, participant domain.SessionParticipant) error
}

// AuthoringRepository persists the write side of the HTTP authoring endpoints.
type AuthoringRepository interface {
	AddUser(ctx context.Context, user domain.User) error
	AddSession(ctx context.Context, session domain.Session) error
	AddQuiz(ctx context.Context, q domain.Quiz, questions []domain.Question, perm domain.Permission) error
}

// SessionService contains the session use cases shared by every connection.
type SessionService struct {
	store        StateStore
	broadcaster  Broadcaster
	registry     *quiz.Registry
	users        UserRepository
	sessions     SessionRepository
	questions    QuestionRepository
	answers      AnswerRepository
	participants ParticipantRepository
}

func NewSessionService(
	store StateStore,
	broadcaster Broadcaster,
	registry *quiz.Registry,
	users UserRepository,
	sessions SessionRepository,
	questions QuestionRepository,
	answers AnswerRepository,
	participants ParticipantRepository,
) *SessionService {
	return &SessionService{
		store:        store,
		broadcaster:  broadcaster,
		registry:     registry,
		users:        users,
		sessions:     sessions,
		questions:    questions,
		answers:      answers,
		participants: participants,
	}
}

// ConnectModerator validates a moderator handshake and initializes (or
// reuses) the session's state in the store.
func (s *SessionService) ConnectModerator(ctx context.Context, sessionID, userID string) (quiz.State, domain.User, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return quiz.State{}, domain.User{}, domain.ErrSessionNotFound
	}
	if session.ModeratorID != userID {
		return quiz.State{}, domain.User{}, domain.ErrForbidden
	}

	questions, err := s.questions.QuizQuestions(ctx, session.QuizID)
	if err != nil {
		return quiz.State{}, domain.User{}, fmt.Errorf("load quiz questions: %w", err)
	}

	state, err := s.store.Init(ctx, quiz.NewState(sessionID, session.QuizID, len(questions)))
	if err != nil {
		return quiz.State{}, domain.User{}, fmt.Errorf("initialize session state: %w", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return quiz.State{}, domain.User{}, domain.ErrForbidden
	}
	return state, user, nil
}

// ConnectParticipant validates a participant handshake. Participants may only
// join while the session is waiting to start, and joining is recorded.
func (s *SessionService) ConnectParticipant(ctx context.Context, sessionID, userID string) (quiz.State, domain.User, error) {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return quiz.State{}, domain.User{}, domain.ErrSessionNotFound
	}
	if state.Status != quiz.StatusWaiting {
		return quiz.State{}, domain.User{}, domain.ErrSessionClosed
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return quiz.State{}, domain.User{}, domain.ErrForbidden
	}

	join := domain.SessionParticipant{
		QuizID:    state.QuizID,
		SessionID: sessionID,
		UserID:    userID,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.participants.AddParticipant(ctx, join); err != nil {
		return quiz.State{}, domain.User{}, fmt.Errorf("record participant: %w", err)
	}
	return state, user, nil
}

// Apply dispatches one message against the current snapshot, persists the
// outcome through the store's read-modify-write cycle, and fans the change
// out on the session channel. Messages that do not change anything are not
// published, which keeps replayed timeouts exactly-once on the wire.
func (s *SessionService) Apply(ctx context.Context, sessionID string, msg quiz.Message, role domain.Role, user domain.User) (quiz.State, error) {
	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return quiz.State{}, fmt.Errorf("read server clock: %w", err)
	}

	var result quiz.Result
	state, err := s.store.Update(ctx, sessionID, func(current quiz.State) (quiz.State, error) {
		res, derr := s.registry.Dispatch(ctx, msg, current, role, user, now)
		if derr != nil {
			return quiz.State{}, derr
		}
		result = res
		return res.State, nil
	})
	if err != nil {
		return quiz.State{}, err
	}

	if result.Changed {
		env := Envelope{
			Type:             quiz.PayloadUpdate,
			ModeratorEvent:   result.ModeratorEvent,
			ParticipantEvent: result.ParticipantEvent,
		}
		if state.Status == quiz.StatusEnded {
			env.Type = quiz.PayloadEnd
		}
		if err := s.broadcaster.Publish(ctx, sessionID, env); err != nil {
			return quiz.State{}, fmt.Errorf("publish session update: %w", err)
		}
	}
	return state, nil
}

// CheckTimeout inspects the deadline and, when it has passed on an active
// question, pushes the synthesized timeout message through the normal
// dispatch path. Returns whether a timeout fired.
func (s *SessionService) CheckTimeout(ctx context.Context, sessionID string, user domain.User) (bool, error) {
	state, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if state.Status != quiz.StatusActive {
		return false, nil
	}

	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return false, fmt.Errorf("read server clock: %w", err)
	}
	if now < state.CurrentQuestionEndTimestamp {
		return false, nil
	}

	if _, err := s.Apply(ctx, sessionID, quiz.TimeoutMessage(), domain.RoleModerator, user); err != nil {
		return false, err
	}
	return true, nil
}

// AnnounceJoin publishes the participant-joined notification.
func (s *SessionService) AnnounceJoin(ctx context.Context, sessionID string, user domain.User) error {
	event := "Participant " + user.UserID + " Joined Quiz"
	return s.broadcaster.Publish(ctx, sessionID, Envelope{
		Type:             quiz.PayloadUpdate,
		ModeratorEvent:   event,
		ParticipantEvent: event,
	})
}

// State re-reads the authoritative snapshot.
func (s *SessionService) State(ctx context.Context, sessionID string) (quiz.State, error) {
	return s.store.Get(ctx, sessionID)
}

// ServerTime exposes the store clock for outbound timestamps.
func (s *SessionService) ServerTime(ctx context.Context) (int64, error) {
	return s.store.ServerTime(ctx)
}

// Subscribe attaches to the session's broadcast channel.
func (s *SessionService) Subscribe(ctx context.Context, sessionID string) (<-chan Envelope, func(), error) {
	return s.broadcaster.Subscribe(ctx, sessionID)
}

// Scores aggregates the results board from the recorded answer facts.
func (s *SessionService) Scores(ctx context.Context, sessionID string) ([]domain.ScoreEntry, error) {
	return s.answers.SessionScores(ctx, sessionID)
}
