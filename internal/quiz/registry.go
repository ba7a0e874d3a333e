package quiz

import (
	"context"
	"errors"
	"log/slog"

	"live-quiz-service/internal/domain"
)

// QuestionSource loads authored questions for a quiz.
type QuestionSource interface {
	QuestionByNumber(ctx context.Context, quizID string, number int) (domain.Question, error)
}

// AnswerSink appends participant answer facts. Implementations must be
// idempotent per (session, user, question): a dispatch may be retried when
// the state store detects a concurrent writer.
type AnswerSink interface {
	RecordAnswer(ctx context.Context, answer domain.ParticipantAnswer) error
}

// Result is the outcome of dispatching one message. Changed reports whether
// the session actually moved (or a fact was recorded), so callers only
// persist and fan out real transitions.
type Result struct {
	State            State
	ModeratorEvent   string
	ParticipantEvent string
	Changed          bool
}

// Handler processes one message kind against a state snapshot.
type Handler interface {
	Handle(ctx context.Context, msg Message, state State, role domain.Role, user domain.User, now int64) (Result, error)
}

// Registry maps message types to handlers. Built once at process init and
// never mutated afterwards.
type Registry struct {
	handlers map[MessageType]Handler
}

// NewRegistry wires the fixed handler set.
func NewRegistry(questions QuestionSource, answers AnswerSink) *Registry {
	return &Registry{handlers: map[MessageType]Handler{
		MessageModeratorChoice:   &moderatorChoiceHandler{questions: questions},
		MessageParticipantChoice: &participantChoiceHandler{answers: answers},
		MessageTimeout:           &timeoutHandler{},
	}}
}

// Dispatch routes a message to its handler. Role violations surface as
// ErrForbidden, unknown types as ErrInvalidMessageType, terminal signals
// pass through untouched, and anything else degrades to the opaque
// internal error so no detail leaks to the caller.
func (r *Registry) Dispatch(ctx context.Context, msg Message, state State, role domain.Role, user domain.User, now int64) (Result, error) {
	handler, ok := r.handlers[msg.Type]
	if !ok {
		return Result{State: state}, domain.ErrInvalidMessageType
	}

	res, err := handler.Handle(ctx, msg, state, role, user, now)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) || errors.Is(err, domain.ErrUserLeft) || errors.Is(err, domain.ErrQuizEnded) {
			return Result{State: state}, err
		}
		slog.Error("message handler failed",
			"type", string(msg.Type), "session_id", state.SessionID, "user_id", user.UserID, "err", err)
		return Result{State: state}, domain.ErrInternal
	}
	return res, nil
}

type moderatorChoiceHandler struct {
	questions QuestionSource
}

// Handle applies a moderator command to the session. Commands arriving in a
// state where they are not legal leave the snapshot unchanged.
func (h *moderatorChoiceHandler) Handle(ctx context.Context, msg Message, state State, role domain.Role, _ domain.User, now int64) (Result, error) {
	if role != domain.RoleModerator {
		return Result{}, domain.ErrForbidden
	}
	if msg.Choice.OptionType != OptionCmd {
		return Result{State: state}, nil
	}
	if state.Status == StatusEnded {
		return Result{State: state}, nil
	}

	switch msg.Choice.Option {
	case CmdStartQuiz:
		if state.Status != StatusWaiting {
			return Result{State: state}, nil
		}
		first, err := h.questions.QuestionByNumber(ctx, state.QuizID, 1)
		if err != nil {
			return Result{}, err
		}
		next := state.Start(first, now)
		return Result{State: next, Changed: !next.Equal(state)}, nil

	case CmdNextQuestion:
		if state.OnLastQuestion() || (state.Status != StatusActive && state.Status != StatusTimedOut) {
			return Result{State: state}, nil
		}
		question, err := h.questions.QuestionByNumber(ctx, state.QuizID, state.CurrentQuestionNumber+1)
		if err != nil {
			return Result{}, err
		}
		next := state.Next(question, now)
		return Result{State: next, Changed: !next.Equal(state)}, nil

	case CmdGoToResults:
		next := state.Results()
		return Result{State: next, Changed: !next.Equal(state)}, nil

	case CmdEndQuiz:
		next := state.End()
		return Result{State: next, Changed: !next.Equal(state)}, nil

	default:
		return Result{State: state}, nil
	}
}

type participantChoiceHandler struct {
	answers AnswerSink
}

// Handle scores a participant submission or signals the participant leaving.
// Scoring fails closed: any mismatch between the submitted triple and the
// live question yields an incorrect answer rather than an error, and the
// fact is recorded either way.
func (h *participantChoiceHandler) Handle(ctx context.Context, msg Message, state State, role domain.Role, user domain.User, now int64) (Result, error) {
	if role != domain.RoleParticipant {
		return Result{}, domain.ErrForbidden
	}

	switch msg.Choice.OptionType {
	case OptionCmd:
		if msg.Choice.Option == CmdLeaveQuiz {
			return Result{State: state}, domain.ErrUserLeft
		}
		return Result{State: state}, nil

	case OptionAnswer:
		if state.Status != StatusActive || state.CurrentQuestion == nil {
			// Question frozen or quiz not running: submission is dropped.
			return Result{State: state}, nil
		}

		correct, points := scoreSubmission(state, msg.Choice)
		fact := domain.ParticipantAnswer{
			UserID:     user.UserID,
			QuestionID: msg.Choice.QuestionID,
			AnswerID:   msg.Choice.AnswerID,
			SessionID:  state.SessionID,
			QuizID:     state.QuizID,
			Points:     points,
			Correct:    correct,
			Timestamp:  now,
		}
		if err := h.answers.RecordAnswer(ctx, fact); err != nil {
			return Result{}, err
		}
		event := "Participant " + user.UserID + " answered"
		return Result{State: state, ModeratorEvent: event, Changed: true}, nil

	default:
		return Result{State: state}, nil
	}
}

// scoreSubmission matches the submitted quiz/question/answer triple against
// the live question. Unknown IDs or a quiz mismatch score as incorrect.
func scoreSubmission(state State, choice Choice) (bool, int) {
	question := state.CurrentQuestion
	if choice.QuizID != state.QuizID || choice.QuestionID != question.QuestionID {
		return false, 0
	}
	for _, option := range question.Answers {
		if option.AnswerID == choice.AnswerID {
			if option.Correct {
				points := question.Points
				if points == 0 {
					points = 1
				}
				return true, points
			}
			return false, 0
		}
	}
	return false, 0
}

type timeoutHandler struct{}

// Handle freezes the current question when its deadline passed. Replaying a
// timeout against an already timed-out session reports no change, which keeps
// the server-driven transition exactly-once at the fanout level.
func (h *timeoutHandler) Handle(_ context.Context, _ Message, state State, role domain.Role, _ domain.User, _ int64) (Result, error) {
	if role != domain.RoleModerator {
		return Result{}, domain.ErrForbidden
	}
	next := state.Timeout()
	return Result{State: next, Changed: !next.Equal(state)}, nil
}
