package quiz

import (
	"live-quiz-service/internal/domain"
)

// Status is the lifecycle state of a running quiz session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusTimedOut Status = "timedout"
	StatusResults  Status = "results"
	StatusEnded    Status = "ended"
)

// State is the authoritative per-session snapshot. The state store holds the
// single writable copy; connections work on local values and write back
// through a guarded read-modify-write.
//
// Mutators are value methods returning a new State. Invalid triggers return
// the receiver unchanged so that racing writers (a moderator command against
// the timeout clock) interleave harmlessly.
type State struct {
	SessionID                   string           `json:"session_id"`
	QuizID                      string           `json:"quiz_id"`
	Status                      Status           `json:"quiz_state"`
	CurrentQuestionNumber       int              `json:"current_question_number"`
	QuestionCount               int              `json:"question_count"`
	CurrentQuestion             *domain.Question `json:"current_question"`
	CurrentQuestionEndTimestamp int64            `json:"current_question_end_timestamp"`
}

// NewState creates the snapshot for a freshly opened session.
func NewState(sessionID, quizID string, questionCount int) State {
	return State{
		SessionID:     sessionID,
		QuizID:        quizID,
		Status:        StatusWaiting,
		QuestionCount: questionCount,
	}
}

// OnLastQuestion reports whether the session is on its final question.
func (s State) OnLastQuestion() bool {
	return s.QuestionCount > 0 && s.CurrentQuestionNumber >= s.QuestionCount
}

// Start activates the quiz on its first question. Only legal from waiting.
func (s State) Start(first domain.Question, now int64) State {
	if s.Status != StatusWaiting {
		return s
	}
	s.Status = StatusActive
	s.CurrentQuestionNumber = 1
	s.CurrentQuestion = &first
	s.CurrentQuestionEndTimestamp = now + int64(first.SecondsToAnswer)
	return s
}

// Next advances to the given question. Legal from active or timedout, and
// only while not on the last question; the question number never decreases.
func (s State) Next(next domain.Question, now int64) State {
	if s.Status != StatusActive && s.Status != StatusTimedOut {
		return s
	}
	if s.OnLastQuestion() || next.Number <= s.CurrentQuestionNumber {
		return s
	}
	s.Status = StatusActive
	s.CurrentQuestionNumber = next.Number
	s.CurrentQuestion = &next
	s.CurrentQuestionEndTimestamp = now + int64(next.SecondsToAnswer)
	return s
}

// Timeout freezes the current question. A timeout arriving when the session
// is no longer active is a no-op, which makes replays idempotent.
func (s State) Timeout() State {
	if s.Status != StatusActive {
		return s
	}
	s.Status = StatusTimedOut
	return s
}

// Results moves to the score board. Only legal on the last question.
func (s State) Results() State {
	if s.Status != StatusActive && s.Status != StatusTimedOut {
		return s
	}
	if !s.OnLastQuestion() {
		return s
	}
	s.Status = StatusResults
	return s
}

// End terminates the session. Terminal: every mutator refuses to move an
// ended session, including End itself.
func (s State) End() State {
	if s.Status == StatusEnded {
		return s
	}
	s.Status = StatusEnded
	s.CurrentQuestion = nil
	s.CurrentQuestionEndTimestamp = 0
	return s
}

// Equal reports whether two snapshots are interchangeable. Used to decide
// whether a dispatched message actually transitioned the session.
func (s State) Equal(o State) bool {
	if s.SessionID != o.SessionID || s.QuizID != o.QuizID || s.Status != o.Status ||
		s.CurrentQuestionNumber != o.CurrentQuestionNumber || s.QuestionCount != o.QuestionCount ||
		s.CurrentQuestionEndTimestamp != o.CurrentQuestionEndTimestamp {
		return false
	}
	if (s.CurrentQuestion == nil) != (o.CurrentQuestion == nil) {
		return false
	}
	if s.CurrentQuestion != nil && s.CurrentQuestion.QuestionID != o.CurrentQuestion.QuestionID {
		return false
	}
	return true
}

// ClientState is the redacted snapshot pushed to participants. The current
// question keeps its prompt but loses answer options and correctness.
type ClientState struct {
	SessionID                   string                 `json:"session_id"`
	QuizID                      string                 `json:"quiz_id"`
	Status                      Status                 `json:"quiz_state"`
	CurrentQuestionNumber       int                    `json:"current_question_number"`
	QuestionCount               int                    `json:"question_count"`
	CurrentQuestion             *domain.ClientQuestion `json:"current_question"`
	CurrentQuestionEndTimestamp int64                  `json:"current_question_end_timestamp"`
}

// ClientView redacts the snapshot for participant consumption.
func (s State) ClientView() ClientState {
	view := ClientState{
		SessionID:                   s.SessionID,
		QuizID:                      s.QuizID,
		Status:                      s.Status,
		CurrentQuestionNumber:       s.CurrentQuestionNumber,
		QuestionCount:               s.QuestionCount,
		CurrentQuestionEndTimestamp: s.CurrentQuestionEndTimestamp,
	}
	if s.CurrentQuestion != nil {
		cq := s.CurrentQuestion.ClientView()
		view.CurrentQuestion = &cq
	}
	return view
}
