package domain

import (
	"fmt"
	"time"
)

// Role identifies what a connecting client is allowed to do in a session.
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleUnknown     Role = "unknown"
)

// ParseRole maps the handshake header value onto a known role.
func ParseRole(raw string) Role {
	switch raw {
	case string(RoleModerator):
		return RoleModerator
	case string(RoleParticipant):
		return RoleParticipant
	default:
		return RoleUnknown
	}
}

// QuestionType enumerates supported question kinds.
type QuestionType string

const QuestionMultipleChoice QuestionType = "multiple_choice"

// AnswerOption is one possible answer for a question, immutable once authored.
type AnswerOption struct {
	AnswerID   string `json:"answer_id"`
	QuestionID string `json:"question_id"`
	QuizID     string `json:"quiz_id"`
	Text       string `json:"answer"`
	Correct    bool   `json:"correct_answer"`
}

// Question models an authored quiz question with its answer options.
type Question struct {
	QuestionID      string         `json:"question_id"`
	QuizID          string         `json:"quiz_id"`
	Text            string         `json:"question"`
	Number          int            `json:"question_number"`
	Type            QuestionType   `json:"question_type"`
	Points          int            `json:"points"`
	SecondsToAnswer int            `json:"seconds_to_answer"`
	Answers         []AnswerOption `json:"answers"`
}

// Validate enforces authoring invariants: unique answer IDs, and for
// multiple choice at least two options with exactly one marked correct.
func (q Question) Validate() error {
	seen := make(map[string]struct{}, len(q.Answers))
	correct := 0
	for _, a := range q.Answers {
		if _, dup := seen[a.AnswerID]; dup {
			return fmt.Errorf("question %s: duplicate answer id %s", q.QuestionID, a.AnswerID)
		}
		seen[a.AnswerID] = struct{}{}
		if a.Correct {
			correct++
		}
	}
	if q.Type == QuestionMultipleChoice {
		if len(q.Answers) < 2 {
			return fmt.Errorf("question %s: multiple choice needs at least 2 options", q.QuestionID)
		}
		if correct != 1 {
			return fmt.Errorf("question %s: multiple choice needs exactly 1 correct option, got %d", q.QuestionID, correct)
		}
	}
	return nil
}

// ClientQuestion is the participant-facing projection of a question.
// Answer options are delivered through the menu instead, so correctness
// flags never reach a participant.
type ClientQuestion struct {
	QuestionID      string       `json:"question_id"`
	QuizID          string       `json:"quiz_id"`
	Text            string       `json:"question"`
	Number          int          `json:"question_number"`
	Type            QuestionType `json:"question_type"`
	Points          int          `json:"points"`
	SecondsToAnswer int          `json:"seconds_to_answer"`
}

// ClientView strips answer data from a question.
func (q Question) ClientView() ClientQuestion {
	return ClientQuestion{
		QuestionID:      q.QuestionID,
		QuizID:          q.QuizID,
		Text:            q.Text,
		Number:          q.Number,
		Type:            q.Type,
		Points:          q.Points,
		SecondsToAnswer: q.SecondsToAnswer,
	}
}

// User is a registered account.
type User struct {
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	CreateDate time.Time `json:"create_date"`
}

// Quiz is the authored quiz header; questions are stored separately.
type Quiz struct {
	QuizID      string `json:"quiz_id"`
	Name        string `json:"quiz_name"`
	Description string `json:"quiz_description"`
}

// Permission grants a user a role on a quiz.
type Permission struct {
	QuizID string
	UserID string
	Role   Role
}

// Session is one scheduled run of a quiz, driven by a single moderator.
type Session struct {
	SessionID     string     `json:"session_id"`
	QuizID        string     `json:"quiz_id"`
	RoomID        string     `json:"room_id"`
	ModeratorID   string     `json:"moderator_id"`
	StartDatetime time.Time  `json:"start_datetime"`
	EndDatetime   *time.Time `json:"end_datetime,omitempty"`
}

// SessionParticipant records a user joining a session.
type SessionParticipant struct {
	QuizID    string     `json:"quiz_id"`
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Score     int        `json:"score"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
}

// ParticipantAnswer is an append-only scoring fact. At most one row exists
// per (session, user, question); later submissions are dropped.
type ParticipantAnswer struct {
	UserID     string `json:"user_id"`
	QuestionID string `json:"question_id"`
	AnswerID   string `json:"answer_id"`
	SessionID  string `json:"session_id"`
	QuizID     string `json:"quiz_id"`
	Points     int    `json:"points"`
	Correct    bool   `json:"is_correct"`
	Timestamp  int64  `json:"timestamp"`
}

// ScoreEntry is one row of the results board.
type ScoreEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}
