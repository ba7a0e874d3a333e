package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// Store implements the app repository interfaces on Postgres. Questions keep
// their answer options as JSONB; answer facts are append-only with a
// composite key making duplicate submissions no-ops.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, username, email, create_date FROM users WHERE user_id=$1`,
		userID,
	).Scan(&user.UserID, &user.Username, &user.Email, &user.CreateDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *Store) AddUser(ctx context.Context, user domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, email, create_date)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET username=excluded.username, email=excluded.email`,
		user.UserID, user.Username, user.Email, user.CreateDate,
	)
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	var session domain.Session
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, quiz_id, room_id, moderator_id, start_datetime, end_datetime
		 FROM quiz_sessions WHERE session_id=$1`,
		sessionID,
	).Scan(&session.SessionID, &session.QuizID, &session.RoomID,
		&session.ModeratorID, &session.StartDatetime, &session.EndDatetime)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) AddSession(ctx context.Context, session domain.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_sessions (session_id, quiz_id, room_id, moderator_id, start_datetime, end_datetime)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE SET end_datetime=excluded.end_datetime`,
		session.SessionID, session.QuizID, session.RoomID,
		session.ModeratorID, session.StartDatetime, session.EndDatetime,
	)
	if err != nil {
		return fmt.Errorf("add session: %w", err)
	}
	return nil
}

func (s *Store) AddQuiz(ctx context.Context, q domain.Quiz, questions []domain.Question, perm domain.Permission) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO quizzes (quiz_id, quiz_name, quiz_description) VALUES ($1, $2, $3)`,
		q.QuizID, q.Name, q.Description,
	)
	if err != nil {
		return fmt.Errorf("add quiz: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO quiz_permissions (quiz_id, user_id, permission)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (quiz_id, user_id) DO UPDATE SET permission=excluded.permission`,
		perm.QuizID, perm.UserID, string(perm.Role),
	)
	if err != nil {
		return fmt.Errorf("add quiz permission: %w", err)
	}

	for _, question := range questions {
		answers, err := json.Marshal(question.Answers)
		if err != nil {
			return fmt.Errorf("marshal answers for question %s: %w", question.QuestionID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO questions
			   (question_id, quiz_id, question, question_number, question_type, points, seconds_to_answer, answers)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			question.QuestionID, question.QuizID, question.Text, question.Number,
			string(question.Type), question.Points, question.SecondsToAnswer, answers,
		)
		if err != nil {
			return fmt.Errorf("add question %s: %w", question.QuestionID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) QuizQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT question_id, quiz_id, question, question_number, question_type, points, seconds_to_answer, answers
		 FROM questions WHERE quiz_id=$1 ORDER BY question_number`,
		quizID,
	)
	if err != nil {
		return nil, fmt.Errorf("load quiz questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load quiz questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, domain.ErrQuizNotFound
	}
	return questions, nil
}

func (s *Store) QuestionByNumber(ctx context.Context, quizID string, number int) (domain.Question, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT question_id, quiz_id, question, question_number, question_type, points, seconds_to_answer, answers
		 FROM questions WHERE quiz_id=$1 AND question_number=$2`,
		quizID, number,
	)
	question, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	if err != nil {
		return domain.Question{}, err
	}
	return question, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (domain.Question, error) {
	var question domain.Question
	var questionType string
	var answers []byte
	err := row.Scan(&question.QuestionID, &question.QuizID, &question.Text,
		&question.Number, &questionType, &question.Points, &question.SecondsToAnswer, &answers)
	if err != nil {
		return domain.Question{}, err
	}
	question.Type = domain.QuestionType(questionType)
	if err := json.Unmarshal(answers, &question.Answers); err != nil {
		return domain.Question{}, fmt.Errorf("unmarshal answers for question %s: %w", question.QuestionID, err)
	}
	return question, nil
}

// RecordAnswer appends one answer fact. The composite primary key drops a
// second submission by the same user for the same question; distinct users
// answering the same question concurrently both land.
func (s *Store) RecordAnswer(ctx context.Context, answer domain.ParticipantAnswer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO participant_answers
		   (session_id, user_id, question_id, answer_id, quiz_id, points, is_correct, answered_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (session_id, user_id, question_id) DO NOTHING`,
		answer.SessionID, answer.UserID, answer.QuestionID, answer.AnswerID,
		answer.QuizID, answer.Points, answer.Correct, answer.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	return nil
}

func (s *Store) SessionScores(ctx context.Context, sessionID string) ([]domain.ScoreEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.user_id, COALESCE(u.username, ''), COALESCE(SUM(a.points) FILTER (WHERE a.is_correct), 0) AS score
		 FROM participant_answers a
		 LEFT JOIN users u ON u.user_id = a.user_id
		 WHERE a.session_id=$1
		 GROUP BY a.user_id, u.username
		 ORDER BY score DESC, u.username`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("session scores: %w", err)
	}
	defer rows.Close()

	var entries []domain.ScoreEntry
	for rows.Next() {
		var entry domain.ScoreEntry
		if err := rows.Scan(&entry.UserID, &entry.Username, &entry.Score); err != nil {
			return nil, fmt.Errorf("session scores: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session scores: %w", err)
	}
	return entries, nil
}

func (s *Store) AddParticipant(ctx context.Context, participant domain.SessionParticipant) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quiz_participants (quiz_id, session_id, user_id, score, joined_at, left_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (quiz_id, session_id, user_id) DO UPDATE SET left_at=excluded.left_at`,
		participant.QuizID, participant.SessionID, participant.UserID,
		participant.Score, participant.JoinedAt, participant.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}
