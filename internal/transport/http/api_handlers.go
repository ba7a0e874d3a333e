package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// APIHandler serves the thin authoring endpoints: signup, session creation
// and quiz creation. They are plain create calls returning generated IDs.
type APIHandler struct {
	repo app.AuthoringRepository
}

func NewAPIHandler(repo app.AuthoringRepository) *APIHandler {
	return &APIHandler{repo: repo}
}

type signupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type newSessionRequest struct {
	QuizID string `json:"quiz_id"`
	UserID string `json:"user_id"`
}

type newQuizRequest struct {
	UserID string `json:"user_id"`
	Quiz   struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Questions   []struct {
			Question        string `json:"question"`
			QuestionType    string `json:"question_type"`
			Points          int    `json:"points"`
			SecondsToAnswer int    `json:"seconds_to_answer"`
			Answers         []struct {
				Answer        string `json:"answer"`
				CorrectAnswer bool   `json:"correct_answer"`
			} `json:"answers"`
		} `json:"questions"`
	} `json:"quiz"`
}

func (h *APIHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid signup request"})
		return
	}

	user := domain.User{
		UserID:     uuid.NewString(),
		Username:   req.Username,
		Email:      req.Email,
		CreateDate: time.Now().UTC(),
	}
	if err := h.repo.AddUser(r.Context(), user); err != nil {
		slog.Error("signup failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "error in signup"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": user.UserID})
}

func (h *APIHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuizID == "" || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session request"})
		return
	}

	session := domain.Session{
		SessionID:     uuid.NewString(),
		QuizID:        req.QuizID,
		RoomID:        uuid.NewString(),
		ModeratorID:   req.UserID,
		StartDatetime: time.Now().UTC(),
	}
	if err := h.repo.AddSession(r.Context(), session); err != nil {
		slog.Error("session creation failed", "quiz_id", req.QuizID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "error creating session"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": session.SessionID})
}

func (h *APIHandler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	var req newQuizRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Quiz.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quiz request"})
		return
	}

	q := domain.Quiz{
		QuizID:      uuid.NewString(),
		Name:        req.Quiz.Name,
		Description: req.Quiz.Description,
	}

	questions := make([]domain.Question, 0, len(req.Quiz.Questions))
	for i, rq := range req.Quiz.Questions {
		questionID := uuid.NewString()
		answers := make([]domain.AnswerOption, 0, len(rq.Answers))
		for _, ra := range rq.Answers {
			answers = append(answers, domain.AnswerOption{
				AnswerID:   uuid.NewString(),
				QuestionID: questionID,
				QuizID:     q.QuizID,
				Text:       ra.Answer,
				Correct:    ra.CorrectAnswer,
			})
		}
		question := domain.Question{
			QuestionID:      questionID,
			QuizID:          q.QuizID,
			Text:            rq.Question,
			Number:          i + 1,
			Type:            domain.QuestionType(rq.QuestionType),
			Points:          rq.Points,
			SecondsToAnswer: rq.SecondsToAnswer,
			Answers:         answers,
		}
		if err := question.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		questions = append(questions, question)
	}

	perm := domain.Permission{QuizID: q.QuizID, UserID: req.UserID, Role: domain.RoleModerator}
	if err := h.repo.AddQuiz(r.Context(), q, questions, perm); err != nil {
		slog.Error("quiz creation failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "error creating quiz"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"quiz_id": q.QuizID})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
