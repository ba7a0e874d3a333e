package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/quiz"
)

// WSHandler upgrades connections and hands validated ones to a Coordinator.
type WSHandler struct {
	service     *app.SessionService
	upgrader    websocket.Upgrader
	heartbeat   time.Duration
	idleTimeout time.Duration
}

func NewWSHandler(service *app.SessionService, heartbeat, idleTimeout time.Duration) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		heartbeat:   heartbeat,
		idleTimeout: idleTimeout,
	}
}

// ServeWS is the session endpoint. Identity and role arrive as handshake
// headers; validation failures close the socket with a structured code and
// never reach the active phase.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	userID := r.Header.Get("user_id")
	role := domain.ParseRole(r.Header.Get("role"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "session_id", sessionID, "err", err)
		return
	}
	defer conn.Close()

	slog.Info("connection opened", "session_id", sessionID, "user_id", userID, "role", string(role))

	state, user, err := h.validate(r.Context(), sessionID, userID, role)
	if err != nil {
		closeWithError(conn, err)
		return
	}

	coordinator := NewCoordinator(conn, h.service, sessionID, role, user, h.heartbeat)

	// Initial payload: pushed directly to this client, and announced on the
	// session channel when a participant joins.
	var moderatorEvent, participantEvent string
	if role == domain.RoleParticipant {
		event := "Participant " + user.UserID + " Joined Quiz"
		moderatorEvent, participantEvent = event, event
		if err := h.service.AnnounceJoin(r.Context(), sessionID, user); err != nil {
			slog.Error("join announcement failed", "session_id", sessionID, "user_id", userID, "err", err)
			closeWithError(conn, err)
			return
		}
	}
	if err := coordinator.SendSnapshot(r.Context(), state, moderatorEvent, participantEvent); err != nil {
		slog.Error("initial payload failed", "session_id", sessionID, "user_id", userID, "err", err)
		closeWithError(conn, err)
		return
	}

	if err := coordinator.Run(r.Context(), h.idleTimeout); err != nil {
		closeWithError(conn, err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func (h *WSHandler) validate(ctx context.Context, sessionID, userID string, role domain.Role) (quiz.State, domain.User, error) {
	if userID == "" {
		return quiz.State{}, domain.User{}, domain.ErrMissingIdentity
	}
	switch role {
	case domain.RoleModerator:
		return h.service.ConnectModerator(ctx, sessionID, userID)
	case domain.RoleParticipant:
		return h.service.ConnectParticipant(ctx, sessionID, userID)
	default:
		return quiz.State{}, domain.User{}, domain.ErrForbidden
	}
}

// closeWithError sends the structured close frame derived from the error
// taxonomy before dropping the connection.
func closeWithError(conn *websocket.Conn, err error) {
	code, reason := domain.CloseCode(err)
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
