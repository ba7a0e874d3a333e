package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/quiz"
)

// timerTick is how often the moderator's question timer polls the deadline.
const timerTick = time.Second

// Coordinator owns one validated WebSocket connection. It races four
// listeners (inbound frames, the session broadcast channel, the heartbeat,
// and for moderators the question timer); whichever finishes first cancels
// the rest and tears the connection down.
//
// ErrUserLeft and ErrQuizEnded are expected terminal outcomes; everything
// else returned by a listener is a fault that still closes the connection,
// logged with session/user/task context.
type Coordinator struct {
	conn      *websocket.Conn
	service   *app.SessionService
	sessionID string
	role      domain.Role
	user      domain.User
	heartbeat time.Duration

	// Guards the connection: four tasks write, gorilla allows one writer.
	writeMu sync.Mutex
}

func NewCoordinator(conn *websocket.Conn, service *app.SessionService, sessionID string, role domain.Role, user domain.User, heartbeat time.Duration) *Coordinator {
	return &Coordinator{
		conn:      conn,
		service:   service,
		sessionID: sessionID,
		role:      role,
		user:      user,
		heartbeat: heartbeat,
	}
}

// Run blocks until the first listener completes, then cancels the rest.
// idleTimeout is the connection's overall ceiling: when it elapses without a
// terminal event the whole group is cancelled and the connection closes.
func (c *Coordinator) Run(ctx context.Context, idleTimeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, idleTimeout)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	// The inbound listener blocks inside conn.Read; poke the read deadline on
	// cancellation so it unblocks and the group can drain.
	unblock := make(chan struct{})
	defer close(unblock)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.conn.SetReadDeadline(time.Now())
		case <-unblock:
		}
	}()

	g.Go(func() error { return c.listenInbound(ctx) })
	g.Go(func() error { return c.listenBroadcast(ctx) })
	g.Go(func() error { return c.runHeartbeat(ctx) })
	if c.role == domain.RoleModerator {
		g.Go(func() error { return c.runQuestionTimer(ctx) })
	}

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, domain.ErrUserLeft), errors.Is(err, domain.ErrQuizEnded):
		slog.Info("connection closed",
			"session_id", c.sessionID, "user_id", c.user.UserID, "reason", reasonFor(err))
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		slog.Info("connection idle timeout",
			"session_id", c.sessionID, "user_id", c.user.UserID)
		return nil
	default:
		slog.Error("connection terminated",
			"session_id", c.sessionID, "user_id", c.user.UserID, "err", err)
		return err
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrUserLeft):
		return "user left"
	case errors.Is(err, domain.ErrQuizEnded):
		return "quiz ended"
	default:
		return "done"
	}
}

// listenInbound processes one client frame at a time: parse, dispatch through
// the handler registry, persist, publish. It never returns normally, only on
// connection loss, an unrecoverable dispatch error, or an expected terminal
// signal.
func (c *Coordinator) listenInbound(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Info("websocket read ended",
				"task", "inbound", "session_id", c.sessionID, "user_id", c.user.UserID, "err", err)
			return domain.ErrUserLeft
		}

		msg, err := quiz.ParseMessage(data)
		if err != nil {
			return err
		}

		if _, err := c.service.Apply(ctx, c.sessionID, msg, c.role, c.user); err != nil {
			if errors.Is(err, domain.ErrUserLeft) || errors.Is(err, domain.ErrQuizEnded) {
				return err
			}
			slog.Error("message dispatch failed",
				"task", "inbound", "session_id", c.sessionID, "user_id", c.user.UserID, "err", err)
			return err
		}
	}
}

// listenBroadcast forwards session updates to this client. Every
// notification triggers a re-read of the authoritative snapshot; the
// published body is only trusted for its announcements and end marker.
func (c *Coordinator) listenBroadcast(ctx context.Context) error {
	updates, cancel, err := c.service.Subscribe(ctx, c.sessionID)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-updates:
			if !ok {
				return nil
			}
			state, err := c.service.State(ctx, c.sessionID)
			if err != nil {
				slog.Error("state re-read failed",
					"task", "broadcast", "session_id", c.sessionID, "user_id", c.user.UserID, "err", err)
				return err
			}
			if err := c.dispatch(ctx, state, env.ModeratorEvent, env.ParticipantEvent); err != nil {
				return err
			}
			if env.Type == quiz.PayloadEnd {
				return domain.ErrQuizEnded
			}
		}
	}
}

// runHeartbeat re-projects and pushes the current snapshot on a fixed
// interval so a stalled broadcast cannot desynchronize this client from
// server time.
func (c *Coordinator) runHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			state, err := c.service.State(ctx, c.sessionID)
			if err != nil {
				slog.Error("heartbeat state read failed",
					"task", "heartbeat", "session_id", c.sessionID, "user_id", c.user.UserID, "err", err)
				return err
			}
			if err := c.dispatch(ctx, state, "", ""); err != nil {
				return err
			}
		}
	}
}

// runQuestionTimer is the sole producer of server-driven transitions: it
// polls the snapshot once per second and pushes the synthesized timeout
// through the normal dispatch path when the deadline has passed. The
// handler's no-op on non-active state keeps the transition exactly-once
// even when ticks race other writers.
func (c *Coordinator) runQuestionTimer(ctx context.Context) error {
	ticker := time.NewTicker(timerTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fired, err := c.service.CheckTimeout(ctx, c.sessionID, c.user)
			if err != nil {
				slog.Error("question timer failed",
					"task", "timer", "session_id", c.sessionID, "user_id", c.user.UserID, "err", err)
				return err
			}
			if fired {
				slog.Info("question timed out",
					"session_id", c.sessionID, "user_id", c.user.UserID)
			}
		}
	}
}

// SendSnapshot projects and delivers the given snapshot to this client.
// Used for the initial payload right after validation.
func (c *Coordinator) SendSnapshot(ctx context.Context, state quiz.State, moderatorEvent, participantEvent string) error {
	return c.dispatch(ctx, state, moderatorEvent, participantEvent)
}

// dispatch projects the snapshot for this connection's role and writes it
// out. Moderators receive the full state dump; participants only ever see
// the redacted view.
func (c *Coordinator) dispatch(ctx context.Context, state quiz.State, moderatorEvent, participantEvent string) error {
	payload := quiz.Project(state, moderatorEvent, participantEvent)

	if state.Status == quiz.StatusResults {
		scores, err := c.service.Scores(ctx, c.sessionID)
		if err != nil {
			return err
		}
		payload.Results = scores
	}

	var err error
	if c.role == domain.RoleModerator {
		payload.QuizData, err = marshalRaw(state)
	} else {
		payload.QuizData, err = marshalRaw(state.ClientView())
	}
	if err != nil {
		return err
	}
	if payload.Type == quiz.PayloadUpdate {
		if payload.QuizState, err = marshalRaw(state.ClientView()); err != nil {
			return err
		}
	}
	if payload.Timestamp, err = c.service.ServerTime(ctx); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(payload)
}

func marshalRaw(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
