package domain

import "errors"

// Error is a structured failure carrying the HTTP status and the WebSocket
// close code sent to clients. The message is safe to expose.
type Error struct {
	Status  int
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	// ErrMissingIdentity is returned when the user_id handshake header is absent.
	ErrMissingIdentity = &Error{Status: 400, Code: 4001, Message: "user_id header is missing"}
	// ErrSessionNotFound is returned when a session does not exist or its state was never initialized.
	ErrSessionNotFound = &Error{Status: 404, Code: 4040, Message: "session not found"}
	// ErrForbidden is returned when a caller's role does not permit the operation.
	ErrForbidden = &Error{Status: 403, Code: 4030, Message: "user is not authorized"}
	// ErrInvalidMessageType is returned for inbound messages with no registered handler.
	ErrInvalidMessageType = &Error{Status: 400, Code: 4002, Message: "invalid message type"}
	// ErrSessionClosed is returned when a participant tries to join after the quiz left the waiting state.
	ErrSessionClosed = &Error{Status: 400, Code: 4003, Message: "session is closed for new participants"}
	// ErrInternal is the opaque catch-all; internal detail never reaches the client.
	ErrInternal = &Error{Status: 500, Code: 5000, Message: "internal server error"}
)

// Repository-level misses. These stay internal; the service layer maps them
// onto the client-facing taxonomy above.
var (
	ErrUserNotFound     = errors.New("user not found")
	ErrQuizNotFound     = errors.New("quiz not found")
	ErrQuestionNotFound = errors.New("question not found")
)

// ErrUserLeft and ErrQuizEnded are expected terminal signals, not faults.
// Listener tasks return them to tell the coordinator to close cleanly.
var (
	ErrUserLeft  = errors.New("user left")
	ErrQuizEnded = errors.New("quiz ended")
)

// CloseCode extracts the WebSocket close code for err, falling back to the
// internal-error code for anything outside the taxonomy.
func CloseCode(err error) (code int, reason string) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, de.Message
	}
	return ErrInternal.Code, ErrInternal.Message
}
