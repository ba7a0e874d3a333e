package quiz

import (
	"encoding/json"
	"fmt"

	"live-quiz-service/internal/domain"
)

// MessageType is the closed set of inbound message kinds.
type MessageType string

const (
	MessageModeratorChoice   MessageType = "moderator-choice"
	MessageParticipantChoice MessageType = "participant-choice"
	// MessageTimeout is synthesized by the question timer; clients may also
	// send it explicitly, subject to the moderator role check.
	MessageTimeout MessageType = "timeout"
)

// OptionType distinguishes commands from answer submissions.
type OptionType string

const (
	OptionCmd    OptionType = "cmd"
	OptionAnswer OptionType = "answer"
)

// Menu commands. The projector emits these strings and the handlers match on
// them, so clients never carry business rules.
const (
	CmdStartQuiz    = "Start Quiz"
	CmdNextQuestion = "Next Question"
	CmdGoToResults  = "Go To Results"
	CmdEndQuiz      = "End Quiz"
	CmdLeaveQuiz    = "Leave Quiz"
)

// Choice is the selected menu option of an inbound message.
type Choice struct {
	OptionType OptionType `json:"option_type"`
	Option     string     `json:"option"`
	AnswerID   string     `json:"answer-id,omitempty"`
	QuestionID string     `json:"question-id,omitempty"`
	QuizID     string     `json:"quiz-id,omitempty"`
}

// Message is the typed inbound frame, validated once at the boundary so
// handlers never probe loose maps.
type Message struct {
	Type   MessageType `json:"type"`
	Choice Choice      `json:"choice"`
}

// TimeoutMessage is the server-synthesized frame produced by the question timer.
func TimeoutMessage() Message {
	return Message{Type: MessageTimeout}
}

// ParseMessage decodes and validates a raw frame. Unknown types fail with
// the invalid-message-type error before any handler runs.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: malformed frame", domain.ErrInvalidMessageType)
	}
	switch msg.Type {
	case MessageModeratorChoice, MessageParticipantChoice, MessageTimeout:
		return msg, nil
	default:
		return Message{}, domain.ErrInvalidMessageType
	}
}
