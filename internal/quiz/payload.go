package quiz

import (
	"encoding/json"
	"fmt"

	"live-quiz-service/internal/domain"
)

// Payload type markers.
const (
	PayloadUpdate = "update"
	PayloadEnd    = "end"
)

// MenuOption is one selectable entry in a client menu. Answer entries carry
// the IDs the participant echoes back on submission.
type MenuOption struct {
	Option     string     `json:"option"`
	OptionType OptionType `json:"option_type"`
	AnswerID   string     `json:"answer-id,omitempty"`
	QuestionID string     `json:"question-id,omitempty"`
	QuizID     string     `json:"quiz-id,omitempty"`
}

// Payload is the outbound frame. It always carries both role menus so client
// UIs stay free of business rules; the coordinator fills the role-dependent
// QuizData/QuizState views and the server timestamp at dispatch time.
type Payload struct {
	Type                   string              `json:"type"`
	ModeratorDisplayText   string              `json:"moderator_display_text"`
	ParticipantDisplayText string              `json:"participant_display_text"`
	ModeratorMenu          []MenuOption        `json:"moderator_menu"`
	ParticipantMenu        []MenuOption        `json:"participant_menu"`
	ModeratorEvent         string              `json:"moderator_event,omitempty"`
	ParticipantEvent       string              `json:"participant_event,omitempty"`
	QuizData               json.RawMessage     `json:"quiz_data,omitempty"`
	QuizState              json.RawMessage     `json:"quiz-state,omitempty"`
	Results                []domain.ScoreEntry `json:"results,omitempty"`
	Timestamp              int64               `json:"timestamp,omitempty"`
}

// Project builds the state-specific payload. The moderator menu offers
// "Go To Results" in place of "Next Question" exactly when the session is on
// its last question.
func Project(state State, moderatorEvent, participantEvent string) Payload {
	p := Payload{
		Type:             PayloadUpdate,
		ModeratorEvent:   moderatorEvent,
		ParticipantEvent: participantEvent,
	}

	switch state.Status {
	case StatusWaiting:
		p.ModeratorDisplayText = "Quiz is waiting to start."
		p.ParticipantDisplayText = "Quiz is waiting to start."
		p.ModeratorMenu = []MenuOption{
			{Option: CmdStartQuiz, OptionType: OptionCmd},
			{Option: CmdEndQuiz, OptionType: OptionCmd},
		}
		p.ParticipantMenu = []MenuOption{{Option: CmdLeaveQuiz, OptionType: OptionCmd}}

	case StatusActive:
		text := activeDisplayText(state)
		p.ModeratorDisplayText = text
		p.ParticipantDisplayText = text
		p.ModeratorMenu = append(advanceOptions(state), MenuOption{Option: CmdEndQuiz, OptionType: OptionCmd})
		p.ParticipantMenu = append(answerOptions(state), MenuOption{Option: CmdLeaveQuiz, OptionType: OptionCmd})

	case StatusTimedOut:
		p.ModeratorDisplayText = "Question timed out."
		p.ParticipantDisplayText = "Question timed out."
		p.ModeratorMenu = append(advanceOptions(state), MenuOption{Option: CmdEndQuiz, OptionType: OptionCmd})
		p.ParticipantMenu = []MenuOption{{Option: CmdLeaveQuiz, OptionType: OptionCmd}}

	case StatusResults:
		p.ModeratorDisplayText = "Quiz results."
		p.ParticipantDisplayText = "Quiz results."
		p.ModeratorMenu = []MenuOption{{Option: CmdEndQuiz, OptionType: OptionCmd}}
		p.ParticipantMenu = []MenuOption{{Option: CmdLeaveQuiz, OptionType: OptionCmd}}

	case StatusEnded:
		p.Type = PayloadEnd
		p.ModeratorDisplayText = "Quiz has ended."
		p.ParticipantDisplayText = "Quiz has ended."
		p.ModeratorMenu = []MenuOption{}
		p.ParticipantMenu = []MenuOption{}
	}

	return p
}

func activeDisplayText(state State) string {
	if state.CurrentQuestion == nil {
		return "Quiz is active."
	}
	return fmt.Sprintf("Quiz is active.\nQuestion %d\nQuestion: %s",
		state.CurrentQuestionNumber, state.CurrentQuestion.Text)
}

// advanceOptions picks the moderator's forward command: next question while
// questions remain, otherwise the jump to results.
func advanceOptions(state State) []MenuOption {
	if state.OnLastQuestion() {
		return []MenuOption{{Option: CmdGoToResults, OptionType: OptionCmd}}
	}
	return []MenuOption{{Option: CmdNextQuestion, OptionType: OptionCmd}}
}

// answerOptions renders the live question's options as the participant menu.
// Correctness never appears here.
func answerOptions(state State) []MenuOption {
	if state.CurrentQuestion == nil {
		return nil
	}
	question := state.CurrentQuestion
	options := make([]MenuOption, 0, len(question.Answers))
	for _, a := range question.Answers {
		options = append(options, MenuOption{
			Option:     a.Text,
			OptionType: OptionAnswer,
			AnswerID:   a.AnswerID,
			QuestionID: question.QuestionID,
			QuizID:     question.QuizID,
		})
	}
	return options
}
