package quiz

import (
	"context"
	"errors"
	"testing"

	"live-quiz-service/internal/domain"
)

type fakeQuestionSource struct {
	questions map[int]domain.Question
}

func (f *fakeQuestionSource) QuestionByNumber(_ context.Context, _ string, number int) (domain.Question, error) {
	q, ok := f.questions[number]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

type fakeAnswerSink struct {
	recorded []domain.ParticipantAnswer
}

func (f *fakeAnswerSink) RecordAnswer(_ context.Context, answer domain.ParticipantAnswer) error {
	f.recorded = append(f.recorded, answer)
	return nil
}

func newTestRegistry() (*Registry, *fakeAnswerSink) {
	q1 := question(1, 30)
	q1.Answers = []domain.AnswerOption{
		{AnswerID: "a1", QuestionID: q1.QuestionID, QuizID: q1.QuizID, Text: "wrong"},
		{AnswerID: "a2", QuestionID: q1.QuestionID, QuizID: q1.QuizID, Text: "right", Correct: true},
	}
	q2 := question(2, 30)
	q2.Answers = []domain.AnswerOption{
		{AnswerID: "a3", QuestionID: q2.QuestionID, QuizID: q2.QuizID, Text: "wrong"},
		{AnswerID: "a4", QuestionID: q2.QuestionID, QuizID: q2.QuizID, Text: "right", Correct: true},
	}
	sink := &fakeAnswerSink{}
	registry := NewRegistry(&fakeQuestionSource{questions: map[int]domain.Question{1: q1, 2: q2}}, sink)
	return registry, sink
}

func moderatorCmd(option string) Message {
	return Message{Type: MessageModeratorChoice, Choice: Choice{OptionType: OptionCmd, Option: option}}
}

func TestDispatchUnknownType(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2)

	_, err := registry.Dispatch(context.Background(), Message{Type: "bogus"}, state, domain.RoleModerator, domain.User{}, 0)
	if !errors.Is(err, domain.ErrInvalidMessageType) {
		t.Fatalf("expected invalid message type, got %v", err)
	}
}

func TestModeratorCommandRequiresModerator(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2)

	_, err := registry.Dispatch(context.Background(), moderatorCmd(CmdStartQuiz), state, domain.RoleParticipant, domain.User{UserID: "u1"}, 0)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestStartQuizActivatesFirstQuestion(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2)

	res, err := registry.Dispatch(context.Background(), moderatorCmd(CmdStartQuiz), state, domain.RoleModerator, domain.User{UserID: "mod"}, 1000)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Changed {
		t.Fatalf("expected changed result")
	}
	if res.State.Status != StatusActive || res.State.CurrentQuestionNumber != 1 {
		t.Fatalf("expected active question 1, got %+v", res.State)
	}
	if res.State.CurrentQuestionEndTimestamp != 1030 {
		t.Fatalf("expected deadline 1030, got %d", res.State.CurrentQuestionEndTimestamp)
	}
}

func TestNextQuestionOnLastIsNoop(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 1)
	state = state.Start(question(1, 30), 1000)

	res, err := registry.Dispatch(context.Background(), moderatorCmd(CmdNextQuestion), state, domain.RoleModerator, domain.User{UserID: "mod"}, 2000)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Changed || !res.State.Equal(state) {
		t.Fatalf("next on last question should not change state, got %+v", res)
	}
}

func TestEndQuizFromAnyState(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2)

	res, err := registry.Dispatch(context.Background(), moderatorCmd(CmdEndQuiz), state, domain.RoleModerator, domain.User{UserID: "mod"}, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Changed || res.State.Status != StatusEnded {
		t.Fatalf("expected ended, got %+v", res.State)
	}

	// A second end against the terminal state reports no change.
	res, err = registry.Dispatch(context.Background(), moderatorCmd(CmdEndQuiz), res.State, domain.RoleModerator, domain.User{UserID: "mod"}, 0)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Changed {
		t.Fatalf("end of an ended session should not report a change")
	}
}

func TestParticipantLeaveSignals(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2)

	msg := Message{Type: MessageParticipantChoice, Choice: Choice{OptionType: OptionCmd, Option: CmdLeaveQuiz}}
	_, err := registry.Dispatch(context.Background(), msg, state, domain.RoleParticipant, domain.User{UserID: "u1"}, 0)
	if !errors.Is(err, domain.ErrUserLeft) {
		t.Fatalf("expected user-left signal, got %v", err)
	}
}

func TestCorrectAnswerRecorded(t *testing.T) {
	registry, sink := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2).Start(question(1, 30), 1000)
	state.CurrentQuestion.Answers = []domain.AnswerOption{
		{AnswerID: "a1", Text: "wrong"},
		{AnswerID: "a2", Text: "right", Correct: true},
	}

	msg := Message{Type: MessageParticipantChoice, Choice: Choice{
		OptionType: OptionAnswer,
		AnswerID:   "a2",
		QuestionID: state.CurrentQuestion.QuestionID,
		QuizID:     "quiz-1",
	}}
	res, err := registry.Dispatch(context.Background(), msg, state, domain.RoleParticipant, domain.User{UserID: "u1"}, 1005)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Changed {
		t.Fatalf("expected answer to report a change")
	}
	if res.ModeratorEvent == "" {
		t.Fatalf("expected moderator announcement")
	}
	if len(sink.recorded) != 1 {
		t.Fatalf("expected 1 recorded answer, got %d", len(sink.recorded))
	}
	fact := sink.recorded[0]
	if !fact.Correct || fact.Points != 1 || fact.Timestamp != 1005 {
		t.Fatalf("unexpected fact: %+v", fact)
	}
}

func TestMismatchedSubmissionScoredIncorrect(t *testing.T) {
	registry, sink := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2).Start(question(1, 30), 1000)

	msg := Message{Type: MessageParticipantChoice, Choice: Choice{
		OptionType: OptionAnswer,
		AnswerID:   "a2",
		QuestionID: state.CurrentQuestion.QuestionID,
		QuizID:     "quiz-other",
	}}
	_, err := registry.Dispatch(context.Background(), msg, state, domain.RoleParticipant, domain.User{UserID: "u1"}, 1005)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sink.recorded) != 1 {
		t.Fatalf("mismatch should still record the fact, got %d", len(sink.recorded))
	}
	if sink.recorded[0].Correct || sink.recorded[0].Points != 0 {
		t.Fatalf("quiz mismatch must score incorrect, got %+v", sink.recorded[0])
	}
}

func TestSubmissionDroppedWhenNotActive(t *testing.T) {
	registry, sink := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2).Start(question(1, 30), 1000).Timeout()

	msg := Message{Type: MessageParticipantChoice, Choice: Choice{
		OptionType: OptionAnswer,
		AnswerID:   "a2",
		QuestionID: "q1",
		QuizID:     "quiz-1",
	}}
	res, err := registry.Dispatch(context.Background(), msg, state, domain.RoleParticipant, domain.User{UserID: "u1"}, 1050)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Changed || len(sink.recorded) != 0 {
		t.Fatalf("submission against a frozen question must be dropped, got %+v", sink.recorded)
	}
}

func TestTimeoutRequiresModerator(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2).Start(question(1, 30), 1000)

	_, err := registry.Dispatch(context.Background(), TimeoutMessage(), state, domain.RoleParticipant, domain.User{UserID: "u1"}, 2000)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestTimeoutChangedOnlyOnce(t *testing.T) {
	registry, _ := newTestRegistry()
	state := NewState("session-1", "quiz-1", 2).Start(question(1, 30), 1000)

	res, err := registry.Dispatch(context.Background(), TimeoutMessage(), state, domain.RoleModerator, domain.User{UserID: "mod"}, 2000)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Changed || res.State.Status != StatusTimedOut {
		t.Fatalf("expected timedout transition, got %+v", res)
	}

	res, err = registry.Dispatch(context.Background(), TimeoutMessage(), res.State, domain.RoleModerator, domain.User{UserID: "mod"}, 2001)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Changed {
		t.Fatalf("replayed timeout must not report a change")
	}
}

func TestParseMessageRejectsUnknownType(t *testing.T) {
	if _, err := ParseMessage([]byte(`{"type":"mystery"}`)); !errors.Is(err, domain.ErrInvalidMessageType) {
		t.Fatalf("expected invalid message type, got %v", err)
	}
	if _, err := ParseMessage([]byte(`not json`)); !errors.Is(err, domain.ErrInvalidMessageType) {
		t.Fatalf("expected invalid message type for malformed frame, got %v", err)
	}
	msg, err := ParseMessage([]byte(`{"type":"moderator-choice","choice":{"option_type":"cmd","option":"Start Quiz"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Choice.Option != CmdStartQuiz {
		t.Fatalf("expected start command, got %+v", msg)
	}
}
