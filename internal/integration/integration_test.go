package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/quiz"
)

func TestQuizSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateSchema(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	store := postgres.NewStore(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	seedData(t, ctx, store)

	questionCache := infraredis.NewQuestionCache(redisClient, store, 5*time.Minute)
	stateStore := infraredis.NewStateStore(redisClient, 5*time.Minute)
	broadcaster := infraredis.NewBroadcaster(redisClient)
	registry := quiz.NewRegistry(questionCache, store)
	service := app.NewSessionService(stateStore, broadcaster, registry,
		store, store, questionCache, store, store)

	// Moderator opens the session.
	state, mod, err := service.ConnectModerator(ctx, "session-1", "mod")
	if err != nil {
		t.Fatalf("connect moderator: %v", err)
	}
	if state.Status != quiz.StatusWaiting || state.QuestionCount != 2 {
		t.Fatalf("unexpected initial state: %+v", state)
	}

	updates, cancel, err := service.Subscribe(ctx, "session-1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	// Participant joins while waiting.
	if _, _, err := service.ConnectParticipant(ctx, "session-1", "u1"); err != nil {
		t.Fatalf("connect participant: %v", err)
	}

	startCmd := quiz.Message{Type: quiz.MessageModeratorChoice, Choice: quiz.Choice{
		OptionType: quiz.OptionCmd, Option: quiz.CmdStartQuiz,
	}}
	state, err = service.Apply(ctx, "session-1", startCmd, domain.RoleModerator, mod)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.Status != quiz.StatusActive || state.CurrentQuestionNumber != 1 {
		t.Fatalf("expected active question 1, got %+v", state)
	}
	waitForEnvelope(t, updates)

	// Participant answers correctly; a second submission is dropped by the
	// composite key.
	alice, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	answer := quiz.Message{Type: quiz.MessageParticipantChoice, Choice: quiz.Choice{
		OptionType: quiz.OptionAnswer, AnswerID: "a2", QuestionID: "q1", QuizID: "quiz-1",
	}}
	if _, err := service.Apply(ctx, "session-1", answer, domain.RoleParticipant, alice); err != nil {
		t.Fatalf("answer: %v", err)
	}
	answer.Choice.AnswerID = "a1"
	if _, err := service.Apply(ctx, "session-1", answer, domain.RoleParticipant, alice); err != nil {
		t.Fatalf("duplicate answer: %v", err)
	}

	scores, err := service.Scores(ctx, "session-1")
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	if len(scores) != 1 || scores[0].UserID != "u1" || scores[0].Score != 1 {
		t.Fatalf("expected alice with 1 point, got %+v", scores)
	}

	// Advance, jump to results, end.
	nextCmd := startCmd
	nextCmd.Choice.Option = quiz.CmdNextQuestion
	if state, err = service.Apply(ctx, "session-1", nextCmd, domain.RoleModerator, mod); err != nil {
		t.Fatalf("next: %v", err)
	}
	if state.CurrentQuestionNumber != 2 {
		t.Fatalf("expected question 2, got %+v", state)
	}

	resultsCmd := startCmd
	resultsCmd.Choice.Option = quiz.CmdGoToResults
	if state, err = service.Apply(ctx, "session-1", resultsCmd, domain.RoleModerator, mod); err != nil {
		t.Fatalf("results: %v", err)
	}
	if state.Status != quiz.StatusResults {
		t.Fatalf("expected results, got %+v", state)
	}

	endCmd := startCmd
	endCmd.Choice.Option = quiz.CmdEndQuiz
	if state, err = service.Apply(ctx, "session-1", endCmd, domain.RoleModerator, mod); err != nil {
		t.Fatalf("end: %v", err)
	}
	if state.Status != quiz.StatusEnded {
		t.Fatalf("expected ended, got %+v", state)
	}

	// The fanout eventually carries the end marker.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env := <-updates:
			if env.Type == quiz.PayloadEnd {
				return
			}
		case <-deadline:
			t.Fatalf("never saw the end envelope")
		}
	}
}

func waitForEnvelope(t *testing.T, updates <-chan app.Envelope) app.Envelope {
	t.Helper()
	select {
	case env := <-updates:
		return env
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for envelope")
		return app.Envelope{}
	}
}

func seedData(t *testing.T, ctx context.Context, store *postgres.Store) {
	t.Helper()
	now := time.Now().UTC()
	users := []domain.User{
		{UserID: "mod", Username: "moderator", CreateDate: now},
		{UserID: "u1", Username: "alice", CreateDate: now},
	}
	for _, u := range users {
		if err := store.AddUser(ctx, u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}

	questions := []domain.Question{
		{
			QuestionID: "q1", QuizID: "quiz-1", Text: "What is 2 + 2?", Number: 1,
			Type: domain.QuestionMultipleChoice, Points: 1, SecondsToAnswer: 30,
			Answers: []domain.AnswerOption{
				{AnswerID: "a1", QuestionID: "q1", QuizID: "quiz-1", Text: "3"},
				{AnswerID: "a2", QuestionID: "q1", QuizID: "quiz-1", Text: "4", Correct: true},
			},
		},
		{
			QuestionID: "q2", QuizID: "quiz-1", Text: "What is 3 + 3?", Number: 2,
			Type: domain.QuestionMultipleChoice, Points: 1, SecondsToAnswer: 30,
			Answers: []domain.AnswerOption{
				{AnswerID: "a3", QuestionID: "q2", QuizID: "quiz-1", Text: "5"},
				{AnswerID: "a4", QuestionID: "q2", QuizID: "quiz-1", Text: "6", Correct: true},
			},
		},
	}
	err := store.AddQuiz(ctx, domain.Quiz{QuizID: "quiz-1", Name: "Demo"}, questions,
		domain.Permission{QuizID: "quiz-1", UserID: "mod", Role: domain.RoleModerator})
	if err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	err = store.AddSession(ctx, domain.Session{
		SessionID: "session-1", QuizID: "quiz-1", RoomID: "room-1",
		ModeratorID: "mod", StartDatetime: now,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func migrateSchema(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
