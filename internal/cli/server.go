package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	"live-quiz-service/internal/logging"
	"live-quiz-service/internal/quiz"
	transport "live-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(cfg.Log.Level)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	stateTTL := config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	heartbeat := config.TTLDuration(cfg.Server.HeartbeatInterval, 3*time.Second)
	idleTimeout := config.TTLDuration(cfg.Server.WebSocketTimeout, 360*time.Second)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	// Persistence: Postgres when configured, otherwise an in-memory layer
	// pre-seeded with demo data so the server runs standalone.
	memoryRepos := memory.NewRepositories()
	var (
		users        app.UserRepository        = memoryRepos
		sessions     app.SessionRepository     = memoryRepos
		questions    app.QuestionRepository    = memoryRepos
		answers      app.AnswerRepository      = memoryRepos
		participants app.ParticipantRepository = memoryRepos
		authoring    app.AuthoringRepository   = memoryRepos
	)
	if pool != nil {
		store := postgres.NewStore(pool)
		users, sessions, questions, answers, participants, authoring =
			store, store, store, store, store, store
	} else {
		seedSampleData(ctx, memoryRepos)
	}

	if redisClient != nil {
		questions = redisinfra.NewQuestionCache(redisClient, questions, quizTTL)
	}

	var stateStore app.StateStore = memory.NewStateStore()
	var broadcaster app.Broadcaster = memory.NewBroadcaster()
	if redisClient != nil {
		stateStore = redisinfra.NewStateStore(redisClient, stateTTL)
		broadcaster = redisinfra.NewBroadcaster(redisClient)
	}

	registry := quiz.NewRegistry(questions, answers)
	service := app.NewSessionService(stateStore, broadcaster, registry,
		users, sessions, questions, answers, participants)

	wsHandler := transport.NewWSHandler(service, heartbeat, idleTimeout)
	apiHandler := transport.NewAPIHandler(authoring)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /users/signup", apiHandler.Signup)
	mux.HandleFunc("POST /sessions/new", apiHandler.CreateSession)
	mux.HandleFunc("POST /quiz/new", apiHandler.CreateQuiz)
	mux.HandleFunc("GET /{session_id}", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: idleTimeout + 15*time.Second,
	}

	go func() {
		slog.Info("starting live quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		slog.Info("shutting down server")
	case <-ctx.Done():
		slog.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedSampleData loads a demo quiz, moderator and session so the service is
// usable without Postgres; swap in real persistence for production.
func seedSampleData(ctx context.Context, repos *memory.Repositories) {
	now := time.Now().UTC()
	_ = repos.AddUser(ctx, domain.User{UserID: "moderator-1", Username: "moderator", CreateDate: now})
	_ = repos.AddUser(ctx, domain.User{UserID: "participant-1", Username: "alice", CreateDate: now})
	_ = repos.AddUser(ctx, domain.User{UserID: "participant-2", Username: "bob", CreateDate: now})

	quizID := "quiz-1"
	_ = repos.AddQuiz(ctx, domain.Quiz{QuizID: quizID, Name: "Demo Quiz"},
		[]domain.Question{
			{
				QuestionID: "q1", QuizID: quizID, Text: "What is 2 + 2?", Number: 1,
				Type: domain.QuestionMultipleChoice, Points: 1, SecondsToAnswer: 30,
				Answers: []domain.AnswerOption{
					{AnswerID: "a1", QuestionID: "q1", QuizID: quizID, Text: "3"},
					{AnswerID: "a2", QuestionID: "q1", QuizID: quizID, Text: "4", Correct: true},
					{AnswerID: "a3", QuestionID: "q1", QuizID: quizID, Text: "5"},
				},
			},
			{
				QuestionID: "q2", QuizID: quizID, Text: "Which planet is closest to the sun?", Number: 2,
				Type: domain.QuestionMultipleChoice, Points: 2, SecondsToAnswer: 30,
				Answers: []domain.AnswerOption{
					{AnswerID: "a4", QuestionID: "q2", QuizID: quizID, Text: "Venus"},
					{AnswerID: "a5", QuestionID: "q2", QuizID: quizID, Text: "Mercury", Correct: true},
				},
			},
		},
		domain.Permission{QuizID: quizID, UserID: "moderator-1", Role: domain.RoleModerator})

	_ = repos.AddSession(ctx, domain.Session{
		SessionID: "session-1", QuizID: quizID, RoomID: "room-1",
		ModeratorID: "moderator-1", StartDatetime: now,
	})
}
