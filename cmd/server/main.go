// Rocky - chat intake agent server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/rocky/internal/api"
	"github.com/ashureev/rocky/internal/config"
	"github.com/ashureev/rocky/internal/convlog"
	"github.com/ashureev/rocky/internal/gateway"
	"github.com/ashureev/rocky/internal/healthrpc"
	"github.com/ashureev/rocky/internal/inbox"
	"github.com/ashureev/rocky/internal/intake"
	"github.com/ashureev/rocky/internal/middleware"
	"github.com/ashureev/rocky/internal/session"
	"github.com/ashureev/rocky/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "db_path", cfg.DBPath)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected")

	opts, err := intakeOptions(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessions := session.NewStore()

	// The bridge needs the inbox as its sink and the service needs the bridge
	// as its dispatcher, so the sink is bound once the inbox exists.
	var box *inbox.Inbox[intake.Message]
	sink := func(ctx context.Context, msg intake.Message) error {
		return box.Enqueue(ctx, msg.UserID, msg)
	}
	bridge := gateway.NewBridge(sink, logger)

	svc, err := intake.NewService(repo, sessions, bridge, opts, logger)
	if err != nil {
		return err
	}

	transcript, err := convlog.New(convlog.Config{
		Enabled:       cfg.Transcript.Enabled,
		Dir:           cfg.Transcript.Dir,
		GlobalEnabled: cfg.Transcript.GlobalEnabled,
		GlobalPath:    cfg.Transcript.GlobalPath,
		QueueSize:     cfg.Transcript.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize transcript log: %w", err)
	}
	defer func() {
		if closeErr := transcript.Close(); closeErr != nil {
			slog.Warn("Failed to close transcript log", "error", closeErr)
		}
	}()
	if cfg.Transcript.Enabled {
		svc.SetTranscript(transcript)
	}

	// In-flight turns finish during shutdown, so workers are not tied to the signal context.
	box = inbox.New(context.Background(), inbox.Options{
		Workers:      cfg.Inbound.InboxWorkers,
		QueueSize:    cfg.Inbound.QueueSize,
		DrainTimeout: cfg.Timeout.Shutdown,
	}, func(ctx context.Context, msg intake.Message) {
		if err := svc.HandleMessage(ctx, msg); err != nil {
			slog.Warn("Intake turn failed", "user_id", msg.UserID, "error", err)
		}
	}, logger)
	// Every return from here on drains the inbox before the repository and
	// transcript close, then drops the bridge connection.
	defer bridge.Close()
	defer box.Close()

	session.StartSweeper(ctx, cfg.SessionSweepInterval, func(now time.Time) []string {
		evicted := svc.EvictIdle(now)
		for _, userID := range evicted {
			slog.Debug("Evicted idle session", "user_id", userID)
		}
		return evicted
	})

	healthHandler := api.NewHealthHandler(repo, bridge, cfg.Timeout.HealthCheck)
	operatorHandler := api.NewHandler(repo)
	webhook := gateway.NewWebhook(sink, middleware.NewRateLimiter(cfg.Inbound.RatePerSec, cfg.Inbound.Burst), logger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)

	healthHandler.RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.BridgeToken))
		r.Get("/ws/bridge", bridge.ServeHTTP)
		webhook.RegisterRoutes(r)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerToken(cfg.OperatorToken))
		r.Use(middleware.IPRateLimit(middleware.NewRateLimiter(10, 20)))
		operatorHandler.RegisterRoutes(r)
	})

	if cfg.BridgeToken == "" || cfg.OperatorToken == "" {
		slog.Warn("Running with unauthenticated routes", "bridge_token_set", cfg.BridgeToken != "", "operator_token_set", cfg.OperatorToken != "")
	}

	var grpcHealth *healthrpc.Server
	if cfg.GRPCHealthAddr != "" {
		grpcHealth, err = healthrpc.Listen(cfg.GRPCHealthAddr, logger)
		if err != nil {
			return err
		}
		grpcHealth.Watch(ctx, func(ctx context.Context) error {
			_, _, err := healthHandler.Check(ctx)
			return err
		}, 10*time.Second)
		go func() {
			if err := grpcHealth.Serve(); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// No WriteTimeout: the bridge websocket is long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}
	stop()

	slog.Info("Shutting down gracefully...")
	if grpcHealth != nil {
		grpcHealth.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("server forced to shutdown: %w", err))
	}
	return runErr
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
}

func intakeOptions(cfg *config.Config) (intake.Options, error) {
	c := cfg.Intake
	digits, err := intake.ParseDigitPolicy(c.DocumentDigitPolicy)
	if err != nil {
		return intake.Options{}, err
	}
	labels := intake.AffiliationLabels{
		Union:      c.LabelUnion,
		HealthPlan: c.LabelHealthPlan,
		Mutual:     c.LabelMutual,
		None:       c.LabelNone,
	}
	opts := intake.Options{
		Persistence:  intake.PersistencePolicy(strings.ToLower(c.PersistencePolicy)),
		Confirmation: intake.ConfirmationMode(strings.ToLower(c.ConfirmationMode)),
		Restart:      intake.RestartPolicy(strings.ToLower(c.RestartPolicy)),
		Document: intake.DocumentPolicy{
			Digits:    digits,
			MinDigits: c.DocumentMinDigits,
			MaxDigits: c.DocumentMaxDigits,
		},
		Labels:        labels,
		IdleThreshold: c.IdleThreshold,
		Messages:      intake.DefaultMessages(c.BotName, c.OrganizationName),
	}
	if err := opts.Validate(); err != nil {
		return intake.Options{}, fmt.Errorf("invalid intake configuration: %w", err)
	}
	return opts, nil
}
