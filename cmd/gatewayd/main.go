package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentwarden/agentwarden/internal/alert"
	"github.com/agentwarden/agentwarden/internal/audit"
	"github.com/agentwarden/agentwarden/internal/config"
	"github.com/agentwarden/agentwarden/internal/httpapi"
	"github.com/agentwarden/agentwarden/internal/llm"
	"github.com/agentwarden/agentwarden/internal/orchestrator"
	"github.com/agentwarden/agentwarden/internal/policy"
	"github.com/agentwarden/agentwarden/internal/review"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "gatewayd",
		Short: "AI governance gateway: dual-checkpoint policy enforcement for LLM traffic",
	}

	var configFile string
	var port int
	var devMode bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: gateway.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the hitl_reviews table in the configured Postgres database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configFile)
		},
	}
	migrateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gatewayd %s (%s)\n", version, commit)
		},
	}

	rootCmd.AddCommand(startCmd, migrateCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(configFile string) (*config.Loader, *config.Config) {
	cfgLoader := config.NewLoader()
	if configFile == "" {
		if _, err := os.Stat("gateway.yaml"); err == nil {
			configFile = "gateway.yaml"
		}
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			slog.Warn("failed to load config file, using defaults", "path", configFile, "error", err)
		}
	}
	return cfgLoader, cfgLoader.Get()
}

func newLogger(cfg *config.Config, devMode bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if devMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func buildRouter(cfg config.RouterConfig, logger *slog.Logger, auditSink llm.AuditSink) (*llm.Router, error) {
	var providers []llm.Provider

	if cfg.Anthropic.Enabled {
		providers = append(providers, llm.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Models, logger))
	}
	if cfg.OpenAI.Enabled {
		if cfg.OpenAI.BaseURL != "" {
			providers = append(providers, llm.NewOpenAICompatibleProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Models, logger))
		} else {
			providers = append(providers, llm.NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Models, logger))
		}
	}
	if cfg.Local.Enabled {
		providers = append(providers, llm.NewLocalProvider(cfg.Local.BaseURL, logger))
	}

	return llm.NewRouter(providers,
		llm.WithFallbackModel(cfg.FallbackModel),
		llm.WithMaxRetries(cfg.MaxRetries),
		llm.WithLogger(logger),
		llm.WithAuditSink(auditSink),
	)
}

func runStart(configFile string, portOverride int, devMode bool) error {
	cfgLoader, cfg := loadConfig(configFile)

	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logger := newLogger(cfg, devMode)

	auditSink, err := audit.NewSQLiteSink(cfg.Storage.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to open audit sink: %w", err)
	}
	if err := auditSink.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	defer auditSink.Close()

	router, err := buildRouter(cfg.Router, logger, auditSink)
	if err != nil {
		return fmt.Errorf("failed to initialize model router: %w", err)
	}

	registry := policy.NewRegistry()
	active, err := policy.BuildFromConfig(registry, cfg.Policies, router, logger)
	if err != nil {
		return fmt.Errorf("failed to build policy set: %w", err)
	}
	engine := policy.NewEngine(registry, logger, policy.WithAudit(auditSink))
	engine.LoadPolicies(active)

	if configFile != "" {
		if err := cfgLoader.Watch(configFile, func(updated *config.Config) {
			newActive, err := policy.BuildFromConfig(policy.NewRegistry(), updated.Policies, router, logger)
			if err != nil {
				logger.Error("hot-reloaded policy config is invalid, keeping previous set", "error", err)
				return
			}
			engine.LoadPolicies(newActive)
		}); err != nil {
			logger.Warn("failed to watch config for hot-reload", "error", err)
		}
		defer cfgLoader.StopWatch()
	}

	var reviewService *review.Service
	if cfg.Review.DSN != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Review.DSN)
		if err != nil {
			return fmt.Errorf("failed to connect to review database: %w", err)
		}
		defer pool.Close()

		store := review.NewPostgresStore(pool, logger)
		if err := store.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("failed to ensure hitl_reviews schema: %w", err)
		}

		alertMgr := alert.NewManager(cfg.Alerts, logger)
		reviewService = review.NewService(store, alertMgr, logger)
	} else {
		logger.Warn("no review.dsn configured; ESCALATE outcomes will return review_failed_<id> without queuing anything")
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithAudit(auditSink),
		orchestrator.WithLogger(logger),
	}
	// reviewService is passed only when non-nil: a nil *review.Service
	// wrapped in the HITL interface would no longer compare equal to a
	// nil interface, defeating the orchestrator's no-HITL-configured check.
	if reviewService != nil {
		orchOpts = append(orchOpts, orchestrator.WithHITL(reviewService))
	}
	orch := orchestrator.New(engine, router, orchOpts...)

	// Same typed-nil concern as above applies to the httpapi.ReviewService
	// interface: hand it a genuinely nil interface value when there is no
	// review backend, not a nil *review.Service wrapped in one.
	var reviewSvc httpapi.ReviewService
	if reviewService != nil {
		reviewSvc = reviewService
	}

	server := httpapi.New(orch, reviewSvc, logger,
		httpapi.WithCORS(cfg.Server.CORS),
		httpapi.WithJWTSecret(cfg.Server.AuthToken),
		httpapi.WithLockDuration(cfg.Review.LockDuration),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-sigCh:
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutCtx)
	}
}

func runMigrate(configFile string) error {
	_, cfg := loadConfig(configFile)
	if cfg.Review.DSN == "" {
		return fmt.Errorf("review.dsn is not configured")
	}

	pool, err := pgxpool.New(context.Background(), cfg.Review.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to review database: %w", err)
	}
	defer pool.Close()

	store := review.NewPostgresStore(pool, slog.Default())
	if err := store.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("failed to ensure hitl_reviews schema: %w", err)
	}

	fmt.Println("hitl_reviews schema is up to date")
	return nil
}
