package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/completion-gateway/docs"
	"github.com/tributary-ai/completion-gateway/internal/cascade"
	"github.com/tributary-ai/completion-gateway/internal/config"
	"github.com/tributary-ai/completion-gateway/internal/gateway"
	"github.com/tributary-ai/completion-gateway/internal/identity"
	"github.com/tributary-ai/completion-gateway/internal/interactions"
	"github.com/tributary-ai/completion-gateway/internal/middleware"
	"github.com/tributary-ai/completion-gateway/internal/providers"
	"github.com/tributary-ai/completion-gateway/internal/providers/anthropic"
	"github.com/tributary-ai/completion-gateway/internal/providers/gemini"
	"github.com/tributary-ai/completion-gateway/internal/providers/openai"
	"github.com/tributary-ai/completion-gateway/internal/ratelimit"
	"github.com/tributary-ai/completion-gateway/internal/routing"
	"github.com/tributary-ai/completion-gateway/internal/server"
	"github.com/tributary-ai/completion-gateway/internal/storage/sqldb"
	"github.com/tributary-ai/completion-gateway/internal/telemetry"
	"github.com/tributary-ai/completion-gateway/internal/tokens"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	server   *server.Server
	recorder *interactions.Logger
	store    interactions.Store
	limiter  *ratelimit.Limiter
	tracing  telemetry.ShutdownFunc
	logOut   io.Closer
	logger   *logrus.Logger
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	// Setup logger
	logger := logrus.New()
	logOut, err := setupLogger(logger, cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}

	app := &Application{config: cfg, logOut: logOut, logger: logger}
	if err := app.build(); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

func (app *Application) build() error {
	cfg, logger := app.config, app.logger

	tracing, err := telemetry.InitTracer(cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.tracing = tracing

	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		logger.WithField("providers", missing).Warn("Providers without credentials will always fail over")
	}

	registry, err := providers.NewRegistry(cfg.Providers, providerFactories(), logger)
	if err != nil {
		return fmt.Errorf("failed to register providers: %w", err)
	}

	policy, err := routing.NewPolicy(cfg.Routing, registry, logger)
	if err != nil {
		return fmt.Errorf("failed to build routing policy: %w", err)
	}

	resolver := cascade.New(registry, cfg.Cascade, logger)

	store, reader, err := openStore(cfg.Interactions, logger)
	if err != nil {
		return fmt.Errorf("failed to open interaction store: %w", err)
	}
	app.store = store

	counter, err := tokens.NewCounter()
	if err != nil {
		logger.WithError(err).Warn("Token encoding unavailable; estimating token counts")
	}
	app.recorder = interactions.NewLogger(cfg.Interactions.Logger, store, counter, logger)

	var opts []gateway.Option
	if cfg.RateLimit.Enabled {
		app.limiter = ratelimit.NewLimiter(cfg.RateLimit, logger)
		opts = append(opts, gateway.WithLimiter(app.limiter))
	}
	gw := gateway.New(policy, resolver, app.recorder, logger, opts...)

	doc, err := docs.Load()
	if err != nil {
		return fmt.Errorf("failed to load OpenAPI document: %w", err)
	}
	validator, err := middleware.NewValidationMiddleware(cfg.Validation, doc, logger)
	if err != nil {
		return fmt.Errorf("failed to create validation middleware: %w", err)
	}

	deps := server.Dependencies{
		Gateway:      gw,
		Routing:      policy,
		Providers:    registry,
		Interactions: reader,
		Validator:    validator,
		Doc:          doc,
	}
	if resolver := identity.NewResolver(cfg.Identity, logger); resolver.Enabled() {
		deps.Identity = resolver
	}

	app.server, err = server.NewServer(deps, &cfg.Server, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return nil
}

// providerFactories maps every supported kind to its adapter constructor
func providerFactories() providers.Factories {
	return providers.Factories{
		openai.KindOpenAI:     openai.NewOpenAIProvider,
		openai.KindGroq:       openai.NewOpenAIProvider,
		openai.KindOpenRouter: openai.NewOpenAIProvider,
		anthropic.Kind:        anthropic.NewAnthropicProvider,
		gemini.Kind:           gemini.NewGeminiProvider,
	}
}

// openStore opens the configured interaction store. The reader is nil when
// the backend cannot list records.
func openStore(cfg config.InteractionsConfig, logger *logrus.Logger) (interactions.Store, interactions.Reader, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		store := interactions.NewMemoryStore(interactions.DefaultMemoryCapacity)
		return store, store, nil
	case config.BackendSQLite:
		store, err := sqldb.NewSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := sqldb.NewPostgres(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case config.BackendNone:
		logger.Info("Interaction logging disabled")
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// Run starts the application
func (app *Application) Run() error {
	app.logger.Info("Starting completion gateway")
	defer app.close()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		if err := app.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	}

	app.logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.server.Stop(shutdownCtx); err != nil {
		app.logger.WithError(err).Error("Server shutdown error")
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	app.logger.Info("Graceful shutdown completed")
	return nil
}

// close releases everything build acquired, in reverse order. Pending
// interaction records are flushed before the store is closed.
func (app *Application) close() {
	if app.limiter != nil {
		app.limiter.Stop()
	}
	if app.recorder != nil {
		app.recorder.Stop()
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithError(err).Warn("Failed to close interaction store")
		}
	}
	if app.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.tracing(ctx); err != nil {
			app.logger.WithError(err).Warn("Failed to flush traces")
		}
		cancel()
	}
	if app.logOut != nil {
		app.logOut.Close()
	}
}

// setupLogger configures the logger based on configuration. The returned
// closer is non-nil only when logging to a file.
func setupLogger(logger *logrus.Logger, config config.LoggingConfig) (io.Closer, error) {
	// Set log level
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	// Set log format
	switch config.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	default:
		return nil, fmt.Errorf("invalid log format: %s", config.Format)
	}

	// Set output
	switch config.Output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		// Assume it's a file path
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
		}
		logger.SetOutput(file)
		return file, nil
	}

	return nil, nil
}

// printUsage prints application usage information
func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY, GROQ_API_KEY, OPENROUTER_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY\n")
	fmt.Fprintf(os.Stderr, "                                 Provider credentials (names set by credential_ref)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_PORT                   Server port (default: 8080)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_LOG_LEVEL              Log level (debug,info,warn,error,fatal)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_LOG_FORMAT             Log format (json,text)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_INTERACTIONS_BACKEND   memory, sqlite, postgres or none\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_SQLITE_PATH            SQLite database file\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_POSTGRES_DSN           PostgreSQL connection string\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_CALL_TIMEOUT           Default per-provider timeout (e.g. 30s)\n")
	fmt.Fprintf(os.Stderr, "  GATEWAY_JWT_SECRET             Shared secret for bearer token verification\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s --config configs/config.yaml\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY=sk-xxx GROQ_API_KEY=gsk-xxx %s\n", os.Args[0])
}

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		envFile     = flag.String("env-file", ".env", "Path to a .env file loaded before the environment is read")
		printConfig = flag.Bool("print-config", false, "Print the effective configuration and exit")
		showHelp    = flag.Bool("help", false, "Show help message")
		version     = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showHelp {
		printUsage()
		os.Exit(0)
	}

	if *version {
		fmt.Printf("Completion Gateway v1.0.0\n")
		os.Exit(0)
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *printConfig {
		if err := cfg.WriteYAML(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print configuration: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}
