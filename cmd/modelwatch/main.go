package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/modelwatch/modelwatch/internal/analytics"
	"github.com/modelwatch/modelwatch/internal/api"
	"github.com/modelwatch/modelwatch/internal/claim"
	"github.com/modelwatch/modelwatch/internal/db"
	"github.com/modelwatch/modelwatch/internal/executor"
	"github.com/modelwatch/modelwatch/internal/provider"
	"github.com/modelwatch/modelwatch/internal/scheduler"
	"github.com/modelwatch/modelwatch/internal/version"
	"github.com/modelwatch/modelwatch/internal/webhook"
)

func main() {
	// .env is optional; environment variables win either way.
	_ = godotenv.Load()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version", "--version", "-v":
			fmt.Printf("modelwatch %s\n", version.Version)
			return
		case "daemon":
			if err := run(false); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "serve":
			if err := run(true); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "--help", "-h":
			printHelp()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
			printHelp()
			os.Exit(1)
		}
	}
	printHelp()
}

// run starts the scheduler daemon, optionally with the HTTP API in
// front of it.
func run(withAPI bool) error {
	log := newLogger()

	dataDir := os.Getenv("MODELWATCH_DATA")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".modelwatch")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	database, err := db.New(filepath.Join(dataDir, "modelwatch.db"))
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := buildRegistry()
	if err != nil {
		return err
	}
	log.Info().Strs("models", registry.ModelIDs()).Msg("providers registered")

	var store analytics.Store
	if os.Getenv("ANALYTICS_DISABLED") != "true" {
		s, err := analytics.NewSQLite(filepath.Join(dataDir, "analytics.db"))
		if err != nil {
			return fmt.Errorf("initializing analytics store: %w", err)
		}
		defer s.Close()
		store = s
	}

	var notifier *webhook.Notifier
	discordURL := os.Getenv("DISCORD_WEBHOOK_URL")
	slackURL := os.Getenv("SLACK_WEBHOOK_URL")
	if discordURL != "" || slackURL != "" {
		notifier = webhook.NewNotifier(discordURL, slackURL)
	}

	orch := executor.New(database, registry, provider.DefaultPrices, store, notifier, log)
	orch.DailyBudget = envInt("DAILY_BUDGET", 0)
	if d := envDuration("DISPATCH_TIMEOUT", 0); d > 0 {
		orch.DispatchTimeout = d
	}

	retention := envDuration("CLAIM_RETENTION", claim.DefaultRetention)
	strategies := []claim.Strategy{
		&claim.UniqueInsert{DB: database},
		&claim.LastRunCAS{DB: database},
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		r := claim.NewRedis(addr, retention)
		if err := r.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", addr, err)
		}
		defer r.Close()
		strategies = append([]claim.Strategy{r}, strategies...)
		log.Info().Str("addr", addr).Msg("redis claim strategy enabled")
	}
	coordinator := claim.NewCoordinator(log, strategies...)
	janitor := &claim.Janitor{DB: database, Retention: retention, Log: log}

	sched := scheduler.New(database, coordinator, orch, janitor, log)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if !withAPI {
		log.Info().Str("data_dir", dataDir).Msg("daemon started")
		<-sigCh
		log.Info().Msg("shutting down")
		return nil
	}

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	port := serveCmd.Int("port", envInt("PORT", 8080), "HTTP server port")
	_ = serveCmd.Parse(os.Args[2:])

	server := api.NewServer(database, sched, orch, log)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: server.Router(),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("data_dir", dataDir).Msg("api server started")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-sigCh
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// buildRegistry wires one HTTP provider per configured model id. All
// models share a base URL and API key; pricing for unknown models
// simply comes out as null cost.
func buildRegistry() (*provider.Registry, error) {
	registry := provider.NewRegistry()

	models := os.Getenv("COMPLETIONS_MODELS")
	if models == "" {
		return registry, nil
	}
	baseURL := os.Getenv("COMPLETIONS_BASE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("COMPLETIONS_MODELS set without COMPLETIONS_BASE_URL")
	}
	apiKey := os.Getenv("COMPLETIONS_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("COMPLETIONS_MODELS set without COMPLETIONS_API_KEY")
	}
	ratePerSec := envInt("COMPLETIONS_RATE", 2)

	tokens := provider.StaticToken(apiKey)
	for _, id := range strings.Split(models, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		registry.Register(provider.NewHTTPClient(id, baseURL, tokens, ratePerSec))
	}
	return registry, nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && os.Getenv("LOG_LEVEL") != "" {
		level = parsed
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func printHelp() {
	fmt.Println(`modelwatch - Broadcast scheduled prompts across language models

Usage:
  modelwatch daemon         Run the scheduler in the foreground
  modelwatch serve          Run the scheduler with the HTTP API
  modelwatch version        Show version information
  modelwatch help           Show this help message

Serve Options:
  --port                    HTTP server port (default: 8080 or $PORT)

Environment Variables:
  MODELWATCH_DATA           Data directory (default: ~/.modelwatch)
  COMPLETIONS_BASE_URL      Completions API base URL
  COMPLETIONS_API_KEY       Completions API key
  COMPLETIONS_MODELS        Comma-separated model ids to register
  COMPLETIONS_RATE          Requests per second per model (default: 2)
  DAILY_BUDGET              Max completions per UTC day (0 = unlimited)
  DISPATCH_TIMEOUT          Per-model completion timeout (e.g. 2m)
  CLAIM_RETENTION           Claim row retention (default: 168h)
  REDIS_ADDR                Optional Redis address for distributed claims
  DISCORD_WEBHOOK_URL       Optional Discord run reports
  SLACK_WEBHOOK_URL         Optional Slack run reports
  LOG_LEVEL                 trace|debug|info|warn|error (default: info)
  LOG_FORMAT                json for structured output (default: console)
  ANALYTICS_DISABLED        true to skip the analytics store`)
}
