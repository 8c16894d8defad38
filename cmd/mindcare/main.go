package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/GoCodeAlone/mindcare/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configFile = flag.String("config", "", "Path to YAML configuration file (or set MINDCARE_CONFIG)")
	envFile    = flag.String("env-file", ".env", "Path to a .env file loaded before the environment")
	addr       = flag.String("addr", "", "HTTP listen address, overrides server.addr")
	logFormat  = flag.String("log-format", "", "Log format: text or json")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn or error")
	storage    = flag.String("storage", "", "Storage driver: memory, sqlite or postgres")
	jwtSecret  = flag.String("jwt-secret", "", "HS256 secret enabling bearer auth (or set MINDCARE_JWT_SECRET)")
	llmModel   = flag.String("model", "", "Chat model name (or set GROQ_MODEL)")
)

func main() {
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}
	cfg, err := config.Load(envOrFlag("MINDCARE_CONFIG", configFile), os.LookupEnv)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	applyFlagOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}
	if err := app.Init(); err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	if err := app.Start(); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}
	logger.Info("mindcare started", "addr", cfg.Server.Addr, "version", version)

	<-ctx.Done()
	fmt.Println("Shutting down...")

	if err := app.Stop(); err != nil {
		logger.Error("Shutdown error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Shutdown complete")
}

// envOrFlag returns the environment variable value if set, otherwise the
// flag value.
func envOrFlag(envKey string, flagVal *string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if flagVal != nil {
		return *flagVal
	}
	return ""
}

// applyFlagOverrides copies every non-empty flag over the loaded
// configuration. Flags win over the file and the environment.
func applyFlagOverrides(cfg *config.Config) {
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *storage != "" {
		cfg.Storage.Driver = *storage
	}
	if *jwtSecret != "" {
		cfg.Auth.Secret = *jwtSecret
	}
	if *llmModel != "" {
		cfg.LLM.Model = *llmModel
	}
}

// newLogger builds the slog logger described by cfg.
func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}
