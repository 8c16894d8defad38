// Package config holds the server configuration. Values are layered: built-in
// defaults, then an optional YAML file, then a .env file and the process
// environment, then command-line flags applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/mindcare/mail"
	"github.com/GoCodeAlone/mindcare/store"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Lock and short-term memory backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Memory    MemoryConfig    `yaml:"memory"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Emotion   EmotionConfig   `yaml:"emotion"`
	Facial    FacialConfig    `yaml:"facial"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	SMTP      mail.SMTPConfig `yaml:"smtp"`
	Events    EventsConfig    `yaml:"events"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Bulkhead  BulkheadConfig  `yaml:"bulkhead"`
	Lock      LockConfig      `yaml:"lock"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// TurnTimeout bounds one conversation turn including all model calls.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	// AllowedOrigins lists websocket origins; empty allows same-origin only,
	// "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// StorageConfig selects where users and sessions live.
type StorageConfig struct {
	Driver     string         `yaml:"driver"`
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   store.PGConfig `yaml:"postgres"`
}

// MemoryConfig configures durable history, checkpoints and short-term
// session memory.
type MemoryConfig struct {
	HistoryDir    string        `yaml:"history_dir"`
	CheckpointDir string        `yaml:"checkpoint_dir"`
	MaxHistory    int           `yaml:"max_history"`
	ShortTerm     string        `yaml:"short_term"`
	ShortTermTTL  time.Duration `yaml:"short_term_ttl"`
}

// RedisConfig is shared by the redis short-term memory and lock backends.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	Temperature *float64      `yaml:"temperature"`
	MaxRetries  int           `yaml:"max_retries"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EmotionConfig points at the text emotion model. An empty path disables the
// model; Watch reloads it when the file changes.
type EmotionConfig struct {
	ModelPath string `yaml:"model_path"`
	Watch     bool   `yaml:"watch"`
}

// FacialConfig points at the face-analysis sidecar. An empty URL disables
// facial analysis.
type FacialConfig struct {
	URL       string        `yaml:"url"`
	Detectors []string      `yaml:"detectors"`
	Timeout   time.Duration `yaml:"timeout"`
}

// KnowledgeConfig toggles external lookups.
type KnowledgeConfig struct {
	Enabled bool          `yaml:"enabled"`
	Timeout time.Duration `yaml:"timeout"`
}

// EventsConfig configures domain event publishers. Both may be enabled.
type EventsConfig struct {
	NATSURL      string   `yaml:"nats_url"`
	NATSPrefix   string   `yaml:"nats_prefix"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
	// Environment is reported as the deployment environment of every span.
	Environment string `yaml:"environment"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// AuthConfig enables HS256 bearer tokens when Secret is set.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// RateLimitConfig is a per-client token bucket. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// BulkheadConfig caps concurrent turns and facial analyses.
type BulkheadConfig struct {
	Turns  int `yaml:"turns"`
	Facial int `yaml:"facial"`
}

// LockConfig selects the per-user lock backend.
type LockConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// Default returns a configuration that runs fully in-process.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			TurnTimeout:     90 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver:     DriverMemory,
			SQLitePath: "data/mindcare.db",
		},
		Memory: MemoryConfig{
			HistoryDir:    "data/memory",
			CheckpointDir: "data/checkpoints",
			MaxHistory:    10,
			ShortTerm:     BackendMemory,
			ShortTermTTL:  24 * time.Hour,
		},
		Redis: RedisConfig{Addr: "localhost:6379", Prefix: "mindcare:"},
		Facial: FacialConfig{
			Detectors: []string{"retinaface", "opencv", "ssd", "mtcnn", "dlib"},
			Timeout:   30 * time.Second,
		},
		Knowledge: KnowledgeConfig{Enabled: true, Timeout: 10 * time.Second},
		SMTP:      mail.SMTPConfig{Port: 587},
		Events: EventsConfig{
			NATSPrefix: "mindcare",
			KafkaTopic: "mindcare.events",
		},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4318",
			Insecure:    true,
			SampleRate:  1.0,
			Environment: "development",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "mindcare",
			Path:      "/metrics",
		},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 10},
		Bulkhead:  BulkheadConfig{Turns: 32, Facial: 4},
		Lock:      LockConfig{Backend: BackendMemory, TTL: 2 * time.Minute},
	}
}

// LoadFromFile reads a YAML file over the defaults. Keys missing from the
// file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Storage.Postgres.URL == "" {
			errs = append(errs, errors.New("storage.postgres.url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	if c.Memory.HistoryDir == "" || c.Memory.CheckpointDir == "" {
		errs = append(errs, errors.New("memory.history_dir and memory.checkpoint_dir are required"))
	}
	switch c.Memory.ShortTerm {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("memory.short_term %q is not one of memory, redis", c.Memory.ShortTerm))
	}
	switch c.Lock.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Storage.Driver != DriverPostgres {
			errs = append(errs, errors.New("lock.backend postgres requires storage.driver postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend %q is not one of memory, redis, postgres", c.Lock.Backend))
	}
	if (c.Memory.ShortTerm == BackendRedis || c.Lock.Backend == BackendRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when a redis backend is selected"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0 {
		errs = append(errs, errors.New("rate_limit.burst must be positive when rps is set"))
	}
	if c.Bulkhead.Turns < 0 || c.Bulkhead.Facial < 0 {
		errs = append(errs, errors.New("bulkhead limits must not be negative"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate must be between 0 and 1"))
	}
	return errors.Join(errs...)
}
