package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

type envBinding struct {
	key string
	set func(c *Config, v string) error
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func list(dst func(c *Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst(c) = out
		return nil
	}
}

func integer(dst func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

// Bindings are applied in order, so a later key wins over an earlier one
// (OPENAI_API_KEY is only a fallback for GROQ_API_KEY).
var envBindings = []envBinding{
	{"MINDCARE_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"MINDCARE_ALLOWED_ORIGINS", list(func(c *Config) *[]string { return &c.Server.AllowedOrigins })},
	{"MINDCARE_LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"MINDCARE_LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"MINDCARE_STORAGE_DRIVER", str(func(c *Config) *string { return &c.Storage.Driver })},
	{"MINDCARE_SQLITE_PATH", str(func(c *Config) *string { return &c.Storage.SQLitePath })},
	{"MINDCARE_DATABASE_URL", str(func(c *Config) *string { return &c.Storage.Postgres.URL })},
	{"MINDCARE_HISTORY_DIR", str(func(c *Config) *string { return &c.Memory.HistoryDir })},
	{"MINDCARE_CHECKPOINT_DIR", str(func(c *Config) *string { return &c.Memory.CheckpointDir })},
	{"MINDCARE_SHORT_TERM", str(func(c *Config) *string { return &c.Memory.ShortTerm })},
	{"MINDCARE_REDIS_ADDR", str(func(c *Config) *string { return &c.Redis.Addr })},
	{"MINDCARE_REDIS_PASSWORD", str(func(c *Config) *string { return &c.Redis.Password })},
	{"MINDCARE_REDIS_DB", integer(func(c *Config) *int { return &c.Redis.DB })},
	{"OPENAI_API_KEY", str(func(c *Config) *string { return &c.LLM.APIKey })},
	{"GROQ_API_KEY", str(func(c *Config) *string { return &c.LLM.APIKey })},
	{"GROQ_MODEL", str(func(c *Config) *string { return &c.LLM.Model })},
	{"MINDCARE_LLM_BASE_URL", str(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"MINDCARE_EMOTION_MODEL", str(func(c *Config) *string { return &c.Emotion.ModelPath })},
	{"MINDCARE_EMOTION_WATCH", boolean(func(c *Config) *bool { return &c.Emotion.Watch })},
	{"MINDCARE_FACIAL_URL", str(func(c *Config) *string { return &c.Facial.URL })},
	{"MINDCARE_FACIAL_DETECTORS", list(func(c *Config) *[]string { return &c.Facial.Detectors })},
	{"MINDCARE_KNOWLEDGE", boolean(func(c *Config) *bool { return &c.Knowledge.Enabled })},
	{"SMTP_HOST", str(func(c *Config) *string { return &c.SMTP.Host })},
	{"SMTP_PORT", integer(func(c *Config) *int { return &c.SMTP.Port })},
	{"SMTP_USER", str(func(c *Config) *string { return &c.SMTP.Username })},
	{"SMTP_PASS", str(func(c *Config) *string { return &c.SMTP.Password })},
	{"EMAIL_FROM", str(func(c *Config) *string { return &c.SMTP.From })},
	{"MINDCARE_NATS_URL", str(func(c *Config) *string { return &c.Events.NATSURL })},
	{"MINDCARE_KAFKA_BROKERS", list(func(c *Config) *[]string { return &c.Events.KafkaBrokers })},
	{"MINDCARE_KAFKA_TOPIC", str(func(c *Config) *string { return &c.Events.KafkaTopic })},
	{"MINDCARE_JWT_SECRET", str(func(c *Config) *string { return &c.Auth.Secret })},
	{"MINDCARE_LOCK_BACKEND", str(func(c *Config) *string { return &c.Lock.Backend })},
	{"MINDCARE_METRICS", boolean(func(c *Config) *bool { return &c.Metrics.Enabled })},
	{"MINDCARE_RATE_LIMIT_RPS", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		c.RateLimit.RPS = f
		return nil
	}},
	{"MINDCARE_ENVIRONMENT", str(func(c *Config) *string { return &c.Tracing.Environment })},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config, v string) error {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = true
		return nil
	}},
}

// ApplyEnv overrides cfg with every bound variable that lookup finds with a
// non-empty value. Malformed numbers and booleans are reported together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(b.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := b.set(cfg, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.key, err))
		}
	}
	return errors.Join(errs...)
}

// Load builds the configuration from defaults, the optional YAML file at path,
// the .env file and the environment.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}
