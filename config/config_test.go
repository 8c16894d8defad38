package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Memory.MaxHistory != 10 {
		t.Errorf("MaxHistory = %d, want 10", cfg.Memory.MaxHistory)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mindcare.yaml")
	yaml := `
server:
  addr: ":9090"
  turn_timeout: 45s
storage:
  driver: sqlite
  sqlite_path: /tmp/m.db
facial:
  url: http://localhost:5001
  detectors: [opencv]
events:
  kafka_brokers: ["k1:9092", "k2:9092"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.TurnTimeout != 45*time.Second {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Storage.Driver != DriverSQLite || cfg.Storage.SQLitePath != "/tmp/m.db" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if len(cfg.Facial.Detectors) != 1 || cfg.Facial.Detectors[0] != "opencv" {
		t.Errorf("detectors = %v", cfg.Facial.Detectors)
	}
	if len(cfg.Events.KafkaBrokers) != 2 {
		t.Errorf("brokers = %v", cfg.Events.KafkaBrokers)
	}
	// Untouched sections keep their defaults.
	if cfg.Memory.HistoryDir != "data/memory" || cfg.Lock.Backend != BackendMemory {
		t.Errorf("defaults lost: memory=%+v lock=%+v", cfg.Memory, cfg.Lock)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, "server.addr"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.postgres.url"},
		{"sqlite without path", func(c *Config) {
			c.Storage.Driver = DriverSQLite
			c.Storage.SQLitePath = ""
		}, "storage.sqlite_path"},
		{"pg lock on memory store", func(c *Config) { c.Lock.Backend = BackendPostgres }, "lock.backend postgres"},
		{"redis without addr", func(c *Config) {
			c.Memory.ShortTerm = BackendRedis
			c.Redis.Addr = ""
		}, "redis.addr"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"rps without burst", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit.burst"},
		{"sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, "sample_rate"},
		{"valid postgres", func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Storage.Postgres.URL = "postgres://localhost/mindcare"
			c.Lock.Backend = BackendPostgres
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAll(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = ""
	cfg.Storage.Driver = "nope"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"server.addr", "storage.driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, mapLookup(map[string]string{
		"MINDCARE_ADDR":               ":7000",
		"OPENAI_API_KEY":              "openai-key",
		"GROQ_API_KEY":                "groq-key",
		"SMTP_HOST":                   "smtp.example.com",
		"SMTP_PORT":                   "2525",
		"EMAIL_FROM":                  "care@example.com",
		"MINDCARE_KAFKA_BROKERS":      "a:9092, b:9092,",
		"MINDCARE_EMOTION_WATCH":      "true",
		"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318",
		"MINDCARE_ENVIRONMENT":        "production",
		"MINDCARE_LOG_LEVEL":          "   ",
	}))
	if err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.LLM.APIKey != "groq-key" {
		t.Errorf("GROQ_API_KEY should win over OPENAI_API_KEY, got %q", cfg.LLM.APIKey)
	}
	if cfg.SMTP.Host != "smtp.example.com" || cfg.SMTP.Port != 2525 || cfg.SMTP.From != "care@example.com" {
		t.Errorf("smtp = %+v", cfg.SMTP)
	}
	if got := cfg.Events.KafkaBrokers; len(got) != 2 || got[1] != "b:9092" {
		t.Errorf("brokers = %v", got)
	}
	if !cfg.Emotion.Watch {
		t.Error("emotion watch not applied")
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Endpoint != "collector:4318" || cfg.Tracing.Environment != "production" {
		t.Errorf("tracing = %+v", cfg.Tracing)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("blank value should be ignored, level = %q", cfg.Log.Level)
	}
}

func TestApplyEnv_Malformed(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, mapLookup(map[string]string{
		"SMTP_PORT":               "not-a-port",
		"MINDCARE_RATE_LIMIT_RPS": "fast",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"SMTP_PORT", "MINDCARE_RATE_LIMIT_RPS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("MINDCARE_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINDCARE_TEST_DOTENV", "")
	os.Unsetenv("MINDCARE_TEST_DOTENV")

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("MINDCARE_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("MINDCARE_TEST_DOTENV = %q", got)
	}
}
