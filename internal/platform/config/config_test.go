package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trialstore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendMemory {
		t.Fatalf("Backend: want=%s got=%s", BackendMemory, cfg.Backend)
	}
	if cfg.OpTimeout() != 10*time.Second || cfg.Engine.RetryAttempts != 16 {
		t.Fatalf("engine defaults: got timeout=%v attempts=%d", cfg.OpTimeout(), cfg.Engine.RetryAttempts)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, `
backend: sql
sql:
  driver: sqlite
  dsn: file:yaml.db
engine:
  retry_attempts: 4
redis:
  addr: localhost:6379
  ttl_seconds: 30
`)
	t.Setenv("TRIALSTORE_SQL_DSN", "file:env.db")
	t.Setenv("TRIALSTORE_RETRY_ATTEMPTS", "9")
	t.Setenv("OTEL_SAMPLER_RATIO", "0.5")

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SQL.Driver != "sqlite" || cfg.SQL.DSN != "file:env.db" {
		t.Fatalf("sql: want driver=sqlite dsn=file:env.db got=%+v", cfg.SQL)
	}
	if cfg.Engine.RetryAttempts != 9 {
		t.Fatalf("RetryAttempts: want=9 got=%d", cfg.Engine.RetryAttempts)
	}
	if cfg.CacheTTL() != 30*time.Second || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("redis: got=%+v", cfg.Redis)
	}
	if cfg.Tracing.SampleRatio != 0.5 {
		t.Fatalf("SampleRatio: want=0.5 got=%v", cfg.Tracing.SampleRatio)
	}
}

func TestBadEnvKeepsFileValue(t *testing.T) {
	t.Setenv("TRIALSTORE_OP_TIMEOUT_MS", "soon")
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.OpTimeoutMS != Default().Engine.OpTimeoutMS {
		t.Fatalf("OpTimeoutMS: want default got=%d", cfg.Engine.OpTimeoutMS)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown backend": func(c *Config) { c.Backend = "cassandra" },
		"mongo no uri":    func(c *Config) { c.Backend = BackendMongo },
		"sql bad driver":  func(c *Config) { c.Backend = BackendSQL; c.SQL.Driver = "mysql"; c.SQL.DSN = "x" },
		"badger no path":  func(c *Config) { c.Backend = BackendBadger },
		"negative retry":  func(c *Config) { c.Engine.RetryAttempts = -1 },
		"ratio":           func(c *Config) { c.Tracing.SampleRatio = 2 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("Validate(%s): want error", name)
		}
	}
	cfg := Default()
	cfg.Backend = BackendBadger
	cfg.Badger.InMemory = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate(badger in-memory): %v", err)
	}
}

func TestLoadReportsParseErrors(t *testing.T) {
	path := writeFile(t, "backend: [unterminated")
	_, err := Load(path, nil)
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("Load: want parse error got=%v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatalf("Load(missing): want error")
	}
}
