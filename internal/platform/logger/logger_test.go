package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestRedactsSecrets(t *testing.T) {
	log, logs := observed()
	log.Info("connecting",
		"uri", "mongodb://app:hunter2@db:27017/optuna",
		"redis_password", "s3cret",
		"study", "demo",
	)
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries: want=1 got=%d", len(entries))
	}
	fields := entries[0].ContextMap()
	if got := fields["uri"]; got != "mongodb://app:xxxxx@db:27017/optuna" {
		t.Fatalf("uri: want redacted got=%v", got)
	}
	if got := fields["redis_password"]; got != "[REDACTED]" {
		t.Fatalf("redis_password: want=[REDACTED] got=%v", got)
	}
	if got := fields["study"]; got != "demo" {
		t.Fatalf("study: want=demo got=%v", got)
	}
}

func TestWithCarriesFields(t *testing.T) {
	log, logs := observed()
	log.With("store", "MemoryStore", "token", "abc").Warn("slow")
	fields := logs.All()[0].ContextMap()
	if fields["store"] != "MemoryStore" || fields["token"] != "[REDACTED]" {
		t.Fatalf("With fields: got=%v", fields)
	}
}

func TestOddKeyValues(t *testing.T) {
	got := sanitizeKVs([]interface{}{"a", 1, "dangling"})
	if len(got) != 3 || got[2] != "dangling" {
		t.Fatalf("sanitizeKVs: got=%v", got)
	}
}

func TestRedactURI(t *testing.T) {
	cases := map[string]string{
		"postgres://u:p@h:5432/db":  "postgres://u:xxxxx@h:5432/db",
		"mongodb://localhost:27017": "mongodb://localhost:27017",
		"redis://user@cache:6379":   "redis://user@cache:6379",
		"not a uri":                 "not a uri",
	}
	for in, want := range cases {
		if got := RedactURI(in); got != want {
			t.Fatalf("RedactURI(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestNewLevels(t *testing.T) {
	l, err := New("production", "warn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.SugaredLogger.Desugar().Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("warn logger: info should be disabled")
	}
	if _, err := New("dev", "loud"); err == nil {
		t.Fatalf("New with bad level: want error")
	}
	if l, err := New("dev"); err != nil || !l.SugaredLogger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("New(dev): want debug enabled err=%v", err)
	}
}

func TestNilWith(t *testing.T) {
	var l *Logger
	l.With("k", "v").Info("ok")
}
