package app

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/trialstore/internal/data/docstore/mongostore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
	"github.com/yungbote/trialstore/internal/platform/config"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

func TestNewWithConfigMemoryBackend(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	a, err := NewWithConfig(ctx, logger.Nop(), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	defer a.Close(ctx)

	studyID, err := a.Storage.CreateStudy(ctx, "wired")
	if err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}
	if _, err := a.Storage.CreateTrial(ctx, studyID, nil); err != nil {
		t.Fatalf("CreateTrial: %v", err)
	}
	n, err := a.Storage.GetNTrials(ctx, studyID, []optimization.TrialState{optimization.TrialRunning})
	if err != nil || n != 1 {
		t.Fatalf("GetNTrials: want=1 got=%d err=%v", n, err)
	}
}

func TestNewWithConfigBadgerInMemory(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Backend = config.BackendBadger
	cfg.Badger.InMemory = true
	cfg.Badger.SyncWrites = false

	a, err := NewWithConfig(ctx, logger.Nop(), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	if _, err := a.Storage.CreateStudy(ctx, "badger"); err != nil {
		t.Fatalf("CreateStudy: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenBackendInvalid(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "cassandra"
	_, _, err := openBackend(context.Background(), logger.Nop(), cfg)

	var got *BackendBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected BackendBootstrapError, got=%T", err)
	}
	if got.Code != BackendBootstrapErrorInvalidBackend {
		t.Fatalf("code: want=%q got=%q", BackendBootstrapErrorInvalidBackend, got.Code)
	}
}

func TestOpenBackendConnectFailed(t *testing.T) {
	orig := openMongo
	t.Cleanup(func() { openMongo = orig })

	cause := errors.New("server selection timeout")
	var captured mongostore.Config
	openMongo = func(_ context.Context, cfg mongostore.Config, _ *logger.Logger) (*mongostore.Store, error) {
		captured = cfg
		return nil, cause
	}

	cfg := config.Default()
	cfg.Backend = config.BackendMongo
	cfg.Mongo.URI = "mongodb://user:pw@db:27017"
	_, _, err := openBackend(context.Background(), logger.Nop(), cfg)

	var got *BackendBootstrapError
	if !errors.As(err, &got) {
		t.Fatalf("expected BackendBootstrapError, got=%T", err)
	}
	if got.Code != BackendBootstrapErrorConnectFailed || !errors.Is(err, cause) {
		t.Fatalf("error: want connect_failed wrapping cause got=%v", err)
	}
	if captured.Database != "trialstore" || captured.OpTimeout != cfg.OpTimeout() {
		t.Fatalf("mongo config: got=%+v", captured)
	}
}
