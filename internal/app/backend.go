package app

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/data/docstore/badgerstore"
	"github.com/yungbote/trialstore/internal/data/docstore/memory"
	"github.com/yungbote/trialstore/internal/data/docstore/mongostore"
	"github.com/yungbote/trialstore/internal/data/docstore/sqlstore"
	"github.com/yungbote/trialstore/internal/platform/config"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

type BackendBootstrapErrorCode string

const (
	BackendBootstrapErrorInvalidBackend BackendBootstrapErrorCode = "invalid_backend"
	BackendBootstrapErrorConnectFailed  BackendBootstrapErrorCode = "connect_failed"
	BackendBootstrapErrorIndexFailed    BackendBootstrapErrorCode = "index_failed"
)

type BackendBootstrapError struct {
	Code    BackendBootstrapErrorCode
	Backend string
	Cause   error
}

func (e *BackendBootstrapError) Error() string {
	if e == nil {
		return "document store bootstrap failed"
	}
	return fmt.Sprintf("document store bootstrap failed (code=%s backend=%q): %v", e.Code, e.Backend, e.Cause)
}

func (e *BackendBootstrapError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// openFuncs are swapped by tests.
var (
	openMongo  = mongostore.Open
	openSQL    = sqlstore.Open
	openBadger = badgerstore.Open
)

// openBackend builds the configured docstore. The gorm handle is returned
// for the SQL backend only, so its pool can be sampled.
func openBackend(ctx context.Context, log *logger.Logger, cfg config.Config) (docstore.Store, *gorm.DB, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	fail := func(err error) (docstore.Store, *gorm.DB, error) {
		return nil, nil, &BackendBootstrapError{Code: BackendBootstrapErrorConnectFailed, Backend: backend, Cause: err}
	}
	switch backend {
	case config.BackendMemory:
		log.Warn("Using in-process memory store; data is lost on exit")
		return memory.New(), nil, nil
	case config.BackendMongo:
		s, err := openMongo(ctx, mongostore.Config{
			URI:       cfg.Mongo.URI,
			Database:  cfg.Mongo.Database,
			OpTimeout: cfg.OpTimeout(),
		}, log)
		if err != nil {
			return fail(err)
		}
		return s, nil, nil
	case config.BackendSQL:
		s, err := openSQL(sqlstore.Config{
			Driver:     cfg.SQL.Driver,
			DSN:        cfg.SQL.DSN,
			OpTimeout:  cfg.OpTimeout(),
			CASRetries: cfg.Engine.RetryAttempts,
		}, log)
		if err != nil {
			return fail(err)
		}
		return s, s.DB(), nil
	case config.BackendBadger:
		bcfg := badgerstore.DefaultConfig(cfg.Badger.Path)
		bcfg.InMemory = cfg.Badger.InMemory
		bcfg.SyncWrites = cfg.Badger.SyncWrites
		s, err := openBadger(bcfg, log)
		if err != nil {
			return fail(err)
		}
		return s, nil, nil
	default:
		return nil, nil, &BackendBootstrapError{
			Code:    BackendBootstrapErrorInvalidBackend,
			Backend: backend,
			Cause:   fmt.Errorf("unknown backend %q", cfg.Backend),
		}
	}
}
