// Package engine implements the storage contract on top of a docstore.Store:
// ID allocation, the study registry, the trial ledger and its state machine.
//
// The engine keeps no shared in-process state. Concurrent workers, in this
// process or others, coordinate only through the store's unique indexes and
// single-document compare-and-set updates.
package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/storage"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

const (
	defaultMaxAttempts  = 16
	defaultRetryBackoff = 2 * time.Millisecond
	tracerName          = "github.com/yungbote/trialstore/internal/data/engine"
)

type Options struct {
	Log   *logger.Logger
	Hooks Hooks
	// Cache serves immutable lookups; nil reads the store every time.
	Cache LookupCache
	// Tracer defaults to the global otel tracer provider.
	Tracer trace.Tracer
	// MaxAttempts bounds allocation and compare-and-set retries.
	MaxAttempts int
	// RetryBackoff is the base of the jittered exponential backoff between
	// allocation attempts.
	RetryBackoff time.Duration
	// Now stamps datetime_start / datetime_complete; defaults to time.Now.
	Now func() time.Time
}

// Storage is the facade the optimization driver talks to.
type Storage struct {
	store  docstore.Store
	alloc  *allocator
	log    *logger.Logger
	hooks  Hooks
	cache  LookupCache
	tracer trace.Tracer
	now    func() time.Time

	maxAttempts int
}

var _ storage.Storage = (*Storage)(nil)

func New(store docstore.Store, opts Options) *Storage {
	log := opts.Log
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "StorageEngine")
	hooks := opts.Hooks
	if hooks == nil {
		hooks = noopHooks{}
	}
	cache := opts.Cache
	if cache == nil {
		cache = passthroughCache{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := opts.RetryBackoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultRetryBackoff
	}
	return &Storage{
		store: store,
		alloc: &allocator{
			store:    store,
			hooks:    hooks,
			log:      log,
			attempts: attempts,
			backoff:  backoff,
		},
		log:         log,
		hooks:       hooks,
		cache:       cache,
		tracer:      tracer,
		now:         func() time.Time { return now().UTC() },
		maxAttempts: attempts,
	}
}

// EnsureIndexes creates the indexes the engine depends on. It must run once
// against a fresh store before concurrent use.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	return s.observe(ctx, "EnsureIndexes", func(ctx context.Context) error {
		return s.store.EnsureIndexes(ctx, DefaultIndexes())
	})
}

func (s *Storage) Close(ctx context.Context) error {
	return s.store.Close(ctx)
}

// observe runs fn under a span, maps its error into the storage taxonomy and
// reports the outcome to the hooks.
func (s *Storage) observe(ctx context.Context, op string, fn func(ctx context.Context) error, attrs ...attribute.KeyValue) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "trialstore."+op, trace.WithAttributes(attrs...))
	defer span.End()

	err := mapStoreError(op, fn(ctx))
	status := operationStatus(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		switch storage.CodeOf(err) {
		case storage.CodeConflict:
			s.hooks.IncConflict(op)
		case storage.CodeTransient:
			s.hooks.IncRetry(op)
			s.log.Warn("Transient store failure", "op", op, "error", err)
		case storage.CodeInternal, storage.CodeCorruptData:
			s.log.Error("Storage operation failed", "op", op, "error", err)
		}
	}
	s.hooks.ObserveOperation(op, status, time.Since(start))
	return err
}
