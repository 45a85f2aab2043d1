package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/yungbote/trialstore/internal/data/codec"
	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/storage"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

// allocator hands out study and trial IDs without a sequence generator: the
// candidate is the current maximum plus one, inserted under a unique index,
// and recomputed whenever the insert loses a race.
type allocator struct {
	store    docstore.Store
	hooks    Hooks
	log      *logger.Logger
	attempts int
	backoff  time.Duration
}

// currentMax returns the highest ID ever held in coll, including IDs retired
// by deleted studies. -1 when there is none.
func (a *allocator) currentMax(ctx context.Context, coll, field string) (int64, error) {
	highest := int64(-1)
	docs, err := docstore.FindSortedLimited(ctx, a.store, coll, docstore.Filter{}, field, docstore.Descending, 1)
	if err != nil {
		return 0, err
	}
	if len(docs) > 0 {
		id, ok := codec.DecodeInt(docs[0][field])
		if !ok {
			return 0, storage.Errorf(storage.CodeCorruptData, "allocator", "%s.%s holds non-integer %v", coll, field, docs[0][field])
		}
		highest = id
	}
	retired, err := docstore.FindSortedLimited(ctx, a.store, codec.CollectionRetired,
		docstore.Filter{codec.FieldRetiredCollection: coll}, codec.FieldRetiredID, docstore.Descending, 1)
	if err != nil {
		return 0, err
	}
	if len(retired) > 0 {
		if id, ok := codec.DecodeInt(retired[0][codec.FieldRetiredID]); ok && id > highest {
			highest = id
		}
	}
	return highest, nil
}

// Next returns the next candidate ID for coll.
func (a *allocator) Next(ctx context.Context, coll, field string) (int64, error) {
	highest, err := a.currentMax(ctx, coll, field)
	if err != nil {
		return 0, err
	}
	return highest + 1, nil
}

func (a *allocator) NextStudyID(ctx context.Context) (int64, error) {
	return a.Next(ctx, codec.CollectionStudy, codec.FieldStudyID)
}

func (a *allocator) NextTrialID(ctx context.Context) (int64, error) {
	return a.Next(ctx, codec.CollectionTrial, codec.FieldTrialID)
}

// Insert allocates an ID, builds the document for it and inserts it,
// retrying on duplicate keys. onDuplicate may turn a duplicate into a final
// error (for example a taken study name) instead of a retry.
func (a *allocator) Insert(
	ctx context.Context,
	op, coll, field string,
	build func(ctx context.Context, id int64) (docstore.Document, error),
	onDuplicate func(ctx context.Context) error,
) (int64, error) {
	for attempt := 0; attempt < a.attempts; attempt++ {
		if attempt > 0 {
			a.hooks.IncRetry(op)
			if err := sleepCtx(ctx, a.jitter(attempt)); err != nil {
				return 0, err
			}
		}
		id, err := a.Next(ctx, coll, field)
		if err != nil {
			return 0, err
		}
		doc, err := build(ctx, id)
		if err != nil {
			return 0, err
		}
		err = a.store.Insert(ctx, coll, doc)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, docstore.ErrDuplicateKey) {
			return 0, err
		}
		a.hooks.IncConflict(op)
		if onDuplicate != nil {
			if err := onDuplicate(ctx); err != nil {
				return 0, err
			}
		}
		a.log.Debug("Allocation conflict; retrying", "op", op, "collection", coll, "candidate", id, "attempt", attempt+1)
	}
	return 0, storage.Errorf(storage.CodeTransient, op, "%s allocation did not converge after %d attempts", coll, a.attempts)
}

// Retire records id as used in coll so that it is never handed out again.
func (a *allocator) Retire(ctx context.Context, coll string, id int64) error {
	return a.store.Insert(ctx, codec.CollectionRetired, docstore.Document{
		codec.FieldRetiredCollection: coll,
		codec.FieldRetiredID:         id,
	})
}

func (a *allocator) jitter(attempt int) time.Duration {
	if a.backoff <= 0 {
		return 0
	}
	limit := a.backoff << min(attempt, 6)
	return time.Duration(rand.Int64N(int64(limit)) + 1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
