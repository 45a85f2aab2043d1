package engine

import (
	"context"
	"strconv"
)

// LookupCache memoizes mappings keyed by IDs, which are never reused:
// study id -> name and trial id -> (study id, number). An entry may outlive
// its study, so callers confirm the study still exists. Implementations must
// fall back to load on any cache failure.
type LookupCache interface {
	LoadInt(ctx context.Context, key string, load func(ctx context.Context) (int64, error)) (int64, error)
	LoadString(ctx context.Context, key string, load func(ctx context.Context) (string, error)) (string, error)
	Invalidate(ctx context.Context, keys ...string)
}

type passthroughCache struct{}

func (passthroughCache) LoadInt(ctx context.Context, _ string, load func(context.Context) (int64, error)) (int64, error) {
	return load(ctx)
}

func (passthroughCache) LoadString(ctx context.Context, _ string, load func(context.Context) (string, error)) (string, error) {
	return load(ctx)
}

func (passthroughCache) Invalidate(context.Context, ...string) {}

func studyNameKey(id int64) string   { return "study:" + strconv.FormatInt(id, 10) + ":name" }
func trialStudyKey(id int64) string  { return "trial:" + strconv.FormatInt(id, 10) + ":study" }
func trialNumberKey(id int64) string { return "trial:" + strconv.FormatInt(id, 10) + ":number" }
