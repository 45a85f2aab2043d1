// Package docstoretest is the behavioural contract every docstore.Store
// adapter must satisfy. Adapter packages call Run from their own tests.
package docstoretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/yungbote/trialstore/internal/data/docstore"
)

// Factory returns an empty store. Cleanup is the caller's job (t.Cleanup).
type Factory func(t *testing.T) docstore.Store

const (
	studies = "suite_study"
	trials  = "suite_trial"
)

var suiteIndexes = []docstore.Index{
	{Collection: studies, Fields: []string{"study_id"}, Unique: true},
	{Collection: studies, Fields: []string{"study_name"}, Unique: true},
	{Collection: trials, Fields: []string{"trial_id"}, Unique: true},
	{Collection: trials, Fields: []string{"study_id", "number"}, Unique: true},
	{Collection: trials, Fields: []string{"study_id"}},
}

func Run(t *testing.T, newStore Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s docstore.Store)
	}{
		{"InsertAndFindOne", testInsertAndFindOne},
		{"UniqueIndex", testUniqueIndex},
		{"CompoundUniqueIndex", testCompoundUniqueIndex},
		{"FindSortLimitAndIn", testFindSortLimitAndIn},
		{"Count", testCount},
		{"UpdateOne", testUpdateOne},
		{"UpdateOneCompareAndSet", testUpdateOneCompareAndSet},
		{"UpdateOneMissingFieldMatchesNil", testUpdateOneMissingFieldMatchesNil},
		{"DeleteMany", testDeleteMany},
		{"EnsureIndexesIdempotent", testEnsureIndexesIdempotent},
		{"ConcurrentInsertSameKey", testConcurrentInsertSameKey},
		{"ReturnedDocumentsAreCopies", testReturnedDocumentsAreCopies},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newStore(t)
			if err := s.EnsureIndexes(context.Background(), suiteIndexes); err != nil {
				t.Fatalf("EnsureIndexes: %v", err)
			}
			tc.fn(t, s)
		})
	}
}

func mustInsert(t *testing.T, s docstore.Store, coll string, doc docstore.Document) {
	t.Helper()
	if err := s.Insert(context.Background(), coll, doc); err != nil {
		t.Fatalf("Insert(%s, %v): %v", coll, doc, err)
	}
}

func asInt(t *testing.T, v any) int64 {
	t.Helper()
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
	}
	t.Fatalf("want integral number got %T(%v)", v, v)
	return 0
}

func testInsertAndFindOne(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	mustInsert(t, s, studies, docstore.Document{
		"study_id":   int64(0),
		"study_name": "s0",
		"directions": []any{int64(1)},
		"user_attrs": map[string]any{"owner": "ml", "nested": map[string]any{"k": 1.5}},
	})
	got, err := s.FindOne(ctx, studies, docstore.Filter{"study_name": "s0"})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if asInt(t, got["study_id"]) != 0 {
		t.Fatalf("study_id: want=0 got=%v", got["study_id"])
	}
	attrs, ok := got["user_attrs"].(map[string]any)
	if !ok || attrs["owner"] != "ml" {
		t.Fatalf("user_attrs: got=%#v", got["user_attrs"])
	}
	if v, ok := docstore.Lookup(got, "user_attrs.nested.k"); !ok || v != 1.5 {
		t.Fatalf("nested lookup: want=1.5 got=%v", v)
	}
	if dirs, ok := got["directions"].([]any); !ok || len(dirs) != 1 || asInt(t, dirs[0]) != 1 {
		t.Fatalf("directions: got=%#v", got["directions"])
	}

	byPath, err := s.FindOne(ctx, studies, docstore.Filter{"user_attrs.owner": "ml"})
	if err != nil || byPath["study_name"] != "s0" {
		t.Fatalf("FindOne by dotted path: got=%v err=%v", byPath, err)
	}
	_, err = s.FindOne(ctx, studies, docstore.Filter{"study_name": "missing"})
	if !errors.Is(err, docstore.ErrNoDocument) {
		t.Fatalf("FindOne missing: want ErrNoDocument got=%v", err)
	}
}

func testUniqueIndex(t *testing.T, s docstore.Store) {
	mustInsert(t, s, studies, docstore.Document{"study_id": int64(0), "study_name": "a"})
	err := s.Insert(context.Background(), studies, docstore.Document{"study_id": int64(0), "study_name": "b"})
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Fatalf("duplicate study_id: want ErrDuplicateKey got=%v", err)
	}
	err = s.Insert(context.Background(), studies, docstore.Document{"study_id": int64(1), "study_name": "a"})
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Fatalf("duplicate study_name: want ErrDuplicateKey got=%v", err)
	}
	n, err := s.Count(context.Background(), studies, docstore.Filter{})
	if err != nil || n != 1 {
		t.Fatalf("Count after rejected inserts: want=1 got=%d err=%v", n, err)
	}
}

func testCompoundUniqueIndex(t *testing.T, s docstore.Store) {
	mustInsert(t, s, trials, docstore.Document{"trial_id": int64(0), "study_id": int64(0), "number": int64(0)})
	mustInsert(t, s, trials, docstore.Document{"trial_id": int64(1), "study_id": int64(1), "number": int64(0)})
	err := s.Insert(context.Background(), trials, docstore.Document{"trial_id": int64(2), "study_id": int64(0), "number": int64(0)})
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Fatalf("duplicate (study_id, number): want ErrDuplicateKey got=%v", err)
	}
}

func testFindSortLimitAndIn(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for i, state := range []int64{0, 1, 2, 1, 0} {
		mustInsert(t, s, trials, docstore.Document{
			"trial_id": int64(10 + i),
			"study_id": int64(i % 2),
			"number":   int64(i / 2),
			"state":    state,
		})
	}
	top, err := docstore.FindSortedLimited(ctx, s, trials, docstore.Filter{}, "trial_id", docstore.Descending, 1)
	if err != nil || len(top) != 1 || asInt(t, top[0]["trial_id"]) != 14 {
		t.Fatalf("FindSortedLimited: want trial_id=14 got=%v err=%v", top, err)
	}
	done, err := s.Find(ctx, trials, docstore.Filter{"state": docstore.In(int64(1), int64(2))}, docstore.FindOptions{
		Sort: []docstore.SortKey{{Field: "trial_id", Order: docstore.Ascending}},
	})
	if err != nil {
		t.Fatalf("Find In: %v", err)
	}
	var ids []int64
	for _, d := range done {
		ids = append(ids, asInt(t, d["trial_id"]))
	}
	if fmt.Sprint(ids) != "[11 12 13]" {
		t.Fatalf("Find In: want=[11 12 13] got=%v", ids)
	}
	ofStudy, err := s.Find(ctx, trials, docstore.Filter{"study_id": int64(0)}, docstore.FindOptions{
		Sort: []docstore.SortKey{{Field: "number", Order: docstore.Descending}},
	})
	if err != nil || len(ofStudy) != 3 || asInt(t, ofStudy[0]["number"]) != 2 {
		t.Fatalf("Find by study desc: got=%v err=%v", ofStudy, err)
	}
	empty, err := docstore.FindSortedLimited(ctx, s, studies, docstore.Filter{}, "study_id", docstore.Descending, 1)
	if err != nil || len(empty) != 0 {
		t.Fatalf("FindSortedLimited on empty collection: got=%v err=%v", empty, err)
	}
}

func testCount(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		mustInsert(t, s, trials, docstore.Document{"trial_id": int64(i), "study_id": int64(7), "number": int64(i), "state": int64(i % 2)})
	}
	n, err := s.Count(ctx, trials, docstore.Filter{"study_id": int64(7), "state": int64(1)})
	if err != nil || n != 2 {
		t.Fatalf("Count: want=2 got=%d err=%v", n, err)
	}
	n, err = s.Count(ctx, "never_written", docstore.Filter{})
	if err != nil || n != 0 {
		t.Fatalf("Count unknown collection: want=0 got=%d err=%v", n, err)
	}
}

func testUpdateOne(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	mustInsert(t, s, trials, docstore.Document{"trial_id": int64(1), "study_id": int64(0), "number": int64(0), "value": 1.0})
	matched, err := s.UpdateOne(ctx, trials, docstore.Filter{"trial_id": int64(1)}, docstore.Update{
		Set:   map[string]any{"params.x": 0.5, "intermediate_values.3": 0.25, "values": []any{1.0, 2.0}},
		Unset: []string{"value"},
	})
	if err != nil || !matched {
		t.Fatalf("UpdateOne: want=true,nil got=%v,%v", matched, err)
	}
	got, err := s.FindOne(ctx, trials, docstore.Filter{"trial_id": int64(1)})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if _, present := got["value"]; present {
		t.Fatalf("value: want absent after unset got=%v", got["value"])
	}
	if v, ok := docstore.Lookup(got, "params.x"); !ok || v != 0.5 {
		t.Fatalf("params.x: want=0.5 got=%v", v)
	}
	if v, ok := docstore.Lookup(got, "intermediate_values.3"); !ok || v != 0.25 {
		t.Fatalf("intermediate_values.3: want=0.25 got=%v", v)
	}
	if vals, ok := got["values"].([]any); !ok || len(vals) != 2 {
		t.Fatalf("values: got=%#v", got["values"])
	}

	matched, err = s.UpdateOne(ctx, trials, docstore.Filter{"trial_id": int64(99)}, docstore.Update{Set: map[string]any{"state": int64(1)}})
	if err != nil || matched {
		t.Fatalf("UpdateOne no match: want=false,nil got=%v,%v", matched, err)
	}
}

func testUpdateOneCompareAndSet(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	mustInsert(t, s, trials, docstore.Document{"trial_id": int64(1), "study_id": int64(0), "number": int64(0), "state": int64(4)})

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.UpdateOne(ctx, trials, docstore.Filter{"trial_id": int64(1), "state": int64(4)}, docstore.Update{
				Set: map[string]any{"state": int64(0)},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				winners++
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("UpdateOne: %v", errs[0])
	}
	if winners != 1 {
		t.Fatalf("compare-and-set winners: want=1 got=%d", winners)
	}
}

func testUpdateOneMissingFieldMatchesNil(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	mustInsert(t, s, studies, docstore.Document{"study_id": int64(3), "study_name": "nodirs"})
	matched, err := s.UpdateOne(ctx, studies, docstore.Filter{"study_id": int64(3), "directions": nil}, docstore.Update{
		Set: map[string]any{"directions": []any{int64(2)}},
	})
	if err != nil || !matched {
		t.Fatalf("UpdateOne on missing field: want=true,nil got=%v,%v", matched, err)
	}
	matched, err = s.UpdateOne(ctx, studies, docstore.Filter{"study_id": int64(3), "directions": []any{int64(2)}}, docstore.Update{
		Set: map[string]any{"directions": []any{int64(1)}},
	})
	if err != nil || !matched {
		t.Fatalf("UpdateOne on array equality: want=true,nil got=%v,%v", matched, err)
	}
}

func testDeleteMany(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustInsert(t, s, trials, docstore.Document{"trial_id": int64(i), "study_id": int64(i % 2), "number": int64(i / 2)})
	}
	n, err := s.DeleteMany(ctx, trials, docstore.Filter{"study_id": int64(0)})
	if err != nil || n != 3 {
		t.Fatalf("DeleteMany: want=3 got=%d err=%v", n, err)
	}
	n, err = s.DeleteMany(ctx, trials, docstore.Filter{"trial_id": docstore.In(int64(1), int64(42))})
	if err != nil || n != 1 {
		t.Fatalf("DeleteMany In: want=1 got=%d err=%v", n, err)
	}
	left, err := s.Count(ctx, trials, docstore.Filter{})
	if err != nil || left != 1 {
		t.Fatalf("Count after delete: want=1 got=%d err=%v", left, err)
	}
	// Deleted keys are free again.
	mustInsert(t, s, trials, docstore.Document{"trial_id": int64(0), "study_id": int64(0), "number": int64(0)})
}

func testEnsureIndexesIdempotent(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	mustInsert(t, s, studies, docstore.Document{"study_id": int64(0), "study_name": "x"})
	if err := s.EnsureIndexes(ctx, suiteIndexes); err != nil {
		t.Fatalf("EnsureIndexes again: %v", err)
	}
	err := s.Insert(ctx, studies, docstore.Document{"study_id": int64(0), "study_name": "y"})
	if !errors.Is(err, docstore.ErrDuplicateKey) {
		t.Fatalf("unique index after re-ensure: want ErrDuplicateKey got=%v", err)
	}
}

func testConcurrentInsertSameKey(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		dups int
		errs []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Insert(ctx, studies, docstore.Document{"study_id": int64(5), "study_name": fmt.Sprintf("w%d", i)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, docstore.ErrDuplicateKey):
				dups++
			default:
				errs = append(errs, err)
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		t.Fatalf("Insert: %v", errs[0])
	}
	if ok != 1 || dups != workers-1 {
		t.Fatalf("concurrent inserts: want 1 ok and %d duplicates got ok=%d dups=%d", workers-1, ok, dups)
	}
}

func testReturnedDocumentsAreCopies(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	doc := docstore.Document{"study_id": int64(0), "study_name": "orig", "user_attrs": map[string]any{"k": "v"}}
	mustInsert(t, s, studies, doc)
	doc["study_name"] = "mutated"
	doc["user_attrs"].(map[string]any)["k"] = "mutated"

	got, err := s.FindOne(ctx, studies, docstore.Filter{"study_id": int64(0)})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got["study_name"] != "orig" {
		t.Fatalf("study_name: want=orig got=%v", got["study_name"])
	}
	got["user_attrs"].(map[string]any)["k"] = "changed"
	again, err := s.FindOne(ctx, studies, docstore.Filter{"study_id": int64(0)})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if v, _ := docstore.Lookup(again, "user_attrs.k"); v != "v" {
		t.Fatalf("user_attrs.k: want=v got=%v", v)
	}
}
