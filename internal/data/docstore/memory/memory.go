// Package memory is a process-local docstore.Store.
//
// It is used by unit tests and single-process tools. Documents are copied on
// the way in and on the way out, so callers can never alias stored state.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/trialstore/internal/data/docstore"
)

// FaultFunc is consulted before every operation; a non-nil error aborts it.
type FaultFunc func(op, collection string) error

type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	indexes     map[string][]docstore.Index
	fault       FaultFunc
}

type collection struct {
	docs []docstore.Document
	// unique[indexName][key] is present when a document holds that key.
	unique map[string]map[string]struct{}
}

var _ docstore.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		collections: map[string]*collection{},
		indexes:     map[string][]docstore.Index{},
	}
}

// SetFault installs (or clears, with nil) a fault injector.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

func (s *Store) check(ctx context.Context, op, coll string) error {
	if err := ctx.Err(); err != nil {
		return docstore.Unavailable(op, err)
	}
	s.mu.RLock()
	fault := s.fault
	s.mu.RUnlock()
	if fault != nil {
		return fault(op, coll)
	}
	return nil
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{unique: map[string]map[string]struct{}{}}
		s.collections[name] = c
	}
	return c
}

func (s *Store) Insert(ctx context.Context, coll string, doc docstore.Document) error {
	if err := s.check(ctx, "insert", coll); err != nil {
		return err
	}
	stored := docstore.Normalize(docstore.Clone(doc)).(map[string]any)

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.coll(coll)
	keys, err := s.uniqueKeys(c, coll, stored, nil)
	if err != nil {
		return err
	}
	for name, key := range keys {
		c.unique[name][key] = struct{}{}
	}
	c.docs = append(c.docs, stored)
	return nil
}

// uniqueKeys computes the unique index keys of doc and verifies none is held
// by a document other than self.
func (s *Store) uniqueKeys(c *collection, coll string, doc, self docstore.Document) (map[string]string, error) {
	keys := map[string]string{}
	for _, idx := range s.indexes[coll] {
		if !idx.Unique {
			continue
		}
		name := idx.Name()
		key := docstore.IndexKey(doc, idx)
		if _, ok := c.unique[name]; !ok {
			c.unique[name] = map[string]struct{}{}
		}
		if _, taken := c.unique[name][key]; taken {
			if self == nil || docstore.IndexKey(self, idx) != key {
				return nil, fmt.Errorf("%w: index %s", docstore.ErrDuplicateKey, name)
			}
		}
		keys[name] = key
	}
	return keys, nil
}

func (s *Store) FindOne(ctx context.Context, coll string, f docstore.Filter) (docstore.Document, error) {
	docs, err := s.Find(ctx, coll, f, docstore.FindOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, docstore.ErrNoDocument
	}
	return docs[0], nil
}

func (s *Store) Find(ctx context.Context, coll string, f docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	if err := s.check(ctx, "find", coll); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[coll]
	if !ok {
		return []docstore.Document{}, nil
	}
	selected := docstore.SelectDocuments(c.docs, f, opts)
	out := make([]docstore.Document, len(selected))
	for i, d := range selected {
		out[i] = docstore.Clone(d)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	if err := s.check(ctx, "count", coll); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[coll]
	if !ok {
		return 0, nil
	}
	var n int64
	for _, d := range c.docs {
		if docstore.Match(d, f) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateOne(ctx context.Context, coll string, f docstore.Filter, u docstore.Update) (bool, error) {
	if err := s.check(ctx, "update", coll); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return false, nil
	}
	for i, d := range c.docs {
		if !docstore.Match(d, f) {
			continue
		}
		next, err := docstore.ApplyUpdate(d, u)
		if err != nil {
			return true, err
		}
		next = docstore.Normalize(next).(map[string]any)
		keys, err := s.uniqueKeys(c, coll, next, d)
		if err != nil {
			return true, err
		}
		s.dropKeys(c, coll, d)
		for name, key := range keys {
			c.unique[name][key] = struct{}{}
		}
		c.docs[i] = next
		return true, nil
	}
	return false, nil
}

func (s *Store) dropKeys(c *collection, coll string, doc docstore.Document) {
	for _, idx := range s.indexes[coll] {
		if idx.Unique {
			delete(c.unique[idx.Name()], docstore.IndexKey(doc, idx))
		}
	}
}

func (s *Store) DeleteMany(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	if err := s.check(ctx, "delete", coll); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[coll]
	if !ok {
		return 0, nil
	}
	kept := c.docs[:0]
	var n int64
	for _, d := range c.docs {
		if docstore.Match(d, f) {
			s.dropKeys(c, coll, d)
			n++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return n, nil
}

// EnsureIndexes registers indexes; existing documents are indexed and a
// duplicate among them fails the call.
func (s *Store) EnsureIndexes(ctx context.Context, indexes []docstore.Index) error {
	if err := s.check(ctx, "ensure_indexes", ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, idx := range indexes {
		exists := false
		for _, have := range s.indexes[idx.Collection] {
			if have.Name() == idx.Name() {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		c := s.coll(idx.Collection)
		if idx.Unique {
			keys := map[string]struct{}{}
			for _, d := range c.docs {
				k := docstore.IndexKey(d, idx)
				if _, dup := keys[k]; dup {
					return fmt.Errorf("%w: building index %s", docstore.ErrDuplicateKey, idx.Name())
				}
				keys[k] = struct{}{}
			}
			c.unique[idx.Name()] = keys
		}
		s.indexes[idx.Collection] = append(s.indexes[idx.Collection], idx)
	}
	return nil
}

// Close drops all state.
func (s *Store) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = map[string]*collection{}
	return nil
}

// Len returns the number of documents in a collection.
func (s *Store) Len(coll string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[coll]; ok {
		return len(c.docs)
	}
	return 0
}
