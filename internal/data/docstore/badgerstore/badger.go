// Package badgerstore implements docstore.Store on an embedded BadgerDB.
//
// Key layout:
//
//	d/<collection>/<seq>                  -> JSON document
//	u/<collection>/<index>/<canonical key> -> document key
//
// Every write runs in one optimistic badger transaction, so a unique key and
// the document it guards are committed together. badger.ErrConflict is
// retried a bounded number of times.
package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

// Config holds configuration for a badger-backed store.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM; used by tests.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// ConflictRetries bounds retries of a transaction that lost a race.
	ConflictRetries int
}

func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true, ConflictRetries: 16}
}

func InMemoryConfig() Config {
	return Config{InMemory: true, ConflictRetries: 16}
}

type Store struct {
	db      *badger.DB
	seq     *badger.Sequence
	retries int
	log     *logger.Logger

	mu      sync.RWMutex
	indexes map[string][]docstore.Index
}

var _ docstore.Store = (*Store)(nil)

// badgerLogger adapts logger.Logger to badger's Logger interface.
type badgerLogger struct {
	log *logger.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...))
}
func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...))
}
func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func Open(cfg Config, log *logger.Logger) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}
	log = log.With("store", "BadgerStore")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badgerstore: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	seq, err := db.GetSequence([]byte("s/docs"), 256)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badgerstore: sequence: %w", err)
	}
	retries := cfg.ConflictRetries
	if retries <= 0 {
		retries = 16
	}
	return &Store{
		db:      db,
		seq:     seq,
		retries: retries,
		log:     log,
		indexes: map[string][]docstore.Index{},
	}, nil
}

func docPrefix(coll string) []byte {
	return []byte("d/" + coll + "/")
}

func docKey(coll string, id uint64) []byte {
	k := docPrefix(coll)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return append(k, b[:]...)
}

func uniqueKey(coll string, idx docstore.Index, key string) []byte {
	return []byte("u/" + coll + "/" + idx.Name() + "/" + key)
}

func encode(doc docstore.Document) ([]byte, error) {
	return json.Marshal(doc)
}

func decode(raw []byte) (docstore.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return docstore.Normalize(doc).(map[string]any), nil
}

func (s *Store) uniqueIndexes(coll string) []docstore.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []docstore.Index
	for _, idx := range s.indexes[coll] {
		if idx.Unique {
			out = append(out, idx)
		}
	}
	return out
}

// update runs fn in a read-write transaction, retrying on conflict.
func (s *Store) update(ctx context.Context, op string, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < s.retries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return docstore.Unavailable("badgerstore: "+op, cerr)
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("Transaction conflict, retrying", "op", op, "attempt", attempt+1)
	}
	return docstore.Unavailable("badgerstore: "+op, err)
}

func (s *Store) Insert(ctx context.Context, coll string, doc docstore.Document) error {
	doc = docstore.Normalize(docstore.Clone(doc)).(map[string]any)
	raw, err := encode(doc)
	if err != nil {
		return fmt.Errorf("badgerstore: encode: %w", err)
	}
	id, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("badgerstore: next sequence: %w", err)
	}
	key := docKey(coll, id)
	uniques := s.uniqueIndexes(coll)
	return s.update(ctx, "insert "+coll, func(txn *badger.Txn) error {
		if err := claimUniques(txn, coll, uniques, doc, key); err != nil {
			return err
		}
		return txn.Set(key, raw)
	})
}

// claimUniques writes unique entries for doc, failing when another document
// already holds one of them.
func claimUniques(txn *badger.Txn, coll string, uniques []docstore.Index, doc docstore.Document, owner []byte) error {
	for _, idx := range uniques {
		uk := uniqueKey(coll, idx, docstore.IndexKey(doc, idx))
		item, err := txn.Get(uk)
		switch {
		case err == nil:
			held, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			if !bytes.Equal(held, owner) {
				return fmt.Errorf("%w: index %s", docstore.ErrDuplicateKey, idx.Name())
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}
		if err := txn.Set(uk, owner); err != nil {
			return err
		}
	}
	return nil
}

func releaseUniques(txn *badger.Txn, coll string, uniques []docstore.Index, doc docstore.Document) error {
	for _, idx := range uniques {
		if err := txn.Delete(uniqueKey(coll, idx, docstore.IndexKey(doc, idx))); err != nil {
			return err
		}
	}
	return nil
}

type stored struct {
	key []byte
	doc docstore.Document
}

// scan visits every document of coll matching f, in insertion order.
func scan(txn *badger.Txn, coll string, f docstore.Filter, visit func(stored) (bool, error)) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := docPrefix(coll)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		doc, err := decode(raw)
		if err != nil {
			return fmt.Errorf("badgerstore: decode %s: %w", item.Key(), err)
		}
		if !docstore.Match(doc, f) {
			continue
		}
		more, err := visit(stored{key: item.KeyCopy(nil), doc: doc})
		if err != nil || !more {
			return err
		}
	}
	return nil
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
	if err := ctx.Err(); err != nil {
		return nil, docstore.Unavailable("badgerstore: find", err)
	}
	var all []docstore.Document
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, coll, f, func(st stored) (bool, error) {
			all = append(all, st.doc)
			// Without a sort the first Limit matches are the answer.
			return len(opts.Sort) > 0 || opts.Limit <= 0 || int64(len(all)) < opts.Limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return docstore.SelectDocuments(all, nil, opts), nil
}

func (s *Store) Count(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, docstore.Unavailable("badgerstore: count", err)
	}
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, coll, f, func(stored) (bool, error) {
			n++
			return true, nil
		})
	})
	return n, err
}

func (s *Store) UpdateOne(ctx context.Context, coll string, f docstore.Filter, u docstore.Update) (bool, error) {
	uniques := s.uniqueIndexes(coll)
	var matched bool
	err := s.update(ctx, "update "+coll, func(txn *badger.Txn) error {
		matched = false
		var target *stored
		if err := scan(txn, coll, f, func(st stored) (bool, error) {
			target = &st
			return false, nil
		}); err != nil {
			return err
		}
		if target == nil {
			return nil
		}
		matched = true
		next, err := docstore.ApplyUpdate(target.doc, u)
		if err != nil {
			return err
		}
		next = docstore.Normalize(next).(map[string]any)
		raw, err := encode(next)
		if err != nil {
			return fmt.Errorf("badgerstore: encode: %w", err)
		}
		if err := releaseUniques(txn, coll, uniques, target.doc); err != nil {
			return err
		}
		if err := claimUniques(txn, coll, uniques, next, target.key); err != nil {
			return err
		}
		return txn.Set(target.key, raw)
	})
	return matched, err
}

// DeleteMany removes matches in batches so that large collections stay under
// badger's transaction size limit. The deletion is not atomic as a whole.
func (s *Store) DeleteMany(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	const batch = 1000
	uniques := s.uniqueIndexes(coll)
	var total int64
	for {
		var n int64
		err := s.update(ctx, "delete "+coll, func(txn *badger.Txn) error {
			n = 0
			var victims []stored
			if err := scan(txn, coll, f, func(st stored) (bool, error) {
				victims = append(victims, st)
				return len(victims) < batch, nil
			}); err != nil {
				return err
			}
			for _, v := range victims {
				if err := releaseUniques(txn, coll, uniques, v.doc); err != nil {
					return err
				}
				if err := txn.Delete(v.key); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		total += n
		if err != nil {
			return total, err
		}
		if n < batch {
			return total, nil
		}
	}
}

// EnsureIndexes registers indexes and backfills unique entries for documents
// written before the index was known to this process.
func (s *Store) EnsureIndexes(ctx context.Context, indexes []docstore.Index) error {
	for _, idx := range indexes {
		s.mu.Lock()
		exists := false
		for _, have := range s.indexes[idx.Collection] {
			if have.Name() == idx.Name() {
				exists = true
				break
			}
		}
		if !exists {
			s.indexes[idx.Collection] = append(s.indexes[idx.Collection], idx)
		}
		s.mu.Unlock()
		if exists || !idx.Unique {
			continue
		}
		err := s.update(ctx, "ensure_indexes "+idx.Collection, func(txn *badger.Txn) error {
			var existing []stored
			if err := scan(txn, idx.Collection, nil, func(st stored) (bool, error) {
				existing = append(existing, st)
				return true, nil
			}); err != nil {
				return err
			}
			for _, st := range existing {
				if err := claimUniques(txn, idx.Collection, []docstore.Index{idx}, st.doc, st.key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("Failed to release sequence", "error", err)
	}
	return s.db.Close()
}
