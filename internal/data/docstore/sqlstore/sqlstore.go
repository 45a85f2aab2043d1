// Package sqlstore implements docstore.Store on a relational database through
// GORM. Documents live as JSON bodies in one table; every declared index is
// materialized as rows of a second table whose unique column enforces
// uniqueness and whose lookup index serves equality and max queries.
package sqlstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultCASRetries = 8
	// SQLite caps bound parameters per statement; IN lists are chunked.
	idChunk = 500
)

type Config struct {
	Driver string
	DSN    string
	// OpTimeout bounds every single call; zero disables the per-call deadline.
	OpTimeout time.Duration
	// CASRetries bounds UpdateOne attempts after a lost version race.
	CASRetries int
}

type Store struct {
	db        *gorm.DB
	log       *logger.Logger
	opTimeout time.Duration
	retries   int

	mu      sync.RWMutex
	indexes map[string][]docstore.Index
}

var _ docstore.Store = (*Store)(nil)

// Open connects with the configured driver and migrates the schema.
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	driverName := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var dialector gorm.Dialector
	switch driverName {
	case DriverPostgres, "postgresql", "pg":
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite, "sqlite3":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: missing DSN")
	}

	gormLog := gormLogger.New(
		stdlog.New(os.Stdout, "\r\n", stdlog.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, docstore.Unavailable("sqlstore: open "+driverName, err)
	}
	if driverName == DriverSQLite || driverName == "sqlite3" {
		// One writer at a time; concurrent sqlite writers only produce
		// "database is locked".
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, cfg, log)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB, cfg Config, log *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: nil db")
	}
	if err := db.AutoMigrate(&DocumentRow{}, &KeyRow{}); err != nil {
		return nil, mapError("migrate", err)
	}
	retries := cfg.CASRetries
	if retries <= 0 {
		retries = defaultCASRetries
	}
	return &Store{
		db:        db,
		log:       log.With("store", "SQLStore", "driver", db.Dialector.Name()),
		opTimeout: cfg.OpTimeout,
		retries:   retries,
		indexes:   map[string][]docstore.Index{},
	}, nil
}

// DB exposes the underlying connection; tests use it to reset tables.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) indexesFor(coll string) []docstore.Index {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]docstore.Index(nil), s.indexes[coll]...)
}

func (s *Store) Insert(ctx context.Context, coll string, doc docstore.Document) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	stored := docstore.Normalize(docstore.Clone(doc)).(map[string]any)
	body, err := encodeBody(stored)
	if err != nil {
		return err
	}
	indexes := s.indexesFor(coll)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := DocumentRow{Collection: coll, Body: body}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		keys := keyRows(row.ID, coll, stored, indexes)
		if len(keys) == 0 {
			return nil
		}
		return tx.Create(&keys).Error
	})
	return mapError("insert "+coll, err)
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
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cands, err := s.load(s.db.WithContext(ctx), coll, f, opts)
	if err != nil {
		return nil, mapError("find "+coll, err)
	}
	docs := make([]docstore.Document, len(cands))
	for i, c := range cands {
		docs[i] = c.doc
	}
	return docstore.SelectDocuments(docs, f, opts), nil
}

func (s *Store) Count(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cands, err := s.load(s.db.WithContext(ctx), coll, f, docstore.FindOptions{})
	if err != nil {
		return 0, mapError("count "+coll, err)
	}
	var n int64
	for _, c := range cands {
		if docstore.Match(c.doc, f) {
			n++
		}
	}
	return n, nil
}

func (s *Store) UpdateOne(ctx context.Context, coll string, f docstore.Filter, u docstore.Update) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for attempt := 0; attempt < s.retries; attempt++ {
		matched, err := s.tryUpdate(ctx, coll, f, u)
		if errors.Is(err, errStale) {
			s.log.Debug("Lost version race; retrying update", "collection", coll, "attempt", attempt+1)
			continue
		}
		return matched, err
	}
	return false, docstore.Unavailable("sqlstore: update "+coll, errStale)
}

func (s *Store) tryUpdate(ctx context.Context, coll string, f docstore.Filter, u docstore.Update) (bool, error) {
	indexes := s.indexesFor(coll)
	matched := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cands, err := s.load(tx, coll, f, docstore.FindOptions{})
		if err != nil {
			return err
		}
		var target *loaded
		for i := range cands {
			if docstore.Match(cands[i].doc, f) {
				target = &cands[i]
				break
			}
		}
		if target == nil {
			return nil
		}
		matched = true
		if u.IsEmpty() {
			return nil
		}
		next, err := docstore.ApplyUpdate(target.doc, u)
		if err != nil {
			return err
		}
		next = docstore.Normalize(next).(map[string]any)
		body, err := encodeBody(next)
		if err != nil {
			return err
		}
		ok, err := versionGuard{tx: tx}.UpdateByVersion(target.row.ID, target.row.Version, body)
		if err != nil {
			return err
		}
		if !ok {
			return errStale
		}
		if err := tx.Where("document_id = ?", target.row.ID).Delete(&KeyRow{}).Error; err != nil {
			return err
		}
		keys := keyRows(target.row.ID, coll, next, indexes)
		if len(keys) == 0 {
			return nil
		}
		return tx.Create(&keys).Error
	})
	if errors.Is(err, errStale) {
		return matched, errStale
	}
	return matched, mapError("update "+coll, err)
}

func (s *Store) DeleteMany(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cands, err := s.load(tx, coll, f, docstore.FindOptions{})
		if err != nil {
			return err
		}
		ids := make([]uint64, 0, len(cands))
		for _, c := range cands {
			if docstore.Match(c.doc, f) {
				ids = append(ids, c.row.ID)
			}
		}
		for _, chunk := range chunkIDs(ids) {
			if err := tx.Where("document_id IN ?", chunk).Delete(&KeyRow{}).Error; err != nil {
				return err
			}
			res := tx.Where("id IN ?", chunk).Delete(&DocumentRow{})
			if res.Error != nil {
				return res.Error
			}
			n += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, mapError("delete "+coll, err)
	}
	return n, nil
}

// EnsureIndexes registers indexes and backfills key rows for documents that
// lack them. A duplicate among existing documents fails the call.
func (s *Store) EnsureIndexes(ctx context.Context, indexes []docstore.Index) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	s.mu.Lock()
	for _, idx := range indexes {
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
	}
	s.mu.Unlock()

	for _, idx := range indexes {
		var added int
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// Documents first: any document visible here committed its key
			// rows in the same transaction, so the pluck below sees them.
			var rows []DocumentRow
			if err := tx.Where("collection = ?", idx.Collection).Order("id").Find(&rows).Error; err != nil {
				return err
			}
			var have []uint64
			if err := tx.Model(&KeyRow{}).
				Where("collection = ? AND index_name = ?", idx.Collection, idx.Name()).
				Pluck("document_id", &have).Error; err != nil {
				return err
			}
			indexed := make(map[uint64]struct{}, len(have))
			for _, id := range have {
				indexed[id] = struct{}{}
			}
			missing := []KeyRow{}
			for _, r := range rows {
				if _, ok := indexed[r.ID]; ok {
					continue
				}
				doc, err := decodeBody(r.Body)
				if err != nil {
					return err
				}
				missing = append(missing, keyRow(r.ID, idx.Collection, doc, idx))
			}
			added = len(missing)
			if len(missing) == 0 {
				return nil
			}
			return tx.CreateInBatches(&missing, 200).Error
		})
		if err != nil {
			return mapError("ensure_indexes "+idx.Name(), err)
		}
		s.log.Debug("Index ensured", "index", idx.Name(), "unique", idx.Unique, "backfilled", added)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sqlstore: %w", err)
	}
	return sqlDB.Close()
}

type loaded struct {
	row DocumentRow
	doc docstore.Document
}

// load returns candidate documents for f in insertion order. The caller still
// filters, because only an index-pinned filter narrows the set exactly.
func (s *Store) load(tx *gorm.DB, coll string, f docstore.Filter, opts docstore.FindOptions) ([]loaded, error) {
	indexes := s.indexesFor(coll)
	q := tx.Where("collection = ?", coll)

	if idx, key, ok := docstore.BestIndex(f, indexes); ok {
		sub := tx.Model(&KeyRow{}).Select("document_id").
			Where("collection = ? AND index_name = ? AND index_key = ?", coll, idx.Name(), key)
		q = q.Where("id IN (?)", sub)
	} else if idx, ok := docstore.SortIndex(opts, indexes); ok && len(f) == 0 && opts.Limit > 0 && opts.Sort[0].Order == docstore.Descending {
		// Max lookups. Only valid when every document carries a numeric
		// value for the field; otherwise fall through to a full scan.
		var nonNumeric int64
		if err := tx.Model(&KeyRow{}).
			Where("collection = ? AND index_name = ? AND num IS NULL", coll, idx.Name()).
			Count(&nonNumeric).Error; err != nil {
			return nil, err
		}
		if nonNumeric == 0 {
			var ids []uint64
			if err := tx.Model(&KeyRow{}).
				Where("collection = ? AND index_name = ?", coll, idx.Name()).
				Order("num DESC").Limit(int(opts.Limit)).
				Pluck("document_id", &ids).Error; err != nil {
				return nil, err
			}
			if len(ids) == 0 {
				return nil, nil
			}
			q = q.Where("id IN ?", ids)
		}
	}

	var rows []DocumentRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]loaded, 0, len(rows))
	for _, r := range rows {
		doc, err := decodeBody(r.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded{row: r, doc: doc})
	}
	return out, nil
}

func keyRows(docID uint64, coll string, doc docstore.Document, indexes []docstore.Index) []KeyRow {
	rows := make([]KeyRow, 0, len(indexes))
	for _, idx := range indexes {
		rows = append(rows, keyRow(docID, coll, doc, idx))
	}
	return rows
}

func keyRow(docID uint64, coll string, doc docstore.Document, idx docstore.Index) KeyRow {
	key := docstore.IndexKey(doc, idx)
	row := KeyRow{DocumentID: docID, Collection: coll, IndexName: idx.Name(), Key: key}
	if n, ok := docstore.NumericKey(doc, idx); ok {
		row.Num = &n
	}
	if idx.Unique {
		u := idx.Name() + "\x1e" + key
		row.UniqueKey = &u
	}
	return row
}

func encodeBody(doc docstore.Document) (datatypes.JSON, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: encode document: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeBody(body datatypes.JSON) (docstore.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("sqlstore: decode document: %w", err)
	}
	return docstore.Normalize(m).(map[string]any), nil
}

func chunkIDs(ids []uint64) [][]uint64 {
	var out [][]uint64
	for len(ids) > 0 {
		n := min(len(ids), idChunk)
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
