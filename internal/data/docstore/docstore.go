package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateKey reports a write rejected by a unique index.
	ErrDuplicateKey = errors.New("docstore: duplicate key")
	// ErrNoDocument reports a FindOne without a match.
	ErrNoDocument = errors.New("docstore: no document")
	// ErrUnavailable wraps timeouts and connection failures; callers may retry.
	ErrUnavailable = errors.New("docstore: unavailable")
)

// Document is a schemaless record. Values are nil, bool, string, int64,
// float64, []any or map[string]any once returned by a Store.
type Document = map[string]any

// Filter matches documents by field equality. Keys may be dotted paths.
// A value built with In matches any of its members.
type Filter map[string]any

// InSet is a membership predicate inside a Filter.
type InSet struct {
	Values []any
}

func In(values ...any) InSet {
	return InSet{Values: values}
}

type Order int

const (
	Ascending  Order = 1
	Descending Order = -1
)

type SortKey struct {
	Field string
	Order Order
}

// FindOptions orders and truncates a Find. A zero Limit means unlimited.
type FindOptions struct {
	Sort  []SortKey
	Limit int64
}

// Update is a single-document modification. Set keys may be dotted paths;
// intermediate documents are created as needed.
type Update struct {
	Set   map[string]any
	Unset []string
}

func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0
}

// Index declares a (possibly compound) index on a collection.
type Index struct {
	Collection string
	Fields     []string
	Unique     bool
}

// Name is the stable index name, e.g. "trial_study_id_number".
func (i Index) Name() string {
	return i.Collection + "_" + strings.Join(i.Fields, "_")
}

// Store is the thin CRUD/query surface the storage engine runs on. It does
// not offer multi-document transactions; single-document writes are atomic.
type Store interface {
	Insert(ctx context.Context, collection string, doc Document) error
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)
	Count(ctx context.Context, collection string, filter Filter) (int64, error)
	// UpdateOne applies u to the first document matching filter and reports
	// whether a document matched.
	UpdateOne(ctx context.Context, collection string, filter Filter, u Update) (bool, error)
	DeleteMany(ctx context.Context, collection string, filter Filter) (int64, error)
	EnsureIndexes(ctx context.Context, indexes []Index) error
	Close(ctx context.Context) error
}

// FindSortedLimited is the sorted-limited find used for "current maximum" reads.
func FindSortedLimited(ctx context.Context, s Store, collection string, filter Filter, field string, order Order, limit int64) ([]Document, error) {
	return s.Find(ctx, collection, filter, FindOptions{
		Sort:  []SortKey{{Field: field, Order: order}},
		Limit: limit,
	})
}

// Unavailable tags err as a retryable store failure.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
