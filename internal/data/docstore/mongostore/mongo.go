// Package mongostore implements docstore.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

type Config struct {
	URI      string
	Database string
	// OpTimeout bounds every single call; zero disables the per-call deadline.
	OpTimeout time.Duration
}

type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	opTimeout time.Duration
	log       *logger.Logger
}

var _ docstore.Store = (*Store)(nil)

// Open connects, pings the primary and returns a ready store.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("mongostore: missing URI")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("mongostore: missing database name")
	}
	log = log.With("store", "MongoStore", "database", cfg.Database)

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.OpTimeout > 0 {
		opts.SetTimeout(cfg.OpTimeout)
	}
	log.Info("Connecting to MongoDB...")
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, docstore.Unavailable("mongostore: ping", err)
	}
	log.Info("Connected to MongoDB")
	return &Store{
		client:    client,
		db:        client.Database(cfg.Database),
		opTimeout: cfg.OpTimeout,
		log:       log,
	}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Store) Insert(ctx context.Context, coll string, doc docstore.Document) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	body := bson.M{}
	for k, v := range doc {
		body[k] = v
	}
	_, err := s.db.Collection(coll).InsertOne(ctx, body)
	return mapError("insert "+coll, err)
}

func (s *Store) FindOne(ctx context.Context, coll string, f docstore.Filter) (docstore.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var raw bson.M
	err := s.db.Collection(coll).FindOne(ctx, toBSONFilter(f)).Decode(&raw)
	if err != nil {
		return nil, mapError("find_one "+coll, err)
	}
	return fromBSON(raw), nil
}

func (s *Store) Find(ctx context.Context, coll string, f docstore.Filter, opts docstore.FindOptions) ([]docstore.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	fo := options.Find()
	if len(opts.Sort) > 0 {
		sort := bson.D{}
		for _, k := range opts.Sort {
			sort = append(sort, bson.E{Key: k.Field, Value: int(k.Order)})
		}
		fo.SetSort(sort)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	cur, err := s.db.Collection(coll).Find(ctx, toBSONFilter(f), fo)
	if err != nil {
		return nil, mapError("find "+coll, err)
	}
	defer cur.Close(ctx)
	out := []docstore.Document{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("mongostore: decode %s: %w", coll, err)
		}
		out = append(out, fromBSON(raw))
	}
	if err := cur.Err(); err != nil {
		return nil, mapError("find "+coll, err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	n, err := s.db.Collection(coll).CountDocuments(ctx, toBSONFilter(f))
	if err != nil {
		return 0, mapError("count "+coll, err)
	}
	return n, nil
}

func (s *Store) UpdateOne(ctx context.Context, coll string, f docstore.Filter, u docstore.Update) (bool, error) {
	if u.IsEmpty() {
		n, err := s.Count(ctx, coll, f)
		return n > 0, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	update := bson.M{}
	if len(u.Set) > 0 {
		set := bson.M{}
		for k, v := range u.Set {
			set[k] = v
		}
		update["$set"] = set
	}
	if len(u.Unset) > 0 {
		unset := bson.M{}
		for _, k := range u.Unset {
			unset[k] = ""
		}
		update["$unset"] = unset
	}
	res, err := s.db.Collection(coll).UpdateOne(ctx, toBSONFilter(f), update)
	if err != nil {
		return false, mapError("update "+coll, err)
	}
	return res.MatchedCount > 0, nil
}

func (s *Store) DeleteMany(ctx context.Context, coll string, f docstore.Filter) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.db.Collection(coll).DeleteMany(ctx, toBSONFilter(f))
	if err != nil {
		return 0, mapError("delete "+coll, err)
	}
	return res.DeletedCount, nil
}

func (s *Store) EnsureIndexes(ctx context.Context, indexes []docstore.Index) error {
	byColl := map[string][]mongo.IndexModel{}
	for _, idx := range indexes {
		keys := bson.D{}
		for _, f := range idx.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		byColl[idx.Collection] = append(byColl[idx.Collection], mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetName(idx.Name()).SetUnique(idx.Unique),
		})
	}
	for coll, models := range byColl {
		ictx, cancel := s.withTimeout(ctx)
		names, err := s.db.Collection(coll).Indexes().CreateMany(ictx, models)
		cancel()
		if err != nil {
			return mapError("ensure_indexes "+coll, err)
		}
		s.log.Debug("Indexes ensured", "collection", coll, "indexes", names)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// DropDatabase removes every collection; used by integration tests.
func (s *Store) DropDatabase(ctx context.Context) error {
	return s.db.Drop(ctx)
}

func toBSONFilter(f docstore.Filter) bson.M {
	out := bson.M{}
	for k, v := range f {
		if in, ok := v.(docstore.InSet); ok {
			vals := bson.A{}
			vals = append(vals, in.Values...)
			out[k] = bson.M{"$in": vals}
			continue
		}
		out[k] = v
	}
	return out
}

// fromBSON drops the driver-assigned _id and converts driver types into
// plain documents.
func fromBSON(raw bson.M) docstore.Document {
	delete(raw, "_id")
	return plain(raw).(map[string]any)
}

func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = plain(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = plain(x)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = plain(x)
		}
		return out
	case primitive.DateTime:
		return float64(t.Time().UnixMicro()) / 1e6
	case primitive.Decimal128:
		return t.String()
	default:
		return docstore.Normalize(v)
	}
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return docstore.ErrNoDocument
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %s: %v", docstore.ErrDuplicateKey, op, err)
	case mongo.IsTimeout(err), mongo.IsNetworkError(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mongo.ErrClientDisconnected):
		return docstore.Unavailable("mongostore: "+op, err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("RetryableWriteError") {
		return docstore.Unavailable("mongostore: "+op, err)
	}
	return fmt.Errorf("mongostore: %s: %w", op, err)
}
