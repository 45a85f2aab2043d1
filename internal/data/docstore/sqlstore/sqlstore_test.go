package sqlstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/data/docstore/docstoretest"
	"github.com/yungbote/trialstore/internal/platform/logger"
)

// openSQLite skips when the sqlite driver is unusable (CGO_ENABLED=0).
func openSQLite(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "trialstore.db")
	s, err := Open(Config{Driver: DriverSQLite, DSN: dsn}, logger.Nop())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func openPostgres(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set TEST_POSTGRES_DSN to run postgres document store tests")
	}
	s, err := Open(Config{Driver: DriverPostgres, DSN: dsn}, logger.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.DB().Exec(`TRUNCATE TABLE document, document_key RESTART IDENTITY`).Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestSQLiteContract(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return openSQLite(t)
	})
}

func TestPostgresContract(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return openPostgres(t)
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle", DSN: "x"}, logger.Nop()); err == nil {
		t.Fatalf("Open(oracle): want error")
	}
	if _, err := Open(Config{Driver: DriverSQLite}, logger.Nop()); err == nil {
		t.Fatalf("Open without DSN: want error")
	}
}

func TestNewRejectsNilDB(t *testing.T) {
	if _, err := New(nil, Config{}, logger.Nop()); err == nil {
		t.Fatalf("New(nil): want error")
	}
}

func TestChunkIDs(t *testing.T) {
	ids := make([]uint64, idChunk*2+3)
	for i := range ids {
		ids[i] = uint64(i)
	}
	chunks := chunkIDs(ids)
	if len(chunks) != 3 {
		t.Fatalf("chunkIDs: want=3 chunks got=%d", len(chunks))
	}
	if len(chunks[2]) != 3 || chunks[2][0] != uint64(idChunk*2) {
		t.Fatalf("chunkIDs tail: got=%v", chunks[2])
	}
}

func TestIndexesSurviveAcrossHandles(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t)
	idx := []docstore.Index{{Collection: "study", Fields: []string{"study_name"}, Unique: true}}
	if err := s.EnsureIndexes(ctx, idx); err != nil {
		t.Fatalf("EnsureIndexes: %v", err)
	}
	if err := s.Insert(ctx, "study", docstore.Document{"study_id": int64(0), "study_name": "a"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// A second handle on the same database sees the unique keys of the first.
	other, err := New(s.DB(), Config{}, logger.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.EnsureIndexes(ctx, idx); err != nil {
		t.Fatalf("EnsureIndexes on second handle: %v", err)
	}
	err = other.Insert(ctx, "study", docstore.Document{"study_id": int64(1), "study_name": "a"})
	if err == nil {
		t.Fatalf("Insert duplicate through second handle: want error")
	}
}
