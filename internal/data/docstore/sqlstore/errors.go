package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/trialstore/internal/data/docstore"
)

// errStale reports a lost compare-and-set; UpdateOne retries on it.
var errStale = errors.New("sqlstore: document changed concurrently")

// mapError maps driver failures into the docstore sentinels.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, docstore.ErrDuplicateKey) || errors.Is(err, docstore.ErrUnavailable) || errors.Is(err, docstore.ErrNoDocument) {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s: %v", docstore.ErrDuplicateKey, op, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return docstore.Unavailable("sqlstore: "+op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case code == "23505":
			return fmt.Errorf("%w: %s: %v", docstore.ErrDuplicateKey, op, err) // unique_violation
		case code == "40001", code == "40P01", code == "55P03", code == "57014":
			return docstore.Unavailable("sqlstore: "+op, err) // serialization/deadlock/lock/cancel
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"):
			return docstore.Unavailable("sqlstore: "+op, err) // connection exception/shutdown
		}
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "unique constraint failed"), strings.Contains(msg, "duplicate key"):
		return fmt.Errorf("%w: %s: %v", docstore.ErrDuplicateKey, op, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"):
		return docstore.Unavailable("sqlstore: "+op, err)
	default:
		return fmt.Errorf("sqlstore: %s: %w", op, err)
	}
}
