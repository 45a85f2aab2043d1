package engine

import (
	"context"
	"errors"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/storage"
)

// mapStoreError maps adapter failures into storage error codes. Errors that
// already carry a code pass through unchanged.
func mapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return err
	}
	switch {
	case errors.Is(err, docstore.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return storage.Wrap(storage.CodeTransient, op, err)
	case errors.Is(err, docstore.ErrNoDocument):
		return storage.Wrap(storage.CodeNotFound, op, err)
	case errors.Is(err, docstore.ErrDuplicateKey):
		return storage.Wrap(storage.CodeConflict, op, err)
	default:
		return storage.Wrap(storage.CodeInternal, op, err)
	}
}

func operationStatus(err error) string {
	if err == nil {
		return "success"
	}
	if code := storage.CodeOf(err); code != "" {
		return string(code)
	}
	return "failure"
}

func notFound(op, format string, args ...any) error {
	return storage.Errorf(storage.CodeNotFound, op, format, args...)
}

func invalidArgument(op, format string, args ...any) error {
	return storage.Errorf(storage.CodeInvalidArgument, op, format, args...)
}

func trialFinished(op string, trialID int64, state any) error {
	return storage.Errorf(storage.CodeTrialFinished, op, "trial %d is already finished (%v)", trialID, state)
}
