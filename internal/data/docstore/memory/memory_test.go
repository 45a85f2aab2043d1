package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/data/docstore/docstoretest"
)

func TestStoreContract(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return New()
	})
}

func TestFaultInjection(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := docstore.Unavailable("test", errors.New("link down"))
	s.SetFault(func(op, coll string) error {
		if op == "insert" && coll == "study" {
			return boom
		}
		return nil
	})
	if err := s.Insert(ctx, "study", docstore.Document{"study_id": int64(0)}); !errors.Is(err, docstore.ErrUnavailable) {
		t.Fatalf("Insert with fault: want ErrUnavailable got=%v", err)
	}
	if err := s.Insert(ctx, "trial", docstore.Document{"trial_id": int64(0)}); err != nil {
		t.Fatalf("Insert other collection: %v", err)
	}
	s.SetFault(nil)
	if err := s.Insert(ctx, "study", docstore.Document{"study_id": int64(0)}); err != nil {
		t.Fatalf("Insert after clearing fault: %v", err)
	}
	if got := s.Len("study"); got != 1 {
		t.Fatalf("Len: want=1 got=%d", got)
	}
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Count(ctx, "study", docstore.Filter{}); err == nil {
		t.Fatalf("Count with canceled context: want error")
	}
}
