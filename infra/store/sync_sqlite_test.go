package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rt-technologie/freightd/core/sync"
)

func sampleMutation(id string, seq uint64) sync.Mutation {
	return sync.Mutation{
		ID:        id,
		Seq:       seq,
		Type:      sync.MutationGPS,
		Data:      json.RawMessage(`{"lat":48.85}`),
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestSyncStorageRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.db")
	ctx := context.Background()

	s, err := NewSyncStorage(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, sampleMutation("b", 2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, sampleMutation("a", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, sampleMutation("a", 1)); err == nil {
		t.Fatal("expected duplicate id error")
	}

	pend, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pend) != 2 || pend[0].ID != "a" || pend[1].ID != "b" {
		t.Fatalf("expected seq order, got %+v", pend)
	}

	m := pend[0]
	m.RetryCount = 1
	if err := s.Update(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The outbox survives a restart.
	s2, err := NewSyncStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	pend, err = s2.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pend) != 1 || pend[0].ID != "a" || pend[0].RetryCount != 1 {
		t.Fatalf("unexpected outbox after restart: %+v", pend)
	}
}

func TestSyncStorageUpdateMissing(t *testing.T) {
	s, err := NewSyncStorage(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if err := s.Update(context.Background(), sampleMutation("ghost", 1)); err == nil {
		t.Fatal("expected not found error")
	}
}
