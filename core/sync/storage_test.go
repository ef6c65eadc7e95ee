package sync

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sampleMutation(id string, seq uint64) Mutation {
	return Mutation{
		ID:        id,
		Seq:       seq,
		Type:      MutationGPS,
		Data:      json.RawMessage(`{"lat":48.85}`),
		Timestamp: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestFileStorageRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx := context.Background()

	s, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, sampleMutation("b", 2)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, sampleMutation("a", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	// A fresh instance over the same file sees the queue in Seq order.
	s2, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pend, err := s2.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pend) != 2 || pend[0].ID != "a" || pend[1].ID != "b" {
		t.Fatalf("unexpected pending %+v", pend)
	}

	if err := s2.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	s3, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pend, _ = s3.Pending(ctx)
	if len(pend) != 1 || pend[0].ID != "b" {
		t.Fatalf("delete not persisted: %+v", pend)
	}
}

func TestFileStorageUpdatePersistsRetryCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx := context.Background()
	s, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	m := sampleMutation("a", 1)
	if err := s.Append(ctx, m); err != nil {
		t.Fatalf("append: %v", err)
	}
	m.RetryCount = 2
	if err := s.Update(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}

	s2, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pend, _ := s2.Pending(ctx)
	if len(pend) != 1 || pend[0].RetryCount != 2 {
		t.Fatalf("retry count lost: %+v", pend)
	}
}

func TestFileStorageDropsTornTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.jsonl")
	ctx := context.Background()
	s, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(ctx, sampleMutation("a", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Simulate a crash mid-write: a truncated JSON line at the end.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open for append: %v", err)
	}
	if _, err := f.WriteString(`{"id":"torn","seq":2,"ty`); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()

	s2, err := NewFileStorage(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pend, err := s2.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pend) != 1 || pend[0].ID != "a" {
		t.Fatalf("torn line must be dropped, got %+v", pend)
	}
}

func TestMemoryStorageRejectsDuplicateAppend(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	if err := s.Append(ctx, sampleMutation("a", 1)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, sampleMutation("a", 1)); err == nil {
		t.Fatal("expected duplicate error")
	}
}
