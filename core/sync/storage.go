package sync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	gosync "sync"
)

// Storage persists queued mutations on the client. Append must be durable
// before it returns so a crash between enqueue and drain loses nothing.
type Storage interface {
	Append(ctx context.Context, m Mutation) error
	// Pending returns all queued mutations in Seq order.
	Pending(ctx context.Context) ([]Mutation, error)
	// Update rewrites the stored mutation, used for retry accounting.
	Update(ctx context.Context, m Mutation) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// MemoryStorage is a volatile Storage used by tests.
type MemoryStorage struct {
	mu   gosync.Mutex
	data map[string]Mutation
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: map[string]Mutation{}}
}

func (s *MemoryStorage) Append(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[m.ID]; ok {
		return fmt.Errorf("mutation %s already stored", m.ID)
	}
	s.data[m.ID] = m
	return nil
}

func (s *MemoryStorage) Pending(ctx context.Context) ([]Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Mutation, 0, len(s.data))
	for _, m := range s.data {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (s *MemoryStorage) Update(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[m.ID]; !ok {
		return fmt.Errorf("mutation %s not found", m.ID)
	}
	s.data[m.ID] = m
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.data, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Close() error { return nil }

// FileStorage keeps the queue in a JSONL file, one mutation per line. Every
// change rewrites the snapshot to a temp file, fsyncs and renames it over the
// old one, so the on-disk queue is always a consistent snapshot.
type FileStorage struct {
	path string
	mu   gosync.Mutex
	data map[string]Mutation
}

// NewFileStorage opens or creates the queue file at path and loads its
// contents.
func NewFileStorage(path string) (*FileStorage, error) {
	s := &FileStorage{path: path, data: map[string]Mutation{}}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var m Mutation
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			// A torn trailing line from a crash is dropped.
			continue
		}
		s.data[m.ID] = m
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStorage) Append(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[m.ID]; ok {
		return fmt.Errorf("mutation %s already stored", m.ID)
	}
	s.data[m.ID] = m
	return s.flushLocked()
}

func (s *FileStorage) Pending(ctx context.Context) ([]Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]Mutation, 0, len(s.data))
	for _, m := range s.data {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (s *FileStorage) Update(ctx context.Context, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[m.ID]; !ok {
		return fmt.Errorf("mutation %s not found", m.ID)
	}
	s.data[m.ID] = m
	return s.flushLocked()
}

func (s *FileStorage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return nil
	}
	delete(s.data, id)
	return s.flushLocked()
}

func (s *FileStorage) Close() error { return nil }

// flushLocked writes the snapshot atomically. Callers must hold s.mu.
func (s *FileStorage) flushLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".queue-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc := json.NewEncoder(tmp)
	muts := make([]Mutation, 0, len(s.data))
	for _, m := range s.data {
		muts = append(muts, m)
	}
	sort.Slice(muts, func(i, j int) bool { return muts[i].Seq < muts[j].Seq })
	for _, m := range muts {
		if err := enc.Encode(m); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
