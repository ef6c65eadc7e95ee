package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/rt-technologie/freightd/core/sync"
)

// SyncStorage is a SQLite-backed outbox for the offline sync queue. Unlike
// the JSONL snapshot it scales to large backlogs without rewriting the whole
// file on every change.
type SyncStorage struct {
	db *sql.DB
}

// NewSyncStorage opens or creates the outbox database at path.
func NewSyncStorage(path string) (*SyncStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS outbox (
        id TEXT PRIMARY KEY,
        seq INTEGER NOT NULL,
        doc TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS outbox_seq ON outbox(seq);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init outbox schema: %w", err)
	}
	return &SyncStorage{db: db}, nil
}

func (s *SyncStorage) Append(ctx context.Context, m sync.Mutation) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO outbox (id, seq, doc) VALUES (?, ?, ?)`,
		m.ID, m.Seq, string(doc)); err != nil {
		return fmt.Errorf("append mutation %s: %w", m.ID, err)
	}
	return nil
}

func (s *SyncStorage) Pending(ctx context.Context) ([]sync.Mutation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM outbox ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []sync.Mutation
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var m sync.Mutation
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			continue
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (s *SyncStorage) Update(ctx context.Context, m sync.Mutation) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE outbox SET doc = ? WHERE id = ?`, string(doc), m.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("mutation %s not found", m.ID)
	}
	return nil
}

func (s *SyncStorage) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, id)
	return err
}

func (s *SyncStorage) Close() error { return s.db.Close() }
