package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rt-technologie/freightd/core/dispatch"
	"github.com/rt-technologie/freightd/core/mission"
	"github.com/rt-technologie/freightd/core/model"
)

// DB is a SQLite database holding missions, dispatch offers, position fixes
// and geofence events. The stores share the handle; Close it once, at
// shutdown.
type DB struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS missions (
        id TEXT PRIMARY KEY,
        version INTEGER NOT NULL,
        status TEXT NOT NULL,
        doc TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS offers (
        id TEXT PRIMARY KEY,
        mission_id TEXT NOT NULL,
        chain_index INTEGER NOT NULL,
        outcome TEXT NOT NULL,
        expires_at INTEGER NOT NULL,
        doc TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS offers_mission ON offers(mission_id, chain_index);
    CREATE TABLE IF NOT EXISTS positions (
        mission_id TEXT NOT NULL,
        ts INTEGER NOT NULL,
        doc TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS positions_mission ON positions(mission_id, ts);
    CREATE TABLE IF NOT EXISTS geofence_events (
        mission_id TEXT NOT NULL,
        ts INTEGER NOT NULL,
        doc TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS geofence_events_mission ON geofence_events(mission_id, ts);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// MissionStore persists missions in SQLite with the version compare-and-swap
// contract of mission.Store.
type MissionStore struct {
	db *sql.DB
}

// NewMissionStore returns the mission store backed by d.
func NewMissionStore(d *DB) *MissionStore { return &MissionStore{db: d.db} }

// Get returns the mission with the given id.
func (s *MissionStore) Get(ctx context.Context, id string) (model.Mission, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM missions WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Mission{}, fmt.Errorf("%w: %s", mission.ErrNotFound, id)
	}
	if err != nil {
		return model.Mission{}, err
	}
	var m model.Mission
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return model.Mission{}, fmt.Errorf("decode mission %s: %w", id, err)
	}
	return m, nil
}

// Put persists the mission only when its stored version still equals
// expectedVersion. Creation uses expectedVersion 0.
func (s *MissionStore) Put(ctx context.Context, m model.Mission, expectedVersion int64) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if expectedVersion == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO missions (id, version, status, doc) VALUES (?, ?, ?, ?)`,
			m.ID, m.Version, m.Status.String(), string(doc))
		if err != nil {
			return fmt.Errorf("%w: mission %s already exists", mission.ErrConflict, m.ID)
		}
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET version = ?, status = ?, doc = ? WHERE id = ? AND version = ?`,
		m.Version, m.Status.String(), string(doc), m.ID, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, gerr := s.Get(ctx, m.ID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("%w: mission %s stale at expected version %d", mission.ErrConflict, m.ID, expectedVersion)
	}
	return nil
}

// List returns all missions ordered by id.
func (s *MissionStore) List(ctx context.Context) ([]model.Mission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM missions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Mission
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var m model.Mission
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			continue
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// OfferStore persists dispatch offers in SQLite so expiry timers survive
// restarts.
type OfferStore struct {
	db *sql.DB
}

// NewOfferStore returns the offer store backed by d.
func NewOfferStore(d *DB) *OfferStore { return &OfferStore{db: d.db} }

// Create persists a new pending offer, enforcing the single pending offer
// invariant per mission.
func (s *OfferStore) Create(ctx context.Context, offer model.DispatchOffer) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM offers WHERE mission_id = ? AND outcome = 'pending'`,
		offer.MissionID).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: mission %s", dispatch.ErrOfferExists, offer.MissionID)
	}
	doc, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO offers (id, mission_id, chain_index, outcome, expires_at, doc) VALUES (?, ?, ?, ?, ?, ?)`,
		offer.ID, offer.MissionID, offer.ChainIndex, offer.Outcome.String(), offer.ExpiresAt.UnixMilli(), string(doc)); err != nil {
		return err
	}
	return tx.Commit()
}

// Pending returns the pending offer of a mission, if any.
func (s *OfferStore) Pending(ctx context.Context, missionID string) (model.DispatchOffer, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM offers WHERE mission_id = ? AND outcome = 'pending'`, missionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DispatchOffer{}, false, nil
	}
	if err != nil {
		return model.DispatchOffer{}, false, err
	}
	var o model.DispatchOffer
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return model.DispatchOffer{}, false, err
	}
	return o, true, nil
}

// Resolve moves a pending offer to a final outcome.
func (s *OfferStore) Resolve(ctx context.Context, offerID string, outcome model.OfferOutcome, at time.Time) error {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM offers WHERE id = ?`, offerID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("offer %s not found", offerID)
	}
	if err != nil {
		return err
	}
	var o model.DispatchOffer
	if err := json.Unmarshal([]byte(doc), &o); err != nil {
		return err
	}
	if !o.Pending() {
		return fmt.Errorf("%w: offer %s is %s", dispatch.ErrOfferResolved, offerID, o.Outcome)
	}
	o.Outcome = outcome
	o.ResolvedAt = at
	next, err := json.Marshal(o)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE offers SET outcome = ?, doc = ? WHERE id = ? AND outcome = 'pending'`,
		outcome.String(), string(next), offerID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: offer %s", dispatch.ErrOfferResolved, offerID)
	}
	return nil
}

// List returns all offers of a mission in chain order.
func (s *OfferStore) List(ctx context.Context, missionID string) ([]model.DispatchOffer, error) {
	return s.query(ctx, `SELECT doc FROM offers WHERE mission_id = ? ORDER BY chain_index`, missionID)
}

// PendingAll returns every pending offer ordered by deadline.
func (s *OfferStore) PendingAll(ctx context.Context) ([]model.DispatchOffer, error) {
	return s.query(ctx, `SELECT doc FROM offers WHERE outcome = 'pending' ORDER BY expires_at`)
}

// Close is a no-op; the shared DB owns the connection.
func (s *OfferStore) Close() error { return nil }

func (s *OfferStore) query(ctx context.Context, query string, args ...any) ([]model.DispatchOffer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.DispatchOffer
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var o model.DispatchOffer
		if err := json.Unmarshal([]byte(doc), &o); err != nil {
			continue
		}
		res = append(res, o)
	}
	return res, rows.Err()
}
