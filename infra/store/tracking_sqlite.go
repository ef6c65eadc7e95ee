package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/model"
)

// PositionHistory persists position fixes in SQLite so the track of a
// mission survives restarts. Fixes are append-only; rowid order is the
// insertion order the tracker guarantees to be chronological per mission.
type PositionHistory struct {
	db *sql.DB
}

// NewPositionHistory returns the position history backed by d.
func NewPositionHistory(d *DB) *PositionHistory { return &PositionHistory{db: d.db} }

// Append stores one fix.
func (s *PositionHistory) Append(ctx context.Context, fix model.PositionFix) error {
	doc, err := json.Marshal(fix)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO positions (mission_id, ts, doc) VALUES (?, ?, ?)`,
		fix.MissionID, fix.Timestamp.UnixMilli(), string(doc))
	if err != nil {
		return fmt.Errorf("append position for %s: %w", fix.MissionID, err)
	}
	return nil
}

// Query returns the fixes of a mission between from and to inclusive, newest
// first, at most limit entries. Zero time values disable the bound.
func (s *PositionHistory) Query(ctx context.Context, missionID string, from, to time.Time, limit int) ([]model.PositionFix, error) {
	q := `SELECT doc FROM positions WHERE mission_id = ?`
	args := []any{missionID}
	if !from.IsZero() {
		q += ` AND ts >= ?`
		args = append(args, from.UnixMilli())
	}
	if !to.IsZero() {
		q += ` AND ts <= ?`
		args = append(args, to.UnixMilli())
	}
	q += ` ORDER BY rowid DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := []model.PositionFix{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var f model.PositionFix
		if err := json.Unmarshal([]byte(doc), &f); err != nil {
			continue
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// Last returns the most recently appended fix of a mission.
func (s *PositionHistory) Last(ctx context.Context, missionID string) (model.PositionFix, bool, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM positions WHERE mission_id = ? ORDER BY rowid DESC LIMIT 1`, missionID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PositionFix{}, false, nil
	}
	if err != nil {
		return model.PositionFix{}, false, err
	}
	var f model.PositionFix
	if err := json.Unmarshal([]byte(doc), &f); err != nil {
		return model.PositionFix{}, false, err
	}
	return f, true, nil
}

// GeofenceEventLog persists derived zone transition events next to the
// missions they belong to.
type GeofenceEventLog struct {
	db *sql.DB
}

// NewGeofenceEventLog returns the event log backed by d.
func NewGeofenceEventLog(d *DB) *GeofenceEventLog { return &GeofenceEventLog{db: d.db} }

// Append stores one event.
func (s *GeofenceEventLog) Append(ctx context.Context, ev events.GeofenceEvent) error {
	doc, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO geofence_events (mission_id, ts, doc) VALUES (?, ?, ?)`,
		ev.MissionID, ev.Timestamp.UnixMilli(), string(doc))
	if err != nil {
		return fmt.Errorf("append geofence event for %s: %w", ev.MissionID, err)
	}
	return nil
}

// List returns the events of a mission in emission order.
func (s *GeofenceEventLog) List(ctx context.Context, missionID string) ([]events.GeofenceEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM geofence_events WHERE mission_id = ? ORDER BY rowid`, missionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	res := []events.GeofenceEvent{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var ev events.GeofenceEvent
		if err := json.Unmarshal([]byte(doc), &ev); err != nil {
			continue
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}
