package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rt-technologie/freightd/core/dispatch"
	"github.com/rt-technologie/freightd/core/mission"
	"github.com/rt-technologie/freightd/core/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "freightd.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleMission(id string) model.Mission {
	return model.Mission{
		ID:      id,
		Status:  model.StatusPending,
		Version: 1,
		Policy:  model.DispatchPolicy{Chain: []string{"c1", "c2"}, SLAAccept: 2 * time.Hour},
	}
}

func TestMissionStoreRoundtrip(t *testing.T) {
	s := NewMissionStore(openTestDB(t))
	ctx := context.Background()

	if err := s.Put(ctx, sampleMission("m1"), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	m, err := s.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.ID != "m1" || m.Version != 1 || len(m.Policy.Chain) != 2 {
		t.Fatalf("unexpected mission %+v", m)
	}
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, mission.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestMissionStoreCreateConflict(t *testing.T) {
	s := NewMissionStore(openTestDB(t))
	ctx := context.Background()
	if err := s.Put(ctx, sampleMission("m1"), 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Put(ctx, sampleMission("m1"), 0); !errors.Is(err, mission.ErrConflict) {
		t.Fatalf("expected ErrConflict got %v", err)
	}
}

func TestMissionStoreVersionCAS(t *testing.T) {
	s := NewMissionStore(openTestDB(t))
	ctx := context.Background()
	if err := s.Put(ctx, sampleMission("m1"), 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	m := sampleMission("m1")
	m.Version = 2
	m.Status = model.StatusEnRouteToLoading
	if err := s.Put(ctx, m, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	// A writer that read version 1 loses the race.
	if err := s.Put(ctx, m, 1); !errors.Is(err, mission.ErrConflict) {
		t.Fatalf("expected ErrConflict got %v", err)
	}
	got, _ := s.Get(ctx, "m1")
	if got.Version != 2 || got.Status != model.StatusEnRouteToLoading {
		t.Fatalf("unexpected mission %+v", got)
	}
}

func TestMissionStoreUpdateMissing(t *testing.T) {
	s := NewMissionStore(openTestDB(t))
	m := sampleMission("ghost")
	m.Version = 2
	if err := s.Put(context.Background(), m, 1); !errors.Is(err, mission.ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestMissionStoreList(t *testing.T) {
	s := NewMissionStore(openTestDB(t))
	ctx := context.Background()
	for _, id := range []string{"b", "a"} {
		if err := s.Put(ctx, sampleMission(id), 0); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].ID != "a" {
		t.Fatalf("expected id order, got %+v", all)
	}
}

func sampleOffer(id, missionID string, idx int, expires time.Time) model.DispatchOffer {
	return model.DispatchOffer{
		ID:          id,
		MissionID:   missionID,
		CandidateID: "carrier-" + id,
		ChainIndex:  idx,
		OfferedAt:   expires.Add(-time.Hour),
		ExpiresAt:   expires,
		Outcome:     model.OfferPending,
	}
}

func TestOfferStoreSinglePending(t *testing.T) {
	s := NewOfferStore(openTestDB(t))
	ctx := context.Background()
	exp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, sampleOffer("o1", "m1", 0, exp)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, sampleOffer("o2", "m1", 1, exp)); !errors.Is(err, dispatch.ErrOfferExists) {
		t.Fatalf("expected ErrOfferExists got %v", err)
	}
	off, ok, err := s.Pending(ctx, "m1")
	if err != nil || !ok || off.ID != "o1" {
		t.Fatalf("pending: %+v %v %v", off, ok, err)
	}
}

func TestOfferStoreResolveOnce(t *testing.T) {
	s := NewOfferStore(openTestDB(t))
	ctx := context.Background()
	exp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, sampleOffer("o1", "m1", 0, exp)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.Resolve(ctx, "o1", model.OfferRefused, exp); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.Resolve(ctx, "o1", model.OfferAccepted, exp); !errors.Is(err, dispatch.ErrOfferResolved) {
		t.Fatalf("expected ErrOfferResolved got %v", err)
	}
	if _, ok, _ := s.Pending(ctx, "m1"); ok {
		t.Fatal("resolved offer must not be pending")
	}
	// The next candidate can be solicited.
	if err := s.Create(ctx, sampleOffer("o2", "m1", 1, exp)); err != nil {
		t.Fatalf("next offer: %v", err)
	}
	all, err := s.List(ctx, "m1")
	if err != nil || len(all) != 2 {
		t.Fatalf("list: %d %v", len(all), err)
	}
	if all[0].Outcome != model.OfferRefused || all[1].ChainIndex != 1 {
		t.Fatalf("unexpected history %+v", all)
	}
}

func TestOfferStorePendingAllByDeadline(t *testing.T) {
	s := NewOfferStore(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, sampleOffer("late", "m1", 0, base.Add(2*time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, sampleOffer("soon", "m2", 0, base)); err != nil {
		t.Fatalf("create: %v", err)
	}
	pend, err := s.PendingAll(ctx)
	if err != nil {
		t.Fatalf("pending all: %v", err)
	}
	if len(pend) != 2 || pend[0].ID != "soon" {
		t.Fatalf("expected soonest first, got %+v", pend)
	}
}

func TestOfferStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "freightd.db")
	ctx := context.Background()
	exp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := NewOfferStore(db).Create(ctx, sampleOffer("o1", "m1", 0, exp)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = db2.Close() }()
	off, ok, err := NewOfferStore(db2).Pending(ctx, "m1")
	if err != nil || !ok || off.ID != "o1" {
		t.Fatalf("offer lost across restart: %+v %v %v", off, ok, err)
	}
}
