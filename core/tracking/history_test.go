package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/rt-technologie/freightd/core/model"
)

func TestMemoryHistoryQuery(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		fix := model.PositionFix{MissionID: "m1", Latitude: float64(i), Timestamp: base.Add(time.Duration(i) * time.Minute)}
		if err := h.Append(ctx, fix); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := h.Query(ctx, "m1", time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 5 || all[0].Latitude != 4 {
		t.Fatalf("expected newest first, got %+v", all)
	}

	limited, err := h.Query(ctx, "m1", time.Time{}, time.Time{}, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected 2 entries, got %d %v", len(limited), err)
	}

	windowed, err := h.Query(ctx, "m1", base.Add(time.Minute), base.Add(3*time.Minute), 0)
	if err != nil || len(windowed) != 3 {
		t.Fatalf("expected 3 in window, got %d %v", len(windowed), err)
	}

	last, ok, err := h.Last(ctx, "m1")
	if err != nil || !ok || last.Latitude != 4 {
		t.Fatalf("unexpected last %+v %v %v", last, ok, err)
	}
	if _, ok, _ := h.Last(ctx, "none"); ok {
		t.Fatal("expected no last fix for unknown mission")
	}
}
