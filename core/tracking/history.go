package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/model"
)

// MemoryHistory is an in-memory HistoryStore.
type MemoryHistory struct {
	mu   sync.RWMutex
	data map[string][]model.PositionFix
}

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{data: map[string][]model.PositionFix{}}
}

func (s *MemoryHistory) Append(ctx context.Context, fix model.PositionFix) error {
	s.mu.Lock()
	s.data[fix.MissionID] = append(s.data[fix.MissionID], fix)
	s.mu.Unlock()
	return nil
}

func (s *MemoryHistory) Query(ctx context.Context, missionID string, from, to time.Time, limit int) ([]model.PositionFix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fixes := s.data[missionID]
	res := make([]model.PositionFix, 0, len(fixes))
	for i := len(fixes) - 1; i >= 0; i-- {
		f := fixes[i]
		if !from.IsZero() && f.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && f.Timestamp.After(to) {
			continue
		}
		res = append(res, f)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

func (s *MemoryHistory) Last(ctx context.Context, missionID string) (model.PositionFix, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fixes := s.data[missionID]
	if len(fixes) == 0 {
		return model.PositionFix{}, false, nil
	}
	return fixes[len(fixes)-1], true, nil
}

// MemoryEventLog is an in-memory EventStore.
type MemoryEventLog struct {
	mu   sync.RWMutex
	data map[string][]events.GeofenceEvent
}

// NewMemoryEventLog creates an empty MemoryEventLog.
func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{data: map[string][]events.GeofenceEvent{}}
}

func (s *MemoryEventLog) Append(ctx context.Context, ev events.GeofenceEvent) error {
	s.mu.Lock()
	s.data[ev.MissionID] = append(s.data[ev.MissionID], ev)
	s.mu.Unlock()
	return nil
}

func (s *MemoryEventLog) List(ctx context.Context, missionID string) ([]events.GeofenceEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]events.GeofenceEvent(nil), s.data[missionID]...), nil
}
