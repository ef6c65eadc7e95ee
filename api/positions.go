package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/model"
	"github.com/rt-technologie/freightd/core/tracking"
)

type recordPositionRequest struct {
	MissionID  string   `json:"mission_id" validate:"required"`
	Latitude   float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64  `json:"longitude" validate:"gte=-180,lte=180"`
	AccuracyM  float64  `json:"accuracy_m" validate:"gte=0"`
	SpeedKMH   *float64 `json:"speed_kmh" validate:"omitempty,gte=0"`
	HeadingDeg *float64 `json:"heading_deg" validate:"omitempty,gte=0,lte=360"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
}

type recordPositionResponse struct {
	GeofenceEvents []events.GeofenceEvent `json:"geofence_events,omitempty"`
	ETA            *tracking.ETA          `json:"eta,omitempty"`
}

func (s *Server) handleRecordPosition(w http.ResponseWriter, r *http.Request) {
	var req recordPositionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	fix := model.PositionFix{
		MissionID:  req.MissionID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		AccuracyM:  req.AccuracyM,
		SpeedKMH:   req.SpeedKMH,
		HeadingDeg: req.HeadingDeg,
		Timestamp:  req.Timestamp,
	}
	evs, err := s.tracker.Record(r.Context(), fix)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if fix.SpeedKMH != nil {
		s.estimator.Observe(fix.MissionID, *fix.SpeedKMH)
	}

	resp := recordPositionResponse{GeofenceEvents: evs}
	if m, err := s.machine.Get(r.Context(), fix.MissionID); err == nil {
		if dest, ok := m.Destination(); ok {
			eta := s.estimator.Estimate(r.Context(), fix.MissionID, fix.Coords(), dest.Coordinates, fix.SpeedKMH)
			resp.ETA = &eta
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleETA(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	m, err := s.machine.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dest, ok := m.Destination()
	if !ok {
		writeError(w, http.StatusConflict, errNoDestination(m))
		return
	}

	from, speed, err := s.currentPosition(r, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	eta := s.estimator.Estimate(r.Context(), id, from, dest.Coordinates, speed)
	writeJSON(w, http.StatusOK, eta)
}

// currentPosition resolves the origin of an ETA query: explicit coordinates
// in the query string win over the last recorded fix. Both the documented
// currentLat/currentLon spelling and the snake_case one are accepted.
func (s *Server) currentPosition(r *http.Request, missionID string) (model.Coordinates, *float64, error) {
	q := r.URL.Query()
	latKey, lonKey := "currentLat", "currentLon"
	latStr, lonStr := q.Get(latKey), q.Get(lonKey)
	if latStr == "" && lonStr == "" {
		latKey, lonKey = "current_lat", "current_lon"
		latStr, lonStr = q.Get(latKey), q.Get(lonKey)
	}
	if latStr != "" || lonStr != "" {
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return model.Coordinates{}, nil, errBadCoordinate(latKey, latStr)
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return model.Coordinates{}, nil, errBadCoordinate(lonKey, lonStr)
		}
		return model.Coordinates{Latitude: lat, Longitude: lon}, nil, nil
	}
	fix, ok, err := s.history.Last(r.Context(), missionID)
	if err != nil {
		return model.Coordinates{}, nil, err
	}
	if !ok {
		return model.Coordinates{}, nil, errNoPosition(missionID)
	}
	return fix.Coords(), fix.SpeedKMH, nil
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.machine.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	q := r.URL.Query()
	var from, to time.Time
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errBadTimestamp("from", v))
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, errBadTimestamp("to", v))
			return
		}
		to = t
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errBadLimit(v))
			return
		}
		limit = n
	}
	fixes, err := s.history.Query(r.Context(), id, from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, fixes)
}

func (s *Server) handleGeofenceEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.machine.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	evs, err := s.eventLog.List(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}
