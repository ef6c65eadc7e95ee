package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rt-technologie/freightd/core/dispatch"
	"github.com/rt-technologie/freightd/core/events"
	"github.com/rt-technologie/freightd/core/mission"
	"github.com/rt-technologie/freightd/core/model"
	"github.com/rt-technologie/freightd/core/tracking"
	"github.com/rt-technologie/freightd/infra/logger"
	"github.com/rt-technologie/freightd/internal/eventbus"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := mission.NewMemoryStore()
	machine, err := mission.NewMachine(store, eventbus.New(), logger.NopLogger{})
	if err != nil {
		t.Fatalf("machine: %v", err)
	}
	escalator := dispatch.EscalatorFunc(func(context.Context, model.Mission) (string, error) {
		return "affret-ia", nil
	})
	engine, err := dispatch.NewEngine(machine, dispatch.NewMemoryOfferStore(), escalator, nil, nil, nil, logger.NopLogger{}, dispatch.Config{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	history := tracking.NewMemoryHistory()
	eventLog := tracking.NewMemoryEventLog()
	tracker, err := tracking.NewTracker(machine, history, eventLog, eventbus.NewTyped[events.GeofenceEvent](), logger.NopLogger{}, 30*time.Second)
	if err != nil {
		t.Fatalf("tracker: %v", err)
	}
	estimator := tracking.NewEstimator(tracking.EstimatorConfig{}, nil)

	srv, err := NewServer(machine, engine, tracker, estimator, history, eventLog, store, logger.NopLogger{})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, method, url string, body string) (int, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

const missionBody = `{
	"id": "m1",
	"reference": "REF-001",
	"shipper_id": "shipper-9",
	"loading_point": {"latitude": 48.8566, "longitude": 2.3522, "name": "Paris depot", "radius_m": 200},
	"delivery_point": {"latitude": 48.9000, "longitude": 2.5000, "name": "Aulnay dock", "radius_m": 200},
	"chain": ["c1", "c2", "c3"],
	"sla_accept_hours": 2
}`

func createMission(t *testing.T, ts *httptest.Server) {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, ts.URL+"/missions", missionBody)
	if status != http.StatusCreated {
		t.Fatalf("create mission: %d %s", status, body)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	status, body := doJSON(t, http.MethodGet, ts.URL+"/health", "")
	if status != http.StatusOK {
		t.Fatalf("health: %d %s", status, body)
	}
}

func TestCreateAndGetMission(t *testing.T) {
	ts := newTestServer(t)
	createMission(t, ts)

	status, body := doJSON(t, http.MethodGet, ts.URL+"/missions/m1", "")
	if status != http.StatusOK {
		t.Fatalf("get: %d %s", status, body)
	}
	var m model.Mission
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.ID != "m1" || m.Status != model.StatusPending || m.Version != 1 {
		t.Fatalf("unexpected mission %+v", m)
	}

	// Duplicate creation loses the race.
	if status, _ := doJSON(t, http.MethodPost, ts.URL+"/missions", missionBody); status != http.StatusConflict {
		t.Fatalf("expected 409 got %d", status)
	}
	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/missions/ghost", ""); status != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", status)
	}
}

func TestCreateMissionValidation(t *testing.T) {
	ts := newTestServer(t)
	cases := []string{
		`{"id": "m1"}`,
		`{"id": "m1", "loading_point": {"latitude": 95, "longitude": 0}, "delivery_point": {"latitude": 0, "longitude": 0}, "chain": ["c1"]}`,
		`{"id": "m1", "loading_point": {"latitude": 0, "longitude": 0}, "delivery_point": {"latitude": 0, "longitude": 0}, "chain": []}`,
		`not json`,
	}
	for i, body := range cases {
		if status, _ := doJSON(t, http.MethodPost, ts.URL+"/missions", body); status != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400 got %d", i, status)
		}
	}
}

func TestPatchMissionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	createMission(t, ts)

	status, body := doJSON(t, http.MethodPatch, ts.URL+"/missions/m1", `{"command":"START","expected_version":1}`)
	if status != http.StatusOK {
		t.Fatalf("start: %d %s", status, body)
	}
	var m model.Mission
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Status != model.StatusEnRouteToLoading || m.Version != 2 {
		t.Fatalf("unexpected mission %+v", m)
	}

	// A writer holding the old version loses.
	if status, _ := doJSON(t, http.MethodPatch, ts.URL+"/missions/m1", `{"command":"CONFIRM_LOADED","expected_version":1}`); status != http.StatusConflict {
		t.Fatalf("stale version: expected 409 got %d", status)
	}
	// Signing before arrival is not an adjacent transition.
	if status, _ := doJSON(t, http.MethodPatch, ts.URL+"/missions/m1", `{"command":"SIGN","expected_version":2}`); status != http.StatusConflict {
		t.Fatalf("invalid transition: expected 409 got %d", status)
	}
	if status, _ := doJSON(t, http.MethodPatch, ts.URL+"/missions/m1", `{"command":"TELEPORT","expected_version":2}`); status != http.StatusBadRequest {
		t.Fatalf("unknown command: expected 400 got %d", status)
	}
}

func TestDispatchRoutes(t *testing.T) {
	ts := newTestServer(t)
	createMission(t, ts)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/missions/m1/dispatch", "")
	if status != http.StatusAccepted {
		t.Fatalf("dispatch: %d %s", status, body)
	}
	if status, _ := doJSON(t, http.MethodPost, ts.URL+"/missions/m1/dispatch", ""); status != http.StatusConflict {
		t.Fatalf("second dispatch: expected 409 got %d", status)
	}

	if status, body := doJSON(t, http.MethodPost, ts.URL+"/missions/m1/dispatch/refuse", `{"candidate_id":"c1"}`); status != http.StatusOK {
		t.Fatalf("refuse: %d %s", status, body)
	}
	// The chain moved on, c1 can no longer accept.
	if status, _ := doJSON(t, http.MethodPost, ts.URL+"/missions/m1/dispatch/accept", `{"candidate_id":"c1"}`); status != http.StatusConflict {
		t.Fatalf("wrong candidate: expected 409 got %d", status)
	}
	if status, body := doJSON(t, http.MethodPost, ts.URL+"/missions/m1/dispatch/accept", `{"candidate_id":"c2"}`); status != http.StatusOK {
		t.Fatalf("accept: %d %s", status, body)
	}

	_, body = doJSON(t, http.MethodGet, ts.URL+"/missions/m1", "")
	var m model.Mission
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.CarrierID != "c2" {
		t.Fatalf("expected carrier c2 got %q", m.CarrierID)
	}
}

func positionBody(lat, lon float64, at time.Time, speed float64) string {
	return fmt.Sprintf(`{"mission_id":"m1","latitude":%f,"longitude":%f,"speed_kmh":%f,"timestamp":%q}`,
		lat, lon, speed, at.Format(time.RFC3339))
}

func TestRecordPositionAndGeofence(t *testing.T) {
	ts := newTestServer(t)
	createMission(t, ts)
	if status, _ := doJSON(t, http.MethodPatch, ts.URL+"/missions/m1", `{"command":"START","expected_version":1}`); status != http.StatusOK {
		t.Fatalf("start failed: %d", status)
	}
	base := time.Now().Add(-time.Hour)

	// Baseline fix far from both zones.
	status, body := doJSON(t, http.MethodPost, ts.URL+"/positions", positionBody(48.7, 2.0, base, 50))
	if status != http.StatusCreated {
		t.Fatalf("baseline: %d %s", status, body)
	}
	var resp recordPositionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.GeofenceEvents) != 0 {
		t.Fatalf("baseline must not emit event, got %+v", resp.GeofenceEvents)
	}
	if resp.ETA == nil || resp.ETA.DurationMinutes <= 0 {
		t.Fatalf("expected ETA toward loading point, got %+v", resp.ETA)
	}

	// Next fix inside the loading zone.
	status, body = doJSON(t, http.MethodPost, ts.URL+"/positions", positionBody(48.8566, 2.3522, base.Add(time.Minute), 20))
	if status != http.StatusCreated {
		t.Fatalf("enter: %d %s", status, body)
	}
	resp = recordPositionResponse{}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.GeofenceEvents) != 1 || resp.GeofenceEvents[0].Zone != events.ZoneLoading || resp.GeofenceEvents[0].Transition != events.TransitionEnter {
		t.Fatalf("expected loading enter, got %+v", resp.GeofenceEvents)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/missions/m1/positions", "")
	if status != http.StatusOK {
		t.Fatalf("positions: %d %s", status, body)
	}
	var fixes []model.PositionFix
	if err := json.Unmarshal(body, &fixes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(fixes) != 2 || fixes[0].Latitude != 48.8566 {
		t.Fatalf("expected 2 fixes newest first, got %+v", fixes)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/missions/m1/geofence/events", "")
	if status != http.StatusOK {
		t.Fatalf("events: %d %s", status, body)
	}
	var evs []events.GeofenceEvent
	if err := json.Unmarshal(body, &evs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("expected 1 event got %d", len(evs))
	}
}

func TestRecordPositionValidation(t *testing.T) {
	ts := newTestServer(t)
	createMission(t, ts)
	cases := []string{
		`{"latitude":1,"longitude":2,"timestamp":"2026-03-01T08:00:00Z"}`,
		`{"mission_id":"m1","latitude":95,"longitude":2,"timestamp":"2026-03-01T08:00:00Z"}`,
		`{"mission_id":"m1","latitude":1,"longitude":2}`,
	}
	for i, body := range cases {
		if status, _ := doJSON(t, http.MethodPost, ts.URL+"/positions", body); status != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400 got %d", i, status)
		}
	}
}

func TestETAEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createMission(t, ts)

	// A pending mission has no active destination.
	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/missions/m1/eta", ""); status != http.StatusConflict {
		t.Fatalf("pending mission: expected 409 got %d", status)
	}
	if status, _ := doJSON(t, http.MethodPatch, ts.URL+"/missions/m1", `{"command":"START","expected_version":1}`); status != http.StatusOK {
		t.Fatal("start failed")
	}
	// No recorded position and no explicit coordinates.
	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/missions/m1/eta", ""); status != http.StatusBadRequest {
		t.Fatalf("no position: expected 400 got %d", status)
	}

	status, body := doJSON(t, http.MethodGet, ts.URL+"/missions/m1/eta?current_lat=48.7&current_lon=2.0", "")
	if status != http.StatusOK {
		t.Fatalf("eta: %d %s", status, body)
	}
	var eta tracking.ETA
	if err := json.Unmarshal(body, &eta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if eta.DurationMinutes <= 0 || eta.DistanceKM <= 0 {
		t.Fatalf("unexpected eta %+v", eta)
	}
	// The camelCase spelling is the documented one and must work too.
	status, body = doJSON(t, http.MethodGet, ts.URL+"/missions/m1/eta?currentLat=48.7&currentLon=2.0", "")
	if status != http.StatusOK {
		t.Fatalf("eta camelCase: %d %s", status, body)
	}
	var etaCamel tracking.ETA
	if err := json.Unmarshal(body, &etaCamel); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if etaCamel.DistanceKM != eta.DistanceKM {
		t.Fatalf("spellings must resolve the same origin: %+v vs %+v", etaCamel, eta)
	}

	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/missions/m1/eta?current_lat=bogus&current_lon=2.0", ""); status != http.StatusBadRequest {
		t.Fatalf("bad coordinate: expected 400 got %d", status)
	}
	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/missions/m1/eta?currentLat=bogus&currentLon=2.0", ""); status != http.StatusBadRequest {
		t.Fatalf("bad camelCase coordinate: expected 400 got %d", status)
	}
	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/missions/ghost/eta", ""); status != http.StatusNotFound {
		t.Fatalf("unknown mission: expected 404 got %d", status)
	}
}

func TestDocumentsUploadAndList(t *testing.T) {
	ts := newTestServer(t)
	createMission(t, ts)

	status, body := doJSON(t, http.MethodPost, ts.URL+"/missions/m1/documents",
		`{"name":"pod.pdf","content_type":"application/pdf","data_base64":"aGVsbG8="}`)
	if status != http.StatusCreated {
		t.Fatalf("upload: %d %s", status, body)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.SizeBytes != 5 || doc.ID == "" {
		t.Fatalf("unexpected document %+v", doc)
	}

	if status, _ := doJSON(t, http.MethodPost, ts.URL+"/missions/m1/documents",
		`{"name":"bad","content_type":"text/plain","data_base64":"%%%"}`); status != http.StatusBadRequest {
		t.Fatalf("bad base64: expected 400 got %d", status)
	}

	status, body = doJSON(t, http.MethodGet, ts.URL+"/missions/m1/documents", "")
	if status != http.StatusOK {
		t.Fatalf("list: %d %s", status, body)
	}
	var docs []Document
	if err := json.Unmarshal(body, &docs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "pod.pdf" {
		t.Fatalf("unexpected documents %+v", docs)
	}
	if status, _ := doJSON(t, http.MethodGet, ts.URL+"/missions/ghost/documents", ""); status != http.StatusNotFound {
		t.Fatalf("unknown mission: expected 404 got %d", status)
	}
}
