package events

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestZoneJSONUsesWireStrings(t *testing.T) {
	for _, z := range []Zone{ZoneNone, ZoneLoading, ZoneDelivery} {
		b, err := json.Marshal(z)
		if err != nil {
			t.Fatalf("marshal %v: %v", z, err)
		}
		if string(b) != `"`+z.String()+`"` {
			t.Fatalf("zone must serialize as its name, got %s", b)
		}
		var back Zone
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != z {
			t.Fatalf("expected %v got %v", z, back)
		}
	}
	var z Zone
	if err := json.Unmarshal([]byte(`"warehouse"`), &z); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}

func TestTransitionJSONUsesWireStrings(t *testing.T) {
	for _, tr := range []Transition{TransitionEnter, TransitionExit} {
		b, err := json.Marshal(tr)
		if err != nil {
			t.Fatalf("marshal %v: %v", tr, err)
		}
		if string(b) != `"`+tr.String()+`"` {
			t.Fatalf("transition must serialize as its name, got %s", b)
		}
		var back Transition
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back != tr {
			t.Fatalf("expected %v got %v", tr, back)
		}
	}
	var tr Transition
	if err := json.Unmarshal([]byte(`"sideways"`), &tr); err == nil {
		t.Fatal("expected error for unknown transition")
	}
}

func TestGeofenceEventJSONShape(t *testing.T) {
	ev := GeofenceEvent{
		MissionID:  "m1",
		Zone:       ZoneDelivery,
		Transition: TransitionEnter,
		Timestamp:  time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		Automatic:  true,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, want := range []string{`"zone":"delivery"`, `"transition":"enter"`} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("missing %s in %s", want, b)
		}
	}
	var back GeofenceEvent
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != ev {
		t.Fatalf("round trip mismatch: %+v != %+v", back, ev)
	}
}
