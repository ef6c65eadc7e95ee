package api

import (
	"fmt"

	"github.com/rt-technologie/freightd/core/model"
)

func errNoDestination(m model.Mission) error {
	return fmt.Errorf("mission %s has no active destination in status %s", m.ID, m.Status)
}

func errNoPosition(missionID string) error {
	return fmt.Errorf("no position recorded for mission %s and no coordinates given", missionID)
}

func errBadCoordinate(name, val string) error {
	return fmt.Errorf("invalid %s %q", name, val)
}

func errBadTimestamp(name, val string) error {
	return fmt.Errorf("invalid %s timestamp %q, want RFC3339", name, val)
}

func errBadLimit(val string) error {
	return fmt.Errorf("invalid limit %q", val)
}
