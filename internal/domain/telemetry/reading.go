package telemetry

import (
	"fmt"
	"time"
)

// AlarmAction is the direction of a dwell-alarm transition.
type AlarmAction string

const (
	// ActionStart marks the onset of a dwell condition in a zone.
	ActionStart AlarmAction = "Start"
	// ActionStop marks the end of a dwell condition in a zone.
	ActionStop AlarmAction = "Stop"
)

// Valid reports whether the action is one of the two known transitions.
func (a AlarmAction) Valid() bool {
	return a == ActionStart || a == ActionStop
}

// Reading is a single decoded telemetry frame from a device stream.
// It is a sealed union of CountSnapshot and AlarmEdge.
type Reading interface {
	// isReading restricts implementations to this package.
	isReading()
}

// CountSnapshot is a periodic absolute occupancy count for one zone.
type CountSnapshot struct {
	// Device is the configured camera key, e.g. "camera1".
	Device string
	// Zone is the detection region number within the device's view.
	Zone int
	// Count is the absolute occupancy reported by the device, never negative.
	Count int
	// At is when the snapshot was received.
	At time.Time
}

func (CountSnapshot) isReading() {}

// String renders the snapshot for log lines.
func (s CountSnapshot) String() string {
	return fmt.Sprintf("[%s] zone %d count=%d", s.Device, s.Zone, s.Count)
}

// AlarmEdge is a Start/Stop transition of a dwell condition in one zone.
type AlarmEdge struct {
	// Device is the configured camera key.
	Device string
	// Zone is the detection region the transition refers to.
	Zone int
	// Action is the transition direction.
	Action AlarmAction
	// At is when the edge was received.
	At time.Time
}

func (AlarmEdge) isReading() {}

// String renders the edge for log lines.
func (e AlarmEdge) String() string {
	return fmt.Sprintf("[%s] zone %d stay %s", e.Device, e.Zone, e.Action)
}
