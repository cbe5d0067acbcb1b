package events

import (
	"time"
)

// Event types stored in the event_logs table.
const (
	// EventTypePeopleCount marks occupancy change records.
	EventTypePeopleCount = "PEOPLE_COUNT"
	// EventTypeStayAlarm marks dwell-alarm records.
	EventTypeStayAlarm = "STAY_ALARM"
	// EventTypeAppStart and EventTypeAppStop mark gateway lifecycle records.
	EventTypeAppStart = "APP_START"
	EventTypeAppStop  = "APP_STOP"
)

// tsLayout is the canonical display form of a timestamp, kept alongside the
// epoch so rows are readable without conversion.
const tsLayout = "2006-01-02 15:04:05"

// Record is a persist request accepted by the store.
// It is a sealed union of DeltaRecord and LogRecord.
type Record interface {
	isRecord()
}

// DeltaRecord is a positive occupancy increment for one zone, used for
// traffic-style aggregation. Non-positive deltas are never stored here.
type DeltaRecord struct {
	// Device is the camera key the delta belongs to.
	Device string
	// Zone is the detection region number.
	Zone int
	// Delta is the occupancy increase, strictly positive.
	Delta int
	// Count is the absolute occupancy after the change, kept in the payload.
	Count int
	// At is when the change was observed; zero means "now".
	At time.Time
}

func (DeltaRecord) isRecord() {}

// LogRecord is a generic event row: occupancy changes of either sign,
// stay alarms, lifecycle markers.
type LogRecord struct {
	// Device is the camera key, empty for gateway-level records.
	Device string
	// EventType classifies the record (EventType* constants).
	EventType string
	// Zone is the detection region, nil when not zone-scoped.
	Zone *int
	// Message is the human-readable summary.
	Message string
	// Payload carries extra fields serialized into payload_json.
	Payload map[string]any
	// At is when the event happened; zero means "now".
	At time.Time
}

func (LogRecord) isRecord() {}

// StoredLog is one row read back from the event_logs table.
type StoredLog struct {
	ID        int64
	TS        string
	TSEpoch   int64
	Device    string
	EventType string
	Zone      *int
	Message   string
	Payload   string
}
