// Package telemetry contains the core domain types for camera telemetry.
//
// It defines the Reading union produced by stream subscribers: CountSnapshot
// (a periodic absolute zone occupancy count) and AlarmEdge (a Start/Stop
// transition of a dwell condition). Consumers switch exhaustively on the
// concrete type instead of reaching into string-keyed payloads.
package telemetry
