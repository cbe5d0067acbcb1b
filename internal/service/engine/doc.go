// Package engine derives events from the raw reading stream: occupancy
// deltas against a per-zone baseline, dwell-alarm edges with auto-clear,
// and the persistence and actuation decisions attached to both.
package engine
