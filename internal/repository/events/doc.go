// Package events provides the durable event store backing the gateway.
//
// Events are persisted to SQLite through a single background writer that
// drains a FIFO job queue, making inserts asynchronous for callers and
// retention purges mutually exclusive with inserts without extra locking.
// Two tables are maintained: people_delta_events holds positive occupancy
// deltas for traffic aggregation, event_logs holds every other event with a
// JSON payload. If the writer is not running, enqueue operations degrade to
// synchronous writes in the caller instead of dropping data.
package events
