// Package metric defines the prometheus collectors shared across the
// gateway: stream subscriber counters, event store gauges and actuation
// counters, grouped in a single Metrics struct with its own registry.
package metric
