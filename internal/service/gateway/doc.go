// Package gateway is the composition root: it builds the store, engine,
// actuator, subscribers and health monitor from configuration and runs
// them until shutdown.
package gateway
