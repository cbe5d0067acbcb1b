// Package actuator drives the single shared pulse output: a timed HIGH
// window on one GPIO line, retriggerable under a configurable policy.
package actuator
