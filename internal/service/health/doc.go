// Package health watches subscriber liveness and restarts dead stream
// loops, but only for devices that answer a connectivity probe.
package health
