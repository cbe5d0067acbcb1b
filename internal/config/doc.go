// Package config defines the gateway configuration and provides helpers to
// load, validate and save it in YAML format.
//
// The Config type holds the camera fleet definition, event stream timings,
// pulse output settings, retention and health sweep parameters. Validate
// fills omitted fields with defaults so a minimal file with just a camera
// list is enough to run.
package config
