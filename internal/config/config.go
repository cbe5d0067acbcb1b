package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full gateway configuration: the camera fleet, event
// timings, pulse output settings, retention and health sweep parameters.
type Config struct {
	// LogLevel is the minimum level for console logging (debug..fatal).
	LogLevel string `yaml:"log_level"`
	// MetricsAddress is the optional listen address for the metrics endpoint.
	// Empty disables the endpoint.
	MetricsAddress string `yaml:"metrics_addr"`
	// DBPath is the SQLite database file holding the event history.
	DBPath string `yaml:"db_path"`
	// RetentionDays is how long persisted events are kept before purging.
	RetentionDays int `yaml:"retention_days"`
	// Event holds stream subscription and rule timing parameters.
	Event EventConfig `yaml:"event"`
	// Pulse holds the actuation output settings.
	Pulse PulseConfig `yaml:"pulse"`
	// Health holds the subscriber health sweep settings.
	Health HealthConfig `yaml:"health"`
	// Cameras lists the devices to subscribe to.
	Cameras []Camera `yaml:"cameras"`
}

// EventConfig groups stream and rule timing parameters.
type EventConfig struct {
	// ConnectTimeout bounds the TCP/TLS connection setup to a device.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ReadTimeout bounds a single stream read; it doubles as the stop-flag
	// poll interval, so keep it short.
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// BackoffMin is the initial reconnect delay after a failure.
	BackoffMin time.Duration `yaml:"backoff_min"`
	// BackoffMax caps the exponential reconnect delay.
	BackoffMax time.Duration `yaml:"backoff_max"`
	// Cooldown spaces visible log lines for people-count increases per zone.
	Cooldown time.Duration `yaml:"cooldown"`
	// StayCooldown spaces persisted/logged stay alarms per (zone, action).
	StayCooldown time.Duration `yaml:"stay_cooldown"`
	// StayHold is how long a stay alarm stays active before auto-clearing.
	StayHold time.Duration `yaml:"stay_hold"`
	// Debounce is the minimum spacing between actuation triggers per
	// (zone, channel); shorter than the logging cooldowns.
	Debounce time.Duration `yaml:"debounce"`
}

// RetriggerPolicy controls pulse behavior when triggered while active.
type RetriggerPolicy string

const (
	// RetriggerExtend restarts the pulse window on retrigger.
	RetriggerExtend RetriggerPolicy = "extend"
	// RetriggerIgnore leaves an active pulse unchanged on retrigger.
	RetriggerIgnore RetriggerPolicy = "ignore"
)

// PulseConfig holds the actuation output settings.
type PulseConfig struct {
	// Enable turns the physical output on or off entirely.
	Enable bool `yaml:"enable"`
	// Chip is the GPIO character device name, e.g. "gpiochip0".
	Chip string `yaml:"chip"`
	// Pin is the BCM line offset driven by pulses.
	Pin int `yaml:"pin"`
	// Duration is the length of one pulse window.
	Duration time.Duration `yaml:"duration"`
	// Retrigger selects the policy applied when a pulse is triggered
	// while one is already active.
	Retrigger RetriggerPolicy `yaml:"retrigger_policy"`
}

// HealthConfig holds the subscriber health sweep settings.
type HealthConfig struct {
	// SweepInterval is how often subscriber liveness is checked.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// RestartCooldown is the minimum spacing between restarts per device.
	RestartCooldown time.Duration `yaml:"restart_cooldown"`
	// ProbeTimeout bounds the device reachability probe.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// ZonePolicy holds the per-zone actuation routing flags.
// Absent zones default to the zero value, i.e. both flags false.
type ZonePolicy struct {
	// PeopleTrigger, when true, routes people-count increases away from
	// the pulse output (the output fires only for unrouted zones).
	PeopleTrigger bool `yaml:"people_trigger"`
	// StayTrigger, when true, routes stay-alarm starts to the pulse output.
	StayTrigger bool `yaml:"stay_trigger"`
}

// Camera describes one device endpoint and its zone policy.
type Camera struct {
	// Key uniquely identifies the device, e.g. "camera1".
	Key string `yaml:"key"`
	// Name is a free-form label for logs.
	Name string `yaml:"name"`
	// IP is the device address.
	IP string `yaml:"ip"`
	// HTTPPort is the CGI port, usually 80.
	HTTPPort int `yaml:"http_port"`
	// Username and Password are the digest-auth credentials.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Channel is the video channel number used by the count feed.
	Channel int `yaml:"channel"`
	// Zones maps zone numbers to their actuation routing flags.
	Zones map[int]ZonePolicy `yaml:"zones"`
}

// Zone returns the policy for the given zone, defaulting to all-false
// when the zone is not configured.
func (c *Camera) Zone(zone int) ZonePolicy {
	return c.Zones[zone]
}

// Address returns the host:port the device listens on.
func (c *Camera) Address() string {
	return net.JoinHostPort(c.IP, fmt.Sprintf("%d", c.HTTPPort))
}

const (
	// DefaultConfigFilename is the default configuration file name.
	DefaultConfigFilename = "zonewatch.yaml"

	// DefaultDBFilename is the default SQLite database file name.
	DefaultDBFilename = "events.db"

	// DefaultRetentionDays is how long events are kept by default.
	DefaultRetentionDays = 30

	// DefaultFilePermissions restricts config files to the owner.
	DefaultFilePermissions = 0o600
)

// Default timing values, matching the device's observed cadence.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultReadTimeout     = 15 * time.Second
	DefaultBackoffMin      = 1 * time.Second
	DefaultBackoffMax      = 30 * time.Second
	DefaultCooldown        = 2 * time.Second
	DefaultStayCooldown    = 10 * time.Second
	DefaultStayHold        = 10 * time.Second
	DefaultDebounce        = 300 * time.Millisecond
	DefaultPulseDuration   = 500 * time.Millisecond
	DefaultSweepInterval   = 10 * time.Second
	DefaultRestartCooldown = 60 * time.Second
	DefaultProbeTimeout    = 2 * time.Second
)

// DefaultPulsePin is the BCM line the pulse output drives.
const DefaultPulsePin = 17

// DefaultPulseChip is the GPIO character device holding the pulse line.
const DefaultPulseChip = "gpiochip0"

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNoCameras is returned when the camera list is empty.
	errNoCameras = errors.New("at least one camera must be configured")
	// errCameraKeyRequired is returned when a camera entry has no key.
	errCameraKeyRequired = errors.New("camera key must be provided")
	// errCameraIPRequired is returned when a camera entry has no address.
	errCameraIPRequired = errors.New("camera ip must be provided")
)

// Load reads configuration from the provided path, applies defaults and
// validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Credentials live in this file, restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills in defaults for omitted ones.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBFilename
	}

	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}

	applyEventDefaults(&cfg.Event)

	if cfg.Pulse.Chip == "" {
		cfg.Pulse.Chip = DefaultPulseChip
	}

	if cfg.Pulse.Pin <= 0 {
		cfg.Pulse.Pin = DefaultPulsePin
	}

	if cfg.Pulse.Duration <= 0 {
		cfg.Pulse.Duration = DefaultPulseDuration
	}

	switch cfg.Pulse.Retrigger {
	case RetriggerExtend, RetriggerIgnore:
	case "":
		cfg.Pulse.Retrigger = RetriggerExtend
	default:
		return fmt.Errorf("invalid retrigger policy %q", cfg.Pulse.Retrigger)
	}

	if cfg.Health.SweepInterval <= 0 {
		cfg.Health.SweepInterval = DefaultSweepInterval
	}

	if cfg.Health.RestartCooldown <= 0 {
		cfg.Health.RestartCooldown = DefaultRestartCooldown
	}

	if cfg.Health.ProbeTimeout <= 0 {
		cfg.Health.ProbeTimeout = DefaultProbeTimeout
	}

	if len(cfg.Cameras) == 0 {
		return errNoCameras
	}

	seen := make(map[string]struct{}, len(cfg.Cameras))

	for i := range cfg.Cameras {
		cam := &cfg.Cameras[i]

		if cam.Key == "" {
			return errCameraKeyRequired
		}

		if _, ok := seen[cam.Key]; ok {
			return fmt.Errorf("duplicate camera key %q", cam.Key)
		}

		seen[cam.Key] = struct{}{}

		if cam.IP == "" {
			return fmt.Errorf("%w: %s", errCameraIPRequired, cam.Key)
		}

		if cam.HTTPPort <= 0 {
			cam.HTTPPort = 80
		}

		if cam.Username == "" {
			cam.Username = "admin"
		}

		if cam.Password == "" {
			cam.Password = "admin"
		}

		if cam.Channel <= 0 {
			cam.Channel = 1
		}
	}

	return nil
}

// applyEventDefaults fills omitted event timings with their defaults.
func applyEventDefaults(e *EventConfig) {
	if e.ConnectTimeout <= 0 {
		e.ConnectTimeout = DefaultConnectTimeout
	}

	if e.ReadTimeout <= 0 {
		e.ReadTimeout = DefaultReadTimeout
	}

	if e.BackoffMin <= 0 {
		e.BackoffMin = DefaultBackoffMin
	}

	if e.BackoffMax < e.BackoffMin {
		e.BackoffMax = DefaultBackoffMax
	}

	if e.Cooldown <= 0 {
		e.Cooldown = DefaultCooldown
	}

	if e.StayCooldown <= 0 {
		e.StayCooldown = DefaultStayCooldown
	}

	if e.StayHold <= 0 {
		e.StayHold = DefaultStayHold
	}

	if e.Debounce <= 0 {
		e.Debounce = DefaultDebounce
	}
}
