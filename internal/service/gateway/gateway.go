package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opas200/zonewatch/internal/config"
	"github.com/opas200/zonewatch/internal/domain/telemetry"
	"github.com/opas200/zonewatch/internal/logger"
	"github.com/opas200/zonewatch/internal/metric"
	"github.com/opas200/zonewatch/internal/repository/events"
	"github.com/opas200/zonewatch/internal/service/actuator"
	"github.com/opas200/zonewatch/internal/service/engine"
	"github.com/opas200/zonewatch/internal/service/health"
	"github.com/opas200/zonewatch/internal/service/subscriber"
)

// purgeInterval schedules the daily retention purge. A purge also runs
// once at startup.
const purgeInterval = 24 * time.Hour

// stopGrace bounds how long shutdown waits for each subscriber to exit.
const stopGrace = 3 * time.Second

// metricsShutdownTimeout bounds the metrics server drain on shutdown.
const metricsShutdownTimeout = 5 * time.Second

// Options controls the gateway run.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
}

// Run loads configuration, wires all components together and blocks
// until the context is cancelled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "gateway")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if level, ok := logger.ParseLogLevel(cfg.LogLevel); ok {
		logger.SetLevel(level)
	}

	metrics := metric.New()

	store, err := events.Open(cfg.DBPath, metrics)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.ErrorKV(ctx, "Event store close failed", "error", closeErr)
		}
	}()

	store.StartWriter(ctx)

	if last, lastErr := store.LastLifecycleEvent(ctx); lastErr == nil && last != nil {
		logger.InfoKV(ctx, "Previous run", "event", last.EventType, "at", last.TS)
	}

	store.Enqueue(ctx, events.LogRecord{
		EventType: events.EventTypeAppStart,
		Message:   "Gateway started",
	})

	var (
		pulser engine.Pulser
		ctrl   *actuator.Controller
	)

	if cfg.Pulse.Enable {
		output, gpioErr := actuator.OpenGPIO(cfg.Pulse.Chip, cfg.Pulse.Pin)
		if gpioErr != nil {
			return fmt.Errorf("open pulse output: %w", gpioErr)
		}

		ctrl = actuator.NewController(output, cfg.Pulse, metrics)
		pulser = ctrl

		logger.InfoKV(ctx, "Pulse output ready",
			"chip", cfg.Pulse.Chip, "pin", cfg.Pulse.Pin,
			"duration", cfg.Pulse.Duration.String(), "retrigger", string(cfg.Pulse.Retrigger))
	} else {
		logger.Info(ctx, "Pulse output disabled")
	}

	eng := engine.New(&engine.Options{
		Cameras:  cfg.Cameras,
		Events:   cfg.Event,
		Recorder: store,
		Pulser:   pulser,
		Metrics:  metrics,
	})

	monitor := health.New(&health.Options{
		Config:  cfg.Health,
		Cameras: cfg.Cameras,
		Metrics: metrics,
	})

	subscribers := buildSubscribers(cfg, eng, metrics)
	for _, s := range subscribers {
		monitor.Register(s)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		return eng.Run(groupCtx)
	})

	group.Go(func() error {
		return monitor.Run(groupCtx)
	})

	devices := make([]string, 0, len(cfg.Cameras))
	for _, cam := range cfg.Cameras {
		devices = append(devices, cam.Key)
	}

	group.Go(func() error {
		purgeLoop(groupCtx, store, cfg.RetentionDays, devices)

		return nil
	})

	if cfg.MetricsAddress != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.MetricsAddress, metrics)
		})
	}

	for _, s := range subscribers {
		s.Start(groupCtx)
	}

	logger.InfoKV(ctx, "Gateway running",
		"cameras", len(cfg.Cameras), "subscribers", len(subscribers), "db", cfg.DBPath)

	err = group.Wait()

	shutdown(ctx, subscribers, ctrl, store)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// buildSubscribers creates the people and stay subscriber pair for every
// configured camera.
func buildSubscribers(cfg *config.Config, eng *engine.Engine, metrics *metric.Metrics) []*subscriber.Subscriber {
	sink := subscriber.Sink(func(r telemetry.Reading) {
		eng.Submit(r)
	})

	subscribers := make([]*subscriber.Subscriber, 0, len(cfg.Cameras)*2)

	for _, cam := range cfg.Cameras {
		subscribers = append(subscribers,
			subscriber.New(cam, subscriber.CountProtocol{}, cfg.Event, sink, metrics),
			subscriber.New(cam, subscriber.AlarmProtocol{}, cfg.Event, sink, metrics),
		)
	}

	return subscribers
}

// purgeLoop runs the retention purge at startup and then daily, logging
// each outcome together with the last day's zone activity.
func purgeLoop(ctx context.Context, store *events.Store, retentionDays int, devices []string) {
	ctx = logger.WithName(ctx, "purge")

	runPurge(ctx, store, retentionDays, devices)

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runPurge(ctx, store, retentionDays, devices)
		}
	}
}

// runPurge enqueues one purge and waits for the writer to report back.
func runPurge(ctx context.Context, store *events.Store, retentionDays int, devices []string) {
	done := make(chan events.PurgeResult, 1)
	store.EnqueuePurge(ctx, retentionDays, done)

	select {
	case <-ctx.Done():
		return
	case res := <-done:
		if res.Err != nil {
			logger.ErrorKV(ctx, "Purge failed", "error", res.Err)

			return
		}

		logger.InfoKV(ctx, "Old events purged",
			"deleted", res.Deleted, "retention_days", res.RetentionDays)
	}

	logZoneActivity(ctx, store, devices)
}

// logZoneActivity dumps the last day's per-zone delta sums per device.
func logZoneActivity(ctx context.Context, store *events.Store, devices []string) {
	window := purgeInterval

	for _, device := range devices {
		sums, rows, err := store.SumDeltaByZoneWithRows(ctx, device, &window)
		if err != nil {
			logger.WarnKV(ctx, "Zone activity query failed", "device", device, "error", err)

			continue
		}

		logger.InfoKV(ctx, "Zone activity over last day",
			"device", device, "sums", sums, "rows", rows)
	}
}

// serveMetrics exposes the prometheus endpoint until the context ends.
func serveMetrics(ctx context.Context, addr string, metrics *metric.Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		errCh <- server.ListenAndServe()
	}()

	logger.InfoKV(ctx, "Metrics endpoint listening", "address", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}

		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("metrics server: %w", err)
	}
}

// shutdown tears components down in dependency order: subscribers first
// so no new readings arrive, then the output, then the store with a
// final lifecycle record.
func shutdown(ctx context.Context, subscribers []*subscriber.Subscriber, ctrl *actuator.Controller, store *events.Store) {
	logger.Info(ctx, "Shutting down")

	for _, s := range subscribers {
		s.Stop()
	}

	for _, s := range subscribers {
		if !s.Wait(stopGrace) {
			logger.WarnKV(ctx, "Subscriber did not stop in time",
				"device", s.Device(), "feed", s.Feed())
		}
	}

	if ctrl != nil {
		ctrl.Cleanup()
	}

	store.Enqueue(ctx, events.LogRecord{
		EventType: events.EventTypeAppStop,
		Message:   "Gateway stopped",
	})
	store.StopWriter(ctx, true)

	logger.Info(ctx, "Shutdown complete")
}
