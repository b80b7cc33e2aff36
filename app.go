// Package electricitymon wires the accumulation daemon together: meter
// polling, energy accounting, state persistence, the embedded MQTT
// broker, the time-series sink and the web dashboard.
package electricitymon

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kradalby/kra/web"
	appconfig "github.com/nickcrabtree/electricity-monitoring/config"
	"github.com/nickcrabtree/electricity-monitoring/energy"
	"github.com/nickcrabtree/electricity-monitoring/events"
	"github.com/nickcrabtree/electricity-monitoring/logging"
	"github.com/nickcrabtree/electricity-monitoring/meters"
	"github.com/nickcrabtree/electricity-monitoring/metrics"
	"github.com/nickcrabtree/electricity-monitoring/sink"
	"github.com/nickcrabtree/electricity-monitoring/statefile"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/util/eventbus"
)

var version = "dev"

// Options controls one daemon invocation.
type Options struct {
	// Once runs a single accumulation cycle and exits. Useful from cron
	// or for smoke-testing a new meter configuration.
	Once bool
}

// Run is the entry point used by cmd/electricity-monitoring.
func Run(opts Options) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting electricity monitoring",
		"version", version,
		"poll_interval", cfg.PollInterval(),
		"state_file", cfg.StateFilePath,
		"meters_config", cfg.MetersConfigPath,
	)

	meterCfg, err := meters.LoadConfig(cfg.MetersConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load meters configuration: %w", err)
	}
	for _, meter := range meterCfg.Meters {
		logger.Info("meter configured",
			"id", meter.ID,
			"name", meter.Name,
			"address", meter.Address,
			"vendor", meter.Vendor,
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus, err := events.New(logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	store := statefile.New(logger, cfg.StateFilePath)
	state := store.Load()
	accumulator := energy.NewAccumulator(logger, store, state)

	// Telemetry younger than two poll intervals replaces an HTTP poll.
	manager, err := meters.NewManager(logger, meterCfg.Meters, bus, 2*cfg.PollInterval())
	if err != nil {
		return fmt.Errorf("failed to initialize meter manager: %w", err)
	}
	defer manager.Close()
	go manager.ProcessTelemetry(ctx)

	var mqttServer *mqtt.Server
	if cfg.MQTTEnabled {
		mqttServer = mqtt.New(&mqtt.Options{
			InlineClient: true,
		})

		if err := mqttServer.AddHook(new(auth.AllowHook), nil); err != nil {
			return fmt.Errorf("failed to add MQTT auth hook: %w", err)
		}

		mqttHook, err := NewMQTTHook(logger, bus)
		if err != nil {
			return err
		}
		if err := mqttServer.AddHook(mqttHook, nil); err != nil {
			return fmt.Errorf("failed to add MQTT telemetry hook: %w", err)
		}

		tcp := listeners.NewTCP(listeners.Config{
			ID:      "tcp",
			Address: fmt.Sprintf(":%d", cfg.MQTTPort),
		})
		if err := mqttServer.AddListener(tcp); err != nil {
			return fmt.Errorf("failed to add MQTT listener: %w", err)
		}

		go func() {
			logger.Info("starting MQTT broker", "port", cfg.MQTTPort)
			if err := mqttServer.Serve(); err != nil {
				logger.Error("MQTT server error", "error", err)
			}
		}()
		defer func() {
			if err := mqttServer.Close(); err != nil {
				logger.Error("error stopping MQTT broker", "error", err)
			}
		}()
	}

	collector, err := metrics.NewCollector(ctx, logger, bus, nil)
	if err != nil {
		return err
	}
	defer collector.Close()

	var sinks []sink.Sink
	if cfg.InfluxURL != "" {
		influxSink, err := sink.NewInfluxSink(logger, sink.InfluxConfig{
			URL:          cfg.InfluxURL,
			Username:     cfg.InfluxUsername,
			Password:     cfg.InfluxPassword,
			Database:     cfg.InfluxDatabase,
			Measurement:  cfg.InfluxMeasurement,
			MetricPrefix: cfg.MetricPrefix,
		})
		if err != nil {
			return err
		}
		defer influxSink.Close()
		sinks = append(sinks, influxSink)
		logger.Info("influx sink enabled", "url", cfg.InfluxURL, "database", cfg.InfluxDatabase)
	}
	retryPolicy := sink.RetryPolicy{
		MaxAttempts: cfg.SinkRetryAttempts,
		Backoff:     cfg.SinkRetryBackoff(),
	}

	webServer, err := NewWebServer(logger, accumulator, manager, bus)
	if err != nil {
		return err
	}
	defer webServer.Close()
	go webServer.ProcessReports(ctx)

	if !opts.Once {
		kraOpts := []web.Option{
			web.WithStdLogger(log.New(os.Stdout, "kraweb: ", log.LstdFlags)),
			web.WithLogger(logger),
		}

		enableTailscale := cfg.TailscaleAuthKey != ""
		kraWeb, err := web.NewServer(web.ServerConfig{
			Hostname:        cfg.TailscaleHostname,
			LocalAddr:       fmt.Sprintf(":%d", cfg.WebPort),
			AuthKey:         cfg.TailscaleAuthKey,
			EnableTailscale: enableTailscale,
		}, kraOpts...)
		if err != nil {
			return fmt.Errorf("failed to configure web server: %w", err)
		}

		kraWeb.Handle("/", http.HandlerFunc(webServer.HandleIndex))
		kraWeb.Handle("/state", http.HandlerFunc(webServer.HandleState))
		kraWeb.Handle("/health", http.HandlerFunc(webServer.HandleHealth))
		kraWeb.Handle("/metrics", promhttp.Handler())
		SetupDebugHandlers(kraWeb, manager)

		go func() {
			logger.Info("starting web server",
				"port", cfg.WebPort,
				"tailscale", enableTailscale,
			)
			if err := kraWeb.ListenAndServe(ctx); err != nil {
				logger.Error("web server error", "error", err)
			}
		}()
	}

	mainClient, err := bus.Client(events.ClientMain)
	if err != nil {
		return err
	}
	reportPublisher := eventbus.Publish[events.ReportEvent](mainClient)

	sinkClient, err := bus.Client(events.ClientSink)
	if err != nil {
		return err
	}
	sinkStatusPublisher := eventbus.Publish[events.ConnectionStatusEvent](sinkClient)

	clock := clockwork.NewRealClock()

	cycle := func() {
		now := clock.Now()
		samples := manager.Sample(ctx, now)

		report, err := accumulator.Advance(now, samples)
		saveFailed := err != nil
		if saveFailed {
			logger.Error("state save failed, totals kept in memory", "error", err)
		}

		reportPublisher.Publish(events.ReportEvent{
			Timestamp:  now,
			Report:     *report,
			SaveFailed: saveFailed,
		})

		logger.Info("cycle complete",
			"meters_sampled", len(samples),
			"total_power_watts", report.TotalPowerW,
			"day_kwh", report.Home[energy.PeriodDay],
		)

		for _, s := range sinks {
			status := events.ConnectionStatusConnected
			errText := ""
			if err := retryPolicy.Write(ctx, clock, logger, s, report); err != nil {
				logger.Error("report dropped", "sink", s.Name(), "error", err)
				status = events.ConnectionStatusFailed
				errText = err.Error()
			}
			sinkStatusPublisher.Publish(events.ConnectionStatusEvent{
				Timestamp: time.Now(),
				Component: s.Name(),
				Status:    status,
				Error:     errText,
			})
		}
	}

	cycle()
	if opts.Once {
		logger.Info("single cycle requested, exiting")
		return nil
	}

	ticker := clock.NewTicker(cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			cycle()
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		}
	}
}
