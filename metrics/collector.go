package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nickcrabtree/electricity-monitoring/energy"
	"github.com/nickcrabtree/electricity-monitoring/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"tailscale.com/util/eventbus"
)

// Collector subscribes to eventbus updates and exposes Prometheus metrics.
type Collector struct {
	logger       *slog.Logger
	reportSub    *eventbus.Subscriber[events.ReportEvent]
	statusSub    *eventbus.Subscriber[events.ConnectionStatusEvent]
	homePower    prometheus.Gauge
	homeEnergy   *prometheus.GaugeVec
	deviceEnergy *prometheus.GaugeVec
	cycles       prometheus.Counter
	saveFailures prometheus.Counter
	statusGauge  *prometheus.GaugeVec
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	workers      sync.WaitGroup
}

// NewCollector wires eventbus subscribers into Prometheus metrics.
func NewCollector(ctx context.Context, logger *slog.Logger, bus *events.Bus, reg prometheus.Registerer) (*Collector, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if bus == nil {
		return nil, fmt.Errorf("event bus is required")
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	client, err := bus.Client(events.ClientMetrics)
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics client: %w", err)
	}

	collectorCtx, cancel := context.WithCancel(ctx)
	reportSub := eventbus.Subscribe[events.ReportEvent](client)
	statusSub := eventbus.Subscribe[events.ConnectionStatusEvent](client)

	homePower := promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "electricity_mon_home_power_watts",
		Help: "Instantaneous whole-home power from the latest cycle",
	})

	homeEnergy := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "electricity_mon_home_energy_kwh",
		Help: "Accumulated whole-home energy per calendar period",
	}, []string{"period"})

	deviceEnergy := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "electricity_mon_device_energy_kwh",
		Help: "Accumulated per-device energy per calendar period",
	}, []string{"entity", "period"})

	cycles := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "electricity_mon_cycles_total",
		Help: "Total completed accumulation cycles",
	})

	saveFailures := promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "electricity_mon_state_save_failures_total",
		Help: "Total cycles whose state file save failed",
	})

	statusGauge := promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "electricity_mon_component_status",
		Help: "Lifecycle state per component (1 when matching status, 0 otherwise)",
	}, []string{"component", "status"})

	c := &Collector{
		logger:       logger,
		reportSub:    reportSub,
		statusSub:    statusSub,
		homePower:    homePower,
		homeEnergy:   homeEnergy,
		deviceEnergy: deviceEnergy,
		cycles:       cycles,
		saveFailures: saveFailures,
		statusGauge:  statusGauge,
		ctx:          collectorCtx,
		cancel:       cancel,
	}

	c.workers.Add(2)
	go c.consumeReports()
	go c.consumeStatuses()

	logger.Info("metrics collector started")

	return c, nil
}

// Close stops the collector and releases subscribers.
func (c *Collector) Close() {
	c.shutdownOnce.Do(func() {
		c.cancel()
		if c.reportSub != nil {
			c.reportSub.Close()
		}
		if c.statusSub != nil {
			c.statusSub.Close()
		}
		c.workers.Wait()
		c.logger.Info("metrics collector stopped")
	})
}

func (c *Collector) consumeReports() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.reportSub.Events():
			c.observeReport(evt)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) consumeStatuses() {
	defer c.workers.Done()
	for {
		select {
		case evt := <-c.statusSub.Events():
			c.observeStatus(evt)
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Collector) observeReport(evt events.ReportEvent) {
	c.cycles.Inc()
	if evt.SaveFailed {
		c.saveFailures.Inc()
	}

	c.homePower.Set(evt.Report.TotalPowerW)
	for _, period := range energy.Periods {
		c.homeEnergy.WithLabelValues(string(period)).Set(evt.Report.Home[period])
	}
	for entity, totals := range evt.Report.Entities {
		for _, period := range energy.Periods {
			c.deviceEnergy.WithLabelValues(entity, string(period)).Set(totals[period])
		}
	}
}

func (c *Collector) observeStatus(evt events.ConnectionStatusEvent) {
	for _, status := range []events.ConnectionStatus{
		events.ConnectionStatusDisconnected,
		events.ConnectionStatusConnecting,
		events.ConnectionStatusConnected,
		events.ConnectionStatusReconnecting,
		events.ConnectionStatusFailed,
	} {
		value := 0.0
		if status == evt.Status {
			value = 1.0
		}
		c.statusGauge.WithLabelValues(evt.Component, string(status)).Set(value)
	}
}
