package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nickcrabtree/electricity-monitoring/energy"
	"github.com/influxdata/influxdb/client/v2"
)

// periodFields maps accumulation periods to the historical field names
// downstream dashboards query.
var periodFields = map[energy.Period]string{
	energy.PeriodDay:   "energy_kwh_daily",
	energy.PeriodWeek:  "energy_kwh_weekly",
	energy.PeriodMonth: "energy_kwh_monthly",
	energy.PeriodYear:  "energy_kwh_yearly",
}

// InfluxConfig holds the connection settings for the InfluxDB sink.
type InfluxConfig struct {
	URL          string
	Username     string
	Password     string
	Database     string
	Measurement  string
	MetricPrefix string
}

// InfluxSink writes one batch of points per report to InfluxDB: a
// whole-home aggregate point plus one point per tracked entity.
type InfluxSink struct {
	logger       *slog.Logger
	client       client.Client
	database     string
	measurement  string
	metricPrefix string
}

func NewInfluxSink(logger *slog.Logger, cfg InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx URL is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("influx database is required")
	}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     cfg.URL,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create influx client: %w", err)
	}

	return &InfluxSink{
		logger:       logger,
		client:       c,
		database:     cfg.Database,
		measurement:  cfg.Measurement,
		metricPrefix: cfg.MetricPrefix,
	}, nil
}

func (s *InfluxSink) Name() string {
	return "influxdb"
}

func (s *InfluxSink) WriteReport(_ context.Context, report *energy.Report) error {
	bp, err := batchFromReport(s.database, s.measurement, s.metricPrefix, report)
	if err != nil {
		return err
	}

	if err := s.client.Write(bp); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}

	s.logger.Debug("report written to influx",
		"points", len(bp.Points()),
		"database", s.database,
	)
	return nil
}

func (s *InfluxSink) Close() error {
	return s.client.Close()
}

func batchFromReport(database, measurement, metricPrefix string, report *energy.Report) (client.BatchPoints, error) {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:  database,
		Precision: "s",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	homeFields := map[string]interface{}{
		"power_watts": report.TotalPowerW,
	}
	for period, field := range periodFields {
		homeFields[field] = report.Home[period]
	}

	homePoint, err := client.NewPoint(
		measurement,
		map[string]string{"entity": "aggregate", "domain": metricPrefix},
		homeFields,
		report.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate point: %w", err)
	}
	bp.AddPoint(homePoint)

	for entity, totals := range report.Entities {
		fields := make(map[string]interface{}, len(periodFields))
		for period, field := range periodFields {
			fields[field] = totals[period]
		}

		pt, err := client.NewPoint(
			measurement,
			map[string]string{"entity": entity, "domain": metricPrefix},
			fields,
			report.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create point for %s: %w", entity, err)
		}
		bp.AddPoint(pt)
	}

	return bp, nil
}
