// Package config loads environment-driven daemon configuration.
package config

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// Config holds all environment-driven configuration.
type Config struct {
	// Logging options
	LogLevel  string `env:"ELECTRICITY_MON_LOG_LEVEL,default=info"`
	LogFormat string `env:"ELECTRICITY_MON_LOG_FORMAT,default=json"`

	// Sampling cycle
	PollIntervalSeconds int    `env:"ELECTRICITY_MON_POLL_INTERVAL,default=30"`
	StateFilePath       string `env:"ELECTRICITY_MON_STATE_FILE,default=./data/energy_state.json"`
	MetersConfigPath    string `env:"ELECTRICITY_MON_METERS_CONFIG,default=./meters.hujson"`

	// Metric naming prefix for the time-series sink
	MetricPrefix string `env:"ELECTRICITY_MON_METRIC_PREFIX,default=home.electricity"`

	// Embedded MQTT listener for pushed meter telemetry
	MQTTEnabled bool `env:"ELECTRICITY_MON_MQTT_ENABLED,default=true"`
	MQTTPort    int  `env:"ELECTRICITY_MON_MQTT_PORT,default=1883"`

	// Web listener (dashboard, /state, /health, /metrics)
	WebPort int `env:"ELECTRICITY_MON_WEB_PORT,default=8081"`

	// InfluxDB sink; disabled when the URL is empty
	InfluxURL         string `env:"ELECTRICITY_MON_INFLUX_URL"`
	InfluxUsername    string `env:"ELECTRICITY_MON_INFLUX_USER"`
	InfluxPassword    string `env:"ELECTRICITY_MON_INFLUX_PASS"`
	InfluxDatabase    string `env:"ELECTRICITY_MON_INFLUX_DATABASE,default=electricity"`
	InfluxMeasurement string `env:"ELECTRICITY_MON_INFLUX_MEASUREMENT,default=power"`

	// Sink retry policy
	SinkRetryAttempts       int `env:"ELECTRICITY_MON_SINK_RETRY_ATTEMPTS,default=3"`
	SinkRetryBackoffSeconds int `env:"ELECTRICITY_MON_SINK_RETRY_BACKOFF,default=2"`

	// Tailscale configuration for the web listener
	TailscaleHostname string `env:"ELECTRICITY_MON_TS_HOSTNAME,default=electricity-monitoring"`
	TailscaleAuthKey  string `env:"ELECTRICITY_MON_TS_AUTHKEY"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate ensures basic correctness of the configuration.
func (c *Config) Validate() error {
	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := validateLogFormat(c.LogFormat); err != nil {
		return err
	}
	if c.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll interval must be at least 1 second, got %d", c.PollIntervalSeconds)
	}
	if c.StateFilePath == "" {
		return fmt.Errorf("StateFilePath cannot be empty")
	}
	if c.MetersConfigPath == "" {
		return fmt.Errorf("MetersConfigPath cannot be empty")
	}
	if err := validatePortRange("web", c.WebPort); err != nil {
		return err
	}
	if c.MQTTEnabled {
		if err := validatePortRange("MQTT", c.MQTTPort); err != nil {
			return err
		}
	}
	if c.SinkRetryAttempts < 1 {
		return fmt.Errorf("sink retry attempts must be at least 1, got %d", c.SinkRetryAttempts)
	}
	if c.SinkRetryBackoffSeconds < 0 {
		return fmt.Errorf("sink retry backoff cannot be negative, got %d", c.SinkRetryBackoffSeconds)
	}
	return nil
}

// PollInterval returns the sampling cycle interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SinkRetryBackoff returns the sink retry backoff step.
func (c *Config) SinkRetryBackoff() time.Duration {
	return time.Duration(c.SinkRetryBackoffSeconds) * time.Second
}

func validatePortRange(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s port must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", level)
	}
}

func validateLogFormat(format string) error {
	switch format {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("invalid log format %q, must be 'json' or 'console'", format)
	}
}
