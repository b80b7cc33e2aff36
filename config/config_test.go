package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "ELECTRICITY_MON_LOG_LEVEL")
	unsetEnv(t, "ELECTRICITY_MON_POLL_INTERVAL")
	unsetEnv(t, "ELECTRICITY_MON_STATE_FILE")
	unsetEnv(t, "ELECTRICITY_MON_METERS_CONFIG")
	unsetEnv(t, "ELECTRICITY_MON_WEB_PORT")
	unsetEnv(t, "ELECTRICITY_MON_MQTT_PORT")
	unsetEnv(t, "ELECTRICITY_MON_INFLUX_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("default log level = %s, want info", cfg.LogLevel)
	}
	if cfg.PollIntervalSeconds != 30 {
		t.Errorf("default poll interval = %d, want 30", cfg.PollIntervalSeconds)
	}
	if cfg.StateFilePath != "./data/energy_state.json" {
		t.Errorf("default state path = %s, want ./data/energy_state.json", cfg.StateFilePath)
	}
	if cfg.MetersConfigPath != "./meters.hujson" {
		t.Errorf("default meters path = %s, want ./meters.hujson", cfg.MetersConfigPath)
	}
	if cfg.WebPort != 8081 {
		t.Errorf("default web port = %d, want 8081", cfg.WebPort)
	}
	if cfg.MQTTPort != 1883 {
		t.Errorf("default MQTT port = %d, want 1883", cfg.MQTTPort)
	}
	if cfg.InfluxURL != "" {
		t.Errorf("default influx URL = %s, want empty (sink disabled)", cfg.InfluxURL)
	}
	if cfg.MetricPrefix != "home.electricity" {
		t.Errorf("default metric prefix = %s, want home.electricity", cfg.MetricPrefix)
	}
}

func TestValidateLogLevel(t *testing.T) {
	t.Setenv("ELECTRICITY_MON_LOG_LEVEL", "fatal")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestValidatePollInterval(t *testing.T) {
	t.Setenv("ELECTRICITY_MON_POLL_INTERVAL", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}

func TestValidatePorts(t *testing.T) {
	if err := os.Setenv("ELECTRICITY_MON_WEB_PORT", "70000"); err != nil {
		t.Fatalf("failed to set env: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("ELECTRICITY_MON_WEB_PORT")
	}()

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid web port")
	}
}

func TestMQTTPortIgnoredWhenDisabled(t *testing.T) {
	t.Setenv("ELECTRICITY_MON_MQTT_ENABLED", "false")
	t.Setenv("ELECTRICITY_MON_MQTT_PORT", "0")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v, MQTT port must not be validated when disabled", err)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()

	if val, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() {
			_ = os.Setenv(key, val)
		})
	} else {
		t.Cleanup(func() {
			_ = os.Unsetenv(key)
		})
	}
	_ = os.Unsetenv(key)
}
