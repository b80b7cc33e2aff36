package meters

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tailscale/hujson"
)

// Config defines the meter configuration file structure.
type Config struct {
	Meters []Meter `json:"meters"`
}

// Meter describes a single configured power meter. Meters are static;
// there is no discovery.
type Meter struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Vendor  string `json:"vendor"`
	Model   string `json:"model"`
}

// LoadConfig reads and validates the HuJSON meter configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read meters config file: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to standardize HuJSON: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal meters config: %w", err)
	}

	if len(cfg.Meters) == 0 {
		return nil, fmt.Errorf("no meters configured")
	}

	seenIDs := make(map[string]struct{}, len(cfg.Meters))

	for i, meter := range cfg.Meters {
		if meter.ID == "" {
			return nil, fmt.Errorf("meter %d has no ID", i)
		}
		if meter.Name == "" {
			return nil, fmt.Errorf("meter %s has no name", meter.ID)
		}
		if meter.Address == "" {
			return nil, fmt.Errorf("meter %s has no address", meter.ID)
		}
		if _, exists := seenIDs[meter.ID]; exists {
			return nil, fmt.Errorf("duplicate meter id %q", meter.ID)
		}
		seenIDs[meter.ID] = struct{}{}

		if cfg.Meters[i].Vendor == "" {
			cfg.Meters[i].Vendor = "tasmota"
		}
	}

	return &cfg, nil
}

// EntityKey returns the stable vendor-qualified identifier used for this
// meter in accumulator state and metric paths, e.g.
// "tasmota.living_room_lamp".
func (m Meter) EntityKey() string {
	return m.Vendor + "." + normalizeName(m.Name)
}

// normalizeName converts a human meter name into a metric-path-safe slug:
// lowercase, spaces and dashes become underscores, everything else
// non-alphanumeric is dropped.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ', r == '-':
			b.WriteRune('_')
		}
	}
	return b.String()
}
