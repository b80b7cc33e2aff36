// Package events defines the typed events exchanged between components
// and a small wrapper around the eventbus with named clients.
package events

import (
	"fmt"
	"log/slog"
	"sync"

	"tailscale.com/util/eventbus"
)

// Well-known client names.
const (
	ClientMain     = "main"
	ClientMeters   = "meters"
	ClientMQTTHook = "mqtthook"
	ClientMetrics  = "metrics"
	ClientWeb      = "web"
	ClientSink     = "sink"
)

// Bus wraps the process event bus and hands out named clients.
type Bus struct {
	logger *slog.Logger
	bus    *eventbus.Bus

	mu      sync.Mutex
	clients map[string]*eventbus.Client
}

// New creates the process event bus.
func New(logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Bus{
		logger:  logger,
		bus:     eventbus.New(),
		clients: make(map[string]*eventbus.Client),
	}, nil
}

// Client returns the eventbus client for the given name, creating it on
// first use. Publishers and subscribers are attached per component via
// eventbus.Publish / eventbus.Subscribe.
func (b *Bus) Client(name string) (*eventbus.Client, error) {
	if name == "" {
		return nil, fmt.Errorf("client name is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if client, ok := b.clients[name]; ok {
		return client, nil
	}

	client := b.bus.Client(name)
	b.clients[name] = client
	return client, nil
}

// Close shuts down the bus and all attached clients.
func (b *Bus) Close() error {
	b.bus.Close()
	return nil
}
