package electricitymon

import (
	"bytes"
	"log/slog"
	"strings"
	"time"

	"github.com/nickcrabtree/electricity-monitoring/events"
	"github.com/nickcrabtree/electricity-monitoring/meters"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"tailscale.com/util/eventbus"
)

// MQTTHook receives SENSOR telemetry that meters push to the embedded
// broker and republishes the power readings on the eventbus.
type MQTTHook struct {
	mqtt.HookBase
	logger             *slog.Logger
	telemetryPublisher *eventbus.Publisher[events.TelemetryEvent]
}

func NewMQTTHook(logger *slog.Logger, bus *events.Bus) (*MQTTHook, error) {
	busClient, err := bus.Client(events.ClientMQTTHook)
	if err != nil {
		return nil, err
	}

	return &MQTTHook{
		logger:             logger,
		telemetryPublisher: eventbus.Publish[events.TelemetryEvent](busClient),
	}, nil
}

// ID returns the hook identifier
func (h *MQTTHook) ID() string {
	return "meter-telemetry-hook"
}

// Provides returns the hook methods this hook provides
func (h *MQTTHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnect,
		mqtt.OnDisconnect,
		mqtt.OnPublish,
	}, []byte{b})
}

// OnConnect is called when a client connects
func (h *MQTTHook) OnConnect(cl *mqtt.Client, pk packets.Packet) error {
	h.logger.Info("MQTT client connected", "client_id", cl.ID)
	return nil
}

// OnDisconnect is called when a client disconnects
func (h *MQTTHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.logger.Info("MQTT client disconnected", "client_id", cl.ID, "error", err, "expire", expire)
}

// OnPublish is called when a message is received from a client. Power
// readings from SENSOR topics are forwarded to the eventbus; everything
// else passes through untouched.
func (h *MQTTHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	topic := pk.TopicName

	h.logger.Debug("MQTT message received",
		"topic", topic,
		"payload", string(pk.Payload),
	)

	// Topics are typically: tele/<meter-id>/SENSOR, with some firmwares
	// adding a vendor segment: tele/tasmota/<meter-id>/SENSOR.
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[0] != "tele" || parts[len(parts)-1] != "SENSOR" {
		return pk, nil
	}
	meterID := parts[len(parts)-2]
	if meterID == "" {
		return pk, nil
	}

	power, err := meters.ParsePower(pk.Payload)
	if err != nil {
		h.logger.Debug("failed to parse sensor payload",
			"topic", topic,
			"error", err,
		)
		return pk, nil
	}

	h.logger.Debug("power reading from MQTT",
		"meter_id", meterID,
		"power_watts", power,
	)

	h.telemetryPublisher.Publish(events.TelemetryEvent{
		Timestamp: time.Now(),
		MeterID:   meterID,
		PowerW:    power,
	})

	return pk, nil
}
