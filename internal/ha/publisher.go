package ha

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/sync/errgroup"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

// CommandHandler receives user commands arriving from Home Assistant.
type CommandHandler interface {
	SetTargetTemperature(ctx context.Context, serial string, celsius float64) error
	SetMode(ctx context.Context, serial string, mode model.Mode) error
}

// Broker is the slice of the MQTT client the publisher needs.
type Broker interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, handler mqtt.MessageHandler) error
}

// Publisher maps thermostat state onto Home Assistant MQTT discovery
// entities: one climate entity and a sensor set per device, with a shared
// per-device availability topic.
type Publisher struct {
	mqtt            Broker
	prefix          string
	discoveryPrefix string
	logger          *slog.Logger

	mu        sync.Mutex
	announced map[string]map[string]bool
}

func NewPublisher(client Broker, prefix, discoveryPrefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		mqtt:            client,
		prefix:          prefix,
		discoveryPrefix: discoveryPrefix,
		logger:          logger,
		announced:       map[string]map[string]bool{},
	}
}

// PublishDevices announces and updates all devices of one poll cycle.
func (p *Publisher) PublishDevices(ctx context.Context, devices []model.Device) error {
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(4)
	for _, device := range devices {
		group.Go(func() error {
			return p.publishDevice(device)
		})
	}
	return group.Wait()
}

func (p *Publisher) publishDevice(device model.Device) error {
	t := newTopics(p.prefix, device.SerialNumber)

	if err := p.announce(device, t); err != nil {
		return err
	}
	if err := p.publishStates(device, t); err != nil {
		return err
	}
	return p.mqtt.Publish(t.availability(), []byte(availabilityOnline), true)
}

// MarkOffline flips the availability topic for devices whose state could
// not be refreshed; retained state topics keep the last-known values.
func (p *Publisher) MarkOffline(serials []string) {
	for _, serial := range serials {
		t := newTopics(p.prefix, serial)
		if err := p.mqtt.Publish(t.availability(), []byte(availabilityOffline), true); err != nil {
			p.logger.Warn("availability publish failed", "serial", serial, "err", err)
		}
	}
}

// Remove clears the retained discovery configs and state topics of a device
// that disappeared from the account, deleting its entities in Home
// Assistant.
func (p *Publisher) Remove(serial string) {
	t := newTopics(p.prefix, serial)

	wipe := func(topic string) {
		if err := p.mqtt.Publish(topic, nil, true); err != nil {
			p.logger.Warn("discovery cleanup failed", "topic", topic, "err", err)
		}
	}

	wipe(t.climateConfig(p.discoveryPrefix))
	for _, spec := range sensorSpecs {
		wipe(t.sensorConfig(p.discoveryPrefix, spec.key))
		wipe(t.state(spec.key))
	}
	wipe(t.state("target_temperature"))
	wipe(t.state("hvac_mode"))
	wipe(t.availability())

	p.mu.Lock()
	delete(p.announced, serial)
	p.mu.Unlock()
}

// SubscribeCommands wires the climate command topics to the handler.
// Handlers run detached so a slow cloud write never blocks the broker
// callback pump.
func (p *Publisher) SubscribeCommands(handler CommandHandler) error {
	if err := p.mqtt.Subscribe(p.prefix+"/+/target_temperature/set", func(_ mqtt.Client, msg mqtt.Message) {
		serial, ok := p.serialFromTopic(msg.Topic())
		if !ok {
			return
		}
		celsius, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		if err != nil {
			p.logger.Warn("invalid target temperature command", "serial", serial, "payload", string(msg.Payload()))
			return
		}
		go p.dispatch(serial, "set_temperature", func(ctx context.Context) error {
			return handler.SetTargetTemperature(ctx, serial, celsius)
		})
	}); err != nil {
		return err
	}

	return p.mqtt.Subscribe(p.prefix+"/+/hvac_mode/set", func(_ mqtt.Client, msg mqtt.Message) {
		serial, ok := p.serialFromTopic(msg.Topic())
		if !ok {
			return
		}
		haMode := strings.ToLower(strings.TrimSpace(string(msg.Payload())))
		mode, ok := haToVendorMode[haMode]
		if !ok {
			p.logger.Warn("invalid hvac mode command", "serial", serial, "payload", haMode)
			return
		}
		go p.dispatch(serial, "set_mode", func(ctx context.Context) error {
			return handler.SetMode(ctx, serial, mode)
		})
	})
}

func (p *Publisher) dispatch(serial, op string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		p.logger.Error("command failed", "op", op, "serial", serial, "err", err)
	}
}

func (p *Publisher) serialFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", false
	}
	return parts[1], true
}

// announce publishes retained discovery configs once per device and sensor.
// Sensors appear only for values the device actually reports. The lock is
// held across the seen-map checks so concurrent publishes of the same device
// cannot double-announce.
func (p *Publisher) announce(device model.Device, t topics) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := p.announced[device.SerialNumber]
	if seen == nil {
		seen = map[string]bool{}
		p.announced[device.SerialNumber] = seen
	}

	if device.SupportsClimate() && !seen["climate"] {
		payload, err := json.Marshal(climateConfigPayload(device, t))
		if err != nil {
			return err
		}
		if err := p.mqtt.Publish(t.climateConfig(p.discoveryPrefix), payload, true); err != nil {
			return err
		}
		seen["climate"] = true
	}

	for _, spec := range sensorSpecs {
		if seen[spec.key] {
			continue
		}
		if _, ok := sensorValue(device.Snapshot, spec.key); !ok {
			continue
		}
		payload, err := json.Marshal(sensorConfigPayload(device, t, spec))
		if err != nil {
			return err
		}
		if err := p.mqtt.Publish(t.sensorConfig(p.discoveryPrefix, spec.key), payload, true); err != nil {
			return err
		}
		seen[spec.key] = true
	}
	return nil
}

func (p *Publisher) publishStates(device model.Device, t topics) error {
	snapshot := device.Snapshot

	for _, spec := range sensorSpecs {
		value, ok := sensorValue(snapshot, spec.key)
		if !ok {
			continue
		}
		if err := p.mqtt.Publish(t.state(spec.key), []byte(value), true); err != nil {
			return err
		}
	}

	if target, ok := targetTemperature(snapshot); ok {
		if err := p.mqtt.Publish(t.state("target_temperature"), []byte(formatTemp(target)), true); err != nil {
			return err
		}
	}

	haMode, ok := vendorToHAMode[snapshot.Mode]
	if !ok {
		haMode = "off"
	}
	return p.mqtt.Publish(t.state("hvac_mode"), []byte(haMode), true)
}

// targetTemperature prefers the user's manual override when one is set,
// matching what the thermostat display shows.
func targetTemperature(snapshot model.Snapshot) (float64, bool) {
	if snapshot.ManualSetPoint != nil && *snapshot.ManualSetPoint > 0 {
		return *snapshot.ManualSetPoint, true
	}
	if snapshot.SetPoint != nil {
		return *snapshot.SetPoint, true
	}
	return 0, false
}

func sensorValue(snapshot model.Snapshot, key string) (string, bool) {
	switch key {
	case "temperature":
		return formatFloat(snapshot.Temperature, 1)
	case "humidity":
		return formatFloat(snapshot.Humidity, 0)
	case "battery":
		return formatFloat(snapshot.BatteryLevel, 0)
	case "wifi":
		return formatFloat(snapshot.WifiLevel, 0)
	case "mode":
		if snapshot.Mode == "" {
			return "", false
		}
		return string(snapshot.Mode), true
	case "set_point":
		return formatFloat(snapshot.SetPoint, 1)
	case "manual_set_point":
		return formatFloat(snapshot.ManualSetPoint, 1)
	default:
		return "", false
	}
}

func formatFloat(value *float64, precision int) (string, bool) {
	if value == nil {
		return "", false
	}
	return strconv.FormatFloat(*value, 'f', precision, 64), true
}

func formatTemp(value float64) string {
	return strconv.FormatFloat(value, 'f', 1, 64)
}
