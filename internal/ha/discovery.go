package ha

import (
	"fmt"
	"strings"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

// MQTT discovery payloads per the Home Assistant discovery contract. One
// climate entity plus a set of sensors per thermostat, all bound to the
// same registry device and availability topic.

const (
	availabilityOnline  = "online"
	availabilityOffline = "offline"

	climateMinTemp  = 5.0
	climateMaxTemp  = 35.0
	climateTempStep = 0.5
)

// Home Assistant climate modes exposed for Bliss thermostats. "heat" maps to
// the vendor's permanent MANUAL override.
var climateModes = []string{"off", "auto", "heat"}

var haToVendorMode = map[string]model.Mode{
	"off":  model.ModeOff,
	"auto": model.ModeAuto,
	"heat": model.ModeManual,
}

var vendorToHAMode = map[model.Mode]string{
	model.ModeOff:    "off",
	model.ModeAuto:   "auto",
	model.ModeManual: "heat",
	model.ModeEco:    "off",
	model.ModeFrost:  "off",
}

type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

type climateDiscovery struct {
	Name                    string          `json:"name"`
	UniqueID                string          `json:"unique_id"`
	AvailabilityTopic       string          `json:"availability_topic"`
	CurrentTemperatureTopic string          `json:"current_temperature_topic"`
	TemperatureStateTopic   string          `json:"temperature_state_topic"`
	TemperatureCommandTopic string          `json:"temperature_command_topic"`
	ModeStateTopic          string          `json:"mode_state_topic"`
	ModeCommandTopic        string          `json:"mode_command_topic"`
	Modes                   []string        `json:"modes"`
	MinTemp                 float64         `json:"min_temp"`
	MaxTemp                 float64         `json:"max_temp"`
	TempStep                float64         `json:"temp_step"`
	TemperatureUnit         string          `json:"temperature_unit"`
	Device                  discoveryDevice `json:"device"`
}

type sensorDiscovery struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	StateTopic        string          `json:"state_topic"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class,omitempty"`
	EntityCategory    string          `json:"entity_category,omitempty"`
	AvailabilityTopic string          `json:"availability_topic"`
	Device            discoveryDevice `json:"device"`
}

// sensorSpec describes one published sensor entity; the key doubles as the
// state topic leaf and the unique id suffix.
type sensorSpec struct {
	key         string
	name        string
	unit        string
	deviceClass string
	stateClass  string
	diagnostic  bool
}

var sensorSpecs = []sensorSpec{
	{key: "temperature", name: "Temperature", unit: "°C", deviceClass: "temperature", stateClass: "measurement"},
	{key: "humidity", name: "Humidity", unit: "%", deviceClass: "humidity", stateClass: "measurement"},
	{key: "battery", name: "Battery", unit: "%", deviceClass: "battery", stateClass: "measurement", diagnostic: true},
	{key: "wifi", name: "WiFi Level", unit: "dBm", deviceClass: "signal_strength", stateClass: "measurement", diagnostic: true},
	{key: "mode", name: "Mode"},
	{key: "set_point", name: "Set Point", unit: "°C", deviceClass: "temperature"},
	{key: "manual_set_point", name: "Manual Set Point", unit: "°C", deviceClass: "temperature"},
}

// topics derives every MQTT topic for one device from the state prefix.
type topics struct {
	prefix string
	serial string
}

func newTopics(prefix, serial string) topics {
	return topics{prefix: prefix, serial: serial}
}

func (t topics) availability() string { return t.state("availability") }

func (t topics) state(leaf string) string {
	return fmt.Sprintf("%s/%s/%s", t.prefix, t.serial, leaf)
}

func (t topics) command(leaf string) string {
	return t.state(leaf) + "/set"
}

func (t topics) climateConfig(discoveryPrefix string) string {
	return fmt.Sprintf("%s/climate/%s/config", discoveryPrefix, uniqueID(t.serial, ""))
}

func (t topics) sensorConfig(discoveryPrefix, key string) string {
	return fmt.Sprintf("%s/sensor/%s/config", discoveryPrefix, uniqueID(t.serial, key))
}

func uniqueID(serial, suffix string) string {
	id := "finder_bliss_" + sanitizeID(serial)
	if suffix != "" {
		id += "_" + suffix
	}
	return id
}

func sanitizeID(serial string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, serial)
}

func registryDevice(device model.Device) discoveryDevice {
	return discoveryDevice{
		Identifiers:  []string{uniqueID(device.SerialNumber, "")},
		Name:         device.Name,
		Manufacturer: "Finder",
		Model:        device.Tag,
	}
}

func climateConfigPayload(device model.Device, t topics) climateDiscovery {
	return climateDiscovery{
		Name:                    device.Name,
		UniqueID:                uniqueID(device.SerialNumber, "climate"),
		AvailabilityTopic:       t.availability(),
		CurrentTemperatureTopic: t.state("temperature"),
		TemperatureStateTopic:   t.state("target_temperature"),
		TemperatureCommandTopic: t.command("target_temperature"),
		ModeStateTopic:          t.state("hvac_mode"),
		ModeCommandTopic:        t.command("hvac_mode"),
		Modes:                   climateModes,
		MinTemp:                 climateMinTemp,
		MaxTemp:                 climateMaxTemp,
		TempStep:                climateTempStep,
		TemperatureUnit:         "C",
		Device:                  registryDevice(device),
	}
}

func sensorConfigPayload(device model.Device, t topics, spec sensorSpec) sensorDiscovery {
	payload := sensorDiscovery{
		Name:              device.Name + " " + spec.name,
		UniqueID:          uniqueID(device.SerialNumber, spec.key),
		StateTopic:        t.state(spec.key),
		UnitOfMeasurement: spec.unit,
		DeviceClass:       spec.deviceClass,
		StateClass:        spec.stateClass,
		AvailabilityTopic: t.availability(),
		Device:            registryDevice(device),
	}
	if spec.diagnostic {
		payload.EntityCategory = "diagnostic"
	}
	return payload
}
