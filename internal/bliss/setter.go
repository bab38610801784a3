package bliss

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

// Setters mutate a copy of the device's current settings document and send
// it back whole; the cloud treats the settings string as one unit. The
// manualTimer key overrides primary.mode server-side, so every mutation
// drops it.

var ErrUnsupportedMode = errors.New("mode not supported by this device")

const fallbackSetpointCelsius = 18.0

// SetpointSettings returns the settings document that pins the device to a
// permanent manual setpoint.
func SetpointSettings(device model.Device, celsius float64) (string, error) {
	settings, err := settingsMap(device.RawSettings)
	if err != nil {
		return "", err
	}

	if device.Tag == model.TagBliss1 {
		settings["mode"] = "OFF"
		schedule := childMap(settings, "manualSchedule")
		schedule["isOn"] = true
		schedule["setPoint"] = setpointObject(celsius)
		settings["manualSchedule"] = schedule
	} else {
		primary := childMap(settings, "primary")
		primary["mode"] = string(model.ModeManual)
		primary["manualSetPoint"] = setpointObject(celsius)
		settings["primary"] = primary
	}
	delete(settings, "manualTimer")

	return marshalSettings(settings)
}

// ModeSettings returns the settings document that switches the device's
// operating mode. Switching to MANUAL keeps or seeds a manual setpoint;
// every other mode clears it.
func ModeSettings(device model.Device, mode model.Mode) (string, error) {
	settings, err := settingsMap(device.RawSettings)
	if err != nil {
		return "", err
	}

	if device.Tag == model.TagBliss1 {
		if err := applyBliss1Mode(settings, device, mode); err != nil {
			return "", err
		}
	} else {
		if err := applyBliss2Mode(settings, device, mode); err != nil {
			return "", err
		}
	}
	delete(settings, "manualTimer")

	return marshalSettings(settings)
}

func applyBliss2Mode(settings map[string]any, device model.Device, mode model.Mode) error {
	switch mode {
	case model.ModeAuto, model.ModeOff, model.ModeEco, model.ModeFrost:
		settings["primary"] = map[string]any{
			"mode":           string(mode),
			"manualSetPoint": nil,
		}
	case model.ModeManual:
		primary := childMap(settings, "primary")
		if primary["manualSetPoint"] == nil {
			primary["manualSetPoint"] = setpointObject(currentSetpoint(device))
		}
		primary["mode"] = string(model.ModeManual)
		settings["primary"] = primary
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	return nil
}

// First-generation devices have no primary block: AUTO is a top-level mode,
// manual operation is mode OFF with the manual schedule armed.
func applyBliss1Mode(settings map[string]any, device model.Device, mode model.Mode) error {
	schedule := childMap(settings, "manualSchedule")
	switch mode {
	case model.ModeAuto:
		settings["mode"] = "AUTO"
		schedule["isOn"] = false
	case model.ModeOff:
		settings["mode"] = "OFF"
		schedule["isOn"] = false
	case model.ModeManual:
		settings["mode"] = "OFF"
		schedule["isOn"] = true
		if schedule["setPoint"] == nil {
			schedule["setPoint"] = setpointObject(currentSetpoint(device))
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}
	settings["manualSchedule"] = schedule
	return nil
}

func settingsMap(raw string) (map[string]any, error) {
	settings := map[string]any{}
	if raw == "" {
		return settings, nil
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, fmt.Errorf("%w: settings: %v", ErrUnexpectedPayload, err)
	}
	return settings, nil
}

func childMap(parent map[string]any, key string) map[string]any {
	if child, ok := parent[key].(map[string]any); ok {
		return child
	}
	return map[string]any{}
}

// setpointObject encodes a target temperature the way the app does: tenths
// of a degree Celsius with the default preset slot.
func setpointObject(celsius float64) map[string]any {
	return map[string]any{
		"unit":   "C",
		"value":  int(math.Round(celsius * 10)),
		"preset": 0,
	}
}

func currentSetpoint(device model.Device) float64 {
	if device.Snapshot.ManualSetPoint != nil && *device.Snapshot.ManualSetPoint > 0 {
		return *device.Snapshot.ManualSetPoint
	}
	if device.Snapshot.SetPoint != nil && *device.Snapshot.SetPoint > 0 {
		return *device.Snapshot.SetPoint
	}
	return fallbackSetpointCelsius
}

func marshalSettings(settings map[string]any) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
