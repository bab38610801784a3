package bliss

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

func decodeSettings(t *testing.T, raw string) map[string]any {
	t.Helper()
	var settings map[string]any
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		t.Fatalf("settings not valid JSON: %v", err)
	}
	return settings
}

func floatPtr(v float64) *float64 { return &v }

func TestSetpointSettingsBliss2(t *testing.T) {
	device := model.Device{
		SerialNumber: "SN1",
		Tag:          model.TagBliss2,
		RawSettings:  `{"primary":{"mode":"AUTO"},"manualTimer":{"isOn":true},"other":"kept"}`,
	}

	raw, err := SetpointSettings(device, 21.5)
	if err != nil {
		t.Fatalf("SetpointSettings() error: %v", err)
	}
	settings := decodeSettings(t, raw)

	primary, ok := settings["primary"].(map[string]any)
	if !ok {
		t.Fatalf("primary missing: %v", settings)
	}
	if primary["mode"] != "MANUAL" {
		t.Fatalf("primary.mode = %v, want MANUAL", primary["mode"])
	}
	setpoint, ok := primary["manualSetPoint"].(map[string]any)
	if !ok {
		t.Fatalf("manualSetPoint missing: %v", primary)
	}
	if setpoint["value"] != float64(215) {
		t.Fatalf("manualSetPoint.value = %v, want 215", setpoint["value"])
	}
	if setpoint["unit"] != "C" {
		t.Fatalf("manualSetPoint.unit = %v, want C", setpoint["unit"])
	}
	if _, present := settings["manualTimer"]; present {
		t.Fatalf("manualTimer not removed: %v", settings)
	}
	if settings["other"] != "kept" {
		t.Fatalf("unrelated settings key lost: %v", settings)
	}
}

func TestSetpointSettingsBliss1(t *testing.T) {
	device := model.Device{
		SerialNumber: "SN2",
		Tag:          model.TagBliss1,
		RawSettings:  `{"mode":"AUTO"}`,
	}

	raw, err := SetpointSettings(device, 19)
	if err != nil {
		t.Fatalf("SetpointSettings() error: %v", err)
	}
	settings := decodeSettings(t, raw)

	if settings["mode"] != "OFF" {
		t.Fatalf("mode = %v, want OFF", settings["mode"])
	}
	schedule, ok := settings["manualSchedule"].(map[string]any)
	if !ok {
		t.Fatalf("manualSchedule missing: %v", settings)
	}
	if schedule["isOn"] != true {
		t.Fatalf("manualSchedule.isOn = %v, want true", schedule["isOn"])
	}
	setpoint := schedule["setPoint"].(map[string]any)
	if setpoint["value"] != float64(190) {
		t.Fatalf("setPoint.value = %v, want 190", setpoint["value"])
	}
}

func TestSetpointSettingsRoundsToTenths(t *testing.T) {
	device := model.Device{Tag: model.TagBliss2, RawSettings: "{}"}
	raw, err := SetpointSettings(device, 20.55)
	if err != nil {
		t.Fatalf("SetpointSettings() error: %v", err)
	}
	settings := decodeSettings(t, raw)
	setpoint := settings["primary"].(map[string]any)["manualSetPoint"].(map[string]any)
	if setpoint["value"] != float64(206) {
		t.Fatalf("value = %v, want 206", setpoint["value"])
	}
}

func TestModeSettingsBliss2ClearsManualSetpoint(t *testing.T) {
	device := model.Device{
		Tag:         model.TagBliss2,
		RawSettings: `{"primary":{"mode":"MANUAL","manualSetPoint":{"unit":"C","value":210,"preset":0}}}`,
	}

	raw, err := ModeSettings(device, model.ModeAuto)
	if err != nil {
		t.Fatalf("ModeSettings() error: %v", err)
	}
	settings := decodeSettings(t, raw)
	primary := settings["primary"].(map[string]any)
	if primary["mode"] != "AUTO" {
		t.Fatalf("primary.mode = %v, want AUTO", primary["mode"])
	}
	if primary["manualSetPoint"] != nil {
		t.Fatalf("manualSetPoint = %v, want nil", primary["manualSetPoint"])
	}
}

func TestModeSettingsBliss2ManualSeedsSetpoint(t *testing.T) {
	device := model.Device{
		Tag:         model.TagBliss2,
		RawSettings: `{"primary":{"mode":"AUTO"}}`,
		Snapshot:    model.Snapshot{SetPoint: floatPtr(20.5)},
	}

	raw, err := ModeSettings(device, model.ModeManual)
	if err != nil {
		t.Fatalf("ModeSettings() error: %v", err)
	}
	settings := decodeSettings(t, raw)
	primary := settings["primary"].(map[string]any)
	if primary["mode"] != "MANUAL" {
		t.Fatalf("primary.mode = %v, want MANUAL", primary["mode"])
	}
	setpoint := primary["manualSetPoint"].(map[string]any)
	if setpoint["value"] != float64(205) {
		t.Fatalf("seeded value = %v, want 205", setpoint["value"])
	}
}

func TestModeSettingsBliss2ManualFallsBackWithoutKnownSetpoint(t *testing.T) {
	device := model.Device{Tag: model.TagBliss2, RawSettings: "{}"}
	raw, err := ModeSettings(device, model.ModeManual)
	if err != nil {
		t.Fatalf("ModeSettings() error: %v", err)
	}
	settings := decodeSettings(t, raw)
	setpoint := settings["primary"].(map[string]any)["manualSetPoint"].(map[string]any)
	if setpoint["value"] != float64(180) {
		t.Fatalf("fallback value = %v, want 180", setpoint["value"])
	}
}

func TestModeSettingsBliss1(t *testing.T) {
	device := model.Device{
		Tag:         model.TagBliss1,
		RawSettings: `{"mode":"OFF","manualSchedule":{"isOn":true,"setPoint":{"unit":"C","value":200}}}`,
	}

	raw, err := ModeSettings(device, model.ModeAuto)
	if err != nil {
		t.Fatalf("ModeSettings() error: %v", err)
	}
	settings := decodeSettings(t, raw)
	if settings["mode"] != "AUTO" {
		t.Fatalf("mode = %v, want AUTO", settings["mode"])
	}
	schedule := settings["manualSchedule"].(map[string]any)
	if schedule["isOn"] != false {
		t.Fatalf("manualSchedule.isOn = %v, want false", schedule["isOn"])
	}
}

func TestModeSettingsBliss1RejectsEco(t *testing.T) {
	device := model.Device{Tag: model.TagBliss1, RawSettings: "{}"}
	_, err := ModeSettings(device, model.ModeEco)
	if !errors.Is(err, ErrUnsupportedMode) {
		t.Fatalf("ModeSettings() error = %v, want ErrUnsupportedMode", err)
	}
}

func TestSettersRejectMalformedSettings(t *testing.T) {
	device := model.Device{Tag: model.TagBliss2, RawSettings: "not json"}
	if _, err := SetpointSettings(device, 20); !errors.Is(err, ErrUnexpectedPayload) {
		t.Fatalf("SetpointSettings() error = %v, want ErrUnexpectedPayload", err)
	}
	if _, err := ModeSettings(device, model.ModeOff); !errors.Is(err, ErrUnexpectedPayload) {
		t.Fatalf("ModeSettings() error = %v, want ErrUnexpectedPayload", err)
	}
}
