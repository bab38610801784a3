package bliss

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

// devicePayload builds a serverPayload document the way the cloud delivers
// it: the devices array with settings/measures/schedules as JSON strings.
func devicePayload(t *testing.T, devices ...map[string]any) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{"devices": devices})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return string(data)
}

func bliss2Wire(serial string, measures, settings map[string]any) map[string]any {
	m, _ := json.Marshal(measures)
	s, _ := json.Marshal(settings)
	return map[string]any{
		"serialNumber": serial,
		"name":         "Living Room",
		"tag":          model.TagBliss2,
		"handle":       "h-1",
		"houseHandle":  "house-1",
		"measures":     string(m),
		"settings":     string(s),
		"schedules":    "[]",
	}
}

func TestParseDevicesBliss2(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	payload := devicePayload(t, bliss2Wire("SN100", map[string]any{
		"status":       "OK",
		"mode":         3,
		"temperature":  map[string]any{"unit": "C", "value": 215},
		"setPoint":     map[string]any{"unit": "C", "value": 200},
		"humidity":     48,
		"batteryLevel": 80,
		"wifiLevel":    -61,
	}, map[string]any{
		"primary": map[string]any{
			"mode":           "MANUAL",
			"manualSetPoint": map[string]any{"unit": "C", "value": 225, "preset": 0},
		},
	}))

	devices, err := ParseDevices(payload, now)
	if err != nil {
		t.Fatalf("ParseDevices() error: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("ParseDevices() returned %d devices, want 1", len(devices))
	}

	device := devices[0]
	if device.SerialNumber != "SN100" {
		t.Fatalf("SerialNumber = %q", device.SerialNumber)
	}
	snap := device.Snapshot
	if snap.Temperature == nil || *snap.Temperature != 21.5 {
		t.Fatalf("Temperature = %v, want 21.5", snap.Temperature)
	}
	if snap.SetPoint == nil || *snap.SetPoint != 20.0 {
		t.Fatalf("SetPoint = %v, want 20.0", snap.SetPoint)
	}
	if snap.ManualSetPoint == nil || *snap.ManualSetPoint != 22.5 {
		t.Fatalf("ManualSetPoint = %v, want 22.5", snap.ManualSetPoint)
	}
	if snap.Humidity == nil || *snap.Humidity != 48 {
		t.Fatalf("Humidity = %v, want 48", snap.Humidity)
	}
	if snap.Mode != model.ModeManual {
		t.Fatalf("Mode = %q, want MANUAL", snap.Mode)
	}
	if snap.FetchedAt != now {
		t.Fatalf("FetchedAt = %v, want %v", snap.FetchedAt, now)
	}
	if device.RawSettings == "" || device.RawMeasures == "" {
		t.Fatalf("raw documents not preserved: settings=%q measures=%q", device.RawSettings, device.RawMeasures)
	}
}

func TestParseDevicesBliss2ModeMapping(t *testing.T) {
	cases := []struct {
		mode any
		want model.Mode
	}{
		{0, model.ModeOff},
		{1, model.ModeAuto},
		{2, model.ModeOff},
		{3, model.ModeManual},
		{9, model.ModeUnknown},
		{nil, model.ModeOff},
	}
	for _, tc := range cases {
		measures := map[string]any{}
		if tc.mode != nil {
			measures["mode"] = tc.mode
		}
		payload := devicePayload(t, bliss2Wire("SN1", measures, map[string]any{}))
		devices, err := ParseDevices(payload, time.Now())
		if err != nil {
			t.Fatalf("mode %v: ParseDevices() error: %v", tc.mode, err)
		}
		if devices[0].Snapshot.Mode != tc.want {
			t.Fatalf("mode %v: got %q, want %q", tc.mode, devices[0].Snapshot.Mode, tc.want)
		}
	}
}

func TestParseDevicesBliss1ManualMode(t *testing.T) {
	settings, _ := json.Marshal(map[string]any{
		"mode": "OFF",
		"manualSchedule": map[string]any{
			"isOn":     true,
			"setPoint": map[string]any{"unit": "C", "value": 195},
		},
	})
	payload := devicePayload(t, map[string]any{
		"serialNumber": "SN200",
		"name":         "Bedroom",
		"tag":          model.TagBliss1,
		"measures":     `{"temperature":190}`,
		"settings":     string(settings),
	})

	devices, err := ParseDevices(payload, time.Now())
	if err != nil {
		t.Fatalf("ParseDevices() error: %v", err)
	}
	snap := devices[0].Snapshot
	if snap.Mode != model.ModeManual {
		t.Fatalf("Mode = %q, want MANUAL", snap.Mode)
	}
	if snap.ManualSetPoint == nil || *snap.ManualSetPoint != 19.5 {
		t.Fatalf("ManualSetPoint = %v, want 19.5", snap.ManualSetPoint)
	}
	if snap.Temperature == nil || *snap.Temperature != 19.0 {
		t.Fatalf("Temperature = %v, want 19.0", snap.Temperature)
	}
}

func TestParseDevicesSkipsForeignAndDeleted(t *testing.T) {
	payload := devicePayload(t,
		map[string]any{"serialNumber": "GW1", "tag": "GATEWAY"},
		map[string]any{"serialNumber": "SN1", "tag": model.TagBliss2, "isDeleted": true},
		bliss2Wire("SN2", map[string]any{}, map[string]any{}),
	)
	devices, err := ParseDevices(payload, time.Now())
	if err != nil {
		t.Fatalf("ParseDevices() error: %v", err)
	}
	if len(devices) != 1 || devices[0].SerialNumber != "SN2" {
		t.Fatalf("ParseDevices() = %+v, want only SN2", devices)
	}
}

func TestParseDevicesRejectsMissingSerial(t *testing.T) {
	payload := devicePayload(t, map[string]any{"tag": model.TagBliss2})
	_, err := ParseDevices(payload, time.Now())
	if !errors.Is(err, ErrUnexpectedPayload) {
		t.Fatalf("ParseDevices() error = %v, want ErrUnexpectedPayload", err)
	}
}

func TestParseDevicesRejectsUnparseablePayload(t *testing.T) {
	_, err := ParseDevices("not json", time.Now())
	if !errors.Is(err, ErrUnexpectedPayload) {
		t.Fatalf("ParseDevices() error = %v, want ErrUnexpectedPayload", err)
	}
}

func TestParseDevicesRejectsUnexpectedMeasureShape(t *testing.T) {
	payload := devicePayload(t, map[string]any{
		"serialNumber": "SN3",
		"tag":          model.TagBliss2,
		"measures":     `{"temperature":[1,2,3]}`,
	})
	_, err := ParseDevices(payload, time.Now())
	if !errors.Is(err, ErrUnexpectedPayload) {
		t.Fatalf("ParseDevices() error = %v, want ErrUnexpectedPayload", err)
	}
}

func TestParseDevicesAcceptsInlineNestedDocuments(t *testing.T) {
	// Some payload captures carry settings inlined instead of string-encoded.
	payload := `{"devices":[{"serialNumber":"SN4","tag":"BLISS2","measures":{"temperature":180},"settings":{"primary":{"mode":"AUTO"}}}]}`
	devices, err := ParseDevices(payload, time.Now())
	if err != nil {
		t.Fatalf("ParseDevices() error: %v", err)
	}
	if devices[0].Snapshot.Temperature == nil || *devices[0].Snapshot.Temperature != 18.0 {
		t.Fatalf("Temperature = %v, want 18.0", devices[0].Snapshot.Temperature)
	}
	if devices[0].RawSettings != `{"primary":{"mode":"AUTO"}}` {
		t.Fatalf("RawSettings = %q", devices[0].RawSettings)
	}
}

func TestParseDevicesDefaultsBlankDocuments(t *testing.T) {
	payload := devicePayload(t, map[string]any{
		"serialNumber": "SN5",
		"tag":          model.TagBliss2,
	})
	devices, err := ParseDevices(payload, time.Now())
	if err != nil {
		t.Fatalf("ParseDevices() error: %v", err)
	}
	device := devices[0]
	if device.RawSettings != "{}" || device.RawMeasures != "{}" || device.RawSchedules != "[]" {
		t.Fatalf("blank documents not defaulted: %q %q %q", device.RawSettings, device.RawMeasures, device.RawSchedules)
	}
	if device.Name != "SN5" {
		t.Fatalf("Name = %q, want serial fallback", device.Name)
	}
}
