package bliss

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

// The vendor nests settings, measures and schedules as JSON strings inside
// the device objects. They are kept verbatim on the model because setters
// must echo them back; parsing happens on a private copy.

type wireEnvelope struct {
	Devices []wireDevice `json:"devices"`
}

type wireDevice struct {
	Handle        json.RawMessage `json:"handle"`
	Tag           string          `json:"tag"`
	Name          string          `json:"name"`
	SerialNumber  string          `json:"serialNumber"`
	Role          json.RawMessage `json:"role"`
	HouseHandle   json.RawMessage `json:"houseHandle"`
	GatewayHandle json.RawMessage `json:"gatewayHandle"`
	Channel       json.RawMessage `json:"channel"`
	IsDeleted     bool            `json:"isDeleted"`
	Settings      nestedJSON      `json:"settings"`
	Measures      nestedJSON      `json:"measures"`
	Schedules     nestedJSON      `json:"schedules"`
}

// nestedJSON accepts either a JSON string holding a document (the usual
// wire form) or an inlined document, and always stores the document text.
type nestedJSON string

func (n *nestedJSON) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		*n = nestedJSON(inner)
		return nil
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return err
	}
	*n = nestedJSON(compact.String())
	return nil
}

// measureValue accepts the two encodings seen on the wire: a bare number or
// an object carrying {"unit":…,"value":…}. Absent and null values stay nil;
// any other shape is rejected.
type measureValue struct {
	Value *float64
}

func (v *measureValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '{' {
		var obj struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("%w: measure object: %v", ErrUnexpectedPayload, err)
		}
		v.Value = obj.Value
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("%w: measure value %s", ErrUnexpectedPayload, data)
	}
	v.Value = &num
	return nil
}

type measuresDoc struct {
	Status       string          `json:"status"`
	Mode         json.RawMessage `json:"mode"`
	Temperature  measureValue    `json:"temperature"`
	SetPoint     measureValue    `json:"setPoint"`
	Humidity     measureValue    `json:"humidity"`
	BatteryLevel measureValue    `json:"batteryLevel"`
	WifiLevel    measureValue    `json:"wifiLevel"`
}

type settingsDoc struct {
	Mode           string `json:"mode"`
	ManualSchedule struct {
		IsOn     bool         `json:"isOn"`
		SetPoint measureValue `json:"setPoint"`
	} `json:"manualSchedule"`
	Primary struct {
		Mode           string       `json:"mode"`
		ManualSetPoint measureValue `json:"manualSetPoint"`
	} `json:"primary"`
}

// ParseDevices turns a serverPayload document into the thermostat list.
// Devices outside the BLISS1/BLISS2 families (gateways, relays) and deleted
// devices are skipped; malformed device entries fail the whole payload.
func ParseDevices(payload string, fetchedAt time.Time) ([]model.Device, error) {
	var envelope wireEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedPayload, err)
	}

	devices := make([]model.Device, 0, len(envelope.Devices))
	for _, wire := range envelope.Devices {
		if wire.Tag != model.TagBliss1 && wire.Tag != model.TagBliss2 {
			continue
		}
		if wire.IsDeleted {
			continue
		}
		device, err := parseDevice(wire, fetchedAt)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", wire.SerialNumber, err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func parseDevice(wire wireDevice, fetchedAt time.Time) (model.Device, error) {
	if wire.SerialNumber == "" {
		return model.Device{}, fmt.Errorf("%w: missing serialNumber", ErrUnexpectedPayload)
	}

	measures, err := parseMeasures(string(wire.Measures))
	if err != nil {
		return model.Device{}, err
	}
	settings, err := parseSettings(string(wire.Settings))
	if err != nil {
		return model.Device{}, err
	}

	snapshot := model.Snapshot{
		Temperature:  scaleTenths(measures.Temperature.Value),
		SetPoint:     scaleTenths(measures.SetPoint.Value),
		Humidity:     measures.Humidity.Value,
		BatteryLevel: measures.BatteryLevel.Value,
		WifiLevel:    measures.WifiLevel.Value,
		Status:       measures.Status,
		FetchedAt:    fetchedAt,
	}

	if wire.Tag == model.TagBliss2 {
		snapshot.Mode = bliss2Mode(measures.Mode)
		snapshot.ManualSetPoint = scaleTenths(settings.Primary.ManualSetPoint.Value)
	} else {
		snapshot.Mode = bliss1Mode(settings)
		snapshot.ManualSetPoint = scaleTenths(settings.ManualSchedule.SetPoint.Value)
	}

	name := wire.Name
	if name == "" {
		name = wire.SerialNumber
	}

	return model.Device{
		SerialNumber:  wire.SerialNumber,
		Name:          name,
		Tag:           wire.Tag,
		Handle:        wire.Handle,
		HouseHandle:   wire.HouseHandle,
		GatewayHandle: wire.GatewayHandle,
		Role:          wire.Role,
		Channel:       wire.Channel,
		IsDeleted:     wire.IsDeleted,
		RawSettings:   emptyObjectIfBlank(string(wire.Settings), "{}"),
		RawMeasures:   emptyObjectIfBlank(string(wire.Measures), "{}"),
		RawSchedules:  emptyObjectIfBlank(string(wire.Schedules), "[]"),
		Snapshot:      snapshot,
	}, nil
}

func parseMeasures(raw string) (measuresDoc, error) {
	var doc measuresDoc
	if raw == "" {
		return doc, nil
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return doc, fmt.Errorf("measures: %w", err)
	}
	return doc, nil
}

func parseSettings(raw string) (settingsDoc, error) {
	var doc settingsDoc
	if raw == "" {
		return doc, nil
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return doc, fmt.Errorf("settings: %w", err)
	}
	return doc, nil
}

// bliss2Mode maps the numeric measures.mode of second-generation devices.
// 2 is the eco/frost standby the app renders as off.
func bliss2Mode(raw json.RawMessage) model.Mode {
	if len(raw) == 0 {
		return model.ModeOff
	}
	var numeric int
	if err := json.Unmarshal(raw, &numeric); err != nil {
		return model.ModeUnknown
	}
	switch numeric {
	case 0, 2:
		return model.ModeOff
	case 1:
		return model.ModeAuto
	case 3:
		return model.ModeManual
	default:
		return model.ModeUnknown
	}
}

// bliss1Mode derives the mode of first-generation devices, which encode
// manual operation as mode OFF plus an armed manual schedule.
func bliss1Mode(settings settingsDoc) model.Mode {
	switch settings.Mode {
	case "AUTO":
		return model.ModeAuto
	case "OFF":
		if settings.ManualSchedule.IsOn {
			return model.ModeManual
		}
		return model.ModeOff
	default:
		return model.ModeUnknown
	}
}

// Temperatures and setpoints travel as tenths of a degree Celsius.
func scaleTenths(value *float64) *float64 {
	if value == nil {
		return nil
	}
	scaled := *value / 10
	return &scaled
}

func emptyObjectIfBlank(raw, fallback string) string {
	if raw == "" {
		return fallback
	}
	return raw
}
