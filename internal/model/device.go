package model

import (
	"encoding/json"
	"time"
)

// Mode is the thermostat operating mode as reported by the Bliss cloud.
type Mode string

const (
	ModeOff     Mode = "OFF"
	ModeAuto    Mode = "AUTO"
	ModeManual  Mode = "MANUAL"
	ModeEco     Mode = "ECO"
	ModeFrost   Mode = "FROST"
	ModeUnknown Mode = "UNKNOWN"
)

// Device generations, carried in the vendor "tag" field.
const (
	TagBliss1 = "BLISS1"
	TagBliss2 = "BLISS2"
)

// Snapshot is the last-known measured state of one thermostat. It is
// replaced wholesale on every successful sync; fields the device did not
// report stay nil.
type Snapshot struct {
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	BatteryLevel   *float64  `json:"battery_level,omitempty"`
	WifiLevel      *float64  `json:"wifi_level,omitempty"`
	SetPoint       *float64  `json:"set_point,omitempty"`
	ManualSetPoint *float64  `json:"manual_set_point,omitempty"`
	Mode           Mode      `json:"mode"`
	Status         string    `json:"status,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// Device is one Bliss thermostat known to the account. The Raw* fields keep
// the untouched vendor JSON strings; setter requests must echo them back
// verbatim together with the handle metadata, so nothing here is normalized
// away.
type Device struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
	Tag          string `json:"tag"`

	Handle        json.RawMessage `json:"handle,omitempty"`
	HouseHandle   json.RawMessage `json:"house_handle,omitempty"`
	GatewayHandle json.RawMessage `json:"gateway_handle,omitempty"`
	Role          json.RawMessage `json:"role,omitempty"`
	Channel       json.RawMessage `json:"channel,omitempty"`
	IsDeleted     bool            `json:"is_deleted"`

	RawSettings  string `json:"raw_settings"`
	RawMeasures  string `json:"raw_measures"`
	RawSchedules string `json:"raw_schedules"`

	Snapshot Snapshot `json:"snapshot"`
}

// SupportsClimate reports whether the device can act as a climate entity,
// which requires a target temperature to steer.
func (d Device) SupportsClimate() bool {
	return d.Snapshot.SetPoint != nil || d.Snapshot.ManualSetPoint != nil
}

// DeviceView is the representation served by the local HTTP API.
type DeviceView struct {
	SerialNumber string    `json:"serial_number"`
	Name         string    `json:"name"`
	Model        string    `json:"model"`
	Online       bool      `json:"online"`
	Snapshot     Snapshot  `json:"snapshot"`
	UpdatedAt    time.Time `json:"updated_at"`
}
