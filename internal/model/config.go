package model

import "time"

// AccountConfig is the normalized integration configuration: the cloud
// credentials entered in Home Assistant plus the polling cadence. Version
// increments whenever the user saves new options; a version bump invalidates
// the current cloud session.
type AccountConfig struct {
	Version         int64     `json:"version"`
	UpdatedAt       time.Time `json:"updated_at"`
	Username        string    `json:"username"`
	Password        string    `json:"password"`
	PollIntervalSec int       `json:"poll_interval_sec"`
}

// PollInterval returns the effective poll cadence, clamped to a floor that
// keeps the cloud endpoint happy.
func (c AccountConfig) PollInterval() time.Duration {
	interval := time.Duration(c.PollIntervalSec) * time.Second
	if interval < 15*time.Second {
		return 60 * time.Second
	}
	return interval
}

// Credentials reports whether the config carries a usable login.
func (c AccountConfig) Credentials() bool {
	return c.Username != "" && c.Password != ""
}
