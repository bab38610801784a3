package model

import (
	"testing"
	"time"
)

func TestPollIntervalClamping(t *testing.T) {
	cases := []struct {
		sec  int
		want time.Duration
	}{
		{0, 60 * time.Second},
		{5, 60 * time.Second},
		{15, 15 * time.Second},
		{120, 2 * time.Minute},
	}
	for _, tc := range cases {
		cfg := AccountConfig{PollIntervalSec: tc.sec}
		if got := cfg.PollInterval(); got != tc.want {
			t.Fatalf("PollInterval(%d) = %v, want %v", tc.sec, got, tc.want)
		}
	}
}

func TestCredentials(t *testing.T) {
	if (AccountConfig{Username: "u", Password: "p"}).Credentials() != true {
		t.Fatalf("Credentials() = false with both set")
	}
	if (AccountConfig{Username: "u"}).Credentials() {
		t.Fatalf("Credentials() = true without password")
	}
	if (AccountConfig{Password: "p"}).Credentials() {
		t.Fatalf("Credentials() = true without username")
	}
}

func TestSupportsClimate(t *testing.T) {
	setpoint := 20.0
	if (Device{}).SupportsClimate() {
		t.Fatalf("SupportsClimate() = true without setpoints")
	}
	if !(Device{Snapshot: Snapshot{SetPoint: &setpoint}}).SupportsClimate() {
		t.Fatalf("SupportsClimate() = false with a setpoint")
	}
	if !(Device{Snapshot: Snapshot{ManualSetPoint: &setpoint}}).SupportsClimate() {
		t.Fatalf("SupportsClimate() = false with a manual setpoint")
	}
}
