package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(context.Background(), filepath.Join(t.TempDir(), "bridge.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testDevice(serial string, temperature float64) model.Device {
	return model.Device{
		SerialNumber: serial,
		Name:         "Device " + serial,
		Tag:          model.TagBliss2,
		RawSettings:  `{"primary":{"mode":"AUTO"}}`,
		RawMeasures:  "{}",
		RawSchedules: "[]",
		Snapshot: model.Snapshot{
			Temperature: &temperature,
			Mode:        model.ModeAuto,
		},
	}
}

func TestUpsertAndLoadDevices(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertDevices(ctx, []model.Device{testDevice("SN1", 20.5), testDevice("SN2", 18.0)}); err != nil {
		t.Fatalf("UpsertDevices() error: %v", err)
	}

	stored, err := repo.LoadDevices(ctx)
	if err != nil {
		t.Fatalf("LoadDevices() error: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("LoadDevices() returned %d devices, want 2", len(stored))
	}
	got, ok := stored["SN1"]
	if !ok {
		t.Fatalf("SN1 missing: %v", stored)
	}
	if !got.Online {
		t.Fatalf("SN1 offline after upsert")
	}
	if got.Device.Snapshot.Temperature == nil || *got.Device.Snapshot.Temperature != 20.5 {
		t.Fatalf("Temperature = %v, want 20.5", got.Device.Snapshot.Temperature)
	}
	if got.Device.RawSettings != `{"primary":{"mode":"AUTO"}}` {
		t.Fatalf("RawSettings = %q", got.Device.RawSettings)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not set")
	}
}

func TestUpsertReplacesSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertDevices(ctx, []model.Device{testDevice("SN1", 20.0)}); err != nil {
		t.Fatalf("UpsertDevices() error: %v", err)
	}

	updated := testDevice("SN1", 22.0)
	updated.Snapshot.Humidity = nil
	if err := repo.UpsertDevices(ctx, []model.Device{updated}); err != nil {
		t.Fatalf("UpsertDevices() second error: %v", err)
	}

	got, err := repo.GetDevice(ctx, "SN1")
	if err != nil {
		t.Fatalf("GetDevice() error: %v", err)
	}
	if *got.Device.Snapshot.Temperature != 22.0 {
		t.Fatalf("Temperature = %v, want 22.0", *got.Device.Snapshot.Temperature)
	}
}

func TestMarkAllOfflineKeepsSnapshots(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertDevices(ctx, []model.Device{testDevice("SN1", 20.0)}); err != nil {
		t.Fatalf("UpsertDevices() error: %v", err)
	}
	if err := repo.MarkAllOffline(ctx); err != nil {
		t.Fatalf("MarkAllOffline() error: %v", err)
	}

	got, err := repo.GetDevice(ctx, "SN1")
	if err != nil {
		t.Fatalf("GetDevice() error: %v", err)
	}
	if got.Online {
		t.Fatalf("device still online")
	}
	if got.Device.Snapshot.Temperature == nil || *got.Device.Snapshot.Temperature != 20.0 {
		t.Fatalf("snapshot lost on offline marking: %v", got.Device.Snapshot.Temperature)
	}
}

func TestDeleteDevices(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertDevices(ctx, []model.Device{testDevice("SN1", 20.0), testDevice("SN2", 21.0)}); err != nil {
		t.Fatalf("UpsertDevices() error: %v", err)
	}
	if err := repo.DeleteDevices(ctx, []string{"SN1"}); err != nil {
		t.Fatalf("DeleteDevices() error: %v", err)
	}

	if _, err := repo.GetDevice(ctx, "SN1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDevice(SN1) error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetDevice(ctx, "SN2"); err != nil {
		t.Fatalf("GetDevice(SN2) error: %v", err)
	}
}

func TestDeleteDevicesEmptyListIsNoop(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.DeleteDevices(context.Background(), nil); err != nil {
		t.Fatalf("DeleteDevices(nil) error: %v", err)
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetDevice(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetDevice() error = %v, want ErrNotFound", err)
	}
}
