package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

var ErrNotFound = errors.New("not found")

// StoredDevice is a directory row: the full device record plus the
// availability flag maintained by the poll loop.
type StoredDevice struct {
	Device    model.Device
	Online    bool
	UpdatedAt time.Time
}

// UpsertDevices replaces the stored record and snapshot for each device and
// marks it online. Runs in one transaction so a crash mid-write never leaves
// a device with a snapshot from one poll and a record from another.
func (r *Repository) UpsertDevices(ctx context.Context, devices []model.Device) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	deviceStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO devices (serial, name, model, device_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			name=excluded.name,
			model=excluded.model,
			device_json=excluded.device_json,
			updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer deviceStmt.Close()

	stateStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO device_state (serial, online, snapshot_json, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(serial) DO UPDATE SET
			online=1,
			snapshot_json=excluded.snapshot_json,
			updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stateStmt.Close()

	for _, device := range devices {
		deviceJSON, err := json.Marshal(device)
		if err != nil {
			return err
		}
		snapshotJSON, err := json.Marshal(device.Snapshot)
		if err != nil {
			return err
		}
		if _, err := deviceStmt.ExecContext(ctx, device.SerialNumber, device.Name, device.Tag, string(deviceJSON), now, now); err != nil {
			return err
		}
		if _, err := stateStmt.ExecContext(ctx, device.SerialNumber, string(snapshotJSON), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteDevices drops devices that disappeared from the account.
func (r *Repository) DeleteDevices(ctx context.Context, serials []string) error {
	if len(serials) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, serial := range serials {
		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE serial = ?`, serial); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM device_state WHERE serial = ?`, serial); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkAllOffline flips every stored device to unavailable, keeping the
// last-known snapshots intact.
func (r *Repository) MarkAllOffline(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx, `UPDATE device_state SET online = 0, updated_at = ? WHERE online = 1`, now)
	return err
}

// LoadDevices returns all stored devices with their availability state.
func (r *Repository) LoadDevices(ctx context.Context) (map[string]StoredDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.serial, d.device_json, s.online, s.snapshot_json, s.updated_at
		FROM devices d
		JOIN device_state s ON s.serial = d.serial`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := map[string]StoredDevice{}
	for rows.Next() {
		var (
			serial, deviceJSON, snapshotJSON, updatedAt string
			online                                      bool
		)
		if err := rows.Scan(&serial, &deviceJSON, &online, &snapshotJSON, &updatedAt); err != nil {
			return nil, err
		}
		var device model.Device
		if err := json.Unmarshal([]byte(deviceJSON), &device); err != nil {
			return nil, fmt.Errorf("device %s: %w", serial, err)
		}
		if err := json.Unmarshal([]byte(snapshotJSON), &device.Snapshot); err != nil {
			return nil, fmt.Errorf("device %s snapshot: %w", serial, err)
		}
		stored := StoredDevice{Device: device, Online: online}
		if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			stored.UpdatedAt = ts.UTC()
		}
		result[serial] = stored
	}
	return result, rows.Err()
}

// GetDevice returns one stored device by serial number.
func (r *Repository) GetDevice(ctx context.Context, serial string) (StoredDevice, error) {
	devices, err := r.LoadDevices(ctx)
	if err != nil {
		return StoredDevice{}, err
	}
	stored, ok := devices[serial]
	if !ok {
		return StoredDevice{}, ErrNotFound
	}
	return stored, nil
}
