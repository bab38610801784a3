package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/micro-ha/finder-bliss-bridge/internal/bliss"
	"github.com/micro-ha/finder-bliss-bridge/internal/configsync"
	"github.com/micro-ha/finder-bliss-bridge/internal/metrics"
	"github.com/micro-ha/finder-bliss-bridge/internal/model"
	"github.com/micro-ha/finder-bliss-bridge/internal/storage"
)

// ErrNotConfigured is returned while no account credentials are available.
var ErrNotConfigured = errors.New("no account configured")

// SyncClient is the cloud session used by the bridge.
type SyncClient interface {
	Devices(ctx context.Context) ([]model.Device, error)
	ApplySettings(ctx context.Context, device model.Device, settingsJSON string) error
	Close() error
}

// Publisher pushes device state to Home Assistant.
type Publisher interface {
	PublishDevices(ctx context.Context, devices []model.Device) error
	MarkOffline(serials []string)
	Remove(serial string)
}

// Repository is the persistent device directory.
type Repository interface {
	UpsertDevices(ctx context.Context, devices []model.Device) error
	DeleteDevices(ctx context.Context, serials []string) error
	MarkAllOffline(ctx context.Context) error
	LoadDevices(ctx context.Context) (map[string]storage.StoredDevice, error)
	GetDevice(ctx context.Context, serial string) (storage.StoredDevice, error)
}

// ClientFactory builds a cloud session for a set of credentials.
type ClientFactory func(cfg bliss.Config) SyncClient

// Service owns the sync loop: it polls the Bliss cloud, reconciles the local
// directory, republishes entity state, and dispatches write commands. The
// cloud session is rebuilt whenever the account configuration changes.
type Service struct {
	repo      Repository
	publisher Publisher
	manager   *configsync.Manager
	metrics   *metrics.Metrics
	logger    *slog.Logger

	accountsURL string
	syncURL     string
	newClient   ClientFactory

	// pollMu serializes poll cycles: the ticker, post-command refreshes and
	// manual HTTP refreshes must never reconcile concurrently.
	pollMu sync.Mutex

	mu            sync.Mutex
	client        SyncClient
	clientVersion int64
	haveClient    bool
	// authErr latches a credential rejection; no further login is attempted
	// with the same account config version.
	authErr error
}

type Options struct {
	Repository  Repository
	Publisher   Publisher
	Manager     *configsync.Manager
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	AccountsURL string
	SyncURL     string
	// NewClient overrides cloud session construction in tests.
	NewClient ClientFactory
}

func New(opts Options) *Service {
	s := &Service{
		repo:        opts.Repository,
		publisher:   opts.Publisher,
		manager:     opts.Manager,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		accountsURL: opts.AccountsURL,
		syncURL:     opts.SyncURL,
		newClient:   opts.NewClient,
	}
	if s.newClient == nil {
		s.newClient = func(cfg bliss.Config) SyncClient {
			return bliss.New(cfg, opts.Logger)
		}
	}
	return s
}

// PollOnce runs one full sync cycle. On any cloud failure every device is
// flipped to unavailable; the stored snapshots stay intact so state recovers
// instantly once the cloud is reachable again.
func (s *Service) PollOnce(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	client, err := s.currentClient()
	if err != nil {
		return err
	}

	start := time.Now()
	devices, err := client.Devices(ctx)
	if err != nil {
		s.metrics.PollFailed(time.Since(start))
		s.markAllOffline(ctx)
		if bliss.IsAuthError(err) {
			s.mu.Lock()
			s.authErr = err
			s.mu.Unlock()
			s.logger.Error("credentials rejected, suspending login until reconfiguration", "err", err)
		}
		return fmt.Errorf("poll: %w", err)
	}

	if err := s.reconcile(ctx, devices); err != nil {
		s.metrics.PollFailed(time.Since(start))
		return fmt.Errorf("poll: %w", err)
	}

	s.metrics.PollSucceeded(time.Since(start))
	s.logger.Debug("poll complete", "devices", len(devices), "took", time.Since(start))
	return nil
}

// reconcile replaces the stored directory with the polled device list,
// removing devices that disappeared from the account before publishing.
func (s *Service) reconcile(ctx context.Context, devices []model.Device) error {
	stored, err := s.repo.LoadDevices(ctx)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	for _, device := range devices {
		seen[device.SerialNumber] = true
	}
	var removed []string
	for serial := range stored {
		if !seen[serial] {
			removed = append(removed, serial)
		}
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		if err := s.repo.DeleteDevices(ctx, removed); err != nil {
			return err
		}
		for _, serial := range removed {
			s.publisher.Remove(serial)
			s.metrics.ForgetDevice(serial)
			s.logger.Info("device removed from account", "serial", serial)
		}
	}

	if err := s.repo.UpsertDevices(ctx, devices); err != nil {
		return err
	}
	for _, device := range devices {
		s.metrics.ObserveDevice(device)
	}
	return s.publisher.PublishDevices(ctx, devices)
}

// SetTargetTemperature pins the thermostat to a permanent manual setpoint
// and re-polls so entities reflect what the cloud actually applied. No state
// is mutated locally before the acknowledged re-sync.
func (s *Service) SetTargetTemperature(ctx context.Context, serial string, celsius float64) error {
	return s.command(ctx, serial, "set_temperature", func(device model.Device) (string, error) {
		return bliss.SetpointSettings(device, celsius)
	})
}

// SetMode switches the thermostat operating mode.
func (s *Service) SetMode(ctx context.Context, serial string, mode model.Mode) error {
	return s.command(ctx, serial, "set_mode", func(device model.Device) (string, error) {
		return bliss.ModeSettings(device, mode)
	})
}

func (s *Service) command(ctx context.Context, serial, op string, build func(model.Device) (string, error)) error {
	client, err := s.currentClient()
	if err != nil {
		return err
	}

	stored, err := s.repo.GetDevice(ctx, serial)
	if err != nil {
		s.metrics.CommandFailed(op)
		return &bliss.CommandError{Serial: serial, Op: op, Err: err}
	}

	settingsJSON, err := build(stored.Device)
	if err != nil {
		s.metrics.CommandFailed(op)
		return &bliss.CommandError{Serial: serial, Op: op, Err: err}
	}

	if err := client.ApplySettings(ctx, stored.Device, settingsJSON); err != nil {
		s.metrics.CommandFailed(op)
		return &bliss.CommandError{Serial: serial, Op: op, Err: err}
	}
	s.metrics.CommandSucceeded(op)
	s.logger.Info("command applied", "op", op, "serial", serial)

	if err := s.PollOnce(ctx); err != nil {
		s.logger.Warn("post-command refresh failed", "serial", serial, "err", err)
	}
	return nil
}

// ListDevices returns the stored directory ordered by serial number.
func (s *Service) ListDevices(ctx context.Context) ([]model.DeviceView, error) {
	stored, err := s.repo.LoadDevices(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]model.DeviceView, 0, len(stored))
	for _, d := range stored {
		views = append(views, toView(d))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].SerialNumber < views[j].SerialNumber })
	return views, nil
}

func (s *Service) GetDevice(ctx context.Context, serial string) (model.DeviceView, error) {
	stored, err := s.repo.GetDevice(ctx, serial)
	if err != nil {
		return model.DeviceView{}, err
	}
	return toView(stored), nil
}

// Close tears down the current cloud session.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveClient {
		_ = s.client.Close()
		s.haveClient = false
	}
}

// currentClient returns the cloud session for the active configuration,
// rebuilding it when the user saved new credentials. While an auth rejection
// is latched for the current config version, no cloud calls are made; the
// latch clears only when new credentials arrive.
func (s *Service) currentClient() (SyncClient, error) {
	cfg, ok := s.manager.Get()
	if !ok {
		s.mu.Lock()
		if s.haveClient {
			_ = s.client.Close()
			s.haveClient = false
		}
		s.authErr = nil
		s.mu.Unlock()
		return nil, ErrNotConfigured
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveClient && s.clientVersion == cfg.Version {
		if s.authErr != nil {
			return nil, s.authErr
		}
		return s.client, nil
	}
	if s.haveClient {
		_ = s.client.Close()
	}
	s.client = s.newClient(bliss.Config{
		AccountsURL: s.accountsURL,
		SyncURL:     s.syncURL,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	s.clientVersion = cfg.Version
	s.haveClient = true
	s.authErr = nil
	s.logger.Info("cloud session rebuilt", "config_version", cfg.Version)
	return s.client, nil
}

// AuthFailed reports whether the configured credentials were rejected by the
// cloud and polling is suspended until they change.
func (s *Service) AuthFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authErr != nil
}

func (s *Service) markAllOffline(ctx context.Context) {
	stored, err := s.repo.LoadDevices(ctx)
	if err != nil {
		s.logger.Error("load devices for offline marking failed", "err", err)
		return
	}
	if err := s.repo.MarkAllOffline(ctx); err != nil {
		s.logger.Error("offline marking failed", "err", err)
	}
	serials := make([]string, 0, len(stored))
	for serial, d := range stored {
		serials = append(serials, serial)
		s.metrics.MarkOffline(serial, d.Device.Name)
	}
	sort.Strings(serials)
	s.publisher.MarkOffline(serials)
}

func toView(stored storage.StoredDevice) model.DeviceView {
	return model.DeviceView{
		SerialNumber: stored.Device.SerialNumber,
		Name:         stored.Device.Name,
		Model:        stored.Device.Tag,
		Online:       stored.Online,
		Snapshot:     stored.Device.Snapshot,
		UpdatedAt:    stored.UpdatedAt,
	}
}
