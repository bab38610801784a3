package configsync

import (
	"context"
	"log/slog"
	"sync"

	"github.com/micro-ha/finder-bliss-bridge/internal/model"
)

// Source fetches the current integration configuration.
type Source interface {
	FetchConfig(ctx context.Context) (FetchResult, error)
}

// Manager caches the account configuration and reports version changes so
// the bridge can rebuild its cloud session when credentials are replaced.
type Manager struct {
	source Source
	logger *slog.Logger

	mu         sync.RWMutex
	configured bool
	config     model.AccountConfig
}

func NewManager(source Source, logger *slog.Logger) *Manager {
	return &Manager{source: source, logger: logger}
}

// NewStaticManager wraps fixed credentials, for running the bridge outside
// the supervisor (env-provided account).
func NewStaticManager(cfg model.AccountConfig, logger *slog.Logger) *Manager {
	m := &Manager{logger: logger}
	if cfg.Credentials() {
		m.configured = true
		m.config = cfg
	}
	return m
}

// Refresh re-fetches the configuration and reports whether it changed.
func (m *Manager) Refresh(ctx context.Context) (bool, error) {
	if m.source == nil {
		return false, nil
	}
	res, err := m.source.FetchConfig(ctx)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	if !res.Configured {
		if m.configured {
			changed = true
			m.logger.Info("account configuration removed")
		}
		m.configured = false
		m.config = model.AccountConfig{}
		return changed, nil
	}

	if !m.configured || res.Config.Version != m.config.Version {
		changed = true
		m.logger.Info("account configuration updated", "version", res.Config.Version)
	}
	m.configured = true
	m.config = res.Config
	return changed, nil
}

func (m *Manager) Get() (model.AccountConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.configured {
		return model.AccountConfig{}, false
	}
	return m.config, true
}
