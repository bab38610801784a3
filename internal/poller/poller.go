package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/micro-ha/finder-bliss-bridge/internal/bliss"
	"github.com/micro-ha/finder-bliss-bridge/internal/configsync"
	"github.com/micro-ha/finder-bliss-bridge/internal/service"
)

// unconfiguredInterval paces the loop while no account exists yet; the
// config watcher triggers an immediate cycle once credentials arrive.
const unconfiguredInterval = 30 * time.Second

// Syncer runs one poll cycle.
type Syncer interface {
	PollOnce(ctx context.Context) error
}

// Poller drives the periodic sync loop. The cadence follows the configured
// poll interval; TriggerRefresh forces an immediate cycle out of band.
type Poller struct {
	syncer    Syncer
	manager   *configsync.Manager
	logger    *slog.Logger
	refreshCh chan struct{}
}

func New(syncer Syncer, manager *configsync.Manager, logger *slog.Logger) *Poller {
	return &Poller{
		syncer:    syncer,
		manager:   manager,
		logger:    logger,
		refreshCh: make(chan struct{}, 1),
	}
}

// TriggerRefresh schedules an immediate poll cycle. Safe to call from any
// goroutine; coalesces with a cycle already pending.
func (p *Poller) TriggerRefresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

// Run polls until the context is canceled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started")
	defer p.logger.Info("poller stopped")

	for {
		p.poll(ctx)

		timer := time.NewTimer(p.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.refreshCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	err := p.syncer.PollOnce(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, service.ErrNotConfigured):
		p.logger.Debug("waiting for account configuration")
	case bliss.IsAuthError(err):
		p.logger.Warn("credentials rejected; waiting for new credentials")
	default:
		p.logger.Error("poll cycle failed", "err", err)
	}
}

func (p *Poller) interval() time.Duration {
	cfg, ok := p.manager.Get()
	if !ok {
		return unconfiguredInterval
	}
	return cfg.PollInterval()
}
