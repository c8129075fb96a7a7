package app

import (
	"time"

	"github.com/bft-labs/keylink/internal/domain"
	"github.com/bft-labs/keylink/internal/ports"
)

// PollConfig controls periodic vehicle polling. A zero VCSECInterval
// disables polling.
type PollConfig struct {
	// VCSECInterval is the period of VCSEC status polls.
	// Default: 10 seconds
	VCSECInterval time.Duration

	// InfotainmentInterval is the data poll period while the vehicle is awake.
	// Default: 30 seconds
	InfotainmentInterval time.Duration

	// ActiveInterval replaces InfotainmentInterval while a user is present.
	// Default: 10 seconds
	ActiveInterval time.Duration
}

// DefaultPollConfig returns a PollConfig with sensible defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		VCSECInterval:        10 * time.Second,
		InfotainmentInterval: 30 * time.Second,
		ActiveInterval:       10 * time.Second,
	}
}

// Enabled reports whether polling is on.
func (c PollConfig) Enabled() bool {
	return c.VCSECInterval > 0
}

// Poller enqueues status and data polls. It never wakes the vehicle: data
// polls are only issued while the vehicle reports awake. Step must be
// called from the engine goroutine.
type Poller struct {
	cfg    PollConfig
	logger ports.Logger
	onData domain.CompletionFunc

	lastVCSEC    time.Time
	lastInfo     time.Time
	vcsecPending bool
	infoPending  bool
	triggerInfo  bool
}

// NewPoller creates a poller. onData, if set, receives every poll result.
func NewPoller(cfg PollConfig, logger ports.Logger, onData domain.CompletionFunc) *Poller {
	return &Poller{cfg: cfg, logger: logger, onData: onData}
}

// TriggerInfotainment requests a data poll on the next step.
func (p *Poller) TriggerInfotainment() {
	p.triggerInfo = true
}

// Step enqueues any poll that is due.
func (p *Poller) Step(now time.Time, e *Engine) {
	if !p.cfg.Enabled() {
		return
	}

	if !p.vcsecPending && (p.lastVCSEC.IsZero() || now.Sub(p.lastVCSEC) >= p.cfg.VCSECInterval) {
		if p.enqueue(e, domain.DomainVCSEC, domain.ActionVehicleStatus, &p.vcsecPending) {
			p.lastVCSEC = now
		}
	}

	vehicle := e.queue.Vehicle()
	if vehicle.Sleep != domain.SleepAwake || p.infoPending {
		return
	}
	interval := p.cfg.InfotainmentInterval
	if vehicle.UserPresent && p.cfg.ActiveInterval > 0 {
		interval = p.cfg.ActiveInterval
	}
	if interval <= 0 {
		return
	}
	if p.triggerInfo || p.lastInfo.IsZero() || now.Sub(p.lastInfo) >= interval {
		if p.enqueue(e, domain.DomainInfotainment, domain.ActionGetChargeState, &p.infoPending) {
			p.lastInfo = now
			p.triggerInfo = false
		}
	}
}

func (p *Poller) enqueue(e *Engine, d domain.Domain, action domain.Action, pending *bool) bool {
	_, err := e.Enqueue(d, domain.Payload{Action: action}, "poll:"+action.String(), func(r domain.Result) {
		*pending = false
		if r.Err != nil {
			p.logger.Debug("poll failed", ports.Stringer("action", action), ports.Err(r.Err))
		}
		if p.onData != nil {
			p.onData(r)
		}
	})
	if err != nil {
		p.logger.Debug("poll not queued", ports.Stringer("action", action), ports.Err(err))
		return false
	}
	*pending = true
	return true
}
