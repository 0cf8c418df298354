package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"meetcore/internal/core/domain"
	"meetcore/internal/core/ports"

	"go.uber.org/zap"
)

type StatsPollerConfig struct {
	Interval        time.Duration
	FetchTimeout    time.Duration
	SendTransportID domain.TransportID
	RecvTransportID domain.TransportID
}

// StatsPoller samples network quality on a self-rescheduling timer that only runs while
// the media connection is connected. Every state change bumps a generation counter so
// a tick already in flight will not reschedule after a disconnect.
type StatsPoller struct {
	source   ports.StatsSource
	quality  *QualityService
	notifier *Notifier
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	cfg        StatsPollerConfig
	state      domain.ConnectionState
	timer      *time.Timer
	generation uint64
	stopped    bool
}

func NewStatsPoller(
	source ports.StatsSource,
	quality *QualityService,
	notifier *Notifier,
	cfg StatsPollerConfig,
	logger *zap.SugaredLogger,
) *StatsPoller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.FetchTimeout <= 0 || cfg.FetchTimeout > cfg.Interval {
		cfg.FetchTimeout = cfg.Interval
	}
	return &StatsPoller{
		source:   source,
		quality:  quality,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		state:    domain.ConnectionNew,
	}
}

// SetTransports changes the transport ids used for grading, e.g. after an ICE restart.
func (p *StatsPoller) SetTransports(sendID, recvID domain.TransportID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.SendTransportID = sendID
	p.cfg.RecvTransportID = recvID
}

// OnConnectionStateChange starts polling on entering the connected state and stops
// rescheduling on any other state.
func (p *StatsPoller) OnConnectionStateChange(state domain.ConnectionState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || state == p.state {
		return
	}
	p.state = state
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if state == domain.ConnectionConnected {
		p.scheduleLocked(p.generation)
	}
	p.logger.Debugw("stats poller state changed", "state", state, "running", p.timer != nil)
}

// Running reports whether a tick is currently scheduled.
func (p *StatsPoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// Stop cancels polling permanently.
func (p *StatsPoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopped = true
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// PollOnce fetches, grades, stores and publishes one sample.
func (p *StatsPoller) PollOnce(ctx context.Context) (domain.NetworkQualitySample, error) {
	p.mu.Lock()
	sendID, recvID := p.cfg.SendTransportID, p.cfg.RecvTransportID
	p.mu.Unlock()

	reports, err := p.source.FetchTransportStats(ctx)
	if err != nil {
		return domain.NetworkQualitySample{}, err
	}

	sample := p.quality.Observe(reports, sendID, recvID)
	p.notifier.Publish(domain.SessionEvent{
		Type:      domain.EventQualitySampled,
		Quality:   &sample,
		Timestamp: sample.Timestamp,
	})
	return sample, nil
}

func (p *StatsPoller) scheduleLocked(gen uint64) {
	p.timer = time.AfterFunc(p.cfg.Interval, func() {
		p.tick(gen)
	})
}

func (p *StatsPoller) current(gen uint64) bool {
	return !p.stopped && gen == p.generation && p.state == domain.ConnectionConnected
}

func (p *StatsPoller) tick(gen uint64) {
	p.mu.Lock()
	if !p.current(gen) {
		p.mu.Unlock()
		return
	}
	timeout := p.cfg.FetchTimeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sample, err := p.PollOnce(ctx)
	cancel()

	switch {
	case errors.Is(err, domain.ErrStatsUnavailable):
		p.logger.Debugw("transport stats unavailable, tick skipped", "error", err)
	case err != nil:
		p.logger.Warnw("failed to fetch transport stats", "error", err)
	default:
		p.logger.Debugw("network quality sampled",
			"grade", sample.Grade,
			"uplink_loss_percent", sample.LocalPacketPercentLoss,
			"downlink_loss_percent", sample.RemotePacketPercentLoss,
		)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current(gen) {
		p.scheduleLocked(gen)
	}
}
