package replication

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultSyncInterval  = 5 * time.Minute
	DefaultProbeInterval = 30 * time.Second
)

// Syncer is the part of a Coordinator the scheduler drives.
type Syncer interface {
	Sync(ctx context.Context, trigger Trigger) (RoundReport, error)
	Reachable(ctx context.Context) bool
}

// SchedulerConfig configures the recurring round loop.
type SchedulerConfig struct {
	Syncer        Syncer
	Interval      time.Duration
	ProbeInterval time.Duration
	// RunAtStart starts a round as soon as Run is called.
	RunAtStart bool
	// OnRound observes every finished round, committed or not.
	OnRound func(RoundReport, error)
	Logger  *zap.Logger
}

// Scheduler triggers rounds on a timer, on request, and when the hub becomes
// reachable again after an unreachable round. Rounds run on the loop
// goroutine, so they never overlap.
type Scheduler struct {
	syncer        Syncer
	interval      time.Duration
	probeInterval time.Duration
	runAtStart    bool
	onRound       func(RoundReport, error)
	logger        *zap.Logger
	requests      chan struct{}
	offline       atomic.Bool
}

func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Syncer == nil {
		return nil, errors.New("syncer is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	probeInterval := cfg.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = DefaultProbeInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		syncer:        cfg.Syncer,
		interval:      interval,
		probeInterval: probeInterval,
		runAtStart:    cfg.RunAtStart,
		onRound:       cfg.OnRound,
		logger:        logger,
		requests:      make(chan struct{}, 1),
	}, nil
}

// TriggerNow requests a manual round. Requests made while one is pending are coalesced.
func (s *Scheduler) TriggerNow() {
	select {
	case s.requests <- struct{}{}:
	default:
	}
}

// Offline reports whether the last round found the hub unreachable.
func (s *Scheduler) Offline() bool {
	return s.offline.Load()
}

// Run drives rounds until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var probe *time.Ticker
	defer func() {
		if probe != nil {
			probe.Stop()
		}
	}()

	s.logger.Info("replication scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("probe_interval", s.probeInterval))

	if s.runAtStart {
		s.runRound(ctx, TriggerSchedule)
	}

	for {
		if s.offline.Load() && probe == nil {
			probe = time.NewTicker(s.probeInterval)
		}
		if !s.offline.Load() && probe != nil {
			probe.Stop()
			probe = nil
		}
		var probeTicks <-chan time.Time
		if probe != nil {
			probeTicks = probe.C
		}

		select {
		case <-ctx.Done():
			s.logger.Info("replication scheduler stopped")
			return nil
		case <-ticker.C:
			s.runRound(ctx, TriggerSchedule)
		case <-s.requests:
			s.runRound(ctx, TriggerManual)
		case <-probeTicks:
			if s.syncer.Reachable(ctx) {
				s.logger.Info("hub reachable again")
				s.runRound(ctx, TriggerReconnect)
			}
		}
	}
}

func (s *Scheduler) runRound(ctx context.Context, trigger Trigger) {
	report, err := s.syncer.Sync(ctx, trigger)
	switch {
	case err == nil:
		if s.offline.Swap(false) {
			s.logger.Info("replication online", zap.String("trigger", string(trigger)))
		}
	case errors.Is(err, ErrUnreachable):
		if !s.offline.Swap(true) {
			s.logger.Info("replication offline", zap.Error(err))
		}
	}
	if s.onRound != nil {
		s.onRound(report, err)
	}
}
