package replication

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSyncer struct {
	mu        sync.Mutex
	failures  []error
	reachable atomic.Bool
	active    atomic.Int32
	maxActive atomic.Int32
	hold      time.Duration
}

func (f *fakeSyncer) Sync(_ context.Context, trigger Trigger) (RoundReport, error) {
	current := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxActive.Load()
		if current <= seen || f.maxActive.CompareAndSwap(seen, current) {
			break
		}
	}
	if f.hold > 0 {
		time.Sleep(f.hold)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return RoundReport{}, err
	}
	return RoundReport{Trigger: trigger}, nil
}

func (f *fakeSyncer) Reachable(context.Context) bool {
	return f.reachable.Load()
}

type finishedRound struct {
	report RoundReport
	err    error
}

func startScheduler(t *testing.T, cfg SchedulerConfig) (*Scheduler, <-chan finishedRound) {
	t.Helper()
	rounds := make(chan finishedRound, 64)
	cfg.OnRound = func(report RoundReport, err error) {
		select {
		case rounds <- finishedRound{report: report, err: err}:
		default:
		}
	}
	scheduler, err := NewScheduler(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	})
	return scheduler, rounds
}

func nextRound(t *testing.T, rounds <-chan finishedRound) finishedRound {
	t.Helper()
	select {
	case round := <-rounds:
		return round
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a round")
		return finishedRound{}
	}
}

func TestSchedulerRunsAtStartAndOnDemand(t *testing.T) {
	syncer := &fakeSyncer{}
	scheduler, rounds := startScheduler(t, SchedulerConfig{
		Syncer:     syncer,
		Interval:   time.Hour,
		RunAtStart: true,
	})

	assert.Equal(t, TriggerSchedule, nextRound(t, rounds).report.Trigger)
	scheduler.TriggerNow()
	assert.Equal(t, TriggerManual, nextRound(t, rounds).report.Trigger)
	assert.False(t, scheduler.Offline())
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	syncer := &fakeSyncer{}
	_, rounds := startScheduler(t, SchedulerConfig{Syncer: syncer, Interval: 10 * time.Millisecond})

	for i := 0; i < 3; i++ {
		assert.Equal(t, TriggerSchedule, nextRound(t, rounds).report.Trigger)
	}
}

func TestSchedulerChecksReachabilityUntilHubReturns(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	syncer := &fakeSyncer{failures: []error{fmt.Errorf("%w: dial tcp: connection refused", ErrUnreachable)}}
	scheduler, rounds := startScheduler(t, SchedulerConfig{
		Syncer:        syncer,
		Interval:      time.Hour,
		ProbeInterval: 5 * time.Millisecond,
		RunAtStart:    true,
		Logger:        zap.New(core),
	})

	first := nextRound(t, rounds)
	require.ErrorIs(t, first.err, ErrUnreachable)
	assert.True(t, scheduler.Offline())

	syncer.reachable.Store(true)
	reconnect := nextRound(t, rounds)
	require.NoError(t, reconnect.err)
	assert.Equal(t, TriggerReconnect, reconnect.report.Trigger)
	assert.False(t, scheduler.Offline())

	assert.Equal(t, 1, logs.FilterMessage("replication offline").Len())
	assert.Equal(t, 1, logs.FilterMessage("replication online").Len())
}

func TestSchedulerNeverOverlapsRounds(t *testing.T) {
	syncer := &fakeSyncer{hold: 2 * time.Millisecond}
	scheduler, rounds := startScheduler(t, SchedulerConfig{
		Syncer:   syncer,
		Interval: time.Millisecond,
	})

	var triggers sync.WaitGroup
	for i := 0; i < 8; i++ {
		triggers.Add(1)
		go func() {
			defer triggers.Done()
			for j := 0; j < 10; j++ {
				scheduler.TriggerNow()
			}
		}()
	}
	triggers.Wait()

	for i := 0; i < 10; i++ {
		nextRound(t, rounds)
	}
	assert.Equal(t, int32(1), syncer.maxActive.Load())
}

func TestNewSchedulerRequiresSyncer(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{})
	assert.Error(t, err)
}
