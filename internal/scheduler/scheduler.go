// Package scheduler runs the heartbeat sweep: periodic signal state
// recomputation, counter decay, and retention cleanup, each on its own timer
// inside one cooperative loop.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/monitor"
	"github.com/yinz628/email-filter-sub001/internal/pkg/distlock"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
)

// SignalStore is the monitoring surface the sweep needs.
type SignalStore interface {
	ListSignals(ctx context.Context) ([]monitor.Signal, error)
	SetState(ctx context.Context, ruleID string, state domain.SignalStatus) error
	InsertAlert(ctx context.Context, a domain.Alert) (*domain.Alert, error)
	RecomputeCounters(ctx context.Context, now time.Time) error
}

// RatioSweeper re-evaluates all ratio monitors.
type RatioSweeper interface {
	EvaluateAll(ctx context.Context, now time.Time) error
}

// CleanupFunc runs the retention pass.
type CleanupFunc func(ctx context.Context) error

// Config carries the three tick intervals.
type Config struct {
	StateTick   time.Duration
	CounterTick time.Duration
	CleanupTick time.Duration
}

// Scheduler owns the heartbeat loop. Ticks are serialized on one goroutine so
// two sweeps never touch the same rule concurrently; the optional distributed
// lock extends that guarantee across processes.
type Scheduler struct {
	signals   SignalStore
	ratios    RatioSweeper
	publisher monitor.AlertPublisher
	cleanup   CleanupFunc
	lock      distlock.Lock
	cfg       Config
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New wires a scheduler. ratios, publisher, cleanup, and lock may be nil.
func New(signals SignalStore, ratios RatioSweeper, publisher monitor.AlertPublisher, cleanup CleanupFunc, lock distlock.Lock, cfg Config) *Scheduler {
	if cfg.StateTick <= 0 {
		cfg.StateTick = time.Minute
	}
	if cfg.CounterTick <= 0 {
		cfg.CounterTick = 5 * time.Minute
	}
	if cfg.CleanupTick <= 0 {
		cfg.CleanupTick = time.Hour
	}
	if lock == nil {
		lock = distlock.NoopLock{}
	}
	return &Scheduler{
		signals:   signals,
		ratios:    ratios,
		publisher: publisher,
		cleanup:   cleanup,
		lock:      lock,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start launches the heartbeat loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	logger.Info("scheduler started",
		"state_tick", s.cfg.StateTick.String(),
		"counter_tick", s.cfg.CounterTick.String(),
		"cleanup_tick", s.cfg.CleanupTick.String())
}

// Stop halts the loop, waiting for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	stateTicker := time.NewTicker(s.cfg.StateTick)
	counterTicker := time.NewTicker(s.cfg.CounterTick)
	cleanupTicker := time.NewTicker(s.cfg.CleanupTick)
	defer stateTicker.Stop()
	defer counterTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stateTicker.C:
			s.guarded(ctx, "state tick", s.stateTick)
		case <-counterTicker.C:
			s.guarded(ctx, "counter tick", func(ctx context.Context) error {
				return s.signals.RecomputeCounters(ctx, s.now())
			})
		case <-cleanupTicker.C:
			if s.cleanup != nil {
				s.guarded(ctx, "cleanup tick", s.cleanup)
			}
		}
	}
}

// guarded runs one tick behind the distributed lock. A failed tick is logged
// and skipped; the next tick starts fresh.
func (s *Scheduler) guarded(ctx context.Context, name string, tick func(context.Context) error) {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		logger.Warn("scheduler lock error", "tick", name, "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			logger.Warn("scheduler lock release failed", "tick", name, "error", err)
		}
	}()

	if err := tick(ctx); err != nil {
		logger.Error("scheduler tick failed", "tick", name, "error", err)
	}
}

// ComputeState classifies a signal from the gap since its last hit. A signal
// never seen is DEAD.
func ComputeState(rule domain.MonitoringRule, lastSeenAt *time.Time, now time.Time) domain.SignalStatus {
	if lastSeenAt == nil {
		return domain.SignalDead
	}
	gap := now.Sub(*lastSeenAt)
	if gap <= time.Duration(1.5*float64(rule.ExpectedIntervalMinutes))*time.Minute {
		return domain.SignalActive
	}
	if gap <= time.Duration(rule.DeadAfterMinutes)*time.Minute {
		return domain.SignalWeak
	}
	return domain.SignalDead
}

func (s *Scheduler) stateTick(ctx context.Context) error {
	now := s.now()
	signals, err := s.signals.ListSignals(ctx)
	if err != nil {
		return fmt.Errorf("list signals: %w", err)
	}

	for _, sig := range signals {
		if !sig.Rule.Enabled {
			continue
		}
		next := ComputeState(sig.Rule, sig.State.LastSeenAt, now)
		if next == sig.State.State {
			continue
		}
		if err := s.signals.SetState(ctx, sig.Rule.ID, next); err != nil {
			logger.Error("set signal state failed", "rule_id", sig.Rule.ID, "error", err)
			continue
		}
		s.emitTransition(ctx, sig, next, now)
	}

	if s.ratios != nil {
		if err := s.ratios.EvaluateAll(ctx, now); err != nil {
			logger.Error("ratio sweep failed", "error", err)
		}
	}
	return nil
}

// emitTransition raises an alert for a downward transition discovered by the
// sweep. Upward transitions only happen through recorded hits, which alert on
// their own path.
func (s *Scheduler) emitTransition(ctx context.Context, sig monitor.Signal, next domain.SignalStatus, now time.Time) {
	var alertType domain.AlertType
	switch next {
	case domain.SignalWeak:
		alertType = domain.AlertSignalWeakened
	case domain.SignalDead:
		alertType = domain.AlertSignalDead
	default:
		return
	}

	var gapMinutes int64
	if sig.State.LastSeenAt != nil {
		gapMinutes = int64(now.Sub(*sig.State.LastSeenAt) / time.Minute)
	}
	alert := domain.Alert{
		RuleID:        sig.Rule.ID,
		AlertType:     alertType,
		PreviousState: sig.State.State,
		CurrentState:  next,
		GapMinutes:    gapMinutes,
		Count1h:       sig.State.Count1h,
		Count12h:      sig.State.Count12h,
		Count24h:      sig.State.Count24h,
		Message: fmt.Sprintf("signal %q is %s, last seen %d minutes ago",
			sig.Rule.Name, next, gapMinutes),
	}
	saved, err := s.signals.InsertAlert(ctx, alert)
	if err != nil {
		logger.Error("persist alert failed", "rule_id", sig.Rule.ID, "error", err)
		return
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSignalAlert(ctx, *saved); err != nil {
			logger.Warn("publish alert failed", "alert_id", saved.ID, "error", err)
		}
	}
}
