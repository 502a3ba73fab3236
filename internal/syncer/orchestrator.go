package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"tgmirror/internal/domain"
	"tgmirror/internal/metrics"
)

// ErrAlreadyRunning is returned when a second loop is started on the same
// Orchestrator. The engine relies on a single writer.
var ErrAlreadyRunning = errors.New("orchestrator already running")

// CycleStats summarizes one pass over every channel.
type CycleStats struct {
	Inbound   int
	Outbound  int
	Retention int
	Deletes   int
	Errors    int
}

// Orchestrator runs inbound, outbound, retention and delete propagation
// for every channel in registration order, then sleeps for the interval.
type Orchestrator struct {
	engine   *Engine
	channels []domain.ChannelDescriptor
	interval time.Duration
	metrics  *metrics.Collector
	logger   *slog.Logger

	running atomic.Bool
	cycles  atomic.Int64
}

func NewOrchestrator(engine *Engine, channels []domain.ChannelDescriptor, interval time.Duration) *Orchestrator {
	return &Orchestrator{
		engine:   engine,
		channels: append([]domain.ChannelDescriptor(nil), channels...),
		interval: interval,
		metrics:  engine.metrics,
		logger:   engine.logger,
	}
}

// Run loops until ctx is cancelled. Cancellation is checked between
// channels and during the sleep; a call in flight finishes first.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.RunCycles(ctx, 0)
}

// RunCycles runs n cycles, or forever when n <= 0, and returns nil when ctx
// ends the loop.
func (o *Orchestrator) RunCycles(ctx context.Context, n int) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer o.running.Store(false)

	o.logger.Info("sync loop started",
		"channels", len(o.channels),
		"interval", o.interval.String(),
	)

	for done := 0; n <= 0 || done < n; done++ {
		if ctx.Err() != nil {
			break
		}
		o.RunCycle(ctx)

		if n > 0 && done+1 == n {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(o.interval):
		}
	}

	o.logger.Info("sync loop stopped", "cycles", o.cycles.Load())
	return nil
}

// RunCycle performs one pass over every channel.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleStats {
	start := time.Now()
	cycle := o.cycles.Add(1)
	var stats CycleStats

	for _, ch := range o.channels {
		if ctx.Err() != nil {
			break
		}
		n, err := o.engine.SyncChannel(ctx, ch)
		stats.Inbound += n
		stats.Errors += o.report(ch, "inbound", err)

		n, err = o.engine.DeliverPending(ctx, ch)
		stats.Outbound += n
		stats.Errors += o.report(ch, "outbound", err)

		n, err = o.engine.EnforceRetention(ctx, ch)
		stats.Retention += n
		stats.Errors += o.report(ch, "retention", err)

		n, err = o.engine.PropagateDeletes(ctx, ch)
		stats.Deletes += n
		stats.Errors += o.report(ch, "deletes", err)
	}

	elapsed := time.Since(start)
	o.metrics.ObserveCycle(elapsed)

	level := slog.LevelDebug
	if stats.Inbound+stats.Outbound+stats.Retention+stats.Deletes+stats.Errors > 0 {
		level = slog.LevelInfo
	}
	o.logger.Log(ctx, level, "sync cycle complete",
		"cycle", cycle,
		"inbound", stats.Inbound,
		"outbound", stats.Outbound,
		"retention", stats.Retention,
		"deletes", stats.Deletes,
		"errors", stats.Errors,
		"elapsed", elapsed.Round(time.Millisecond).String(),
	)
	return stats
}

// Cycles returns how many cycles have started.
func (o *Orchestrator) Cycles() int64 {
	return o.cycles.Load()
}

func (o *Orchestrator) report(ch domain.ChannelDescriptor, phase string, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 0
	}
	kind := domain.KindOf(err)
	o.metrics.PhaseError(phase, string(kind))
	o.logger.Warn("sync phase failed",
		"channel", ch.DisplayName,
		"source", ch.SourceID,
		"phase", phase,
		"kind", kind,
		"err", err,
	)
	return 1
}
