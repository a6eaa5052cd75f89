// Package poller implements the polling engine: a ticker-driven loop
// that peeks the replication slot, transforms and stores changes,
// advances the durable confirmed LSN, and notifies connected clients.
// It reentrancy-guards itself so a slow cycle never overlaps the next
// tick, and escalates to a faster cadence while the slot keeps handing
// back full batches.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/cdcerr"
	"github.com/vibestack/cdc-core/internal/history"
	"github.com/vibestack/cdc-core/internal/metrics"
	"github.com/vibestack/cdc-core/internal/notifier"
	"github.com/vibestack/cdc-core/internal/slotadapter"
	"github.com/vibestack/cdc-core/internal/statestore"
	"github.com/vibestack/cdc-core/internal/transform"
	"github.com/vibestack/cdc-core/internal/wal"
)

// Config carries the cadence and batching knobs from the CDC
// configuration relevant to one poller instance.
type Config struct {
	PollingInterval        time.Duration
	FastPollingInterval    time.Duration
	WalBatchSize           int
	WalConsumeSize         int
	WalBatchThreshold      float64
	MaxConsecutivePolls    int
	StoreBatchSize         int
	SkipWALConsumption     bool
	HeartbeatIntervalTicks int
}

func (c Config) withDefaults() Config {
	if c.PollingInterval <= 0 {
		c.PollingInterval = time.Second
	}
	if c.FastPollingInterval <= 0 {
		c.FastPollingInterval = 100 * time.Millisecond
	}
	if c.WalBatchSize <= 0 {
		c.WalBatchSize = 2000
	}
	if c.WalConsumeSize <= 0 {
		c.WalConsumeSize = 2000
	}
	if c.WalBatchThreshold <= 0 {
		c.WalBatchThreshold = 0.5
	}
	if c.MaxConsecutivePolls <= 0 {
		c.MaxConsecutivePolls = 10
	}
	if c.StoreBatchSize <= 0 {
		c.StoreBatchSize = 100
	}
	if c.HeartbeatIntervalTicks <= 0 {
		c.HeartbeatIntervalTicks = 60
	}
	return c
}

// ClientLister resolves the transports to notify for one dispatch; it
// is the registry/transport-bridge seam so poller does not depend on
// either package directly.
type ClientLister interface {
	Active(ctx context.Context) []notifier.ClientTransport
}

// Engine is the per-slot polling loop.
type Engine struct {
	cfg Config

	slot      *slotadapter.Adapter
	state     *statestore.Store
	transform *transform.Transformer
	history   *history.Writer
	notifier  *notifier.Notifier
	clients   ClientLister
	collector *metrics.Collector
	logger    zerolog.Logger

	running   atomic.Bool
	inFlight  atomic.Bool
	counter   atomic.Int64
	fastTicks int

	firstPollOnce sync.Once
	firstPollCh   chan struct{}
}

// New builds an Engine. collector may be nil.
func New(
	cfg Config,
	slot *slotadapter.Adapter,
	state *statestore.Store,
	tr *transform.Transformer,
	hist *history.Writer,
	notif *notifier.Notifier,
	clients ClientLister,
	collector *metrics.Collector,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg.withDefaults(),
		slot:        slot,
		state:       state,
		transform:   tr,
		history:     hist,
		notifier:    notif,
		clients:     clients,
		collector:   collector,
		logger:      logger.With().Str("component", "poller").Logger(),
		firstPollCh: make(chan struct{}),
	}
}

// Run drives the cadence loop until ctx is cancelled. It is intended
// to be started as its own goroutine by the controller, which owns
// the engine's lifetime.
func (e *Engine) Run(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn().Msg("Run called while already running")
		return
	}
	defer e.running.Store(false)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			fast := e.tick(ctx)
			timer.Reset(e.nextInterval(fast))
		}
	}
}

func (e *Engine) nextInterval(fast bool) time.Duration {
	if fast && e.fastTicks < e.cfg.MaxConsecutivePolls {
		e.fastTicks++
		return e.cfg.FastPollingInterval
	}
	e.fastTicks = 0
	return e.cfg.PollingInterval
}

// tick runs one poll cycle and reports whether the engine should
// escalate to the fast cadence for the next cycle.
func (e *Engine) tick(ctx context.Context) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.Debug().Msg("tick skipped: previous poll still in flight")
		return false
	}
	defer e.inFlight.Store(false)

	n := e.counter.Add(1)
	if e.collector != nil {
		e.collector.RecordPoll()
		if latest, err := e.slot.CurrentWALLSN(ctx); err == nil {
			e.collector.RecordLatestLSN(latest)
		}
	}

	fast, err := e.runCycle(ctx)
	if err != nil {
		e.logger.Err(err).Msg("poll cycle failed")
		if e.collector != nil {
			e.collector.RecordError(err)
		}
	}

	if n%int64(e.cfg.HeartbeatIntervalTicks) == 0 {
		state, _ := e.state.GetReplicationState(ctx)
		e.logger.Info().
			Int64("counter", n).
			Dur("interval", e.cfg.PollingInterval).
			Str("current_lsn", state.ConfirmedLSN.String()).
			Msg("heartbeat")
	}

	return fast
}

func (e *Engine) runCycle(ctx context.Context) (fast bool, err error) {
	state, err := e.state.GetReplicationState(ctx)
	if err != nil {
		return false, err
	}
	currentLSN := state.ConfirmedLSN

	batch, err := e.slot.PeekChanges(ctx, currentLSN, e.cfg.WalBatchSize)
	if err != nil {
		if isSlotBusy(err) {
			return false, nil
		}
		return false, err
	}

	if len(batch) == 0 {
		e.signalFirstPoll()
		return false, nil
	}

	lastLSN := batch[len(batch)-1].LSN

	var changes []wal.TableChange
	for _, rec := range batch {
		changes = append(changes, e.transform.Transform(rec)...)
	}

	if len(changes) == 0 {
		if err := e.state.PutReplicationState(ctx, statestore.ReplicationState{ConfirmedLSN: lastLSN}); err != nil {
			return false, err
		}
		e.signalFirstPoll()
		return e.isFullBatch(len(batch)), nil
	}

	success, total, storeErr := e.history.Write(ctx, changes)
	stored := success > 0
	if storeErr != nil {
		e.logger.Warn().Err(storeErr).Int("success", success).Int("total", total).
			Msg("history write did not fully succeed; advancing LSN anyway to avoid reprocessing")
	}

	// The LSN always advances, even on a partial or failed store:
	// re-peeking the same range forever would wedge the slot. A batch
	// whose store failed is therefore not retried.
	if err := e.state.PutReplicationState(ctx, statestore.ReplicationState{ConfirmedLSN: lastLSN}); err != nil {
		return false, err
	}

	if e.collector != nil {
		e.collector.RecordChanges(len(changes))
		e.collector.RecordConfirmedLSN(lastLSN)
	}

	if stored && e.notifier != nil && e.clients != nil {
		targets := e.clients.Active(ctx)
		e.notifier.Dispatch(ctx, changes, targets, lastLSN)
	}

	if !e.cfg.SkipWALConsumption {
		if _, err := e.slot.ConsumeChanges(ctx, lastLSN, e.cfg.WalConsumeSize); err != nil {
			e.logger.Warn().Err(err).Msg("best-effort WAL consumption failed")
		}
	}

	e.signalFirstPoll()
	return e.isFullBatch(len(batch)), nil
}

func (e *Engine) isFullBatch(n int) bool {
	return float64(n) >= e.cfg.WalBatchThreshold*float64(e.cfg.WalBatchSize)
}

func (e *Engine) signalFirstPoll() {
	e.firstPollOnce.Do(func() { close(e.firstPollCh) })
}

// ResetInitialPoll rebuilds the first-poll latch so the next
// WaitForInitialPoll call blocks for a genuinely fresh poll instead of
// returning immediately against an already-closed channel from a prior
// run. The controller calls this before restarting Run on a
// hibernate-wake cycle.
func (e *Engine) ResetInitialPoll() {
	e.firstPollOnce = sync.Once{}
	e.firstPollCh = make(chan struct{})
}

// WaitForInitialPoll blocks until the engine has completed its first
// poll cycle, or ctx is cancelled.
func (e *Engine) WaitForInitialPoll(ctx context.Context) error {
	select {
	case <-e.firstPollCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isSlotBusy(err error) bool {
	return errors.Is(err, cdcerr.SlotBusy)
}
