// Package controller implements the single-writer replication actor:
// a state machine bound to one slot identity that is the sole
// starter/stopper of the polling engine and the sole source of truth
// for the lifecycle state exposed over the admin surface. One
// mutex-guarded actor per slot identity, cancel funcs for shutdown,
// hibernate/wake cycling bound to a slot name.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/metrics"
	"github.com/vibestack/cdc-core/internal/poller"
	"github.com/vibestack/cdc-core/internal/registry"
	"github.com/vibestack/cdc-core/internal/slotadapter"
	"github.com/vibestack/cdc-core/internal/statestore"
)

// State is one of the actor's lifecycle states.
type State string

const (
	StateCold         State = "cold"
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateHibernating  State = "hibernating"
	StateStopping     State = "stopping"
)

const (
	// ClientCheckInterval is how often an Active actor re-checks the
	// registry for activity.
	ClientCheckInterval = 60 * time.Second
	// HibernationCheckInterval is the wake alarm scheduled on entering
	// Hibernating.
	HibernationCheckInterval = 5 * time.Minute
	// ShutdownGrace bounds how long Stop waits for an in-flight poll to
	// finish before proceeding regardless.
	ShutdownGrace = 10 * time.Second
)

// Controller is the single-writer actor for one replication slot.
type Controller struct {
	slotName string
	engine   *poller.Engine
	slot     *slotadapter.Adapter
	state    *statestore.Store
	clients  *registry.Registry
	metrics  *metrics.Collector
	logger   zerolog.Logger

	clientCheckInterval      time.Duration
	hibernationCheckInterval time.Duration

	mu          sync.Mutex
	current     State
	cancel      context.CancelFunc
	pollerDone  chan struct{}
	alarmCancel context.CancelFunc
}

// New builds a Controller in the Cold state. The engine, state store,
// and registry are constructed by the caller (the server's wiring
// code) and handed in so the controller's only job is lifecycle.
// collector receives the actor's lifecycle state and active-client
// count so the admin API and TUI reflect them; it may be nil in tests.
func New(slotName string, engine *poller.Engine, slot *slotadapter.Adapter, state *statestore.Store, clients *registry.Registry, collector *metrics.Collector, logger zerolog.Logger) *Controller {
	return &Controller{
		slotName: slotName,
		engine:   engine,
		slot:     slot,
		state:    state,
		clients:  clients,
		metrics:  collector,
		logger:   logger.With().Str("component", "controller").Str("slot", slotName).Logger(),
		current:  StateCold,

		clientCheckInterval:      ClientCheckInterval,
		hibernationCheckInterval: HibernationCheckInterval,
	}
}

// SetIntervals overrides the default client-check and hibernation-wake
// cadences (config.LifecycleConfig, file- or flag-backed). Zero values
// leave the existing cadence untouched. Must be called before Init.
func (c *Controller) SetIntervals(clientCheck, hibernation time.Duration) {
	if clientCheck > 0 {
		c.clientCheckInterval = clientCheck
	}
	if hibernation > 0 {
		c.hibernationCheckInterval = hibernation
	}
}

// State returns the actor's current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Init transitions Cold → Initializing and starts the poller. It is
// idempotent: if the actor is already past Cold, it returns the
// current state without restarting anything.
func (c *Controller) Init(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.current != StateCold {
		s := c.current
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	return c.wake(ctx)
}

// wake moves the actor into Initializing, starts the poller, waits for
// its first poll, then settles into Active or Hibernating depending on
// whether any clients are registered.
func (c *Controller) wake(ctx context.Context) (State, error) {
	lastActive, _ := c.state.GetLastActiveTimestamp(ctx)
	hibernationDuration := time.Duration(0)
	if !lastActive.IsZero() {
		hibernationDuration = time.Since(lastActive)
	}
	c.logger.Info().
		Time("last_active_at", lastActive).
		Dur("hibernation_duration", hibernationDuration).
		Msg("waking replication actor")

	c.mu.Lock()
	c.current = StateInitializing
	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.pollerDone = make(chan struct{})
	done := c.pollerDone
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetPhase(string(StateInitializing))
	}

	c.engine.ResetInitialPoll()
	go func() {
		defer close(done)
		c.engine.Run(pollCtx)
	}()

	if err := c.engine.WaitForInitialPoll(ctx); err != nil {
		return c.State(), fmt.Errorf("wait for initial poll: %w", err)
	}

	hasActive, err := c.clients.HasActive(ctx)
	if err != nil {
		c.logger.Err(err).Msg("check active clients after initial poll")
		hasActive = false
	}
	c.recordActiveClients(hasActive)

	if hasActive {
		c.transitionTo(StateActive)
		c.scheduleClientCheck()
	} else {
		c.hibernate(ctx)
	}

	return c.State(), nil
}

// scheduleClientCheck runs the periodic Active → Hibernating check.
func (c *Controller) scheduleClientCheck() {
	c.mu.Lock()
	if c.alarmCancel != nil {
		c.alarmCancel()
	}
	alarmCtx, cancel := context.WithCancel(context.Background())
	c.alarmCancel = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.clientCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-alarmCtx.Done():
				return
			case <-ticker.C:
				if c.State() != StateActive {
					return
				}
				hasActive, err := c.clients.HasActive(context.Background())
				if err != nil {
					c.logger.Err(err).Msg("client check failed")
					continue
				}
				c.recordActiveClients(hasActive)
				if !hasActive {
					c.hibernate(context.Background())
					return
				}
			}
		}
	}()
}

// hibernate stops the poller and schedules the wake alarm.
func (c *Controller) hibernate(ctx context.Context) {
	c.stopPoller(ShutdownGrace)
	c.transitionTo(StateHibernating)

	if err := c.state.PutLastActiveTimestamp(ctx, time.Now()); err != nil {
		c.logger.Err(err).Msg("persist last_active_timestamp on hibernate")
	}

	c.mu.Lock()
	if c.alarmCancel != nil {
		c.alarmCancel()
	}
	alarmCtx, cancel := context.WithCancel(context.Background())
	c.alarmCancel = cancel
	c.mu.Unlock()

	go func() {
		timer := time.NewTimer(c.hibernationCheckInterval)
		defer timer.Stop()
		select {
		case <-alarmCtx.Done():
			return
		case <-timer.C:
			if c.State() != StateHibernating {
				return
			}
			if _, err := c.wake(context.Background()); err != nil {
				c.logger.Err(err).Msg("wake on hibernation alarm failed")
			}
		}
	}()
}

// recordActiveClients mirrors the registry's active-or-not check into
// the collector. The registry only exposes a boolean (HasActive), not
// a count, so this reports 0 or 1.
func (c *Controller) recordActiveClients(hasActive bool) {
	if c.metrics == nil {
		return
	}
	if hasActive {
		c.metrics.RecordActiveClients(1)
	} else {
		c.metrics.RecordActiveClients(0)
	}
}

func (c *Controller) transitionTo(s State) {
	c.mu.Lock()
	from := c.current
	c.current = s
	c.mu.Unlock()
	c.logger.Info().Str("from", string(from)).Str("to", string(s)).Msg("state transition")
	if c.metrics != nil {
		c.metrics.SetPhase(string(s))
	}
}

// stopPoller cancels the poller's context and waits up to grace for it
// to exit before returning regardless.
func (c *Controller) stopPoller(grace time.Duration) {
	c.mu.Lock()
	cancel := c.cancel
	done := c.pollerDone
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(grace):
		c.logger.Warn().Msg("poller did not exit within grace period; proceeding")
	}
}

// Stop transitions to Stopping, stops the poller and any scheduled
// alarm, and writes a final last_active_timestamp.
func (c *Controller) Stop(ctx context.Context) error {
	c.transitionTo(StateStopping)

	c.mu.Lock()
	if c.alarmCancel != nil {
		c.alarmCancel()
		c.alarmCancel = nil
	}
	c.mu.Unlock()

	c.stopPoller(ShutdownGrace)

	return c.state.PutLastActiveTimestamp(ctx, time.Now())
}
