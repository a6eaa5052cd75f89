package controller

import (
	"context"

	"github.com/vibestack/cdc-core/internal/registry"
	"github.com/vibestack/cdc-core/internal/slotadapter"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

// InitResult is the response shape for POST /api/replication/init.
type InitResult struct {
	Success    bool                     `json:"success"`
	SlotStatus *slotadapter.SlotStatus  `json:"slotStatus,omitempty"`
	State      State                    `json:"state,omitempty"`
}

// StatusResult is the response shape for GET /api/replication/status.
type StatusResult struct {
	Slot  SlotSummary `json:"slot"`
	State State       `json:"state"`
}

// SlotSummary is the {name,status} pair reported for a replication slot.
type SlotSummary struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// HealthCheckResult is the response shape for GET /api/replication/health.
type HealthCheckResult struct {
	Healthy    bool   `json:"healthy"`
	SlotExists bool   `json:"slotExists"`
	State      State  `json:"state"`
	Error      string `json:"error,omitempty"`
}

// VerificationResult is the response shape for GET /api/replication/verify.
// It compares the durably-confirmed LSN against the slot's own
// confirmed_flush_lsn: in steady state they track closely, and a large
// or growing gap signals the poller has stalled.
type VerificationResult struct {
	Success         bool   `json:"success"`
	ConfirmedLSN    string `json:"confirmedLsn"`
	SlotFlushLSN    string `json:"slotFlushLsn"`
	Drifted         bool   `json:"drifted"`
	Error           string `json:"error,omitempty"`
}

// InitialCleanupResult is the response shape for POST /api/replication/cleanup.
type InitialCleanupResult struct {
	Success      bool `json:"success"`
	RemovedCount int  `json:"removedCount"`
}

// InitOp dispatches to the actor's Init operation and reports the
// resulting slot status alongside the new lifecycle state.
func (c *Controller) InitOp(ctx context.Context) InitResult {
	state, err := c.Init(ctx)
	if err != nil {
		return InitResult{Success: false}
	}
	slotStatus, err := c.slot.GetSlotStatus(ctx)
	if err != nil {
		return InitResult{Success: true, State: state}
	}
	return InitResult{Success: true, SlotStatus: &slotStatus, State: state}
}

// Status reports the slot's existence and the actor's lifecycle state.
func (c *Controller) Status(ctx context.Context) StatusResult {
	status := "unknown"
	slotStatus, err := c.slot.GetSlotStatus(ctx)
	if err == nil {
		if slotStatus.Exists {
			status = "active"
		} else {
			status = "missing"
		}
	}
	return StatusResult{
		Slot:  SlotSummary{Name: c.slotName, Status: status},
		State: c.State(),
	}
}

// Health reports whether the replication slot backing this actor
// exists and is reachable.
func (c *Controller) Health(ctx context.Context) HealthCheckResult {
	slotStatus, err := c.slot.GetSlotStatus(ctx)
	if err != nil {
		return HealthCheckResult{Healthy: false, State: c.State(), Error: err.Error()}
	}
	return HealthCheckResult{Healthy: slotStatus.Exists, SlotExists: slotStatus.Exists, State: c.State()}
}

// Verify compares the durable confirmed_lsn against the slot's own
// confirmed_flush_lsn to detect poller staleness.
func (c *Controller) Verify(ctx context.Context) VerificationResult {
	repState, err := c.state.GetReplicationState(ctx)
	if err != nil {
		return VerificationResult{Success: false, Error: err.Error()}
	}
	slotStatus, err := c.slot.GetSlotStatus(ctx)
	if err != nil {
		return VerificationResult{Success: false, Error: err.Error()}
	}
	return VerificationResult{
		Success:      true,
		ConfirmedLSN: repState.ConfirmedLSN.String(),
		SlotFlushLSN: slotStatus.ConfirmedFlushLSN.String(),
		Drifted:      repState.ConfirmedLSN != slotStatus.ConfirmedFlushLSN,
	}
}

// Cleanup runs a full client-registry sweep, backing both the
// top-level /cleanup route and a /clients/cleanup alias with the same
// registry.Purge operation (see DESIGN.md).
func (c *Controller) Cleanup(ctx context.Context) InitialCleanupResult {
	removed, err := c.clients.Purge(ctx)
	if err != nil {
		return InitialCleanupResult{Success: false}
	}
	return InitialCleanupResult{Success: true, RemovedCount: removed}
}

// Peek exposes the slot adapter's PeekHistory for the admin surface.
func (c *Controller) Peek(ctx context.Context, fromLSN lsn.LSN, limit int) (slotadapter.PeekHistoryResult, error) {
	return c.slot.PeekHistory(ctx, fromLSN, limit)
}

// ListClients exposes the active client set for the admin surface.
func (c *Controller) ListClients(ctx context.Context) ([]registry.ClientState, error) {
	return c.clients.ListActive(ctx, 0)
}

// CleanupClients removes stale/inactive client entries; it is an alias
// for Cleanup, the same full registry.Purge sweep.
func (c *Controller) CleanupClients(ctx context.Context) InitialCleanupResult {
	return c.Cleanup(ctx)
}
