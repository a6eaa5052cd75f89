// Package slotadapter wraps the PostgreSQL logical-replication slot
// functions the controller depends on: peek, consume, status, and
// advance. Every exported method acquires its own connection and
// releases it on every exit path.
package slotadapter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/cdcerr"
	"github.com/vibestack/cdc-core/internal/wal"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

// SlotStatus reports whether a replication slot exists and, if so,
// its last confirmed-flush LSN.
type SlotStatus struct {
	Exists            bool    `json:"exists"`
	ConfirmedFlushLSN lsn.LSN `json:"confirmedFlushLsn"`
}

// Adapter talks to a single replication slot through a connection pool,
// acquiring and releasing one connection per call.
type Adapter struct {
	pool         *pgxpool.Pool
	slot         string
	outputPlugin string
	logger       zerolog.Logger
}

// New builds an Adapter bound to a single slot name. The slot functions
// it calls are ordinary SQL functions, so pool may be a regular pool (as
// in this package's tests); serve passes one built from
// config.DatabaseConfig.ReplicationDSN.
func New(pool *pgxpool.Pool, slot, outputPlugin string, logger zerolog.Logger) *Adapter {
	return &Adapter{
		pool:         pool,
		slot:         slot,
		outputPlugin: outputPlugin,
		logger:       logger.With().Str("component", "slot-adapter").Str("slot", slot).Logger(),
	}
}

// GetSlotStatus reports whether the slot exists and its confirmed_flush_lsn.
func (a *Adapter) GetSlotStatus(ctx context.Context) (SlotStatus, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return SlotStatus{}, fmt.Errorf("%w: acquire connection: %v", cdcerr.SlotUnavailable, err)
	}
	defer conn.Release()

	var confirmed *string
	err = conn.QueryRow(ctx,
		`SELECT confirmed_flush_lsn::text FROM pg_replication_slots WHERE slot_name = $1`,
		a.slot,
	).Scan(&confirmed)
	if errors.Is(err, pgx.ErrNoRows) {
		return SlotStatus{Exists: false}, nil
	}
	if err != nil {
		return SlotStatus{}, fmt.Errorf("%w: query slot status: %v", cdcerr.SlotUnavailable, err)
	}

	status := SlotStatus{Exists: true}
	if confirmed != nil {
		parsed, err := lsn.Parse(*confirmed)
		if err != nil {
			return SlotStatus{}, fmt.Errorf("%w: %v", cdcerr.SlotUnavailable, err)
		}
		status.ConfirmedFlushLSN = parsed
	}
	return status, nil
}

// CurrentWALLSN reports the server's current write-ahead log insert
// position, independent of any slot. Used to compute replication lag
// against the slot's confirmed position.
func (a *Adapter) CurrentWALLSN(ctx context.Context) (lsn.LSN, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return lsn.Zero, fmt.Errorf("%w: acquire connection: %v", cdcerr.SlotUnavailable, err)
	}
	defer conn.Release()

	var current string
	err = conn.QueryRow(ctx, `SELECT pg_current_wal_lsn()::text`).Scan(&current)
	if err != nil {
		return lsn.Zero, fmt.Errorf("%w: query current wal lsn: %v", cdcerr.SlotUnavailable, err)
	}
	parsed, err := lsn.Parse(current)
	if err != nil {
		return lsn.Zero, fmt.Errorf("%w: %v", cdcerr.MalformedInput, err)
	}
	return parsed, nil
}

// PeekChanges reads up to limit WAL records after afterLSN without
// consuming them. The decoder options include-xids and
// include-timestamp are passed to the output plugin; C5 does not read
// the plugin's timestamp (TableChange.UpdatedAt comes from the row's
// updated_at column or the transform time).
func (a *Adapter) PeekChanges(ctx context.Context, afterLSN lsn.LSN, limit int) ([]wal.WALRecord, error) {
	return a.slotQuery(ctx, "pg_logical_slot_peek_changes", afterLSN, limit)
}

// ConsumeChanges consumes the slot's pending WAL records up to uptoLSN
// (at most limit of them), advancing the slot's confirmed position as a
// side effect, and returns how many records were consumed.
func (a *Adapter) ConsumeChanges(ctx context.Context, uptoLSN lsn.LSN, limit int) (int, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: acquire connection: %v", cdcerr.SlotUnavailable, err)
	}
	defer conn.Release()

	var consumed int
	err = conn.QueryRow(ctx,
		`SELECT count(*) FROM pg_logical_slot_get_changes($1, $2::pg_lsn, $3, 'include-xids', '1', 'include-timestamp', 'true')`,
		a.slot, lsn.Format(uptoLSN), limit,
	).Scan(&consumed)
	if err != nil {
		if isSlotBusy(err) {
			return 0, fmt.Errorf("%w: %v", cdcerr.SlotBusy, err)
		}
		return 0, fmt.Errorf("%w: pg_logical_slot_get_changes: %v", cdcerr.SlotUnavailable, err)
	}
	return consumed, nil
}

func (a *Adapter) slotQuery(ctx context.Context, fn string, afterLSN lsn.LSN, limit int) ([]wal.WALRecord, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquire connection: %v", cdcerr.SlotUnavailable, err)
	}
	defer conn.Release()

	query := fmt.Sprintf(
		`SELECT lsn::text, xid, data FROM %s($1, NULL, $2, 'include-xids', '1', 'include-timestamp', 'true')`,
		fn,
	)
	rows, err := conn.Query(ctx, query, a.slot, limit)
	if err != nil {
		if isSlotBusy(err) {
			return nil, fmt.Errorf("%w: %v", cdcerr.SlotBusy, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", cdcerr.SlotUnavailable, fn, err)
	}
	defer rows.Close()

	var records []wal.WALRecord
	for rows.Next() {
		var lsnText string
		var xid uint32
		var data string
		if err := rows.Scan(&lsnText, &xid, &data); err != nil {
			return nil, fmt.Errorf("%w: scan row: %v", cdcerr.SlotUnavailable, err)
		}
		parsed, err := lsn.Parse(lsnText)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", cdcerr.MalformedInput, err)
		}
		if lsn.Compare(parsed, afterLSN) <= 0 {
			continue
		}
		records = append(records, wal.WALRecord{LSN: parsed, XID: xid, Data: data})
	}
	if err := rows.Err(); err != nil {
		if isSlotBusy(err) {
			return nil, fmt.Errorf("%w: %v", cdcerr.SlotBusy, err)
		}
		return nil, fmt.Errorf("%w: iterate rows: %v", cdcerr.SlotUnavailable, err)
	}
	return records, nil
}

// AdvanceSlot moves the slot's confirmed position to uptoLSN via
// pg_replication_slot_advance, without requiring a full get_changes call.
func (a *Adapter) AdvanceSlot(ctx context.Context, uptoLSN lsn.LSN) error {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %v", cdcerr.SlotUnavailable, err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx,
		`SELECT pg_replication_slot_advance($1, $2)`, a.slot, lsn.Format(uptoLSN))
	if err != nil {
		if isSlotBusy(err) {
			return fmt.Errorf("%w: %v", cdcerr.SlotBusy, err)
		}
		return fmt.Errorf("%w: advance slot: %v", cdcerr.SlotUnavailable, err)
	}
	return nil
}

// PeekHistoryResult is the response shape for the admin /peek surface.
type PeekHistoryResult struct {
	Changes    []wal.WALRecord `json:"changes"`
	HasMore    bool            `json:"hasMore"`
	NextLSN    lsn.LSN         `json:"nextLsn,omitempty"`
	SlotStatus *SlotStatus     `json:"slotStatus,omitempty"`
}

// PeekHistory reads at most limit+1 records to compute HasMore without
// a second round trip, for the admin /peek endpoint.
func (a *Adapter) PeekHistory(ctx context.Context, fromLSN lsn.LSN, limit int) (PeekHistoryResult, error) {
	records, err := a.PeekChanges(ctx, fromLSN, limit+1)
	if err != nil {
		return PeekHistoryResult{}, err
	}

	result := PeekHistoryResult{Changes: records}
	if len(records) > limit {
		result.HasMore = true
		result.Changes = records[:limit]
	}
	if len(result.Changes) > 0 {
		result.NextLSN = result.Changes[len(result.Changes)-1].LSN
	}

	status, err := a.GetSlotStatus(ctx)
	if err == nil {
		result.SlotStatus = &status
	}
	return result, nil
}

// DropSlot drops the underlying replication slot, used by admin
// cleanup operations.
func (a *Adapter) DropSlot(ctx context.Context) error {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %v", cdcerr.SlotUnavailable, err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `SELECT pg_drop_replication_slot($1)`, a.slot)
	if err != nil {
		return fmt.Errorf("%w: drop slot: %v", cdcerr.SlotUnavailable, err)
	}
	return nil
}

func isSlotBusy(err error) bool {
	return strings.Contains(err.Error(), "is active for PID")
}
