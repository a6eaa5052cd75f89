// Package statestore persists the controller's durable bookkeeping —
// confirmed_lsn and last_active_timestamp — in the cdc_state table,
// so the controller can survive a restart or hibernation cycle
// without replaying from the beginning of the slot.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/cdcerr"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

const (
	keyReplicationState = "replication_state"
	keyLastActive        = "last_active_timestamp"
)

// ReplicationState is the durable record of how far the controller has
// advanced the slot.
type ReplicationState struct {
	ConfirmedLSN lsn.LSN `json:"confirmed_lsn"`
}

// Store reads and writes the controller's persisted state.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// New builds a Store over the given pool.
func New(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With().Str("component", "state-store").Logger(),
	}
}

// GetReplicationState returns the persisted confirmed_lsn, defaulting
// to "0/0" when no state has ever been written (cold start).
func (s *Store) GetReplicationState(ctx context.Context) (ReplicationState, error) {
	raw, ok, err := s.get(ctx, keyReplicationState)
	if err != nil {
		return ReplicationState{}, err
	}
	if !ok {
		return ReplicationState{ConfirmedLSN: lsn.Zero}, nil
	}
	var state ReplicationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return ReplicationState{}, fmt.Errorf("%w: decode replication_state: %v", cdcerr.StateWriteFailure, err)
	}
	return state, nil
}

// PutReplicationState persists the given confirmed_lsn. Overwrites any
// prior value; callers are responsible for only ever advancing it.
func (s *Store) PutReplicationState(ctx context.Context, state ReplicationState) error {
	return s.put(ctx, keyReplicationState, state)
}

// GetLastActiveTimestamp returns the last-recorded activity time, or
// the zero time if none has been recorded.
func (s *Store) GetLastActiveTimestamp(ctx context.Context) (time.Time, error) {
	raw, ok, err := s.get(ctx, keyLastActive)
	if err != nil {
		return time.Time{}, err
	}
	if !ok {
		return time.Time{}, nil
	}
	var ts time.Time
	if err := json.Unmarshal(raw, &ts); err != nil {
		return time.Time{}, fmt.Errorf("%w: decode last_active_timestamp: %v", cdcerr.StateWriteFailure, err)
	}
	return ts, nil
}

// PutLastActiveTimestamp records the given time as the last moment the
// controller did useful work, used by the hibernation check.
func (s *Store) PutLastActiveTimestamp(ctx context.Context, ts time.Time) error {
	return s.put(ctx, keyLastActive, ts)
}

func (s *Store) get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM cdc_state WHERE key = $1`, key,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: get %s: %v", cdcerr.StateWriteFailure, key, err)
	}
	return raw, true, nil
}

func (s *Store) put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", cdcerr.StateWriteFailure, key, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cdc_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, data)
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", cdcerr.StateWriteFailure, key, err)
	}
	return nil
}
