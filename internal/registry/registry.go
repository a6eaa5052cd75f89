// Package registry maintains the keyed, TTL-bound directory of
// connected clients, used to decide who gets notified of a change and
// to suppress a client's own echo. Entries
// are written by an external sync endpoint through Touch, and are
// otherwise only read, lazily cleaned, and fully purged here — the
// registry never marks a client active on its own.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/cdcerr"
)

// ClientState is one entry in the registry: client:<clientId> → this.
type ClientState struct {
	ClientID string    `json:"client_id"`
	Active   bool      `json:"active"`
	LastSeen time.Time `json:"last_seen"`
}

func (c ClientState) stale(timeout time.Duration, now time.Time) bool {
	return now.Sub(c.LastSeen) > timeout
}

// Registry is a Postgres-backed client directory keyed by client id.
type Registry struct {
	pool                 *pgxpool.Pool
	clientTimeout        time.Duration
	fullCleanupInterval  time.Duration
	logger               zerolog.Logger

	lastFullCleanup time.Time
}

// New builds a Registry. clientTimeout and fullCleanupInterval default
// to the values from the default configuration table (10 min / 24 h)
// when zero.
func New(pool *pgxpool.Pool, clientTimeout, fullCleanupInterval time.Duration, logger zerolog.Logger) *Registry {
	if clientTimeout <= 0 {
		clientTimeout = 10 * time.Minute
	}
	if fullCleanupInterval <= 0 {
		fullCleanupInterval = 24 * time.Hour
	}
	return &Registry{
		pool:                pool,
		clientTimeout:       clientTimeout,
		fullCleanupInterval: fullCleanupInterval,
		logger:              logger.With().Str("component", "client-registry").Logger(),
	}
}

// NewClientID generates a fresh client identifier for the external
// sync endpoint to register.
func NewClientID() string {
	return uuid.NewString()
}

// Touch is the external sync endpoint's write path: it upserts a
// client's active flag and bumps last_seen to now. Called by a
// ClientTransport implementation (e.g. internal/transport/wsbridge) on
// connect and disconnect.
func (r *Registry) Touch(ctx context.Context, clientID string, active bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cdc_clients (client_id, active, last_seen)
		VALUES ($1, $2, now())
		ON CONFLICT (client_id) DO UPDATE
		SET active = EXCLUDED.active, last_seen = EXCLUDED.last_seen`,
		clientID, active,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert client %s: %v", cdcerr.ClientRegistryCorruption, clientID, err)
	}
	return nil
}

// HasActive lists all entries, deleting any that fail to parse, are
// inactive, or have gone stale, and reports whether any remain.
func (r *Registry) HasActive(ctx context.Context) (bool, error) {
	active, err := r.listAndClean(ctx, r.clientTimeout, true)
	if err != nil {
		return false, err
	}
	return len(active) > 0, nil
}

// ListActive is a pure read plus lazy cleanup of the clearly-stale —
// entries that fail to parse or are already past timeout are removed,
// but this does not perform a full sweep of inactive-but-fresh entries.
func (r *Registry) ListActive(ctx context.Context, timeout time.Duration) ([]ClientState, error) {
	if timeout <= 0 {
		timeout = r.clientTimeout
	}
	return r.listAndClean(ctx, timeout, false)
}

// Purge performs a full sweep of every entry, removing stale, inactive,
// or corrupt ones, and records lastFullCleanupTime. Returns the number
// of entries removed.
func (r *Registry) Purge(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `SELECT client_id, active, last_seen FROM cdc_clients`)
	if err != nil {
		return 0, fmt.Errorf("%w: list clients: %v", cdcerr.ClientRegistryCorruption, err)
	}

	var toRemove []string
	now := time.Now()
	for rows.Next() {
		var cs ClientState
		if err := rows.Scan(&cs.ClientID, &cs.Active, &cs.LastSeen); err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: scan client row: %v", cdcerr.ClientRegistryCorruption, err)
		}
		if !cs.Active || cs.stale(r.clientTimeout, now) {
			toRemove = append(toRemove, cs.ClientID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("%w: iterate clients: %v", cdcerr.ClientRegistryCorruption, err)
	}
	rows.Close()

	removed, err := r.remove(ctx, toRemove)
	if err != nil {
		return removed, err
	}

	r.lastFullCleanup = now
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO cdc_state (key, value, updated_at) VALUES ('registry_last_full_cleanup', $1, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		mustJSON(now),
	); err != nil {
		r.logger.Err(err).Msg("record last full cleanup time")
	}

	return removed, nil
}

func (r *Registry) listAndClean(ctx context.Context, timeout time.Duration, deleteInactive bool) ([]ClientState, error) {
	rows, err := r.pool.Query(ctx, `SELECT client_id, active, last_seen FROM cdc_clients`)
	if err != nil {
		return nil, fmt.Errorf("%w: list clients: %v", cdcerr.ClientRegistryCorruption, err)
	}

	var active []ClientState
	var toRemove []string
	now := time.Now()
	for rows.Next() {
		var cs ClientState
		if err := rows.Scan(&cs.ClientID, &cs.Active, &cs.LastSeen); err != nil {
			toRemove = append(toRemove, cs.ClientID)
			continue
		}
		switch {
		case cs.stale(timeout, now):
			toRemove = append(toRemove, cs.ClientID)
		case !cs.Active && deleteInactive:
			toRemove = append(toRemove, cs.ClientID)
		case !cs.Active:
			// leave inactive-but-fresh entries for the next full Purge.
		default:
			active = append(active, cs)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("%w: iterate clients: %v", cdcerr.ClientRegistryCorruption, err)
	}
	rows.Close()

	if len(toRemove) > 0 {
		if _, err := r.remove(ctx, toRemove); err != nil {
			r.logger.Err(err).Int("count", len(toRemove)).Msg("cleanup stale client entries")
		}
	}

	return active, nil
}

func (r *Registry) remove(ctx context.Context, clientIDs []string) (int, error) {
	if len(clientIDs) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM cdc_clients WHERE client_id = ANY($1)`, clientIDs)
	if err != nil {
		return 0, fmt.Errorf("%w: delete stale clients: %v", cdcerr.ClientRegistryCorruption, err)
	}
	return int(tag.RowsAffected()), nil
}

func mustJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}
