package statestore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/testutil"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

func connect(t *testing.T) *Store {
	t.Helper()
	if !testutil.TryPing(testutil.DSN()) {
		t.Skip("database not reachable; set VIBESTACK_CDC_TEST_DSN or start docker-compose.test.yml")
	}
	pool := testutil.MustConnectPool(t, testutil.DSN())
	if _, err := pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS cdc_state (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		t.Fatalf("create cdc_state: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DELETE FROM cdc_state WHERE key IN ($1, $2)", keyReplicationState, keyLastActive)
	})
	return New(pool, zerolog.Nop())
}

func TestStore_ReplicationState_ColdStart(t *testing.T) {
	s := connect(t)
	state, err := s.GetReplicationState(context.Background())
	if err != nil {
		t.Fatalf("GetReplicationState() error: %v", err)
	}
	if state.ConfirmedLSN != lsn.Zero {
		t.Errorf("ConfirmedLSN = %v, want zero on cold start", state.ConfirmedLSN)
	}
}

func TestStore_ReplicationState_RoundTrip(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	want := ReplicationState{ConfirmedLSN: lsn.LSN(0x16B374D848)}
	if err := s.PutReplicationState(ctx, want); err != nil {
		t.Fatalf("PutReplicationState() error: %v", err)
	}

	got, err := s.GetReplicationState(ctx)
	if err != nil {
		t.Fatalf("GetReplicationState() error: %v", err)
	}
	if got.ConfirmedLSN != want.ConfirmedLSN {
		t.Errorf("ConfirmedLSN = %v, want %v", got.ConfirmedLSN, want.ConfirmedLSN)
	}
}

func TestStore_LastActiveTimestamp_RoundTrip(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	want := time.Now().UTC().Truncate(time.Second)
	if err := s.PutLastActiveTimestamp(ctx, want); err != nil {
		t.Fatalf("PutLastActiveTimestamp() error: %v", err)
	}

	got, err := s.GetLastActiveTimestamp(ctx)
	if err != nil {
		t.Fatalf("GetLastActiveTimestamp() error: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("GetLastActiveTimestamp() = %v, want %v", got, want)
	}
}
