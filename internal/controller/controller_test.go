package controller

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/filter"
	"github.com/vibestack/cdc-core/internal/history"
	"github.com/vibestack/cdc-core/internal/notifier"
	"github.com/vibestack/cdc-core/internal/poller"
	"github.com/vibestack/cdc-core/internal/registry"
	"github.com/vibestack/cdc-core/internal/slotadapter"
	"github.com/vibestack/cdc-core/internal/statestore"
	"github.com/vibestack/cdc-core/internal/testutil"
	"github.com/vibestack/cdc-core/internal/transform"
)

func TestController_InitWithNoClients_Hibernates(t *testing.T) {
	if !testutil.TryPing(testutil.DSN()) {
		t.Skip("database not reachable; set VIBESTACK_CDC_TEST_DSN or start docker-compose.test.yml")
	}
	ctx := context.Background()
	pool := testutil.MustConnectPool(t, testutil.DSN())

	testutil.CreateTestTable(t, pool, "public", "controller_items", 0)
	testutil.CreatePublicationForTables(t, pool, "controller_test_pub", "controller_items")
	testutil.CreateReplicationSlot(t, pool, "controller_test_slot", "wal2json")
	t.Cleanup(func() { testutil.CleanupReplication(t, pool, "controller_test_slot", "controller_test_pub") })

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS cdc_state (
			key TEXT PRIMARY KEY, value JSONB NOT NULL, updated_at TIMESTAMPTZ DEFAULT now())`,
		`CREATE TABLE IF NOT EXISTS cdc_clients (
			client_id TEXT PRIMARY KEY, active BOOLEAN NOT NULL DEFAULT true, last_seen TIMESTAMPTZ NOT NULL DEFAULT now())`,
		`CREATE TABLE IF NOT EXISTS change_history (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY, lsn TEXT NOT NULL, table_name TEXT NOT NULL,
			operation TEXT NOT NULL, data JSONB NOT NULL, timestamp TIMESTAMPTZ NOT NULL)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS change_history_dedup_idx ON change_history (lsn, table_name, (data ->> 'id'))`,
	} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			t.Fatalf("setup ddl: %v", err)
		}
	}
	t.Cleanup(func() {
		pool.Exec(ctx, "DELETE FROM cdc_state")
		pool.Exec(ctx, "DELETE FROM cdc_clients")
		pool.Exec(ctx, "DELETE FROM change_history")
	})

	adapter := slotadapter.New(pool, "controller_test_slot", "wal2json", zerolog.Nop())
	state := statestore.New(pool, zerolog.Nop())
	reg := registry.New(pool, 10*time.Minute, 24*time.Hour, zerolog.Nop())
	f := filter.New([]string{"controller_items"})
	tr := transform.New(f, nil)
	hist := history.New(pool, 100, zerolog.Nop())
	notif := notifier.New(zerolog.Nop())

	engine := poller.New(poller.Config{PollingInterval: time.Hour}, adapter, state, tr, hist, notif, noClients{}, nil, zerolog.Nop())
	c := New("controller_test_slot", engine, adapter, state, reg, nil, zerolog.Nop())

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	got, err := c.Init(initCtx)
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if got != StateHibernating {
		t.Errorf("Init() with no clients = %v, want %v", got, StateHibernating)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if c.State() != StateStopping {
		t.Errorf("State() after Stop() = %v, want %v", c.State(), StateStopping)
	}
}

func TestController_Init_Idempotent(t *testing.T) {
	if !testutil.TryPing(testutil.DSN()) {
		t.Skip("database not reachable; set VIBESTACK_CDC_TEST_DSN or start docker-compose.test.yml")
	}
	ctx := context.Background()
	pool := testutil.MustConnectPool(t, testutil.DSN())

	testutil.CreateTestTable(t, pool, "public", "controller_items2", 0)
	testutil.CreatePublicationForTables(t, pool, "controller_test_pub2", "controller_items2")
	testutil.CreateReplicationSlot(t, pool, "controller_test_slot2", "wal2json")
	t.Cleanup(func() { testutil.CleanupReplication(t, pool, "controller_test_slot2", "controller_test_pub2") })

	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS cdc_state (
			key TEXT PRIMARY KEY, value JSONB NOT NULL, updated_at TIMESTAMPTZ DEFAULT now())`,
		`CREATE TABLE IF NOT EXISTS cdc_clients (
			client_id TEXT PRIMARY KEY, active BOOLEAN NOT NULL DEFAULT true, last_seen TIMESTAMPTZ NOT NULL DEFAULT now())`,
		`CREATE TABLE IF NOT EXISTS change_history (
			id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY, lsn TEXT NOT NULL, table_name TEXT NOT NULL,
			operation TEXT NOT NULL, data JSONB NOT NULL, timestamp TIMESTAMPTZ NOT NULL)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS change_history_dedup_idx ON change_history (lsn, table_name, (data ->> 'id'))`,
	} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			t.Fatalf("setup ddl: %v", err)
		}
	}
	t.Cleanup(func() {
		pool.Exec(ctx, "DELETE FROM cdc_state")
		pool.Exec(ctx, "DELETE FROM cdc_clients")
		pool.Exec(ctx, "DELETE FROM change_history")
	})

	adapter := slotadapter.New(pool, "controller_test_slot2", "wal2json", zerolog.Nop())
	state := statestore.New(pool, zerolog.Nop())
	reg := registry.New(pool, 10*time.Minute, 24*time.Hour, zerolog.Nop())
	f := filter.New([]string{"controller_items2"})
	tr := transform.New(f, nil)
	hist := history.New(pool, 100, zerolog.Nop())
	notif := notifier.New(zerolog.Nop())

	engine := poller.New(poller.Config{PollingInterval: time.Hour}, adapter, state, tr, hist, notif, noClients{}, nil, zerolog.Nop())
	c := New("controller_test_slot2", engine, adapter, state, reg, nil, zerolog.Nop())

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	first, err := c.Init(initCtx)
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}

	second, err := c.Init(context.Background())
	if err != nil {
		t.Fatalf("second Init() error: %v", err)
	}
	if second != first {
		t.Errorf("second Init() = %v, want unchanged %v (idempotent, no re-poll)", second, first)
	}

	c.Stop(ctx)
}

type noClients struct{}

func (noClients) Active(ctx context.Context) []notifier.ClientTransport { return nil }
