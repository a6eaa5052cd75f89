package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/testutil"
)

func setup(t *testing.T) *Registry {
	t.Helper()
	if !testutil.TryPing(testutil.DSN()) {
		t.Skip("database not reachable; set VIBESTACK_CDC_TEST_DSN or start docker-compose.test.yml")
	}
	pool := testutil.MustConnectPool(t, testutil.DSN())
	if _, err := pool.Exec(context.Background(), `
		CREATE TABLE IF NOT EXISTS cdc_clients (
			client_id TEXT PRIMARY KEY,
			active BOOLEAN NOT NULL DEFAULT true,
			last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		t.Fatalf("create cdc_clients: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(context.Background(), "DELETE FROM cdc_clients")
	})

	return New(pool, 10*time.Minute, 24*time.Hour, zerolog.Nop())
}

func seed(t *testing.T, r *Registry, id string, active bool, lastSeen time.Time) {
	t.Helper()
	if _, err := r.pool.Exec(context.Background(),
		`INSERT INTO cdc_clients (client_id, active, last_seen) VALUES ($1, $2, $3)`,
		id, active, lastSeen); err != nil {
		t.Fatalf("seed client %s: %v", id, err)
	}
}

func TestRegistry_HasActive_Empty(t *testing.T) {
	r := setup(t)

	ok, err := r.HasActive(context.Background())
	if err != nil {
		t.Fatalf("HasActive() error: %v", err)
	}
	if ok {
		t.Errorf("HasActive() = true, want false on empty registry")
	}
}

func TestRegistry_HasActive_WithFreshClient(t *testing.T) {
	r := setup(t)
	seed(t, r, "client-A", true, time.Now())

	ok, err := r.HasActive(context.Background())
	if err != nil {
		t.Fatalf("HasActive() error: %v", err)
	}
	if !ok {
		t.Errorf("HasActive() = false, want true")
	}
}

func TestRegistry_HasActive_PrunesStale(t *testing.T) {
	r := setup(t)
	seed(t, r, "client-stale", true, time.Now().Add(-20*time.Minute))

	ok, err := r.HasActive(context.Background())
	if err != nil {
		t.Fatalf("HasActive() error: %v", err)
	}
	if ok {
		t.Errorf("HasActive() = true, want false (stale entry should be pruned)")
	}

	var count int64
	if err := r.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM cdc_clients WHERE client_id = 'client-stale'").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("stale entry was not deleted")
	}
}

func TestRegistry_ListActive_ExcludesInactive(t *testing.T) {
	r := setup(t)
	seed(t, r, "client-active", true, time.Now())
	seed(t, r, "client-inactive", false, time.Now())

	active, err := r.ListActive(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListActive() error: %v", err)
	}
	if len(active) != 1 || active[0].ClientID != "client-active" {
		t.Errorf("ListActive() = %+v, want only client-active", active)
	}
}

func TestRegistry_Purge_RemovesInactiveAndStale(t *testing.T) {
	r := setup(t)
	seed(t, r, "client-keep", true, time.Now())
	seed(t, r, "client-inactive", false, time.Now())
	seed(t, r, "client-stale", true, time.Now().Add(-24*time.Hour))

	removed, err := r.Purge(context.Background())
	if err != nil {
		t.Fatalf("Purge() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("Purge() removed %d, want 2", removed)
	}

	var count int64
	if err := r.pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM cdc_clients").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("remaining rows = %d, want 1", count)
	}
}

func TestNewClientID_Unique(t *testing.T) {
	a := NewClientID()
	b := NewClientID()
	if a == b {
		t.Errorf("NewClientID() returned identical ids")
	}
	if a == "" || b == "" {
		t.Errorf("NewClientID() returned empty id")
	}
}
