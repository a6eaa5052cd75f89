package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/registry"
	"github.com/vibestack/cdc-core/internal/testutil"
	"github.com/vibestack/cdc-core/internal/wal"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

func setup(t *testing.T) *Hub {
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

	reg := registry.New(pool, 10*time.Minute, 24*time.Hour, zerolog.Nop())
	return NewHub(reg, zerolog.Nop())
}

func TestHub_HandleStream_RegistersAndDeregisters(t *testing.T) {
	hub := setup(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleStream))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "?client_id=test-client"
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	_, data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("read welcome frame: %v", err)
	}
	var welcome map[string]string
	if err := json.Unmarshal(data, &welcome); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if welcome["client_id"] != "test-client" {
		t.Errorf("welcome client_id = %q, want test-client", welcome["client_id"])
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		active := hub.Active(context.Background())
		if len(active) == 1 && active[0].ClientID() == "test-client" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Active() never reported the connected client: %+v", active)
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close(websocket.StatusNormalClosure, "")

	deadline = time.Now().Add(2 * time.Second)
	for {
		active := hub.Active(context.Background())
		if len(active) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Active() still reports a client after disconnect: %+v", active)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_Send_DeliversChanges(t *testing.T) {
	hub := setup(t)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleStream))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if _, _, err := conn.Read(context.Background()); err != nil {
		t.Fatalf("read welcome frame: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(hub.Active(context.Background())) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no active client registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	changes := []wal.TableChange{{Table: "tasks", Op: wal.OpInsert, Data: map[string]any{"id": "1"}}}
	c := hub.Active(context.Background())[0]
	sentLSN, _ := lsn.Parse("0/1A2B3C")
	if err := c.Send(context.Background(), changes, sentLSN); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	_, data, err := conn.Read(context.Background())
	if err != nil {
		t.Fatalf("read pushed changes: %v", err)
	}
	var got streamFrame
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal pushed changes: %v", err)
	}
	if len(got.Changes) != 1 || got.Changes[0].Table != "tasks" {
		t.Errorf("got = %+v, want one tasks change", got)
	}
	if got.LastLSN != lsn.Format(sentLSN) {
		t.Errorf("LastLSN = %q, want %q", got.LastLSN, lsn.Format(sentLSN))
	}
}
