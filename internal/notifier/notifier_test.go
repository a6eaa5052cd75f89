package notifier

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/internal/wal"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

type fakeTransport struct {
	id       string
	received []wal.TableChange
	lastLSN  lsn.LSN
	err      error
}

func (f *fakeTransport) ClientID() string { return f.id }

func (f *fakeTransport) Send(ctx context.Context, changes []wal.TableChange, lastLSN lsn.LSN) error {
	if f.err != nil {
		return f.err
	}
	f.received = append(f.received, changes...)
	f.lastLSN = lastLSN
	return nil
}

func change(table, clientID string) wal.TableChange {
	data := map[string]any{"id": "r1"}
	if clientID != "" {
		data["client_id"] = clientID
	}
	return wal.TableChange{Table: table, Op: wal.OpInsert, Data: data}
}

func TestDispatch_DeliversToAllClients(t *testing.T) {
	n := New(zerolog.Nop())
	a := &fakeTransport{id: "client-A"}
	b := &fakeTransport{id: "client-B"}

	changes := []wal.TableChange{change("tasks", "")}
	res := n.Dispatch(context.Background(), changes, []ClientTransport{a, b}, lsn.Zero)

	if res.Notified != 2 || res.Skipped != 0 || res.Failed != 0 {
		t.Errorf("Dispatch() = %+v, want Notified=2", res)
	}
	if len(a.received) != 1 || len(b.received) != 1 {
		t.Errorf("expected both clients to receive the change")
	}
}

func TestDispatch_SuppressesEcho(t *testing.T) {
	n := New(zerolog.Nop())
	author := &fakeTransport{id: "client-A"}
	other := &fakeTransport{id: "client-B"}

	changes := []wal.TableChange{change("tasks", "client-A")}
	res := n.Dispatch(context.Background(), changes, []ClientTransport{author, other}, lsn.Zero)

	if len(author.received) != 0 {
		t.Errorf("author should not receive its own echo, got %d changes", len(author.received))
	}
	if len(other.received) != 1 {
		t.Errorf("other client should receive the change, got %d", len(other.received))
	}
	if res.Skipped != 1 || res.Notified != 1 {
		t.Errorf("Dispatch() = %+v, want Skipped=1 Notified=1", res)
	}
}

func TestDispatch_IsolatesTransportFailure(t *testing.T) {
	n := New(zerolog.Nop())
	failing := &fakeTransport{id: "client-A", err: errors.New("connection reset")}
	healthy := &fakeTransport{id: "client-B"}

	changes := []wal.TableChange{change("tasks", "")}
	res := n.Dispatch(context.Background(), changes, []ClientTransport{failing, healthy}, lsn.Zero)

	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if res.Notified != 1 || len(healthy.received) != 1 {
		t.Errorf("healthy client should still be notified: res=%+v", res)
	}
}

func TestDispatch_NoClients(t *testing.T) {
	n := New(zerolog.Nop())
	res := n.Dispatch(context.Background(), []wal.TableChange{change("tasks", "")}, nil, lsn.Zero)
	if res.Notified != 0 || res.Skipped != 0 || res.Failed != 0 {
		t.Errorf("Dispatch() with no clients = %+v, want all zero", res)
	}
}

func TestDispatch_PreservesOrderPerClient(t *testing.T) {
	n := New(zerolog.Nop())
	c := &fakeTransport{id: "client-A"}

	first := wal.TableChange{Table: "tasks", Op: wal.OpInsert, Data: map[string]any{"id": "1"}}
	second := wal.TableChange{Table: "tasks", Op: wal.OpUpdate, Data: map[string]any{"id": "2"}}
	n.Dispatch(context.Background(), []wal.TableChange{first, second}, []ClientTransport{c}, lsn.Zero)

	if len(c.received) != 2 {
		t.Fatalf("received %d changes, want 2", len(c.received))
	}
	if id, _ := c.received[0].RowID(); id != "1" {
		t.Errorf("first change RowID = %q, want 1", id)
	}
	if id, _ := c.received[1].RowID(); id != "2" {
		t.Errorf("second change RowID = %q, want 2", id)
	}
}
