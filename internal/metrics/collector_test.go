package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/pkg/lsn"
)

func TestCollector_PhaseTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetPhase("initializing")
	snap := c.Snapshot()
	if snap.Phase != "initializing" {
		t.Errorf("Phase = %q, want initializing", snap.Phase)
	}

	c.SetPhase("active")
	snap = c.Snapshot()
	if snap.Phase != "active" {
		t.Errorf("Phase = %q, want active", snap.Phase)
	}
}

func TestCollector_LSNTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordConfirmedLSN(lsn.LSN(100))
	c.RecordLatestLSN(lsn.LSN(200))

	snap := c.Snapshot()
	if snap.ConfirmedLSN != "0/64" {
		t.Errorf("ConfirmedLSN = %q, want 0/64", snap.ConfirmedLSN)
	}
	if snap.LagBytes == 0 {
		t.Error("expected non-zero lag bytes")
	}
}

func TestCollector_ChangeThroughput(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordChanges(50)
	c.RecordChanges(30)

	snap := c.Snapshot()
	if snap.TotalChanges != 80 {
		t.Errorf("TotalChanges = %d, want 80", snap.TotalChanges)
	}
}

func TestCollector_PollCount(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordPoll()
	c.RecordPoll()
	c.RecordPoll()

	snap := c.Snapshot()
	if snap.PollCount != 3 {
		t.Errorf("PollCount = %d, want 3", snap.PollCount)
	}
}

func TestCollector_ActiveClients(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordActiveClients(4)
	snap := c.Snapshot()
	if snap.ActiveClients != 4 {
		t.Errorf("ActiveClients = %d, want 4", snap.ActiveClients)
	}
}

func TestCollector_FilterReasons(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordFilterReason("not_tracked.audit")
	c.RecordFilterReason("not_tracked.audit")
	c.RecordFilterReason("malformed_json")

	snap := c.Snapshot()
	if snap.FilterReasons["not_tracked.audit"] != 2 {
		t.Errorf("FilterReasons[not_tracked.audit] = %d, want 2", snap.FilterReasons["not_tracked.audit"])
	}
	if snap.FilterReasons["malformed_json"] != 1 {
		t.Errorf("FilterReasons[malformed_json] = %d, want 1", snap.FilterReasons["malformed_json"])
	}
}

func TestCollector_ErrorTracking(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.RecordError(nil)
	snap := c.Snapshot()
	if snap.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", snap.ErrorCount)
	}

	c.RecordError(fmt.Errorf("test error"))
	snap = c.Snapshot()
	if snap.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", snap.ErrorCount)
	}
	if snap.LastError != "test error" {
		t.Errorf("LastError = %q, want 'test error'", snap.LastError)
	}
}

func TestCollector_LogBuffer(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.AddLog(LogEntry{
			Time:    time.Now(),
			Level:   "info",
			Message: fmt.Sprintf("log %d", i),
		})
	}

	logs := c.Logs()
	if len(logs) != 10 {
		t.Errorf("expected 10 logs, got %d", len(logs))
	}
}

func TestCollector_LogBufferEviction(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	for i := 0; i < 600; i++ {
		c.AddLog(LogEntry{
			Time:    time.Now(),
			Level:   "info",
			Message: fmt.Sprintf("log %d", i),
		})
	}

	logs := c.Logs()
	if len(logs) > 500 {
		t.Errorf("log buffer should not exceed capacity, got %d", len(logs))
	}
}

func TestCollector_SubscribeUnsubscribe(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	ch := c.Subscribe()
	c.Unsubscribe(ch)

	// Should not panic or deadlock.
	c.SetPhase("test")
}

func TestCollector_Elapsed(t *testing.T) {
	c := NewCollector(zerolog.Nop())
	defer c.Close()

	c.SetPhase("active")
	time.Sleep(50 * time.Millisecond)
	snap := c.Snapshot()
	if snap.ElapsedSec < 0.04 {
		t.Errorf("ElapsedSec = %f, expected > 0.04", snap.ElapsedSec)
	}
}

func TestSlidingWindow_Rate(t *testing.T) {
	w := newSlidingWindow(5 * time.Second)
	now := time.Now()

	w.Add(now.Add(-3*time.Second), 30)
	w.Add(now.Add(-2*time.Second), 20)
	w.Add(now.Add(-1*time.Second), 10)

	rate := w.Rate()
	if rate <= 0 {
		t.Errorf("Rate() = %f, want > 0", rate)
	}
}

func TestSlidingWindow_Eviction(t *testing.T) {
	w := newSlidingWindow(100 * time.Millisecond)
	now := time.Now()

	w.Add(now.Add(-200*time.Millisecond), 100)
	w.Add(now, 50)

	rate := w.Rate()
	// The old entry should be evicted, leaving only the 50 entry.
	if rate <= 0 {
		t.Errorf("Rate() = %f, want > 0", rate)
	}
}

func TestSlidingWindow_Empty(t *testing.T) {
	w := newSlidingWindow(time.Second)
	if r := w.Rate(); r != 0 {
		t.Errorf("Rate() on empty window = %f, want 0", r)
	}
}
