package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vibestack/cdc-core/pkg/lsn"
)

// Snapshot is the complete metrics state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	Phase      string    `json:"phase"`
	ElapsedSec float64   `json:"elapsed_sec"`

	// LSN tracking
	ConfirmedLSN string `json:"confirmed_lsn"`
	LatestLSN    string `json:"latest_lsn"`
	LagBytes     uint64 `json:"lag_bytes"`
	LagFormatted string `json:"lag_formatted"`

	// Throughput
	PollCount     int64   `json:"poll_count"`
	ChangesPerSec float64 `json:"changes_per_sec"`
	TotalChanges  int64   `json:"total_changes"`

	// Clients
	ActiveClients int `json:"active_clients"`

	// Filter reasons, e.g. "filter.not_tracked.audit",
	// "filter.invalid_json", "delete.missing_oldkeys" (see
	// internal/transform).
	FilterReasons map[string]int64 `json:"filter_reasons"`

	// Errors
	ErrorCount int    `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`
}

// LogEntry represents a log line captured for the UI.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Collector aggregates pipeline metrics and provides snapshots for
// consumption by the admin HTTP API and the TUI. Grounded in the
// teacher's metrics.Collector (same subscribe/broadcast/log-ring
// shape), retargeted from table-copy throughput to poll/LSN/client
// bookkeeping and the filter-reason histogram C5 maintains.
type Collector struct {
	logger zerolog.Logger

	mu        sync.RWMutex
	phase     string
	startedAt time.Time

	confirmedLSN  lsn.LSN
	latestLSN     lsn.LSN
	activeClients int

	pollCount    atomic.Int64
	totalChanges atomic.Int64
	changeWindow *slidingWindow

	errorCount atomic.Int64
	lastError  atomic.Value // string

	reasonsMu sync.Mutex
	reasons   map[string]int64

	// remoteSnap, when set, is an externally-fetched Snapshot (e.g. the
	// tui command polling a running instance's admin API) that Snapshot
	// returns verbatim instead of computing local state.
	remoteSnap atomic.Pointer[Snapshot]

	// Subscribers for push-based updates.
	subMu       sync.Mutex
	subscribers map[chan Snapshot]struct{}

	// Log ring buffer.
	logMu  sync.Mutex
	logs   []LogEntry
	logCap int

	done chan struct{}
}

// NewCollector creates a new Collector and starts its broadcast loop.
func NewCollector(logger zerolog.Logger) *Collector {
	c := &Collector{
		logger:       logger.With().Str("component", "metrics").Logger(),
		reasons:      make(map[string]int64),
		subscribers:  make(map[chan Snapshot]struct{}),
		changeWindow: newSlidingWindow(60 * time.Second),
		logs:         make([]LogEntry, 0, 500),
		logCap:       500,
		done:         make(chan struct{}),
	}
	go c.broadcastLoop()
	return c
}

// SetPhase updates the current controller phase (Cold, Initializing,
// Active, Hibernating, Stopping).
func (c *Collector) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
	if c.startedAt.IsZero() {
		c.startedAt = time.Now()
	}
}

// RecordPoll increments the poll-cycle counter.
func (c *Collector) RecordPoll() {
	c.pollCount.Add(1)
}

// RecordChanges records the number of TableChanges produced by one poll
// cycle, feeding the changes/sec throughput figure.
func (c *Collector) RecordChanges(n int) {
	if n <= 0 {
		return
	}
	c.totalChanges.Add(int64(n))
	c.changeWindow.Add(time.Now(), float64(n))
}

// RecordConfirmedLSN updates the durably-advanced LSN (after it has been
// written to the state store; the slot itself may not have been advanced).
func (c *Collector) RecordConfirmedLSN(l lsn.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmedLSN = l
}

// RecordLatestLSN updates the server-reported write position used for
// lag calculation.
func (c *Collector) RecordLatestLSN(l lsn.LSN) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latestLSN = l
}

// RecordActiveClients updates the last-observed active client count.
func (c *Collector) RecordActiveClients(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeClients = n
}

// RecordFilterReason bumps a structured filter-reason counter.
func (c *Collector) RecordFilterReason(reason string) {
	c.reasonsMu.Lock()
	defer c.reasonsMu.Unlock()
	c.reasons[reason]++
}

// RecordError increments the error count and stores the last error message.
func (c *Collector) RecordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err.Error())
	}
}

// AddLog appends a log entry to the ring buffer.
func (c *Collector) AddLog(entry LogEntry) {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	if len(c.logs) >= c.logCap {
		// Shift buffer: drop oldest quarter.
		n := c.logCap / 4
		copy(c.logs, c.logs[n:])
		c.logs = c.logs[:len(c.logs)-n]
	}
	c.logs = append(c.logs, entry)
}

// Logs returns a copy of recent log entries.
func (c *Collector) Logs() []LogEntry {
	c.logMu.Lock()
	defer c.logMu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// ApplyRemote overrides the next Snapshot() calls (and hence the next
// broadcast) with a Snapshot fetched from a remote instance's admin
// API, for the tui command's --api-addr polling mode.
func (c *Collector) ApplyRemote(snap Snapshot) {
	c.remoteSnap.Store(&snap)
}

// Snapshot returns the current metrics state (thread-safe), or the
// most recent one passed to ApplyRemote if this Collector is mirroring
// a remote instance.
func (c *Collector) Snapshot() Snapshot {
	if snap := c.remoteSnap.Load(); snap != nil {
		return *snap
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	now := time.Now()
	var elapsed float64
	if !c.startedAt.IsZero() {
		elapsed = now.Sub(c.startedAt).Seconds()
	}

	lagBytes := lsn.Lag(c.confirmedLSN, c.latestLSN)

	c.reasonsMu.Lock()
	reasons := make(map[string]int64, len(c.reasons))
	for k, v := range c.reasons {
		reasons[k] = v
	}
	c.reasonsMu.Unlock()

	var lastErr string
	if v := c.lastError.Load(); v != nil {
		lastErr = v.(string)
	}

	return Snapshot{
		Timestamp:     now,
		Phase:         c.phase,
		ElapsedSec:    elapsed,
		ConfirmedLSN:  lsn.Format(c.confirmedLSN),
		LatestLSN:     lsn.Format(c.latestLSN),
		LagBytes:      lagBytes,
		LagFormatted:  lsn.FormatLag(lagBytes, 0),
		PollCount:     c.pollCount.Load(),
		ChangesPerSec: c.changeWindow.Rate(),
		TotalChanges:  c.totalChanges.Load(),
		ActiveClients: c.activeClients,
		FilterReasons: reasons,
		ErrorCount:    int(c.errorCount.Load()),
		LastError:     lastErr,
	}
}

// Subscribe returns a channel that receives periodic Snapshot updates.
func (c *Collector) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 4)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

// Unsubscribe removes a subscription channel.
func (c *Collector) Unsubscribe(ch chan Snapshot) {
	c.subMu.Lock()
	delete(c.subscribers, ch)
	c.subMu.Unlock()
}

// Close stops the broadcast loop.
func (c *Collector) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *Collector) broadcastLoop() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			snap := c.Snapshot()
			c.subMu.Lock()
			for ch := range c.subscribers {
				select {
				case ch <- snap:
				default:
					// Subscriber too slow, skip.
				}
			}
			c.subMu.Unlock()
		}
	}
}

// --- Sliding window for throughput calculation ---

type windowEntry struct {
	time  time.Time
	value float64
}

type slidingWindow struct {
	mu      sync.Mutex
	entries []windowEntry
	window  time.Duration
}

func newSlidingWindow(d time.Duration) *slidingWindow {
	return &slidingWindow{
		entries: make([]windowEntry, 0, 128),
		window:  d,
	}
}

func (w *slidingWindow) Add(t time.Time, val float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, windowEntry{time: t, value: val})
	w.evict(t)
}

func (w *slidingWindow) Rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	w.evict(now)
	if len(w.entries) == 0 {
		return 0
	}
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	elapsed := now.Sub(w.entries[0].time).Seconds()
	if elapsed < 1 {
		elapsed = 1
	}
	return total / elapsed
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].time.Before(cutoff) {
		i++
	}
	if i > 0 {
		copy(w.entries, w.entries[i:])
		w.entries = w.entries[:len(w.entries)-i]
	}
}
