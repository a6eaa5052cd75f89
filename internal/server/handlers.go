package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/vibestack/cdc-core/internal/config"
	"github.com/vibestack/cdc-core/internal/controller"
	"github.com/vibestack/cdc-core/internal/metrics"
	"github.com/vibestack/cdc-core/pkg/lsn"
)

// handlers dispatches the admin HTTP surface onto the actor. Every
// handler follows the same thin-dispatch shape: decode params, call
// the delegate, write JSON.
type handlers struct {
	collector  *metrics.Collector
	cfg        *config.Config
	controller *controller.Controller
}

func (h *handlers) init(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.controller.InitOp(r.Context()))
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		controller.StatusResult
		Metrics metrics.Snapshot `json:"metrics"`
	}{
		StatusResult: h.controller.Status(r.Context()),
		Metrics:      h.collector.Snapshot(),
	})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.controller.Health(r.Context()))
}

func (h *handlers) verify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.controller.Verify(r.Context()))
}

func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.controller.Cleanup(r.Context()))
}

func (h *handlers) peek(w http.ResponseWriter, r *http.Request) {
	from := lsn.Zero
	if v := r.URL.Query().Get("from_lsn"); v != "" {
		parsed, err := lsn.Parse(v)
		if err != nil {
			writeError(w, err)
			return
		}
		from = parsed
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, errInvalidLimit)
			return
		}
		if n > 1000 {
			n = 1000
		}
		limit = n
	}

	result, err := h.controller.Peek(r.Context(), from, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *handlers) clients(w http.ResponseWriter, r *http.Request) {
	list, err := h.controller.ListClients(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, list)
}

func (h *handlers) clientsCleanup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.controller.CleanupClients(r.Context()))
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.collector.Logs())
}

func (h *handlers) configHandler(w http.ResponseWriter, r *http.Request) {
	if h.cfg == nil {
		writeJSON(w, map[string]string{"error": "no config available"})
		return
	}
	redacted := struct {
		Database      redactedDB              `json:"database"`
		Replication   config.ReplicationConfig `json:"replication"`
		TrackedTables []string                 `json:"trackedTables"`
		Polling       config.PollingConfig     `json:"polling"`
	}{
		Database:      redactDB(h.cfg.Database),
		Replication:   h.cfg.Replication,
		TrackedTables: h.cfg.TrackedTables,
		Polling:       h.cfg.Polling,
	}
	writeJSON(w, redacted)
}

type redactedDB struct {
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	User   string `json:"user"`
	DBName string `json:"dbname"`
}

func redactDB(d config.DatabaseConfig) redactedDB {
	return redactedDB{Host: d.Host, Port: d.Port, User: d.User, DBName: d.DBName}
}

var errInvalidLimit = &paramError{"limit must be a positive integer"}

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{Success: false, Error: err.Error()})
}
