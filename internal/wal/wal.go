// Package wal holds the types that carry a single logical-replication
// change from the raw slot row through to a client-ready record:
// WALRecord (as read off the slot), ParsedWAL (decoded wal2json), and
// TableChange (normalized, persisted, and shipped to clients).
package wal

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/vibestack/cdc-core/pkg/lsn"
)

// Op is the closed set of DML operations a TableChange can carry: the
// three wal2json kinds this pipeline consumes.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// WALRecord is one row as returned by peek/consume: a commit's raw
// wal2json payload plus the bookkeeping fields needed to order and
// acknowledge it.
type WALRecord struct {
	LSN  lsn.LSN `json:"lsn"`
	XID  uint32  `json:"xid"`
	Data string  `json:"data"` // raw wal2json payload for the transaction
}

// MarshalJSON renders LSN in the canonical "HHHH/HHHH" text PostgreSQL
// uses, matching every other LSN surfaced over the admin API, instead
// of the bare uint64 pglogrepl.LSN marshals to by default.
func (r WALRecord) MarshalJSON() ([]byte, error) {
	type alias struct {
		LSN  string `json:"lsn"`
		XID  uint32 `json:"xid"`
		Data string `json:"data"`
	}
	return json.Marshal(alias{LSN: lsn.Format(r.LSN), XID: r.XID, Data: r.Data})
}

// RawChange is a single per-row entry inside a wal2json transaction
// payload's "change" array, decoded directly from JSON.
type RawChange struct {
	Schema       string   `json:"schema"`
	Table        string   `json:"table"`
	Kind         string   `json:"kind"`
	ColumnNames  []string `json:"columnnames,omitempty"`
	ColumnValues []any    `json:"columnvalues,omitempty"`
	OldKeys      *OldKeys `json:"oldkeys,omitempty"`
}

// OldKeys carries the primary-key columns of a deleted row.
type OldKeys struct {
	KeyNames  []string `json:"keynames"`
	KeyValues []any    `json:"keyvalues"`
}

// ParsedWAL is the decoded form of a WALRecord's Data field: an ordered
// sequence of per-row changes for one transaction.
type ParsedWAL struct {
	Change []RawChange `json:"change"`
}

// TableChange is the normalized, persisted, client-ready record
// produced by the transformer from one RawChange.
type TableChange struct {
	Table     string         `json:"table"`
	Op        Op             `json:"op"`
	Data      map[string]any `json:"data"`
	LSN       lsn.LSN        `json:"lsn"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MarshalJSON renders LSN in the canonical "HHHH/HHHH" text, matching
// WALRecord's JSON form.
func (c TableChange) MarshalJSON() ([]byte, error) {
	type alias struct {
		Table     string         `json:"table"`
		Op        Op             `json:"op"`
		Data      map[string]any `json:"data"`
		LSN       string         `json:"lsn"`
		UpdatedAt time.Time      `json:"updated_at"`
	}
	return json.Marshal(alias{
		Table:     c.Table,
		Op:        c.Op,
		Data:      c.Data,
		LSN:       lsn.Format(c.LSN),
		UpdatedAt: c.UpdatedAt,
	})
}

// ClientID returns the originating client id embedded in Data for echo
// suppression, and whether one was present. Its absence means "no
// origin" — deliver to everyone.
func (c TableChange) ClientID() (string, bool) {
	v, ok := c.Data["client_id"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// RowID returns data.id as a string when present: the same value the
// history writer's idempotency key reads in SQL as data->>'id'
// (Invariant 6).
func (c TableChange) RowID() (string, bool) {
	v, ok := c.Data["id"]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}
