// Package transform turns raw WAL records from the slot adapter into
// filtered, typed TableChange records: decode the wal2json payload,
// drop rows for untracked tables, and normalize each remaining row
// into wal.TableChange.
package transform

import (
	"encoding/json"
	"time"

	"github.com/vibestack/cdc-core/internal/filter"
	"github.com/vibestack/cdc-core/internal/wal"
)

// Reasons bumped on the counters callback when a RawChange produces no
// TableChange. Mirrors the histogram keys in internal/metrics.
const (
	ReasonMalformedJSON  = "filter.invalid_json"
	ReasonNotTracked     = "filter.not_tracked"
	ReasonMissingOldKeys = "delete.missing_oldkeys"
	ReasonColumnMismatch = "column.misaligned"
	ReasonUnknownOp      = "filter.unknown_op"
)

// Counters receives a filter reason each time a raw change is dropped.
// Satisfied by *metrics.Collector's RecordFilterReason, kept as its own
// interface here so transform does not import metrics.
type Counters interface {
	RecordFilterReason(reason string)
}

type noopCounters struct{}

func (noopCounters) RecordFilterReason(string) {}

// Transformer applies the domain-table filter and produces TableChanges
// from WAL records.
type Transformer struct {
	filter   *filter.TableFilter
	counters Counters
}

// New builds a Transformer. counters may be nil, in which case filter
// reasons are discarded.
func New(f *filter.TableFilter, counters Counters) *Transformer {
	if counters == nil {
		counters = noopCounters{}
	}
	return &Transformer{filter: f, counters: counters}
}

// Transform decodes one WALRecord's wal2json payload and returns the
// TableChanges it yields after filtering. A malformed payload yields no
// changes and bumps ReasonMalformedJSON rather than returning an error:
// per Invariant the offending item is discarded, not fatal to the batch.
func (t *Transformer) Transform(rec wal.WALRecord) []wal.TableChange {
	var parsed wal.ParsedWAL
	if err := json.Unmarshal([]byte(rec.Data), &parsed); err != nil {
		t.counters.RecordFilterReason(ReasonMalformedJSON)
		return nil
	}

	var out []wal.TableChange
	for _, raw := range parsed.Change {
		tc, ok := t.transformOne(rec, raw)
		if ok {
			out = append(out, tc)
		}
	}
	return out
}

func (t *Transformer) transformOne(rec wal.WALRecord, raw wal.RawChange) (wal.TableChange, bool) {
	if !t.filter.ShouldTrack(raw.Table) {
		t.counters.RecordFilterReason(ReasonNotTracked + "." + raw.Table)
		return wal.TableChange{}, false
	}

	op, ok := parseOp(raw.Kind)
	if !ok {
		t.counters.RecordFilterReason(ReasonUnknownOp)
		return wal.TableChange{}, false
	}

	var data map[string]any
	switch op {
	case wal.OpDelete:
		if raw.OldKeys == nil || len(raw.OldKeys.KeyNames) == 0 {
			t.counters.RecordFilterReason(ReasonMissingOldKeys)
			return wal.TableChange{}, false
		}
		data = zipColumns(raw.OldKeys.KeyNames, raw.OldKeys.KeyValues)
	default:
		if len(raw.ColumnNames) != len(raw.ColumnValues) {
			t.counters.RecordFilterReason(ReasonColumnMismatch)
			return wal.TableChange{}, false
		}
		data = zipColumns(raw.ColumnNames, raw.ColumnValues)
	}

	return wal.TableChange{
		Table:     raw.Table,
		Op:        op,
		Data:      data,
		LSN:       rec.LSN,
		UpdatedAt: updatedAtFrom(data),
	}, true
}

func parseOp(kind string) (wal.Op, bool) {
	switch kind {
	case "insert":
		return wal.OpInsert, true
	case "update":
		return wal.OpUpdate, true
	case "delete":
		return wal.OpDelete, true
	default:
		return "", false
	}
}

func zipColumns(names []string, values []any) map[string]any {
	out := make(map[string]any, len(names))
	for i, name := range names {
		if i < len(values) {
			out[name] = values[i]
		} else {
			out[name] = nil
		}
	}
	return out
}

// updatedAtFrom pulls a best-effort timestamp out of the row payload
// for TableChange.UpdatedAt, falling back to the wall clock at
// transform time when the row carries no usable updated_at (this
// includes every delete, whose data comes from oldkeys). Never the
// zero time: change_history.timestamp is NOT NULL and feeds
// downstream last-writer-wins ordering.
func updatedAtFrom(data map[string]any) time.Time {
	v, ok := data["updated_at"]
	if !ok {
		return time.Now().UTC()
	}
	s, ok := v.(string)
	if !ok {
		return time.Now().UTC()
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Now().UTC()
	}
	return parsed
}
