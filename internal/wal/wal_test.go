package wal

import (
	"encoding/json"
	"testing"

	"github.com/vibestack/cdc-core/pkg/lsn"
)

func TestTableChange_ClientID(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]any
		wantID string
		wantOK bool
	}{
		{"present", map[string]any{"client_id": "c-A"}, "c-A", true},
		{"absent", map[string]any{"id": "T1"}, "", false},
		{"empty string", map[string]any{"client_id": ""}, "", false},
		{"wrong type", map[string]any{"client_id": 42}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := TableChange{Data: tt.data}
			id, ok := c.ClientID()
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("ClientID() = (%q, %v), want (%q, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

func TestWALRecord_MarshalJSON_RendersTextualLSN(t *testing.T) {
	l, err := lsn.Parse("0/1A2B3C")
	if err != nil {
		t.Fatalf("lsn.Parse: %v", err)
	}
	rec := WALRecord{LSN: l, XID: 7, Data: `{"change":[]}`}

	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["lsn"] != "0/1A2B3C" {
		t.Errorf("lsn = %v, want textual \"0/1A2B3C\"", got["lsn"])
	}
}

func TestTableChange_MarshalJSON_RendersTextualLSN(t *testing.T) {
	l, err := lsn.Parse("0/1A2B3C")
	if err != nil {
		t.Fatalf("lsn.Parse: %v", err)
	}
	tc := TableChange{Table: "tasks", Op: OpInsert, Data: map[string]any{"id": "1"}, LSN: l}

	out, err := json.Marshal(tc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["lsn"] != "0/1A2B3C" {
		t.Errorf("lsn = %v, want textual \"0/1A2B3C\"", got["lsn"])
	}
}

func TestTableChange_RowID(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]any
		wantID string
		wantOK bool
	}{
		{"string id", map[string]any{"id": "T1"}, "T1", true},
		{"integral float id", map[string]any{"id": float64(42)}, "42", true},
		{"fractional float id", map[string]any{"id": float64(4.5)}, "4.5", true},
		{"missing", map[string]any{}, "", false},
		{"nil value", map[string]any{"id": nil}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := TableChange{Data: tt.data}
			id, ok := c.RowID()
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("RowID() = (%q, %v), want (%q, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
