package adminclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibestack/cdc-core/internal/controller"
)

func TestClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/replication/status" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(statusResponse{
			StatusResult: controller.StatusResult{State: controller.StateActive},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	status, err := c.Status()
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if status.State != controller.StateActive {
		t.Errorf("State = %v, want %v", status.State, controller.StateActive)
	}
}

func TestClient_Init(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewEncoder(w).Encode(controller.InitResult{Success: true, State: controller.StateActive})
	}))
	defer srv.Close()

	c := New(srv.URL)
	result, err := c.Init()
	if err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if !result.Success || result.State != controller.StateActive {
		t.Errorf("Init() = %+v", result)
	}
}

func TestClient_Peek_EncodesQueryParams(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{"changes": nil, "hasMore": false})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Peek("0/16B3740", 50); err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if gotQuery != "from_lsn=0%2F16B3740&limit=50" {
		t.Errorf("query = %q, want from_lsn and limit encoded", gotQuery)
	}
}

func TestClient_Ping_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if err := c.Ping(); err == nil {
		t.Errorf("Ping() to unreachable host should error")
	}
}
