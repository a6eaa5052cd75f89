package filter

import "testing"

func TestShouldTrack(t *testing.T) {
	f := New([]string{"tasks", "projects"})

	tests := []struct {
		table string
		want  bool
	}{
		{"tasks", true},
		{"projects", true},
		{"audit", false},
		{"change_history", false}, // Invariant 3: never recursively propagated.
	}

	for _, tt := range tests {
		if got := f.ShouldTrack(tt.table); got != tt.want {
			t.Errorf("ShouldTrack(%q) = %v, want %v", tt.table, got, tt.want)
		}
	}
}

func TestShouldTrack_HistoryAlwaysExcluded(t *testing.T) {
	f := New([]string{"change_history"})
	if f.ShouldTrack("change_history") {
		t.Error("change_history must never be tracked, even if configured")
	}
}
