// Package filter implements the single source of truth for which tables
// are propagated through the CDC pipeline.
package filter

// historyTable is the pipeline's own sink. Invariant 3 requires it is
// never recursively propagated even if a publication happens to include it.
const historyTable = "change_history"

// TableFilter decides whether a table's changes should be tracked.
type TableFilter struct {
	tracked map[string]struct{}
}

// New builds a filter over the given set of tracked table names.
func New(trackedTables []string) *TableFilter {
	tracked := make(map[string]struct{}, len(trackedTables))
	for _, t := range trackedTables {
		tracked[t] = struct{}{}
	}
	return &TableFilter{tracked: tracked}
}

// ShouldTrack reports whether changes to table should be emitted.
func (f *TableFilter) ShouldTrack(table string) bool {
	if table == historyTable {
		return false
	}
	_, ok := f.tracked[table]
	return ok
}

// Tables returns the configured tracked-table set (for admin/status use).
func (f *TableFilter) Tables() []string {
	out := make([]string, 0, len(f.tracked))
	for t := range f.tracked {
		out = append(out, t)
	}
	return out
}
