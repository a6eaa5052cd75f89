package components

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vibestack/cdc-core/internal/metrics"
)

var (
	reasonHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	reasonBarStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	reasonCountStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// RenderFilterReasons renders the histogram of reasons the transformer
// dropped a raw change (see internal/transform), ranked by count.
func RenderFilterReasons(snap metrics.Snapshot, width, maxRows int) string {
	if len(snap.FilterReasons) == 0 {
		return "  No filtered changes"
	}

	type entry struct {
		reason string
		count  int64
	}
	entries := make([]entry, 0, len(snap.FilterReasons))
	var total int64
	for reason, count := range snap.FilterReasons {
		entries = append(entries, entry{reason, count})
		total += count
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].reason < entries[j].reason
	})

	var b strings.Builder
	header := fmt.Sprintf("  %-35s %-10s %s", "Reason", "Count", "Share")
	b.WriteString(reasonHeaderStyle.Render(header))
	b.WriteByte('\n')

	shown := len(entries)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}

	barWidth := 20
	for i := 0; i < shown; i++ {
		e := entries[i]
		name := e.reason
		if len(name) > 33 {
			name = name[:30] + "..."
		}
		pct := float64(e.count) / float64(total) * 100
		bar := miniBar(pct, barWidth)

		line := fmt.Sprintf("  %-35s %-10s %s %5.1f%%",
			name, formatCount(e.count), reasonBarStyle.Render(bar), pct)
		b.WriteString(line)
		if i < shown-1 {
			b.WriteByte('\n')
		}
	}

	if len(entries) > shown {
		b.WriteByte('\n')
		b.WriteString(reasonCountStyle.Render(fmt.Sprintf("  ... and %d more reasons", len(entries)-shown)))
	}

	return b.String()
}

func miniBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}
