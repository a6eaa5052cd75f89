package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/vibestack/cdc-core/internal/metrics"
)

var throughputValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

// RenderThroughput renders the changes/sec counters, LSN positions, and
// the last recorded error, if any.
func RenderThroughput(snap metrics.Snapshot, width int) string {
	changesPerSec := throughputValueStyle.Render(fmt.Sprintf("%.0f changes/s", snap.ChangesPerSec))
	totalChanges := formatCount(snap.TotalChanges)
	lsns := fmt.Sprintf("confirmed %s / latest %s", snap.ConfirmedLSN, snap.LatestLSN)

	errStr := ""
	if snap.ErrorCount > 0 {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
		errStr = fmt.Sprintf("  Errors: %s", errStyle.Render(fmt.Sprintf("%d", snap.ErrorCount)))
		if snap.LastError != "" {
			errStr += fmt.Sprintf(" (%s)", snap.LastError)
		}
	}

	return fmt.Sprintf("  %s  |  Total: %s changes  |  LSN: %s%s",
		changesPerSec, totalChanges, lsns, errStr)
}
