package components

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/vibestack/cdc-core/internal/metrics"
)

var stateColors = map[string]lipgloss.Color{
	"cold":         lipgloss.Color("#6B7280"),
	"initializing": lipgloss.Color("#F59E0B"),
	"active":       lipgloss.Color("#10B981"),
	"hibernating":  lipgloss.Color("#3B82F6"),
	"stopping":     lipgloss.Color("#EF4444"),
}

// RenderState renders the actor's lifecycle state alongside poll and
// client counters.
func RenderState(snap metrics.Snapshot, width int) string {
	color, ok := stateColors[snap.Phase]
	if !ok {
		color = lipgloss.Color("#FFFFFF")
	}
	badge := lipgloss.NewStyle().Bold(true).Foreground(color).Render(fmt.Sprintf(" %s ", snap.Phase))

	return fmt.Sprintf("  State: %s    Polls: %d    Active clients: %d",
		badge, snap.PollCount, snap.ActiveClients)
}
