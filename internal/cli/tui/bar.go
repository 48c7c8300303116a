package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderBar draws a fixed-width bar filled to fraction (clamped to [0, 1]).
func renderBar(fraction float64, width int, color lipgloss.Color) string {
	filled := int(fraction * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	filledBar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	emptyBar := progressBarEmptyStyle.Render(strings.Repeat("░", width-filled))
	return filledBar + emptyBar
}

func renderUsageBar(label string, percent float64, width int) string {
	bar := renderBar(percent/100, width, loadColor(percent))
	return fmt.Sprintf("%s [%s] %5.1f%%", labelStyle.Render(label), bar, percent)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

func gigabytes(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}
