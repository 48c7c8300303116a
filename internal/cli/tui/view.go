package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const maxVisibleConnections = 8

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var sections []string
	sections = append(sections, m.renderTitleBar())

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}

	if m.status != nil {
		sections = append(sections, m.renderHost())
		sections = append(sections, m.renderConnections())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitleBar() string {
	title := titleStyle.Render("BRANCHSIM NODE")
	if m.status != nil && m.status.Version != "" {
		title += helpStyle.Render(" v" + m.status.Version)
	}

	refreshInfo := fmt.Sprintf("↻ %s", m.config.RefreshInterval)
	if m.loading {
		refreshInfo = "↻ loading..."
	}

	rightPart := fmt.Sprintf("%s | %s", refreshInfo, "q:quit r:refresh ↑↓:scroll")
	spacing := m.width - lipgloss.Width(title) - lipgloss.Width(rightPart) - 2
	if spacing < 1 {
		spacing = 1
	}

	return title + strings.Repeat(" ", spacing) + helpStyle.Render(rightPart)
}

func (m Model) renderHost() string {
	host := m.status.Host

	cpu := renderUsageBar("CPU   ", host.CPU.UsagePercent, 20)
	mem := renderUsageBar("Memory", host.Memory.UsagePercent, 20)
	lines := []string{fmt.Sprintf("  %s    %s", cpu, mem)}

	load := fmt.Sprintf("  %s %s",
		labelStyle.Render("Load  "),
		valueStyle.Render(fmt.Sprintf("%.2f %.2f %.2f  (%d cores, %d running)",
			host.Load.Load1, host.Load.Load5, host.Load.Load15,
			host.CPU.LogicalCores, host.Load.ProcsRunning)),
	)
	lines = append(lines, load)

	if host.Traces.TotalBytes > 0 {
		used := host.Traces.TotalBytes - host.Traces.FreeBytes
		bar := renderUsageBar("Traces", host.Traces.UsagePercent, 20)
		info := fmt.Sprintf("(%.1f / %.1f GB) %s", gigabytes(used), gigabytes(host.Traces.TotalBytes), host.Traces.Path)
		lines = append(lines, fmt.Sprintf("  %s  %s", bar, valueStyle.Render(info)))
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderConnections() string {
	conns := m.status.Connections

	lines := []string{sectionHeaderStyle.Render(fmt.Sprintf("  Connections (%d)", len(conns)))}
	if len(conns) == 0 {
		lines = append(lines, helpStyle.Render("  no clients connected"))
		return strings.Join(lines, "\n")
	}

	header := fmt.Sprintf("  %-16s │ %-21s │ %7s │ %-16s │ %8s │ %8s │ %8s",
		"Client", "Remote", "Session", "Busy", "Buffered", "Executed", "Since")
	lines = append(lines, tableHeaderStyle.Render(header))

	start := m.tableOffset
	if start >= len(conns) {
		start = 0
	}
	end := min(start+maxVisibleConnections, len(conns))

	for _, c := range conns[start:end] {
		fraction := 0.0
		if c.Workers > 0 {
			fraction = float64(c.Busy) / float64(c.Workers)
		}
		busy := fmt.Sprintf("%s %2d/%-2d", renderBar(fraction, 8, loadColor(fraction*100)), c.Busy, c.Workers)

		row := fmt.Sprintf("  %-16s │ %-21s │ %7d │ %s │ %8d │ %8d │ %8s",
			truncate(c.Client, 16), truncate(c.Remote, 21), c.SessionID, busy,
			c.Buffered, c.Executed, formatSince(c.Since))
		lines = append(lines, tableCellStyle.Render(row))
	}

	if len(conns) > maxVisibleConnections {
		lines = append(lines, helpStyle.Render(fmt.Sprintf("  [%d-%d of %d connections]", start+1, end, len(conns))))
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderFooter() string {
	if m.status == nil {
		return ""
	}

	return helpStyle.Render(fmt.Sprintf(
		"  Listening: %s │ Workers: %d │ Uptime: %s │ Updated: %s",
		strings.Join(m.status.Listening, ", "),
		m.status.Workers,
		m.status.Uptime,
		m.lastUpdated.Format("15:04:05"),
	))
}

func formatSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(time.Second).String()
}
