package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/haskel/branchsim/internal/results"
)

const maxVisiblePredictors = 10

func (m RunModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	sections := []string{m.renderTitleBar(), m.renderProgress()}

	if m.err != nil {
		sections = append(sections, errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
	}
	if len(m.rows) > 0 {
		sections = append(sections, m.renderPredictors())
	}
	if len(m.messages) > 0 {
		sections = append(sections, m.renderMessages())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m RunModel) renderTitleBar() string {
	title := titleStyle.Render("BRANCHSIM RUN")
	right := helpStyle.Render(m.state() + " | q:" + m.quitAction() + " ↑↓:scroll")

	spacing := m.width - lipgloss.Width(title) - lipgloss.Width(right) - 2
	if spacing < 1 {
		spacing = 1
	}
	return title + strings.Repeat(" ", spacing) + right
}

func (m RunModel) state() string {
	switch {
	case m.err != nil:
		return "failed"
	case m.aborting:
		return "aborting..."
	case m.done:
		return "done"
	case m.running:
		return "running " + m.elapsed().String()
	default:
		return "connecting..."
	}
}

func (m RunModel) quitAction() string {
	if m.running && !m.aborting {
		return "abort"
	}
	return "quit"
}

func (m RunModel) elapsed() time.Duration {
	if m.started.IsZero() {
		return 0
	}
	end := m.finished
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(m.started).Truncate(time.Second)
}

func (m RunModel) renderProgress() string {
	fraction := 0.0
	if m.total > 0 {
		fraction = float64(m.entered) / float64(m.total)
	}

	color := colorPrimary
	if m.done && m.err == nil && m.entered == m.total {
		color = colorSuccess
	}
	bar := renderBar(fraction, 40, color)
	progress := fmt.Sprintf("  %s [%s] %d/%d", labelStyle.Render("Results"), bar, m.entered, m.total)

	failed := valueStyle.Render(fmt.Sprintf("%d", m.failed))
	if m.failed > 0 {
		failed = warningStyle.Render(fmt.Sprintf("%d", m.failed))
	}
	counters := fmt.Sprintf("  %s %s │ %s %s │ %s %s",
		labelStyle.Render("Failed"), failed,
		labelStyle.Render("Remote requests"), valueStyle.Render(fmt.Sprintf("%d", m.requests)),
		labelStyle.Render("Remotes"), valueStyle.Render(fmt.Sprintf("%d", m.config.Remotes)),
	)

	return progress + "\n" + counters
}

func (m RunModel) renderPredictors() string {
	lines := []string{sectionHeaderStyle.Render("  Predictors")}

	header := fmt.Sprintf("  %-28s │ %5s │ %6s │ %8s │ %8s │ %8s",
		"Predictor", "Done", "Failed", "Arith.", "Geom.", "Harm.")
	lines = append(lines, tableHeaderStyle.Render(header))

	start := m.tableOffset
	if start >= len(m.rows) {
		start = 0
	}
	end := min(start+maxVisiblePredictors, len(m.rows))

	for _, r := range m.rows[start:end] {
		means := results.ComputeMeans(r.accuracies)
		row := fmt.Sprintf("  %-28s │ %5d │ %6d │ %s │ %s │ %s",
			truncate(r.config.String(), 28),
			len(r.accuracies)+r.failed,
			r.failed,
			renderAccuracy(means.Arithmetic, means.Count),
			renderAccuracy(means.Geometric, means.Count),
			renderAccuracy(means.Harmonic, means.Count),
		)
		lines = append(lines, tableCellStyle.Render(row))
	}

	if len(m.rows) > maxVisiblePredictors {
		lines = append(lines, helpStyle.Render(fmt.Sprintf("  [%d-%d of %d predictors]", start+1, end, len(m.rows))))
	}

	return strings.Join(lines, "\n")
}

func renderAccuracy(a float64, count int) string {
	if count == 0 || math.IsNaN(a) {
		return fmt.Sprintf("%8s", "-")
	}
	return lipgloss.NewStyle().Foreground(accuracyColor(a)).Render(fmt.Sprintf("%7.2f%%", a*100))
}

func (m RunModel) renderMessages() string {
	lines := []string{sectionHeaderStyle.Render("  Messages")}
	for _, text := range m.messages {
		lines = append(lines, helpStyle.Render("  "+truncate(text, max(m.width-4, 10))))
	}
	return strings.Join(lines, "\n")
}

func (m RunModel) renderFooter() string {
	if !m.done || m.err != nil {
		return ""
	}
	if m.entered == m.total {
		return doneStyle.Render(fmt.Sprintf("  Completed %d results in %s. Press q to exit.", m.entered, m.elapsed()))
	}
	return warningStyle.Render(fmt.Sprintf("  Stopped after %d/%d results.", m.entered, m.total))
}
