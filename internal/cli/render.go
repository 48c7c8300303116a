package cli

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/haskel/branchsim/internal/dispatch"
	"github.com/haskel/branchsim/internal/results"
	"github.com/haskel/branchsim/internal/storage"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
	failedStyle = numberStyle.Foreground(lipgloss.Color("196"))
)

// PredictorResult is the JSON form of one matrix row.
type PredictorResult struct {
	Predictor string             `json:"predictor"`
	Accuracy  map[string]float64 `json:"accuracy"`
	Errors    map[string]string  `json:"errors,omitempty"`
	Means     results.Means      `json:"means"`
}

// RunReport is the JSON output of a simulation run.
type RunReport struct {
	ID      string            `json:"id,omitempty"`
	Summary dispatch.Summary  `json:"summary"`
	Results []PredictorResult `json:"results"`
}

func formatAccuracy(a float64) string {
	if math.IsNaN(a) {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", a*100)
}

// buildReport collects every set slot of the matrix.
func buildReport(summary dispatch.Summary, m *results.Matrix) RunReport {
	report := RunReport{Summary: summary}
	benchmarks := m.Benchmarks()

	for pi, cfg := range m.Predictors() {
		row := PredictorResult{
			Predictor: cfg.Description,
			Accuracy:  make(map[string]float64),
		}
		for bi, b := range benchmarks {
			stats, ok, err := m.ResultAt(pi, bi)
			if err != nil || !ok {
				continue
			}
			if !stats.OK() {
				if row.Errors == nil {
					row.Errors = make(map[string]string)
				}
				row.Errors[b.String()] = stats.Err
				continue
			}
			if !math.IsNaN(stats.Accuracy) {
				row.Accuracy[b.String()] = stats.Accuracy
			}
		}
		if c, err := m.Collection(cfg); err == nil {
			row.Means = c.Means()
		}
		report.Results = append(report.Results, row)
	}
	return report
}

// renderResults writes the matrix as a table: one row per predictor, one
// column per benchmark and the three means.
func renderResults(w io.Writer, m *results.Matrix) {
	benchmarks := m.Benchmarks()
	predictors := m.Predictors()

	headers := []string{"Predictor"}
	for _, b := range benchmarks {
		headers = append(headers, b.Name)
	}
	headers = append(headers, "Arith.", "Geom.", "Harm.")

	failed := make(map[[2]int]bool)
	rows := make([][]string, 0, len(predictors))
	for pi, cfg := range predictors {
		row := []string{cfg.Description}
		for bi := range benchmarks {
			stats, ok, err := m.ResultAt(pi, bi)
			switch {
			case err != nil || !ok:
				row = append(row, "")
			case !stats.OK():
				failed[[2]int{pi, bi + 1}] = true
				row = append(row, "failed")
			default:
				row = append(row, formatAccuracy(stats.Accuracy))
			}
		}

		var means results.Means
		if c, err := m.Collection(cfg); err == nil {
			means = c.Means()
		}
		if means.Count == 0 {
			row = append(row, "-", "-", "-")
		} else {
			row = append(row,
				formatAccuracy(means.Arithmetic),
				formatAccuracy(means.Geometric),
				formatAccuracy(means.Harmonic),
			)
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case failed[[2]int{row, col}]:
				return failedStyle
			case col == 0:
				return cellStyle
			default:
				return numberStyle
			}
		})

	fmt.Fprintln(w, t.String())
}

func printSummary(w io.Writer, s dispatch.Summary) {
	state := "completed"
	switch {
	case s.Aborted:
		state = "aborted"
	case !s.Completed:
		state = "incomplete"
	}

	elapsed := s.FinishedAt.Sub(s.StartedAt).Truncate(time.Millisecond)
	fmt.Fprintf(w, "Run %d %s: %d/%d results, %d failed, %s\n",
		s.SessionID, state, s.ValuesEntered, s.Tasks, s.Failed, elapsed)
}

// runRecord converts a finished run into its persisted form.
func runRecord(summary dispatch.Summary, m *results.Matrix) storage.Run {
	run := storage.Run{
		SessionID:     summary.SessionID,
		StartedAt:     summary.StartedAt,
		FinishedAt:    summary.FinishedAt,
		Predictors:    summary.Predictors,
		Benchmarks:    summary.Benchmarks,
		Tasks:         summary.Tasks,
		ValuesEntered: summary.ValuesEntered,
		Failed:        summary.Failed,
		Completed:     summary.Completed,
		Aborted:       summary.Aborted,
	}
	for _, cfg := range m.Predictors() {
		c, err := m.Collection(cfg)
		if err != nil {
			continue
		}
		means := c.Means()
		run.Means = append(run.Means, storage.PredictorMeans{
			Predictor:  cfg.Description,
			Arithmetic: means.Arithmetic,
			Geometric:  means.Geometric,
			Harmonic:   means.Harmonic,
			Count:      means.Count,
		})
	}
	return run
}
