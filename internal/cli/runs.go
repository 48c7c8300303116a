package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haskel/branchsim/internal/storage"
)

var runsCmd = &cobra.Command{
	Use:   "runs [id]",
	Short: "Show the run history",
	Long: `List recorded simulation runs, newest first. With an ID (or a unique ID
prefix), show the per-predictor means of that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

var runsLimit int

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list, 0 lists all")
	rootCmd.AddCommand(runsCmd)
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		run, err := store.Run(args[0])
		if err != nil {
			return err
		}
		return printRun(run)
	}

	runs := store.Runs()
	slices.Reverse(runs)
	if runsLimit > 0 && len(runs) > runsLimit {
		runs = runs[:runsLimit]
	}

	if jsonOut {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tPREDICTORS\tBENCHMARKS\tRESULTS\tFAILED\tSTATE")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d/%d\t%d\t%s\n",
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			r.FinishedAt.Sub(r.StartedAt).Truncate(time.Second),
			r.Predictors,
			r.Benchmarks,
			r.ValuesEntered, r.Tasks,
			r.Failed,
			runState(r),
		)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func runState(r storage.Run) string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.Completed:
		return "completed"
	default:
		return "incomplete"
	}
}

func printRun(r storage.Run) error {
	if jsonOut {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Run %s (%s)\n", r.ID, runState(r))
	fmt.Printf("  Started:  %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Printf("  Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond))
	fmt.Printf("  Results:  %d/%d, %d failed\n\n", r.ValuesEntered, r.Tasks, r.Failed)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "PREDICTOR\tARITH.\tGEOM.\tHARM.\tN\t")
	for _, m := range r.Means {
		if m.Count == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\t0\t\n", m.Predictor)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t\n",
			m.Predictor,
			formatAccuracy(m.Arithmetic),
			formatAccuracy(m.Geometric),
			formatAccuracy(m.Harmonic),
			m.Count,
		)
	}
	return w.Flush()
}
