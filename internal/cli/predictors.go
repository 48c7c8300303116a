package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/haskel/branchsim/internal/predictor"
)

var predictorsCmd = &cobra.Command{
	Use:   "predictors [spec...]",
	Short: "List predictor kinds or expand predictor specs",
	Long: `Without arguments, list every predictor kind with its parameters, defaults
and valid ranges. With arguments, show the configurations each spec expands to.`,
	Example: `  branchsim predictors
  branchsim predictors gag:4|8,8,3 gshare`,
	RunE: runPredictors,
}

func init() {
	rootCmd.AddCommand(predictorsCmd)
}

type paramInfo struct {
	Name    string `json:"name"`
	Display string `json:"display"`
	Type    string `json:"type"`
	Default any    `json:"default"`
	Min     *int64 `json:"min,omitempty"`
	Max     *int64 `json:"max,omitempty"`
}

type kindInfo struct {
	Kind   string      `json:"kind"`
	Name   string      `json:"name"`
	Help   string      `json:"help"`
	Params []paramInfo `json:"params"`
}

func describeKinds() []kindInfo {
	var kinds []kindInfo
	for _, s := range predictor.Kinds() {
		info := kindInfo{Kind: string(s.Kind), Name: s.Name, Help: s.Help}
		for _, p := range s.Params {
			pi := paramInfo{Name: p.Name, Display: p.Display, Default: p.Default, Type: "bool"}
			if p.Type == predictor.ParamInt {
				pi.Type = "int"
				pi.Min, pi.Max = &p.Min, &p.Max
			}
			info.Params = append(info.Params, pi)
		}
		kinds = append(kinds, info)
	}
	return kinds
}

func runPredictors(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return expandSpecs(args)
	}

	kinds := describeKinds()
	if jsonOut {
		data, err := json.MarshalIndent(kinds, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, k := range kinds {
		fmt.Fprintf(w, "%s\t%s: %s\n", k.Kind, k.Name, k.Help)
		for _, p := range k.Params {
			valid := "true|false"
			if p.Min != nil {
				valid = fmt.Sprintf("%d..%d", *p.Min, *p.Max)
			}
			fmt.Fprintf(w, "  %s\t%s\tdefault %v\t%s\n", p.Name, p.Display, p.Default, valid)
		}
	}
	w.Flush()

	fmt.Printf("\nSpec format: kind[:arg,arg,...], alternatives separated by '|', e.g. %q\n",
		"gag:4|8,8,3")
	return nil
}

func expandSpecs(specs []string) error {
	configs, err := parsePredictors(specs)
	if err != nil {
		return err
	}

	if jsonOut {
		out := make([]map[string]any, 0, len(configs))
		for _, c := range configs {
			out = append(out, map[string]any{
				"kind":        c.Kind,
				"description": c.Description,
				"args":        c.Args,
			})
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	for _, c := range configs {
		fmt.Println(c.Description)
	}
	if len(configs) > 1 {
		fmt.Printf("%s\n%d configurations\n", strings.Repeat("-", 16), len(configs))
	}
	return nil
}
