package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/promptlab/backend/internal/experiments"
	"github.com/promptlab/backend/internal/models"
)

var (
	goodScore = color.New(color.FgGreen, color.Bold)
	fairScore = color.New(color.FgYellow)
	poorScore = color.New(color.FgRed)
	dim       = color.New(color.Faint)
)

func newRunCmd(e *env) *cobra.Command {
	var (
		req        models.GenerateRequest
		variations int
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate and score a parameter sweep for a prompt",
		Example: `  promptlab run -p "Summarise TDD" --temperature 0.3,0.7 --top-p 0.8,1 -n 2
  promptlab run -p "Explain nucleus sampling" --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("variations") {
				req.N = &variations
			}
			result, err := e.app.Service.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(e.out, result)
			}

			mode := "fallback"
			if result.Metadata.UsingLiveModel {
				mode = "live"
			}
			fmt.Fprintf(e.out, "Experiment %s (%d responses, %s)\n\n", result.ExperimentID, result.Metadata.Total, mode)
			printResponses(e.out, result.Responses)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Prompt, "prompt", "p", "", "prompt to send")
	cmd.Flags().Float64SliceVarP(&req.Parameters.Temperature, "temperature", "t", []float64{0.7}, "temperature values (0-2)")
	cmd.Flags().Float64SliceVar(&req.Parameters.TopP, "top-p", []float64{1}, "top-p values (0-1)")
	cmd.Flags().IntVarP(&variations, "variations", "n", models.DefaultVariations, "samples per parameter set (1-8)")
	cmd.Flags().StringVarP(&req.Model, "model", "m", "", "model name (defaults to DEFAULT_MODEL)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func newListCmd(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exps, err := e.app.Service.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(exps) == 0 {
				fmt.Fprintln(e.out, "No experiments yet.")
				return nil
			}

			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMODEL\tSETS\tN\tCREATED")
			for _, exp := range exps {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
					exp.ID, exp.Name, exp.Model, len(exp.ParameterSets), exp.Variations,
					exp.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", experiments.DefaultListLimit, "maximum experiments to show")
	return cmd
}

func newShowCmd(e *env) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an experiment and its scored responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := e.app.Service.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(e.out, exp)
			}

			fmt.Fprintf(e.out, "%s\n", exp.Name)
			fmt.Fprintf(e.out, "  id:      %s\n", exp.ID)
			fmt.Fprintf(e.out, "  model:   %s\n", exp.Model)
			fmt.Fprintf(e.out, "  prompt:  %s\n", exp.Prompt)
			fmt.Fprintf(e.out, "  created: %s\n\n", exp.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			printResponses(e.out, exp.Responses)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func newRenameCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename an experiment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			exp, err := e.app.Service.Rename(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Renamed %s to %q\n", exp.ID, exp.Name)
			return nil
		},
	}
}

func newDeleteCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an experiment and its responses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.app.Service.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(e.out, "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newExportCmd(e *env) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export an experiment as JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("unsupported format %q (want json or csv)", format)
			}
			exp, payload, err := e.app.Service.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := e.out
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			if format == "csv" {
				err = experiments.WriteCSV(w, exp)
			} else {
				err = writeJSON(w, payload)
			}
			if err != nil {
				return err
			}
			if output != "" {
				fmt.Fprintf(e.out, "Wrote %s\n", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default stdout)")
	return cmd
}

// ── Output ──────────────────────────────────────────────

func printResponses(w io.Writer, responses []models.ScoredResponse) {
	for _, r := range responses {
		fmt.Fprintf(w, "T=%.2f P=%.2f #%d  score %s  %s\n",
			r.ParameterSet.Temperature, r.ParameterSet.TopP, r.VariationIndex+1,
			scoreColor(r.Metrics.Score).Sprintf("%.2f", r.Metrics.Score),
			dim.Sprintf("coh %.2f  comp %.2f  red %.2f  read %.2f  struct %.2f",
				r.Metrics.Coherence, r.Metrics.Completeness, r.Metrics.Redundancy,
				r.Metrics.Readability, r.Metrics.Structure),
		)
		fmt.Fprintf(w, "    %s\n", preview(r.Text, 100))
	}
}

func scoreColor(score float64) *color.Color {
	switch {
	case score >= 0.75:
		return goodScore
	case score >= 0.5:
		return fairScore
	default:
		return poorScore
	}
}

// preview returns the first line of text cut to max runes.
func preview(text string, max int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	runes := []rune(line)
	if len(runes) <= max {
		return line
	}
	return string(runes[:max-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
