package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/salesaudit/engine"
)

var (
	runFrom   string
	runTo     string
	runSince  time.Duration
	runRules  []string
	runDryRun bool
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an audit pass over a time window",
	Long: `Run an audit pass over [--from, --to] for every active rule, or only the
rules named with --rule. With --dry-run nothing is written and no
notification is sent; the violations found are printed instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := passWindow(time.Now())
		if err != nil {
			return err
		}

		a, cleanup, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.Engine.RunPass(cmd.Context(), engine.PassRequest{
			From:   from,
			To:     to,
			Rules:  runRules,
			DryRun: runDryRun,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if runJSON {
			return printJSON(out, res)
		}
		printSummary(cmd, res)
		return nil
	},
}

// passWindow resolves the window flags. --since overrides --from.
func passWindow(now time.Time) (time.Time, time.Time, error) {
	to := now
	if runTo != "" {
		t, err := time.Parse(time.RFC3339, runTo)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		to = t
	}

	switch {
	case runSince > 0:
		return to.Add(-runSince), to, nil
	case runFrom != "":
		from, err := time.Parse(time.RFC3339, runFrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		return from, to, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("either --from or --since is required")
}

func printSummary(cmd *cobra.Command, res *engine.PassResult) {
	out := cmd.OutOrStdout()
	mode := "persisted"
	if res.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(out, "run %s (%s): %d violations, %d written\n", res.RunID, mode, res.Count, res.Persisted)
	for _, r := range res.Rules {
		line := fmt.Sprintf("  %-32s candidates=%d skipped=%d violations=%d", r.Code, r.Candidates, r.SkippedByTrigger, r.Violations)
		if r.Error != "" {
			line += " error=" + r.Error
		}
		fmt.Fprintln(out, line)
	}
	if res.DryRun {
		for _, v := range res.Violations {
			fmt.Fprintf(out, "  - %s order=%s at=%s points=%d %s\n",
				v.RuleCode, v.OrderID, v.ViolationTime.Format(time.RFC3339), v.Points, v.Details)
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&runFrom, "from", "", "Window start (RFC 3339)")
	runCmd.Flags().StringVar(&runTo, "to", "", "Window end (RFC 3339, default now)")
	runCmd.Flags().DurationVar(&runSince, "since", 0, "Window length ending at --to, e.g. 24h")
	runCmd.Flags().StringSliceVar(&runRules, "rule", nil, "Rule code to evaluate (repeat flag)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Evaluate without writing violations or notifying")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full pass result as JSON")
	rootCmd.AddCommand(runCmd)
}
