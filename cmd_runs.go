package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"frontier/internal/portfolio"
	"frontier/internal/report"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List saved analyses",
	RunE:  runListRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Print one saved analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowRun,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a saved analysis",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeleteRun,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to list, 0 for all")
}

func runListRuns(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tTICKERS\tMAX SHARPE RETURN\tSHARPE")
	for _, run := range runs {
		ret, sharpe := "-", "-"
		if s, ok := run.Strategy(portfolio.StrategyMaxSharpe); ok {
			ret = report.Percent(s.Stats.Return, 2)
			sharpe = report.Ratio(s.Stats.Sharpe, 3)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.CreatedAt.Local().Format("2006-01-02 15:04"),
			strings.Join(run.Tickers, ","),
			ret, sharpe,
		)
	}
	return tw.Flush()
}

func runShowRun(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	run, err := st.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s)\n%s, %d periods from %s to %s, risk free %s\n\n",
		run.ID, run.CreatedAt.Local().Format("2006-01-02 15:04"),
		strings.Join(run.Tickers, ", "), run.Periods,
		run.Start.Format("2006-01-02"), run.End.Format("2006-01-02"),
		report.Percent(run.RiskFreeRate, 2))
	if err := report.WriteComparison(out, run.Strategies); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return report.WriteWeights(out, run.Tickers, run.Strategies)
}

func runDeleteRun(cmd *cobra.Command, args []string) error {
	st, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteRun(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
