package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"frontier/internal/analysis"
	"frontier/internal/data"
	"frontier/internal/portfolio"
	"frontier/internal/report"
)

var (
	analyzeTickers  []string
	analyzeUniverse string
	analyzeYears    int
	analyzeRF       float64
	analyzePoints   int
	analyzeSamples  int
	analyzePlotDir  string
	analyzeSave     bool
	analyzeJSON     bool
	analyzeTop      int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Download prices and compare allocation strategies",
	Long: `Download daily prices for a ticker list or a named universe, then print
equal weight, maximum Sharpe and minimum volatility allocations.

Example usage:
  frontier analyze --tickers AAPL,MSFT,JNJ
  frontier analyze --universe tech --years 5 --rf 0.045
  frontier analyze --universe mexican --plot ./charts --save`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringSliceVarP(&analyzeTickers, "tickers", "t", nil, "Comma separated tickers")
	analyzeCmd.Flags().StringVarP(&analyzeUniverse, "universe", "u", "", "Named ticker universe (see universes.yaml)")
	analyzeCmd.Flags().IntVar(&analyzeYears, "years", 2, "Years of history")
	analyzeCmd.Flags().Float64Var(&analyzeRF, "rf", 0, "Annual risk free rate (defaults to FRONTIER_RISK_FREE_RATE)")
	analyzeCmd.Flags().IntVar(&analyzePoints, "points", 0, "Efficient frontier points (defaults to FRONTIER_FRONTIER_POINTS)")
	analyzeCmd.Flags().IntVar(&analyzeSamples, "samples", 0, "Random portfolios to include in JSON output")
	analyzeCmd.Flags().StringVar(&analyzePlotDir, "plot", "", "Write PNG charts to this directory")
	analyzeCmd.Flags().BoolVar(&analyzeSave, "save", false, "Store the run in the history database")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the full result as JSON")
	analyzeCmd.Flags().IntVar(&analyzeTop, "top", 3, "Holdings listed per strategy")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tickers := analyzeTickers
	if analyzeUniverse != "" {
		universes, err := data.LoadUniverses(cfg.UniverseFile)
		if err != nil {
			return err
		}
		u, ok := universes.Lookup(analyzeUniverse)
		if !ok {
			return fmt.Errorf("unknown universe %q (have %s)", analyzeUniverse, strings.Join(universes.Names(), ", "))
		}
		tickers = append(u, tickers...)
	}
	if len(data.NormalizeTickers(tickers)) > cfg.MaxTickers {
		return fmt.Errorf("maximum %d tickers allowed", cfg.MaxTickers)
	}

	rf := cfg.RiskFreeRate
	if cmd.Flags().Changed("rf") {
		rf = analyzeRF
	}
	points := cfg.FrontierPoints
	if analyzePoints > 0 {
		points = analyzePoints
	}

	fetcher, closeCache, err := newFetcher(ctx, nil)
	if err != nil {
		return err
	}
	defer closeCache()

	res, err := analysis.New(fetcher, nil).Analyze(ctx, analysis.Request{
		Tickers:        tickers,
		Range:          data.LastYears(analyzeYears, time.Now()),
		RiskFreeRate:   rf,
		PeriodsPerYear: cfg.PeriodsPerYear,
		FrontierPoints: points,
		Samples:        analyzeSamples,
		Seed:           time.Now().UnixNano(),
	})
	if err != nil {
		return err
	}

	for _, w := range res.Warnings {
		log.Warn().Msg(w)
	}
	failed := make([]string, 0, len(res.Failed))
	for t := range res.Failed {
		failed = append(failed, t)
	}
	sort.Strings(failed)
	for _, t := range failed {
		log.Warn().Str("ticker", t).Str("error", res.Failed[t]).Msg("ticker skipped")
	}

	out := cmd.OutOrStdout()
	if analyzeJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if err := printAnalysis(out, res); err != nil {
		return err
	}

	if analyzePlotDir != "" {
		if err := writeCharts(analyzePlotDir, res); err != nil {
			return err
		}
	}

	if analyzeSave {
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		run := res.Record()
		if err := st.SaveRun(ctx, run); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "saved run %s\n", run.ID)
	}
	return nil
}

func printAnalysis(w io.Writer, res *analysis.Result) error {
	fmt.Fprintf(w, "%s, %d periods from %s to %s\n\n",
		strings.Join(res.Tickers, ", "), res.Periods,
		res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"))

	for _, name := range []string{portfolio.StrategyMaxSharpe, portfolio.StrategyMinVol} {
		if s, ok := res.Strategy(name); ok {
			if err := report.WriteSummary(w, s, res.Tickers, analyzeTop); err != nil {
				return err
			}
		}
	}
	fmt.Fprintln(w)
	if err := report.WriteComparison(w, res.Strategies); err != nil {
		return err
	}
	fmt.Fprintln(w)
	return report.WriteWeights(w, res.Tickers, res.Strategies)
}

func writeCharts(dir string, res *analysis.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, s := range res.Strategies {
		png, err := report.WeightsPie(s.Name+" allocation", res.Tickers, s.Weights)
		if err != nil {
			return fmt.Errorf("%s chart: %w", s.Name, err)
		}
		name := strings.ToLower(strings.ReplaceAll(s.Name, " ", "_")) + ".png"
		if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
			return err
		}
	}

	png, err := report.FrontierChart("Efficient frontier", res.Frontier)
	if err != nil {
		log.Warn().Err(err).Msg("frontier chart skipped")
		return nil
	}
	return os.WriteFile(filepath.Join(dir, "frontier.png"), png, 0o644)
}
