package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"frontier/internal/portfolio"
	"frontier/internal/report"
)

var (
	optimizeCSV       string
	optimizePrices    bool
	optimizeLog       bool
	optimizeObjective string
	optimizeRF        float64
	optimizeTarget    float64
	optimizeLower     float64
	optimizeUpper     float64
	optimizePeriods   float64
)

var optimizeCmd = &cobra.Command{
	Use:   "optimize",
	Short: "Optimize a returns matrix read from CSV",
	Long: `Optimize an offline returns matrix. The CSV header names the assets and
every following row is one period, oldest first. With --prices the rows are
prices and are converted to returns first.

Example usage:
  frontier optimize --csv returns.csv
  frontier optimize --csv closes.csv --prices --objective max_sharpe --rf 0.03
  frontier optimize --csv returns.csv --objective efficient_return --target 0.12
  frontier optimize --csv returns.csv --lower -0.5 --upper 1.5`,
	RunE: runOptimize,
}

func init() {
	rootCmd.AddCommand(optimizeCmd)

	optimizeCmd.Flags().StringVar(&optimizeCSV, "csv", "", "CSV file with a header row of asset names")
	optimizeCmd.Flags().BoolVar(&optimizePrices, "prices", false, "Rows are prices rather than returns")
	optimizeCmd.Flags().BoolVar(&optimizeLog, "log", false, "Use log returns when converting prices")
	optimizeCmd.Flags().StringVar(&optimizeObjective, "objective", "all", "all, min_vol, max_sharpe or efficient_return")
	optimizeCmd.Flags().Float64Var(&optimizeRF, "rf", 0, "Annual risk free rate")
	optimizeCmd.Flags().Float64Var(&optimizeTarget, "target", 0, "Target annual return for efficient_return")
	optimizeCmd.Flags().Float64Var(&optimizeLower, "lower", 0, "Lower weight bound for every asset")
	optimizeCmd.Flags().Float64Var(&optimizeUpper, "upper", 1, "Upper weight bound for every asset")
	optimizeCmd.Flags().Float64Var(&optimizePeriods, "periods-per-year", portfolio.TradingDays, "Annualization factor")
	optimizeCmd.MarkFlagRequired("csv")
}

func runOptimize(cmd *cobra.Command, args []string) error {
	f, err := os.Open(optimizeCSV)
	if err != nil {
		return err
	}
	defer f.Close()

	returns, err := readReturnsCSV(f, optimizePrices, optimizeLog)
	if err != nil {
		return fmt.Errorf("%s: %w", optimizeCSV, err)
	}
	est, err := portfolio.Estimate(returns, portfolio.WithPeriodsPerYear(optimizePeriods))
	if err != nil {
		return err
	}
	opt, err := portfolio.NewOptimizer(est, portfolio.WithBounds(optimizeLower, optimizeUpper))
	if err != nil {
		return err
	}

	var results []portfolio.StrategyResult
	add := func(name string, w portfolio.Weights) error {
		st, err := est.Stats(w, optimizeRF)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		results = append(results, portfolio.StrategyResult{Name: name, Weights: w, Stats: st})
		return nil
	}

	switch optimizeObjective {
	case "all":
		results, err = portfolio.CompareAll(opt, optimizeRF, nil)
	case "min_vol":
		var w portfolio.Weights
		if w, err = opt.MinVol(); err == nil {
			err = add(portfolio.StrategyMinVol, w)
		}
	case "max_sharpe":
		var w portfolio.Weights
		if w, err = opt.MaxSharpe(optimizeRF); err == nil {
			err = add(portfolio.StrategyMaxSharpe, w)
		}
	case "efficient_return":
		var w portfolio.Weights
		if w, err = opt.EfficientReturn(optimizeTarget); err == nil {
			err = add(fmt.Sprintf("Target %s", report.Percent(optimizeTarget, 1)), w)
		}
	default:
		return fmt.Errorf("unknown objective %q", optimizeObjective)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d assets, %d periods\n\n", est.NumAssets(), est.Periods())
	if err := report.WriteComparison(out, results); err != nil {
		return err
	}
	fmt.Fprintln(out)
	return report.WriteWeights(out, est.Assets(), results)
}

// readReturnsCSV parses a header of asset names followed by one row per
// period. When prices is set each column is converted to simple (or log)
// returns.
func readReturnsCSV(r io.Reader, prices, logReturns bool) (*portfolio.ReturnsMatrix, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("need a header and at least one data row")
	}

	assets := make([]string, len(records[0]))
	for i, a := range records[0] {
		assets[i] = strings.TrimSpace(a)
	}
	rows := make([][]float64, 0, len(records)-1)
	for line, rec := range records[1:] {
		row := make([]float64, len(rec))
		for j, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line+2, j+1, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}

	if prices {
		rows = pricesToReturns(rows, logReturns)
	}
	return portfolio.NewReturnsMatrix(assets, rows)
}

func pricesToReturns(rows [][]float64, logReturns bool) [][]float64 {
	if len(rows) < 2 {
		return nil
	}
	n := len(rows[0])
	out := make([][]float64, len(rows)-1)
	for t := range out {
		out[t] = make([]float64, n)
	}
	col := make([]float64, len(rows))
	for j := 0; j < n; j++ {
		for t, row := range rows {
			col[t] = row[j]
		}
		var ret []float64
		if logReturns {
			ret = portfolio.LogReturns(col)
		} else {
			ret = portfolio.SimpleReturns(col)
		}
		for t, v := range ret {
			out[t][j] = v
		}
	}
	return out
}
