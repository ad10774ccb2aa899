package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"frontier/internal/portfolio"
)

// Percent formats a fraction as a percentage rounded half away from zero.
func Percent(x float64, places int32) string {
	return decimal.NewFromFloat(x).Shift(2).Round(places).StringFixed(places) + "%"
}

// Ratio formats a plain number with fixed places.
func Ratio(x float64, places int32) string {
	return decimal.NewFromFloat(x).Round(places).StringFixed(places)
}

// WriteComparison prints one row per strategy: return, volatility, Sharpe.
func WriteComparison(w io.Writer, results []portfolio.StrategyResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Strategy\tReturn\tVolatility\tSharpe\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n",
			r.Name,
			Percent(r.Stats.Return, 2),
			Percent(r.Stats.Volatility, 2),
			Ratio(r.Stats.Sharpe, 3),
		)
	}
	return tw.Flush()
}

// WriteWeights prints an asset by strategy table of allocations.
func WriteWeights(w io.Writer, assets []string, results []portfolio.StrategyResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"Asset"}
	for _, r := range results {
		header = append(header, r.Name)
	}
	fmt.Fprintln(tw, strings.Join(header, "\t")+"\t")
	for i, a := range assets {
		row := []string{a}
		for _, r := range results {
			if i < len(r.Weights) {
				row = append(row, Percent(r.Weights[i], 1))
			} else {
				row = append(row, "-")
			}
		}
		fmt.Fprintln(tw, strings.Join(row, "\t")+"\t")
	}
	return tw.Flush()
}

// WriteSummary prints the headline line for one strategy followed by its
// top holdings, e.g.
//
//	Max Sharpe: 23.41% return, 1.120 Sharpe
//	  AAPL: 40.0%
func WriteSummary(w io.Writer, r portfolio.StrategyResult, assets []string, top int) error {
	if _, err := fmt.Fprintf(w, "%s: %s return, %s Sharpe\n", r.Name, Percent(r.Stats.Return, 2), Ratio(r.Stats.Sharpe, 3)); err != nil {
		return err
	}
	for _, h := range portfolio.TopHoldings(assets, r.Weights, top) {
		if _, err := fmt.Fprintf(w, "  %s: %s\n", h.Asset, Percent(h.Weight, 1)); err != nil {
			return err
		}
	}
	return nil
}
