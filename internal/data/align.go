package data

import (
	"fmt"
	"math"
	"sort"
	"time"

	"frontier/internal/portfolio"
)

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AlignReturns turns per-ticker price series into a clean returns matrix.
// Dates are merged into one union index; each row is the simple return from
// the previous index date, and a row is kept only when every ticker has a
// price on both dates.
func AlignReturns(prices []*PriceData) (*portfolio.ReturnsMatrix, error) {
	if len(prices) == 0 {
		return nil, &portfolio.InsufficientDataError{Reason: "no price series"}
	}

	assets := make([]string, len(prices))
	byDate := make([]map[time.Time]float64, len(prices))
	index := map[time.Time]bool{}
	for j, pd := range prices {
		if len(pd.Dates) != len(pd.Closes) {
			return nil, fmt.Errorf("%s: %d dates for %d closes", pd.Ticker, len(pd.Dates), len(pd.Closes))
		}
		assets[j] = pd.Ticker
		byDate[j] = make(map[time.Time]float64, len(pd.Closes))
		for i, d := range pd.Dates {
			k := day(d)
			byDate[j][k] = pd.Closes[i]
			index[k] = true
		}
	}

	dates := make([]time.Time, 0, len(index))
	for d := range index {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(a, b int) bool { return dates[a].Before(dates[b]) })

	var rows [][]float64
	for i := 1; i < len(dates); i++ {
		row := make([]float64, len(prices))
		complete := true
		for j := range prices {
			prev, ok1 := byDate[j][dates[i-1]]
			cur, ok2 := byDate[j][dates[i]]
			if !ok1 || !ok2 || prev <= 0 {
				complete = false
				break
			}
			row[j] = cur/prev - 1
			if math.IsNaN(row[j]) || math.IsInf(row[j], 0) {
				complete = false
				break
			}
		}
		if complete {
			rows = append(rows, row)
		}
	}

	return portfolio.NewReturnsMatrix(assets, rows)
}
