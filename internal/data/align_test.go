package data

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontier/internal/portfolio"
)

func series(ticker string, days []int, closes []float64) *PriceData {
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	pd := &PriceData{Ticker: ticker, Closes: closes}
	for _, d := range days {
		pd.Dates = append(pd.Dates, start.AddDate(0, 0, d))
	}
	return pd
}

func TestAlignReturnsDropsIncompleteRows(t *testing.T) {
	a := series("A", []int{0, 1, 2, 3, 4}, []float64{100, 110, 121, 110, 121})
	b := series("B", []int{0, 1, 3, 4}, []float64{50, 55, 44, 55})

	m, err := AlignReturns([]*PriceData{a, b})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, m.Assets)
	require.Equal(t, 2, m.Periods())
	assert.InDeltaSlice(t, []float64{0.1, 0.1}, m.Rows[0], 1e-12)
	assert.InDeltaSlice(t, []float64{0.1, 0.25}, m.Rows[1], 1e-12)
}

func TestAlignReturnsInsufficient(t *testing.T) {
	a := series("A", []int{0, 1, 2}, []float64{100, 110, 121})
	b := series("B", []int{0, 2}, []float64{50, 55})

	_, err := AlignReturns([]*PriceData{a, b})
	assert.True(t, errors.Is(err, portfolio.ErrInsufficientData))

	_, err = AlignReturns(nil)
	assert.True(t, errors.Is(err, portfolio.ErrInsufficientData))
}

func TestAlignReturnsMismatchedSeries(t *testing.T) {
	bad := &PriceData{Ticker: "X", Closes: []float64{1, 2}, Dates: []time.Time{time.Now()}}
	_, err := AlignReturns([]*PriceData{bad})
	assert.Error(t, err)
}
