package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frontier/internal/portfolio"
)

func TestPercent(t *testing.T) {
	assert.Equal(t, "23.46%", Percent(0.234567, 2))
	assert.Equal(t, "0.1%", Percent(0.00125, 1))
	assert.Equal(t, "-5.00%", Percent(-0.05, 2))
	assert.Equal(t, "0.671", Ratio(0.67082, 3))
}

func results() []portfolio.StrategyResult {
	return []portfolio.StrategyResult{
		{Name: portfolio.StrategyMaxSharpe, Weights: portfolio.Weights{0.6, 0.3, 0.1}, Stats: portfolio.PortfolioStats{Return: 0.2341, Volatility: 0.209, Sharpe: 1.12}},
		{Name: portfolio.StrategyMinVol, Weights: portfolio.Weights{0.1, 0.2, 0.7}, Stats: portfolio.PortfolioStats{Return: 0.08, Volatility: 0.11, Sharpe: 0.727}},
	}
}

func TestWriteComparison(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteComparison(&buf, results()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Sharpe")
	assert.Contains(t, lines[1], "Max Sharpe")
	assert.Contains(t, lines[1], "23.41%")
	assert.Contains(t, lines[2], "11.00%")
}

func TestWriteWeights(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteWeights(&buf, []string{"AAPL", "MSFT", "JNJ"}, results()))

	out := buf.String()
	assert.Contains(t, out, "Min Volatility")
	assert.Contains(t, out, "70.0%")
	assert.Equal(t, 4, strings.Count(out, "\n"))
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, results()[0], []string{"AAPL", "MSFT", "JNJ"}, 2))

	assert.Equal(t, "Max Sharpe: 23.41% return, 1.120 Sharpe\n  AAPL: 60.0%\n  MSFT: 30.0%\n", buf.String())
}

func TestPieSlicesDropSmallWeights(t *testing.T) {
	s := pieSlices([]string{"A", "B", "C"}, portfolio.Weights{0.995, 0.005, 0})
	require.Len(t, s, 1)
	assert.Equal(t, "A (99.5%)", s[0].label)

	_, err := WeightsPie("empty", []string{"A"}, portfolio.Weights{0})
	assert.ErrorIs(t, err, ErrNothingToPlot)
}

func TestChartsRenderPNG(t *testing.T) {
	png := []byte("\x89PNG")

	b, err := WeightsPie("Max Sharpe", []string{"AAPL", "MSFT", "JNJ"}, portfolio.Weights{0.6, 0.3, 0.1})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, png))

	b, err = FrontierChart("Frontier", []portfolio.FrontierPoint{
		{Return: 0.06, Risk: 0.09},
		{Return: 0.08, Risk: 0.10},
		{Return: 0.10, Risk: 0.13},
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, png))

	_, err = FrontierChart("Frontier", nil)
	assert.ErrorIs(t, err, ErrNothingToPlot)
}
