package report

import (
	"errors"
	"fmt"

	charts "github.com/vicanso/go-charts/v2"

	"frontier/internal/portfolio"
)

// minPieWeight hides slivers from the allocation pie.
const minPieWeight = 0.01

// ErrNothingToPlot is returned when no data survives filtering.
var ErrNothingToPlot = errors.New("nothing to plot")

type slice struct {
	label string
	value float64
}

func pieSlices(assets []string, w portfolio.Weights) []slice {
	var out []slice
	for i, a := range assets {
		if i < len(w) && w[i] > minPieWeight {
			out = append(out, slice{label: fmt.Sprintf("%s (%s)", a, Percent(w[i], 1)), value: w[i]})
		}
	}
	return out
}

// WeightsPie renders an allocation as a PNG pie chart. Positions of 1% or
// less are left out.
func WeightsPie(title string, assets []string, w portfolio.Weights) ([]byte, error) {
	slices := pieSlices(assets, w)
	if len(slices) == 0 {
		return nil, ErrNothingToPlot
	}
	values := make([]float64, len(slices))
	labels := make([]string, len(slices))
	for i, s := range slices {
		values[i] = s.value
		labels[i] = s.label
	}

	p, err := charts.PieRender(
		values,
		charts.TitleTextOptionFunc(title),
		charts.LegendOptionFunc(charts.LegendOption{
			Data: labels,
			Top:  charts.PositionBottom,
		}),
		charts.PNGTypeOption(),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(800),
		charts.HeightOptionFunc(600),
	)
	if err != nil {
		return nil, fmt.Errorf("render pie: %w", err)
	}
	return p.Bytes()
}

// FrontierChart renders expected return against volatility along the
// frontier as a PNG line chart, both in percent.
func FrontierChart(title string, points []portfolio.FrontierPoint) ([]byte, error) {
	if len(points) < 2 {
		return nil, ErrNothingToPlot
	}
	x := make([]string, len(points))
	y := make([]float64, len(points))
	for i, p := range points {
		x[i] = Percent(p.Risk, 1)
		y[i] = p.Return * 100
	}

	p, err := charts.LineRender(
		[][]float64{y},
		charts.TitleTextOptionFunc(title, "return % by volatility"),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: x, BoundaryGap: charts.FalseFlag()}),
		charts.YAxisOptionFunc(charts.YAxisOption{DivideCount: 5}),
		charts.LegendOptionFunc(charts.LegendOption{Data: []string{"Efficient frontier"}}),
		charts.PNGTypeOption(),
		charts.ThemeOptionFunc(charts.ThemeLight),
		charts.WidthOptionFunc(1000),
		charts.HeightOptionFunc(600),
	)
	if err != nil {
		return nil, fmt.Errorf("render frontier: %w", err)
	}
	return p.Bytes()
}
