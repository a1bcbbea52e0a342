package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/plydsm/internal/grid"
)

// Histogram counts covered cell values in equal-width bins.
type Histogram struct {
	// Edges has len(Counts)+1 entries.
	Edges  []float64
	Counts []float64
}

// NewHistogram bins the covered cells of r. bins must be positive.
func NewHistogram(r *grid.Raster, bins int) (Histogram, error) {
	if bins < 1 {
		return Histogram{}, fmt.Errorf("report: bins must be positive, got %d", bins)
	}
	vals := covered(r)
	if len(vals) == 0 {
		return Histogram{}, ErrEmptyRaster
	}
	lo, hi := vals[0], vals[len(vals)-1]
	if hi <= lo {
		hi = lo + 1
	}
	edges := floats.Span(make([]float64, bins+1), lo, hi)
	// The top edge is exclusive in stat.Histogram.
	edges[bins] = math.Nextafter(edges[bins], math.Inf(1))
	return Histogram{Edges: edges, Counts: stat.Histogram(nil, edges, vals, nil)}, nil
}

// WriteHistogramHTML renders the value histogram of r as a standalone
// go-echarts page.
func WriteHistogramHTML(w io.Writer, r *grid.Raster, bins int, title string) error {
	h, err := NewHistogram(r, bins)
	if err != nil {
		return err
	}

	x := make([]string, len(h.Counts))
	y := make([]opts.BarData, len(h.Counts))
	for i, c := range h.Counts {
		x[i] = fmt.Sprintf("%.2f", h.Edges[i])
		y[i] = opts.BarData{Value: int(c)}
	}

	s := Summarize(r)
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: s.String()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "value", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cells"}),
	)
	bar.SetXAxis(x).AddSeries("cells", y)
	return bar.Render(w)
}
