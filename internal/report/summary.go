// Package report produces quick-look outputs for a finished DSM: summary
// statistics, a PNG heat map and an HTML histogram of cell values.
package report

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/plydsm/internal/grid"
)

// ErrEmptyRaster is returned when a raster has no covered cells to draw.
var ErrEmptyRaster = errors.New("report: raster has no covered cells")

// Summary describes the covered cells of a raster. The value fields are NaN
// when no cell is covered.
type Summary struct {
	Cells   int
	Covered int
	Min     float64
	Max     float64
	Mean    float64
	StdDev  float64
	Median  float64
}

// Coverage returns the fraction of cells holding a value.
func (s Summary) Coverage() float64 {
	if s.Cells == 0 {
		return 0
	}
	return float64(s.Covered) / float64(s.Cells)
}

func (s Summary) String() string {
	return fmt.Sprintf("cells=%d covered=%d (%.1f%%) min=%.3f max=%.3f mean=%.3f stddev=%.3f median=%.3f",
		s.Cells, s.Covered, 100*s.Coverage(), s.Min, s.Max, s.Mean, s.StdDev, s.Median)
}

// covered returns the non-NaN values of r, sorted ascending.
func covered(r *grid.Raster) []float64 {
	vals := make([]float64, 0, len(r.Data))
	for _, v := range r.Data {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	sort.Float64s(vals)
	return vals
}

// Summarize computes statistics over the covered cells of r.
func Summarize(r *grid.Raster) Summary {
	vals := covered(r)
	s := Summary{Cells: len(r.Data), Covered: len(vals)}
	if len(vals) == 0 {
		nan := math.NaN()
		s.Min, s.Max, s.Mean, s.StdDev, s.Median = nan, nan, nan, nan, nan
		return s
	}
	s.Min = floats.Min(vals)
	s.Max = floats.Max(vals)
	s.Mean, s.StdDev = stat.MeanStdDev(vals, nil)
	if len(vals) < 2 {
		s.StdDev = 0
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, vals, nil)
	return s
}
