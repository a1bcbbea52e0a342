package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plydsm/internal/grid"
)

func raster(w, h int, vals ...float64) *grid.Raster {
	r := &grid.Raster{Width: w, Height: h, Data: make([]float64, w*h)}
	for i := range r.Data {
		r.Data[i] = math.NaN()
	}
	copy(r.Data, vals)
	return r
}

func TestSummarize(t *testing.T) {
	nan := math.NaN()
	s := Summarize(raster(3, 2, 1, nan, 3, 4, nan, 2))

	assert.Equal(t, 6, s.Cells)
	assert.Equal(t, 4, s.Covered)
	assert.InDelta(t, 4.0/6, s.Coverage(), 1e-12)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 4.0, s.Max)
	assert.Equal(t, 2.5, s.Mean)
	assert.InDelta(t, math.Sqrt(5.0/3), s.StdDev, 1e-12)
	assert.Equal(t, 2.0, s.Median)
	assert.Contains(t, s.String(), "covered=4")
}

func TestSummarize_EdgeCases(t *testing.T) {
	empty := Summarize(raster(2, 2))
	assert.Zero(t, empty.Covered)
	assert.True(t, math.IsNaN(empty.Mean))
	assert.True(t, math.IsNaN(empty.Min))

	single := Summarize(raster(2, 2, 7))
	assert.Equal(t, 7.0, single.Mean)
	assert.Zero(t, single.StdDev)
}

func TestNewHistogram(t *testing.T) {
	h, err := NewHistogram(raster(5, 1, 0, 1, 2, 3, 4), 4)
	require.NoError(t, err)
	require.Len(t, h.Edges, 5)
	assert.Equal(t, []float64{1, 1, 1, 2}, h.Counts)

	flat, err := NewHistogram(raster(2, 1, 3, 3), 3)
	require.NoError(t, err)
	assert.Equal(t, 2.0, flat.Counts[0])

	_, err = NewHistogram(raster(2, 2), 3)
	assert.ErrorIs(t, err, ErrEmptyRaster)
	_, err = NewHistogram(raster(2, 1, 1, 2), 0)
	assert.Error(t, err)
}

func TestWriteHistogramHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHistogramHTML(&buf, raster(3, 1, 10, 11, 12), 5, "DSM heights"))

	out := buf.String()
	assert.Contains(t, out, "<html")
	assert.Contains(t, out, "DSM heights")
	assert.Contains(t, out, "10.00")
}

func TestWritePreviewPNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "preview.png")
	r := raster(4, 2, 1, 2, 3, 4, 5)

	require.NoError(t, WritePreviewPNG(path, r, Frame{OriginX: 100, OriginY: 50, Resolution: 2}, "test"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	assert.ErrorIs(t, WritePreviewPNG(filepath.Join(dir, "empty.png"), raster(2, 2), Frame{Resolution: 1}, ""), ErrEmptyRaster)
}

func TestRasterGrid_FlipsRows(t *testing.T) {
	r := raster(2, 3, 1, 2, 3, 4, 5, 6)
	g := rasterGrid{r: r, frame: Frame{OriginX: 10, OriginY: 30, Resolution: 1}}

	c, rows := g.Dims()
	assert.Equal(t, 2, c)
	assert.Equal(t, 3, rows)
	// Plot row 0 is the southern raster row.
	assert.Equal(t, 5.0, g.Z(0, 0))
	assert.Equal(t, 2.0, g.Z(1, 2))
	assert.Equal(t, 27.5, g.Y(0))
	assert.Equal(t, 29.5, g.Y(2))
	assert.Equal(t, 10.5, g.X(0))
}
