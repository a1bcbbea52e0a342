package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/plydsm/internal/grid"
)

// Frame places a raster in world coordinates: (OriginX, OriginY) is the
// top-left corner and Resolution the cell size.
type Frame struct {
	OriginX    float64
	OriginY    float64
	Resolution float64
}

// rasterGrid adapts a north-up raster to plotter.GridXYZ, whose rows run
// south to north.
type rasterGrid struct {
	r     *grid.Raster
	frame Frame
}

func (g rasterGrid) Dims() (c, r int) { return g.r.Width, g.r.Height }

func (g rasterGrid) Z(c, r int) float64 { return g.r.At(c, g.r.Height-1-r) }

func (g rasterGrid) X(c int) float64 {
	return g.frame.OriginX + (float64(c)+0.5)*g.frame.Resolution
}

func (g rasterGrid) Y(r int) float64 {
	return g.frame.OriginY - (float64(g.r.Height-r)-0.5)*g.frame.Resolution
}

// previewWidth is the long side of the saved PNG.
const previewWidth = 8 * vg.Inch

// WritePreviewPNG renders r as a heat map PNG at path. Cells without data
// are transparent.
func WritePreviewPNG(path string, r *grid.Raster, frame Frame, title string) error {
	s := Summarize(r)
	if s.Covered == 0 {
		return ErrEmptyRaster
	}

	hm := plotter.NewHeatMap(rasterGrid{r: r, frame: frame}, palette.Heat(64, 1))
	hm.NaN = color.Transparent
	hm.Min, hm.Max = s.Min, s.Max
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Easting (m)"
	p.Y.Label.Text = "Northing (m)"
	p.Add(hm)

	w, h := previewWidth, previewWidth
	aspect := float64(r.Height) / float64(r.Width)
	switch {
	case aspect < 1:
		h = vg.Length(math.Max(aspect, 0.25)) * previewWidth
	case aspect > 1:
		w = vg.Length(math.Max(1/aspect, 0.25)) * previewWidth
	}
	if err := p.Save(w, h, path); err != nil {
		return fmt.Errorf("failed to save preview %s: %w", path, err)
	}
	return nil
}
