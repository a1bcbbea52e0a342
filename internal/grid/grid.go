// Package grid holds the fixed-resolution accumulation grid that averages
// per-point samples into DSM cells.
//
// Row 0 is the northern edge (ymax) so the finalised buffer can be written
// straight into a north-up raster.
package grid

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrInvalidBox is returned for an empty or inverted bounding box.
	ErrInvalidBox = errors.New("grid: bounding box must satisfy xmin < xmax and ymin < ymax")
	// ErrInvalidResolution is returned for a non-positive resolution.
	ErrInvalidResolution = errors.New("grid: resolution must be > 0")
)

const (
	// maxSide caps the cells along either axis.
	maxSide = 1 << 20
	// maxCells caps the whole grid (16 bytes per cell, 4 GiB at the cap).
	maxCells = 1 << 28
)

// Box is an axis-aligned rectangle in projection units.
type Box struct {
	XMin, XMax, YMin, YMax float64
}

// Validate checks the box is non-degenerate and finite.
func (b Box) Validate() error {
	for _, v := range []float64{b.XMin, b.XMax, b.YMin, b.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite bound in %v", ErrInvalidBox, b)
		}
	}
	if !(b.XMin < b.XMax) || !(b.YMin < b.YMax) {
		return fmt.Errorf("%w: got %v", ErrInvalidBox, b)
	}
	return nil
}

func (b Box) String() string {
	return fmt.Sprintf("[x %g..%g, y %g..%g]", b.XMin, b.XMax, b.YMin, b.YMax)
}

// Dims returns the raster size for b at resolution:
// w = 1 + floor((xmax-xmin)/res), h = 1 + floor((ymax-ymin)/res).
func Dims(b Box, resolution float64) (w, h int) {
	w = 1 + int(math.Floor((b.XMax-b.XMin)/resolution))
	h = 1 + int(math.Floor((b.YMax-b.YMin)/resolution))
	return w, h
}

// MapColumn maps x onto [0, w). ok is false when the point falls outside.
func MapColumn(x, xmin, xmax float64, w int) (col int, ok bool) {
	return rescale(x, xmin, xmax, w)
}

// MapRow maps y onto [0, h) with row 0 at ymax. The axis is flipped by
// rescaling -y over [-ymax, -ymin].
func MapRow(y, ymin, ymax float64, h int) (row int, ok bool) {
	return rescale(-y, -ymax, -ymin, h)
}

func rescale(v, lo, hi float64, n int) (int, bool) {
	f := math.Floor(float64(n) * (v - lo) / (hi - lo))
	if math.IsNaN(f) || f < 0 || f >= float64(n) {
		return 0, false
	}
	return int(f), true
}

// Cell is the running state of one grid cell. Count == 0 means no sample has
// landed and Mean carries no meaning.
type Cell struct {
	Mean  float64
	Count uint32
}

// Grid is a dense W*H array of cells covering Box.
//
// Accumulate is safe for concurrent use: each row is guarded by its own
// mutex so writers touching different rows never contend.
type Grid struct {
	Box        Box
	Resolution float64
	W, H       int

	cells []Cell
	rows  []sync.Mutex
}

// New allocates a grid covering box at the given resolution.
func New(box Box, resolution float64) (*Grid, error) {
	if err := box.Validate(); err != nil {
		return nil, err
	}
	if !(resolution > 0) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("%w: got %g", ErrInvalidResolution, resolution)
	}
	if span := math.Max(box.XMax-box.XMin, box.YMax-box.YMin) / resolution; span > maxSide {
		return nil, fmt.Errorf("%w: %g is too fine for %v", ErrInvalidResolution, resolution, box)
	}
	w, h := Dims(box, resolution)
	if int64(w)*int64(h) > maxCells {
		return nil, fmt.Errorf("%w: %g gives %dx%d cells for %v (max %d)", ErrInvalidResolution, resolution, w, h, box, maxCells)
	}
	return &Grid{
		Box:        box,
		Resolution: resolution,
		W:          w,
		H:          h,
		cells:      make([]Cell, w*h),
		rows:       make([]sync.Mutex, h),
	}, nil
}

// Dims returns the grid width and height in cells.
func (g *Grid) Dims() (w, h int) { return g.W, g.H }

// MapToCell maps a world coordinate to a cell. Both axes are checked
// independently and ok is true only if both are inside.
func (g *Grid) MapToCell(x, y float64) (col, row int, ok bool) {
	col, okX := MapColumn(x, g.Box.XMin, g.Box.XMax, g.W)
	row, okY := MapRow(y, g.Box.YMin, g.Box.YMax, g.H)
	return col, row, okX && okY
}

// Accumulate folds v into cell (col, row) with the incremental mean
// mean' = (v + n*mean) / (n+1). Out of range indices panic.
func (g *Grid) Accumulate(col, row int, v float64) {
	if col < 0 || col >= g.W || row < 0 || row >= g.H {
		panic(fmt.Sprintf("grid: cell (%d,%d) outside %dx%d", col, row, g.W, g.H))
	}
	mu := &g.rows[row]
	mu.Lock()
	c := &g.cells[row*g.W+col]
	n := float64(c.Count)
	c.Mean = (v + n*c.Mean) / (n + 1)
	c.Count++
	mu.Unlock()
}

// AddPoint maps (x, y) and accumulates v. Points outside the grid are
// dropped and AddPoint reports false.
func (g *Grid) AddPoint(x, y, v float64) bool {
	col, row, ok := g.MapToCell(x, y)
	if !ok {
		return false
	}
	g.Accumulate(col, row, v)
	return true
}

// Cell returns a copy of cell (col, row).
func (g *Grid) Cell(col, row int) Cell {
	mu := &g.rows[row]
	mu.Lock()
	defer mu.Unlock()
	return g.cells[row*g.W+col]
}

// Covered returns how many cells hold at least one sample.
func (g *Grid) Covered() int {
	n := 0
	for row := 0; row < g.H; row++ {
		g.rows[row].Lock()
		for _, c := range g.cells[row*g.W : (row+1)*g.W] {
			if c.Count > 0 {
				n++
			}
		}
		g.rows[row].Unlock()
	}
	return n
}

// Raster is a finalised north-up single-band buffer. Data is row-major with
// len(Data) == Width*Height; NaN marks cells without samples.
type Raster struct {
	Width, Height int
	Data          []float64
}

// At returns the value at (col, row).
func (r *Raster) At(col, row int) float64 { return r.Data[row*r.Width+col] }

// Finalize converts the grid into a Raster, turning empty cells into NaN.
func (g *Grid) Finalize() *Raster {
	out := &Raster{Width: g.W, Height: g.H, Data: make([]float64, len(g.cells))}
	for row := 0; row < g.H; row++ {
		g.rows[row].Lock()
		for col := 0; col < g.W; col++ {
			c := g.cells[row*g.W+col]
			if c.Count == 0 {
				out.Data[row*g.W+col] = math.NaN()
			} else {
				out.Data[row*g.W+col] = c.Mean
			}
		}
		g.rows[row].Unlock()
	}
	return out
}
