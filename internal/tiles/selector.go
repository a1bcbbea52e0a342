// Package tiles picks the point-cloud tiles that overlap a target bounding
// box, using the per-tile extent sidecar instead of reading any points.
package tiles

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/grid"
	"github.com/banshee-data/plydsm/internal/ply"
)

const (
	// DefaultExtentFile is the sidecar holding "xmin xmax ymin ymax".
	DefaultExtentFile = "plyextrema.txt"
	// DefaultCloudFile is the point cloud inside each tile directory.
	DefaultCloudFile = "cloud.ply"
)

var (
	// ErrTileList is returned when the tile list itself cannot be read.
	ErrTileList = errors.New("tiles: cannot read tile list")
	// ErrMalformedExtent is returned for an unparsable extent sidecar.
	ErrMalformedExtent = errors.New("tiles: malformed extent")
)

// Extent is the planar footprint of one tile.
type Extent struct {
	XMin, XMax, YMin, YMax float64
}

// Intersects reports whether e overlaps b. Edges that only touch count as
// overlapping.
func (e Extent) Intersects(b grid.Box) bool {
	return e.XMin <= b.XMax && e.XMax >= b.XMin && e.YMin <= b.YMax && e.YMax >= b.YMin
}

// ParseExtent parses the first four whitespace separated numbers of data.
func ParseExtent(data []byte) (Extent, error) {
	fields := strings.Fields(string(data))
	if len(fields) < 4 {
		return Extent{}, fmt.Errorf("%w: want 4 values, got %d", ErrMalformedExtent, len(fields))
	}
	var v [4]float64
	for i := range v {
		f, err := strconv.ParseFloat(fields[i], 64)
		if err != nil || math.IsNaN(f) {
			return Extent{}, fmt.Errorf("%w: value %d is %q", ErrMalformedExtent, i, fields[i])
		}
		v[i] = f
	}
	return Extent{XMin: v[0], XMax: v[1], YMin: v[2], YMax: v[3]}, nil
}

// Tile is a selected tile ready for ingestion.
type Tile struct {
	Dir       string
	CloudPath string
	Extent    Extent
	// Zone is the UTM zone declared by the cloud header, "" if none.
	Zone string
}

// Summary counts what happened to each listed tile.
type Summary struct {
	Listed        int
	MissingExtent int
	Disjoint      int
	Unopenable    int
	Selected      int
}

// Selector resolves a tile list against a bounding box.
type Selector struct {
	FS         fsutil.FileSystem
	ExtentFile string
	CloudFile  string
}

// NewSelector returns a Selector using the default sidecar and cloud names.
func NewSelector(fsys fsutil.FileSystem) *Selector {
	return &Selector{FS: fsys, ExtentFile: DefaultExtentFile, CloudFile: DefaultCloudFile}
}

// LoadExtent reads the extent sidecar inside dir.
func (s *Selector) LoadExtent(dir string) (Extent, error) {
	data, err := s.FS.ReadFile(filepath.Join(dir, s.ExtentFile))
	if err != nil {
		return Extent{}, err
	}
	return ParseExtent(data)
}

// Select reads listPath (one tile directory per line) and returns, in list
// order, the tiles whose extent intersects box and whose cloud header can be
// read. Per-tile problems are logged and skipped; only an unreadable list is
// an error.
func (s *Selector) Select(ctx context.Context, listPath string, box grid.Box) ([]Tile, Summary, error) {
	var sum Summary

	f, err := s.FS.Open(listPath)
	if err != nil {
		return nil, sum, fmt.Errorf("%w %s: %v", ErrTileList, listPath, err)
	}
	defer f.Close()

	var out []Tile
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return out, sum, err
		}
		dir := strings.TrimSpace(sc.Text())
		if dir == "" {
			continue
		}
		sum.Listed++

		tile, ok := s.consider(dir, box, &sum)
		if ok {
			out = append(out, tile)
			sum.Selected++
		}
	}
	if err := sc.Err(); err != nil {
		return out, sum, fmt.Errorf("%w %s: %v", ErrTileList, listPath, err)
	}

	diagf("selected %d of %d tiles for %v (missing extent=%d disjoint=%d unopenable=%d)",
		sum.Selected, sum.Listed, box, sum.MissingExtent, sum.Disjoint, sum.Unopenable)
	return out, sum, nil
}

func (s *Selector) consider(dir string, box grid.Box, sum *Summary) (Tile, bool) {
	ext, err := s.LoadExtent(dir)
	if err != nil {
		opsf("WARNING: skipping tile %s: cannot read %s: %v", dir, s.ExtentFile, err)
		sum.MissingExtent++
		return Tile{}, false
	}
	if !ext.Intersects(box) {
		diagf("tile %s extent %+v does not intersect %v", dir, ext, box)
		sum.Disjoint++
		return Tile{}, false
	}

	cloud := filepath.Join(dir, s.CloudFile)
	h, err := ply.ReadHeader(s.FS, cloud)
	if err != nil {
		opsf("WARNING: skipping tile %s: cannot open %s: %v", dir, cloud, err)
		sum.Unopenable++
		return Tile{}, false
	}
	diagf("tile %s selected: zone=%q encoding=%s properties=%d", dir, h.Zone, h.Encoding, len(h.Properties))
	return Tile{Dir: dir, CloudPath: cloud, Extent: ext, Zone: h.Zone}, true
}
