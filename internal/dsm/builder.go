// Package dsm drives a DSM run: select tiles, reconcile their UTM zones,
// stream every selected cloud into the accumulation grid and hand the
// finalised raster to the raster and georeference writers.
package dsm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/grid"
	"github.com/banshee-data/plydsm/internal/tiles"
)

// RasterWriter persists a finalised raster at path.
type RasterWriter interface {
	WriteRaster(path string, r *grid.Raster) error
}

// GeoreferenceWriter attaches projection, pixel scale and tie point to an
// existing raster file.
type GeoreferenceWriter interface {
	WriteGeoreference(path, zone string, xoff, yoff, scale float64) error
}

// Result is the outcome of a successful build.
type Result struct {
	Raster *grid.Raster
	// Zone is the canonical zone, "" when no tile declared one.
	Zone       string
	MixedZones bool
	OriginX    float64
	OriginY    float64
	Resolution float64

	Tiles     []TileReport
	Selection tiles.Summary
	Points    int64
	Accepted  int64
	Covered   int
	Elapsed   time.Duration
}

// Builder runs DSM builds with fixed options.
type Builder struct {
	opts     Options
	fs       fsutil.FileSystem
	selector *tiles.Selector
}

// NewBuilder validates opts and returns a Builder reading through fsys.
func NewBuilder(opts Options, fsys fsutil.FileSystem) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	sel := &tiles.Selector{FS: fsys, ExtentFile: opts.ExtentFile, CloudFile: opts.CloudFile}
	return &Builder{opts: opts, fs: fsys, selector: sel}, nil
}

// Options returns the options the builder was created with.
func (b *Builder) Options() Options { return b.opts }

// plannedTile is a selected tile and its report slot.
type plannedTile struct {
	tile tiles.Tile
	rep  *TileReport
}

// Build reads the tile list at listPath and accumulates every selected tile.
// Only configuration problems, an unreadable tile list, a zone mismatch under
// ZoneFail and cancellation are returned as errors.
func (b *Builder) Build(ctx context.Context, listPath string) (*Result, error) {
	start := time.Now()
	Diagf("state=init box=%v resolution=%g channel=%d workers=%d zone_policy=%s",
		b.opts.Box, b.opts.Resolution, b.opts.Channel, b.opts.Workers, b.opts.ZonePolicy)

	g, err := grid.New(b.opts.Box, b.opts.Resolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	Diagf("grid %dx%d cells", g.W, g.H)

	Diagf("state=select_tiles list=%s", listPath)
	selected, summary, err := b.selector.Select(ctx, listPath, b.opts.Box)
	if err != nil {
		return nil, err
	}

	res := &Result{
		OriginX:    b.opts.Box.XMin,
		OriginY:    b.opts.Box.YMax,
		Resolution: b.opts.Resolution,
		Selection:  summary,
		Tiles:      make([]TileReport, len(selected)),
	}

	plan, rc, err := b.reconcileZones(selected, res)
	if err != nil {
		return nil, err
	}
	res.Zone = rc.CanonicalZone

	Diagf("state=ingest tiles=%d", len(plan))
	if err := b.ingest(ctx, g, plan); err != nil {
		return nil, err
	}

	Diagf("state=finalize")
	res.Raster = g.Finalize()
	res.Covered = g.Covered()
	for _, rep := range res.Tiles {
		res.Points += rep.Read
		res.Accepted += rep.Accepted
	}
	res.Elapsed = time.Since(start)
	Diagf("state=done points=%d accepted=%d covered=%d/%d elapsed=%s",
		res.Points, res.Accepted, res.Covered, g.W*g.H, res.Elapsed)
	return res, nil
}

// reconcileZones walks the selection in list order, applying the zone policy.
// It returns the tiles that should be ingested.
func (b *Builder) reconcileZones(selected []tiles.Tile, res *Result) ([]plannedTile, RunContext, error) {
	var rc RunContext
	plan := make([]plannedTile, 0, len(selected))
	for i, t := range selected {
		rep := &res.Tiles[i]
		rep.Dir, rep.CloudPath, rep.Zone = t.Dir, t.CloudPath, t.Zone

		var check ZoneCheck
		rc, check = EstablishZone(rc, t.Zone)
		rep.ZoneCheck = check

		switch check {
		case ZoneEstablished:
			Diagf("canonical zone %s from %s", rc.CanonicalZone, t.CloudPath)
		case ZoneUndeclared:
			Diagf("%s declares no zone", t.CloudPath)
		case ZoneMalformed:
			Opsf("WARNING: %s declares malformed UTM zone %q; treating it as undeclared", t.CloudPath, t.Zone)
		case ZoneMismatch:
			res.MixedZones = true
			switch b.opts.ZonePolicy {
			case ZoneFail:
				Opsf("ERROR: %s declares zone %s, run is in zone %s", t.CloudPath, t.Zone, rc.CanonicalZone)
				return nil, rc, fmt.Errorf("%w: %s is %s, expected %s", ErrZoneMismatch, t.CloudPath, t.Zone, rc.CanonicalZone)
			case ZoneSkip:
				Opsf("WARNING: skipping %s: zone %s differs from %s", t.CloudPath, t.Zone, rc.CanonicalZone)
				rep.Status = TileZoneSkipped
				continue
			default:
				Opsf("WARNING: %s declares zone %s, run is in zone %s; georeferencing of this tile is undefined",
					t.CloudPath, t.Zone, rc.CanonicalZone)
			}
		}
		plan = append(plan, plannedTile{tile: t, rep: rep})
	}
	return plan, rc, nil
}

func (b *Builder) ingest(ctx context.Context, g *grid.Grid, plan []plannedTile) error {
	if b.opts.Workers <= 1 {
		for _, p := range plan {
			if err := b.ingestOne(ctx, g, p); err != nil {
				return err
			}
		}
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(b.opts.Workers)
	for _, p := range plan {
		eg.Go(func() error {
			return b.ingestOne(egCtx, g, p)
		})
	}
	return eg.Wait()
}

func (b *Builder) ingestOne(ctx context.Context, g *grid.Grid, p plannedTile) error {
	Diagf("state=ingest_file %s", p.tile.CloudPath)
	err := ingestFile(ctx, b.fs, p.tile, g, b.opts.Channel, p.rep)
	r := p.rep
	Diagf("%s: status=%s read=%d accepted=%d out_of_bounds=%d non_finite=%d",
		p.tile.CloudPath, r.Status, r.Read, r.Accepted, r.OutOfBounds, r.NonFinite)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("ingest %s: %w", p.tile.CloudPath, err)
	}
	return err
}

// Run builds the DSM and writes it: raster first, then georeference.
func (b *Builder) Run(ctx context.Context, listPath, outPath string, rw RasterWriter, gw GeoreferenceWriter) (*Result, error) {
	res, err := b.Build(ctx, listPath)
	if err != nil {
		return nil, err
	}
	if res.Zone == "" {
		Opsf("WARNING: no tile declared a UTM zone; %s will carry no projected CRS", outPath)
	}
	if err := rw.WriteRaster(outPath, res.Raster); err != nil {
		return res, fmt.Errorf("write raster %s: %w", outPath, err)
	}
	if err := gw.WriteGeoreference(outPath, res.Zone, res.OriginX, res.OriginY, res.Resolution); err != nil {
		if rmErr := os.Remove(outPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			Opsf("WARNING: cannot remove %s: %v", outPath, rmErr)
		}
		return res, fmt.Errorf("georeference %s: %w", outPath, err)
	}
	Opsf("wrote %dx%d DSM to %s (zone %q, %d tiles, %d points accepted)",
		res.Raster.Width, res.Raster.Height, outPath, res.Zone, len(res.Tiles), res.Accepted)
	return res, nil
}
