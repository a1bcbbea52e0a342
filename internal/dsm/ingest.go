package dsm

import (
	"context"
	"errors"
	"io"
	"math"

	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/grid"
	"github.com/banshee-data/plydsm/internal/ply"
	"github.com/banshee-data/plydsm/internal/tiles"
)

// TileStatus is how ingestion of one tile ended.
type TileStatus string

const (
	TileComplete    TileStatus = "complete"
	TileTruncated   TileStatus = "truncated"
	TileMalformed   TileStatus = "malformed"
	TileUnopenable  TileStatus = "unopenable"
	TileUnsupported TileStatus = "unsupported"
	TileShortRecord TileStatus = "short_record"
	TileZoneSkipped TileStatus = "zone_skipped"
	TileReadError   TileStatus = "read_error"
	TileCancelled   TileStatus = "cancelled"
)

// tileTraceEvery is the record interval between trace progress lines.
const tileTraceEvery = 1 << 20

// TileReport records what ingestion did with one selected tile.
type TileReport struct {
	Dir       string
	CloudPath string
	Zone      string
	ZoneCheck ZoneCheck
	Status    TileStatus
	// Err is the error that ended the tile early, "" when complete.
	Err string

	Read        int64
	Accepted    int64
	OutOfBounds int64
	NonFinite   int64
}

// channelValue extracts the averaged value from a record. Heights are used
// as-is; colour columns are truncated to an unsigned integer.
func channelValue(rec []float64, channel int) (float64, bool) {
	v := rec[channel]
	if channel == ChannelHeight {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	}
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0, true
	case v >= math.MaxUint32:
		return math.MaxUint32, true
	}
	return math.Trunc(v), true
}

// ingestFile streams one tile into g. Problems with the file end its
// ingestion and are recorded in the report; only cancellation is returned.
func ingestFile(ctx context.Context, fsys fsutil.FileSystem, t tiles.Tile, g *grid.Grid, channel int, rep *TileReport) error {
	f, err := ply.Open(fsys, t.CloudPath)
	if err != nil {
		rep.Status, rep.Err = TileUnopenable, err.Error()
		Opsf("WARNING: skipping %s: %v", t.CloudPath, err)
		return nil
	}
	defer f.Close()

	if n := len(f.Header.Properties); n < channel+1 {
		rep.Status = TileShortRecord
		rep.Err = "header has too few properties for the selected channel"
		Opsf("WARNING: skipping %s: %d properties, channel %d needs %d", t.CloudPath, n, channel, channel+1)
		return nil
	}

	r, err := f.Records()
	if err != nil {
		rep.Status, rep.Err = TileUnsupported, err.Error()
		Opsf("WARNING: skipping %s: %v", t.CloudPath, err)
		return nil
	}

	rec := make([]float64, len(f.Header.Properties))
	for {
		if rep.Read%4096 == 0 {
			if err := ctx.Err(); err != nil {
				rep.Status, rep.Err = TileCancelled, err.Error()
				return err
			}
		}
		err := r.Next(rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			switch {
			case errors.Is(err, ply.ErrTruncated):
				rep.Status = TileTruncated
			case errors.Is(err, ply.ErrMalformedRecord):
				rep.Status = TileMalformed
			default:
				rep.Status = TileReadError
			}
			rep.Err = err.Error()
			Opsf("WARNING: %s: stopping after %d records: %v", t.CloudPath, rep.Read, err)
			return nil
		}
		rep.Read++
		if rep.Read%tileTraceEvery == 0 {
			Tracef("%s: %d records read, %d accepted", t.CloudPath, rep.Read, rep.Accepted)
		}

		v, ok := channelValue(rec, channel)
		if !ok {
			rep.NonFinite++
			continue
		}
		if !g.AddPoint(rec[0], rec[1], v) {
			rep.OutOfBounds++
			continue
		}
		rep.Accepted++
	}
	rep.Status = TileComplete
	return nil
}
