package geotiff

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/plydsm/internal/grid"
)

// ErrInvalidZone is returned for a zone that is not "<1-60><N|S>".
var ErrInvalidZone = errors.New("geotiff: invalid UTM zone")

// GeoKey IDs and values.
const (
	keyGTModelType      = 1024
	keyGTRasterType     = 1025
	keyProjectedCSType  = 3072
	modelTypeProjected  = 1
	rasterPixelIsArea   = 1
	geoKeyDirectoryVer  = 1
	geoKeyRevision      = 1
	geoKeyMinorRevision = 0
)

// EPSGForZone maps a WGS84 UTM zone like "31N" to its EPSG code (32631).
// Southern zones map to 327zz.
func EPSGForZone(zone string) (int, error) {
	z := strings.TrimSpace(zone)
	if len(z) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidZone, zone)
	}
	n, err := strconv.Atoi(z[:len(z)-1])
	if err != nil || n < 1 || n > 60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidZone, zone)
	}
	switch z[len(z)-1] {
	case 'N', 'n':
		return 32600 + n, nil
	case 'S', 's':
		return 32700 + n, nil
	}
	return 0, fmt.Errorf("%w: %q has no hemisphere", ErrInvalidZone, zone)
}

// Georeference is the georeferencing found in a TIFF.
type Georeference struct {
	// EPSG is the projected CRS code, 0 when absent.
	EPSG       int
	ModelType  int
	RasterType int
	PixelScale [3]float64
	Tiepoint   [6]float64
	NoData     string
}

// OriginX returns the world X of the top-left corner.
func (g Georeference) OriginX() float64 { return g.Tiepoint[3] }

// OriginY returns the world Y of the top-left corner.
func (g Georeference) OriginY() float64 { return g.Tiepoint[4] }

// SetGeoreference attaches pixel scale (scale, scale, 0), tie point
// (0, 0, 0, xoff, yoff, 0) and a GeoKey directory for zone to the TIFF at
// path. A new IFD is appended and the header repointed at it; the old IFD is
// left in place unreferenced. An empty zone omits ProjectedCSType.
func SetGeoreference(path, zone string, xoff, yoff, scale float64) error {
	keys := []uint16{
		geoKeyDirectoryVer, geoKeyRevision, geoKeyMinorRevision, 0,
		keyGTModelType, 0, 1, modelTypeProjected,
		keyGTRasterType, 0, 1, rasterPixelIsArea,
	}
	if zone != "" {
		epsg, err := EPSGForZone(zone)
		if err != nil {
			return err
		}
		keys = append(keys, keyProjectedCSType, 0, 1, uint16(epsg))
	}
	keys[3] = uint16(len(keys)/4 - 1)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	off, err := readHeader(f)
	if err != nil {
		return err
	}
	entries, err := readIFD(f, off)
	if err != nil {
		return err
	}

	kept := entries[:0]
	for _, e := range entries {
		switch e.tag {
		case tagModelPixelScale, tagModelTiepoint, tagGeoKeyDirectory:
			continue
		}
		kept = append(kept, e)
	}
	kept = append(kept,
		doubles(tagModelPixelScale, scale, scale, 0),
		doubles(tagModelTiepoint, 0, 0, 0, xoff, yoff, 0),
		shorts(tagGeoKeyDirectory, keys...),
	)

	st, err := f.Stat()
	if err != nil {
		return err
	}
	at := st.Size()
	if at%2 == 1 {
		if _, err := f.WriteAt([]byte{0}, at); err != nil {
			return err
		}
		at++
	}
	if at > maxClassicSize {
		return fmt.Errorf("geotiff: %s exceeds the classic TIFF size limit", path)
	}
	if _, err := f.WriteAt(encodeIFD(kept, uint32(at)), at); err != nil {
		return err
	}
	var hdr [4]byte
	le.PutUint32(hdr[:], uint32(at))
	if _, err := f.WriteAt(hdr[:], 4); err != nil {
		return err
	}
	return f.Close()
}

// ReadGeoreference reads back what SetGeoreference wrote.
func ReadGeoreference(path string) (Georeference, error) {
	var g Georeference
	f, err := os.Open(path)
	if err != nil {
		return g, err
	}
	defer f.Close()

	off, err := readHeader(f)
	if err != nil {
		return g, err
	}
	entries, err := readIFD(f, off)
	if err != nil {
		return g, err
	}

	if e, ok := find(entries, tagModelPixelScale); ok {
		copy(g.PixelScale[:], e.float64s())
	}
	if e, ok := find(entries, tagModelTiepoint); ok {
		copy(g.Tiepoint[:], e.float64s())
	}
	if e, ok := find(entries, tagGDALNoData); ok {
		g.NoData = strings.TrimRight(string(e.data), "\x00")
	}
	if e, ok := find(entries, tagGeoKeyDirectory); ok {
		keys := e.uints()
		for i := 4; i+3 < len(keys); i += 4 {
			if keys[i+1] != 0 {
				continue
			}
			switch keys[i] {
			case keyGTModelType:
				g.ModelType = int(keys[i+3])
			case keyGTRasterType:
				g.RasterType = int(keys[i+3])
			case keyProjectedCSType:
				g.EPSG = int(keys[i+3])
			}
		}
	}
	return g, nil
}

// Writer writes DSM rasters as GeoTIFF files.
type Writer struct {
	// Deflate compresses each strip with zlib.
	Deflate bool
}

// WriteRaster writes r to path.
func (w Writer) WriteRaster(path string, r *grid.Raster) error {
	return writeFloat32(path, r, w.Deflate)
}

// WriteGeoreference attaches georeferencing to the raster at path.
func (w Writer) WriteGeoreference(path, zone string, xoff, yoff, scale float64) error {
	return SetGeoreference(path, zone, xoff, yoff, scale)
}
