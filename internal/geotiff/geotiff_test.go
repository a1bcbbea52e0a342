package geotiff

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plydsm/internal/grid"
)

func sampleRaster() *grid.Raster {
	r := &grid.Raster{Width: 5, Height: 3, Data: make([]float64, 15)}
	for i := range r.Data {
		r.Data[i] = float64(i) * 1.5
	}
	r.Data[7] = math.NaN()
	return r
}

func TestEPSGForZone(t *testing.T) {
	tests := []struct {
		zone string
		want int
	}{
		{"31N", 32631},
		{"31S", 32731},
		{"1N", 32601},
		{"60s", 32760},
		{" 05N ", 32605},
	}
	for _, tt := range tests {
		got, err := EPSGForZone(tt.zone)
		require.NoError(t, err, tt.zone)
		assert.Equal(t, tt.want, got, tt.zone)
	}

	for _, bad := range []string{"", "N", "31", "31X", "0N", "61N", "AAN"} {
		_, err := EPSGForZone(bad)
		assert.ErrorIs(t, err, ErrInvalidZone, bad)
	}
}

func TestWriteFloat32_RoundTrip(t *testing.T) {
	for _, deflate := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "dsm.tif")
		want := sampleRaster()

		require.NoError(t, Writer{Deflate: deflate}.WriteRaster(path, want))
		got, err := ReadFloat32(path)
		require.NoError(t, err)

		if diff := cmp.Diff(want, got, cmpopts.EquateNaNs()); diff != "" {
			t.Errorf("deflate=%v round trip mismatch (-want +got):\n%s", deflate, diff)
		}
	}
}

func TestWriteFloat32_RejectsBadRaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tif")
	err := WriteFloat32(path, &grid.Raster{Width: 2, Height: 2, Data: []float64{1}})
	assert.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSetGeoreference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsm.tif")
	r := sampleRaster()
	require.NoError(t, WriteFloat32(path, r))

	require.NoError(t, SetGeoreference(path, "31N", 500000, 4100100, 0.5))

	g, err := ReadGeoreference(path)
	require.NoError(t, err)
	assert.Equal(t, Georeference{
		EPSG:       32631,
		ModelType:  modelTypeProjected,
		RasterType: rasterPixelIsArea,
		PixelScale: [3]float64{0.5, 0.5, 0},
		Tiepoint:   [6]float64{0, 0, 0, 500000, 4100100, 0},
		NoData:     "nan",
	}, g)
	assert.Equal(t, 500000.0, g.OriginX())
	assert.Equal(t, 4100100.0, g.OriginY())

	// Pixels are untouched by the appended IFD.
	got, err := ReadFloat32(path)
	require.NoError(t, err)
	if diff := cmp.Diff(r, got, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("pixels changed (-want +got):\n%s", diff)
	}

	// Setting again replaces rather than duplicates the tags.
	require.NoError(t, SetGeoreference(path, "12S", 1, 2, 3))
	g, err = ReadGeoreference(path)
	require.NoError(t, err)
	assert.Equal(t, 32712, g.EPSG)
	assert.Equal(t, [3]float64{3, 3, 0}, g.PixelScale)
}

func TestSetGeoreference_NoZone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsm.tif")
	require.NoError(t, WriteFloat32(path, sampleRaster()))
	require.NoError(t, Writer{}.WriteGeoreference(path, "", 10, 20, 1))

	g, err := ReadGeoreference(path)
	require.NoError(t, err)
	assert.Zero(t, g.EPSG)
	assert.Equal(t, modelTypeProjected, g.ModelType)
	assert.Equal(t, 20.0, g.OriginY())
}

func TestSetGeoreference_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dsm.tif")
	require.NoError(t, WriteFloat32(path, sampleRaster()))
	assert.ErrorIs(t, SetGeoreference(path, "99Q", 0, 0, 1), ErrInvalidZone)

	notTIFF := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(notTIFF, []byte("hello world"), 0o644))
	assert.ErrorIs(t, SetGeoreference(notTIFF, "31N", 0, 0, 1), ErrNotTIFF)
	_, err := ReadFloat32(notTIFF)
	assert.ErrorIs(t, err, ErrNotTIFF)

	assert.Error(t, SetGeoreference(filepath.Join(dir, "missing.tif"), "31N", 0, 0, 1))
}

func TestEncodeIFD_AlignsOverflowValues(t *testing.T) {
	buf := encodeIFD([]entry{
		ascii(tagGDALNoData, "abcdefg"),
		doubles(tagModelPixelScale, 1, 2, 3),
	}, 100)

	// 2 + 2*12 + 4 = 30 bytes of IFD, then 24 bytes of doubles, then 8 of ascii.
	require.Len(t, buf, 30+24+8)
	assert.Equal(t, uint16(tagModelPixelScale), le.Uint16(buf[2:]), "entries sorted by tag")
	assert.Equal(t, uint32(100+30), le.Uint32(buf[2+8:]))
	assert.Equal(t, uint32(100+54), le.Uint32(buf[2+12+8:]))
	assert.Equal(t, "abcdefg\x00", string(buf[54:]))
}
