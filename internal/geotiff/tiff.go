// Package geotiff writes single-band float32 GeoTIFF rasters and attaches
// UTM georeferencing to them. Only the little-endian baseline layout that
// plydsm itself produces is supported: one sample per pixel, one row per
// strip, no compression or Deflate.
package geotiff

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/banshee-data/plydsm/internal/grid"
)

var (
	// ErrNotTIFF is returned for files that are not little-endian TIFFs.
	ErrNotTIFF = errors.New("geotiff: not a little-endian TIFF")
	// ErrUnsupported is returned for TIFF layouts this package cannot read.
	ErrUnsupported = errors.New("geotiff: unsupported layout")
)

var le = binary.LittleEndian

// TIFF field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

// Baseline and extension tags.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

const (
	compressionNone     = 1
	compressionDeflate  = 8
	sampleFormatIEEE    = 3
	photometricMinBlack = 1

	// maxClassicSize leaves room for the IFD below the 4 GiB offset limit.
	maxClassicSize = math.MaxUint32 - 1<<20
)

func typeSize(typ uint16) int {
	switch typ {
	case typeASCII:
		return 1
	case typeShort:
		return 2
	case typeLong:
		return 4
	case typeDouble:
		return 8
	}
	return 0
}

// entry is one IFD field with its values already encoded.
type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(tag uint16, v ...uint16) entry {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		le.PutUint16(b[2*i:], x)
	}
	return entry{tag: tag, typ: typeShort, count: uint32(len(v)), data: b}
}

func longs(tag uint16, v ...uint32) entry {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		le.PutUint32(b[4*i:], x)
	}
	return entry{tag: tag, typ: typeLong, count: uint32(len(v)), data: b}
}

func doubles(tag uint16, v ...float64) entry {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		le.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return entry{tag: tag, typ: typeDouble, count: uint32(len(v)), data: b}
}

func ascii(tag uint16, s string) entry {
	b := append([]byte(s), 0)
	return entry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}

func (e entry) uints() []uint32 {
	out := make([]uint32, e.count)
	for i := range out {
		switch e.typ {
		case typeShort:
			out[i] = uint32(le.Uint16(e.data[2*i:]))
		case typeLong:
			out[i] = le.Uint32(e.data[4*i:])
		}
	}
	return out
}

func (e entry) float64s() []float64 {
	if e.typ != typeDouble {
		return nil
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(le.Uint64(e.data[8*i:]))
	}
	return out
}

// encodeIFD lays out entries as an IFD starting at file offset at, followed
// by the values that do not fit inline.
func encodeIFD(entries []entry, at uint32) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	head := 2 + 12*len(entries) + 4
	buf := make([]byte, head)
	le.PutUint16(buf, uint16(len(entries)))
	for i, e := range entries {
		p := buf[2+12*i:]
		le.PutUint16(p, e.tag)
		le.PutUint16(p[2:], e.typ)
		le.PutUint32(p[4:], e.count)
		if len(e.data) <= 4 {
			copy(p[8:12], e.data)
			continue
		}
		if len(buf)%2 == 1 {
			buf = append(buf, 0)
		}
		le.PutUint32(p[8:], at+uint32(len(buf)))
		buf = append(buf, e.data...)
	}
	return buf
}

// readIFD decodes the IFD at offset off.
func readIFD(r io.ReaderAt, off uint32) ([]entry, error) {
	var n [2]byte
	if _, err := r.ReadAt(n[:], int64(off)); err != nil {
		return nil, fmt.Errorf("read IFD count: %w", err)
	}
	count := int(le.Uint16(n[:]))
	raw := make([]byte, 12*count)
	if _, err := r.ReadAt(raw, int64(off)+2); err != nil {
		return nil, fmt.Errorf("read IFD: %w", err)
	}

	entries := make([]entry, 0, count)
	for i := 0; i < count; i++ {
		p := raw[12*i:]
		e := entry{tag: le.Uint16(p), typ: le.Uint16(p[2:]), count: le.Uint32(p[4:])}
		size := typeSize(e.typ) * int(e.count)
		if size == 0 {
			continue
		}
		if size <= 4 {
			e.data = append([]byte(nil), p[8:8+size]...)
		} else {
			e.data = make([]byte, size)
			if _, err := r.ReadAt(e.data, int64(le.Uint32(p[8:]))); err != nil {
				return nil, fmt.Errorf("read tag %d: %w", e.tag, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// readHeader checks the TIFF signature and returns the first IFD offset.
func readHeader(r io.ReaderAt) (uint32, error) {
	var h [8]byte
	if _, err := r.ReadAt(h[:], 0); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotTIFF, err)
	}
	if h[0] != 'I' || h[1] != 'I' || le.Uint16(h[2:]) != 42 {
		return 0, ErrNotTIFF
	}
	return le.Uint32(h[4:]), nil
}

func find(entries []entry, tag uint16) (entry, bool) {
	for _, e := range entries {
		if e.tag == tag {
			return e, true
		}
	}
	return entry{}, false
}

// WriteFloat32 writes r as an uncompressed float32 TIFF at path.
func WriteFloat32(path string, r *grid.Raster) error {
	return writeFloat32(path, r, false)
}

func writeFloat32(path string, r *grid.Raster, deflate bool) (err error) {
	if r.Width <= 0 || r.Height <= 0 || len(r.Data) != r.Width*r.Height {
		return fmt.Errorf("geotiff: raster %dx%d has %d samples", r.Width, r.Height, len(r.Data))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	hdr := []byte{'I', 'I', 42, 0, 0, 0, 0, 0}
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	offsets := make([]uint32, r.Height)
	counts := make([]uint32, r.Height)
	pos := uint32(len(hdr))
	row := make([]byte, 4*r.Width)
	var zbuf bytes.Buffer
	for y := 0; y < r.Height; y++ {
		for x, v := range r.Data[y*r.Width : (y+1)*r.Width] {
			le.PutUint32(row[4*x:], math.Float32bits(float32(v)))
		}
		strip := row
		if deflate {
			zbuf.Reset()
			zw := zlib.NewWriter(&zbuf)
			zw.Write(row)
			if err := zw.Close(); err != nil {
				return err
			}
			strip = zbuf.Bytes()
		}
		if int64(pos)+int64(len(strip)) > maxClassicSize {
			return fmt.Errorf("geotiff: %s exceeds the classic TIFF size limit", path)
		}
		if _, err := bw.Write(strip); err != nil {
			return err
		}
		offsets[y], counts[y] = pos, uint32(len(strip))
		pos += uint32(len(strip))
	}
	if pos%2 == 1 {
		bw.WriteByte(0)
		pos++
	}

	compression := uint16(compressionNone)
	if deflate {
		compression = compressionDeflate
	}
	ifd := encodeIFD([]entry{
		longs(tagImageWidth, uint32(r.Width)),
		longs(tagImageLength, uint32(r.Height)),
		shorts(tagBitsPerSample, 32),
		shorts(tagCompression, compression),
		shorts(tagPhotometric, photometricMinBlack),
		longs(tagStripOffsets, offsets...),
		shorts(tagSamplesPerPixel, 1),
		longs(tagRowsPerStrip, 1),
		longs(tagStripByteCounts, counts...),
		shorts(tagPlanarConfig, 1),
		shorts(tagSampleFormat, sampleFormatIEEE),
		ascii(tagGDALNoData, "nan"),
	}, pos)
	if _, err := bw.Write(ifd); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	var off [4]byte
	le.PutUint32(off[:], pos)
	_, err = f.WriteAt(off[:], 4)
	return err
}

// ReadFloat32 reads a raster written by WriteFloat32 or Writer.
func ReadFloat32(path string) (*grid.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	off, err := readHeader(f)
	if err != nil {
		return nil, err
	}
	entries, err := readIFD(f, off)
	if err != nil {
		return nil, err
	}

	get := func(tag uint16) ([]uint32, error) {
		e, ok := find(entries, tag)
		if !ok {
			return nil, fmt.Errorf("%w: missing tag %d", ErrUnsupported, tag)
		}
		return e.uints(), nil
	}
	width, err := get(tagImageWidth)
	if err != nil {
		return nil, err
	}
	height, err := get(tagImageLength)
	if err != nil {
		return nil, err
	}
	bits, err := get(tagBitsPerSample)
	if err != nil {
		return nil, err
	}
	format, err := get(tagSampleFormat)
	if err != nil {
		return nil, err
	}
	if bits[0] != 32 || format[0] != sampleFormatIEEE {
		return nil, fmt.Errorf("%w: %d-bit samples of format %d", ErrUnsupported, bits[0], format[0])
	}
	compression := uint32(compressionNone)
	if c, err := get(tagCompression); err == nil {
		compression = c[0]
	}
	if compression != compressionNone && compression != compressionDeflate {
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, compression)
	}
	offsets, err := get(tagStripOffsets)
	if err != nil {
		return nil, err
	}
	counts, err := get(tagStripByteCounts)
	if err != nil {
		return nil, err
	}
	if len(offsets) != len(counts) {
		return nil, fmt.Errorf("%w: %d strip offsets, %d byte counts", ErrUnsupported, len(offsets), len(counts))
	}

	w, h := int(width[0]), int(height[0])
	pixels := make([]byte, 0, 4*w*h)
	for i := range offsets {
		strip := make([]byte, counts[i])
		if _, err := f.ReadAt(strip, int64(offsets[i])); err != nil {
			return nil, fmt.Errorf("read strip %d: %w", i, err)
		}
		if compression == compressionDeflate {
			zr, err := zlib.NewReader(bytes.NewReader(strip))
			if err != nil {
				return nil, fmt.Errorf("inflate strip %d: %w", i, err)
			}
			strip, err = io.ReadAll(zr)
			if err != nil {
				return nil, fmt.Errorf("inflate strip %d: %w", i, err)
			}
		}
		pixels = append(pixels, strip...)
	}
	if len(pixels) < 4*w*h {
		return nil, fmt.Errorf("%w: %d pixel bytes for %dx%d", ErrUnsupported, len(pixels), w, h)
	}

	out := &grid.Raster{Width: w, Height: h, Data: make([]float64, w*h)}
	for i := range out.Data {
		out.Data[i] = float64(math.Float32frombits(le.Uint32(pixels[4*i:])))
	}
	return out, nil
}
