// Package testutil builds synthetic tile trees shared by the package tests.
//
// A tile tree is a set of tile directories, each holding an extent sidecar and
// a PLY cloud, plus a list file naming the directories in order.
package testutil

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/ply"
)

// XYZRGB is the default layout: double x/y, float z and three uchar bands.
var XYZRGB = []ply.Property{
	{Name: "x", Kind: ply.KindFloat64},
	{Name: "y", Kind: ply.KindFloat64},
	{Name: "z", Kind: ply.KindFloat32},
	{Name: "red", Kind: ply.KindUInt8},
	{Name: "green", Kind: ply.KindUInt8},
	{Name: "blue", Kind: ply.KindUInt8},
}

// Tile describes one synthetic tile directory.
type Tile struct {
	Dir string
	// Extent is written as the sidecar unless ExtentText is set. A nil
	// Extent with empty ExtentText means no sidecar at all.
	Extent     *[4]float64
	ExtentText string
	Zone       string
	Encoding   ply.Encoding
	// Properties defaults to XYZRGB.
	Properties []ply.Property
	Points     [][]float64
	// NoCloud skips writing the PLY file.
	NoCloud bool
	// RawCloud replaces the encoded cloud bytes when non-nil.
	RawCloud []byte
}

// ExtentOf is a convenience for building Tile.Extent.
func ExtentOf(xmin, xmax, ymin, ymax float64) *[4]float64 {
	return &[4]float64{xmin, xmax, ymin, ymax}
}

// EncodeCloud renders points with the given layout.
func EncodeCloud(t testing.TB, enc ply.Encoding, zone string, props []ply.Property, points [][]float64) []byte {
	t.Helper()
	if props == nil {
		props = XYZRGB
	}
	h := &ply.Header{Encoding: enc, Zone: zone, Properties: props, VertexCount: len(points)}
	var buf bytes.Buffer
	w, err := ply.NewWriter(&buf, h)
	if err != nil {
		t.Fatalf("new ply writer: %v", err)
	}
	if err := w.WriteHeader(); err != nil {
		t.Fatalf("write ply header: %v", err)
	}
	for _, p := range points {
		if err := w.WriteRecord(p); err != nil {
			t.Fatalf("write ply record: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush ply: %v", err)
	}
	return buf.Bytes()
}

// memoryTree renders the tiles and list under root in a fresh
// MemoryFileSystem.
func memoryTree(t testing.TB, root string, tiles []Tile) (*fsutil.MemoryFileSystem, string) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	var list strings.Builder
	for _, tile := range tiles {
		dir := filepath.Join(root, tile.Dir)
		fmt.Fprintln(&list, dir)

		switch {
		case tile.ExtentText != "":
			mfs.WriteFile(filepath.Join(dir, "plyextrema.txt"), []byte(tile.ExtentText))
		case tile.Extent != nil:
			e := tile.Extent
			mfs.WriteFile(filepath.Join(dir, "plyextrema.txt"), []byte(fmt.Sprintf("%v %v %v %v\n", e[0], e[1], e[2], e[3])))
		}

		switch {
		case tile.RawCloud != nil:
			mfs.WriteFile(filepath.Join(dir, "cloud.ply"), tile.RawCloud)
		case !tile.NoCloud:
			mfs.WriteFile(filepath.Join(dir, "cloud.ply"), EncodeCloud(t, tile.Encoding, tile.Zone, tile.Properties, tile.Points))
		}
	}
	listPath := filepath.Join(root, "tiles.txt")
	mfs.WriteFile(listPath, []byte(list.String()))
	return mfs, listPath
}

// MemoryTree writes tiles under /data in a fresh MemoryFileSystem and returns
// it with the path of the tile list.
func MemoryTree(t testing.TB, tiles ...Tile) (*fsutil.MemoryFileSystem, string) {
	t.Helper()
	return memoryTree(t, "/data", tiles)
}

// CopyTree writes every file of src into dst at the same path.
func CopyTree(t testing.TB, src *fsutil.MemoryFileSystem, dst fsutil.FileSystem) {
	t.Helper()
	for _, p := range src.Paths() {
		data, err := src.ReadFile(p)
		if err != nil {
			t.Fatalf("read %s: %v", p, err)
		}
		if err := dst.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", filepath.Dir(p), err)
		}
		w, err := dst.Create(p)
		if err != nil {
			t.Fatalf("create %s: %v", p, err)
		}
		_, err = w.Write(data)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

// DiskTree writes tiles under a fresh temporary directory and returns the
// path of the tile list.
func DiskTree(t testing.TB, tiles ...Tile) string {
	t.Helper()
	mfs, listPath := memoryTree(t, t.TempDir(), tiles)
	CopyTree(t, mfs, fsutil.OSFileSystem{})
	return listPath
}
