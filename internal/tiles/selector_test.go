package tiles

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/grid"
	"github.com/banshee-data/plydsm/internal/ply"
	"github.com/banshee-data/plydsm/internal/testutil"
)

var target = grid.Box{XMin: 100, XMax: 200, YMin: 1000, YMax: 1100}

func TestExtent_Intersects(t *testing.T) {
	tests := []struct {
		name string
		ext  Extent
		want bool
	}{
		{"inside", Extent{120, 130, 1010, 1020}, true},
		{"covers target", Extent{0, 300, 900, 1200}, true},
		{"touches left edge", Extent{50, 100, 1010, 1020}, true},
		{"touches top edge", Extent{120, 130, 1100, 1200}, true},
		{"left of target", Extent{50, 99.9, 1010, 1020}, false},
		{"right of target", Extent{200.1, 250, 1010, 1020}, false},
		{"below target", Extent{120, 130, 900, 999}, false},
		{"above target", Extent{120, 130, 1100.5, 1200}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ext.Intersects(target))
		})
	}
}

func TestParseExtent(t *testing.T) {
	e, err := ParseExtent([]byte("1.5 2.5\n-3 4e2 trailing"))
	require.NoError(t, err)
	assert.Equal(t, Extent{XMin: 1.5, XMax: 2.5, YMin: -3, YMax: 400}, e)

	for _, bad := range []string{"", "1 2 3", "1 2 x 4", "1 2 NaN 4"} {
		_, err := ParseExtent([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformedExtent, bad)
	}
}

func TestSelect(t *testing.T) {
	pt := [][]float64{{150, 1050, 10, 0, 0, 0}}
	mfs, listPath := testutil.MemoryTree(t,
		testutil.Tile{Dir: "a", Extent: testutil.ExtentOf(90, 160, 990, 1060), Zone: "31N", Points: pt},
		testutil.Tile{Dir: "far", Extent: testutil.ExtentOf(0, 99, 0, 10), Points: pt},
		testutil.Tile{Dir: "nosidecar", Points: pt},
		testutil.Tile{Dir: "badsidecar", ExtentText: "1 2", Points: pt},
		testutil.Tile{Dir: "nocloud", Extent: testutil.ExtentOf(100, 200, 1000, 1100), NoCloud: true},
		testutil.Tile{Dir: "badcloud", Extent: testutil.ExtentOf(100, 200, 1000, 1100), RawCloud: []byte("junk")},
		testutil.Tile{Dir: "b", Extent: testutil.ExtentOf(199, 300, 1099, 1200), Zone: "31N", Encoding: ply.ASCII, Points: pt},
	)

	var ops bytes.Buffer
	SetLogWriters(&ops, nil)
	t.Cleanup(func() { SetLogWriters(nil, nil) })

	got, sum, err := NewSelector(mfs).Select(context.Background(), listPath, target)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "/data/a", got[0].Dir)
	assert.Equal(t, "/data/a/cloud.ply", got[0].CloudPath)
	assert.Equal(t, "31N", got[0].Zone)
	assert.Equal(t, "/data/b", got[1].Dir)
	assert.Equal(t, Extent{199, 300, 1099, 1200}, got[1].Extent)

	assert.Equal(t, Summary{Listed: 7, MissingExtent: 2, Disjoint: 1, Unopenable: 2, Selected: 2}, sum)
	assert.Equal(t, 4, strings.Count(ops.String(), "WARNING: skipping tile"))
}

func TestSelect_BlankLinesAndCRLF(t *testing.T) {
	mfs, _ := testutil.MemoryTree(t,
		testutil.Tile{Dir: "a", Extent: testutil.ExtentOf(100, 200, 1000, 1100)},
	)
	mfs.WriteFile("/data/list.txt", []byte("\n/data/a\r\n\n   \n"))

	got, sum, err := NewSelector(mfs).Select(context.Background(), "/data/list.txt", target)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, sum.Listed)
}

func TestSelect_UnreadableList(t *testing.T) {
	_, _, err := NewSelector(fsutil.NewMemoryFileSystem()).Select(context.Background(), "/nope.txt", target)
	assert.ErrorIs(t, err, ErrTileList)
}

func TestSelect_CustomFileNames(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("/t/bounds.txt", []byte("100 200 1000 1100"))
	mfs.WriteFile("/t/points.ply", testutil.EncodeCloud(t, ply.BinaryLittleEndian, "", nil, nil))
	mfs.WriteFile("/list", []byte("/t\n"))

	s := &Selector{FS: mfs, ExtentFile: "bounds.txt", CloudFile: "points.ply"}
	got, _, err := s.Select(context.Background(), "/list", target)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/t/points.ply", got[0].CloudPath)
}

func TestSelect_Cancelled(t *testing.T) {
	mfs, listPath := testutil.MemoryTree(t,
		testutil.Tile{Dir: "a", Extent: testutil.ExtentOf(100, 200, 1000, 1100)},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewSelector(mfs).Select(ctx, listPath, target)
	assert.ErrorIs(t, err, context.Canceled)
}
