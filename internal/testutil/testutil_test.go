package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/ply"
)

func TestMemoryTree(t *testing.T) {
	mfs, listPath := MemoryTree(t,
		Tile{Dir: "a", Extent: ExtentOf(0, 1, 2, 3), Zone: "31N", Points: [][]float64{{0.5, 2.5, 1, 0, 0, 0}}},
		Tile{Dir: "b", NoCloud: true},
	)

	list, err := mfs.ReadFile(listPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/a", "/data/b"}, strings.Fields(string(list)))

	ext, err := mfs.ReadFile("/data/a/plyextrema.txt")
	require.NoError(t, err)
	assert.Equal(t, "0 1 2 3\n", string(ext))

	h, err := ply.ReadHeader(mfs, "/data/a/cloud.ply")
	require.NoError(t, err)
	assert.Equal(t, "31N", h.Zone)
	assert.Equal(t, 1, h.VertexCount)

	assert.False(t, mfs.Exists("/data/b/cloud.ply"))
	assert.False(t, mfs.Exists("/data/b/plyextrema.txt"))
}

func TestDiskTree(t *testing.T) {
	listPath := DiskTree(t, Tile{Dir: "t0", ExtentText: "garbage", RawCloud: []byte("x")})

	list, err := os.ReadFile(listPath)
	require.NoError(t, err)
	dir := strings.TrimSpace(string(list))

	ext, err := os.ReadFile(filepath.Join(dir, "plyextrema.txt"))
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(ext))

	cloud, err := os.ReadFile(filepath.Join(dir, "cloud.ply"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(cloud))
}

func TestCopyTree(t *testing.T) {
	src, listPath := MemoryTree(t, Tile{Dir: "a", Extent: ExtentOf(0, 1, 0, 1), Points: [][]float64{{0.5, 0.5, 1, 0, 0, 0}}})
	dst := fsutil.NewMemoryFileSystem()
	CopyTree(t, src, dst)

	assert.Equal(t, src.Paths(), dst.Paths())
	want, err := src.ReadFile(listPath)
	require.NoError(t, err)
	got, err := dst.ReadFile(listPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, dst.Exists("/data/a"))
}
