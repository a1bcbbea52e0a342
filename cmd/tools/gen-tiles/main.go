// Command gen-tiles generates a synthetic tile tree (PLY clouds, extent
// sidecars and a tile list) for trying plydsm end to end.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/ply"
)

type params struct {
	out      string
	nx, ny   int
	size     float64
	points   int
	x0, y0   float64
	zone     string
	encoding ply.Encoding
	seed     int64
	force    bool
}

func main() {
	var p params
	flag.StringVar(&p.out, "o", "tiles", "output directory")
	flag.IntVar(&p.nx, "nx", 4, "tiles along x")
	flag.IntVar(&p.ny, "ny", 4, "tiles along y")
	flag.Float64Var(&p.size, "size", 100, "tile side in metres")
	flag.IntVar(&p.points, "n", 20000, "points per tile")
	flag.Float64Var(&p.x0, "x0", 500000, "easting of the south-west corner")
	flag.Float64Var(&p.y0, "y0", 4500000, "northing of the south-west corner")
	flag.StringVar(&p.zone, "zone", "31N", "UTM zone written to each header (empty for none)")
	ascii := flag.Bool("ascii", false, "write ASCII PLY instead of binary")
	flag.Int64Var(&p.seed, "seed", 1, "random seed")
	flag.BoolVar(&p.force, "force", false, "overwrite an existing tile list")
	flag.Parse()

	if *ascii {
		p.encoding = ply.ASCII
	}
	list, err := generate(fsutil.OSFileSystem{}, p)
	if err != nil {
		log.Fatalf("gen-tiles: %v", err)
	}
	log.Printf("✓ Created %d tiles, list: %s", p.nx*p.ny, list)
	log.Printf("  bbox: %.1f %.1f %.1f %.1f", p.x0, p.x0+float64(p.nx)*p.size, p.y0, p.y0+float64(p.ny)*p.size)
}

// surface is a smooth terrain with a few box-shaped buildings.
func surface(x, y float64) float64 {
	z := 120 + 8*math.Sin(x/37)*math.Cos(y/53)
	if math.Mod(x, 60) < 15 && math.Mod(y, 80) < 20 {
		z += 12
	}
	return z
}

// generate writes the tree under p.out and returns the list path. An existing
// list is only replaced when p.force is set.
func generate(fsys fsutil.FileSystem, p params) (string, error) {
	listPath := filepath.Join(p.out, "tiles.txt")
	if fsys.Exists(listPath) && !p.force {
		return "", fmt.Errorf("%s exists (use -force to overwrite)", listPath)
	}
	if err := fsys.MkdirAll(p.out, 0o755); err != nil {
		return "", err
	}
	rng := rand.New(rand.NewSource(p.seed))

	lf, err := fsys.Create(listPath)
	if err != nil {
		return "", err
	}
	defer lf.Close()

	for i := 0; i < p.nx; i++ {
		for j := 0; j < p.ny; j++ {
			dir, err := filepath.Abs(filepath.Join(p.out, fmt.Sprintf("tile_%03d_%03d", i, j)))
			if err != nil {
				return "", err
			}
			xmin, ymin := p.x0+float64(i)*p.size, p.y0+float64(j)*p.size
			if err := writeTile(fsys, dir, p, rng, xmin, ymin); err != nil {
				return "", fmt.Errorf("tile %s: %w", dir, err)
			}
			fmt.Fprintln(lf, dir)
		}
	}
	return listPath, lf.Close()
}

func writeTile(fsys fsutil.FileSystem, dir string, p params, rng *rand.Rand, xmin, ymin float64) error {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	h := &ply.Header{
		Encoding: p.encoding,
		Zone:     p.zone,
		Properties: []ply.Property{
			{Name: "x", Kind: ply.KindFloat64},
			{Name: "y", Kind: ply.KindFloat64},
			{Name: "z", Kind: ply.KindFloat32},
			{Name: "red", Kind: ply.KindUInt8},
			{Name: "green", Kind: ply.KindUInt8},
			{Name: "blue", Kind: ply.KindUInt8},
		},
		VertexCount: p.points,
	}
	f, err := fsys.Create(filepath.Join(dir, "cloud.ply"))
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := ply.NewWriter(f, h)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}

	ext := [4]float64{math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)}
	rec := make([]float64, 6)
	for k := 0; k < p.points; k++ {
		x := xmin + rng.Float64()*p.size
		y := ymin + rng.Float64()*p.size
		z := surface(x, y) + rng.NormFloat64()*0.05
		shade := 100 + 10*(z-120)
		rec[0], rec[1], rec[2] = x, y, z
		rec[3], rec[4], rec[5] = shade, shade*0.8, 255-shade
		if err := w.WriteRecord(rec); err != nil {
			return err
		}
		ext[0], ext[1] = math.Min(ext[0], x), math.Max(ext[1], x)
		ext[2], ext[3] = math.Min(ext[2], y), math.Max(ext[3], y)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if p.points == 0 {
		ext = [4]float64{xmin, xmin + p.size, ymin, ymin + p.size}
	}
	sf, err := fsys.Create(filepath.Join(dir, "plyextrema.txt"))
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(sf, "%.3f %.3f %.3f %.3f\n", ext[0], ext[1], ext[2], ext[3]); err != nil {
		sf.Close()
		return err
	}
	return sf.Close()
}
