// Command plydsm builds a Digital Surface Model GeoTIFF from a list of
// point-cloud tile directories.
//
//	plydsm [flags] resolution out_dsm list_of_tiles_txt xmin xmax ymin ymax
//	plydsm runs -db runs.db list | show <run-id> | migrate up|down|status
//
// Each tile directory holds cloud.ply and plyextrema.txt ("xmin xmax ymin
// ymax"). Tiles whose extent overlaps the requested box are averaged into a
// north-up float32 raster with NaN for empty cells.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/banshee-data/plydsm/internal/config"
	"github.com/banshee-data/plydsm/internal/dsm"
	"github.com/banshee-data/plydsm/internal/fsutil"
	"github.com/banshee-data/plydsm/internal/geotiff"
	"github.com/banshee-data/plydsm/internal/grid"
	"github.com/banshee-data/plydsm/internal/report"
	"github.com/banshee-data/plydsm/internal/storage/sqlite"
	"github.com/banshee-data/plydsm/internal/tiles"
	"github.com/banshee-data/plydsm/internal/version"
)

const usageLine = "usage: plydsm [flags] resolution out_dsm list_of_tiles_txt xmin xmax ymin ymax [flags]\n       plydsm runs -db runs.db list | show <run-id> | migrate up|down|status"

// errUsage marks argument errors that should print the usage text.
var errUsage = errors.New("bad arguments")

// invocation is a fully resolved command line.
type invocation struct {
	opts      dsm.Options
	cfg       *config.DSMConfig
	listPath  string
	outPath   string
	verbosity int
	version   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run executes plydsm and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "runs" {
		return runRuns(args[1:], stdout, stderr)
	}
	inv, err := parseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		if errors.Is(err, errUsage) || errors.Is(err, dsm.ErrInvalidConfig) {
			fmt.Fprintln(stderr, usageLine)
		}
		return 1
	}
	if inv.version {
		fmt.Fprintln(stderr, version.String("plydsm"))
		return 0
	}

	configureLogging(stderr, inv.verbosity)
	b := inv.opts.Box
	fmt.Fprintf(stderr, "xmin: %20f, xmax: %20f, ymin: %20f, ymax: %20f\n", b.XMin, b.XMax, b.YMin, b.YMax)

	if err := execute(ctx, inv); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		if errors.Is(err, tiles.ErrTileList) || errors.Is(err, dsm.ErrInvalidConfig) {
			fmt.Fprintln(stderr, usageLine)
		}
		return 1
	}
	return 0
}

func configureLogging(stderr io.Writer, verbosity int) {
	w := dsm.LogWriters{Ops: stderr}
	if verbosity >= 1 {
		w.Diag = stderr
	}
	if verbosity >= 2 {
		w.Trace = stderr
	}
	dsm.SetLogWriters(w)
	tiles.SetLogWriters(w.Ops, w.Diag)
}

func parseArgs(args []string, stderr io.Writer) (*invocation, error) {
	fs := flag.NewFlagSet("plydsm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usageLine)
		fs.PrintDefaults()
	}

	channel := fs.Int("c", 2, "record column to average: 2 height, 3-5 colour bands")
	configPath := fs.String("config", "", "JSON run configuration; flags override its values")
	workers := fs.Int("workers", 1, "tiles ingested concurrently")
	zonePolicy := fs.String("zone-policy", config.ZonePolicyWarn, "mismatched UTM zones: warn, skip or fail")
	timeout := fs.Duration("timeout", 0, "abort the run after this long (0 = no limit)")
	dbPath := fs.String("db", "", "record the run in this SQLite catalog")
	preview := fs.String("preview", "", "write a PNG heat map preview here")
	histogram := fs.String("histogram", "", "write an HTML histogram of cell values here")
	bins := fs.Int("bins", 50, "histogram bins")
	deflate := fs.Bool("deflate", false, "Deflate-compress raster strips")
	verbose := fs.Bool("v", false, "log per-tile diagnostics")
	veryVerbose := fs.Bool("vv", false, "also log record-level progress")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(flagsFirst(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	inv := &invocation{version: *showVersion}
	if inv.version {
		return inv, nil
	}

	cfg := config.DefaultDSMConfig()
	if *configPath != "" {
		loaded, err := config.LoadDSMConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", dsm.ErrInvalidConfig, err)
		}
		cfg = loaded
	}

	// Explicit flags win over the config file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "c":
			cfg.Channel = channel
		case "workers":
			cfg.Workers = workers
		case "zone-policy":
			cfg.ZonePolicy = zonePolicy
		case "timeout":
			s := timeout.String()
			cfg.Timeout = &s
		case "db":
			cfg.DBPath = dbPath
		case "preview":
			cfg.PreviewPath = preview
		case "histogram":
			cfg.HistogramPath = histogram
		case "bins":
			cfg.HistogramBins = bins
		case "deflate":
			cfg.Compressed = deflate
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", dsm.ErrInvalidConfig, err)
	}
	inv.cfg = cfg

	switch {
	case *veryVerbose:
		inv.verbosity = 2
	case *verbose:
		inv.verbosity = 1
	}

	pos := fs.Args()
	if len(pos) != 7 {
		return nil, fmt.Errorf("%w: want 7 positional arguments, got %d", errUsage, len(pos))
	}
	nums := make([]float64, 0, 5)
	for _, i := range []int{0, 3, 4, 5, 6} {
		v, err := strconv.ParseFloat(pos[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", errUsage, pos[i])
		}
		nums = append(nums, v)
	}
	inv.outPath, inv.listPath = pos[1], pos[2]

	policy, err := dsm.ParseZonePolicy(cfg.GetZonePolicy())
	if err != nil {
		return nil, err
	}
	inv.opts = dsm.Options{
		Box:        grid.Box{XMin: nums[1], XMax: nums[2], YMin: nums[3], YMax: nums[4]},
		Resolution: nums[0],
		Channel:    cfg.GetChannel(),
		Workers:    cfg.GetWorkers(),
		ZonePolicy: policy,
		ExtentFile: cfg.GetExtentFile(),
		CloudFile:  cfg.GetCloudFile(),
	}
	if err := inv.opts.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}

// flagsFirst moves flags that follow positional arguments to the front so
// "-c 3" is accepted anywhere on the command line. Only names defined on fs
// count as flags, which keeps negative coordinates such as "-10" positional.
// Everything after "--" is left untouched.
func flagsFirst(fs *flag.FlagSet, args []string) []string {
	var flags, pos []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			pos = append(pos, args[i:]...)
			break
		}
		name := strings.TrimLeft(a, "-")
		if !strings.HasPrefix(a, "-") || name == "" {
			pos = append(pos, a)
			continue
		}
		name, _, hasValue := strings.Cut(name, "=")
		f := fs.Lookup(name)
		if f == nil {
			if _, err := strconv.ParseFloat(a, 64); err == nil {
				pos = append(pos, a)
				continue
			}
			// Unknown flag: let Parse report it.
			flags = append(flags, a)
			continue
		}
		flags = append(flags, a)
		if bf, ok := f.Value.(interface{ IsBoolFlag() bool }); hasValue || (ok && bf.IsBoolFlag()) {
			continue
		}
		if i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}
	return append(flags, pos...)
}

// execute runs the build and writes every requested output.
func execute(ctx context.Context, inv *invocation) error {
	cfg := inv.cfg
	if d := cfg.GetTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	builder, err := dsm.NewBuilder(inv.opts, fsutil.OSFileSystem{})
	if err != nil {
		return err
	}

	var catalog *runCatalog
	if p := cfg.GetDBPath(); p != "" {
		catalog, err = openCatalog(p, inv)
		if err != nil {
			dsm.Opsf("WARNING: catalog: %v", err)
		} else {
			defer catalog.Close()
		}
	}

	res, err := builder.Run(ctx, inv.listPath, inv.outPath, geotiff.Writer{Deflate: cfg.GetCompressed()}, geotiff.Writer{})
	if catalog != nil {
		catalog.finish(res, err)
	}
	if err != nil {
		return err
	}

	summary := report.Summarize(res.Raster)
	dsm.Opsf("%s: %s (%.1fs)", inv.outPath, summary, res.Elapsed.Seconds())

	title := filepath.Base(inv.outPath)
	if p := cfg.GetPreviewPath(); p != "" {
		frame := report.Frame{OriginX: res.OriginX, OriginY: res.OriginY, Resolution: res.Resolution}
		if err := report.WritePreviewPNG(p, res.Raster, frame, title); err != nil {
			dsm.Opsf("WARNING: preview not written: %v", err)
		}
	}
	if p := cfg.GetHistogramPath(); p != "" {
		if err := writeHistogram(p, res, cfg.GetHistogramBins(), title); err != nil {
			dsm.Opsf("WARNING: histogram not written: %v", err)
		}
	}
	return nil
}

func writeHistogram(path string, res *dsm.Result, bins int, title string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return report.WriteHistogramHTML(f, res.Raster, bins, title)
}

// runCatalog records one run in the SQLite catalog. Catalog failures are
// logged and never fail the run.
type runCatalog struct {
	db    *sqlite.DB
	store *sqlite.RunStore
	run   *sqlite.Run
}

func openCatalog(path string, inv *invocation) (*runCatalog, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	c := &runCatalog{db: db, store: sqlite.NewRunStore(db.DB)}
	b := inv.opts.Box
	c.run = &sqlite.Run{
		ListPath:   inv.listPath,
		OutputPath: inv.outPath,
		XMin:       b.XMin,
		XMax:       b.XMax,
		YMin:       b.YMin,
		YMax:       b.YMax,
		Resolution: inv.opts.Resolution,
		Channel:    inv.opts.Channel,
		Workers:    inv.opts.Workers,
		ZonePolicy: inv.opts.ZonePolicy.String(),
	}
	if err := c.store.Start(c.run); err != nil {
		db.Close()
		return nil, err
	}
	dsm.Diagf("catalog run %s in %s", c.run.RunID, path)
	return c, nil
}

func (c *runCatalog) finish(res *dsm.Result, runErr error) {
	status, msg := sqlite.StatusComplete, ""
	if runErr != nil {
		status, msg = sqlite.StatusFailed, runErr.Error()
	}

	var stats sqlite.RunStats
	if res != nil {
		stats = sqlite.RunStats{
			Zone:           res.Zone,
			TilesListed:    res.Selection.Listed,
			TilesSelected:  res.Selection.Selected,
			PointsRead:     res.Points,
			PointsAccepted: res.Accepted,
			CellsCovered:   res.Covered,
		}
		if res.Raster != nil {
			stats.Width, stats.Height = res.Raster.Width, res.Raster.Height
		}
		for i, t := range res.Tiles {
			rec := sqlite.TileRecord{
				Seq:         i,
				Dir:         t.Dir,
				CloudPath:   t.CloudPath,
				Zone:        t.Zone,
				ZoneCheck:   t.ZoneCheck.String(),
				Status:      string(t.Status),
				Error:       t.Err,
				PointsRead:  t.Read,
				Accepted:    t.Accepted,
				OutOfBounds: t.OutOfBounds,
				NonFinite:   t.NonFinite,
			}
			if err := c.store.RecordTile(c.run.RunID, rec); err != nil {
				dsm.Opsf("WARNING: catalog: %v", err)
			}
		}
	}
	if err := c.store.Complete(c.run.RunID, status, stats, msg); err != nil {
		dsm.Opsf("WARNING: catalog: %v", err)
	}
}

func (c *runCatalog) Close() error { return c.db.Close() }
