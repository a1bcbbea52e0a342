package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/plydsm/internal/storage/sqlite"
)

const runsUsage = "usage: plydsm runs -db runs.db [-n N] list | show <run-id> | migrate up|down|status"

// runRuns implements the "runs" subcommand, which reads the run catalog
// written by -db.
func runRuns(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("plydsm runs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, runsUsage)
		fs.PrintDefaults()
	}
	dbPath := fs.String("db", "", "run catalog to read")
	limit := fs.Int("n", 20, "runs shown by list")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	rest := fs.Args()
	if *dbPath == "" || len(rest) == 0 {
		fmt.Fprintln(stderr, runsUsage)
		return 1
	}

	db, err := sqlite.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer db.Close()
	store := sqlite.NewRunStore(db.DB)

	switch rest[0] {
	case "list":
		err = listRuns(stdout, store, *limit)
	case "show":
		if len(rest) < 2 {
			fmt.Fprintln(stderr, runsUsage)
			return 1
		}
		err = showRun(stdout, store, rest[1])
	case "migrate":
		if len(rest) < 2 {
			fmt.Fprintln(stderr, runsUsage)
			return 1
		}
		err = migrateCatalog(stdout, db, rest[1])
	default:
		fmt.Fprintf(stderr, "unknown runs action: %s\n", rest[0])
		fmt.Fprintln(stderr, runsUsage)
		return 1
	}
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func listRuns(w io.Writer, store *sqlite.RunStore, limit int) error {
	runs, err := store.ListRecent(limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tZONE\tTILES\tPOINTS\tOUTPUT")
	for _, r := range runs {
		started := time.Unix(0, r.StartedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
			r.RunID, started, r.Status, r.Stats.Zone,
			r.Stats.TilesSelected, r.Stats.TilesListed, r.Stats.PointsAccepted, r.OutputPath)
	}
	return tw.Flush()
}

// runDetail is the JSON document printed by "runs show".
type runDetail struct {
	*sqlite.Run
	Tiles []sqlite.TileRecord `json:"tiles"`
}

func showRun(w io.Writer, store *sqlite.RunStore, runID string) error {
	run, err := store.Get(runID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no run %s in catalog", runID)
	}
	if err != nil {
		return err
	}
	tiles, err := store.ListTiles(runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runDetail{Run: run, Tiles: tiles})
}

func migrateCatalog(w io.Writer, db *sqlite.DB, action string) error {
	switch action {
	case "up":
		if err := db.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "version %d (dirty: %v)\n", version, dirty)
	return nil
}
