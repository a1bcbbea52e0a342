package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/banshee-data/plydsm/internal/timeutil"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Run is one plydsm invocation.
type Run struct {
	RunID       string `json:"run_id"`
	StartedAt   int64  `json:"started_at"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
	Status      string `json:"status"`

	ListPath   string  `json:"list_path"`
	OutputPath string  `json:"output_path"`
	XMin       float64 `json:"xmin"`
	XMax       float64 `json:"xmax"`
	YMin       float64 `json:"ymin"`
	YMax       float64 `json:"ymax"`
	Resolution float64 `json:"resolution"`
	Channel    int     `json:"channel"`
	Workers    int     `json:"workers"`
	ZonePolicy string  `json:"zone_policy"`

	Stats RunStats `json:"stats"`
	Error string   `json:"error,omitempty"`
}

// RunStats are filled in when a run finishes.
type RunStats struct {
	Zone           string `json:"zone,omitempty"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	TilesListed    int    `json:"tiles_listed"`
	TilesSelected  int    `json:"tiles_selected"`
	PointsRead     int64  `json:"points_read"`
	PointsAccepted int64  `json:"points_accepted"`
	CellsCovered   int    `json:"cells_covered"`
}

// TileRecord is the ingestion outcome of one selected tile.
type TileRecord struct {
	Seq         int    `json:"seq"`
	Dir         string `json:"dir"`
	CloudPath   string `json:"cloud_path"`
	Zone        string `json:"zone,omitempty"`
	ZoneCheck   string `json:"zone_check"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	PointsRead  int64  `json:"points_read"`
	Accepted    int64  `json:"accepted"`
	OutOfBounds int64  `json:"out_of_bounds"`
	NonFinite   int64  `json:"non_finite"`
}

// RunStore persists runs and their tiles.
type RunStore struct {
	db    *sql.DB
	clock timeutil.Clock
}

// NewRunStore creates a RunStore over db.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used for start and completion timestamps.
func (s *RunStore) SetClock(c timeutil.Clock) { s.clock = c }

// Start inserts run with status running. An empty RunID is replaced by a new
// UUID and a zero StartedAt by the current time.
func (s *RunStore) Start(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAt == 0 {
		run.StartedAt = s.clock.Now().UnixNano()
	}
	run.Status = StatusRunning

	query := `
		INSERT INTO dsm_runs (
			run_id, started_at, status, list_path, output_path,
			xmin, xmax, ymin, ymax, resolution,
			channel, workers, zone_policy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		run.RunID, run.StartedAt, run.Status, run.ListPath, run.OutputPath,
		run.XMin, run.XMax, run.YMin, run.YMax, run.Resolution,
		run.Channel, run.Workers, run.ZonePolicy,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordTile stores the outcome of one tile of runID.
func (s *RunStore) RecordTile(runID string, t TileRecord) error {
	query := `
		INSERT INTO dsm_run_tiles (
			run_id, seq, tile_dir, cloud_path, zone, zone_check, status, error,
			points_read, accepted, out_of_bounds, non_finite
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query,
		runID, t.Seq, t.Dir, t.CloudPath, nullString(t.Zone), t.ZoneCheck, t.Status, nullString(t.Error),
		t.PointsRead, t.Accepted, t.OutOfBounds, t.NonFinite,
	)
	if err != nil {
		return fmt.Errorf("insert run tile: %w", err)
	}
	return nil
}

// Complete marks runID finished with status, its stats and, for failures,
// the error message. Returns sql.ErrNoRows for an unknown run.
func (s *RunStore) Complete(runID, status string, stats RunStats, errMsg string) error {
	query := `
		UPDATE dsm_runs SET
			completed_at = ?, status = ?, zone = ?, width = ?, height = ?,
			tiles_listed = ?, tiles_selected = ?, points_read = ?, points_accepted = ?,
			cells_covered = ?, error = ?
		WHERE run_id = ?
	`
	result, err := s.db.Exec(query,
		s.clock.Now().UnixNano(), status, nullString(stats.Zone), stats.Width, stats.Height,
		stats.TilesListed, stats.TilesSelected, stats.PointsRead, stats.PointsAccepted,
		stats.CellsCovered, nullString(errMsg),
		runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete run rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const runColumns = `
	run_id, started_at, completed_at, status, list_path, output_path,
	xmin, xmax, ymin, ymax, resolution, channel, workers, zone_policy,
	zone, width, height, tiles_listed, tiles_selected,
	points_read, points_accepted, cells_covered, error
`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	r := &Run{}
	var completedAt, pointsRead, pointsAccepted sql.NullInt64
	var width, height, listed, selected, covered sql.NullInt64
	var zone, errMsg sql.NullString
	err := row.Scan(
		&r.RunID, &r.StartedAt, &completedAt, &r.Status, &r.ListPath, &r.OutputPath,
		&r.XMin, &r.XMax, &r.YMin, &r.YMax, &r.Resolution, &r.Channel, &r.Workers, &r.ZonePolicy,
		&zone, &width, &height, &listed, &selected,
		&pointsRead, &pointsAccepted, &covered, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Int64
	}
	r.Stats = RunStats{
		Zone:           zone.String,
		Width:          int(width.Int64),
		Height:         int(height.Int64),
		TilesListed:    int(listed.Int64),
		TilesSelected:  int(selected.Int64),
		PointsRead:     pointsRead.Int64,
		PointsAccepted: pointsAccepted.Int64,
		CellsCovered:   int(covered.Int64),
	}
	r.Error = errMsg.String
	return r, nil
}

// Get returns the run with runID, or sql.ErrNoRows.
func (s *RunStore) Get(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM dsm_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRecent returns up to limit runs, newest first.
func (s *RunStore) ListRecent(limit int) ([]*Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM dsm_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListTiles returns the tiles recorded for runID in selection order.
func (s *RunStore) ListTiles(runID string) ([]TileRecord, error) {
	query := `
		SELECT seq, tile_dir, cloud_path, zone, zone_check, status, error,
		       points_read, accepted, out_of_bounds, non_finite
		FROM dsm_run_tiles
		WHERE run_id = ?
		ORDER BY seq
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("list run tiles: %w", err)
	}
	defer rows.Close()

	var out []TileRecord
	for rows.Next() {
		var t TileRecord
		var zone, errMsg sql.NullString
		err := rows.Scan(
			&t.Seq, &t.Dir, &t.CloudPath, &zone, &t.ZoneCheck, &t.Status, &errMsg,
			&t.PointsRead, &t.Accepted, &t.OutOfBounds, &t.NonFinite,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run tile: %w", err)
		}
		t.Zone, t.Error = zone.String, errMsg.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
