package dsm

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/plydsm/internal/grid"
	"github.com/banshee-data/plydsm/internal/tiles"
)

// ErrInvalidConfig marks run parameters that make the run impossible.
var ErrInvalidConfig = errors.New("dsm: invalid configuration")

// Channel bounds. Column 2 is the height; 3-5 are the colour bands.
const (
	ChannelHeight = 2
	ChannelMax    = 5
)

// ZonePolicy decides what happens to a tile whose UTM zone differs from the
// canonical zone of the run.
type ZonePolicy int

const (
	// ZoneWarn logs the conflict and ingests the tile anyway.
	ZoneWarn ZonePolicy = iota
	// ZoneSkip logs the conflict and leaves the tile out.
	ZoneSkip
	// ZoneFail aborts the run with ErrZoneMismatch.
	ZoneFail
)

func (p ZonePolicy) String() string {
	switch p {
	case ZoneWarn:
		return "warn"
	case ZoneSkip:
		return "skip"
	case ZoneFail:
		return "fail"
	}
	return fmt.Sprintf("ZonePolicy(%d)", int(p))
}

// ParseZonePolicy accepts "warn", "skip" or "fail".
func ParseZonePolicy(s string) (ZonePolicy, error) {
	switch s {
	case "warn", "":
		return ZoneWarn, nil
	case "skip":
		return ZoneSkip, nil
	case "fail":
		return ZoneFail, nil
	}
	return ZoneWarn, fmt.Errorf("%w: unknown zone policy %q", ErrInvalidConfig, s)
}

// Options configures one DSM run.
type Options struct {
	Box        grid.Box
	Resolution float64
	// Channel is the record column averaged into each cell.
	Channel    int
	Workers    int
	ZonePolicy ZonePolicy
	ExtentFile string
	CloudFile  string
}

// DefaultOptions returns options for a sequential height DSM over box.
func DefaultOptions(box grid.Box, resolution float64) Options {
	return Options{
		Box:        box,
		Resolution: resolution,
		Channel:    ChannelHeight,
		Workers:    1,
		ZonePolicy: ZoneWarn,
		ExtentFile: tiles.DefaultExtentFile,
		CloudFile:  tiles.DefaultCloudFile,
	}
}

// Validate reports configuration errors wrapped in ErrInvalidConfig.
func (o Options) Validate() error {
	if err := o.Box.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if !(o.Resolution > 0) || math.IsInf(o.Resolution, 0) {
		return fmt.Errorf("%w: resolution must be > 0, got %g", ErrInvalidConfig, o.Resolution)
	}
	if o.Channel < ChannelHeight || o.Channel > ChannelMax {
		return fmt.Errorf("%w: channel must be in [%d,%d], got %d", ErrInvalidConfig, ChannelHeight, ChannelMax, o.Channel)
	}
	if o.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalidConfig, o.Workers)
	}
	if o.ZonePolicy < ZoneWarn || o.ZonePolicy > ZoneFail {
		return fmt.Errorf("%w: unknown zone policy %v", ErrInvalidConfig, o.ZonePolicy)
	}
	if o.ExtentFile == "" || o.CloudFile == "" {
		return fmt.Errorf("%w: extent and cloud file names must be set", ErrInvalidConfig)
	}
	return nil
}
