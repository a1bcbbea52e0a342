package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/plydsm/internal/dsm"
	"github.com/banshee-data/plydsm/internal/tiles"
)

// Zone policies accepted by zone_policy.
const (
	ZonePolicyWarn = "warn"
	ZonePolicySkip = "skip"
	ZonePolicyFail = "fail"
)

const (
	defaultWorkers = 1
	defaultBins    = 50
)

// DSMConfig holds the optional run parameters for plydsm. Every field is a
// pointer so that a partial JSON file only overrides what it names; the Get*
// methods supply defaults for the rest. Command-line flags take precedence
// over values loaded from file.
type DSMConfig struct {
	// Rasterisation
	Channel       *int    `json:"channel,omitempty"`
	Workers       *int    `json:"workers,omitempty"`
	ZonePolicy    *string `json:"zone_policy,omitempty"`
	Timeout       *string `json:"timeout,omitempty"` // duration string like "10m"; empty means none
	ExtentFile    *string `json:"extent_file,omitempty"`
	CloudFile     *string `json:"cloud_file,omitempty"`
	Compressed    *bool   `json:"compressed,omitempty"`
	HistogramBins *int    `json:"histogram_bins,omitempty"`

	// Outputs
	DBPath        *string `json:"db_path,omitempty"`
	PreviewPath   *string `json:"preview_path,omitempty"`
	HistogramPath *string `json:"histogram_path,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }

// DefaultDSMConfig returns a config with every field set to its default.
func DefaultDSMConfig() *DSMConfig {
	return &DSMConfig{
		Channel:       ptrInt(dsm.ChannelHeight),
		Workers:       ptrInt(defaultWorkers),
		ZonePolicy:    ptrString(ZonePolicyWarn),
		Timeout:       ptrString(""),
		ExtentFile:    ptrString(tiles.DefaultExtentFile),
		CloudFile:     ptrString(tiles.DefaultCloudFile),
		Compressed:    ptrBool(false),
		HistogramBins: ptrInt(defaultBins),
		DBPath:        ptrString(""),
		PreviewPath:   ptrString(""),
		HistogramPath: ptrString(""),
	}
}

// LoadDSMConfig loads a DSMConfig from a JSON file. The file must have a
// .json extension and be under 1MB.
func LoadDSMConfig(path string) (*DSMConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DSMConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *DSMConfig) Validate() error {
	if c.Channel != nil {
		if *c.Channel < dsm.ChannelHeight || *c.Channel > dsm.ChannelMax {
			return fmt.Errorf("channel must be between %d and %d, got %d", dsm.ChannelHeight, dsm.ChannelMax, *c.Channel)
		}
	}

	if c.Workers != nil {
		if *c.Workers < 1 {
			return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
		}
	}

	if c.ZonePolicy != nil {
		switch *c.ZonePolicy {
		case ZonePolicyWarn, ZonePolicySkip, ZonePolicyFail:
		default:
			return fmt.Errorf("zone_policy must be one of warn, skip, fail, got %q", *c.ZonePolicy)
		}
	}

	if c.Timeout != nil && *c.Timeout != "" {
		d, err := time.ParseDuration(*c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout '%s': %w", *c.Timeout, err)
		}
		if d < 0 {
			return fmt.Errorf("timeout must be non-negative, got %s", d)
		}
	}

	if c.ExtentFile != nil && *c.ExtentFile == "" {
		return fmt.Errorf("extent_file must not be empty")
	}
	if c.CloudFile != nil && *c.CloudFile == "" {
		return fmt.Errorf("cloud_file must not be empty")
	}

	if c.HistogramBins != nil {
		if *c.HistogramBins < 1 {
			return fmt.Errorf("histogram_bins must be at least 1, got %d", *c.HistogramBins)
		}
	}

	return nil
}

// GetChannel returns the channel value or the default (height).
func (c *DSMConfig) GetChannel() int {
	if c.Channel == nil {
		return dsm.ChannelHeight
	}
	return *c.Channel
}

// GetWorkers returns the workers value or the default.
func (c *DSMConfig) GetWorkers() int {
	if c.Workers == nil {
		return defaultWorkers
	}
	return *c.Workers
}

// GetZonePolicy returns the zone_policy value or the default.
func (c *DSMConfig) GetZonePolicy() string {
	if c.ZonePolicy == nil {
		return ZonePolicyWarn
	}
	return *c.ZonePolicy
}

// GetTimeout parses the timeout. Zero means the run is not bounded.
func (c *DSMConfig) GetTimeout() time.Duration {
	if c.Timeout == nil || *c.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.Timeout)
	if err != nil {
		return 0
	}
	return d
}

// GetExtentFile returns the extent sidecar name or the default.
func (c *DSMConfig) GetExtentFile() string {
	if c.ExtentFile == nil {
		return tiles.DefaultExtentFile
	}
	return *c.ExtentFile
}

// GetCloudFile returns the per-tile cloud name or the default.
func (c *DSMConfig) GetCloudFile() string {
	if c.CloudFile == nil {
		return tiles.DefaultCloudFile
	}
	return *c.CloudFile
}

// GetCompressed reports whether the raster should be written with
// Deflate-compressed strips.
func (c *DSMConfig) GetCompressed() bool {
	if c.Compressed == nil {
		return false
	}
	return *c.Compressed
}

func (c *DSMConfig) GetHistogramBins() int {
	if c.HistogramBins == nil {
		return defaultBins
	}
	return *c.HistogramBins
}

func (c *DSMConfig) GetDBPath() string {
	if c.DBPath == nil {
		return ""
	}
	return *c.DBPath
}

func (c *DSMConfig) GetPreviewPath() string {
	if c.PreviewPath == nil {
		return ""
	}
	return *c.PreviewPath
}

func (c *DSMConfig) GetHistogramPath() string {
	if c.HistogramPath == nil {
		return ""
	}
	return *c.HistogramPath
}
