// Package config - Run configuration for the velocimetry pipeline.
//
// Station files are JSON, matching the survey tooling that produces them;
// YAML is accepted as well for hand-written configs. Loading and validation
// happen before the pipeline starts so every configuration error is fatal
// up front.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/YetAnotherUser24/awive/calib"
	"github.com/YetAnotherUser24/awive/motion"
	"github.com/YetAnotherUser24/awive/preprocess"
	"github.com/YetAnotherUser24/awive/region"
	"github.com/YetAnotherUser24/awive/velocity"
)

// Distance is one taped ground-control measurement, used when surveyed
// metric coordinates are unavailable.
type Distance struct {
	I      int     `json:"i" yaml:"i"`
	J      int     `json:"j" yaml:"j"`
	Meters float64 `json:"meters" yaml:"meters"`
}

// Calibration holds the ground-control points. Either ReferencePoints is
// given directly, or PixelPoints plus all pairwise Distances, from which
// metric coordinates are recovered at calibration time.
type Calibration struct {
	ReferencePoints []calib.RefPair `json:"referencePoints,omitempty" yaml:"referencePoints,omitempty"`
	PixelPoints     []calib.Point   `json:"pixelPoints,omitempty" yaml:"pixelPoints,omitempty"`
	Distances       []Distance      `json:"distances,omitempty" yaml:"distances,omitempty"`
}

// Config is the full run configuration.
type Config struct {
	// FrameInterval is the capture spacing in seconds. Exactly one of
	// FrameInterval and FPS must be set.
	FrameInterval float64 `json:"frameInterval,omitempty" yaml:"frameInterval,omitempty"`
	FPS           float64 `json:"fps,omitempty" yaml:"fps,omitempty"`

	Calibration Calibration       `json:"calibration" yaml:"calibration"`
	Preprocess  preprocess.Config `json:"preprocess" yaml:"preprocess"`
	Region      region.Config     `json:"region" yaml:"region"`

	MotionStrategy string                 `json:"motionStrategy" yaml:"motionStrategy"`
	SpaceTime      motion.SpaceTimeConfig `json:"spaceTime" yaml:"spaceTime"`
	Flow           motion.FlowConfig      `json:"flow" yaml:"flow"`

	WindowSize   int `json:"windowSize" yaml:"windowSize"`
	WindowStride int `json:"windowStride" yaml:"windowStride"`

	ConfidenceThreshold  float32 `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	MaxPlausibleVelocity float64 `json:"maxPlausibleVelocity" yaml:"maxPlausibleVelocity"`

	SmoothingPolicy string  `json:"smoothingPolicy" yaml:"smoothingPolicy"`
	SmoothingDecay  float64 `json:"smoothingDecay,omitempty" yaml:"smoothingDecay,omitempty"`

	// Workers bounds the per-cell worker pool; 0 means one per CPU.
	Workers int `json:"workers,omitempty" yaml:"workers,omitempty"`
	// AggregateFinal requests a time-averaged field during finalization.
	AggregateFinal bool `json:"aggregateFinal" yaml:"aggregateFinal"`
}

// Load reads a configuration file, decoding by extension (.json, .yaml,
// .yml), and validates it.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "config: read")
	}

	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "config: parse %s", path)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "config: parse %s", path)
		}
	default:
		return cfg, errors.Errorf("config: unsupported extension %q", ext)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Interval resolves the frame interval in seconds from whichever of
// FrameInterval and FPS is set.
func (c *Config) Interval() float64 {
	if c.FrameInterval > 0 {
		return c.FrameInterval
	}
	if c.FPS > 0 {
		return 1 / c.FPS
	}
	return 0
}

// Validate checks cross-field consistency. Strategy-specific tuning blocks
// are validated by their packages when the pipeline is built.
func (c *Config) Validate() error {
	if c.Interval() <= 0 {
		return errors.New("config: one of frameInterval or fps must be positive")
	}
	if c.WindowSize < 2 {
		return errors.Errorf("config: windowSize must be at least 2, got %d", c.WindowSize)
	}
	if c.WindowStride < 1 {
		return errors.Errorf("config: windowStride must be at least 1, got %d", c.WindowStride)
	}
	switch c.MotionStrategy {
	case motion.StrategySpaceTime, motion.StrategyFlowVector:
	default:
		return errors.Errorf("config: motionStrategy must be %q or %q, got %q",
			motion.StrategySpaceTime, motion.StrategyFlowVector, c.MotionStrategy)
	}
	if c.MaxPlausibleVelocity <= 0 {
		return errors.New("config: maxPlausibleVelocity must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("config: confidenceThreshold must be in [0, 1], got %g", c.ConfidenceThreshold)
	}

	cal := c.Calibration
	if len(cal.ReferencePoints) == 0 {
		if len(cal.PixelPoints) == 0 || len(cal.Distances) == 0 {
			return errors.New("config: calibration needs referencePoints, or pixelPoints with distances")
		}
	}
	return nil
}

// ReferencePairs resolves the ground-control pairs, running the
// distances-to-coordinates solve when metric positions were not surveyed
// directly.
func (c *Config) ReferencePairs() ([]calib.RefPair, error) {
	cal := c.Calibration
	if len(cal.ReferencePoints) > 0 {
		return cal.ReferencePoints, nil
	}

	distances := make(map[[2]int]float64, len(cal.Distances))
	for _, d := range cal.Distances {
		distances[[2]int{d.I, d.J}] = d.Meters
	}
	metric, err := calib.MetricFromDistances(len(cal.PixelPoints), distances)
	if err != nil {
		return nil, err
	}

	pairs := make([]calib.RefPair, len(cal.PixelPoints))
	for i, px := range cal.PixelPoints {
		pairs[i] = calib.RefPair{Pixel: px, Metric: metric[i]}
	}
	return pairs, nil
}

// ResolverConfig assembles the velocity resolver's policy block.
func (c *Config) ResolverConfig() velocity.Config {
	return velocity.Config{
		FrameInterval:        c.Interval(),
		ConfidenceThreshold:  c.ConfidenceThreshold,
		MaxPlausibleVelocity: c.MaxPlausibleVelocity,
	}
}

// RegionConfig returns the region block with the cell kind matching the
// selected motion strategy.
func (c *Config) RegionConfig() region.Config {
	rc := c.Region
	if c.MotionStrategy == motion.StrategyFlowVector {
		rc.Kind = region.GridPoint
	} else {
		rc.Kind = region.Transect
	}
	return rc
}
