// Package fconfig holds the recognized configuration options for every
// stage of the fusion pipeline, with defaults matching the distilled
// specification and validation matching its stated invariants.
package fconfig

import "fmt"

// AlignmentMode selects which aligner produces a frame's displacement
// field.
type AlignmentMode int

const (
	// TileBased uses only the coarse integer tile aligner.
	TileBased AlignmentMode = iota
	// DenseFlow uses only the dense hierarchical optical flow.
	DenseFlow
	// Hybrid seeds dense flow's coarsest level with the tile aligner's
	// integer motion before refining, combining both stages.
	Hybrid
)

func (m AlignmentMode) String() string {
	switch m {
	case TileBased:
		return "TileBased"
	case DenseFlow:
		return "DenseFlow"
	case Hybrid:
		return "Hybrid"
	default:
		return "Unknown"
	}
}

// MergeMethod selects the per-channel aggregation policy.
type MergeMethod int

const (
	Mean MergeMethod = iota
	Trimmed
	Huber
	Median
)

func (m MergeMethod) String() string {
	switch m {
	case Mean:
		return "Mean"
	case Trimmed:
		return "Trimmed"
	case Huber:
		return "Huber"
	case Median:
		return "Median"
	default:
		return "Unknown"
	}
}

// RobustnessMethod selects the per-pixel outlier down-weighting function
// applied during tiled accumulation (and optionally during merge).
type RobustnessMethod int

const (
	RobustnessNone RobustnessMethod = iota
	RobustnessHuber
	RobustnessTukey
)

func (m RobustnessMethod) String() string {
	switch m {
	case RobustnessNone:
		return "None"
	case RobustnessHuber:
		return "Huber"
	case RobustnessTukey:
		return "Tukey"
	default:
		return "Unknown"
	}
}

// Alignment holds alignment.* options.
type Alignment struct {
	TileSize      int // default 32; must be >= 8, even
	SearchRadius  int // default 8; integer >= 1
	PyramidLevels int // default 4; >= 1, <= 6
	Mode          AlignmentMode
}

// Flow holds flow.* options.
type Flow struct {
	WindowSize          int     // default 15; odd, >= 3
	MaxIterations       int     // default 10; >= 1
	ConvergenceThreshold float64 // default 0.01
	MinEigenThreshold   float64 // default 1e-3
	UseGyroInit         bool
}

// Merge holds merge.* options.
type Merge struct {
	Method        MergeMethod
	TrimRatio     float64 // default 0.2, in [0, 0.5)
	HuberDelta    float64 // default 1.0
	ApplyWiener   bool
	WienerWindow  int     // default 5, odd >= 3
	WienerNoiseVar float64 // default 0.01
	// UseNoiseModel substitutes MergeWeighted's flat
	// confidence*exp(-avg_motion/10) weight with the noise-adaptive
	// NoiseModel weight (estimated from the reference frame). Default
	// false.
	UseNoiseModel bool
}

// MFSR holds mfsr.* options.
type MFSR struct {
	ScaleFactor             int // default 2, in {2,3,4}
	TileSize                int // default 32
	UseWeightedAccumulation bool // default true
}

// Tiled holds tiled.* options.
type Tiled struct {
	TileWidth          int // default 256
	TileHeight         int // default 256
	Overlap            int // default 32, even
	Robustness         RobustnessMethod
	RobustnessThreshold float64 // default 0.8
	MaxMemoryMB        int64   // default 200, advisory
	FallbackMotionPx   float64 // default 50
}

// Config is the full recognized configuration surface from section 6 of
// the specification.
type Config struct {
	Alignment Alignment
	Flow      Flow
	Merge     Merge
	MFSR      MFSR
	Tiled     Tiled
	Verbose   bool
}

// Default returns a Config with every option set to its specified
// default value. The tiled robustness default follows the original
// implementation's own choice (Huber, "gentler... for low-diversity
// frames") since the distilled spec leaves this default unstated.
func Default() Config {
	return Config{
		Alignment: Alignment{
			TileSize:      32,
			SearchRadius:  8,
			PyramidLevels: 4,
			Mode:          TileBased,
		},
		Flow: Flow{
			WindowSize:           15,
			MaxIterations:        10,
			ConvergenceThreshold: 0.01,
			MinEigenThreshold:    1e-3,
			UseGyroInit:          false,
		},
		Merge: Merge{
			Method:         Mean,
			TrimRatio:      0.2,
			HuberDelta:     1.0,
			ApplyWiener:    false,
			WienerWindow:   5,
			WienerNoiseVar: 0.01,
			UseNoiseModel:  false,
		},
		MFSR: MFSR{
			ScaleFactor:             2,
			TileSize:                32,
			UseWeightedAccumulation: true,
		},
		Tiled: Tiled{
			TileWidth:           256,
			TileHeight:          256,
			Overlap:             32,
			Robustness:          RobustnessHuber,
			RobustnessThreshold: 0.8,
			MaxMemoryMB:         200,
			FallbackMotionPx:    50,
		},
	}
}

// Validate checks every invariant enumerated in section 6 and returns the
// first violation found, or nil.
func (c Config) Validate() error {
	if c.Alignment.TileSize < 8 || c.Alignment.TileSize%2 != 0 {
		return fmt.Errorf("alignment.tile_size must be >= 8 and even, got %d", c.Alignment.TileSize)
	}
	if c.Alignment.SearchRadius < 1 {
		return fmt.Errorf("alignment.search_radius must be >= 1, got %d", c.Alignment.SearchRadius)
	}
	if c.Alignment.PyramidLevels < 1 || c.Alignment.PyramidLevels > 6 {
		return fmt.Errorf("alignment.pyramid_levels must be in [1,6], got %d", c.Alignment.PyramidLevels)
	}
	if c.Flow.WindowSize < 3 || c.Flow.WindowSize%2 == 0 {
		return fmt.Errorf("flow.window_size must be odd and >= 3, got %d", c.Flow.WindowSize)
	}
	if c.Flow.MaxIterations < 1 {
		return fmt.Errorf("flow.max_iterations must be >= 1, got %d", c.Flow.MaxIterations)
	}
	if c.Merge.TrimRatio < 0 || c.Merge.TrimRatio >= 0.5 {
		return fmt.Errorf("merge.trim_ratio must be in [0, 0.5), got %v", c.Merge.TrimRatio)
	}
	if c.Merge.WienerWindow < 3 || c.Merge.WienerWindow%2 == 0 {
		return fmt.Errorf("merge.wiener_window must be odd and >= 3, got %d", c.Merge.WienerWindow)
	}
	switch c.MFSR.ScaleFactor {
	case 2, 3, 4:
	default:
		return fmt.Errorf("mfsr.scale_factor must be one of {2,3,4}, got %d", c.MFSR.ScaleFactor)
	}
	if c.Tiled.TileWidth <= 0 || c.Tiled.TileHeight <= 0 {
		return fmt.Errorf("tiled.tile_width/tile_height must be positive")
	}
	if c.Tiled.Overlap < 0 || c.Tiled.Overlap%2 != 0 {
		return fmt.Errorf("tiled.overlap must be even and >= 0, got %d", c.Tiled.Overlap)
	}
	if c.Tiled.Overlap >= c.Tiled.TileWidth || c.Tiled.Overlap >= c.Tiled.TileHeight {
		return fmt.Errorf("tiled.overlap must be smaller than tile dimensions")
	}
	return nil
}
