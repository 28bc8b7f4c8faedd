package renderer

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Options struct {
	// Frame dims.
	FrameW uint32 `toml:"frame_width"`
	FrameH uint32 `toml:"frame_height"`

	// Tile dims. If TargetTileMillis is non-zero the tile height adapts so
	// that each tile takes roughly that long to trace.
	TileW            uint32 `toml:"tile_width"`
	TileH            uint32 `toml:"tile_height"`
	TargetTileMillis uint32 `toml:"target_tile_ms"`

	// Number of path segments traced per sample.
	NumBounces uint32 `toml:"bounces"`

	// Number of samples (progressive frames) per pixel.
	SamplesPerPixel uint32 `toml:"samples_per_pixel"`

	// Seed for the per-pixel random streams.
	Seed uint64 `toml:"seed"`

	// Max goroutines used per estimator stage; 0 selects the number of CPUs.
	Workers int `toml:"workers"`

	// Device selection.
	BlackListedDevices []string `toml:"blacklist"`
	ForcePrimaryDevice string   `toml:"force_device"`
}

// Get the default render options.
func DefaultOptions() Options {
	return Options{
		FrameW:          512,
		FrameH:          512,
		TileW:           64,
		TileH:           64,
		NumBounces:      4,
		SamplesPerPixel: 16,
		Seed:            0xC0FFEE,
	}
}

// Load options from a TOML file. Settings missing from the file keep their
// default values.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	f, err := os.Open(path)
	if err != nil {
		return opts, err
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err = dec.Decode(&opts); err != nil {
		return opts, fmt.Errorf("renderer: could not load options from %s: %w", path, err)
	}

	return opts, opts.Validate()
}

// Check that options describe a renderable frame.
func (o Options) Validate() error {
	switch {
	case o.FrameW == 0 || o.FrameH == 0:
		return fmt.Errorf("%w: frame dimensions must be positive; got %dx%d", ErrInvalidOptions, o.FrameW, o.FrameH)
	case o.TileW == 0 || o.TileH == 0:
		return fmt.Errorf("%w: tile dimensions must be positive; got %dx%d", ErrInvalidOptions, o.TileW, o.TileH)
	case o.NumBounces == 0:
		return fmt.Errorf("%w: bounce budget must be positive", ErrInvalidOptions)
	case o.Workers < 0:
		return fmt.Errorf("%w: worker count must not be negative; got %d", ErrInvalidOptions, o.Workers)
	}
	return nil
}
