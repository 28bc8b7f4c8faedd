package renderer

import (
	"time"

	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/tracer/integrator"
)

type TileStat struct {
	Tile tracer.Tile

	// The percentage of total frame area covered by the tile.
	FramePercent float32

	// Render time for the tile.
	RenderTime time.Duration

	// Estimator timings for the tile.
	Estimate integrator.Stats
}

type FrameStats struct {
	// The progressive frame these stats refer to (1-based).
	Frame uint32

	// Device used for intersection queries.
	Device tracer.DeviceInfo

	// Individual tile stats.
	Tiles []TileStat

	// Total render time for entire frame.
	RenderTime time.Duration
}
