package tracer

import (
	"math"
	"time"
)

// A rectangular frame region traced in a single estimator pass.
type Tile struct {
	X, Y uint32
	W, H uint32
}

// Number of pixels covered by the tile.
func (t Tile) Pixels() uint32 {
	return t.W * t.H
}

// The TileScheduler interface is implemented by all tile scheduling algorithms.
type TileScheduler interface {
	// Split the frame into tiles. lastTileTime is the mean time it took
	// to trace a tile of the previous schedule or 0 if no feedback is
	// available yet.
	Schedule(frameW, frameH uint32, lastTileTime time.Duration) []Tile
}

// Cover a frame with tiles of the given maximum dimensions. Tiles on the
// right and bottom edges are clipped to the frame.
func splitFrame(frameW, frameH, tileW, tileH uint32) []Tile {
	if frameW == 0 || frameH == 0 {
		return nil
	}
	tileW = max(1, min(tileW, frameW))
	tileH = max(1, min(tileH, frameH))

	tiles := make([]Tile, 0, ((frameW+tileW-1)/tileW)*((frameH+tileH-1)/tileH))
	for y := uint32(0); y < frameH; y += tileH {
		for x := uint32(0); x < frameW; x += tileW {
			tiles = append(tiles, Tile{
				X: x,
				Y: y,
				W: min(tileW, frameW-x),
				H: min(tileH, frameH-y),
			})
		}
	}
	return tiles
}

type fixedScheduler struct {
	tileW, tileH uint32
}

// Create a scheduler that always emits tiles of the same size.
func NewFixedScheduler(tileW, tileH uint32) TileScheduler {
	return &fixedScheduler{tileW: tileW, tileH: tileH}
}

func (sch *fixedScheduler) Schedule(frameW, frameH uint32, _ time.Duration) []Tile {
	return splitFrame(frameW, frameH, sch.tileW, sch.tileH)
}

// The adaptive scheduler assumes that the volume of tracing work per row is
// approximately the same between subsequent frames and resizes the tile
// height so that tracing a tile takes roughly the target time.
type adaptiveScheduler struct {
	tileW  uint32
	tileH  uint32
	target time.Duration
}

// Create an adaptive scheduler. Tiles are tileW pixels wide and start at
// initialH rows.
func NewAdaptiveScheduler(tileW, initialH uint32, target time.Duration) TileScheduler {
	return &adaptiveScheduler{
		tileW:  tileW,
		tileH:  max(1, initialH),
		target: target,
	}
}

// When feedback from the previous schedule is available, the new tile height
// is calculated as:
// h_i+1 = max(1, floor(h_i / time_i * target))
func (sch *adaptiveScheduler) Schedule(frameW, frameH uint32, lastTileTime time.Duration) []Tile {
	if lastTileTime > 0 && sch.target > 0 {
		rowsPerNs := float64(sch.tileH) / float64(lastTileTime)
		h := math.Max(1.0, math.Floor(rowsPerNs*float64(sch.target)))
		sch.tileH = uint32(math.Min(h, float64(max(1, frameH))))
	}
	return splitFrame(frameW, frameH, sch.tileW, sch.tileH)
}
