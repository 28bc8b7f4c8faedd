package tracer

import (
	"testing"
	"time"
)

func TestFixedScheduler(t *testing.T) {
	type spec struct {
		frameW, frameH uint32
		tileW, tileH   uint32
		expTiles       int
	}
	specs := []spec{
		{64, 64, 64, 64, 1},
		{64, 64, 32, 32, 4},
		{65, 10, 32, 8, 6},
		{10, 10, 100, 100, 1},
		{0, 10, 8, 8, 0},
	}

	for index, s := range specs {
		sch := NewFixedScheduler(s.tileW, s.tileH)
		tiles := sch.Schedule(s.frameW, s.frameH, 0)
		if len(tiles) != s.expTiles {
			t.Fatalf("[spec %d] expected %d tiles; got %d", index, s.expTiles, len(tiles))
		}

		var covered uint32
		for _, tile := range tiles {
			if tile.X+tile.W > s.frameW || tile.Y+tile.H > s.frameH {
				t.Fatalf("[spec %d] expected tile %+v to lie inside the frame", index, tile)
			}
			covered += tile.Pixels()
		}
		if covered != s.frameW*s.frameH {
			t.Fatalf("[spec %d] expected tiles to cover %d pixels; got %d", index, s.frameW*s.frameH, covered)
		}
	}
}

func TestAdaptiveScheduler(t *testing.T) {
	type spec struct {
		lastTileTime time.Duration
		expTileH     uint32
	}
	specs := []spec{
		// No feedback; use initial height
		{0, 10},
		// Tiles took twice as long as the target
		{20 * time.Millisecond, 5},
		// Tiles were much faster than the target
		{time.Millisecond, 50},
		// Height is clamped to the frame height
		{time.Nanosecond, 100},
		// Height never drops below a single row
		{time.Hour, 1},
	}

	sch := NewAdaptiveScheduler(100, 10, 10*time.Millisecond)
	for index, s := range specs {
		tiles := sch.Schedule(100, 100, s.lastTileTime)
		if tiles[0].H != s.expTileH {
			t.Fatalf("[spec %d] expected tile height %d; got %d", index, s.expTileH, tiles[0].H)
		}
	}
}
