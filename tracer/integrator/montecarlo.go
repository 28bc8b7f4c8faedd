package integrator

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/types"
)

const (
	// Default number of path segments traced per estimate.
	DefaultBounces = 4

	// Seed used by the default random source.
	DefaultSeed uint64 = 0xC0FFEE
)

var (
	ErrNoBackend    = errors.New("integrator: no intersection backend")
	ErrNotSetup     = errors.New("integrator: frame buffers not set up")
	ErrInvalidFrame = errors.New("integrator: invalid frame dimensions")
	ErrInvalidTile  = errors.New("integrator: tile outside frame")
)

// An Option configures a MonteCarlo estimator.
type Option func(*MonteCarlo)

// Set the number of bounces traced per estimate. The budget applies to every
// pixel regardless of when its path terminates.
func WithBounces(numBounces int) Option {
	return func(mc *MonteCarlo) {
		mc.numBounces = max(1, numBounces)
	}
}

// Replace the scattering model.
func WithSampler(sampler Sampler) Option {
	return func(mc *MonteCarlo) {
		mc.sampler = sampler
	}
}

// Replace the per-pixel random number source.
func WithRandomSource(random RandomSource) Option {
	return func(mc *MonteCarlo) {
		mc.random = random
	}
}

// Limit the number of goroutines used by the per-pixel stages.
func WithWorkers(workers int) Option {
	return func(mc *MonteCarlo) {
		mc.workers = max(1, workers)
	}
}

// Timings of the last estimate.
type Stats struct {
	Pixels     int
	Bounces    int
	Lights     int
	RayTime    time.Duration
	QueryTime  time.Duration
	ShadeTime  time.Duration
	TotalTime  time.Duration
	Reallocs   int
	SceneSize  int
	Workspace  int
	LastFrame  uint32
	LastOffset image.Point
}

// A progressive wavefront Monte-Carlo path tracer. Each Estimate traces one
// sample per pixel for a frame tile and adds it to a persistent radiance
// accumulator.
type MonteCarlo struct {
	logger log.Logger

	backend tracer.Backend
	sampler Sampler
	random  RandomSource

	numBounces int
	workers    int

	// Frame buffers.
	width, height int
	hdr           []types.Vec3
	ldr           []uint32

	cache   *sceneCache
	handles []tracer.Shape

	// Set when shapes were attached after the last successful commit.
	needCommit bool

	ws workspace

	stats Stats
}

// Create a new estimator that traces rays using backend.
func New(backend tracer.Backend, opts ...Option) *MonteCarlo {
	mc := &MonteCarlo{
		logger:     log.New("montecarlo"),
		backend:    backend,
		sampler:    Lambertian{},
		numBounces: DefaultBounces,
		workers:    runtime.NumCPU(),
		cache:      newSceneCache(),
	}

	for _, opt := range opts {
		opt(mc)
	}

	if mc.random == nil {
		mc.random = NewPCGSource(DefaultSeed)
	}

	return mc
}

// Allocate frame buffers for a w x h frame. Any accumulated radiance is
// discarded.
func (mc *MonteCarlo) Setup(w, h uint32) error {
	if mc.backend == nil {
		return ErrNoBackend
	}
	if w == 0 || h == 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidFrame, w, h)
	}

	mc.width = int(w)
	mc.height = int(h)
	mc.hdr = make([]types.Vec3, w*h)
	mc.ldr = make([]uint32, w*h)

	mc.logger.Debugf("frame buffers set up for %dx%d frame", w, h)
	return nil
}

// Reset the radiance accumulator and the display buffer.
func (mc *MonteCarlo) Clear() {
	clear(mc.hdr)
	clear(mc.ldr)
}

// Get the display buffer. Pixels are packed as 0xFF<<24 | B<<16 | G<<8 | R
// and stored in rows starting from the bottom of the image plane.
func (mc *MonteCarlo) Data() []uint32 {
	return mc.ldr
}

// Get the radiance accumulator.
func (mc *MonteCarlo) HDR() []types.Vec3 {
	return mc.hdr
}

// Get the number of bounces traced per estimate.
func (mc *MonteCarlo) Bounces() int {
	return mc.numBounces
}

// Get statistics for the last estimate.
func (mc *MonteCarlo) Stats() Stats {
	return mc.stats
}

// Compile the scene and, if it contains anything to trace, run an estimate
// for the w x h tile at (x, y).
func (mc *MonteCarlo) Render(camera *scene.Camera, lights []scene.Light, geometries []scene.Geometry, frame, x, y, w, h uint32) error {
	nonEmpty, err := mc.Compile(geometries)
	if err != nil || !nonEmpty {
		return err
	}
	return mc.Estimate(camera, lights, frame, image.Pt(int(x), int(y)), image.Pt(int(w), int(h)))
}

// Trace one sample per pixel for the tile at offset with the given size, add
// it to the accumulator and refresh the tile's display pixels. frame is the
// number of estimates accumulated so far including this one and must be
// positive.
func (mc *MonteCarlo) Estimate(camera *scene.Camera, lights []scene.Light, frame uint32, offset, size image.Point) error {
	if frame == 0 {
		panic("integrator: frame counter must be positive")
	}
	if mc.hdr == nil {
		return ErrNotSetup
	}
	if offset.X < 0 || offset.Y < 0 || size.X <= 0 || size.Y <= 0 ||
		offset.X+size.X > mc.width || offset.Y+size.Y > mc.height {
		return fmt.Errorf("%w: %v+%v in %dx%d frame", ErrInvalidTile, offset, size, mc.width, mc.height)
	}

	start := time.Now()
	stats := Stats{
		Pixels:     size.X * size.Y,
		Bounces:    mc.numBounces,
		Lights:     len(lights),
		LastFrame:  frame,
		LastOffset: offset,
	}

	if err := mc.ensureWorkspace(size.X * size.Y); err != nil {
		return err
	}
	ws := &mc.ws

	mark := time.Now()
	mc.random.Fill(ws.random[:ws.numEstimate])
	if err := mc.generateCameraRays(camera, offset, size); err != nil {
		return err
	}
	stats.RayTime += time.Since(mark)

	for pass := 0; pass < mc.numBounces; pass++ {
		mark = time.Now()
		if err := mc.queryIntersection(ws.rayBuf, ws.hitBuf); err != nil {
			return err
		}
		if err := mc.gatherHits(); err != nil {
			return err
		}
		stats.QueryTime += time.Since(mark)

		mark = time.Now()
		if pass == 0 {
			mc.gatherFirstSampling()
		} else {
			mc.gatherSampling(pass)
		}
		stats.ShadeTime += time.Since(mark)

		for _, light := range lights {
			mark = time.Now()
			if err := mc.generateShadowRays(pass, light); err != nil {
				return err
			}
			stats.RayTime += time.Since(mark)

			mark = time.Now()
			if err := mc.queryIntersection(ws.shadowRayBuf, ws.shadowHitBuf); err != nil {
				return err
			}
			if err := mc.gatherShadowHits(); err != nil {
				return err
			}
			stats.QueryTime += time.Since(mark)

			mark = time.Now()
			mc.gatherLightSamples(pass, light)
			stats.ShadeTime += time.Since(mark)
		}

		if pass+1 < mc.numBounces {
			mark = time.Now()
			mc.random.Fill(ws.random[:ws.numEstimate])
			if err := mc.generateBounceRays(pass); err != nil {
				return err
			}
			stats.RayTime += time.Since(mark)
		}
	}

	mark = time.Now()
	mc.accumSampling(offset, size)
	mc.adaptiveSampling()
	mc.colorTonemapping(frame, offset, size)
	stats.ShadeTime += time.Since(mark)

	stats.TotalTime = time.Since(start)
	stats.Reallocs = ws.reallocs
	stats.SceneSize = mc.cache.len()
	stats.Workspace = ws.capacity
	mc.stats = stats

	return nil
}

// Release the workspace buffers and committed shapes. The backend itself is
// not closed.
func (mc *MonteCarlo) Close() {
	if mc.backend == nil {
		return
	}

	if err := mc.releaseWorkspaceBuffers(); err != nil {
		mc.logger.Warningf("could not release workspace buffers: %s", err)
	}
	for _, handle := range mc.handles {
		if err := mc.backend.DeleteShape(handle); err != nil {
			mc.logger.Warningf("could not release shape %d: %s", handle.ID(), err)
		}
	}

	mc.handles = nil
	mc.needCommit = false
	mc.cache = newSceneCache()
	mc.ws = workspace{}
}
