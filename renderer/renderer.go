package renderer

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"
	"time"

	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/tracer/cpu"
	"github.com/achilleasa/lumen/tracer/integrator"
)

type UpdateType uint8

const (
	// Replace the camera; data must be a *scene.Camera.
	UpdateCamera UpdateType = iota

	// Replace the scene; data must be a *scene.Scene.
	UpdateScene
)

type Renderer interface {
	// Queue a change that is applied before the next frame.
	Update(UpdateType, interface{}) error

	// Render one progressive frame.
	Render(context.Context) error

	// Render n progressive frames. If n is 0 frames are rendered until the
	// configured samples per pixel are accumulated.
	RenderFrames(context.Context, uint32) error

	// Get the tonemapped frame.
	Frame() *image.RGBA

	// Encode the tonemapped frame as a PNG file.
	WritePNG(string) error

	// Get the number of frames accumulated since the last reset.
	FrameCount() uint32

	// Shutdown renderer and its tracing backend.
	Close()

	// Get render statistics.
	Stats() FrameStats
}

type pendingUpdate struct {
	kind UpdateType
	data interface{}
}

// A progressive tile renderer that drives the Monte-Carlo estimator on a
// single intersection backend.
type defaultRenderer struct {
	sync.Mutex

	logger log.Logger

	options   Options
	scheduler tracer.TileScheduler
	backend   tracer.Backend
	mc        *integrator.MonteCarlo

	scene  *scene.Scene
	camera *scene.Camera

	updates []pendingUpdate

	frame        uint32
	lastTileTime time.Duration
	stats        FrameStats
	closed       bool
}

// Create a renderer for sc. The intersection device is selected among the
// available CPU devices using the blacklist and force options.
func NewDefault(sc *scene.Scene, opts Options) (Renderer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, ErrSceneNotDefined
	}
	if sc.Camera == nil {
		return nil, ErrCameraNotDefined
	}

	logger := log.New("renderer")

	devices := cpu.Devices()
	devIndex, err := tracer.SelectDevice(devices, opts.BlackListedDevices, opts.ForcePrimaryDevice)
	if err != nil {
		return nil, err
	}
	logger.Noticef("using device %s", devices[devIndex])

	backend := cpu.New(devices[devIndex])

	mcOpts := []integrator.Option{
		integrator.WithBounces(int(opts.NumBounces)),
		integrator.WithRandomSource(integrator.NewPCGSource(opts.Seed)),
	}
	if opts.Workers > 0 {
		mcOpts = append(mcOpts, integrator.WithWorkers(opts.Workers))
	}
	mc := integrator.New(backend, mcOpts...)
	if err = mc.Setup(opts.FrameW, opts.FrameH); err != nil {
		backend.Close()
		return nil, err
	}

	var scheduler tracer.TileScheduler
	if opts.TargetTileMillis > 0 {
		scheduler = tracer.NewAdaptiveScheduler(opts.TileW, opts.TileH, time.Duration(opts.TargetTileMillis)*time.Millisecond)
	} else {
		scheduler = tracer.NewFixedScheduler(opts.TileW, opts.TileH)
	}

	return &defaultRenderer{
		logger:    logger,
		options:   opts,
		scheduler: scheduler,
		backend:   backend,
		mc:        mc,
		scene:     sc,
		camera:    sc.Camera,
		stats:     FrameStats{Device: devices[devIndex]},
	}, nil
}

func (r *defaultRenderer) Update(kind UpdateType, data interface{}) error {
	switch kind {
	case UpdateCamera:
		if camera, ok := data.(*scene.Camera); !ok || camera == nil {
			return ErrCameraNotDefined
		}
	case UpdateScene:
		sc, ok := data.(*scene.Scene)
		if !ok || sc == nil {
			return ErrSceneNotDefined
		}
		if sc.Camera == nil {
			return ErrCameraNotDefined
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownUpdate, kind)
	}

	r.Lock()
	r.updates = append(r.updates, pendingUpdate{kind: kind, data: data})
	r.Unlock()
	return nil
}

// Apply queued updates. Any update invalidates the accumulated samples.
func (r *defaultRenderer) applyUpdates() {
	r.Lock()
	updates := r.updates
	r.updates = nil
	r.Unlock()

	if len(updates) == 0 {
		return
	}

	for _, update := range updates {
		switch update.kind {
		case UpdateCamera:
			r.camera = update.data.(*scene.Camera)
			r.logger.Infof("camera updated: %s", r.camera)
		case UpdateScene:
			r.scene = update.data.(*scene.Scene)
			r.camera = r.scene.Camera

			// Drop shapes of the previous scene.
			r.mc.Close()
			r.logger.Infof("scene updated: %d geometries, %d lights", len(r.scene.Geometries), len(r.scene.Lights))
		}
	}

	r.mc.Clear()
	r.frame = 0
}

func (r *defaultRenderer) Render(ctx context.Context) error {
	if r.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}

	r.applyUpdates()

	start := time.Now()
	nonEmpty, err := r.mc.Compile(r.scene.Geometries)
	if err != nil {
		return err
	}

	frame := r.frame + 1
	tiles := r.scheduler.Schedule(r.options.FrameW, r.options.FrameH, r.lastTileTime)
	stats := FrameStats{
		Frame:  frame,
		Device: r.stats.Device,
		Tiles:  make([]TileStat, 0, len(tiles)),
	}

	framePixels := float32(r.options.FrameW * r.options.FrameH)
	for _, tile := range tiles {
		tileStart := time.Now()
		if nonEmpty {
			err = r.mc.Estimate(r.camera, r.scene.Lights, frame, image.Pt(int(tile.X), int(tile.Y)), image.Pt(int(tile.W), int(tile.H)))
			if err != nil {
				// Tiles traced so far hold one sample more than the rest.
				r.mc.Clear()
				r.frame = 0
				return err
			}
		}

		stats.Tiles = append(stats.Tiles, TileStat{
			Tile:         tile,
			FramePercent: 100 * float32(tile.Pixels()) / framePixels,
			RenderTime:   time.Since(tileStart),
			Estimate:     r.mc.Stats(),
		})
	}
	stats.RenderTime = time.Since(start)

	if len(tiles) > 0 {
		r.lastTileTime = stats.RenderTime / time.Duration(len(tiles))
	}
	r.frame = frame
	r.stats = stats

	r.logger.Debugf("frame %d: %d tiles in %d ms", r.frame, len(tiles), stats.RenderTime.Nanoseconds()/1e6)
	return nil
}

func (r *defaultRenderer) RenderFrames(ctx context.Context, n uint32) error {
	if n == 0 {
		if r.options.SamplesPerPixel <= r.frame {
			return nil
		}
		n = r.options.SamplesPerPixel - r.frame
	}

	for ; n > 0; n-- {
		if err := r.Render(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Get the tonemapped frame. Unless the camera inverts the y axis, frame
// buffer rows start at the bottom of the image plane and are flipped.
func (r *defaultRenderer) Frame() *image.RGBA {
	w, h := int(r.options.FrameW), int(r.options.FrameH)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	ldr := r.mc.Data()

	for y := 0; y < h; y++ {
		srcRow := h - 1 - y
		if r.camera.InvertY {
			srcRow = y
		}
		for x := 0; x < w; x++ {
			pixel := ldr[srcRow*w+x]
			offset := img.PixOffset(x, y)
			img.Pix[offset] = uint8(pixel)
			img.Pix[offset+1] = uint8(pixel >> 8)
			img.Pix[offset+2] = uint8(pixel >> 16)
			img.Pix[offset+3] = uint8(pixel >> 24)
		}
	}
	return img
}

func (r *defaultRenderer) WritePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err = png.Encode(f, r.Frame()); err != nil {
		f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}

	r.logger.Noticef("wrote %dx%d frame to %s", r.options.FrameW, r.options.FrameH, path)
	return nil
}

func (r *defaultRenderer) FrameCount() uint32 {
	return r.frame
}

func (r *defaultRenderer) Stats() FrameStats {
	return r.stats
}

func (r *defaultRenderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.mc.Close()
	r.backend.Close()
}
