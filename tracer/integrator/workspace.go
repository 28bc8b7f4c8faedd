package integrator

import (
	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/types"
)

// Per-tile estimator state. All slices hold at least capacity entries; only
// the first numEstimate entries are used by the current tile.
type workspace struct {
	numEstimate int

	// Sticky high-water mark.
	capacity int

	// Number of times the workspace had to grow.
	reallocs int

	// rays[pass&1] holds the rays that produced the current hits while
	// rays[(pass&1)^1] receives the rays for the next bounce.
	rays       [2][]tracer.Ray
	hits       []tracer.Hit
	shadowRays []tracer.Ray
	shadowHits []tracer.Hit

	// Scattering weight; w holds the sampling pdf.
	weights []types.Vec4

	// Path throughput.
	samples []types.Vec3

	// Radiance gathered by the current estimate.
	samplesAccum []types.Vec3

	random []types.Vec2

	// Backend buffers mirroring rays, hits, shadowRays and shadowHits.
	rayBuf       tracer.Buffer
	hitBuf       tracer.Buffer
	shadowRayBuf tracer.Buffer
	shadowHitBuf tracer.Buffer
}

// Prepare the workspace for a tile with numEstimate pixels. Storage and
// backend buffers are only reallocated when numEstimate exceeds the largest
// tile seen so far.
func (mc *MonteCarlo) ensureWorkspace(numEstimate int) error {
	ws := &mc.ws
	if numEstimate > ws.capacity {
		mc.logger.Debugf("growing workspace from %d to %d entries", ws.capacity, numEstimate)

		ws.rays[0] = make([]tracer.Ray, numEstimate)
		ws.rays[1] = make([]tracer.Ray, numEstimate)
		ws.hits = make([]tracer.Hit, numEstimate)
		ws.shadowRays = make([]tracer.Ray, numEstimate)
		ws.shadowHits = make([]tracer.Hit, numEstimate)
		ws.weights = make([]types.Vec4, numEstimate)
		ws.samples = make([]types.Vec3, numEstimate)
		ws.samplesAccum = make([]types.Vec3, numEstimate)
		ws.random = make([]types.Vec2, numEstimate)

		if err := mc.releaseWorkspaceBuffers(); err != nil {
			return err
		}

		var err error
		if ws.rayBuf, err = mc.backend.CreateBuffer(numEstimate*tracer.SizeofRay, nil); err != nil {
			return err
		}
		if ws.hitBuf, err = mc.backend.CreateBuffer(numEstimate*tracer.SizeofHit, nil); err != nil {
			return err
		}
		if ws.shadowRayBuf, err = mc.backend.CreateBuffer(numEstimate*tracer.SizeofRay, nil); err != nil {
			return err
		}
		if ws.shadowHitBuf, err = mc.backend.CreateBuffer(numEstimate*tracer.SizeofHit, nil); err != nil {
			return err
		}

		ws.capacity = numEstimate
		ws.reallocs++
	}

	ws.numEstimate = numEstimate
	return nil
}

func (mc *MonteCarlo) releaseWorkspaceBuffers() error {
	ws := &mc.ws
	for _, buf := range []*tracer.Buffer{&ws.rayBuf, &ws.hitBuf, &ws.shadowRayBuf, &ws.shadowHitBuf} {
		if *buf == nil {
			continue
		}
		if err := mc.backend.DeleteBuffer(*buf); err != nil {
			return err
		}
		*buf = nil
	}
	return nil
}

// Wait for a backend event and release it.
func waitEvent(evt tracer.Event, err error) error {
	if err != nil {
		return err
	}
	defer evt.Release()
	return evt.Wait()
}

// Copy rays into a backend buffer.
func (mc *MonteCarlo) uploadRays(buf tracer.Buffer, rays []tracer.Ray) error {
	data, evt, err := mc.backend.MapBuffer(buf, tracer.MapWrite, 0, len(rays)*tracer.SizeofRay)
	if err = waitEvent(evt, err); err != nil {
		return err
	}
	copy(tracer.RaysFromBytes(data), rays)
	return waitEvent(mc.backend.UnmapBuffer(buf, data))
}

// Copy hits out of a backend buffer.
func (mc *MonteCarlo) downloadHits(buf tracer.Buffer, hits []tracer.Hit) error {
	data, evt, err := mc.backend.MapBuffer(buf, tracer.MapRead, 0, len(hits)*tracer.SizeofHit)
	if err = waitEvent(evt, err); err != nil {
		return err
	}
	copy(hits, tracer.HitsFromBytes(data))
	return waitEvent(mc.backend.UnmapBuffer(buf, data))
}

func (mc *MonteCarlo) gatherHits() error {
	return mc.downloadHits(mc.ws.hitBuf, mc.ws.hits[:mc.ws.numEstimate])
}

func (mc *MonteCarlo) gatherShadowHits() error {
	return mc.downloadHits(mc.ws.shadowHitBuf, mc.ws.shadowHits[:mc.ws.numEstimate])
}

// Run a blocking intersection query for the current tile.
func (mc *MonteCarlo) queryIntersection(rays, hits tracer.Buffer) error {
	return waitEvent(mc.backend.QueryIntersection(rays, mc.ws.numEstimate, hits))
}
