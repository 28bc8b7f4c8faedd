package integrator

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"

	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/types"
)

// Distance falloff for a vector between two points.
func attenuation(L types.Vec3) float32 {
	return 1.0 / math32.Max(1, L.SqLen())
}

// Reset path state after the primary hits are known. Camera rays that hit an
// emitter see its emission directly.
func (mc *MonteCarlo) gatherFirstSampling() {
	ws := &mc.ws
	mc.parallelFor(ws.numEstimate, func(i int) {
		ws.samples[i] = types.Vec3{}
		ws.samplesAccum[i] = types.Vec3{}

		hit := &ws.hits[i]
		if !hit.Valid() {
			return
		}

		_, mat := mc.cache.lookup(hit.ShapeID)
		if mat.IsEmissive() {
			ws.samplesAccum[i] = ws.samplesAccum[i].Add(mat.Emissive)
		}
		ws.samples[i] = types.Vec3{1, 1, 1}
	})
}

// Update path throughput with the weights of the bounce that produced the
// current hits and gather emission from any emitters they struck.
func (mc *MonteCarlo) gatherSampling(pass int) {
	ws := &mc.ws
	views := ws.rays[pass&1]
	mc.parallelFor(ws.numEstimate, func(i int) {
		hit := &ws.hits[i]
		if !hit.Valid() {
			ws.samples[i] = types.Vec3{}
			return
		}

		sh, mat := mc.cache.lookup(hit.ShapeID)
		pos := sh.position(hit)
		atten := attenuation(views[i].Origin.Sub(pos))

		weight := ws.weights[i]
		if !(weight[3] > 0) {
			panic(fmt.Sprintf("integrator: zero pdf for live path %d", i))
		}

		ws.samples[i] = ws.samples[i].MulVec(weight.Vec3()).Mul(atten / weight[3])
		if mat.IsEmissive() {
			ws.samplesAccum[i] = ws.samplesAccum[i].Add(ws.samples[i].MulVec(mat.Emissive))
		}
	})
}

// Add the contribution of light for every path whose shadow ray reached it.
func (mc *MonteCarlo) gatherLightSamples(pass int, light scene.Light) {
	ws := &mc.ws
	views := ws.rays[pass&1]
	mc.parallelFor(ws.numEstimate, func(i int) {
		ray := &ws.shadowRays[i]
		if !ray.Active || ws.shadowHits[i].Valid() {
			return
		}

		hit := &ws.hits[i]
		sh, mat := mc.cache.lookup(hit.ShapeID)
		_, normal := sh.surface(hit, &views[i])

		li := light.Li(normal, views[i].Dir.Neg(), ray.Dir, mat.Source, ws.random[i])
		contrib := ws.samples[i].MulVec(li).Mul(1.0 / (ray.MaxT * ray.MaxT))
		ws.samplesAccum[i] = ws.samplesAccum[i].Add(contrib)
	})
}

// Add the radiance gathered by the current estimate to the frame
// accumulator.
func (mc *MonteCarlo) accumSampling(offset, size image.Point) {
	ws := &mc.ws
	mc.parallelFor(size.X*size.Y, func(i int) {
		index := mc.pixelIndex(offset, size, i)
		mc.hdr[index] = mc.hdr[index].Add(ws.samplesAccum[i])
	})
}

// Extension point for per-pixel adaptive sampling; all pixels currently
// receive the same number of samples.
func (mc *MonteCarlo) adaptiveSampling() {}

// Map a tile-local pixel index to a frame buffer index.
func (mc *MonteCarlo) pixelIndex(offset, size image.Point, i int) int {
	ix := offset.X + i%size.X
	iy := offset.Y + i/size.X
	return iy*mc.width + ix
}
