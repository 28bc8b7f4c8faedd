package integrator

import (
	"fmt"
	"image"
	"math"

	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/types"
)

// Generate one jittered primary ray per tile pixel and upload them to the
// backend ray buffer.
func (mc *MonteCarlo) generateCameraRays(camera *scene.Camera, offset, size image.Point) error {
	ws := &mc.ws
	aspect := float32(mc.width) / float32(mc.height)
	xstep := 2.0 / float32(mc.width)
	ystep := 2.0 / float32(mc.height)

	focal := camera.Focal
	if focal <= 0 {
		focal = 1
	}

	rays := ws.rays[0][:ws.numEstimate]
	mc.parallelFor(ws.numEstimate, func(i int) {
		ix := offset.X + i%size.X
		iy := offset.Y + i/size.X
		rnd := ws.random[i]

		x := xstep*(float32(ix)+rnd[0]) - 1
		y := ystep*(float32(iy)+rnd[1]) - 1
		if camera.InvertY {
			y = -y
		}

		rays[i] = tracer.Ray{
			Origin: camera.Position,
			Dir:    types.Vec3{x * aspect, y, focal}.Normalize(),
			MaxT:   math.MaxFloat32,
			Mask:   -1,
			Active: true,
		}
	})

	return mc.uploadRays(ws.rayBuf, rays)
}

// Scatter every live, non-emissive path and upload the rays for the next
// bounce. Paths that missed or hit an emitter get an inactive ray.
func (mc *MonteCarlo) generateBounceRays(pass int) error {
	ws := &mc.ws
	rays := ws.rays[(pass&1)^1][:ws.numEstimate]
	views := ws.rays[pass&1]

	clear(ws.weights[:ws.numEstimate])
	clear(rays)

	mc.parallelFor(ws.numEstimate, func(i int) {
		hit := &ws.hits[i]
		if !hit.Valid() {
			return
		}

		sh, mat := mc.cache.lookup(hit.ShapeID)
		if mat.IsEmissive() {
			return
		}

		view := &views[i]
		pos, normal := sh.surface(hit, view)
		dir, weight := mc.sampler.Sample(normal, view.Dir.Neg(), mat, ws.random[i])
		if !(weight[3] > 0) {
			panic(fmt.Sprintf("integrator: sampler returned non-positive pdf %f", weight[3]))
		}

		ws.weights[i] = weight
		rays[i] = tracer.Ray{
			Origin: pos.Add(dir.Mul(rayEpsilon)),
			Dir:    dir,
			MaxT:   math.MaxFloat32,
			Mask:   -1,
			Active: true,
		}
	})

	return mc.uploadRays(ws.rayBuf, rays)
}

// Sample light for every live, non-emissive path and upload the resulting
// shadow rays.
func (mc *MonteCarlo) generateShadowRays(pass int, light scene.Light) error {
	ws := &mc.ws
	rays := ws.shadowRays[:ws.numEstimate]
	views := ws.rays[pass&1]

	clear(rays)

	mc.parallelFor(ws.numEstimate, func(i int) {
		hit := &ws.hits[i]
		if !hit.Valid() {
			return
		}

		sh, mat := mc.cache.lookup(hit.ShapeID)
		if mat.IsEmissive() {
			return
		}

		pos, normal := sh.surface(hit, &views[i])
		L := light.Sample(pos, normal, mat.Source, ws.random[i])
		if !L.Vec3().IsFinite() {
			panic(fmt.Sprintf("integrator: light returned non-finite sample %v", L))
		}

		if L[3] > 0 {
			dir := L.Vec3()
			rays[i] = tracer.Ray{
				Origin: pos.Add(dir.Mul(rayEpsilon)),
				Dir:    dir,
				MaxT:   L[3],
				Mask:   -1,
				Active: true,
			}
		}
	})

	return mc.uploadRays(ws.shadowRayBuf, rays)
}
