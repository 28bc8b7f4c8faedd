package integrator

import (
	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/types"
)

// Offset applied to secondary ray origins to avoid self-intersection.
const rayEpsilon float32 = 1e-4

func interpolate(attr []types.Vec3, indices []uint32, prim int32, uvwt types.Vec4) types.Vec3 {
	a := attr[indices[3*prim]]
	b := attr[indices[3*prim+1]]
	c := attr[indices[3*prim+2]]

	u, v := uvwt[0], uvwt[1]
	return a.Mul(1 - u - v).Add(b.Mul(u)).Add(c.Mul(v))
}

// Interpolate the world-space hit position.
func (sh *shape) position(hit *tracer.Hit) types.Vec3 {
	return interpolate(sh.positions, sh.indices, hit.PrimID, hit.UVWT)
}

// Interpolate the shading normal at the hit. Meshes without normals use the
// geometric normal of the hit triangle.
func (sh *shape) normal(hit *tracer.Hit) types.Vec3 {
	if len(sh.normals) == len(sh.positions) {
		if n := interpolate(sh.normals, sh.indices, hit.PrimID, hit.UVWT).Normalize(); n != (types.Vec3{}) {
			return n
		}
	}

	a := sh.positions[sh.indices[3*hit.PrimID]]
	b := sh.positions[sh.indices[3*hit.PrimID+1]]
	c := sh.positions[sh.indices[3*hit.PrimID+2]]
	return b.Sub(a).Cross(c.Sub(a)).Normalize()
}

// Get the hit position and a normal facing the ray that produced the hit.
func (sh *shape) surface(hit *tracer.Hit, view *tracer.Ray) (pos, normal types.Vec3) {
	pos = sh.position(hit)
	normal = sh.normal(hit)
	if normal.Dot(view.Dir) > 0 {
		normal = normal.Neg()
	}
	return pos, normal
}
