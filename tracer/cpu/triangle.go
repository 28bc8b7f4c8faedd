package cpu

import (
	"github.com/chewxy/math32"

	"github.com/achilleasa/lumen/types"
)

// Rays closer to parallel than this are treated as misses.
const parallelEpsilon float32 = 1e-9

// A triangle flattened out of an attached shape.
type triangle struct {
	v0     types.Vec3
	edge1  types.Vec3
	edge2  types.Vec3
	bbox   [2]types.Vec3
	center types.Vec3

	shape *mesh
	prim  int32
}

func newTriangle(v0, v1, v2 types.Vec3, shape *mesh, prim int32) triangle {
	bbox := [2]types.Vec3{
		types.MinVec3(v0, types.MinVec3(v1, v2)),
		types.MaxVec3(v0, types.MaxVec3(v1, v2)),
	}
	return triangle{
		v0:     v0,
		edge1:  v1.Sub(v0),
		edge2:  v2.Sub(v0),
		bbox:   bbox,
		center: v0.Add(v1).Add(v2).Mul(1.0 / 3.0),
		shape:  shape,
		prim:   prim,
	}
}

// Möller-Trumbore ray/triangle test. Returns the hit distance and the
// barycentric coordinates of the hit point.
func (tri *triangle) intersect(origin, dir types.Vec3) (t, u, v float32, ok bool) {
	pvec := dir.Cross(tri.edge2)
	det := tri.edge1.Dot(pvec)
	if math32.Abs(det) < parallelEpsilon {
		return 0, 0, 0, false
	}
	invDet := 1.0 / det

	tvec := origin.Sub(tri.v0)
	u = tvec.Dot(pvec) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}

	qvec := tvec.Cross(tri.edge1)
	v = dir.Dot(qvec) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}

	t = tri.edge2.Dot(qvec) * invDet
	return t, u, v, true
}

// Slab test against a node bbox. Returns true if the ray enters the box
// before maxT.
func intersectBBox(min, max, origin, invDir types.Vec3, maxT float32) bool {
	tmin := float32(0)
	tmax := maxT
	for ax := 0; ax < 3; ax++ {
		t0 := (min[ax] - origin[ax]) * invDir[ax]
		t1 := (max[ax] - origin[ax]) * invDir[ax]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		// NaN comparisons fail, leaving the current bounds untouched
		if t0 > tmin {
			tmin = t0
		}
		if t1 < tmax {
			tmax = t1
		}
		if tmin > tmax {
			return false
		}
	}
	return true
}
