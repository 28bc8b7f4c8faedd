package integrator

import (
	"github.com/chewxy/math32"

	"github.com/achilleasa/lumen/types"
)

// The Sampler interface is implemented by scattering models. Sample picks an
// outgoing direction for a path arriving from wo at a surface with the given
// normal. The returned weight packs the BSDF throughput in xyz and the pdf of
// the sampled direction in w; w must be positive.
type Sampler interface {
	Sample(normal, wo types.Vec3, mat *Material, rnd types.Vec2) (dir types.Vec3, weight types.Vec4)
}

// A cosine-weighted sampler for ideal diffuse surfaces.
type Lambertian struct{}

func (Lambertian) Sample(normal, _ types.Vec3, mat *Material, rnd types.Vec2) (types.Vec3, types.Vec4) {
	tangent, bitangent := orthonormalBasis(normal)

	// rnd is in [0, 1) so cosTheta is always positive
	cosTheta := math32.Sqrt(1 - rnd[1])
	sinTheta := math32.Sqrt(rnd[1])
	phi := 2 * math32.Pi * rnd[0]

	dir := tangent.Mul(math32.Cos(phi) * sinTheta).
		Add(bitangent.Mul(math32.Sin(phi) * sinTheta)).
		Add(normal.Mul(cosTheta)).
		Normalize()

	pdf := cosTheta / math32.Pi
	return dir, mat.Albedo.Mul(pdf).Vec4(pdf)
}

// Build a tangent frame around a unit normal (Duff et al. 2017).
func orthonormalBasis(n types.Vec3) (types.Vec3, types.Vec3) {
	sign := math32.Copysign(1, n[2])
	a := -1 / (sign + n[2])
	b := n[0] * n[1] * a
	return types.Vec3{1 + sign*n[0]*n[0]*a, sign * b, -sign * n[0]},
		types.Vec3{b, sign + n[1]*n[1]*a, -n[1]}
}
