package scene

import (
	"github.com/chewxy/math32"

	"github.com/achilleasa/lumen/types"
)

// The Light interface is implemented by lights that support next event
// estimation.
type Light interface {
	// Sample a direction from pos towards the light. The returned vector
	// packs the normalized direction in xyz and the distance to the sampled
	// point in w. A w value <= 0 indicates that the light cannot illuminate
	// pos.
	Sample(pos, normal types.Vec3, mat Material, rnd types.Vec2) types.Vec4

	// Radiance reflected towards viewDir from an unoccluded sample arriving
	// along lightDir. Distance falloff is applied by the caller.
	Li(normal, viewDir, lightDir types.Vec3, mat Material, rnd types.Vec2) types.Vec3
}

// An isotropic point light.
type PointLight struct {
	Position  types.Vec3
	Intensity types.Vec3
}

func NewPointLight(position, intensity types.Vec3) *PointLight {
	return &PointLight{
		Position:  position,
		Intensity: intensity,
	}
}

func (l *PointLight) Sample(pos, normal types.Vec3, _ Material, _ types.Vec2) types.Vec4 {
	toLight := l.Position.Sub(pos)
	dist := toLight.Len()
	if dist <= 0 {
		return types.Vec4{}
	}

	dir := toLight.Mul(1.0 / dist)
	if normal.Dot(dir) <= 0 {
		return dir.Vec4(0)
	}

	return dir.Vec4(dist)
}

func (l *PointLight) Li(normal, _, lightDir types.Vec3, mat Material, _ types.Vec2) types.Vec3 {
	cosTheta := math32.Max(0, normal.Dot(lightDir))
	return l.Intensity.MulVec(Albedo(mat)).Mul(cosTheta / math32.Pi)
}
