package scene

import "github.com/achilleasa/lumen/types"

// Well-known material parameter names.
const (
	ParamDiffuse  = "diffuse"
	ParamEmissive = "emissive"
)

// The Material interface is implemented by surface materials. Get copies the
// named parameter into out and reports whether the material defines it.
type Material interface {
	Get(name string, out *types.Vec3) bool
}

// A material backed by a map of named color parameters.
type ParamMaterial struct {
	Name   string
	Params map[string]types.Vec3
}

// Create a diffuse material.
func NewDiffuseMaterial(name string, albedo types.Vec3) *ParamMaterial {
	return &ParamMaterial{
		Name:   name,
		Params: map[string]types.Vec3{ParamDiffuse: albedo},
	}
}

// Create an emissive material.
func NewEmissiveMaterial(name string, radiance types.Vec3) *ParamMaterial {
	return &ParamMaterial{
		Name:   name,
		Params: map[string]types.Vec3{ParamEmissive: radiance},
	}
}

func (m *ParamMaterial) Get(name string, out *types.Vec3) bool {
	v, ok := m.Params[name]
	if ok {
		*out = v
	}
	return ok
}

// Albedo returns the diffuse parameter of mat or zero if it is not defined.
func Albedo(mat Material) types.Vec3 {
	var v types.Vec3
	if mat != nil {
		mat.Get(ParamDiffuse, &v)
	}
	return v
}
