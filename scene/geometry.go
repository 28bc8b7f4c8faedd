package scene

import "github.com/achilleasa/lumen/types"

// The Geometry interface is implemented by renderable scene objects. Each
// submesh of the mesh uses the material with the same index.
type Geometry interface {
	Visible() bool
	GlobalIllumination() bool
	Mesh() *Mesh
	Materials() []Material
}

// A basic Geometry implementation.
type Object struct {
	Name string

	Hidden bool

	// Exclude this object from global illumination.
	NoGI bool

	mesh      *Mesh
	materials []Material
}

// Create a visible, GI-enabled object.
func NewObject(name string, mesh *Mesh, materials []Material) *Object {
	return &Object{
		Name:      name,
		mesh:      mesh,
		materials: materials,
	}
}

func (o *Object) Visible() bool            { return !o.Hidden }
func (o *Object) GlobalIllumination() bool { return !o.NoGI }
func (o *Object) Mesh() *Mesh              { return o.mesh }
func (o *Object) Materials() []Material    { return o.materials }

// Create a quad centered at center and spanned by the half-extent vectors u
// and v. The quad normal is u x v.
func NewQuad(name string, center, u, v types.Vec3, mat Material) *Object {
	mesh := NewMesh(name)
	normal := u.Cross(v).Normalize()
	mesh.Positions = []types.Vec3{
		center.Sub(u).Sub(v),
		center.Add(u).Sub(v),
		center.Add(u).Add(v),
		center.Sub(u).Add(v),
	}
	mesh.Normals = []types.Vec3{normal, normal, normal, normal}
	mesh.Texcoords = []types.Vec2{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	mesh.AddSubmesh([]uint32{0, 1, 2, 0, 2, 3})

	return NewObject(name, mesh, []Material{mat})
}
