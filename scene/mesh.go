package scene

import (
	"sync/atomic"

	"github.com/achilleasa/lumen/types"
)

var nextMeshID atomic.Uint64

// A triangle mesh. Vertex attribute arrays are shared by all submeshes; each
// submesh is an index array referencing them (3 indices per triangle).
type Mesh struct {
	id uint64

	Name string

	Positions []types.Vec3
	Normals   []types.Vec3
	Texcoords []types.Vec2

	Submeshes [][]uint32
}

// Create a new mesh with a process-unique id.
func NewMesh(name string) *Mesh {
	return &Mesh{
		id:   nextMeshID.Add(1),
		Name: name,
	}
}

// Get the stable mesh id assigned when the mesh was created.
func (m *Mesh) ID() uint64 {
	return m.id
}

// Append a submesh and return its index.
func (m *Mesh) AddSubmesh(indices []uint32) int {
	m.Submeshes = append(m.Submeshes, indices)
	return len(m.Submeshes) - 1
}

// Calculate the mesh AABB.
func (m *Mesh) BBox() [2]types.Vec3 {
	if len(m.Positions) == 0 {
		return [2]types.Vec3{}
	}
	bbox := [2]types.Vec3{m.Positions[0], m.Positions[0]}
	for _, p := range m.Positions[1:] {
		bbox[0] = types.MinVec3(bbox[0], p)
		bbox[1] = types.MaxVec3(bbox[1], p)
	}
	return bbox
}
