package integrator

import (
	"fmt"

	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/types"
)

// A shading record derived from a scene material when it is compiled.
type Material struct {
	Albedo   types.Vec3
	Emissive types.Vec3

	// The scene material this record was built from; passed through to
	// light evaluation.
	Source scene.Material
}

// Returns true if any emissive channel is positive.
func (m *Material) IsEmissive() bool {
	return m.Emissive[0] > 0 || m.Emissive[1] > 0 || m.Emissive[2] > 0
}

// A mesh submesh committed to the intersection backend. Vertex data is
// copied out of the scene mesh so later edits to the mesh do not affect
// committed shapes.
type shape struct {
	positions []types.Vec3
	normals   []types.Vec3
	texcoords []types.Vec2
	indices   []uint32
}

type cacheKey struct {
	meshID  uint64
	submesh int
}

// An additive arena of committed shapes and their materials. A shape's
// backend id is its index in the arena.
type sceneCache struct {
	ids       map[cacheKey]int32
	shapes    []*shape
	materials []*Material
	count     int
}

func newSceneCache() *sceneCache {
	return &sceneCache{
		ids: make(map[cacheKey]int32),
	}
}

// Number of committed shapes.
func (c *sceneCache) len() int {
	return c.count
}

func (c *sceneCache) lookup(id int32) (*shape, *Material) {
	return c.shapes[id], c.materials[id]
}

func (c *sceneCache) store(id int32, sh *shape, mat *Material) {
	if int(id) >= len(c.shapes) {
		newLen := int((id | 1) << 1)
		c.shapes = append(c.shapes, make([]*shape, newLen-len(c.shapes))...)
		c.materials = append(c.materials, make([]*Material, newLen-len(c.materials))...)
	}
	c.shapes[id] = sh
	c.materials[id] = mat
	c.count++
}

// Register every not yet committed submesh of the visible, GI-enabled
// geometries with the backend. The backend scene is committed whenever shapes
// were attached since the last successful commit, even if a later geometry
// fails to compile. Compile reports whether the cache contains any shapes.
func (mc *MonteCarlo) Compile(geometries []scene.Geometry) (nonEmpty bool, err error) {
	defer func() {
		if !mc.needCommit {
			return
		}

		mc.logger.Debugf("committing scene with %d shapes", mc.cache.len())
		if commitErr := mc.backend.Commit(); commitErr != nil {
			if err == nil {
				err = commitErr
			}
			nonEmpty = false
			return
		}
		mc.needCommit = false
	}()

	for _, geom := range geometries {
		if !geom.Visible() || !geom.GlobalIllumination() {
			continue
		}

		mesh := geom.Mesh()
		for submesh, mat := range geom.Materials() {
			key := cacheKey{meshID: mesh.ID(), submesh: submesh}
			if _, exists := mc.cache.ids[key]; exists {
				continue
			}
			if submesh >= len(mesh.Submeshes) {
				return false, fmt.Errorf("integrator: mesh %q has no submesh %d", mesh.Name, submesh)
			}

			indices := mesh.Submeshes[submesh]
			handle, err := mc.backend.CreateMesh(flattenPositions(mesh.Positions), 12, indices, len(indices)/3)
			if err != nil {
				return false, fmt.Errorf("integrator: could not create shape for mesh %q: %w", mesh.Name, err)
			}

			id := int32(mc.cache.len())
			handle.SetID(id)
			if err = mc.backend.AttachShape(handle); err != nil {
				if delErr := mc.backend.DeleteShape(handle); delErr != nil {
					mc.logger.Warningf("could not release shape for mesh %q: %s", mesh.Name, delErr)
				}
				return false, err
			}

			sh := &shape{
				positions: append([]types.Vec3(nil), mesh.Positions...),
				normals:   append([]types.Vec3(nil), mesh.Normals...),
				texcoords: append([]types.Vec2(nil), mesh.Texcoords...),
				indices:   append([]uint32(nil), indices...),
			}
			material := &Material{Source: mat}
			if mat != nil {
				mat.Get(scene.ParamDiffuse, &material.Albedo)
				mat.Get(scene.ParamEmissive, &material.Emissive)
			}

			mc.cache.store(id, sh, material)
			mc.cache.ids[key] = id
			mc.handles = append(mc.handles, handle)
			mc.needCommit = true
		}
	}

	return mc.cache.len() > 0, nil
}

func flattenPositions(positions []types.Vec3) []float32 {
	out := make([]float32, 0, 3*len(positions))
	for _, p := range positions {
		out = append(out, p[0], p[1], p[2])
	}
	return out
}
