package scene

import (
	"fmt"
)

// A Scene bundles everything the renderer reads while tracing a frame.
type Scene struct {
	Camera *Camera

	Geometries []Geometry
	Lights     []Light
}

func NewScene() *Scene {
	return &Scene{
		Camera:     NewCamera(),
		Geometries: make([]Geometry, 0),
		Lights:     make([]Light, 0),
	}
}

// Attach a camera to the scene.
func (s *Scene) SetCamera(camera *Camera) {
	s.Camera = camera
}

// Add a geometry to the scene.
func (s *Scene) AddGeometry(geometry Geometry) error {
	for _, geom := range s.Geometries {
		if geom == geometry {
			return fmt.Errorf("scene: geometry already added")
		}
	}
	if geometry.Mesh() == nil {
		return fmt.Errorf("scene: geometry has no mesh")
	}
	if len(geometry.Materials()) != len(geometry.Mesh().Submeshes) {
		return fmt.Errorf("scene: geometry defines %d materials for %d submeshes", len(geometry.Materials()), len(geometry.Mesh().Submeshes))
	}
	s.Geometries = append(s.Geometries, geometry)
	return nil
}

// Add a light to the scene.
func (s *Scene) AddLight(light Light) {
	s.Lights = append(s.Lights, light)
}

// Count the triangles of all visible geometries.
func (s *Scene) NumTriangles() int {
	total := 0
	for _, geom := range s.Geometries {
		if !geom.Visible() {
			continue
		}
		for _, indices := range geom.Mesh().Submeshes {
			total += len(indices) / 3
		}
	}
	return total
}
