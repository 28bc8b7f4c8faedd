package scene

import (
	"fmt"

	"github.com/achilleasa/lumen/types"
)

// The camera looks down the +Z axis in camera space. Primary rays start at
// Position and pass through an image plane located Focal units in front of
// the camera.
type Camera struct {
	Position types.Vec3

	// Distance to the image plane.
	Focal float32

	// Flip the image plane vertically so that row 0 of the frame buffer
	// maps to the top of the image.
	InvertY bool
}

func NewCamera() *Camera {
	return &Camera{
		Position: types.Vec3{0, 0, 0},
		Focal:    1,
	}
}

func (c *Camera) String() string {
	return fmt.Sprintf("camera at (%3.3f, %3.3f, %3.3f), focal %3.3f, invertY %t", c.Position[0], c.Position[1], c.Position[2], c.Focal, c.InvertY)
}
