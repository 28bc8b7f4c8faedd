package tracer

import (
	"errors"
	"unsafe"

	"github.com/achilleasa/lumen/types"
)

// NullID marks the shape/primitive id of a ray that did not intersect any
// geometry.
const NullID int32 = -1

// A ray record as consumed by intersection backends.
type Ray struct {
	Origin types.Vec3
	MaxT   float32

	Dir  types.Vec3
	Time float32

	Mask   int32
	Active bool
	_      [3]byte
}

// An intersection record as produced by intersection backends.
type Hit struct {
	ShapeID int32
	PrimID  int32
	_       [2]int32

	// Barycentric coords (u, v), unused w and the hit distance t.
	UVWT types.Vec4
}

// Size of buffer elements in bytes.
const (
	SizeofRay = int(unsafe.Sizeof(Ray{}))
	SizeofHit = int(unsafe.Sizeof(Hit{}))
)

// Returns true if the hit refers to an intersection.
func (h *Hit) Valid() bool {
	return h.ShapeID != NullID && h.PrimID != NullID
}

// Mark the hit as a miss.
func (h *Hit) Clear() {
	*h = Hit{ShapeID: NullID, PrimID: NullID}
}

// Buffer map modes.
type MapMode uint8

const (
	MapRead MapMode = 1 << iota
	MapWrite
)

var (
	ErrBufferMapped    = errors.New("tracer: buffer is already mapped")
	ErrBufferNotMapped = errors.New("tracer: buffer is not mapped")
	ErrBufferRange     = errors.New("tracer: buffer access out of range")
	ErrUnknownShape    = errors.New("tracer: unknown shape")
)

// An Event signals the completion of an asynchronous backend operation.
// Callers must Wait for the event and Release it afterwards.
type Event interface {
	Wait() error
	Release()
}

// A Shape is a mesh committed to a backend.
type Shape interface {
	ID() int32
	SetID(id int32)
}

// An opaque handle to backend-owned memory.
type Buffer interface {
	Size() int
}

// The Backend interface is implemented by ray/scene intersection engines.
type Backend interface {
	// Get the device the backend runs on.
	Device() DeviceInfo

	// Create a triangle mesh. Vertices are read as consecutive xyz floats
	// located strideBytes apart.
	CreateMesh(vertices []float32, strideBytes int, indices []uint32, numFaces int) (Shape, error)

	// Add or remove a shape from the scene. Changes become visible after
	// Commit.
	AttachShape(Shape) error
	DetachShape(Shape) error
	DeleteShape(Shape) error

	// Rebuild acceleration structures for the attached shapes.
	Commit() error

	// Allocate a buffer of the given size optionally initialized with data.
	CreateBuffer(sizeBytes int, initialData []byte) (Buffer, error)
	DeleteBuffer(Buffer) error

	// Map a buffer region into host memory.
	MapBuffer(buf Buffer, mode MapMode, offset, size int) ([]byte, Event, error)
	UnmapBuffer(buf Buffer, data []byte) (Event, error)

	// Find the closest intersection for each of the first numRays rays
	// and write it to the hit buffer.
	QueryIntersection(rays Buffer, numRays int, hits Buffer) (Event, error)

	// Release all backend resources.
	Close()
}

// Reinterpret mapped memory as a ray slice.
func RaysFromBytes(data []byte) []Ray {
	if len(data) < SizeofRay {
		return nil
	}
	return unsafe.Slice((*Ray)(unsafe.Pointer(&data[0])), len(data)/SizeofRay)
}

// Reinterpret mapped memory as a hit slice.
func HitsFromBytes(data []byte) []Hit {
	if len(data) < SizeofHit {
		return nil
	}
	return unsafe.Slice((*Hit)(unsafe.Pointer(&data[0])), len(data)/SizeofHit)
}
