package cpu

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/types"
)

// Rays are processed in batches of this size by each worker.
const rayBatchSize = 256

var (
	ErrInvalidMesh   = errors.New("cpu backend: invalid mesh data")
	ErrInvalidBuffer = errors.New("cpu backend: buffer was not created by this backend")
	ErrClosed        = errors.New("cpu backend: backend is closed")
)

// List the devices that can run the cpu backend.
func Devices() []tracer.DeviceInfo {
	return []tracer.DeviceInfo{
		{
			Name:         fmt.Sprintf("Host CPU (%s/%s)", runtime.GOOS, runtime.GOARCH),
			Vendor:       "Go runtime",
			Type:         tracer.CpuDevice,
			ComputeUnits: uint32(runtime.NumCPU()),
		},
	}
}

// A shape created by the cpu backend.
type mesh struct {
	id        int32
	positions []types.Vec3
	indices   []uint32
	numFaces  int
	attached  bool
}

func (m *mesh) ID() int32 {
	return m.id
}

func (m *mesh) SetID(id int32) {
	m.id = id
}

// Host memory backing a tracer.Buffer.
type buffer struct {
	data   []byte
	mapped bool
}

func (b *buffer) Size() int {
	return len(b.data)
}

// The cpu backend completes all operations synchronously so every event it
// returns is already signaled.
type doneEvent struct {
	err error
}

func (e *doneEvent) Wait() error { return e.err }
func (e *doneEvent) Release()    {}

// A tracer.Backend that intersects rays on the host CPU.
type Backend struct {
	logger log.Logger
	device tracer.DeviceInfo

	mu sync.RWMutex

	nextShapeID int32
	shapes      map[*mesh]struct{}
	attached    []*mesh
	buffers     map[*buffer]struct{}

	// Acceleration structure built by the last Commit.
	tris  []triangle
	nodes []bvhNode

	workers int
	closed  bool
}

// Create a cpu backend running on the given device.
func New(device tracer.DeviceInfo) *Backend {
	workers := int(device.ComputeUnits)
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Backend{
		logger:  log.New("cpu backend"),
		device:  device,
		shapes:  make(map[*mesh]struct{}),
		buffers: make(map[*buffer]struct{}),
		workers: workers,
	}
}

func (b *Backend) Device() tracer.DeviceInfo {
	return b.device
}

func (b *Backend) CreateMesh(vertices []float32, strideBytes int, indices []uint32, numFaces int) (tracer.Shape, error) {
	if strideBytes < 12 || strideBytes%4 != 0 {
		return nil, fmt.Errorf("%w: vertex stride %d", ErrInvalidMesh, strideBytes)
	}
	if numFaces < 0 || len(indices) < 3*numFaces {
		return nil, fmt.Errorf("%w: %d indices cannot describe %d faces", ErrInvalidMesh, len(indices), numFaces)
	}

	stride := strideBytes / 4
	numVerts := 0
	if len(vertices) >= 3 {
		numVerts = (len(vertices)-3)/stride + 1
	}

	positions := make([]types.Vec3, numVerts)
	for i := range positions {
		off := i * stride
		positions[i] = types.Vec3{vertices[off], vertices[off+1], vertices[off+2]}
	}

	faceIndices := make([]uint32, 3*numFaces)
	copy(faceIndices, indices)
	for _, idx := range faceIndices {
		if int(idx) >= numVerts {
			return nil, fmt.Errorf("%w: index %d out of range (%d vertices)", ErrInvalidMesh, idx, numVerts)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	m := &mesh{
		id:        b.nextShapeID,
		positions: positions,
		indices:   faceIndices,
		numFaces:  numFaces,
	}
	b.nextShapeID++
	b.shapes[m] = struct{}{}

	return m, nil
}

func (b *Backend) lookupShape(shape tracer.Shape) (*mesh, error) {
	m, ok := shape.(*mesh)
	if !ok {
		return nil, tracer.ErrUnknownShape
	}
	if _, exists := b.shapes[m]; !exists {
		return nil, tracer.ErrUnknownShape
	}
	return m, nil
}

func (b *Backend) AttachShape(shape tracer.Shape) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.lookupShape(shape)
	if err != nil {
		return err
	}
	if !m.attached {
		m.attached = true
		b.attached = append(b.attached, m)
	}
	return nil
}

func (b *Backend) DetachShape(shape tracer.Shape) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.lookupShape(shape)
	if err != nil {
		return err
	}
	b.detach(m)
	return nil
}

func (b *Backend) detach(m *mesh) {
	if !m.attached {
		return
	}
	m.attached = false
	for i, other := range b.attached {
		if other == m {
			b.attached = append(b.attached[:i], b.attached[i+1:]...)
			break
		}
	}
}

func (b *Backend) DeleteShape(shape tracer.Shape) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	m, err := b.lookupShape(shape)
	if err != nil {
		return err
	}
	b.detach(m)
	delete(b.shapes, m)
	return nil
}

// Flatten all attached shapes and rebuild the BVH.
func (b *Backend) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	numTris := 0
	for _, m := range b.attached {
		numTris += m.numFaces
	}

	tris := make([]triangle, 0, numTris)
	for _, m := range b.attached {
		for face := 0; face < m.numFaces; face++ {
			tris = append(tris, newTriangle(
				m.positions[m.indices[3*face]],
				m.positions[m.indices[3*face+1]],
				m.positions[m.indices[3*face+2]],
				m,
				int32(face),
			))
		}
	}

	b.tris = tris
	b.nodes = buildBVH(b.logger, tris)
	b.logger.Debugf("committed %d shapes (%d triangles)", len(b.attached), len(tris))
	return nil
}

func (b *Backend) CreateBuffer(sizeBytes int, initialData []byte) (tracer.Buffer, error) {
	if sizeBytes < 0 || len(initialData) > sizeBytes {
		return nil, fmt.Errorf("%w: cannot create %d byte buffer from %d bytes of data", tracer.ErrBufferRange, sizeBytes, len(initialData))
	}

	buf := &buffer{data: make([]byte, sizeBytes)}
	copy(buf.data, initialData)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	b.buffers[buf] = struct{}{}
	return buf, nil
}

func (b *Backend) lookupBuffer(buf tracer.Buffer) (*buffer, error) {
	hostBuf, ok := buf.(*buffer)
	if !ok {
		return nil, ErrInvalidBuffer
	}
	if _, exists := b.buffers[hostBuf]; !exists {
		return nil, ErrInvalidBuffer
	}
	return hostBuf, nil
}

func (b *Backend) DeleteBuffer(buf tracer.Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	hostBuf, err := b.lookupBuffer(buf)
	if err != nil {
		return err
	}
	delete(b.buffers, hostBuf)
	hostBuf.data = nil
	return nil
}

// Map a buffer region. The returned slice aliases the buffer memory.
func (b *Backend) MapBuffer(buf tracer.Buffer, _ tracer.MapMode, offset, size int) ([]byte, tracer.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hostBuf, err := b.lookupBuffer(buf)
	if err != nil {
		return nil, nil, err
	}
	if hostBuf.mapped {
		return nil, nil, tracer.ErrBufferMapped
	}
	if offset < 0 || size < 0 || offset+size > len(hostBuf.data) {
		return nil, nil, fmt.Errorf("%w: region [%d, %d) of %d byte buffer", tracer.ErrBufferRange, offset, offset+size, len(hostBuf.data))
	}

	hostBuf.mapped = true
	return hostBuf.data[offset : offset+size : offset+size], &doneEvent{}, nil
}

func (b *Backend) UnmapBuffer(buf tracer.Buffer, _ []byte) (tracer.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hostBuf, err := b.lookupBuffer(buf)
	if err != nil {
		return nil, err
	}
	if !hostBuf.mapped {
		return nil, tracer.ErrBufferNotMapped
	}
	hostBuf.mapped = false
	return &doneEvent{}, nil
}

// Find the closest hit for the first numRays rays. Inactive rays and rays
// that miss all geometry produce a null hit.
func (b *Backend) QueryIntersection(rays tracer.Buffer, numRays int, hits tracer.Buffer) (tracer.Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rayBuf, err := b.lookupBuffer(rays)
	if err != nil {
		return nil, err
	}
	hitBuf, err := b.lookupBuffer(hits)
	if err != nil {
		return nil, err
	}
	if numRays < 0 || numRays*tracer.SizeofRay > len(rayBuf.data) || numRays*tracer.SizeofHit > len(hitBuf.data) {
		return nil, fmt.Errorf("%w: cannot query %d rays", tracer.ErrBufferRange, numRays)
	}
	if numRays == 0 {
		return &doneEvent{}, nil
	}

	rayList := tracer.RaysFromBytes(rayBuf.data)[:numRays]
	hitList := tracer.HitsFromBytes(hitBuf.data)[:numRays]

	var g errgroup.Group
	g.SetLimit(b.workers)
	for start := 0; start < numRays; start += rayBatchSize {
		end := min(start+rayBatchSize, numRays)
		g.Go(func() error {
			for i := start; i < end; i++ {
				b.closestHit(&rayList[i], &hitList[i])
			}
			return nil
		})
	}

	return &doneEvent{err: g.Wait()}, nil
}

func (b *Backend) closestHit(ray *tracer.Ray, hit *tracer.Hit) {
	hit.Clear()
	if !ray.Active || len(b.nodes) == 0 {
		return
	}

	invDir := types.Vec3{1.0 / ray.Dir[0], 1.0 / ray.Dir[1], 1.0 / ray.Dir[2]}
	closest := ray.MaxT
	if closest <= 0 {
		closest = math.MaxFloat32
	}

	var stackBuf [64]int32
	stack := append(stackBuf[:0], 0)
	for len(stack) > 0 {
		nodeIndex := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := &b.nodes[nodeIndex]
		if !intersectBBox(node.min, node.max, ray.Origin, invDir, closest) {
			continue
		}

		if node.isLeaf() {
			for i := node.first; i < node.first+node.count; i++ {
				tri := &b.tris[i]
				t, u, v, ok := tri.intersect(ray.Origin, ray.Dir)
				if !ok || t < 0 || t > closest {
					continue
				}
				closest = t
				hit.ShapeID = tri.shape.id
				hit.PrimID = tri.prim
				hit.UVWT = types.Vec4{u, v, 0, t}
			}
			continue
		}

		// Left child is stored right after its parent
		stack = append(stack, node.right, nodeIndex+1)
	}
}

// Release all shapes and buffers.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shapes = make(map[*mesh]struct{})
	b.buffers = make(map[*buffer]struct{})
	b.attached = nil
	b.tris = nil
	b.nodes = nil
	b.closed = true
}
