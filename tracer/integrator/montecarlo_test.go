package integrator

import (
	"errors"
	"image"
	"io"
	"testing"

	"github.com/chewxy/math32"

	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/tracer"
	"github.com/achilleasa/lumen/tracer/cpu"
	"github.com/achilleasa/lumen/types"
)

func init() {
	log.SetSink(io.Discard)
}

// A random source that always returns the same pair.
type constantSource struct {
	v types.Vec2
}

func (s constantSource) Fill(dst []types.Vec2) {
	for i := range dst {
		dst[i] = s.v
	}
}

// Wraps the cpu backend and counts backend calls.
type countingBackend struct {
	*cpu.Backend

	meshes       int
	commits      int
	creates      int
	deletes      int
	shapeDeletes int

	failAttach error
	failCommit error
}

func (b *countingBackend) AttachShape(shape tracer.Shape) error {
	if b.failAttach != nil {
		return b.failAttach
	}
	return b.Backend.AttachShape(shape)
}

func (b *countingBackend) DeleteShape(shape tracer.Shape) error {
	b.shapeDeletes++
	return b.Backend.DeleteShape(shape)
}

func (b *countingBackend) CreateMesh(vertices []float32, strideBytes int, indices []uint32, numFaces int) (tracer.Shape, error) {
	b.meshes++
	return b.Backend.CreateMesh(vertices, strideBytes, indices, numFaces)
}

func (b *countingBackend) Commit() error {
	if b.failCommit != nil {
		return b.failCommit
	}
	b.commits++
	return b.Backend.Commit()
}

func (b *countingBackend) CreateBuffer(sizeBytes int, initialData []byte) (tracer.Buffer, error) {
	b.creates++
	return b.Backend.CreateBuffer(sizeBytes, initialData)
}

func (b *countingBackend) DeleteBuffer(buf tracer.Buffer) error {
	b.deletes++
	return b.Backend.DeleteBuffer(buf)
}

func newTestIntegrator(t *testing.T, w, h uint32, opts ...Option) (*MonteCarlo, *countingBackend) {
	backend := &countingBackend{Backend: cpu.New(cpu.Devices()[0])}
	mc := New(backend, opts...)
	if err := mc.Setup(w, h); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		mc.Close()
		backend.Close()
	})
	return mc, backend
}

// A large quad at depth z facing the camera.
func wallAt(z float32, mat scene.Material) *scene.Object {
	return scene.NewQuad("wall", types.Vec3{0.3, -0.7, z}, types.Vec3{10, 0, 0}, types.Vec3{0, 10, 0}, mat)
}

func approxEqual(a, b types.Vec3, tolerance float32) bool {
	for i := 0; i < 3; i++ {
		if math32.Abs(a[i]-b[i]) > tolerance {
			return false
		}
	}
	return true
}

func TestCompileIsIdempotent(t *testing.T) {
	mc, backend := newTestIntegrator(t, 4, 4)

	geometries := []scene.Geometry{
		wallAt(5, scene.NewDiffuseMaterial("white", types.Vec3{1, 1, 1})),
		wallAt(8, scene.NewEmissiveMaterial("light", types.Vec3{1, 1, 1})),
	}

	for pass := 0; pass < 2; pass++ {
		nonEmpty, err := mc.Compile(geometries)
		if err != nil {
			t.Fatal(err)
		}
		if !nonEmpty {
			t.Fatalf("[pass %d] expected compiled scene to be non-empty", pass)
		}
		if mc.cache.len() != 2 {
			t.Fatalf("[pass %d] expected scene cache to contain 2 shapes; got %d", pass, mc.cache.len())
		}
		if backend.commits != 1 {
			t.Fatalf("[pass %d] expected backend to be committed once; got %d", pass, backend.commits)
		}
		if backend.meshes != 2 {
			t.Fatalf("[pass %d] expected 2 backend meshes; got %d", pass, backend.meshes)
		}
	}

	// Adding a new geometry triggers a single extra commit
	geometries = append(geometries, wallAt(9, scene.NewDiffuseMaterial("grey", types.Vec3{0.5, 0.5, 0.5})))
	if _, err := mc.Compile(geometries); err != nil {
		t.Fatal(err)
	}
	if mc.cache.len() != 3 || backend.commits != 2 {
		t.Fatalf("expected 3 shapes after 2 commits; got %d shapes after %d commits", mc.cache.len(), backend.commits)
	}
	if len(mc.cache.shapes) != 6 {
		t.Fatalf("expected arena capacity to grow to 6; got %d", len(mc.cache.shapes))
	}
}

func TestCompileSkipsHiddenGeometry(t *testing.T) {
	mc, backend := newTestIntegrator(t, 4, 4)

	hidden := wallAt(5, scene.NewDiffuseMaterial("white", types.Vec3{1, 1, 1}))
	hidden.Hidden = true
	noGI := wallAt(6, scene.NewDiffuseMaterial("white", types.Vec3{1, 1, 1}))
	noGI.NoGI = true

	nonEmpty, err := mc.Compile([]scene.Geometry{hidden, noGI})
	if err != nil {
		t.Fatal(err)
	}
	if nonEmpty {
		t.Fatal("expected scene with hidden and non-GI geometry to compile to an empty cache")
	}
	if backend.commits != 0 {
		t.Fatalf("expected no backend commits; got %d", backend.commits)
	}

	// Render is a no-op for empty scenes
	if err = mc.Render(scene.NewCamera(), nil, []scene.Geometry{hidden}, 1, 0, 0, 4, 4); err != nil {
		t.Fatal(err)
	}
	if backend.creates != 0 {
		t.Fatalf("expected no workspace to be allocated; got %d buffers", backend.creates)
	}
}

func TestDirectEmissionWithSingleBounce(t *testing.T) {
	emissive := types.Vec3{0.5, 0.25, 1}
	mc, _ := newTestIntegrator(t, 4, 4, WithBounces(1))

	geometries := []scene.Geometry{wallAt(5, scene.NewEmissiveMaterial("light", emissive))}
	lights := []scene.Light{scene.NewPointLight(types.Vec3{0, 0, 1}, types.Vec3{10, 10, 10})}

	if err := mc.Render(scene.NewCamera(), lights, geometries, 1, 0, 0, 4, 4); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 16; i++ {
		if mc.ws.samplesAccum[i] != emissive {
			t.Fatalf("[pixel %d] expected accumulated sample %v; got %v", i, emissive, mc.ws.samplesAccum[i])
		}
		if mc.hdr[i] != emissive {
			t.Fatalf("[pixel %d] expected hdr value %v; got %v", i, emissive, mc.hdr[i])
		}
	}

	expPixel := uint32(0xFF<<24 | 255<<16 | 63<<8 | 127)
	if mc.Data()[0] != expPixel {
		t.Fatalf("expected ldr pixel %08x; got %08x", expPixel, mc.Data()[0])
	}
}

func TestAccumulationIsRunningSum(t *testing.T) {
	mc, _ := newTestIntegrator(t, 8, 8, WithBounces(3), WithRandomSource(NewPCGSource(42)))

	geometries := []scene.Geometry{
		wallAt(5, scene.NewDiffuseMaterial("white", types.Vec3{0.8, 0.8, 0.8})),
		scene.NewQuad("floor", types.Vec3{0, -2, 3}, types.Vec3{10, 0, 0}, types.Vec3{0, 0, 10}, scene.NewDiffuseMaterial("red", types.Vec3{0.8, 0.1, 0.1})),
	}
	lights := []scene.Light{scene.NewPointLight(types.Vec3{0, 1, 1}, types.Vec3{20, 20, 20})}

	const numFrames = 16
	expSum := make([]types.Vec3, 64)
	for frame := uint32(1); frame <= numFrames; frame++ {
		if err := mc.Render(scene.NewCamera(), lights, geometries, frame, 0, 0, 8, 8); err != nil {
			t.Fatal(err)
		}
		for i := range expSum {
			expSum[i] = expSum[i].Add(mc.ws.samplesAccum[i])
		}
	}

	for i, exp := range expSum {
		if !approxEqual(mc.hdr[i], exp, 1e-4) {
			t.Fatalf("[pixel %d] expected hdr to equal the sum of estimates %v; got %v", i, exp, mc.hdr[i])
		}
		mean := mc.hdr[i].Mul(1.0 / numFrames)
		if !mean.IsFinite() || mean[0] < 0 || mean[1] < 0 || mean[2] < 0 {
			t.Fatalf("[pixel %d] expected a finite, non-negative mean; got %v", i, mean)
		}
	}
}

func TestMissedPathsCarryNoRadiance(t *testing.T) {
	mc, _ := newTestIntegrator(t, 4, 2, WithBounces(3), WithRandomSource(constantSource{types.Vec2{0.5, 0.5}}))

	// The wall only covers the right half of the view
	wall := scene.NewQuad("half", types.Vec3{25, 0.3, 5}, types.Vec3{25, 0, 0}, types.Vec3{0, 50, 0}, scene.NewDiffuseMaterial("white", types.Vec3{1, 1, 1}))
	lights := []scene.Light{scene.NewPointLight(types.Vec3{0, 0, 1}, types.Vec3{10, 10, 10})}

	if _, err := mc.Compile([]scene.Geometry{wall}); err != nil {
		t.Fatal(err)
	}
	if err := mc.ensureWorkspace(8); err != nil {
		t.Fatal(err)
	}
	mc.random.Fill(mc.ws.random)
	if err := mc.generateCameraRays(scene.NewCamera(), image.Pt(0, 0), image.Pt(4, 2)); err != nil {
		t.Fatal(err)
	}
	if err := mc.queryIntersection(mc.ws.rayBuf, mc.ws.hitBuf); err != nil {
		t.Fatal(err)
	}
	if err := mc.gatherHits(); err != nil {
		t.Fatal(err)
	}

	missed := make([]bool, 8)
	for i := range missed {
		ix := i % 4
		missed[i] = !mc.ws.hits[i].Valid()
		if expMiss := ix < 2; missed[i] != expMiss {
			t.Fatalf("[pixel %d] expected primary miss to be %t; got %t", i, expMiss, missed[i])
		}
	}

	if err := mc.Estimate(scene.NewCamera(), lights, 1, image.Pt(0, 0), image.Pt(4, 2)); err != nil {
		t.Fatal(err)
	}

	for i, miss := range missed {
		if !miss {
			if mc.ws.samplesAccum[i] == (types.Vec3{}) {
				t.Fatalf("[pixel %d] expected lit pixel to gather radiance", i)
			}
			continue
		}
		if mc.ws.samples[i] != (types.Vec3{}) {
			t.Fatalf("[pixel %d] expected zero throughput for missed path; got %v", i, mc.ws.samples[i])
		}
		if mc.ws.samplesAccum[i] != (types.Vec3{}) {
			t.Fatalf("[pixel %d] expected zero radiance for missed path; got %v", i, mc.ws.samplesAccum[i])
		}
	}
}

func TestTonemapBoundaries(t *testing.T) {
	mc, _ := newTestIntegrator(t, 5, 1)

	const frame = 2
	mc.hdr[0] = types.Vec3{0, 0, 0}
	mc.hdr[1] = types.Vec3{0.9 / 255 * frame, 0.5 / 255 * frame, 0.1 / 255 * frame}
	mc.hdr[2] = types.Vec3{1 * frame, 3 * frame, 1000}
	mc.hdr[3] = types.Vec3{1 * frame, 0.5 * frame, 0}
	mc.hdr[4] = types.Vec3{-1, -5, 2.5 / 255.0 * frame}

	mc.colorTonemapping(frame, image.Pt(0, 0), image.Pt(5, 1))

	expPixels := []uint32{
		0xFF000000,
		0xFF000000,
		0xFFFFFFFF,
		0xFF007FFF,
		0xFF020000,
	}
	for i, exp := range expPixels {
		if mc.ldr[i] != exp {
			t.Fatalf("[pixel %d] expected packed value %08x; got %08x", i, exp, mc.ldr[i])
		}
	}
}

func TestTonemapPanicsOnNonFiniteRadiance(t *testing.T) {
	mc, _ := newTestIntegrator(t, 1, 1)
	mc.hdr[0] = types.Vec3{math32.NaN(), 0, 0}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected tonemapping a NaN accumulator to panic")
		}
	}()
	mc.colorTonemapping(1, image.Pt(0, 0), image.Pt(1, 1))
}

func TestWorkspaceGrowthIsSticky(t *testing.T) {
	mc, backend := newTestIntegrator(t, 128, 128, WithBounces(1))

	geometries := []scene.Geometry{wallAt(5, scene.NewDiffuseMaterial("white", types.Vec3{1, 1, 1}))}
	if _, err := mc.Compile(geometries); err != nil {
		t.Fatal(err)
	}

	type spec struct {
		tileSize    int
		expCapacity int
		expReallocs int
		expCreates  int
		expDeletes  int
	}
	specs := []spec{
		{64, 64 * 64, 1, 4, 0},
		{128, 128 * 128, 2, 8, 4},
		{64, 128 * 128, 2, 8, 4},
	}

	for index, s := range specs {
		if err := mc.Estimate(scene.NewCamera(), nil, uint32(index+1), image.Pt(0, 0), image.Pt(s.tileSize, s.tileSize)); err != nil {
			t.Fatal(err)
		}

		if mc.ws.capacity != s.expCapacity {
			t.Fatalf("[spec %d] expected workspace capacity %d; got %d", index, s.expCapacity, mc.ws.capacity)
		}
		if len(mc.ws.hits) < s.expCapacity || len(mc.ws.rays[1]) < s.expCapacity {
			t.Fatalf("[spec %d] expected workspace arrays to hold at least %d entries; got %d", index, s.expCapacity, len(mc.ws.hits))
		}
		if mc.ws.numEstimate != s.tileSize*s.tileSize {
			t.Fatalf("[spec %d] expected %d active entries; got %d", index, s.tileSize*s.tileSize, mc.ws.numEstimate)
		}
		if mc.ws.reallocs != s.expReallocs {
			t.Fatalf("[spec %d] expected %d reallocations; got %d", index, s.expReallocs, mc.ws.reallocs)
		}
		if backend.creates != s.expCreates || backend.deletes != s.expDeletes {
			t.Fatalf("[spec %d] expected %d buffer creates and %d deletes; got %d and %d", index, s.expCreates, s.expDeletes, backend.creates, backend.deletes)
		}
		if mc.ws.rayBuf.Size() != s.expCapacity*tracer.SizeofRay {
			t.Fatalf("[spec %d] expected ray buffer size %d; got %d", index, s.expCapacity*tracer.SizeofRay, mc.ws.rayBuf.Size())
		}
	}
}

func TestSymmetricTileIsUniformlyLit(t *testing.T) {
	const numPixels = 4
	opts := []Option{WithBounces(2), WithRandomSource(constantSource{types.Vec2{0.5, 0.5}})}
	mc, _ := newTestIntegrator(t, 2, 2, opts...)

	geometries := []scene.Geometry{wallAt(5, scene.NewDiffuseMaterial("white", types.Vec3{0.8, 0.8, 0.8}))}
	light := scene.NewPointLight(types.Vec3{0, 0, 2}, types.Vec3{50, 50, 50})
	camera := scene.NewCamera()
	offset, size := image.Pt(0, 0), image.Pt(2, 2)

	if _, err := mc.Compile(geometries); err != nil {
		t.Fatal(err)
	}

	// Step through the first bounce
	if err := mc.ensureWorkspace(numPixels); err != nil {
		t.Fatal(err)
	}
	mc.random.Fill(mc.ws.random[:numPixels])
	if err := mc.generateCameraRays(camera, offset, size); err != nil {
		t.Fatal(err)
	}
	if err := mc.queryIntersection(mc.ws.rayBuf, mc.ws.hitBuf); err != nil {
		t.Fatal(err)
	}
	if err := mc.gatherHits(); err != nil {
		t.Fatal(err)
	}
	mc.gatherFirstSampling()

	for i := 0; i < numPixels; i++ {
		if !mc.ws.hits[i].Valid() {
			t.Fatalf("[pixel %d] expected primary ray to hit the wall", i)
		}
		if mc.ws.samplesAccum[i] != (types.Vec3{}) {
			t.Fatalf("[pixel %d] expected no radiance before the shadow pass; got %v", i, mc.ws.samplesAccum[i])
		}
	}

	if err := mc.generateShadowRays(0, light); err != nil {
		t.Fatal(err)
	}
	if err := mc.queryIntersection(mc.ws.shadowRayBuf, mc.ws.shadowHitBuf); err != nil {
		t.Fatal(err)
	}
	if err := mc.gatherShadowHits(); err != nil {
		t.Fatal(err)
	}
	mc.gatherLightSamples(0, light)

	// Hits are at (+-2.5, +-2.5, 5), 4.637 units away from the light
	dist := math32.Sqrt(2.5*2.5 + 2.5*2.5 + 3*3)
	expRadiance := 50 * 0.8 * (3 / dist) / math32.Pi / (dist * dist)
	exp := types.Vec3{expRadiance, expRadiance, expRadiance}
	for i := 0; i < numPixels; i++ {
		if !approxEqual(mc.ws.samplesAccum[i], exp, 1e-4) {
			t.Fatalf("[pixel %d] expected radiance %v after the shadow pass; got %v", i, exp, mc.ws.samplesAccum[i])
		}
	}

	// Run the full estimate on a fresh integrator
	mc, _ = newTestIntegrator(t, 2, 2, opts...)
	if err := mc.Render(camera, []scene.Light{light}, geometries, 1, 0, 0, 2, 2); err != nil {
		t.Fatal(err)
	}
	ldr := mc.Data()
	for i := 1; i < numPixels; i++ {
		if ldr[i] != ldr[0] {
			t.Fatalf("[pixel %d] expected ldr value %08x; got %08x", i, ldr[0], ldr[i])
		}
	}
	if ldr[0] == 0xFF000000 {
		t.Fatal("expected lit pixels to be non-black")
	}
}

func TestEstimateArgumentErrors(t *testing.T) {
	mc := New(nil)
	if err := mc.Setup(4, 4); !errors.Is(err, ErrNoBackend) {
		t.Fatalf("expected error %v; got %v", ErrNoBackend, err)
	}

	mc, _ = newTestIntegrator(t, 4, 4)
	if err := mc.Setup(0, 4); !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected error %v; got %v", ErrInvalidFrame, err)
	}
	if err := mc.Estimate(scene.NewCamera(), nil, 1, image.Pt(2, 2), image.Pt(4, 4)); !errors.Is(err, ErrInvalidTile) {
		t.Fatalf("expected error %v; got %v", ErrInvalidTile, err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a zero frame counter to panic")
		}
	}()
	mc.Estimate(scene.NewCamera(), nil, 0, image.Pt(0, 0), image.Pt(4, 4))
}

func TestLambertianSample(t *testing.T) {
	mat := &Material{Albedo: types.Vec3{0.5, 0.5, 0.5}}
	normals := []types.Vec3{
		{0, 0, 1},
		{0, 0, -1},
		{0, 1, 0},
		types.Vec3{1, 1, 1}.Normalize(),
	}

	for index, n := range normals {
		for _, rnd := range []types.Vec2{{0, 0}, {0.25, 0.5}, {0.999, 0.999}} {
			dir, weight := Lambertian{}.Sample(n, n, mat, rnd)
			if cos := dir.Dot(n); cos <= 0 {
				t.Fatalf("[spec %d] expected sampled direction in the normal hemisphere; got cos %f", index, cos)
			}
			if math32.Abs(dir.Len()-1) > 1e-4 {
				t.Fatalf("[spec %d] expected unit direction; got length %f", index, dir.Len())
			}
			if !(weight[3] > 0) {
				t.Fatalf("[spec %d] expected positive pdf; got %f", index, weight[3])
			}
			if ratio := weight[0] / weight[3]; math32.Abs(ratio-0.5) > 1e-4 {
				t.Fatalf("[spec %d] expected weight/pdf to equal the albedo; got %f", index, ratio)
			}
		}
	}
}
