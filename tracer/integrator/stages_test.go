package integrator

import (
	"errors"
	"image"
	"testing"

	"github.com/chewxy/math32"

	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/types"
)

// Trace and gather the primary rays of a size tile at the frame origin.
func tracePrimaryRays(t *testing.T, mc *MonteCarlo, size image.Point) {
	t.Helper()

	numPixels := size.X * size.Y
	if err := mc.ensureWorkspace(numPixels); err != nil {
		t.Fatal(err)
	}
	mc.random.Fill(mc.ws.random[:numPixels])
	if err := mc.generateCameraRays(scene.NewCamera(), image.Pt(0, 0), size); err != nil {
		t.Fatal(err)
	}
	if err := mc.queryIntersection(mc.ws.rayBuf, mc.ws.hitBuf); err != nil {
		t.Fatal(err)
	}
	if err := mc.gatherHits(); err != nil {
		t.Fatal(err)
	}
	mc.gatherFirstSampling()
}

// Run the shadow pass for light after the hits of pass are gathered.
func traceShadowRays(t *testing.T, mc *MonteCarlo, pass int, light scene.Light) {
	t.Helper()

	if err := mc.generateShadowRays(pass, light); err != nil {
		t.Fatal(err)
	}
	if err := mc.queryIntersection(mc.ws.shadowRayBuf, mc.ws.shadowHitBuf); err != nil {
		t.Fatal(err)
	}
	if err := mc.gatherShadowHits(); err != nil {
		t.Fatal(err)
	}
	mc.gatherLightSamples(pass, light)
}

// Scatter the hits of pass 0 and gather the hits of the bounce rays.
func traceFirstBounce(t *testing.T, mc *MonteCarlo) {
	t.Helper()

	mc.random.Fill(mc.ws.random[:mc.ws.numEstimate])
	if err := mc.generateBounceRays(0); err != nil {
		t.Fatal(err)
	}
	if err := mc.queryIntersection(mc.ws.rayBuf, mc.ws.hitBuf); err != nil {
		t.Fatal(err)
	}
	if err := mc.gatherHits(); err != nil {
		t.Fatal(err)
	}
}

func assertPrimaryHits(t *testing.T, mc *MonteCarlo, numPixels int) {
	t.Helper()
	for i := 0; i < numPixels; i++ {
		if !mc.ws.hits[i].Valid() {
			t.Fatalf("[pixel %d] expected primary ray to hit the wall", i)
		}
	}
}

// A diffuse wall in front of the camera and an emitter behind it that only
// bounce rays can reach.
func wallWithEmitterBehindCamera(albedo, emissive types.Vec3) []scene.Geometry {
	return []scene.Geometry{
		wallAt(5, scene.NewDiffuseMaterial("white", albedo)),
		scene.NewQuad("sky", types.Vec3{0, 0, -3}, types.Vec3{50, 0, 0}, types.Vec3{0, 50, 0}, scene.NewEmissiveMaterial("sky", emissive)),
	}
}

type nanLight struct{}

func (nanLight) Sample(_, _ types.Vec3, _ scene.Material, _ types.Vec2) types.Vec4 {
	return types.Vec4{math32.NaN(), 0, 1, 1}
}

func (nanLight) Li(_, _, _ types.Vec3, _ scene.Material, _ types.Vec2) types.Vec3 {
	return types.Vec3{}
}

type zeroPdfSampler struct{}

func (zeroPdfSampler) Sample(normal, _ types.Vec3, _ *Material, _ types.Vec2) (types.Vec3, types.Vec4) {
	return normal, types.Vec4{1, 1, 1, 0}
}

func TestCompileRecoversFromFailedGeometry(t *testing.T) {
	white := scene.NewDiffuseMaterial("white", types.Vec3{1, 1, 1})
	size := image.Pt(2, 2)

	t.Run("missing submesh", func(t *testing.T) {
		mc, backend := newTestIntegrator(t, 2, 2, WithRandomSource(constantSource{types.Vec2{0.5, 0.5}}))
		wall := wallAt(5, white)
		broken := scene.NewObject("broken", scene.NewMesh("broken"), []scene.Material{white})

		if _, err := mc.Compile([]scene.Geometry{wall, broken}); err == nil {
			t.Fatal("expected compiling a geometry without submeshes to fail")
		}
		if backend.commits != 1 {
			t.Fatalf("expected shapes attached before the failure to be committed; got %d commits", backend.commits)
		}

		nonEmpty, err := mc.Compile([]scene.Geometry{wall})
		if err != nil {
			t.Fatal(err)
		}
		if !nonEmpty {
			t.Fatal("expected compiled scene to be non-empty")
		}

		tracePrimaryRays(t, mc, size)
		assertPrimaryHits(t, mc, 4)
	})

	t.Run("attach failure", func(t *testing.T) {
		mc, backend := newTestIntegrator(t, 2, 2, WithRandomSource(constantSource{types.Vec2{0.5, 0.5}}))
		wall := wallAt(5, white)

		errAttach := errors.New("attach failed")
		backend.failAttach = errAttach
		if _, err := mc.Compile([]scene.Geometry{wall}); !errors.Is(err, errAttach) {
			t.Fatalf("expected error %v; got %v", errAttach, err)
		}
		if backend.shapeDeletes != 1 {
			t.Fatalf("expected the unattached shape to be deleted; got %d deletes", backend.shapeDeletes)
		}
		if len(mc.handles) != 0 || mc.cache.len() != 0 {
			t.Fatalf("expected no cached shapes; got %d handles and %d shapes", len(mc.handles), mc.cache.len())
		}
		if backend.commits != 0 {
			t.Fatalf("expected no commits; got %d", backend.commits)
		}

		backend.failAttach = nil
		nonEmpty, err := mc.Compile([]scene.Geometry{wall})
		if err != nil || !nonEmpty {
			t.Fatalf("expected a non-empty scene; got %t, %v", nonEmpty, err)
		}

		tracePrimaryRays(t, mc, size)
		assertPrimaryHits(t, mc, 4)
	})

	t.Run("commit failure", func(t *testing.T) {
		mc, backend := newTestIntegrator(t, 2, 2, WithRandomSource(constantSource{types.Vec2{0.5, 0.5}}))
		wall := wallAt(5, white)

		errCommit := errors.New("commit failed")
		backend.failCommit = errCommit
		nonEmpty, err := mc.Compile([]scene.Geometry{wall})
		if !errors.Is(err, errCommit) || nonEmpty {
			t.Fatalf("expected error %v for an empty scene; got %t, %v", errCommit, nonEmpty, err)
		}

		// The cached shape is committed on the next call
		backend.failCommit = nil
		if nonEmpty, err = mc.Compile([]scene.Geometry{wall}); err != nil || !nonEmpty {
			t.Fatalf("expected a non-empty scene; got %t, %v", nonEmpty, err)
		}
		if backend.commits != 1 {
			t.Fatalf("expected 1 commit; got %d", backend.commits)
		}

		tracePrimaryRays(t, mc, size)
		assertPrimaryHits(t, mc, 4)
	})
}

func TestBounceHittingEmitter(t *testing.T) {
	albedo := types.Vec3{0.8, 0.8, 0.8}
	emissive := types.Vec3{2, 4, 6}
	mc, _ := newTestIntegrator(t, 2, 2, WithBounces(2), WithRandomSource(constantSource{types.Vec2{0.5, 0.5}}))

	if _, err := mc.Compile(wallWithEmitterBehindCamera(albedo, emissive)); err != nil {
		t.Fatal(err)
	}

	tracePrimaryRays(t, mc, image.Pt(2, 2))
	assertPrimaryHits(t, mc, 4)
	traceFirstBounce(t, mc)
	mc.gatherSampling(1)

	views := mc.ws.rays[1]
	for i := 0; i < 4; i++ {
		hit := &mc.ws.hits[i]
		if !hit.Valid() {
			t.Fatalf("[pixel %d] expected bounce ray to reach the emitter", i)
		}
		if !views[i].Active {
			t.Fatalf("[pixel %d] expected an active bounce ray", i)
		}

		// Lambertian weight/pdf equals the albedo; the emitter is dist units
		// away along the bounce ray.
		dist := hit.UVWT[3]
		if dist <= 1 {
			t.Fatalf("[pixel %d] expected emitter to be further than 1 unit; got %f", i, dist)
		}
		expSamples := albedo.Mul(1 / (dist * dist))
		if !approxEqual(mc.ws.samples[i], expSamples, 1e-5) {
			t.Fatalf("[pixel %d] expected path throughput %v; got %v", i, expSamples, mc.ws.samples[i])
		}

		expAccum := expSamples.MulVec(emissive)
		if !approxEqual(mc.ws.samplesAccum[i], expAccum, 1e-5) {
			t.Fatalf("[pixel %d] expected gathered emission %v; got %v", i, expAccum, mc.ws.samplesAccum[i])
		}
	}
}

func TestShadowRays(t *testing.T) {
	white := scene.NewDiffuseMaterial("white", types.Vec3{0.8, 0.8, 0.8})

	type spec struct {
		geometries  []scene.Geometry
		light       scene.Light
		expActive   bool
		expOccluded bool
	}
	specs := []spec{
		// Unoccluded light in front of the wall
		{
			[]scene.Geometry{wallAt(5, white)},
			scene.NewPointLight(types.Vec3{0, 0, 2}, types.Vec3{50, 50, 50}),
			true, false,
		},
		// A blocker between the wall and the light
		{
			[]scene.Geometry{
				wallAt(5, white),
				scene.NewQuad("blocker", types.Vec3{10, 0, 3.5}, types.Vec3{0, 50, 0}, types.Vec3{0, 0, 3}, white),
			},
			scene.NewPointLight(types.Vec3{20, 0, 2}, types.Vec3{50, 50, 50}),
			true, true,
		},
		// Light behind the surface yields a degenerate sample
		{
			[]scene.Geometry{wallAt(5, white)},
			scene.NewPointLight(types.Vec3{0, 0, 9}, types.Vec3{50, 50, 50}),
			false, false,
		},
	}

	for specIndex, s := range specs {
		mc, _ := newTestIntegrator(t, 2, 2, WithRandomSource(constantSource{types.Vec2{0.5, 0.5}}))
		if _, err := mc.Compile(s.geometries); err != nil {
			t.Fatal(err)
		}

		tracePrimaryRays(t, mc, image.Pt(2, 2))
		assertPrimaryHits(t, mc, 4)
		traceShadowRays(t, mc, 0, s.light)

		for i := 0; i < 4; i++ {
			ray := &mc.ws.shadowRays[i]
			if ray.Active != s.expActive {
				t.Fatalf("[spec %d] [pixel %d] expected shadow ray active to be %t", specIndex, i, s.expActive)
			}
			if occluded := ray.Active && mc.ws.shadowHits[i].Valid(); occluded != s.expOccluded {
				t.Fatalf("[spec %d] [pixel %d] expected shadow ray occlusion to be %t", specIndex, i, s.expOccluded)
			}

			lit := mc.ws.samplesAccum[i] != (types.Vec3{})
			if expLit := s.expActive && !s.expOccluded; lit != expLit {
				t.Fatalf("[spec %d] [pixel %d] expected pixel lit to be %t; got radiance %v", specIndex, i, expLit, mc.ws.samplesAccum[i])
			}
		}
	}
}

func TestEmissivePrimaryHitTerminatesPath(t *testing.T) {
	emissive := types.Vec3{1, 0.5, 0.25}
	mc, _ := newTestIntegrator(t, 2, 2, WithBounces(2), WithRandomSource(constantSource{types.Vec2{0.5, 0.5}}))
	if _, err := mc.Compile([]scene.Geometry{wallAt(5, scene.NewEmissiveMaterial("light", emissive))}); err != nil {
		t.Fatal(err)
	}

	tracePrimaryRays(t, mc, image.Pt(2, 2))
	assertPrimaryHits(t, mc, 4)
	traceShadowRays(t, mc, 0, scene.NewPointLight(types.Vec3{0, 0, 2}, types.Vec3{50, 50, 50}))

	if err := mc.generateBounceRays(0); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 4; i++ {
		if mc.ws.shadowRays[i].Active {
			t.Fatalf("[pixel %d] expected no shadow ray for an emissive hit", i)
		}
		if mc.ws.rays[1][i].Active {
			t.Fatalf("[pixel %d] expected no bounce ray for an emissive hit", i)
		}
		if mc.ws.weights[i] != (types.Vec4{}) {
			t.Fatalf("[pixel %d] expected zero scattering weight; got %v", i, mc.ws.weights[i])
		}
		if mc.ws.samplesAccum[i] != emissive {
			t.Fatalf("[pixel %d] expected only the direct emission %v; got %v", i, emissive, mc.ws.samplesAccum[i])
		}
	}
}

func TestStageAssertions(t *testing.T) {
	white := types.Vec3{0.8, 0.8, 0.8}

	type spec struct {
		desc string
		opts []Option
		run  func(t *testing.T, mc *MonteCarlo)
	}
	specs := []spec{
		{
			"non-finite light sample",
			nil,
			func(t *testing.T, mc *MonteCarlo) {
				tracePrimaryRays(t, mc, image.Pt(2, 2))
				mc.generateShadowRays(0, nanLight{})
			},
		},
		{
			"sampler with zero pdf",
			[]Option{WithSampler(zeroPdfSampler{})},
			func(t *testing.T, mc *MonteCarlo) {
				tracePrimaryRays(t, mc, image.Pt(2, 2))
				mc.generateBounceRays(0)
			},
		},
		{
			"zero pdf for a live path",
			nil,
			func(t *testing.T, mc *MonteCarlo) {
				tracePrimaryRays(t, mc, image.Pt(2, 2))
				traceFirstBounce(t, mc)
				for i := range mc.ws.weights[:4] {
					mc.ws.weights[i][3] = 0
				}
				mc.gatherSampling(1)
			},
		},
	}

	for specIndex, s := range specs {
		opts := append([]Option{WithRandomSource(constantSource{types.Vec2{0.5, 0.5}})}, s.opts...)
		mc, _ := newTestIntegrator(t, 2, 2, opts...)
		if _, err := mc.Compile(wallWithEmitterBehindCamera(white, types.Vec3{1, 1, 1})); err != nil {
			t.Fatal(err)
		}

		func() {
			defer func() {
				if r := recover(); r == nil {
					t.Fatalf("[spec %d] expected %s to panic", specIndex, s.desc)
				}
			}()
			s.run(t, mc)
		}()
	}
}
