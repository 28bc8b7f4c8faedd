package reader

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/achilleasa/lumen/asset"
	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/types"
)

type yamlVec3 []float32

func (v yamlVec3) vec3(field string) (types.Vec3, error) {
	if len(v) != 3 {
		return types.Vec3{}, fmt.Errorf("%s: expected 3 components; got %d", field, len(v))
	}
	return types.Vec3{v[0], v[1], v[2]}, nil
}

type yamlCamera struct {
	Position yamlVec3 `yaml:"position"`
	Focal    float32  `yaml:"focal"`
	InvertY  bool     `yaml:"invert_y"`
}

type yamlLight struct {
	Type      string   `yaml:"type"`
	Position  yamlVec3 `yaml:"position"`
	Intensity yamlVec3 `yaml:"intensity"`
}

type yamlModel struct {
	File               string `yaml:"file"`
	Visible            *bool  `yaml:"visible"`
	GlobalIllumination *bool  `yaml:"global_illumination"`
}

type yamlQuad struct {
	Name     string   `yaml:"name"`
	Center   yamlVec3 `yaml:"center"`
	U        yamlVec3 `yaml:"u"`
	V        yamlVec3 `yaml:"v"`
	Diffuse  yamlVec3 `yaml:"diffuse"`
	Emissive yamlVec3 `yaml:"emissive"`
}

type yamlScene struct {
	Camera *yamlCamera `yaml:"camera"`
	Lights []yamlLight `yaml:"lights"`
	Models []yamlModel `yaml:"models"`
	Quads  []yamlQuad  `yaml:"quads"`
}

// Reads scene descriptions that place wavefront models, quads and point
// lights in a scene.
type yamlSceneReader struct {
	logger log.Logger
}

func newYamlReader() *yamlSceneReader {
	return &yamlSceneReader{
		logger: log.New("yaml scene reader"),
	}
}

// Read scene definition.
func (r *yamlSceneReader) Read(sceneRes *asset.Resource) (*scene.Scene, error) {
	r.logger.Noticef(`parsing scene from "%s"`, sceneRes.Path())
	start := time.Now()

	var desc yamlScene
	dec := yaml.NewDecoder(sceneRes)
	dec.KnownFields(true)
	if err := dec.Decode(&desc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: %w", sceneRes.Path(), err)
	}

	sc := scene.NewScene()
	if desc.Camera != nil {
		camera, err := desc.Camera.build()
		if err != nil {
			return nil, fmt.Errorf("%s: camera: %w", sceneRes.Path(), err)
		}
		sc.SetCamera(camera)
	}

	for index, light := range desc.Lights {
		l, err := light.build()
		if err != nil {
			return nil, fmt.Errorf("%s: light %d: %w", sceneRes.Path(), index, err)
		}
		sc.AddLight(l)
	}

	for index, model := range desc.Models {
		if err := r.loadModel(sc, sceneRes, model); err != nil {
			return nil, fmt.Errorf("%s: model %d: %w", sceneRes.Path(), index, err)
		}
	}

	for index, quad := range desc.Quads {
		obj, err := quad.build(index)
		if err != nil {
			return nil, fmt.Errorf("%s: quad %d: %w", sceneRes.Path(), index, err)
		}
		if err = sc.AddGeometry(obj); err != nil {
			return nil, err
		}
	}

	r.logger.Noticef("parsed %d geometries (%d triangles) and %d lights in %d ms", len(sc.Geometries), sc.NumTriangles(), len(sc.Lights), time.Since(start).Nanoseconds()/1e6)
	return sc, nil
}

// Load a wavefront model relative to the scene file and add its objects to sc.
func (r *yamlSceneReader) loadModel(sc *scene.Scene, sceneRes *asset.Resource, model yamlModel) error {
	if model.File == "" {
		return errors.New("missing file")
	}

	res, err := asset.NewResource(model.File, sceneRes)
	if err != nil {
		return err
	}
	defer res.Close()

	modelScene, err := newWavefrontReader().Read(res)
	if err != nil {
		return err
	}

	for _, geom := range modelScene.Geometries {
		if obj, isObject := geom.(*scene.Object); isObject {
			if model.Visible != nil {
				obj.Hidden = !*model.Visible
			}
			if model.GlobalIllumination != nil {
				obj.NoGI = !*model.GlobalIllumination
			}
		}
		if err = sc.AddGeometry(geom); err != nil {
			return err
		}
	}
	return nil
}

func (c *yamlCamera) build() (*scene.Camera, error) {
	camera := scene.NewCamera()
	if c.Position != nil {
		pos, err := c.Position.vec3("position")
		if err != nil {
			return nil, err
		}
		camera.Position = pos
	}
	if c.Focal < 0 {
		return nil, fmt.Errorf("focal must be positive; got %f", c.Focal)
	} else if c.Focal > 0 {
		camera.Focal = c.Focal
	}
	camera.InvertY = c.InvertY
	return camera, nil
}

func (l *yamlLight) build() (scene.Light, error) {
	switch l.Type {
	case "", "point":
	default:
		return nil, fmt.Errorf("unsupported light type %q", l.Type)
	}

	pos, err := l.Position.vec3("position")
	if err != nil {
		return nil, err
	}
	intensity, err := l.Intensity.vec3("intensity")
	if err != nil {
		return nil, err
	}
	return scene.NewPointLight(pos, intensity), nil
}

func (q *yamlQuad) build(index int) (*scene.Object, error) {
	name := q.Name
	if name == "" {
		name = fmt.Sprintf("quad-%d", index)
	}

	center, err := q.Center.vec3("center")
	if err != nil {
		return nil, err
	}
	u, err := q.U.vec3("u")
	if err != nil {
		return nil, err
	}
	v, err := q.V.vec3("v")
	if err != nil {
		return nil, err
	}

	var mat scene.Material
	switch {
	case q.Emissive != nil:
		radiance, err := q.Emissive.vec3("emissive")
		if err != nil {
			return nil, err
		}
		mat = scene.NewEmissiveMaterial(name, radiance)
	case q.Diffuse != nil:
		albedo, err := q.Diffuse.vec3("diffuse")
		if err != nil {
			return nil, err
		}
		mat = scene.NewDiffuseMaterial(name, albedo)
	default:
		mat = scene.NewDiffuseMaterial(name, defaultAlbedo)
	}

	return scene.NewQuad(name, center, u, v, mat), nil
}
