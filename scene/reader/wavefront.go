package reader

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chewxy/math32"

	"github.com/achilleasa/lumen/asset"
	"github.com/achilleasa/lumen/log"
	"github.com/achilleasa/lumen/scene"
	"github.com/achilleasa/lumen/types"
)

var defaultAlbedo = types.Vec3{0.7, 0.7, 0.7}

type wavefrontMaterial struct {
	Name string

	// Diffuse/Albedo color.
	Kd types.Vec3

	// Emissive color and scaler.
	Ke       types.Vec3
	KeScaler float32

	// The scene material generated for this entry.
	compiled scene.Material
}

// Convert to a scene material. Emissive entries take precedence over diffuse
// ones.
func (wf *wavefrontMaterial) Material() scene.Material {
	if wf.compiled != nil {
		return wf.compiled
	}

	if wf.Ke.MaxComponent() > 0 {
		radiance := wf.Ke
		if wf.KeScaler != 0 {
			radiance = radiance.Mul(wf.KeScaler)
		}
		wf.compiled = scene.NewEmissiveMaterial(wf.Name, radiance)
	} else {
		wf.compiled = scene.NewDiffuseMaterial(wf.Name, wf.Kd)
	}
	return wf.compiled
}

// Identifies a mesh vertex by its position, uv and normal list indices. Faces
// without normals use a negative, face-unique normal index.
type vertexKey struct {
	v, vt, vn int
}

// An object under construction.
type wavefrontObject struct {
	name string
	mesh *scene.Mesh

	vertexIndex map[vertexKey]uint32

	// Submesh index per material; submeshes appear in first-use order.
	submeshIndex map[*wavefrontMaterial]int
	materials    []*wavefrontMaterial
	indices      [][]uint32
}

func newWavefrontObject(name string) *wavefrontObject {
	return &wavefrontObject{
		name:         name,
		mesh:         scene.NewMesh(name),
		vertexIndex:  make(map[vertexKey]uint32),
		submeshIndex: make(map[*wavefrontMaterial]int),
	}
}

func (o *wavefrontObject) numFaces() int {
	total := 0
	for _, indices := range o.indices {
		total += len(indices) / 3
	}
	return total
}

type wavefrontSceneReader struct {
	logger log.Logger

	// Parsed objects in declaration order.
	objects []*wavefrontObject

	// A map of material names to parsed wavefront materials
	matNameToIndex map[string]int

	// Currently selected material.
	curMaterial *wavefrontMaterial

	// Parsed wavefront materials.
	materials []*wavefrontMaterial

	// List of vertices, normals and uv coords.
	vertexList []types.Vec3
	normalList []types.Vec3
	uvList     []types.Vec2

	// Counter used to generate normal keys for faces without normals.
	generatedNormals int

	camera *scene.Camera

	// An error stack that provides additional error information when
	// scene files include other files (models, mat libs e.t.c)
	errStack []string
}

// Create a new wavefront scene reader.
func newWavefrontReader() *wavefrontSceneReader {
	return &wavefrontSceneReader{
		logger:         log.New("wavefront scene reader"),
		matNameToIndex: make(map[string]int),
		vertexList:     make([]types.Vec3, 0),
		normalList:     make([]types.Vec3, 0),
		uvList:         make([]types.Vec2, 0),
		camera:         scene.NewCamera(),
		errStack:       make([]string, 0),
	}
}

// Read scene definition. Wavefront files do not define lights; emissive
// materials are the only light sources of the returned scene.
func (r *wavefrontSceneReader) Read(sceneRes *asset.Resource) (*scene.Scene, error) {
	r.logger.Noticef(`parsing scene from "%s"`, sceneRes.Path())
	start := time.Now()

	if err := r.parse(sceneRes); err != nil {
		return nil, err
	}

	sc := scene.NewScene()
	sc.SetCamera(r.camera)
	for _, obj := range r.objects {
		if err := sc.AddGeometry(r.buildGeometry(obj)); err != nil {
			return nil, err
		}
	}

	r.logger.Noticef("parsed %d objects (%d triangles) in %d ms", len(sc.Geometries), sc.NumTriangles(), time.Since(start).Nanoseconds()/1e6)
	return sc, nil
}

func (r *wavefrontSceneReader) buildGeometry(obj *wavefrontObject) scene.Geometry {
	materials := make([]scene.Material, len(obj.materials))
	for index, wfMat := range obj.materials {
		materials[index] = wfMat.Material()
		obj.mesh.AddSubmesh(obj.indices[index])
	}
	return scene.NewObject(obj.name, obj.mesh, materials)
}

// Generate an error message that also includes any data in the error stack.
func (r *wavefrontSceneReader) emitError(file string, line int, msgFormat string, args ...interface{}) error {
	msg := fmt.Sprintf(msgFormat, args...)

	var errMsg string
	if file != "" {
		errMsg = strings.Trim(
			fmt.Sprintf("[%s: %d] error: %s\n%s", file, line, msg, strings.Join(r.errStack, "\n")),
			"\n",
		)
	} else {
		errMsg = strings.Trim(
			fmt.Sprintf("error: %s\n%s", msg, strings.Join(r.errStack, "\n")),
			"\n",
		)
	}

	return errors.New(errMsg)
}

// Push a frame to the error stack.
func (r *wavefrontSceneReader) pushFrame(msg string) {
	r.errStack = append([]string{msg}, r.errStack...)
}

// Pop a frame from the error stack.
func (r *wavefrontSceneReader) popFrame() {
	r.errStack = r.errStack[1:]
}

// Select the default material for surfaces not using one.
func (r *wavefrontSceneReader) defaultMaterial() *wavefrontMaterial {
	matName := ""

	matIndex, exists := r.matNameToIndex[matName]
	if !exists {
		r.materials = append(r.materials, &wavefrontMaterial{Name: "default", Kd: defaultAlbedo})
		matIndex = len(r.materials) - 1
		r.matNameToIndex[matName] = matIndex
	}
	return r.materials[matIndex]
}

// Get the object receiving faces; if none has been declared create one.
func (r *wavefrontSceneReader) currentObject() *wavefrontObject {
	if len(r.objects) == 0 {
		r.objects = append(r.objects, newWavefrontObject("default"))
	}
	return r.objects[len(r.objects)-1]
}

// Parse wavefront object scene format.
func (r *wavefrontSceneReader) parse(res *asset.Resource) error {
	var lineNum int = 0
	var err error

	// The main obj file may include (call) several other object files. Each
	// object file contains 1-based indices (when they are positive). By
	// tracking the current vertex/uv/normal offsets we can apply them
	// while parsing faces to select the correct coordinates.
	relVertexOffset := len(r.vertexList)
	relUvOffset := len(r.uvList)
	relNormalOffset := len(r.normalList)

	scanner := bufio.NewScanner(res)
	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "call", "mtllib":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument; got %d`, lineTokens[0], len(lineTokens)-1)
			}

			r.pushFrame(fmt.Sprintf("referenced from %s:%d [%s]", res.Path(), lineNum, lineTokens[0]))

			incRes, err := asset.NewResource(lineTokens[1], res)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}

			switch lineTokens[0] {
			case "call":
				err = r.parse(incRes)
			case "mtllib":
				err = r.parseMaterials(incRes)
			}
			incRes.Close()

			if err != nil {
				return err
			}
			r.popFrame()
		case "usemtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "usemtl"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			matName := lineTokens[1]
			matIndex, exists := r.matNameToIndex[matName]
			if !exists {
				return r.emitError(res.Path(), lineNum, `undefined material with name "%s"`, matName)
			}
			r.curMaterial = r.materials[matIndex]
		case "v":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.vertexList = append(r.vertexList, v)
		case "vn":
			v, err := parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.normalList = append(r.normalList, v)
		case "vt":
			v, err := parseVec2(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			r.uvList = append(r.uvList, v)
		case "g", "o":
			if len(lineTokens) < 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument for object name; got %d`, lineTokens[0], len(lineTokens)-1)
			}

			r.verifyLastParsedObject()
			r.objects = append(r.objects, newWavefrontObject(lineTokens[1]))
		case "f":
			if err = r.parseFace(lineTokens, relVertexOffset, relUvOffset, relNormalOffset); err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "camera_eye":
			r.camera.Position, err = parseVec3(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		case "camera_fov":
			fov, err := parseFloat32(lineTokens)
			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
			if fov <= 0 || fov >= 180 {
				return r.emitError(res.Path(), lineNum, "camera fov must be in (0, 180); got %f", fov)
			}
			r.camera.Focal = 1 / math32.Tan(fov*math32.Pi/360)
		}
	}

	if err = scanner.Err(); err != nil {
		return r.emitError(res.Path(), lineNum, "%s", err.Error())
	}

	r.verifyLastParsedObject()
	return nil
}

// Drop the last parsed object if it contains no faces.
func (r *wavefrontSceneReader) verifyLastParsedObject() {
	lastIndex := len(r.objects) - 1
	if lastIndex >= 0 && r.objects[lastIndex].numFaces() == 0 {
		r.logger.Warningf(`dropping object "%s" as it contains no polygons`, r.objects[lastIndex].name)
		r.objects = r.objects[:lastIndex]
	}
}

// Parse face definition. Each face definitions consists of 3 arguments,
// one for each vertex. Each one of the vertex arguments is comprised of
// 1, 2 or 3 args separated by a slash character. The following formats are
// supported:
// - vertexIndex
// - vertexIndex/uvIndex
// - vertexIndex//normalIndex
// - vertexIndex/uvIndex/normalIndex
//
// Indices start from 1 and may be negative to indicate
// an offset off the end of the vertex/uv list.
//
// This method only works with triangular/quad faces and will return an error if a
// face with more than 4 vertices is encountered.
func (r *wavefrontSceneReader) parseFace(lineTokens []string, relVertexOffset, relUvOffset, relNormalOffset int) error {
	if len(lineTokens) < 4 || len(lineTokens) > 5 {
		return fmt.Errorf(`unsupported syntax for "f"; expected 3 arguments for triangular face or 4 arguments for a quad face; got %d. Select the triangulation option in your exporter`, len(lineTokens)-1)
	}

	numVerts := len(lineTokens) - 1
	var keys [4]vertexKey
	expIndices := 0
	hasNormals := false
	for arg := 0; arg < numVerts; arg++ {
		vTokens := strings.Split(lineTokens[arg+1], "/")

		// The first arg defines the format for the following args
		if arg == 0 {
			expIndices = len(vTokens)
		} else if len(vTokens) != expIndices {
			return fmt.Errorf("expected each face argument to contain %d indices; arg %d contains %d indices", expIndices, arg, len(vTokens))
		}

		// Faces must at least define a vertex coord
		if vTokens[0] == "" {
			return fmt.Errorf("face argument %d does not include a vertex index", arg)
		}

		var err error
		keys[arg] = vertexKey{v: -1, vt: -1, vn: -1}
		keys[arg].v, err = selectFaceCoordIndex(vTokens[0], len(r.vertexList), relVertexOffset)
		if err != nil {
			return fmt.Errorf("could not parse vertex coord for face argument %d: %s", arg, err.Error())
		}

		if expIndices > 1 && vTokens[1] != "" {
			keys[arg].vt, err = selectFaceCoordIndex(vTokens[1], len(r.uvList), relUvOffset)
			if err != nil {
				return fmt.Errorf("could not parse tex coord for face argument %d: %s", arg, err.Error())
			}
		}

		if expIndices > 2 && vTokens[2] != "" {
			keys[arg].vn, err = selectFaceCoordIndex(vTokens[2], len(r.normalList), relNormalOffset)
			if err != nil {
				return fmt.Errorf("could not parse normal coord for face argument %d: %s", arg, err.Error())
			}
			hasNormals = true
		}
	}

	// If no material defined select the default.
	if r.curMaterial == nil {
		r.curMaterial = r.defaultMaterial()
	}

	obj := r.currentObject()

	// If no normals are available generate a face normal from the vertices
	var faceNormal types.Vec3
	if !hasNormals {
		v0 := r.vertexList[keys[0].v]
		faceNormal = r.vertexList[keys[1].v].Sub(v0).Cross(r.vertexList[keys[2].v].Sub(v0)).Normalize()
		r.generatedNormals++
		for arg := 0; arg < numVerts; arg++ {
			keys[arg].vn = -r.generatedNormals
		}
	}

	var faceIndices [4]uint32
	for arg := 0; arg < numVerts; arg++ {
		faceIndices[arg] = r.addVertex(obj, keys[arg], faceNormal)
	}

	submesh, exists := obj.submeshIndex[r.curMaterial]
	if !exists {
		submesh = len(obj.materials)
		obj.submeshIndex[r.curMaterial] = submesh
		obj.materials = append(obj.materials, r.curMaterial)
		obj.indices = append(obj.indices, make([]uint32, 0))
	}

	// Quads are split into two triangles
	obj.indices[submesh] = append(obj.indices[submesh], faceIndices[0], faceIndices[1], faceIndices[2])
	if numVerts == 4 {
		obj.indices[submesh] = append(obj.indices[submesh], faceIndices[0], faceIndices[2], faceIndices[3])
	}

	return nil
}

// Add a vertex to the object mesh unless it was already added and return its
// index.
func (r *wavefrontSceneReader) addVertex(obj *wavefrontObject, key vertexKey, faceNormal types.Vec3) uint32 {
	if index, exists := obj.vertexIndex[key]; exists {
		return index
	}

	mesh := obj.mesh
	index := uint32(len(mesh.Positions))
	mesh.Positions = append(mesh.Positions, r.vertexList[key.v])
	if key.vn >= 0 {
		mesh.Normals = append(mesh.Normals, r.normalList[key.vn])
	} else {
		mesh.Normals = append(mesh.Normals, faceNormal)
	}
	if key.vt >= 0 {
		mesh.Texcoords = append(mesh.Texcoords, r.uvList[key.vt])
	} else {
		mesh.Texcoords = append(mesh.Texcoords, types.Vec2{})
	}

	obj.vertexIndex[key] = index
	return index
}

// Parse a wavefront material library.
func (r *wavefrontSceneReader) parseMaterials(res *asset.Resource) error {
	var lineNum int = 0
	var err error

	r.logger.Infof(`parsing material library "%s"`, res.Path())

	scanner := bufio.NewScanner(res)

	var curMaterial *wavefrontMaterial = nil
	var matName string = ""

	for scanner.Scan() {
		lineNum++
		lineTokens := strings.Fields(scanner.Text())
		if len(lineTokens) == 0 || strings.HasPrefix(lineTokens[0], "#") {
			continue
		}

		switch lineTokens[0] {
		case "newmtl":
			if len(lineTokens) != 2 {
				return r.emitError(res.Path(), lineNum, `unsupported syntax for "newmtl"; expected 1 argument; got %d`, len(lineTokens)-1)
			}

			matName = lineTokens[1]
			if _, exists := r.matNameToIndex[matName]; exists {
				return r.emitError(res.Path(), lineNum, `material "%s" already defined`, matName)
			}

			curMaterial = &wavefrontMaterial{Name: matName}
			r.materials = append(r.materials, curMaterial)
			r.matNameToIndex[matName] = len(r.materials) - 1
		default:
			if curMaterial == nil {
				return r.emitError(res.Path(), lineNum, `got "%s" without a "newmtl"`, lineTokens[0])
			}

			switch lineTokens[0] {
			case "include":
				if len(lineTokens) < 2 {
					return r.emitError(res.Path(), lineNum, `unsupported syntax for "%s"; expected 1 argument; got %d`, lineTokens[0], len(lineTokens)-1)
				}

				baseMaterialIndex, exists := r.matNameToIndex[lineTokens[1]]
				if !exists {
					return r.emitError(res.Path(), lineNum, `could not include unknown material "%s"`, lineTokens[1])
				}

				// Overwrite material but keep the original name
				*curMaterial = *r.materials[baseMaterialIndex]
				curMaterial.Name = matName
				curMaterial.compiled = nil
			case "Kd":
				curMaterial.Kd, err = parseVec3(lineTokens)
			case "Ke":
				curMaterial.Ke, err = parseVec3(lineTokens)
			case "KeScaler":
				curMaterial.KeScaler, err = parseFloat32(lineTokens)
			default:
				r.logger.Debugf("%s:%d: ignoring unsupported material property %q", res.Path(), lineNum, lineTokens[0])
			}

			if err != nil {
				return r.emitError(res.Path(), lineNum, "%s", err.Error())
			}
		}
	}

	if err = scanner.Err(); err != nil {
		return r.emitError(res.Path(), lineNum, "%s", err.Error())
	}
	return nil
}

// Given an index for a face coord type (vertex, normal, tex) calculate the
// proper offset into the coord list. Wavefront format can also use negative
// indices to reference elements from the end of the coord list.
func selectFaceCoordIndex(indexToken string, coordListLen int, relOffset int) (int, error) {
	index, err := strconv.ParseInt(indexToken, 10, 32)
	if err != nil {
		return -1, err
	}

	var vOffset int = 0
	if index < 0 {
		vOffset = coordListLen + int(index)
	} else {
		vOffset = relOffset + int(index-1)
	}
	if vOffset < 0 || vOffset >= coordListLen {
		return -1, fmt.Errorf("index out of bounds")
	}
	return vOffset, nil
}

// Parse a float scalar value.
func parseFloat32(lineTokens []string) (float32, error) {
	if len(lineTokens) < 2 {
		return 0, fmt.Errorf(`unsupported syntax for "%s"; expected 1 argument; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	val, err := strconv.ParseFloat(lineTokens[1], 32)
	if err != nil {
		return 0, err
	}

	return float32(val), nil
}

// Parse a Vec3 row.
func parseVec3(lineTokens []string) (types.Vec3, error) {
	if len(lineTokens) < 4 {
		return types.Vec3{}, fmt.Errorf(`unsupported syntax for "%s"; expected 3 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec3{}
	for tokIdx := 1; tokIdx <= 3; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}

// Parse a Vec2 row.
func parseVec2(lineTokens []string) (types.Vec2, error) {
	if len(lineTokens) < 3 {
		return types.Vec2{}, fmt.Errorf(`unsupported syntax for "%s"; expected 2 arguments; got %d`, lineTokens[0], len(lineTokens)-1)
	}

	v := types.Vec2{}
	for tokIdx := 1; tokIdx <= 2; tokIdx++ {
		coord, err := strconv.ParseFloat(lineTokens[tokIdx], 32)
		if err != nil {
			return v, err
		}
		v[tokIdx-1] = float32(coord)
	}
	return v, nil
}
