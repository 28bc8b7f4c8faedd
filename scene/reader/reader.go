package reader

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/achilleasa/lumen/asset"
	"github.com/achilleasa/lumen/scene"
)

// The Reader interface is implemented by all scene readers.
type Reader interface {
	// Read scene definition from a resource.
	Read(*asset.Resource) (*scene.Scene, error)
}

// Select a reader for a scene file based on its extension.
func ForFile(filename string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".obj":
		return newWavefrontReader(), nil
	case ".yaml", ".yml":
		return newYamlReader(), nil
	}
	return nil, fmt.Errorf("readScene: unsupported file format %q", filepath.Ext(filename))
}

// Read scene from file.
func ReadScene(filename string) (*scene.Scene, error) {
	reader, err := ForFile(filename)
	if err != nil {
		return nil, err
	}

	res, err := asset.NewResource(filename, nil)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	return reader.Read(res)
}
