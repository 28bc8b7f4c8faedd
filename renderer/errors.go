package renderer

import "errors"

var (
	ErrInvalidOptions   = errors.New("renderer: invalid options")
	ErrSceneNotDefined  = errors.New("renderer: no scene defined")
	ErrCameraNotDefined = errors.New("renderer: no camera defined")
	ErrInterrupted      = errors.New("renderer: interrupted while rendering")
	ErrUnknownUpdate    = errors.New("renderer: unknown update type")
	ErrClosed           = errors.New("renderer: closed")
)
