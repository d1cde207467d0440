package renderer

import "errors"

var (
	ErrNoFrameBuffer    = errors.New("renderer: no frame buffer attached")
	ErrNoLoadBalancer   = errors.New("renderer: no load balancer attached")
	ErrNoTracer         = errors.New("renderer: no tracer attached")
	ErrWorldNotDefined  = errors.New("renderer: no world defined")
	ErrCameraNotDefined = errors.New("renderer: no camera defined")
	ErrInterrupted      = errors.New("renderer: interrupted while rendering")
	ErrClosed           = errors.New("renderer: renderer closed")
)
