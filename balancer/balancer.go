// Package balancer schedules the tiles of a frame across a pool of local
// workers.
package balancer

import (
	"context"
	"errors"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
)

var (
	ErrDuplicateTile  = errors.New("balancer: tile dispatched more than once in the same pass")
	ErrIncompleteTask = errors.New("balancer: tracer output does not match the dispatched tiles")
)

// The LoadBalancer interface is implemented by objects that drive a tracer to
// produce one pass over every tile of a frame. RenderFrame blocks until every
// tile of the pass has been stored in the frame buffer or an error occurs.
type LoadBalancer interface {
	RenderFrame(ctx context.Context, frame fb.FrameBuffer, tr tracer.Tracer, camera *scene.Camera, world *scene.World) error

	String() string
}
