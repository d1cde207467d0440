// Package tracer defines the capability used by load balancers to fill tiles
// with samples and provides a couple of simple implementations.
package tracer

import (
	"context"
	"errors"
	"fmt"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/scene"
)

var (
	ErrUnknownTracer = errors.New("tracer: unknown tracer")
)

// The Tracer interface is implemented by anything that can produce samples
// for a list of tiles. Load balancers only care about tile identity and the
// shape of the returned tiles; pixel contents are opaque to them.
type Tracer interface {
	// Get tracer name.
	Name() string

	// Returns true if the tracer understands worlds that are partitioned
	// between ranks and only renders the regions local to its rank.
	DistributionAware() bool

	// Prepare per-frame state. The returned value is passed unchanged to
	// every RenderTasks call for this frame.
	BeginFrame(grid fb.Grid, camera *scene.Camera, world *scene.World) any

	// Render the tiles with the given ids and return them. The target is
	// only queried for tile accumulation state; storing the tiles is up
	// to the caller. Implementations must be safe for concurrent use.
	RenderTasks(ctx context.Context, target fb.Target, camera *scene.Camera, world *scene.World, perFrame any, ids []uint32) ([]*fb.Tile, error)
}

// Create a tracer by name. The method argument is only used by the debug
// tracer.
func New(name, method string) (Tracer, error) {
	switch name {
	case "debug":
		return NewDebug(method), nil
	case "region":
		return NewRegion(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTracer, name)
}

// Allocate a tile for id and stamp it with the target's current accumulation
// counter.
func newTile(target fb.Target, id uint32) *fb.Tile {
	grid := target.Grid()
	tile := fb.NewTile(grid, id)
	tile.AccumID = target.AccumID(grid.TileCoord(id))
	return tile
}
