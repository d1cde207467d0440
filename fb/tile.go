package fb

import (
	"image"
	"math"

	"github.com/achilleasa/tilefarm/types"
)

// A Tile holds the samples produced for one tile during a single pass. It is
// also the payload exchanged between ranks so all its fields are exported.
//
// Color and Depth are laid out row-major with a stride of TileSize; pixels
// outside Region (edge tiles) are padding and are never written to the frame
// buffer. Colors use premultiplied alpha.
type Tile struct {
	ID       uint32
	Region   image.Rectangle
	TileSize int

	// The accumID of the tile when it was dispatched.
	AccumID int32

	Color []types.Vec4
	Depth []float32
}

// Allocate an empty tile for the given grid position.
func NewTile(g Grid, id uint32) *Tile {
	t := &Tile{
		ID:       id,
		Region:   g.TileRegion(id),
		TileSize: g.TileSize,
		Color:    make([]types.Vec4, g.TileSize*g.TileSize),
		Depth:    make([]float32, g.TileSize*g.TileSize),
	}
	t.Reset()
	return t
}

// Clear the tile to transparent black with no depth hits.
func (t *Tile) Reset() {
	inf := float32(math.Inf(1))
	for i := range t.Color {
		t.Color[i] = types.Vec4{}
		t.Depth[i] = inf
	}
}

// Get the offset into Color/Depth for a frame-space pixel.
func (t *Tile) Index(x, y int) int {
	return (y-t.Region.Min.Y)*t.TileSize + (x - t.Region.Min.X)
}

// Create a deep copy of the tile.
func (t *Tile) Clone() *Tile {
	out := *t
	out.Color = append([]types.Vec4(nil), t.Color...)
	out.Depth = append([]float32(nil), t.Depth...)
	return &out
}
