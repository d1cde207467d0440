// Package fb implements tile storage, the accumulating frame buffer and its
// convergence queries.
//
// A frame is split into square tiles whose side is a power of two. Tiles are
// addressed either by their (x, y) grid coordinate or by their id which is
// computed as y*TilesX + x. Tiles on the right and bottom edges are clipped to
// the frame dimensions.
package fb

import (
	"image"
)

// The default tile side length in pixels.
const TileSize = 64

// Grid describes how a frame is split into tiles.
type Grid struct {
	// Frame dimensions in pixels.
	Size image.Point

	// Tile side length in pixels.
	TileSize int

	// Number of tiles in each direction.
	TilesX int
	TilesY int
}

// Create a grid for a frame of the given size. The tile size must be a power
// of two.
func NewGrid(width, height, tileSize int) (Grid, error) {
	if width <= 0 || height <= 0 {
		return Grid{}, ErrInvalidSize
	}
	if tileSize <= 0 || tileSize&(tileSize-1) != 0 {
		return Grid{}, ErrInvalidTileSize
	}

	return Grid{
		Size:     image.Pt(width, height),
		TileSize: tileSize,
		TilesX:   (width + tileSize - 1) / tileSize,
		TilesY:   (height + tileSize - 1) / tileSize,
	}, nil
}

// Get the total number of tiles.
func (g Grid) NumTiles() int {
	return g.TilesX * g.TilesY
}

// Returns true if id refers to a tile inside the grid.
func (g Grid) Contains(id uint32) bool {
	return int(id) < g.NumTiles()
}

// Get the id of the tile at the given grid coordinate.
func (g Grid) TileID(coord image.Point) uint32 {
	return uint32(coord.Y*g.TilesX + coord.X)
}

// Get the grid coordinate of a tile.
func (g Grid) TileCoord(id uint32) image.Point {
	return image.Pt(int(id)%g.TilesX, int(id)/g.TilesX)
}

// Get the pixel bounds of a tile, clipped to the frame.
func (g Grid) TileRegion(id uint32) image.Rectangle {
	c := g.TileCoord(id)
	r := image.Rect(
		c.X*g.TileSize,
		c.Y*g.TileSize,
		(c.X+1)*g.TileSize,
		(c.Y+1)*g.TileSize,
	)
	return r.Intersect(image.Rectangle{Max: g.Size})
}

// Get the ids of all tiles in row-major order.
func (g Grid) TileIDs() []uint32 {
	ids := make([]uint32, g.NumTiles())
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids
}

// Get the ids of all tiles overlapping a pixel rectangle.
func (g Grid) TilesInRect(r image.Rectangle) []uint32 {
	r = r.Intersect(image.Rectangle{Max: g.Size})
	if r.Empty() {
		return nil
	}

	x0, y0 := r.Min.X/g.TileSize, r.Min.Y/g.TileSize
	x1, y1 := (r.Max.X-1)/g.TileSize, (r.Max.Y-1)/g.TileSize

	ids := make([]uint32, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			ids = append(ids, g.TileID(image.Pt(x, y)))
		}
	}
	return ids
}
