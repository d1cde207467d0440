// Package tileop implements operations that merge partial tile contributions
// produced by different ranks into a single tile.
package tileop

import (
	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/types"
)

// The Operation interface is implemented by tile compositors. Composite
// combines two contributions for the same tile where existing is in front of
// incoming. Implementations must not modify their inputs.
type Operation interface {
	Composite(existing, incoming *fb.Tile) *fb.Tile
}

// AlphaComposite blends premultiplied contributions front to back using the
// "over" operator. The resulting depth is the nearest of the two. Inputs are
// never re-sorted; passing them back to front produces the wrong image.
type AlphaComposite struct{}

func (AlphaComposite) String() string {
	return "alpha"
}

func (AlphaComposite) Composite(existing, incoming *fb.Tile) *fb.Tile {
	out := existing.Clone()
	for i := range out.Color {
		out.Color[i] = Over(existing.Color[i], incoming.Color[i])
		if incoming.Depth[i] < out.Depth[i] {
			out.Depth[i] = incoming.Depth[i]
		}
	}
	return out
}

// Blend a premultiplied back color behind a premultiplied front color.
func Over(front, back types.Vec4) types.Vec4 {
	return front.Add(back.Mul(1 - front[3]))
}

// Fold tiles with op in the order they are supplied. The first tile is the
// front-most contribution. Returns nil if no tiles are given.
func CompositeAll(op Operation, tiles ...*fb.Tile) *fb.Tile {
	if len(tiles) == 0 {
		return nil
	}

	out := tiles[0]
	for _, next := range tiles[1:] {
		out = op.Composite(out, next)
	}
	if len(tiles) == 1 {
		out = out.Clone()
	}
	return out
}
