package tracer

import (
	"context"
	"image"
	"sort"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tileop"
)

// Region renders the world's regions as flat translucent boxes. It only
// renders the regions local to the world's rank so partial images from
// different ranks need to be composited.
type Region struct{}

// The screen footprint of a region for the current frame.
type projectedRegion struct {
	region *scene.Region
	rect   image.Rectangle
	depth  float32
}

func NewRegion() *Region {
	return &Region{}
}

func (r *Region) Name() string {
	return "region"
}

func (r *Region) DistributionAware() bool {
	return true
}

// Project the local regions and sort them front to back.
func (r *Region) BeginFrame(grid fb.Grid, camera *scene.Camera, world *scene.World) any {
	local := world.LocalRegions()
	projected := make([]projectedRegion, 0, len(local))
	for _, region := range local {
		rect, depth, ok := camera.ScreenRect(region.Bounds, grid.Size)
		if !ok {
			continue
		}
		projected = append(projected, projectedRegion{region: region, rect: rect, depth: depth})
	}

	sort.SliceStable(projected, func(i, j int) bool {
		return projected[i].depth < projected[j].depth
	})
	return projected
}

func (r *Region) RenderTasks(ctx context.Context, target fb.Target, camera *scene.Camera, world *scene.World, perFrame any, ids []uint32) ([]*fb.Tile, error) {
	projected, ok := perFrame.([]projectedRegion)
	if !ok {
		projected = r.BeginFrame(target.Grid(), camera, world).([]projectedRegion)
	}

	tiles := make([]*fb.Tile, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tile := newTile(target, id)
		for _, p := range projected {
			overlap := tile.Region.Intersect(p.rect)
			if overlap.Empty() {
				continue
			}

			c := p.region.Premultiplied()
			for y := overlap.Min.Y; y < overlap.Max.Y; y++ {
				for x := overlap.Min.X; x < overlap.Max.X; x++ {
					i := tile.Index(x, y)
					tile.Color[i] = tileop.Over(tile.Color[i], c)
					if p.depth < tile.Depth[i] {
						tile.Depth[i] = p.depth
					}
				}
			}
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}
