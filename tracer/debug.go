package tracer

import (
	"context"
	"image/color"
	"math/rand"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/types"
	"github.com/muesli/gamut"
)

// The visualization used by the debug tracer.
type Method uint8

const (
	MethodTestFrame Method = iota
	MethodTileID
	MethodRank
	MethodNoise
	MethodAccumID
)

// Number of distinct colors used for tile and rank visualizations.
const paletteSize = 8

// Resolve a method name. Unknown names select MethodTestFrame.
func ParseMethod(name string) Method {
	switch name {
	case "tileID":
		return MethodTileID
	case "rank":
		return MethodRank
	case "noise":
		return MethodNoise
	case "accumID":
		return MethodAccumID
	}
	return MethodTestFrame
}

func (m Method) String() string {
	switch m {
	case MethodTileID:
		return "tileID"
	case MethodRank:
		return "rank"
	case MethodNoise:
		return "noise"
	case MethodAccumID:
		return "accumID"
	}
	return "testFrame"
}

// Debug renders synthetic patterns that make tile scheduling and
// accumulation visible without any scene geometry.
type Debug struct {
	method  Method
	palette []types.Vec4
}

// Create a debug tracer for the given method name.
func NewDebug(method string) *Debug {
	colors := gamut.Blends(gamut.Hex("#FFC107"), gamut.Hex("#7E57C2"), paletteSize)
	palette := make([]types.Vec4, len(colors))
	for i, c := range colors {
		palette[i] = toVec4(c)
	}

	return &Debug{
		method:  ParseMethod(method),
		palette: palette,
	}
}

func (d *Debug) Name() string {
	return "debug(" + d.method.String() + ")"
}

// Get the selected method.
func (d *Debug) Method() Method {
	return d.method
}

func (d *Debug) DistributionAware() bool {
	return false
}

func (d *Debug) BeginFrame(_ fb.Grid, _ *scene.Camera, _ *scene.World) any {
	return nil
}

func (d *Debug) RenderTasks(ctx context.Context, target fb.Target, _ *scene.Camera, world *scene.World, _ any, ids []uint32) ([]*fb.Tile, error) {
	size := target.Grid().Size
	tiles := make([]*fb.Tile, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tile := newTile(target, id)
		var rng *rand.Rand
		if d.method == MethodNoise {
			rng = rand.New(rand.NewSource(int64(id)<<32 | int64(tile.AccumID)))
		}

		for y := tile.Region.Min.Y; y < tile.Region.Max.Y; y++ {
			for x := tile.Region.Min.X; x < tile.Region.Max.X; x++ {
				var c types.Vec4
				switch d.method {
				case MethodTileID:
					c = d.palette[int(id)%len(d.palette)]
				case MethodRank:
					c = d.palette[rankIndex(world.Rank)%len(d.palette)]
				case MethodNoise:
					v := rng.Float32()
					c = types.XYZW(v, v, v, 1)
				case MethodAccumID:
					v := 1 / float32(tile.AccumID+1)
					c = types.XYZW(v, v, v, 1)
				default:
					c = types.XYZW(
						(float32(x)+0.5)/float32(size.X),
						(float32(y)+0.5)/float32(size.Y),
						0.5,
						1,
					)
				}

				i := tile.Index(x, y)
				tile.Color[i] = c
				tile.Depth[i] = 1
			}
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}

func rankIndex(rank int) int {
	if rank < 0 {
		return 0
	}
	return rank
}

// Convert a color to a premultiplied float vector.
func toVec4(c color.Color) types.Vec4 {
	r, g, b, a := c.RGBA()
	return types.XYZW(
		float32(r)/0xffff,
		float32(g)/0xffff,
		float32(b)/0xffff,
		float32(a)/0xffff,
	)
}
