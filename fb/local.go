package fb

import (
	"fmt"
	"image"
	"math"
	"sync/atomic"

	"github.com/achilleasa/tilefarm/types"
)

// Local is a frame buffer whose storage lives entirely in this process.
//
// SetTile may be called concurrently for different tiles; the writes touch
// disjoint pixel ranges so no locking is required. Calling SetTile for the
// same tile from two goroutines at once is a caller bug and panics.
type Local struct {
	grid   Grid
	format ColorFormat
	caps   Channel

	pixelOp PixelOp

	// Display buffers.
	color8   []uint8
	colorF32 []float32
	depth    []float32

	// Running mean and sum of squared deviations (Welford) per pixel.
	accum    []types.Vec4
	variance []types.Vec4

	// Per tile state.
	tileAccumID []atomic.Int32
	tileError   []atomic.Uint32
	tileBusy    []atomic.Bool

	// Outstanding mappings per buffer kind.
	mapped [numBufferKinds]atomic.Int32
}

// Create a new local frame buffer.
func NewLocal(width, height int, opts Options) (*Local, error) {
	tileSize := opts.TileSize
	if tileSize == 0 {
		tileSize = TileSize
	}
	grid, err := NewGrid(width, height, tileSize)
	if err != nil {
		return nil, err
	}

	if opts.Variance && !opts.Accum {
		return nil, ErrCapabilityMismatch
	}

	numPixels := width * height
	f := &Local{
		grid:        grid,
		format:      opts.Format,
		pixelOp:     opts.PixelOp,
		tileAccumID: make([]atomic.Int32, grid.NumTiles()),
		tileBusy:    make([]atomic.Bool, grid.NumTiles()),
	}

	switch opts.Format {
	case FormatNone:
	case FormatRGBA8:
		f.color8 = make([]uint8, 4*numPixels)
		f.caps |= ChannelColor
	case FormatRGBAF32:
		f.colorF32 = make([]float32, 4*numPixels)
		f.caps |= ChannelColor
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}

	if opts.Depth {
		f.depth = make([]float32, numPixels)
		f.caps |= ChannelDepth
	}
	if opts.Accum {
		f.accum = make([]types.Vec4, numPixels)
		f.caps |= ChannelAccum
	}
	if opts.Variance {
		f.variance = make([]types.Vec4, numPixels)
		f.tileError = make([]atomic.Uint32, grid.NumTiles())
		f.caps |= ChannelVariance
	}

	f.Clear(ChannelAccum)
	return f, nil
}

func (f *Local) String() string {
	return "framebuffer.Local"
}

// Get the tile layout.
func (f *Local) Grid() Grid {
	return f.grid
}

// Get the display color format.
func (f *Local) Format() ColorFormat {
	return f.format
}

// Get the channels backed by storage.
func (f *Local) Capabilities() Channel {
	return f.caps
}

// Reset the given channels. Clearing ChannelAccum only resets the per-tile
// accumulation counters (and marks every tile as unconverged); the next
// SetTile for each tile overwrites the accumulation buffer instead of
// blending into it.
func (f *Local) Clear(channels Channel) {
	if channels&ChannelAccum == 0 {
		return
	}

	for i := range f.tileAccumID {
		f.tileAccumID[i].Store(0)
	}

	if f.tileError != nil {
		inf := math.Float32bits(float32(math.Inf(1)))
		for i := range f.tileError {
			f.tileError[i].Store(inf)
		}
	}
}

// Store the samples of a rendered tile: run the pre-accumulation hook, fold
// the samples into the accumulation buffer, run the post-accumulation hook and
// finally write the result into the display buffers.
//
// When an accumulation buffer is present the tile's colors are replaced with
// the running mean.
func (f *Local) SetTile(tile *Tile) {
	if !f.grid.Contains(tile.ID) || tile.Region != f.grid.TileRegion(tile.ID) {
		panic(fmt.Errorf("%w: tile %d", ErrTileOutOfBounds, tile.ID))
	}
	if !f.tileBusy[tile.ID].CompareAndSwap(false, true) {
		panic(fmt.Errorf("%w: tile %d", ErrConcurrentTileWrite, tile.ID))
	}
	defer f.tileBusy[tile.ID].Store(false)

	if f.pixelOp != nil {
		f.pixelOp.PreAccum(tile)
	}
	if f.accum != nil {
		f.accumulateTile(tile)
	}
	if f.pixelOp != nil {
		f.pixelOp.PostAccum(tile)
	}
	f.writeTile(tile)
}

func (f *Local) accumulateTile(tile *Tile) {
	prevAccumID := f.tileAccumID[tile.ID].Load()
	accumID := prevAccumID + 1
	n := float32(accumID)
	invN := 1 / n

	var errSum float64
	var numPixels int
	for y := tile.Region.Min.Y; y < tile.Region.Max.Y; y++ {
		for x := tile.Region.Min.X; x < tile.Region.Max.X; x++ {
			i := tile.Index(x, y)
			p := y*f.grid.Size.X + x
			sample := tile.Color[i]

			if prevAccumID == 0 {
				f.accum[p] = sample
				if f.variance != nil {
					f.variance[p] = types.Vec4{}
				}
				continue
			}

			mean := f.accum[p]
			delta := sample.Sub(mean)
			mean = mean.Add(delta.Mul(invN))
			f.accum[p] = mean
			tile.Color[i] = mean

			if f.variance != nil {
				m2 := f.variance[p].Add(delta.MulVec(sample.Sub(mean)))
				f.variance[p] = m2
				errSum += pixelError(m2, n)
				numPixels++
			}
		}
	}

	f.tileAccumID[tile.ID].Store(accumID)
	if f.tileError != nil && accumID > 1 && numPixels > 0 {
		f.tileError[tile.ID].Store(math.Float32bits(float32(errSum / float64(numPixels))))
	}
}

// Standard error of the running mean averaged over the RGB channels.
func pixelError(m2 types.Vec4, n float32) float64 {
	variance := float64(m2[0]+m2[1]+m2[2]) / 3 / float64(n-1)
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance / float64(n))
}

func (f *Local) writeTile(tile *Tile) {
	stride := f.grid.Size.X
	for y := tile.Region.Min.Y; y < tile.Region.Max.Y; y++ {
		for x := tile.Region.Min.X; x < tile.Region.Max.X; x++ {
			i := tile.Index(x, y)
			p := y*stride + x

			switch f.format {
			case FormatRGBA8:
				c := tile.Color[i].Saturate()
				for ch := 0; ch < 4; ch++ {
					f.color8[4*p+ch] = uint8(c[ch]*255 + 0.5)
				}
			case FormatRGBAF32:
				copy(f.colorF32[4*p:4*p+4], tile.Color[i][:])
			}

			if f.depth != nil {
				f.depth[p] = tile.Depth[i]
			}
		}
	}
}

// Get the number of accumulated passes for a tile.
func (f *Local) AccumID(coord image.Point) int32 {
	return f.tileAccumID[f.grid.TileID(coord)].Load()
}

// Get the error estimate for a tile. The estimate is only meaningful once a
// tile has accumulated at least two passes; before that (or without a
// variance buffer) this method returns +Inf.
func (f *Local) TileError(coord image.Point) float32 {
	id := f.grid.TileID(coord)
	if f.tileError == nil || f.tileAccumID[id].Load() <= 1 {
		return float32(math.Inf(1))
	}
	return math.Float32frombits(f.tileError[id].Load())
}

// Get the worst tile error over the entire frame. Frame buffers without a
// variance buffer always report +Inf.
func (f *Local) FrameError() float32 {
	if f.tileError == nil {
		return float32(math.Inf(1))
	}

	var maxErr float32
	for id := range f.tileError {
		if f.tileAccumID[id].Load() <= 1 {
			return float32(math.Inf(1))
		}
		if err := math.Float32frombits(f.tileError[id].Load()); err > maxErr {
			maxErr = err
		}
	}
	return maxErr
}
