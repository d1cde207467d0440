package fb

import (
	"fmt"
	"image"
)

// The pixel format of the display color buffer.
type ColorFormat uint8

const (
	// No display output; useful for headless or metric-only runs.
	FormatNone ColorFormat = iota

	// 8-bit per channel packed RGBA.
	FormatRGBA8

	// 32-bit float RGBA.
	FormatRGBAF32
)

func (f ColorFormat) String() string {
	switch f {
	case FormatNone:
		return "none"
	case FormatRGBA8:
		return "rgba8"
	case FormatRGBAF32:
		return "rgbaf32"
	}
	return fmt.Sprintf("ColorFormat(%d)", uint8(f))
}

// Parse a color format name.
func ParseColorFormat(name string) (ColorFormat, error) {
	switch name {
	case "none":
		return FormatNone, nil
	case "rgba8":
		return FormatRGBA8, nil
	case "rgbaf32":
		return FormatRGBAF32, nil
	}
	return FormatNone, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// A set of frame buffer channels.
type Channel uint8

const (
	ChannelColor Channel = 1 << iota
	ChannelDepth
	ChannelAccum
	ChannelVariance
)

// Frame buffer construction options. The capabilities selected here are fixed
// for the lifetime of the frame buffer.
type Options struct {
	Format   ColorFormat
	Depth    bool
	Accum    bool
	Variance bool

	// Tile side length; defaults to TileSize.
	TileSize int

	// Optional hooks invoked by SetTile around accumulation.
	PixelOp PixelOp
}

// The Target interface is implemented by anything that tile results can be
// written to: a local frame buffer, the master side of a distributed frame
// buffer or a proxy that forwards tiles to another rank.
type Target interface {
	// Get the tile layout.
	Grid() Grid

	// Get the number of accumulated passes for a tile.
	AccumID(coord image.Point) int32

	// Store the samples of a rendered tile.
	SetTile(tile *Tile)
}

// The FrameBuffer interface is implemented by frame buffers that own pixel
// storage and can report convergence.
type FrameBuffer interface {
	Target

	// Get the display color format.
	Format() ColorFormat

	// Get the channels backed by storage.
	Capabilities() Channel

	// Reset the given channels.
	Clear(channels Channel)

	// Get the error estimate for a tile; +Inf when it cannot be estimated.
	TileError(coord image.Point) float32

	// Get the worst tile error over the entire frame.
	FrameError() float32

	// Map the display buffers for reading.
	MapColorBuffer() *View
	MapDepthBuffer() *View

	// Release a view returned by one of the Map methods.
	Unmap(view *View) error
}

// The PixelOp interface lets callers post-process tile samples before and
// after they are folded into the accumulation buffer.
type PixelOp interface {
	PreAccum(tile *Tile)
	PostAccum(tile *Tile)
}
