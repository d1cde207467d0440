package fb

import (
	"image"
	"image/color"
	"sync/atomic"
)

// The kind of buffer a View maps.
type BufferKind uint8

const (
	BufferColor BufferKind = iota
	BufferDepth
	numBufferKinds
)

// A View is a read-only mapping of one of the frame buffer's display buffers.
// Exactly one of Pix or Float is populated depending on the buffer kind and
// color format; both are nil when the frame buffer has no such buffer.
//
// Pix and Float alias the live buffers: tiles stored while the view is mapped
// show through, and writing to them is undefined. Copy the data to keep or
// modify it. The slices must not be used after Unmap.
type View struct {
	Kind   BufferKind
	Format ColorFormat
	Size   image.Point

	// Packed RGBA8 color data.
	Pix []uint8

	// RGBA float color data or depth values.
	Float []float32

	owner    *Local
	released atomic.Bool
}

// Map the display color buffer for reading. Every call must be paired with a
// matching call to Unmap.
func (f *Local) MapColorBuffer() *View {
	f.mapped[BufferColor].Add(1)
	v := &View{Kind: BufferColor, Format: f.format, Size: f.grid.Size, owner: f}
	switch f.format {
	case FormatRGBA8:
		v.Pix = f.color8
	case FormatRGBAF32:
		v.Float = f.colorF32
	}
	return v
}

// Map the depth buffer for reading. Every call must be paired with a matching
// call to Unmap.
func (f *Local) MapDepthBuffer() *View {
	f.mapped[BufferDepth].Add(1)
	return &View{Kind: BufferDepth, Format: f.format, Size: f.grid.Size, Float: f.depth, owner: f}
}

// Release a mapped view. Views that were not issued by this frame buffer,
// views that were already released and views for a buffer kind without an
// outstanding mapping are rejected with ErrInvalidUnmap.
func (f *Local) Unmap(v *View) error {
	if v == nil || v.owner != f || v.Kind >= numBufferKinds {
		return ErrInvalidUnmap
	}
	if f.mapped[v.Kind].Add(-1) < 0 {
		f.mapped[v.Kind].Add(1)
		return ErrInvalidUnmap
	}
	if !v.released.CompareAndSwap(false, true) {
		f.mapped[v.Kind].Add(1)
		return ErrInvalidUnmap
	}
	return nil
}

// Get the number of outstanding mappings for a buffer kind.
func (f *Local) Mapped(kind BufferKind) int {
	return int(f.mapped[kind].Load())
}

// Convert a color view into an image. The returned image shares storage with
// the view for the RGBA8 format. Returns nil for depth views or frame buffers
// without color output.
func (v *View) Image() image.Image {
	if v.Kind != BufferColor {
		return nil
	}

	rect := image.Rectangle{Max: v.Size}
	switch {
	case v.Pix != nil:
		return &image.RGBA{Pix: v.Pix, Stride: 4 * v.Size.X, Rect: rect}
	case v.Float != nil:
		img := image.NewRGBA64(rect)
		for p := 0; p < v.Size.X*v.Size.Y; p++ {
			var c color.RGBA64
			px := v.Float[4*p : 4*p+4]
			c.R = toU16(px[0])
			c.G = toU16(px[1])
			c.B = toU16(px[2])
			c.A = toU16(px[3])
			img.SetRGBA64(p%v.Size.X, p/v.Size.X, c)
		}
		return img
	}
	return nil
}

func toU16(v float32) uint16 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 0xffff
	}
	return uint16(v*0xffff + 0.5)
}
