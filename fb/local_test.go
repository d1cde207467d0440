package fb

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/achilleasa/tilefarm/types"
)

func fillTile(g Grid, id uint32, c types.Vec4) *Tile {
	tile := NewTile(g, id)
	for i := range tile.Color {
		tile.Color[i] = c
		tile.Depth[i] = 1
	}
	return tile
}

func newTestFB(t *testing.T, w, h int, opts Options) *Local {
	f, err := NewLocal(w, h, opts)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestNewLocalConfigurationErrors(t *testing.T) {
	type spec struct {
		w, h   int
		opts   Options
		expErr error
	}
	specs := []spec{
		{0, 10, Options{Format: FormatRGBA8}, ErrInvalidSize},
		{10, 10, Options{Format: ColorFormat(42)}, ErrUnsupportedFormat},
		{10, 10, Options{Format: FormatRGBA8, Variance: true}, ErrCapabilityMismatch},
		{10, 10, Options{Format: FormatRGBA8, TileSize: 20}, ErrInvalidTileSize},
	}

	for index, s := range specs {
		f, err := NewLocal(s.w, s.h, s.opts)
		if !errors.Is(err, s.expErr) {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
		if f != nil {
			t.Fatalf("[spec %d] expected no frame buffer to be returned", index)
		}
	}
}

func TestCapabilities(t *testing.T) {
	f := newTestFB(t, 16, 16, Options{Format: FormatNone, Depth: true, Accum: true, Variance: true})
	exp := ChannelDepth | ChannelAccum | ChannelVariance
	if f.Capabilities() != exp {
		t.Fatalf("expected capabilities %b; got %b", exp, f.Capabilities())
	}
}

func TestSingleSampleIsNotConverged(t *testing.T) {
	f := newTestFB(t, 64, 64, Options{Format: FormatRGBAF32, Accum: true, Variance: true, TileSize: 32})
	f.Clear(ChannelAccum)

	f.SetTile(fillTile(f.Grid(), 0, types.XYZW(0.5, 0.5, 0.5, 1)))

	if got := f.AccumID(image.Pt(0, 0)); got != 1 {
		t.Fatalf("expected accumID 1; got %d", got)
	}
	if got := f.TileError(image.Pt(0, 0)); !math.IsInf(float64(got), 1) {
		t.Fatalf("expected tile error to be +Inf after a single pass; got %f", got)
	}
	if got := f.AccumID(image.Pt(1, 0)); got != 0 {
		t.Fatalf("expected untouched tile accumID to be 0; got %d", got)
	}
}

func TestTwoIdenticalSamplesConverge(t *testing.T) {
	f := newTestFB(t, 64, 64, Options{Format: FormatRGBAF32, Accum: true, Variance: true, TileSize: 32})

	c := types.XYZW(0.25, 0.5, 0.75, 1)
	f.SetTile(fillTile(f.Grid(), 0, c))
	f.SetTile(fillTile(f.Grid(), 0, c))

	if got := f.AccumID(image.Pt(0, 0)); got != 2 {
		t.Fatalf("expected accumID 2; got %d", got)
	}
	if got := f.TileError(image.Pt(0, 0)); got != 0 {
		t.Fatalf("expected tile error to be exactly 0; got %f", got)
	}
}

func TestAccumulationIsOrderIndependent(t *testing.T) {
	g, _ := NewGrid(32, 32, 32)
	samples := make([]types.Vec4, 9)
	rng := rand.New(rand.NewSource(7))
	for i := range samples {
		samples[i] = types.XYZW(rng.Float32(), rng.Float32(), rng.Float32(), 1)
	}

	var ref []float32
	for round := 0; round < 8; round++ {
		f := newTestFB(t, 32, 32, Options{Format: FormatRGBAF32, Accum: true, Variance: true, TileSize: 32})
		for _, idx := range rng.Perm(len(samples)) {
			f.SetTile(fillTile(g, 0, samples[idx]))
		}

		view := f.MapColorBuffer()
		got := append([]float32(nil), view.Float...)
		if err := f.Unmap(view); err != nil {
			t.Fatal(err)
		}

		if ref == nil {
			ref = got
			continue
		}
		for i := range ref {
			if math.Abs(float64(ref[i]-got[i])) > 1e-5 {
				t.Fatalf("[round %d] expected component %d to be %f; got %f", round, i, ref[i], got[i])
			}
		}
	}
}

func TestClearOverwritesInsteadOfBlending(t *testing.T) {
	f := newTestFB(t, 8, 8, Options{Format: FormatRGBAF32, Accum: true, TileSize: 8})
	g := f.Grid()

	f.SetTile(fillTile(g, 0, types.XYZW(1, 1, 1, 1)))
	f.SetTile(fillTile(g, 0, types.XYZW(0, 0, 0, 1)))
	f.Clear(ChannelAccum)
	f.SetTile(fillTile(g, 0, types.XYZW(0.2, 0.2, 0.2, 1)))

	view := f.MapColorBuffer()
	defer f.Unmap(view)
	if got := view.Float[0]; got != 0.2 {
		t.Fatalf("expected first pass after clear to overwrite the accumulator; got %f", got)
	}
}

func TestFrameError(t *testing.T) {
	f := newTestFB(t, 64, 32, Options{Format: FormatNone, Accum: true, Variance: true, TileSize: 32})
	g := f.Grid()

	// Tile 0 converges, tile 1 gets one pass only.
	f.SetTile(fillTile(g, 0, types.XYZW(0.5, 0.5, 0.5, 1)))
	f.SetTile(fillTile(g, 0, types.XYZW(0.5, 0.5, 0.5, 1)))
	f.SetTile(fillTile(g, 1, types.XYZW(0, 0, 0, 1)))
	if got := f.FrameError(); !math.IsInf(float64(got), 1) {
		t.Fatalf("expected +Inf frame error while a tile has a single pass; got %f", got)
	}

	f.SetTile(fillTile(g, 1, types.XYZW(1, 1, 1, 1)))
	exp := f.TileError(image.Pt(1, 0))
	if exp <= 0 || math.IsInf(float64(exp), 0) {
		t.Fatalf("expected a finite positive error for the noisy tile; got %f", exp)
	}

	var maxErr float32
	for _, id := range g.TileIDs() {
		if e := f.TileError(g.TileCoord(id)); e > maxErr {
			maxErr = e
		}
	}
	if got := f.FrameError(); got != maxErr || got != exp {
		t.Fatalf("expected frame error %f; got %f", maxErr, got)
	}
}

func TestFrameErrorWithoutVariance(t *testing.T) {
	f := newTestFB(t, 16, 16, Options{Format: FormatRGBA8, Accum: true})
	f.SetTile(fillTile(f.Grid(), 0, types.XYZW(1, 0, 0, 1)))
	f.SetTile(fillTile(f.Grid(), 0, types.XYZW(1, 0, 0, 1)))

	if got := f.FrameError(); !math.IsInf(float64(got), 1) {
		t.Fatalf("expected +Inf frame error without a variance buffer; got %f", got)
	}
	if got := f.TileError(image.Pt(0, 0)); !math.IsInf(float64(got), 1) {
		t.Fatalf("expected +Inf tile error without a variance buffer; got %f", got)
	}
}

func TestRGBA8Output(t *testing.T) {
	f := newTestFB(t, 4, 4, Options{Format: FormatRGBA8, Depth: true, TileSize: 4})
	tile := fillTile(f.Grid(), 0, types.XYZW(1, 0.5, 2, 1))
	f.SetTile(tile)

	view := f.MapColorBuffer()
	exp := []uint8{255, 128, 255, 255}
	for i, v := range exp {
		if view.Pix[i] != v {
			t.Fatalf("expected channel %d to be %d; got %d", i, v, view.Pix[i])
		}
	}
	if img := view.Image(); img.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("expected image bounds to match the frame; got %v", img.Bounds())
	}
	if err := f.Unmap(view); err != nil {
		t.Fatal(err)
	}

	depth := f.MapDepthBuffer()
	if depth.Float[5] != 1 {
		t.Fatalf("expected depth 1; got %f", depth.Float[5])
	}
	if err := f.Unmap(depth); err != nil {
		t.Fatal(err)
	}

	// Without an accumulation buffer the accumID never advances.
	if got := f.AccumID(image.Pt(0, 0)); got != 0 {
		t.Fatalf("expected accumID 0 without an accumulation buffer; got %d", got)
	}
}

func TestToneMapRunsAfterAccumulation(t *testing.T) {
	f := newTestFB(t, 4, 4, Options{Format: FormatRGBAF32, Accum: true, TileSize: 4, PixelOp: ToneMap{Exposure: 1}})
	f.SetTile(fillTile(f.Grid(), 0, types.XYZW(1, 1, 1, 1)))
	f.SetTile(fillTile(f.Grid(), 0, types.XYZW(3, 3, 3, 1)))

	view := f.MapColorBuffer()
	defer f.Unmap(view)

	// mean = 2 -> 2 / (1 + 2)
	exp := float32(2.0 / 3.0)
	if math.Abs(float64(view.Float[0]-exp)) > 1e-6 {
		t.Fatalf("expected tone-mapped value %f; got %f", exp, view.Float[0])
	}
	if view.Float[3] != 1 {
		t.Fatalf("expected alpha to be left untouched; got %f", view.Float[3])
	}
}

func TestViewIsLiveMapping(t *testing.T) {
	f := newTestFB(t, 8, 8, Options{Format: FormatRGBAF32, TileSize: 8})
	g := f.Grid()

	view := f.MapColorBuffer()
	defer f.Unmap(view)
	snapshot := append([]float32(nil), view.Float...)

	f.SetTile(fillTile(g, 0, types.XYZW(0.5, 0.5, 0.5, 1)))
	if got := view.Float[0]; got != 0.5 {
		t.Fatalf("expected mapped view to reflect the stored tile; got %f", got)
	}
	if got := snapshot[0]; got != 0 {
		t.Fatalf("expected copied snapshot to keep its contents; got %f", got)
	}
}

func TestMapUnmapPairing(t *testing.T) {
	f := newTestFB(t, 8, 8, Options{Format: FormatRGBA8, Depth: true})
	other := newTestFB(t, 8, 8, Options{Format: FormatRGBA8, Depth: true})

	color := f.MapColorBuffer()
	if f.Mapped(BufferColor) != 1 {
		t.Fatalf("expected one outstanding color mapping; got %d", f.Mapped(BufferColor))
	}

	// A depth view that this frame buffer never handed out.
	forged := &View{Kind: BufferDepth, owner: f}
	if err := f.Unmap(forged); err != ErrInvalidUnmap {
		t.Fatalf("expected ErrInvalidUnmap for unmapped depth buffer; got %v", err)
	}

	// A depth view that belongs to another frame buffer.
	foreign := other.MapDepthBuffer()
	if err := f.Unmap(foreign); err != ErrInvalidUnmap {
		t.Fatalf("expected ErrInvalidUnmap for foreign view; got %v", err)
	}

	if err := f.Unmap(color); err != nil {
		t.Fatalf("expected matching unmap to succeed; got %v", err)
	}
	if err := f.Unmap(color); err != ErrInvalidUnmap {
		t.Fatalf("expected double unmap to be rejected; got %v", err)
	}
	if f.Mapped(BufferColor) != 0 {
		t.Fatalf("expected no outstanding color mappings; got %d", f.Mapped(BufferColor))
	}
	if err := other.Unmap(foreign); err != nil {
		t.Fatal(err)
	}
}

func TestSetTileOutOfBoundsPanics(t *testing.T) {
	f := newTestFB(t, 32, 32, Options{Format: FormatRGBA8, TileSize: 32})
	g, _ := NewGrid(64, 64, 32)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, ErrTileOutOfBounds) {
			t.Fatalf("expected panic with ErrTileOutOfBounds; got %v", r)
		}
	}()
	f.SetTile(NewTile(g, 3))
}
