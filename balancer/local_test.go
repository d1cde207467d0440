package balancer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
	"github.com/google/go-cmp/cmp"
)

type mockTracer struct {
	inner tracer.Tracer
	err   error

	// Optional rewrite of the tiles returned by inner.
	mutate func([]*fb.Tile) []*fb.Tile

	mu       sync.Mutex
	rendered map[uint32]int

	active    atomic.Int32
	maxActive atomic.Int32
}

func makeMockTracer(inner tracer.Tracer) *mockTracer {
	return &mockTracer{
		inner:    inner,
		rendered: make(map[uint32]int),
	}
}

func (mt *mockTracer) Name() string {
	return "mock"
}

func (mt *mockTracer) DistributionAware() bool {
	return false
}

func (mt *mockTracer) BeginFrame(grid fb.Grid, camera *scene.Camera, world *scene.World) any {
	return mt.inner.BeginFrame(grid, camera, world)
}

func (mt *mockTracer) RenderTasks(ctx context.Context, target fb.Target, camera *scene.Camera, world *scene.World, perFrame any, ids []uint32) ([]*fb.Tile, error) {
	n := mt.active.Add(1)
	defer mt.active.Add(-1)
	for {
		cur := mt.maxActive.Load()
		if n <= cur || mt.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	if mt.err != nil {
		return nil, mt.err
	}

	mt.mu.Lock()
	for _, id := range ids {
		mt.rendered[id]++
	}
	mt.mu.Unlock()

	tiles, err := mt.inner.RenderTasks(ctx, target, camera, world, perFrame, ids)
	if err != nil || mt.mutate == nil {
		return tiles, err
	}
	return mt.mutate(tiles), nil
}

func newFrame(t *testing.T, w, h int) *fb.Local {
	frame, err := fb.NewLocal(w, h, fb.Options{Format: fb.FormatRGBAF32, Accum: true, Variance: true, TileSize: 16})
	if err != nil {
		t.Fatal(err)
	}
	return frame
}

func snapshot(t *testing.T, frame *fb.Local) []float32 {
	view := frame.MapColorBuffer()
	defer func() {
		if err := frame.Unmap(view); err != nil {
			t.Fatal(err)
		}
	}()
	return append([]float32(nil), view.Float...)
}

func TestLocalRendersEveryTileOnce(t *testing.T) {
	type spec struct {
		workers        int
		tasksPerWorker int
	}
	specs := []spec{
		{1, 1},
		{3, 4},
		{8, 1},
		{64, 4},
	}

	for index, s := range specs {
		frame := newFrame(t, 100, 70)
		tr := makeMockTracer(tracer.NewDebug("tileID"))
		lb := NewLocal(LocalOptions{Workers: s.workers, TasksPerWorker: s.tasksPerWorker})

		if err := lb.RenderFrame(context.Background(), frame, tr, nil, scene.NewWorld(0)); err != nil {
			t.Fatalf("[spec %d] unexpected error: %v", index, err)
		}

		grid := frame.Grid()
		if len(tr.rendered) != grid.NumTiles() {
			t.Fatalf("[spec %d] expected %d tiles to be rendered; got %d", index, grid.NumTiles(), len(tr.rendered))
		}
		for id, count := range tr.rendered {
			if count != 1 {
				t.Fatalf("[spec %d] expected tile %d to be rendered once; got %d", index, id, count)
			}
			if accumID := frame.AccumID(grid.TileCoord(id)); accumID != 1 {
				t.Fatalf("[spec %d] expected tile %d to have accumID 1; got %d", index, id, accumID)
			}
		}
		if peak := tr.maxActive.Load(); int(peak) > s.workers {
			t.Fatalf("[spec %d] expected at most %d concurrent tasks; got %d", index, s.workers, peak)
		}
	}
}

func TestLocalResultIndependentOfWorkerCount(t *testing.T) {
	var ref []float32
	for _, workers := range []int{1, 2, 7} {
		frame := newFrame(t, 64, 48)
		lb := NewLocal(LocalOptions{Workers: workers})
		tr := tracer.NewDebug("noise")

		for pass := 0; pass < 3; pass++ {
			if err := lb.RenderFrame(context.Background(), frame, tr, nil, scene.NewWorld(0)); err != nil {
				t.Fatal(err)
			}
		}

		got := snapshot(t, frame)
		if ref == nil {
			ref = got
			continue
		}
		if diff := cmp.Diff(ref, got); diff != "" {
			t.Fatalf("[workers %d] frame differs from single worker render (-want +got):\n%s", workers, diff)
		}
	}
}

func TestLocalRenderTilesSubset(t *testing.T) {
	frame := newFrame(t, 64, 64)
	tr := makeMockTracer(tracer.NewDebug("testFrame"))
	lb := NewLocal(LocalOptions{Workers: 2})

	ids := []uint32{3, 5, 9}
	if err := lb.RenderTiles(context.Background(), frame, tr, nil, scene.NewWorld(0), nil, ids); err != nil {
		t.Fatal(err)
	}

	grid := frame.Grid()
	for _, id := range grid.TileIDs() {
		exp := int32(0)
		if id == 3 || id == 5 || id == 9 {
			exp = 1
		}
		if got := frame.AccumID(grid.TileCoord(id)); got != exp {
			t.Fatalf("expected tile %d to have accumID %d; got %d", id, exp, got)
		}
	}

	if err := lb.RenderTiles(context.Background(), frame, tr, nil, scene.NewWorld(0), nil, nil); err != nil {
		t.Fatalf("expected empty dispatch to succeed; got %v", err)
	}
}

func TestLocalPropagatesTracerErrors(t *testing.T) {
	frame := newFrame(t, 64, 64)
	expErr := errors.New("tracer exploded")
	tr := makeMockTracer(tracer.NewDebug("testFrame"))
	tr.err = expErr

	err := NewLocal(LocalOptions{Workers: 4}).RenderFrame(context.Background(), frame, tr, nil, scene.NewWorld(0))
	if !errors.Is(err, expErr) {
		t.Fatalf("expected error to wrap %v; got %v", expErr, err)
	}
}

func TestLocalRejectsMismatchedTracerOutput(t *testing.T) {
	specs := []struct {
		name   string
		mutate func([]*fb.Tile) []*fb.Tile
	}{
		{"dropped", func(tiles []*fb.Tile) []*fb.Tile { return tiles[1:] }},
		{"repeated", func(tiles []*fb.Tile) []*fb.Tile { return append(tiles[:len(tiles)-1], tiles[0]) }},
		{"extra", func(tiles []*fb.Tile) []*fb.Tile { return append(tiles, tiles[0].Clone()) }},
		{"foreign", func(tiles []*fb.Tile) []*fb.Tile {
			tiles[0].ID = 999
			return tiles
		}},
		{"nil", func(tiles []*fb.Tile) []*fb.Tile {
			tiles[2] = nil
			return tiles
		}},
	}

	for index, spec := range specs {
		// 2x2 tiles in a single task.
		frame := newFrame(t, 32, 32)
		tr := makeMockTracer(tracer.NewDebug("testFrame"))
		tr.mutate = spec.mutate

		err := NewLocal(LocalOptions{Workers: 1, TasksPerWorker: 1}).RenderFrame(context.Background(), frame, tr, nil, scene.NewWorld(0))
		if !errors.Is(err, ErrIncompleteTask) {
			t.Fatalf("[spec %d: %s] expected ErrIncompleteTask; got %v", index, spec.name, err)
		}

		grid := frame.Grid()
		for _, id := range grid.TileIDs() {
			if got := frame.AccumID(grid.TileCoord(id)); got != 0 {
				t.Fatalf("[spec %d: %s] expected tile %d to stay unrendered; got accumID %d", index, spec.name, id, got)
			}
		}
	}
}

func TestLocalObservesCancellation(t *testing.T) {
	frame := newFrame(t, 64, 64)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLocal(LocalOptions{Workers: 2}).RenderFrame(ctx, frame, tracer.NewDebug("testFrame"), nil, scene.NewWorld(0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled; got %v", err)
	}
}

func TestLocalDefaults(t *testing.T) {
	lb := NewLocal(LocalOptions{})
	if lb.Workers() < 1 {
		t.Fatalf("expected at least one worker; got %d", lb.Workers())
	}
	if lb.tasksPerWorker != DefaultTasksPerWorker {
		t.Fatalf("expected %d tasks per worker; got %d", DefaultTasksPerWorker, lb.tasksPerWorker)
	}
	if got := NewLocal(LocalOptions{Workers: 4, TasksPerWorker: 4}).numTasks(5); got != 5 {
		t.Fatalf("expected the task count to be capped by the tile count; got %d", got)
	}
}
