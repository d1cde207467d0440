package balancer

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/log"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
	"golang.org/x/sync/errgroup"
)

// The default number of tasks each worker is expected to process per pass.
// More tasks per worker smooth out tiles of uneven cost.
const DefaultTasksPerWorker = 4

type LocalOptions struct {
	// Size of the worker pool. Defaults to GOMAXPROCS.
	Workers int

	// Task granularity. Defaults to DefaultTasksPerWorker.
	TasksPerWorker int
}

// Local renders a pass by splitting tiles into tasks and processing them on
// a bounded pool of goroutines.
type Local struct {
	logger log.Logger

	workers        int
	tasksPerWorker int
}

// Create a new local load balancer.
func NewLocal(opts LocalOptions) *Local {
	lb := &Local{
		logger:         log.New("local balancer"),
		workers:        opts.Workers,
		tasksPerWorker: opts.TasksPerWorker,
	}
	if lb.workers <= 0 {
		lb.workers = runtime.GOMAXPROCS(0)
	}
	if lb.tasksPerWorker <= 0 {
		lb.tasksPerWorker = DefaultTasksPerWorker
	}
	return lb
}

func (lb *Local) String() string {
	return fmt.Sprintf("local(workers=%d)", lb.workers)
}

// Get the worker pool size.
func (lb *Local) Workers() int {
	return lb.workers
}

// Render one pass over every tile of the frame.
func (lb *Local) RenderFrame(ctx context.Context, frame fb.FrameBuffer, tr tracer.Tracer, camera *scene.Camera, world *scene.World) error {
	grid := frame.Grid()
	perFrame := tr.BeginFrame(grid, camera, world)
	return lb.RenderTiles(ctx, frame, tr, camera, world, perFrame, grid.TileIDs())
}

// Render one pass over a subset of tiles and store the results in target.
// The call returns once every task completed; the first failing task cancels
// the tasks that have not started yet.
func (lb *Local) RenderTiles(ctx context.Context, target fb.Target, tr tracer.Tracer, camera *scene.Camera, world *scene.World, perFrame any, ids []uint32) error {
	tasks := Partition(ids, lb.numTasks(len(ids)))
	if len(tasks) == 0 {
		return nil
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lb.workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			tiles, err := tr.RenderTasks(gctx, target, camera, world, perFrame, task.TileIDs)
			if err == nil {
				err = checkTask(task, tiles)
			}
			if err != nil {
				return fmt.Errorf("balancer: task %d: %w", task.ID, err)
			}
			for _, tile := range tiles {
				target.SetTile(tile)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	lb.logger.Debugf("rendered %d tiles in %d tasks using %d workers in %s", len(ids), len(tasks), lb.workers, time.Since(start))
	return nil
}

// Ensure a tracer returned exactly one tile per dispatched ID. Nothing from
// the task is stored otherwise.
func checkTask(task Task, tiles []*fb.Tile) error {
	if len(tiles) != len(task.TileIDs) {
		return fmt.Errorf("%w: got %d tiles for %d IDs", ErrIncompleteTask, len(tiles), len(task.TileIDs))
	}

	pending := make(map[uint32]struct{}, len(task.TileIDs))
	for _, id := range task.TileIDs {
		pending[id] = struct{}{}
	}
	for _, tile := range tiles {
		if tile == nil {
			return fmt.Errorf("%w: nil tile", ErrIncompleteTask)
		}
		if _, ok := pending[tile.ID]; !ok {
			return fmt.Errorf("%w: unexpected or repeated tile %d", ErrIncompleteTask, tile.ID)
		}
		delete(pending, tile.ID)
	}
	return nil
}

// Get the number of tasks for a pass: at least one per worker (unless there
// are fewer tiles than workers) and at most one per tile.
func (lb *Local) numTasks(numTiles int) int {
	n := lb.workers * lb.tasksPerWorker
	if n < lb.workers {
		n = lb.workers
	}
	if n > numTiles {
		n = numTiles
	}
	return n
}
