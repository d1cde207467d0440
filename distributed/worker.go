package distributed

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/achilleasa/tilefarm/balancer"
	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/log"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
	"github.com/google/uuid"
)

// Worker renders the share of a rank > 0 and forwards the results to the
// master.
type Worker struct {
	logger log.Logger
	comm   Communicator
	local  *balancer.Local
	tracer tracer.Tracer
	world  *scene.World

	// State of the frame being rendered.
	frame    uuid.UUID
	camera   scene.Camera
	target   *remoteTarget
	perFrame any
}

// Create a worker for a rank other than 0.
func NewWorker(comm Communicator, tr tracer.Tracer, world *scene.World, opts balancer.LocalOptions) (*Worker, error) {
	if comm.Rank() == 0 {
		return nil, ErrNotWorker
	}
	return &Worker{
		logger: log.ForRank("distributed", comm.Rank()),
		comm:   comm,
		local:  balancer.NewLocal(opts),
		tracer: tr,
		world:  world.ForRank(comm.Rank()),
	}, nil
}

// A message queued for the render loop together with the context of the
// frame it belongs to.
type job struct {
	ctx context.Context
	msg *Message
}

// Process messages from the master until a shutdown message arrives or ctx
// is cancelled.
//
// Messages are received on a separate goroutine so an abort, a new frame or
// a shutdown cancels the frame being rendered instead of queueing behind it.
func (w *Worker) Serve(ctx context.Context) error {
	jobs := make(chan job)
	recvErr := make(chan error, 1)
	go func() {
		defer close(jobs)
		recvErr <- w.receive(ctx, jobs)
	}()

	for j := range jobs {
		var err error
		switch j.msg.Kind {
		case KindFrameStart:
			err = w.startFrame(j.ctx, j.msg)
		case KindWorkAssign:
			err = w.renderAssignment(j.ctx, j.msg)
		}

		switch {
		case err == nil:
		case j.ctx.Err() != nil:
			w.logger.Debugf("frame %s: abandoned", j.msg.Frame)
		default:
			w.logger.Errorf("frame %s: %v", j.msg.Frame, err)
		}
	}
	return <-recvErr
}

// Receive messages and hand frame work to the render loop. Each frame gets
// its own context which is cancelled when the frame is aborted or replaced.
func (w *Worker) receive(ctx context.Context, jobs chan<- job) error {
	var (
		frame       uuid.UUID
		frameCtx    = ctx
		cancelFrame context.CancelFunc = func() {}
	)
	defer func() { cancelFrame() }()

	for {
		msg, err := w.comm.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		switch msg.Kind {
		case KindFrameStart:
			cancelFrame()
			frame = msg.Frame
			frameCtx, cancelFrame = context.WithCancel(ctx)
		case KindWorkAssign:
			if msg.Frame != frame {
				continue
			}
		case KindAbort:
			if msg.Frame == frame {
				w.logger.Debugf("frame %s: aborted by rank %d", frame, msg.From)
				cancelFrame()
			}
			continue
		case KindShutdown:
			w.logger.Debug("shutting down")
			return nil
		default:
			w.logger.Warningf("ignoring unexpected %s message from rank %d", msg.Kind, msg.From)
			continue
		}

		select {
		case jobs <- job{ctx: frameCtx, msg: msg}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) startFrame(ctx context.Context, msg *Message) error {
	start := msg.Start
	grid, err := fb.NewGrid(start.Width, start.Height, start.TileSize)
	if err != nil {
		return err
	}

	w.frame = msg.Frame
	w.camera = start.Camera
	w.target = &remoteTarget{
		ctx:      ctx,
		comm:     w.comm,
		grid:     grid,
		frame:    msg.Frame,
		accumIDs: start.AccumIDs,
	}
	w.perFrame = w.tracer.BeginFrame(grid, &w.camera, w.world)

	var ids []uint32
	switch {
	case start.Mode == ModeDataParallel:
		own, err := DataParallel(grid, &w.camera, w.world, w.comm.Size())
		if err != nil {
			return err
		}
		ids = own.Tiles(w.comm.Rank())
	case start.Policy == PolicyDynamic:
		return w.requestWork(ctx)
	default:
		ids = ReplicatedStatic(grid, w.comm.Size()).Tiles(w.comm.Rank())
	}

	w.logger.Debugf("pass %d: rendering %d tiles", start.Pass, len(ids))
	return w.render(ctx, ids)
}

func (w *Worker) renderAssignment(ctx context.Context, msg *Message) error {
	if msg.Frame != w.frame || len(msg.TileIDs) == 0 {
		return nil
	}
	if err := w.render(ctx, msg.TileIDs); err != nil {
		return err
	}
	return w.requestWork(ctx)
}

func (w *Worker) requestWork(ctx context.Context) error {
	return w.comm.Send(ctx, 0, &Message{Kind: KindWorkRequest, Frame: w.frame})
}

func (w *Worker) render(ctx context.Context, ids []uint32) error {
	if err := w.local.RenderTiles(ctx, w.target, w.tracer, &w.camera, w.world, w.perFrame, ids); err != nil {
		return err
	}
	return w.target.Err()
}

// remoteTarget forwards tiles to the master instead of storing them.
type remoteTarget struct {
	ctx      context.Context
	comm     Communicator
	grid     fb.Grid
	frame    uuid.UUID
	accumIDs []int32

	mu  sync.Mutex
	err error
}

func (t *remoteTarget) Grid() fb.Grid {
	return t.grid
}

func (t *remoteTarget) AccumID(coord image.Point) int32 {
	id := t.grid.TileID(coord)
	if int(id) >= len(t.accumIDs) {
		return 0
	}
	return t.accumIDs[id]
}

func (t *remoteTarget) SetTile(tile *fb.Tile) {
	err := t.comm.Send(t.ctx, 0, &Message{Kind: KindTile, Frame: t.frame, Tile: tile})
	if err != nil {
		t.mu.Lock()
		if t.err == nil {
			t.err = fmt.Errorf("distributed: sending tile %d: %w", tile.ID, err)
		}
		t.mu.Unlock()
	}
}

// Get the first send error.
func (t *remoteTarget) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
