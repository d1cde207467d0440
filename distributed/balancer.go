// Package distributed renders frames across a group of cooperating ranks.
//
// Rank 0 (the master) owns the frame buffer and drives every pass: it
// broadcasts a frame start message, renders its own share of the work,
// hands out tiles to workers when the dynamic policy is in use and collects
// the tiles produced by the other ranks. Workers (ranks > 0) render their
// share and forward finished tiles to the master where they are composited
// and accumulated.
package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/achilleasa/tilefarm/balancer"
	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/log"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tileop"
	"github.com/achilleasa/tilefarm/tracer"
	"github.com/google/uuid"
)

// The default number of tiles handed out per work request.
const DefaultBatch = 4

// How long the master keeps trying to notify workers about an abandoned
// frame.
const abortTimeout = time.Second

type Options struct {
	// Tile assignment policy for replicated worlds.
	Policy Policy

	// Tiles per work assignment for the dynamic policy.
	Batch int

	// The maximum time to wait for contributions once the master finished
	// its own share. Zero waits until the context passed to RenderFrame is
	// done.
	ContributionTimeout time.Duration

	// Worker pool used for rendering this rank's share.
	Local balancer.LocalOptions
}

// Balancer is the master side of the distributed load balancer.
type Balancer struct {
	logger log.Logger
	comm   Communicator
	local  *balancer.Local
	opts   Options

	mu      sync.Mutex
	frame   *FrameBuffer
	frameID uuid.UUID
	queue   []uint32
	pass    int

	stopRecv context.CancelFunc
	recvDone chan struct{}
}

// Create a master balancer. The communicator must belong to rank 0.
func NewBalancer(comm Communicator, opts Options) (*Balancer, error) {
	if comm.Rank() != 0 {
		return nil, ErrNotMaster
	}
	if opts.Batch <= 0 {
		opts.Batch = DefaultBatch
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Balancer{
		logger:   log.ForRank("distributed", 0),
		comm:     comm,
		local:    balancer.NewLocal(opts.Local),
		opts:     opts,
		stopRecv: cancel,
		recvDone: make(chan struct{}),
	}
	go b.recvLoop(ctx)
	return b, nil
}

func (b *Balancer) String() string {
	return fmt.Sprintf("distributed(ranks=%d, policy=%s)", b.comm.Size(), b.opts.Policy)
}

// Render one pass over the frame using every rank of the group. The frame
// buffer must be a distributed frame buffer. The call returns once every
// tile has been composited and stored, or with an *IncompleteFrameError if
// some contributions did not arrive in time.
func (b *Balancer) RenderFrame(ctx context.Context, frame fb.FrameBuffer, tr tracer.Tracer, camera *scene.Camera, world *scene.World) error {
	dfb, ok := frame.(*FrameBuffer)
	if !ok {
		return ErrNotDistributed
	}
	world = world.ForRank(0)
	grid := dfb.Grid()
	size := b.comm.Size()

	mode := SelectMode(tr, world)
	var own Ownership
	switch {
	case mode == ModeDataParallel:
		var err error
		if own, err = DataParallel(grid, camera, world, size); err != nil {
			return err
		}
	case b.opts.Policy == PolicyDynamic:
		own = ReplicatedDynamic(grid)
	default:
		own = ReplicatedStatic(grid, size)
	}

	start := &FrameStart{
		Mode:     mode,
		Policy:   b.opts.Policy,
		Width:    grid.Size.X,
		Height:   grid.Size.Y,
		TileSize: grid.TileSize,
		Camera:   *camera,
		AccumIDs: make([]int32, grid.NumTiles()),
	}
	for _, id := range grid.TileIDs() {
		start.AccumIDs[id] = dfb.AccumID(grid.TileCoord(id))
	}

	id := uuid.New()
	dfb.BeginFrame(id, own, tileop.AlphaComposite{})

	b.mu.Lock()
	b.pass++
	start.Pass = b.pass
	b.frame = dfb
	b.frameID = id
	b.queue = nil
	if mode == ModeReplicated && b.opts.Policy == PolicyDynamic {
		b.queue = grid.TileIDs()
	}
	b.mu.Unlock()

	b.logger.Debugf("pass %d: frame %s, mode %s, policy %s", start.Pass, id, mode, b.opts.Policy)
	passStart := time.Now()

	for rank := 1; rank < size; rank++ {
		if err := b.comm.Send(ctx, rank, &Message{Kind: KindFrameStart, Frame: id, Start: start}); err != nil {
			b.abortFrame(ctx, dfb, id)
			return fmt.Errorf("distributed: starting frame on rank %d: %w", rank, err)
		}
	}

	if err := b.renderOwnShare(ctx, dfb, tr, camera, world, mode, own); err != nil {
		b.abortFrame(ctx, dfb, id)
		return err
	}

	waitCtx := ctx
	if b.opts.ContributionTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.opts.ContributionTimeout)
		defer cancel()
	}
	if err := dfb.Wait(waitCtx); err != nil {
		b.abortFrame(ctx, dfb, id)
		b.logger.Errorf("pass %d: %v", start.Pass, err)
		return err
	}

	b.logger.Debugf("pass %d: completed in %s", start.Pass, time.Since(passStart))
	return nil
}

// Drop the pending tiles of a frame and tell the workers to stop rendering
// it. Notifications are sent even when ctx is already done.
func (b *Balancer) abortFrame(ctx context.Context, dfb *FrameBuffer, id uuid.UUID) {
	dfb.AbortFrame()

	b.mu.Lock()
	if b.frameID == id {
		b.queue = nil
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()
	for rank := 1; rank < b.comm.Size(); rank++ {
		if err := b.comm.Send(ctx, rank, &Message{Kind: KindAbort, Frame: id}); err != nil {
			b.logger.Warningf("aborting frame %s on rank %d: %v", id, rank, err)
		}
	}
}

func (b *Balancer) renderOwnShare(ctx context.Context, dfb *FrameBuffer, tr tracer.Tracer, camera *scene.Camera, world *scene.World, mode Mode, own Ownership) error {
	perFrame := tr.BeginFrame(dfb.Grid(), camera, world)
	if mode == ModeReplicated && b.opts.Policy == PolicyDynamic {
		frameID := dfb.CurrentFrame()
		for {
			ids := b.nextBatch(frameID)
			if len(ids) == 0 {
				return nil
			}
			if err := b.local.RenderTiles(ctx, dfb, tr, camera, world, perFrame, ids); err != nil {
				return err
			}
		}
	}
	return b.local.RenderTiles(ctx, dfb, tr, camera, world, perFrame, own.Tiles(0))
}

// Pop the next batch of tiles from the work queue of the given frame.
func (b *Balancer) nextBatch(frame uuid.UUID) []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frame != b.frameID || len(b.queue) == 0 {
		return nil
	}
	n := b.opts.Batch
	if n > len(b.queue) {
		n = len(b.queue)
	}
	ids := b.queue[:n:n]
	b.queue = b.queue[n:]
	return ids
}

// Process messages from workers until the balancer is shut down.
func (b *Balancer) recvLoop(ctx context.Context) {
	defer close(b.recvDone)
	for {
		msg, err := b.comm.Recv(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
				b.logger.Errorf("receive failed: %v", err)
			}
			return
		}

		switch msg.Kind {
		case KindTile:
			b.mu.Lock()
			dfb := b.frame
			b.mu.Unlock()
			if dfb == nil {
				continue
			}
			if err := dfb.AddContribution(msg.Frame, msg.From, msg.Tile); err != nil {
				if errors.Is(err, ErrStaleContribution) {
					b.logger.Debugf("dropping %v", err)
				} else {
					b.logger.Errorf("rejecting tile: %v", err)
				}
			}
		case KindWorkRequest:
			ids := b.nextBatch(msg.Frame)
			assign := &Message{Kind: KindWorkAssign, Frame: msg.Frame, TileIDs: ids}
			if err := b.comm.Send(ctx, msg.From, assign); err != nil {
				b.logger.Errorf("sending work to rank %d: %v", msg.From, err)
			}
		default:
			b.logger.Warningf("ignoring unexpected %s message from rank %d", msg.Kind, msg.From)
		}
	}
}

// Ask every worker to exit and stop processing messages.
func (b *Balancer) Shutdown(ctx context.Context) error {
	var firstErr error
	for rank := 1; rank < b.comm.Size(); rank++ {
		if err := b.comm.Send(ctx, rank, &Message{Kind: KindShutdown}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("distributed: stopping rank %d: %w", rank, err)
		}
	}

	b.stopRecv()
	select {
	case <-b.recvDone:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}
	return firstErr
}
