package distributed

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/log"
	"github.com/achilleasa/tilefarm/tileop"
	"github.com/google/uuid"
)

// FrameBuffer is the master side of a distributed frame buffer. It collects
// per-rank tile contributions, composites them once every owner of a tile has
// delivered and stores the result in the embedded local frame buffer, which
// also accumulates passes and estimates variance on the composited result.
//
// SetTile records a contribution from the local rank.
type FrameBuffer struct {
	*fb.Local

	logger log.Logger
	rank   int

	mu        sync.Mutex
	frame     uuid.UUID
	ownership Ownership
	op        tileop.Operation
	pending   map[uint32]*pendingTile
	done      chan struct{}

	// Finalizations running outside the lock.
	inflight sync.WaitGroup

	// Number of tiles contributed by each rank since creation.
	contributions map[int]int
}

type pendingTile struct {
	expected []int
	parts    map[int]*fb.Tile
}

// Create a distributed frame buffer for the master rank.
func NewFrameBuffer(width, height int, opts fb.Options) (*FrameBuffer, error) {
	local, err := fb.NewLocal(width, height, opts)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	close(done)
	return &FrameBuffer{
		Local:         local,
		logger:        log.ForRank("framebuffer", 0),
		done:          done,
		contributions: make(map[int]int),
	}, nil
}

func (f *FrameBuffer) String() string {
	return "framebuffer.Distributed"
}

// Start collecting contributions for a new frame. Contributions tagged with
// any other frame id are dropped from now on. Tiles without contributors are
// stored as empty tiles right away.
func (f *FrameBuffer) BeginFrame(id uuid.UUID, ownership Ownership, op tileop.Operation) {
	f.inflight.Wait()

	f.mu.Lock()
	f.frame = id
	f.ownership = ownership
	f.op = op
	f.pending = make(map[uint32]*pendingTile, len(ownership))
	f.done = make(chan struct{})

	var empty []uint32
	for tileID, ranks := range ownership {
		if len(ranks) == 0 {
			empty = append(empty, tileID)
			continue
		}
		f.pending[tileID] = &pendingTile{
			expected: ranks,
			parts:    make(map[int]*fb.Tile, len(ranks)),
		}
	}
	if len(f.pending) == 0 {
		close(f.done)
	}
	f.mu.Unlock()

	grid := f.Grid()
	for _, tileID := range empty {
		f.Local.SetTile(fb.NewTile(grid, tileID))
	}
}

// Get the id of the frame being collected.
func (f *FrameBuffer) CurrentFrame() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame
}

// Record a contribution from the local rank. Contributions that violate the
// ownership record indicate a bug in the caller and cause a panic.
func (f *FrameBuffer) SetTile(tile *fb.Tile) {
	if err := f.AddContribution(f.CurrentFrame(), f.rank, tile); err != nil {
		panic(err)
	}
}

// Record a tile contribution from a rank. Once every owner of the tile has
// contributed the parts are composited in ownership order and stored.
//
// Contributions for frames other than the current one are dropped and
// reported with ErrStaleContribution. Contributions from ranks that do not
// own the tile or that already contributed are rejected.
func (f *FrameBuffer) AddContribution(frame uuid.UUID, rank int, tile *fb.Tile) error {
	f.mu.Lock()
	if frame != f.frame || f.pending == nil {
		f.mu.Unlock()
		return fmt.Errorf("%w: frame %s, tile %d from rank %d", ErrStaleContribution, frame, tile.ID, rank)
	}

	p := f.pending[tile.ID]
	if p == nil {
		_, owned := f.ownership[tile.ID]
		f.mu.Unlock()
		if owned {
			return fmt.Errorf("%w: tile %d from rank %d", ErrDuplicateContribution, tile.ID, rank)
		}
		return fmt.Errorf("%w: tile %d from rank %d", ErrUnexpectedContributor, tile.ID, rank)
	}

	slot := rank
	if len(p.expected) == 1 && p.expected[0] == AnyRank {
		slot = AnyRank
	} else if !contains(p.expected, rank) {
		f.mu.Unlock()
		return fmt.Errorf("%w: tile %d from rank %d", ErrUnexpectedContributor, tile.ID, rank)
	}
	if _, dup := p.parts[slot]; dup {
		f.mu.Unlock()
		return fmt.Errorf("%w: tile %d from rank %d", ErrDuplicateContribution, tile.ID, rank)
	}

	p.parts[slot] = tile
	f.contributions[rank]++
	if len(p.parts) < len(p.expected) {
		f.mu.Unlock()
		return nil
	}

	delete(f.pending, tile.ID)
	f.inflight.Add(1)
	op := f.op
	f.mu.Unlock()

	f.finalize(op, p)
	return nil
}

func (f *FrameBuffer) finalize(op tileop.Operation, p *pendingTile) {
	defer f.inflight.Done()

	ordered := make([]*fb.Tile, len(p.expected))
	for i, r := range p.expected {
		ordered[i] = p.parts[r]
	}
	tile := ordered[0]
	if len(ordered) > 1 {
		tile = tileop.CompositeAll(op, ordered...)
	}
	f.Local.SetTile(tile)

	f.mu.Lock()
	if len(f.pending) == 0 && f.pending != nil {
		select {
		case <-f.done:
		default:
			close(f.done)
		}
	}
	f.mu.Unlock()
}

// Block until every tile of the current frame has been stored. If ctx
// expires first an *IncompleteFrameError listing the outstanding
// contributions is returned.
func (f *FrameBuffer) Wait(ctx context.Context) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	select {
	case <-done:
		f.inflight.Wait()
		return nil
	case <-ctx.Done():
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	missing := make(map[uint32][]int, len(f.pending))
	for tileID, p := range f.pending {
		for _, r := range p.expected {
			if _, got := p.parts[r]; !got {
				missing[tileID] = append(missing[tileID], r)
			}
		}
	}
	return &IncompleteFrameError{Frame: f.frame, Missing: missing, Cause: ctx.Err()}
}

// Discard all partial contributions of the current frame. Contributions that
// arrive later are treated as stale.
func (f *FrameBuffer) AbortFrame() {
	f.mu.Lock()
	if len(f.pending) != 0 {
		f.logger.Warningf("aborting frame %s with %d incomplete tiles", f.frame, len(f.pending))
	}
	f.frame = uuid.Nil
	f.pending = nil
	f.ownership = nil
	select {
	case <-f.done:
	default:
		close(f.done)
	}
	f.mu.Unlock()

	f.inflight.Wait()
}

// Get the worst tile error over the frame. While a frame is being collected
// the error is +Inf.
func (f *FrameBuffer) FrameError() float32 {
	f.mu.Lock()
	busy := len(f.pending) != 0
	f.mu.Unlock()

	if busy {
		return float32(math.Inf(1))
	}
	return f.Local.FrameError()
}

// Get the number of tiles contributed by each rank.
func (f *FrameBuffer) Contributions() map[int]int {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[int]int, len(f.contributions))
	for r, n := range f.contributions {
		out[r] = n
	}
	return out
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
