// Package renderer drives progressive rendering: it keeps asking a load
// balancer for passes until the frame converges or the pass budget runs out.
package renderer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/achilleasa/tilefarm/balancer"
	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/log"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
)

const defaultShutdownTimeout = 5 * time.Second

type Renderer interface {
	// Render passes until the frame converges or the pass budget is
	// exhausted.
	Render(ctx context.Context) error

	// Shutdown renderer and the attached load balancer.
	Close() error

	// Get render statistics for the last Render call.
	Stats() FrameStats
}

// Frame buffers that track which rank contributed each tile.
type contributionReporter interface {
	Contributions() map[int]int
}

// Load balancers that own resources needing an orderly shutdown.
type closer interface {
	Close(ctx context.Context) error
}

type progressiveRenderer struct {
	logger log.Logger

	frame  fb.FrameBuffer
	lb     balancer.LoadBalancer
	tracer tracer.Tracer
	camera *scene.Camera
	world  *scene.World
	opts   Options

	mu     sync.Mutex
	stats  FrameStats
	closed bool
}

// Create a progressive renderer.
func NewProgressive(frame fb.FrameBuffer, lb balancer.LoadBalancer, tr tracer.Tracer, camera *scene.Camera, world *scene.World, opts Options) (Renderer, error) {
	switch {
	case frame == nil:
		return nil, ErrNoFrameBuffer
	case lb == nil:
		return nil, ErrNoLoadBalancer
	case tr == nil:
		return nil, ErrNoTracer
	case camera == nil:
		return nil, ErrCameraNotDefined
	case world == nil:
		return nil, ErrWorldNotDefined
	}
	if opts.MaxPasses < 1 {
		opts.MaxPasses = 1
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	return &progressiveRenderer{
		logger: log.New("renderer"),
		frame:  frame,
		lb:     lb,
		tracer: tr,
		camera: camera,
		world:  world,
		opts:   opts,
	}, nil
}

func (r *progressiveRenderer) Render(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	if r.opts.ClearOnRender {
		r.frame.Clear(fb.ChannelAccum)
	}

	before := r.contributions()
	r.stats = FrameStats{}
	renderStart := time.Now()
	defer func() {
		r.stats.RenderTime = time.Since(renderStart)
		r.stats.Ranks = r.rankStats(before)
	}()

	r.logger.Noticef("rendering up to %d passes with %s using %s", r.opts.MaxPasses, r.tracer.Name(), r.lb)
	for pass := 1; pass <= r.opts.MaxPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, err)
		}

		passStart := time.Now()
		if err := r.lb.RenderFrame(ctx, r.frame, r.tracer, r.camera, r.world); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
			}
			return err
		}

		stat := PassStat{
			Pass:       pass,
			FrameError: r.frame.FrameError(),
			RenderTime: time.Since(passStart),
		}
		r.stats.Passes = append(r.stats.Passes, stat)
		r.logger.Infof("pass %d: error %.5f, %s", pass, stat.FrameError, stat.RenderTime)

		if stat.FrameError <= r.opts.ErrorThreshold {
			r.stats.Converged = true
			r.logger.Noticef("converged after %d passes", pass)
			return nil
		}
	}

	r.logger.Noticef("stopped after %d passes without reaching error threshold %.5f", r.opts.MaxPasses, r.opts.ErrorThreshold)
	return nil
}

func (r *progressiveRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	if c, ok := r.lb.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
		defer cancel()
		return c.Close(ctx)
	}
	return nil
}

func (r *progressiveRenderer) Stats() FrameStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Get the per-rank contribution counters of the frame buffer.
func (r *progressiveRenderer) contributions() map[int]int {
	if rep, ok := r.frame.(contributionReporter); ok {
		return rep.Contributions()
	}
	return nil
}

// Build rank stats from the contributions recorded since before was captured.
func (r *progressiveRenderer) rankStats(before map[int]int) []RankStat {
	after := r.contributions()
	if after == nil {
		after = map[int]int{0: len(r.stats.Passes) * r.frame.Grid().NumTiles()}
	}

	var total int
	out := make([]RankStat, 0, len(after))
	for rank, n := range after {
		n -= before[rank]
		total += n
		out = append(out, RankStat{Rank: rank, Tiles: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })

	if total > 0 {
		for i := range out {
			out[i].Percent = 100 * float32(out[i].Tiles) / float32(total)
		}
	}
	return out
}
