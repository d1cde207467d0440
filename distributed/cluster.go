package distributed

import (
	"context"

	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
	"golang.org/x/sync/errgroup"
)

// Cluster runs every rank of a group inside the current process: the master
// balancer plus one serving goroutine per worker.
type Cluster struct {
	*Balancer

	group   *Group
	workers *errgroup.Group
	cancel  context.CancelFunc
}

// Start an in-process cluster with the given number of ranks. All ranks
// share the tracer and see the same world.
func StartCluster(size int, tr tracer.Tracer, world *scene.World, opts Options) (*Cluster, error) {
	group, err := NewGroup(size)
	if err != nil {
		return nil, err
	}

	master, err := NewBalancer(group.Endpoint(0), opts)
	if err != nil {
		group.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	workers, ctx := errgroup.WithContext(ctx)
	for rank := 1; rank < size; rank++ {
		w, err := NewWorker(group.Endpoint(rank), tr, world, opts.Local)
		if err != nil {
			cancel()
			group.Close()
			return nil, err
		}
		workers.Go(func() error {
			return w.Serve(ctx)
		})
	}

	return &Cluster{
		Balancer: master,
		group:    group,
		workers:  workers,
		cancel:   cancel,
	}, nil
}

// Get the communicator of a rank.
func (c *Cluster) Endpoint(rank int) Communicator {
	return c.group.Endpoint(rank)
}

// Stop all ranks and wait for the workers to exit. Workers still running
// when ctx is done are cancelled and the group is closed under them.
func (c *Cluster) Close(ctx context.Context) error {
	err := c.Balancer.Shutdown(ctx)
	if err != nil {
		c.cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- c.workers.Wait()
	}()

	var werr error
	select {
	case werr = <-done:
	case <-ctx.Done():
		c.cancel()
		c.group.Close()
		<-done
		werr = ctx.Err()
	}
	c.cancel()
	c.group.Close()

	if err == nil {
		err = werr
	}
	return err
}
