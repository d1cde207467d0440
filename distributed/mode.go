package distributed

import (
	"fmt"

	"github.com/achilleasa/tilefarm/scene"
	"github.com/achilleasa/tilefarm/tracer"
)

// How the work of a frame is divided between ranks.
type Mode uint8

const (
	// Every rank holds the whole world; tiles are divided between ranks and
	// each tile is rendered by exactly one of them.
	ModeReplicated Mode = iota

	// The world is partitioned; every rank renders its own regions and the
	// partial tiles are composited on the master.
	ModeDataParallel
)

func (m Mode) String() string {
	if m == ModeDataParallel {
		return "data-parallel"
	}
	return "replicated"
}

// How tiles are assigned to ranks in replicated mode.
type Policy uint8

const (
	// Tiles are assigned round-robin by id.
	PolicyStatic Policy = iota

	// Ranks request batches of tiles from a queue on the master.
	PolicyDynamic
)

func (p Policy) String() string {
	if p == PolicyDynamic {
		return "dynamic"
	}
	return "static"
}

// Parse a policy name.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "static":
		return PolicyStatic, nil
	case "dynamic":
		return PolicyDynamic, nil
	}
	return PolicyStatic, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// Select the distribution mode for a frame. Worlds consisting of a single
// global region rendered by a tracer that is not distribution aware use the
// replicated mode; everything else is data-parallel.
func SelectMode(tr tracer.Tracer, world *scene.World) Mode {
	if !tr.DistributionAware() && world.Replicated() {
		return ModeReplicated
	}
	return ModeDataParallel
}
