package distributed

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrInvalidGroupSize      = errors.New("distributed: group size must be at least 1")
	ErrInvalidRank           = errors.New("distributed: rank outside of group")
	ErrClosed                = errors.New("distributed: communicator closed")
	ErrNotMaster             = errors.New("distributed: balancer must run on rank 0")
	ErrNotWorker             = errors.New("distributed: workers cannot run on rank 0")
	ErrNotDistributed        = errors.New("distributed: frame buffer is not a distributed frame buffer")
	ErrUnknownPolicy         = errors.New("distributed: unknown scheduling policy")
	ErrStaleContribution     = errors.New("distributed: contribution for a frame that is no longer active")
	ErrUnexpectedContributor = errors.New("distributed: contribution from a rank that does not own the tile")
	ErrDuplicateContribution = errors.New("distributed: duplicate contribution for tile")
)

// IncompleteFrameError is returned when a frame could not be completed
// because some ranks did not deliver their contributions in time. Missing
// maps each incomplete tile to the ranks whose contributions are outstanding.
type IncompleteFrameError struct {
	Frame   uuid.UUID
	Missing map[uint32][]int
	Cause   error
}

func (e *IncompleteFrameError) Error() string {
	ranks := make(map[int]struct{})
	for _, list := range e.Missing {
		for _, r := range list {
			ranks[r] = struct{}{}
		}
	}
	missingRanks := make([]int, 0, len(ranks))
	for r := range ranks {
		missingRanks = append(missingRanks, r)
	}
	sort.Ints(missingRanks)

	return fmt.Sprintf("distributed: frame %s incomplete: %d tile(s) waiting for ranks %v: %v", e.Frame, len(e.Missing), missingRanks, e.Cause)
}

func (e *IncompleteFrameError) Unwrap() error {
	return e.Cause
}
