package distributed

import (
	"fmt"
	"sort"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/scene"
)

// Placeholder rank for tiles that need exactly one contribution from any
// rank.
const AnyRank = -1

// Ownership lists, for every tile of a frame, the ranks that must contribute
// to it in compositing order (front to back). Tiles mapped to an empty list
// have no contributors and are finalized as empty.
type Ownership map[uint32][]int

// Assign tiles to ranks round-robin.
func ReplicatedStatic(grid fb.Grid, size int) Ownership {
	own := make(Ownership, grid.NumTiles())
	for _, id := range grid.TileIDs() {
		own[id] = []int{int(id) % size}
	}
	return own
}

// Expect a single contribution from any rank for each tile.
func ReplicatedDynamic(grid fb.Grid) Ownership {
	own := make(Ownership, grid.NumTiles())
	for _, id := range grid.TileIDs() {
		own[id] = []int{AnyRank}
	}
	return own
}

// Assign each tile to the ranks whose regions project onto it. Contributors
// are ordered by the nearest depth of their regions within the tile; ties
// are broken by rank so every rank computes the same order.
//
// Regions every rank can render (only possible in a replicated world) are
// spread over the ranks by tile ID like the static policy.
func DataParallel(grid fb.Grid, camera *scene.Camera, world *scene.World, size int) (Ownership, error) {
	nearest := make([]map[int]float32, grid.NumTiles())
	for _, region := range world.Regions {
		owner := world.OwnerOf(region)
		if owner >= size {
			return nil, fmt.Errorf("%w: region %q is owned by rank %d", ErrInvalidRank, region.Name, owner)
		}

		rect, depth, ok := camera.ScreenRect(region.Bounds, grid.Size)
		if !ok {
			continue
		}
		for _, id := range grid.TilesInRect(rect) {
			rank := owner
			if rank == scene.AllRanks {
				rank = int(id) % size
			}
			if nearest[id] == nil {
				nearest[id] = make(map[int]float32)
			}
			if d, seen := nearest[id][rank]; !seen || depth < d {
				nearest[id][rank] = depth
			}
		}
	}

	own := make(Ownership, grid.NumTiles())
	for id, byRank := range nearest {
		ranks := make([]int, 0, len(byRank))
		for r := range byRank {
			ranks = append(ranks, r)
		}
		sort.Slice(ranks, func(i, j int) bool {
			di, dj := byRank[ranks[i]], byRank[ranks[j]]
			if di != dj {
				return di < dj
			}
			return ranks[i] < ranks[j]
		})
		own[uint32(id)] = ranks
	}
	return own, nil
}

// Get the sorted ids of the tiles rank must contribute to.
func (own Ownership) Tiles(rank int) []uint32 {
	ids := make([]uint32, 0)
	for id, ranks := range own {
		for _, r := range ranks {
			if r == rank {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Get the total number of contributions expected for the frame.
func (own Ownership) Expected() int {
	n := 0
	for _, ranks := range own {
		n += len(ranks)
	}
	return n
}
