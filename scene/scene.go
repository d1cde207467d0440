// Package scene describes the world a frame is rendered from: a camera and a
// set of axis-aligned regions, each owned by one rank or replicated on all of
// them.
package scene

import (
	"fmt"

	"github.com/achilleasa/tilefarm/types"
)

// Owner value for regions that are replicated on every rank.
const AllRanks = -1

// An axis-aligned bounding box.
type Box3 struct {
	Min types.Vec3
	Max types.Vec3
}

// Returns true if Min <= Max on every axis.
func (b Box3) Valid() bool {
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1] && b.Min[2] <= b.Max[2]
}

// Get the box enclosing both b and other.
func (b Box3) Union(other Box3) Box3 {
	return Box3{
		Min: types.MinVec3(b.Min, other.Min),
		Max: types.MaxVec3(b.Max, other.Max),
	}
}

// Returns true if the XY footprint of the box contains p.
func (b Box3) ContainsXY(p types.Vec2) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] && p[1] >= b.Min[1] && p[1] <= b.Max[1]
}

// A region is a piece of the world. In data-parallel setups each rank owns a
// disjoint set of regions and only renders those.
type Region struct {
	Name   string
	Bounds Box3

	// The rank that owns the region or AllRanks.
	Owner int

	Color   types.Vec3
	Opacity float32
}

// Get the region color with its opacity premultiplied.
func (r *Region) Premultiplied() types.Vec4 {
	return r.Color.Mul(r.Opacity).Vec4(r.Opacity)
}

// A world is the view of the scene from a particular rank.
type World struct {
	// The rank this view belongs to. A world with Rank set to AllRanks sees
	// every region; this is used when rendering without a cluster.
	Rank int

	Regions []*Region
}

// Create an empty world for a rank.
func NewWorld(rank int) *World {
	return &World{
		Rank:    rank,
		Regions: make([]*Region, 0),
	}
}

// Add a region to the world.
func (w *World) AddRegion(region *Region) error {
	for _, r := range w.Regions {
		if r == region || r.Name == region.Name {
			return fmt.Errorf("scene: region %q already added", region.Name)
		}
	}
	if !region.Bounds.Valid() {
		return fmt.Errorf("scene: region %q has inverted bounds", region.Name)
	}
	if region.Opacity < 0 || region.Opacity > 1 {
		return fmt.Errorf("scene: region %q opacity must be in [0, 1]", region.Name)
	}
	if region.Owner < AllRanks {
		return fmt.Errorf("scene: region %q has invalid owner %d", region.Name, region.Owner)
	}

	w.Regions = append(w.Regions, region)
	return nil
}

// Returns true if the world is a single region available on every rank. Such
// worlds can be rendered by any rank without compositing.
func (w *World) Replicated() bool {
	return len(w.Regions) == 1 && w.Regions[0].Owner == AllRanks
}

// Get the rank responsible for rendering a region. Regions shared by all
// ranks are rendered by rank 0 unless the entire world is replicated.
func (w *World) OwnerOf(region *Region) int {
	if region.Owner == AllRanks && !w.Replicated() {
		return 0
	}
	return region.Owner
}

// Get the regions this rank is responsible for rendering.
func (w *World) LocalRegions() []*Region {
	out := make([]*Region, 0, len(w.Regions))
	for _, r := range w.Regions {
		owner := w.OwnerOf(r)
		if w.Rank == AllRanks || owner == AllRanks || owner == w.Rank {
			out = append(out, r)
		}
	}
	return out
}

// Get a copy of the world as seen from another rank. Regions are shared.
func (w *World) ForRank(rank int) *World {
	return &World{
		Rank:    rank,
		Regions: w.Regions,
	}
}

// Get the box enclosing all regions.
func (w *World) Bounds() Box3 {
	if len(w.Regions) == 0 {
		return Box3{}
	}
	b := w.Regions[0].Bounds
	for _, r := range w.Regions[1:] {
		b = b.Union(r.Bounds)
	}
	return b
}
