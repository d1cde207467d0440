package scene

import (
	"image"
	"testing"

	"github.com/achilleasa/tilefarm/types"
)

func TestProjectBox(t *testing.T) {
	cam := NewCamera(types.XY(0, 0), types.XY(10, 10))

	type spec struct {
		box   Box3
		expOk bool
		expLo types.Vec3
		expHi types.Vec3
	}
	specs := []spec{
		{Box3{types.XYZ(0, 0, 1), types.XYZ(10, 10, 2)}, true, types.XYZ(0, 0, 1), types.XYZ(1, 1, 2)},
		{Box3{types.XYZ(0, 5, 3), types.XYZ(5, 10, 4)}, true, types.XYZ(0, 0, 3), types.XYZ(0.5, 0.5, 4)},
		{Box3{types.XYZ(-5, -5, 0), types.XYZ(5, 5, 1)}, true, types.XYZ(0, 0.5, 0), types.XYZ(0.5, 1, 1)},
		{Box3{types.XYZ(20, 20, 0), types.XYZ(30, 30, 1)}, false, types.Vec3{}, types.Vec3{}},
		{Box3{types.XYZ(0, 0, -5), types.XYZ(10, 10, -1)}, false, types.Vec3{}, types.Vec3{}},
	}

	for index, s := range specs {
		lo, hi, ok := cam.ProjectBox(s.box)
		if ok != s.expOk {
			t.Fatalf("[spec %d] expected visibility %t; got %t", index, s.expOk, ok)
		}
		if lo != s.expLo || hi != s.expHi {
			t.Fatalf("[spec %d] expected bounds %v - %v; got %v - %v", index, s.expLo, s.expHi, lo, hi)
		}
	}
}

func TestScreenRectAndUnproject(t *testing.T) {
	cam := NewCamera(types.XY(0, 0), types.XY(4, 4))
	size := image.Pt(64, 64)

	r, depth, ok := cam.ScreenRect(Box3{types.XYZ(1, 1, 2), types.XYZ(2, 3, 5)}, size)
	if !ok {
		t.Fatal("expected box to be visible")
	}
	if exp := image.Rect(16, 16, 32, 48); r != exp {
		t.Fatalf("expected rect %v; got %v", exp, r)
	}
	if depth != 2 {
		t.Fatalf("expected near depth 2; got %f", depth)
	}

	p := cam.Unproject(0, 63, size)
	if p != types.XY(0.03125, 0.03125) {
		t.Fatalf("expected bottom-left pixel center; got %v", p)
	}

	cam.InvertY = true
	p = cam.Unproject(0, 0, size)
	if p != types.XY(0.03125, 0.03125) {
		t.Fatalf("expected top-left pixel to map to world origin with inverted Y; got %v", p)
	}
}

func TestCameraValidate(t *testing.T) {
	if err := NewCamera(types.XY(0, 0), types.XY(1, 1)).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := NewCamera(types.XY(1, 0), types.XY(1, 1)).Validate(); err == nil {
		t.Fatal("expected an error for a degenerate window")
	}
}

func TestWorldRegions(t *testing.T) {
	w := NewWorld(1)
	shared := &Region{Name: "floor", Bounds: Box3{Max: types.XYZ(1, 1, 1)}, Owner: AllRanks, Opacity: 1}
	if err := w.AddRegion(shared); err != nil {
		t.Fatal(err)
	}
	if !w.Replicated() {
		t.Fatal("expected a single shared region to be replicated")
	}
	if got := w.OwnerOf(shared); got != AllRanks {
		t.Fatalf("expected replicated region to be owned by all ranks; got %d", got)
	}
	if local := w.LocalRegions(); len(local) != 1 {
		t.Fatalf("expected every rank to render a replicated region; got %v", local)
	}

	mine := &Region{Name: "a", Bounds: Box3{Max: types.XYZ(1, 1, 1)}, Owner: 1, Opacity: 0.5}
	theirs := &Region{Name: "b", Bounds: Box3{Min: types.XYZ(-1, 0, 0), Max: types.XYZ(0, 2, 1)}, Owner: 2, Opacity: 0.5}
	for _, r := range []*Region{mine, theirs} {
		if err := w.AddRegion(r); err != nil {
			t.Fatal(err)
		}
	}
	if w.Replicated() {
		t.Fatal("expected world with owned regions not to be replicated")
	}

	// Shared regions of partitioned worlds are rendered by rank 0.
	if got := w.OwnerOf(shared); got != 0 {
		t.Fatalf("expected shared region to be owned by rank 0; got %d", got)
	}
	if local := w.LocalRegions(); len(local) != 1 || local[0] != mine {
		t.Fatalf("expected rank 1 to render [a]; got %v", local)
	}
	if local := w.ForRank(0).LocalRegions(); len(local) != 1 || local[0] != shared {
		t.Fatalf("expected rank 0 to render [floor]; got %v", local)
	}
	if local := w.ForRank(2).LocalRegions(); len(local) != 1 || local[0] != theirs {
		t.Fatalf("expected rank 2 to render [b]; got %v", local)
	}
	if all := w.ForRank(AllRanks).LocalRegions(); len(all) != 3 {
		t.Fatalf("expected a world without a rank to see every region; got %v", all)
	}

	if b := w.Bounds(); b.Min != types.XYZ(-1, 0, 0) || b.Max != types.XYZ(1, 2, 1) {
		t.Fatalf("expected union bounds; got %v", b)
	}

	type spec struct {
		region *Region
	}
	specs := []spec{
		{&Region{Name: "a", Opacity: 1}},
		{&Region{Name: "inv", Bounds: Box3{Min: types.XYZ(1, 0, 0)}, Opacity: 1}},
		{&Region{Name: "glass", Opacity: 1.5}},
		{&Region{Name: "orphan", Owner: -2}},
	}
	for index, s := range specs {
		if err := w.AddRegion(s.region); err == nil {
			t.Fatalf("[spec %d] expected AddRegion to fail", index)
		}
	}
}

func TestRegionPremultiplied(t *testing.T) {
	r := &Region{Color: types.XYZ(1, 0.5, 0), Opacity: 0.5}
	if c := r.Premultiplied(); c != types.XYZW(0.5, 0.25, 0, 0.5) {
		t.Fatalf("expected premultiplied color; got %v", c)
	}
}
