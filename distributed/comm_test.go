package distributed

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"
	"time"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/types"
	"github.com/google/uuid"
)

func TestGroupDeliversMessages(t *testing.T) {
	group, err := NewGroup(3)
	if err != nil {
		t.Fatal(err)
	}
	defer group.Close()

	grid, _ := fb.NewGrid(20, 20, 16)
	tile := fb.NewTile(grid, 3)
	tile.AccumID = 7
	tile.Color[0] = types.XYZW(0.1, 0.2, 0.3, 0.4)

	frame := uuid.New()
	msg := &Message{Kind: KindTile, Frame: frame, Tile: tile}
	if err := group.Endpoint(2).Send(context.Background(), 0, msg); err != nil {
		t.Fatal(err)
	}
	if msg.From != 0 {
		t.Fatalf("expected Send not to modify the caller's message; got From %d", msg.From)
	}

	// Mutating the tile after Send must not affect the delivered copy.
	tile.Color[0] = types.Vec4{}

	got, err := group.Endpoint(0).Recv(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.Kind != KindTile || got.From != 2 || got.Frame != frame {
		t.Fatalf("expected tile message from rank 2 for frame %s; got %s from %d for %s", frame, got.Kind, got.From, got.Frame)
	}
	if got.Tile.ID != 3 || got.Tile.AccumID != 7 || got.Tile.Region != image.Rect(16, 0, 20, 16) {
		t.Fatalf("expected tile header to survive transport; got id %d, accumID %d, region %v", got.Tile.ID, got.Tile.AccumID, got.Tile.Region)
	}
	if got.Tile.Color[0] != types.XYZW(0.1, 0.2, 0.3, 0.4) {
		t.Fatalf("expected delivered tile to be a copy; got %v", got.Tile.Color[0])
	}
	if !math.IsInf(float64(got.Tile.Depth[0]), 1) {
		t.Fatalf("expected +Inf depth to survive transport; got %f", got.Tile.Depth[0])
	}
}

func TestGroupErrors(t *testing.T) {
	if _, err := NewGroup(0); err != ErrInvalidGroupSize {
		t.Fatalf("expected ErrInvalidGroupSize; got %v", err)
	}

	group, _ := NewGroup(2)
	ep := group.Endpoint(0)
	if ep.Rank() != 0 || ep.Size() != 2 {
		t.Fatalf("expected rank 0 of 2; got rank %d of %d", ep.Rank(), ep.Size())
	}

	if err := ep.Send(context.Background(), 2, &Message{Kind: KindShutdown}); !errors.Is(err, ErrInvalidRank) {
		t.Fatalf("expected ErrInvalidRank; got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := ep.Recv(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded; got %v", err)
	}

	group.Close()
	if _, err := ep.Recv(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed; got %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	type spec struct {
		name   string
		exp    Policy
		expErr error
	}
	specs := []spec{
		{"", PolicyStatic, nil},
		{"static", PolicyStatic, nil},
		{"dynamic", PolicyDynamic, nil},
		{"random", PolicyStatic, ErrUnknownPolicy},
	}

	for index, s := range specs {
		got, err := ParsePolicy(s.name)
		if !errors.Is(err, s.expErr) {
			t.Fatalf("[spec %d] expected error %v; got %v", index, s.expErr, err)
		}
		if got != s.exp {
			t.Fatalf("[spec %d] expected policy %s; got %s", index, s.exp, got)
		}
	}
}
