package distributed

import (
	"fmt"

	"github.com/achilleasa/tilefarm/fb"
	"github.com/achilleasa/tilefarm/scene"
	"github.com/google/uuid"
)

// The type of a message exchanged between ranks.
type Kind uint8

const (
	KindFrameStart Kind = iota + 1
	KindTile
	KindWorkRequest
	KindWorkAssign
	KindShutdown

	// Sent by the master when a frame will not complete so workers stop
	// rendering it.
	KindAbort
)

func (k Kind) String() string {
	switch k {
	case KindFrameStart:
		return "frame-start"
	case KindTile:
		return "tile"
	case KindWorkRequest:
		return "work-request"
	case KindWorkAssign:
		return "work-assign"
	case KindShutdown:
		return "shutdown"
	case KindAbort:
		return "abort"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// A Message is the unit exchanged by communicators. Only the fields relevant
// to Kind are populated.
type Message struct {
	Kind Kind

	// Sending rank; filled in by the communicator.
	From int

	// The frame the message refers to.
	Frame uuid.UUID

	// KindFrameStart payload.
	Start *FrameStart

	// KindTile payload.
	Tile *fb.Tile

	// KindWorkAssign payload. An empty list means there is no more work for
	// this frame.
	TileIDs []uint32
}

// FrameStart carries everything a worker needs to render its share of a
// pass.
type FrameStart struct {
	Pass   int
	Mode   Mode
	Policy Policy

	Width    int
	Height   int
	TileSize int

	Camera scene.Camera

	// Per-tile accumulation counters on the master when the pass started.
	AccumIDs []int32
}
