package distributed

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"
)

// Number of encoded messages that can be queued for a rank.
const inboxSize = 1024

// The Communicator interface is implemented by the transport connecting the
// ranks of a distributed render. Ranks are numbered 0..Size()-1; rank 0 acts
// as the master.
type Communicator interface {
	// Get the rank of this endpoint.
	Rank() int

	// Get the number of ranks in the group.
	Size() int

	// Send a message to another rank. The message is serialized before this
	// method returns so the caller may reuse it.
	Send(ctx context.Context, to int, msg *Message) error

	// Block until a message addressed to this rank arrives.
	Recv(ctx context.Context) (*Message, error)
}

// A Group is a set of in-process communicator endpoints. Messages are gob
// encoded on send so ranks never share memory.
type Group struct {
	endpoints []*endpoint

	closeOnce sync.Once
	closed    chan struct{}
}

type endpoint struct {
	group *Group
	rank  int
	inbox chan []byte
}

// Create a group with the given number of ranks.
func NewGroup(size int) (*Group, error) {
	if size < 1 {
		return nil, ErrInvalidGroupSize
	}

	g := &Group{
		endpoints: make([]*endpoint, size),
		closed:    make(chan struct{}),
	}
	for rank := range g.endpoints {
		g.endpoints[rank] = &endpoint{
			group: g,
			rank:  rank,
			inbox: make(chan []byte, inboxSize),
		}
	}
	return g, nil
}

// Get the number of ranks in the group.
func (g *Group) Size() int {
	return len(g.endpoints)
}

// Get the communicator for a rank.
func (g *Group) Endpoint(rank int) Communicator {
	return g.endpoints[rank]
}

// Close the group. Pending and future Send/Recv calls fail with ErrClosed.
func (g *Group) Close() {
	g.closeOnce.Do(func() {
		close(g.closed)
	})
}

func (e *endpoint) Rank() int {
	return e.rank
}

func (e *endpoint) Size() int {
	return len(e.group.endpoints)
}

func (e *endpoint) Send(ctx context.Context, to int, msg *Message) error {
	if to < 0 || to >= len(e.group.endpoints) {
		return fmt.Errorf("%w: %d", ErrInvalidRank, to)
	}

	out := *msg
	out.From = e.rank

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&out); err != nil {
		return fmt.Errorf("distributed: encoding %s message: %w", out.Kind, err)
	}

	select {
	case e.group.endpoints[to].inbox <- buf.Bytes():
		return nil
	case <-e.group.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *endpoint) Recv(ctx context.Context) (*Message, error) {
	select {
	case data := <-e.inbox:
		var msg Message
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&msg); err != nil {
			return nil, fmt.Errorf("distributed: decoding message: %w", err)
		}
		return &msg, nil
	case <-e.group.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
