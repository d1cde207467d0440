package renderer

import "time"

type Options struct {
	// Upper bound for the number of passes per Render call.
	MaxPasses int

	// Stop once the frame error drops to this value or below.
	ErrorThreshold float32

	// Reset accumulation before the first pass.
	ClearOnRender bool

	// Time allowed for the load balancer to shut down on Close.
	ShutdownTimeout time.Duration
}
