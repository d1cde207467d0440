package renderer

import "time"

type PassStat struct {
	// Pass number starting from 1.
	Pass int

	// Frame error after the pass.
	FrameError float32

	// Render time for the pass.
	RenderTime time.Duration
}

type RankStat struct {
	Rank int

	// Number of tiles contributed and the percentage of all contributions
	// it represents.
	Tiles   int
	Percent float32
}

type FrameStats struct {
	// Individual pass stats.
	Passes []PassStat

	// Per rank contributions. Local renders report everything as rank 0.
	Ranks []RankStat

	// True if the error threshold was reached before running out of passes.
	Converged bool

	// Total render time for all passes.
	RenderTime time.Duration
}
