package fb

import "errors"

var (
	ErrInvalidSize         = errors.New("framebuffer: frame dimensions must be positive")
	ErrInvalidTileSize     = errors.New("framebuffer: tile size must be a positive power of two")
	ErrUnsupportedFormat   = errors.New("framebuffer: color buffer format not supported")
	ErrCapabilityMismatch  = errors.New("framebuffer: variance tracking requires an accumulation buffer")
	ErrInvalidUnmap        = errors.New("framebuffer: unmap of a view that was not mapped by this frame buffer")
	ErrTileOutOfBounds     = errors.New("framebuffer: tile id outside of frame buffer bounds")
	ErrConcurrentTileWrite = errors.New("framebuffer: concurrent SetTile calls for the same tile")
)
