package dma

import "errors"

var (
	// ErrBadPageCount is returned for a non-positive segment size.
	ErrBadPageCount = errors.New("dma: page count must be positive")

	// ErrMmap is returned when the anonymous mapping fails.
	ErrMmap = errors.New("dma: mmap failed")

	// ErrBadSegment is returned when Map receives a segment this allocator
	// did not produce.
	ErrBadSegment = errors.New("dma: foreign or closed segment")

	// ErrSyncRange is returned for a sync range outside the stream.
	ErrSyncRange = errors.New("dma: sync range out of bounds")
)
