// Package dma provides the reference FrameAllocator: anonymous shared
// mmap-backed segments. On a hosted (non-kernel) build there is no second
// bus-master address space, so mappings are coherent and Sync degrades to a
// bounds check; the call sites still route through it so the driver
// exercises the same path it would against real DMA hardware.
package dma

import (
	"golang.org/x/sys/unix"

	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
)

// Allocator hands out mmap-backed segments.
type Allocator struct{}

// New returns a ready Allocator.
func New() *Allocator { return &Allocator{} }

// Segment is a page-multiple anonymous shared mapping.
type Segment struct {
	pages int
	buf   []byte
}

// PageCount returns the number of pages backing the segment.
func (s *Segment) PageCount() int { return s.pages }

// Close unmaps the segment. The Device never frees its ring buffers (they
// live until transport teardown), so this is only called by tooling and
// tests that own their allocator.
func (s *Segment) Close() error {
	if s.buf == nil {
		return nil
	}
	err := unix.Munmap(s.buf)
	s.buf = nil
	return err
}

// AllocSegment maps pageCount anonymous shared pages.
func (a *Allocator) AllocSegment(pageCount int) (transport.Segment, error) {
	if pageCount <= 0 {
		return nil, errx.With(ErrBadPageCount, ": %d", pageCount)
	}
	size := pageCount * unix.Getpagesize()
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errx.Wrap(ErrMmap, err)
	}
	return &Segment{pages: pageCount, buf: buf}, nil
}

// Map exposes the segment as a DMAStream. direction is accepted for
// interface parity; anonymous mappings are readable and writable either
// way.
func (a *Allocator) Map(region transport.Segment, direction transport.Direction, coherent bool) (transport.DMAStream, error) {
	seg, ok := region.(*Segment)
	if !ok || seg.buf == nil {
		return nil, errx.With(ErrBadSegment, ": %T", region)
	}
	return &stream{buf: seg.buf, coherent: coherent}, nil
}

type stream struct {
	buf      []byte
	coherent bool
}

func (s *stream) Bytes() []byte { return s.buf }

// Sync validates the range. A kernel build replaces this with the cache
// clean/invalidate the platform requires; anonymous shared memory needs
// neither.
func (s *stream) Sync(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(s.buf) {
		return errx.With(ErrSyncRange, ": [%d, %d) outside %d-byte stream", offset, offset+length, len(s.buf))
	}
	return nil
}
