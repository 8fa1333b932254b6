package device

import (
	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
)

// ringBufferPages is the number of platform pages allocated per queue's DMA
// buffer. Three pages covers a 128-entry readdir response of short names
// (32 bytes a record) or a page-sized write without per-request
// allocation; a 128-entry readdirplus response (160 bytes or more a
// record) does not fit.
const ringBufferPages = 3

// ringBuffer is the single bidirectional DMA byte buffer backing one ring
// (the hiprio queue or one request queue). The Request Engine serializes
// into it starting at offset 0; the Completion Dispatcher reads the host's
// response out of the same bytes once the used-ring entry appears.
type ringBuffer struct {
	segment transport.Segment
	stream  transport.DMAStream
}

// newRingBuffer allocates and maps a ringBufferPages-sized segment through
// alloc, bidirectional so both the request-serialization writer view and
// the response-parsing reader view can address it.
func newRingBuffer(alloc transport.FrameAllocator) (*ringBuffer, error) {
	seg, err := alloc.AllocSegment(ringBufferPages)
	if err != nil {
		return nil, errx.Wrap(ErrNoMemory, err)
	}
	stream, err := alloc.Map(seg, transport.DirectionBidirectional, true)
	if err != nil {
		return nil, errx.Wrap(ErrNoMemory, err)
	}
	return &ringBuffer{segment: seg, stream: stream}, nil
}

// bytes returns the full backing buffer.
func (r *ringBuffer) bytes() []byte { return r.stream.Bytes() }

// writerView returns the buffer bytes from offset to its end, for
// serializing a request starting at offset.
func (r *ringBuffer) writerView(offset int) []byte { return r.stream.Bytes()[offset:] }

// sync invokes the DMA cache-coherency primitive (a no-op on a cache-
// coherent platform, but still a real call every submission/completion
// path routes through) over [offset, offset+length).
func (r *ringBuffer) sync(offset, length int) error {
	return r.stream.Sync(offset, length)
}

// slice returns a descriptor referencing r.bytes()[offset:offset+length].
// Used to build the readable and writable sub-ranges a QueueHandle.AddChain
// call publishes.
func (r *ringBuffer) slice(offset, length int) []byte {
	return r.stream.Bytes()[offset : offset+length]
}

// capacity is the total addressable byte length of the buffer.
func (r *ringBuffer) capacity() int { return len(r.stream.Bytes()) }
