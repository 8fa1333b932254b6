package transport

import (
	"encoding/binary"
	"sync"
)

// HostHandler models the host daemon's processing of one descriptor chain:
// given the device-readable bytes, it writes into the device-writable
// slice and returns the number of bytes written (including any out
// header). It is the seam tests and internal/fakehost hook into.
type HostHandler func(readable, writable []byte) (bytesWritten uint32)

// Fake is an in-memory Transport + FrameAllocator double. It has no real
// shared memory or interrupts; AddChain invokes the registered HostHandler
// synchronously and queues a used entry, mirroring (without the hardware)
// the data flow described for the real ring transport: submit, host
// processes, used entry appears, driver is notified.
type Fake struct {
	mu             sync.Mutex
	queues         map[int]*fakeQueue
	configRegion   []byte
	queueCallbacks map[int]QueueCallback
	configCallback ConfigCallback
	defaultHandler HostHandler
	// Deliver controls whether AddChain invokes the queue callback
	// synchronously, within the same call that enqueues the used entry.
	// Defaults to false: calling the completion dispatcher back in while
	// the request engine's submit path may still hold the queue's lock
	// would deadlock against a non-reentrant spin lock, same as it would
	// on real hardware if an interrupt could fire on the submitting CPU
	// mid-critical-section. Callers drain explicitly via DeliverQueue
	// once the submitting call has returned (real hardware: once the
	// host's completion interrupt actually lands).
	Deliver bool
}

// Deliverer is implemented by transports (Fake included) that support
// explicitly triggering a queue's callback, for diagnostic/busy-wait
// bring-up paths that poll for the first completion rather than waiting
// for a real interrupt.
type Deliverer interface {
	DeliverQueue(queueIndex int)
}

type fakeQueue struct {
	mu        sync.Mutex
	handler   HostHandler
	nextDesc  uint16
	usedQueue []usedEntry
	notified  bool
}

type usedEntry struct {
	descIndex uint16
	written   uint32
}

// NewFake builds an empty Fake transport with the given device-config
// region bytes (virtio-fs layout: tag[36] | num_request_queues:u32 |
// notify_buf_size:u32).
func NewFake(configRegion []byte) *Fake {
	return &Fake{
		queues:         make(map[int]*fakeQueue),
		configRegion:   configRegion,
		queueCallbacks: make(map[int]QueueCallback),
		Deliver:        false,
	}
}

// SetHostHandler installs the responder for queueIndex. Must be called
// before any AddChain targeting that queue.
func (f *Fake) SetHostHandler(queueIndex int, handler HostHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.queues[queueIndex]
	q.mu.Lock()
	q.handler = handler
	q.mu.Unlock()
}

// SetDefaultHostHandler installs the responder used by any queue without
// its own handler. Queues are created by the driver during attach, so a
// default installed up front is the only way to answer the INIT request
// the driver submits before the caller regains control.
func (f *Fake) SetDefaultHostHandler(handler HostHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultHandler = handler
}

func (f *Fake) CreateQueue(queueIndex, descriptorCount int) (QueueHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := &fakeQueue{}
	f.queues[queueIndex] = q
	return &fakeQueueHandle{transport: f, index: queueIndex, queue: q}, nil
}

func (f *Fake) RegisterQueueCallback(queueIndex int, handler QueueCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queueCallbacks[queueIndex] = handler
}

func (f *Fake) RegisterConfigCallback(handler ConfigCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configCallback = handler
}

func (f *Fake) DeviceConfigRegion() []byte {
	return f.configRegion
}

func (f *Fake) FinishInit() error {
	return nil
}

// DeliverQueue invokes queueIndex's registered callback, as if an
// interrupt had arrived. Only needed when Deliver is false.
func (f *Fake) DeliverQueue(queueIndex int) {
	f.mu.Lock()
	cb := f.queueCallbacks[queueIndex]
	f.mu.Unlock()
	if cb != nil {
		cb(queueIndex)
	}
}

type fakeQueueHandle struct {
	transport *Fake
	index     int
	queue     *fakeQueue
}

func (h *fakeQueueHandle) AddChain(readable, writable []byte) (uint16, error) {
	h.queue.mu.Lock()
	handler := h.queue.handler
	desc := h.queue.nextDesc
	h.queue.nextDesc++
	h.queue.mu.Unlock()

	if handler == nil {
		h.transport.mu.Lock()
		handler = h.transport.defaultHandler
		h.transport.mu.Unlock()
	}

	var written uint32
	if handler != nil {
		written = handler(readable, writable)
	}

	h.queue.mu.Lock()
	h.queue.usedQueue = append(h.queue.usedQueue, usedEntry{descIndex: desc, written: written})
	h.queue.notified = false
	h.queue.mu.Unlock()

	if h.transport.Deliver {
		h.transport.DeliverQueue(h.index)
	}
	return desc, nil
}

func (h *fakeQueueHandle) ShouldNotify() bool {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	return !h.queue.notified && len(h.queue.usedQueue) == 0
}

func (h *fakeQueueHandle) Notify() {
	h.queue.mu.Lock()
	h.queue.notified = true
	h.queue.mu.Unlock()
}

func (h *fakeQueueHandle) CanPop() bool {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	return len(h.queue.usedQueue) > 0
}

func (h *fakeQueueHandle) PopUsed() (uint16, uint32, bool) {
	h.queue.mu.Lock()
	defer h.queue.mu.Unlock()
	if len(h.queue.usedQueue) == 0 {
		return 0, 0, false
	}
	entry := h.queue.usedQueue[0]
	h.queue.usedQueue = h.queue.usedQueue[1:]
	return entry.descIndex, entry.written, true
}

// fakeSegment and fakeStream implement Segment/DMAStream directly over a
// Go byte slice; no real sync is needed since there is no second address
// space, but Sync is still a real no-op call so device code exercises the
// same code path it would against hardware.
type fakeSegment struct{ pages int }

func (s *fakeSegment) PageCount() int { return s.pages }

type fakeStream struct{ buf []byte }

func (s *fakeStream) Bytes() []byte              { return s.buf }
func (s *fakeStream) Sync(off, length int) error { return nil }

// FakeConfigRegion builds a device-config region in the virtio-fs layout.
// Tags longer than 36 bytes are truncated.
func FakeConfigRegion(tag string, numRequestQueues, notifyBufSize uint32) []byte {
	region := make([]byte, 44)
	copy(region[:36], tag)
	binary.LittleEndian.PutUint32(region[36:40], numRequestQueues)
	binary.LittleEndian.PutUint32(region[40:44], notifyBufSize)
	return region
}

func (f *Fake) AllocSegment(pageCount int) (Segment, error) {
	return &fakeSegment{pages: pageCount}, nil
}

func (f *Fake) Map(region Segment, direction Direction, coherent bool) (DMAStream, error) {
	seg := region.(*fakeSegment)
	return &fakeStream{buf: make([]byte, seg.pages*PageSize)}, nil
}
