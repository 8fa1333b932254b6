package device

import (
	"sync"

	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// queueState couples one descriptor ring with its DMA buffer and the
// request currently occupying that buffer. The mutex stands in for the
// spin-lock-with-interrupts-disabled critical section a kernel build would
// use: both the submit path (any CPU) and the completion path (interrupt
// context) take it, and neither ever sleeps while holding it.
type queueState struct {
	mu       sync.Mutex
	name     string
	index    int
	handle   transport.QueueHandle
	buf      *ringBuffer
	inflight *pendingRequest

	// Counters read by QueueStats; written only under mu.
	submitted uint64
	completed uint64
}

// pendingRequest is the continuation for one outstanding descriptor chain.
// The three offsets snapshot the wire geometry computed at submit time:
// readableLen excludes the variable-payload padding, writableStart includes
// it, and totalLen is where the host-writable region ends.
type pendingRequest struct {
	opcode        wire.Opcode
	unique        uint64
	nodeid        uint64
	readableLen   int
	writableStart int
	totalLen      int
	noReply       bool
	sizeQuery     bool
	cb            Callback
}

// QueueStat is one queue's submission/completion counters, surfaced by
// diagnostic tooling.
type QueueStat struct {
	Name      string
	Index     int
	Submitted uint64
	Completed uint64
}

func alignUp8(n int) int {
	return (n + 7) &^ 7
}
