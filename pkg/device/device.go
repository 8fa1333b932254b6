// Package device implements the guest-side virtio-fs driver core: device
// attach and configuration, per-queue DMA buffers, the per-opcode request
// engine, the interrupt-driven completion dispatcher and the INIT feature
// negotiation.
//
// The virtio transport itself and DMA frame allocation are consumed through
// the interfaces in the transport package; this package owns everything
// between those interfaces and the FUSE wire protocol.
package device

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/logging"
	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

const (
	hiprioQueueIndex      = 0
	requestQueueBaseIndex = 1

	// Two descriptors per ring: one chain's readable half and writable
	// half. One request occupies a queue's buffer at a time.
	queueDescriptorCount = 2
)

// TraceSink records raw wire frames for offline replay. Implementations
// must copy the frame bytes before returning; the DMA buffer is reused by
// the next request on the same queue.
type TraceSink interface {
	RecordSubmit(queue string, opcode wire.Opcode, unique uint64, frame []byte)
	RecordComplete(queue string, opcode wire.Opcode, unique uint64, errno int32, frame []byte)
}

// Options tunes device attach. The zero value is usable.
type Options struct {
	// Logger receives call-site diagnostics; defaults to slog.Default().
	Logger *slog.Logger

	// Emitter receives structured trace events; nil disables emission.
	Emitter *logging.Emitter

	// Trace receives raw request/response frames; nil disables capture.
	Trace TraceSink

	// DriverFlags is the feature set declared during INIT. Defaults to
	// wire.DriverFlags, which carries the INIT_EXT and SETXATTR_EXT bits
	// the rest of the driver depends on.
	DriverFlags uint64

	// MaxReadahead is advertised in FuseInitIn.MaxReadahead.
	MaxReadahead uint32
}

// Device is the long-lived driver instance created at transport attach.
// All methods are safe for concurrent use.
type Device struct {
	// SessionID correlates log records and trace events from one attach.
	SessionID string

	config Config

	transportMu sync.Mutex
	transport   transport.Transport

	hiprio   *queueState
	requests []*queueState

	// negotiated starts as the driver's declared set and is stored exactly
	// once more, at INIT completion, with the intersection of driver and
	// host flags. Reads are atomic loads.
	negotiated atomic.Uint64

	initDone atomic.Bool
	initMu   sync.Mutex
	initErr  error

	effectiveMinor atomic.Uint32

	// unique generates per-request correlation ids when correlate is set;
	// with correlation disabled every request goes out with unique=0.
	// Completions are always matched to the queue's single outstanding
	// request; correlation adds the check of the echoed unique.
	unique    atomic.Uint64
	correlate atomic.Bool

	pendingMu sync.Mutex
	pending   map[uint64]*pendingRequest

	driverFlags  uint64
	maxReadahead uint32

	logger  *slog.Logger
	emitter *logging.Emitter
	trace   TraceSink
}

// Attach reads the device configuration, creates the high-priority ring and
// one request ring per configured queue, allocates each ring's DMA buffer,
// registers the completion callbacks, finishes virtio init and submits the
// INIT request. The INIT response arrives asynchronously; callers that need
// to observe it synchronously during bring-up use AwaitInit.
func Attach(tr transport.Transport, alloc transport.FrameAllocator, opts Options) (*Device, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	driverFlags := opts.DriverFlags
	if driverFlags == 0 {
		driverFlags = wire.DriverFlags
	}

	cfg, err := readConfig(tr.DeviceConfigRegion())
	if err != nil {
		return nil, err
	}
	if cfg.NumRequestQueues == 0 {
		return nil, errx.With(ErrProtocol, ": device config reports zero request queues")
	}

	d := &Device{
		SessionID:    uuid.New().String(),
		config:       cfg,
		transport:    tr,
		pending:      make(map[uint64]*pendingRequest),
		driverFlags:  driverFlags,
		maxReadahead: opts.MaxReadahead,
		logger:       logger,
		emitter:      opts.Emitter,
		trace:        opts.Trace,
	}
	d.emitter = d.emitter.WithSessionID(d.SessionID)
	d.correlate.Store(true)
	d.negotiated.Store(driverFlags)

	d.transportMu.Lock()
	defer d.transportMu.Unlock()

	hiprioHandle, err := tr.CreateQueue(hiprioQueueIndex, queueDescriptorCount)
	if err != nil {
		return nil, errx.Wrap(ErrIO, err)
	}
	hiprioBuf, err := newRingBuffer(alloc)
	if err != nil {
		return nil, err
	}
	d.hiprio = &queueState{name: "hiprio", index: hiprioQueueIndex, handle: hiprioHandle, buf: hiprioBuf}

	for i := 0; i < int(cfg.NumRequestQueues); i++ {
		handle, err := tr.CreateQueue(requestQueueBaseIndex+i, queueDescriptorCount)
		if err != nil {
			return nil, errx.Wrap(ErrIO, err)
		}
		buf, err := newRingBuffer(alloc)
		if err != nil {
			return nil, err
		}
		d.requests = append(d.requests, &queueState{
			name:   fmt.Sprintf("request-%d", i),
			index:  requestQueueBaseIndex + i,
			handle: handle,
			buf:    buf,
		})
	}

	tr.RegisterQueueCallback(hiprioQueueIndex, d.onQueueInterrupt)
	for _, q := range d.requests {
		tr.RegisterQueueCallback(q.index, d.onQueueInterrupt)
	}
	tr.RegisterConfigCallback(d.onConfigChange)

	if err := tr.FinishInit(); err != nil {
		return nil, errx.Wrap(ErrIO, err)
	}

	logger.Info("virtio-fs device attached",
		"session_id", d.SessionID,
		"tag", cfg.TagString(),
		"request_queues", cfg.NumRequestQueues,
		"notify_buf_size", cfg.NotifyBufSize)

	if err := d.sendInit(); err != nil {
		return nil, err
	}
	return d, nil
}

// Config returns the configuration snapshot taken at attach.
func (d *Device) Config() Config { return d.config }

// NegotiatedFlags returns the effective 64-bit feature mask: the driver's
// declared set until INIT completes, the driver∩host intersection after.
func (d *Device) NegotiatedFlags() uint64 { return d.negotiated.Load() }

// EffectiveMinor returns the protocol minor version in effect for the
// session: the smaller of the driver's and the host's. Zero until INIT
// completes.
func (d *Device) EffectiveMinor() uint32 { return d.effectiveMinor.Load() }

// InitDone reports whether the INIT exchange has completed successfully.
func (d *Device) InitDone() bool { return d.initDone.Load() }

// InitErr returns the INIT failure, if any, observed so far.
func (d *Device) InitErr() error {
	d.initMu.Lock()
	defer d.initMu.Unlock()
	return d.initErr
}

// DisableCorrelation switches the driver to the unique=0 baseline: every
// request goes out with a zero unique and the response's unique is not
// checked against the queue's single outstanding request. Intended
// for conformance testing against hosts that process strictly in order.
func (d *Device) DisableCorrelation() { d.correlate.Store(false) }

// QueueStats snapshots per-queue submission/completion counters.
func (d *Device) QueueStats() []QueueStat {
	stats := make([]QueueStat, 0, len(d.requests)+1)
	for _, q := range append([]*queueState{d.hiprio}, d.requests...) {
		q.mu.Lock()
		stats = append(stats, QueueStat{Name: q.name, Index: q.index, Submitted: q.submitted, Completed: q.completed})
		q.mu.Unlock()
	}
	return stats
}

// RefreshConfig re-reads the device-config region. The attach-time snapshot
// held by the Device is not updated; virtio-fs config fields are immutable
// after init, so a change is only worth logging.
func (d *Device) RefreshConfig() (Config, error) {
	d.transportMu.Lock()
	defer d.transportMu.Unlock()
	return readConfig(d.transport.DeviceConfigRegion())
}

func (d *Device) onConfigChange() {
	cfg, err := d.RefreshConfig()
	if err != nil {
		d.logger.Warn("device config change notification with unreadable region", "session_id", d.SessionID, "error", err)
		return
	}
	d.logger.Info("device config changed", "session_id", d.SessionID, "tag", cfg.TagString())
}

func (d *Device) queueByIndex(queueIndex int) *queueState {
	if queueIndex == hiprioQueueIndex {
		return d.hiprio
	}
	i := queueIndex - requestQueueBaseIndex
	if i < 0 || i >= len(d.requests) {
		return nil
	}
	return d.requests[i]
}

// reqQueue is the destination for every opcode except forget, batch-forget
// and interrupt. Multi-queue distribution is a valid extension; this driver
// sends all regular traffic to the first request ring.
func (d *Device) reqQueue() *queueState { return d.requests[0] }
