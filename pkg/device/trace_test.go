package device

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/virtiofs-guest/internal/diag"
	"github.com/jingkaihe/virtiofs-guest/internal/fakehost"
	"github.com/jingkaihe/virtiofs-guest/pkg/logging"
	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

func TestTraceSinkCapturesWireFrames(t *testing.T) {
	var buf bytes.Buffer
	rec := diag.NewRecorder(&buf)

	tr := transport.NewFake(transport.FakeConfigRegion("testfs", 1, 0))
	tr.SetDefaultHostHandler(fakehost.New().Handle)
	dev, err := Attach(tr, tr, Options{Logger: quietLogger(), Trace: rec})
	require.NoError(t, err)
	tr.DeliverQueue(1)

	call(t, tr, func(cb Callback) (uint64, error) { return dev.Statfs(1, cb) })
	require.NoError(t, rec.Err())

	records, err := diag.ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, records, 4)

	require.Equal(t, diag.DirSubmit, records[0].Dir)
	require.Equal(t, uint32(wire.OpInit), records[0].Opcode)
	// The captured submit frame is the full readable region: header plus
	// the INIT in-record.
	require.Len(t, records[0].Frame, 40+64)

	require.Equal(t, diag.DirComplete, records[1].Dir)
	require.Equal(t, uint32(wire.OpInit), records[1].Opcode)
	require.Len(t, records[1].Frame, 16+64)

	require.Equal(t, diag.DirSubmit, records[2].Dir)
	require.Equal(t, uint32(wire.OpStatfs), records[2].Opcode)
	require.Equal(t, diag.DirComplete, records[3].Dir)
	require.Equal(t, int32(0), records[3].Errno)
}

// collectSink gathers emitted events in memory.
type collectSink struct {
	mu     sync.Mutex
	events []logging.Event
}

func (s *collectSink) Write(event *logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *event)
	return nil
}

func (s *collectSink) Close() error { return nil }

func TestEmitterReceivesNegotiationEvent(t *testing.T) {
	sink := &collectSink{}
	emitter := logging.NewEmitter(logging.EmitterConfig{Tag: "testfs"}, sink)

	tr := transport.NewFake(transport.FakeConfigRegion("testfs", 1, 0))
	tr.SetDefaultHostHandler(fakehost.New().Handle)
	dev, err := Attach(tr, tr, Options{Logger: quietLogger(), Emitter: emitter})
	require.NoError(t, err)
	tr.DeliverQueue(1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	var negotiated *logging.Event
	for i := range sink.events {
		if sink.events[i].EventType == logging.EventFeatureNegotiate {
			negotiated = &sink.events[i]
		}
	}
	require.NotNil(t, negotiated, "INIT completion must emit a feature_negotiate event")
	require.Equal(t, dev.SessionID, negotiated.SessionID, "events must carry the device session id")
	require.Equal(t, "testfs", negotiated.Tag)
}
