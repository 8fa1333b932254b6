package device

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/virtiofs-guest/internal/fakehost"
	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
)

// quietLogger keeps driver diagnostics out of test output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFakeFor builds a single-request-queue fake transport answered by host.
func newFakeFor(host *fakehost.Host) *transport.Fake {
	tr := transport.NewFake(transport.FakeConfigRegion("testfs", 1, 0))
	tr.SetDefaultHostHandler(host.Handle)
	return tr
}

// attachTestDevice attaches a device to a fake transport backed by host and
// drives the INIT completion. driverFlags 0 selects the driver default.
func attachTestDevice(t *testing.T, host *fakehost.Host, driverFlags uint64) (*Device, *transport.Fake) {
	t.Helper()
	tr := transport.NewFake(transport.FakeConfigRegion("testfs", 1, 0))
	tr.SetDefaultHostHandler(host.Handle)
	dev, err := Attach(tr, tr, Options{Logger: quietLogger(), DriverFlags: driverFlags})
	require.NoError(t, err)
	tr.DeliverQueue(1)
	require.NoError(t, dev.InitErr())
	require.True(t, dev.InitDone())
	return dev, tr
}

// call submits through submitFn and synchronously drains the request
// queue's used ring, returning the parsed completion.
func call(t *testing.T, tr *transport.Fake, submitFn func(cb Callback) (uint64, error)) Result {
	t.Helper()
	var res Result
	done := false
	_, err := submitFn(func(r Result) { res = r; done = true })
	require.NoError(t, err)
	tr.DeliverQueue(1)
	require.True(t, done, "completion was not delivered")
	return res
}

func TestAttachReadsConfig(t *testing.T) {
	tr := transport.NewFake(transport.FakeConfigRegion("myfs", 3, 512))
	tr.SetDefaultHostHandler(fakehost.New().Handle)

	dev, err := Attach(tr, tr, Options{Logger: quietLogger()})
	require.NoError(t, err)

	require.Equal(t, "myfs", dev.Config().TagString())
	require.Equal(t, uint32(3), dev.Config().NumRequestQueues)
	require.Equal(t, uint32(512), dev.Config().NotifyBufSize)
	require.Len(t, dev.requests, 3)
	require.NotEmpty(t, dev.SessionID)
}

func TestAttachRejectsZeroQueues(t *testing.T) {
	tr := transport.NewFake(transport.FakeConfigRegion("myfs", 0, 0))
	_, err := Attach(tr, tr, Options{Logger: quietLogger()})
	require.ErrorIs(t, err, ErrProtocol)
}

func TestAttachRejectsShortConfigRegion(t *testing.T) {
	tr := transport.NewFake(make([]byte, 10))
	_, err := Attach(tr, tr, Options{Logger: quietLogger()})
	require.ErrorIs(t, err, ErrShortConfigRegion)
}

func TestAwaitInitDrivesDelivery(t *testing.T) {
	tr := transport.NewFake(transport.FakeConfigRegion("testfs", 1, 0))
	tr.SetDefaultHostHandler(fakehost.New().Handle)
	dev, err := Attach(tr, tr, Options{Logger: quietLogger()})
	require.NoError(t, err)

	require.False(t, dev.InitDone())
	require.NoError(t, dev.AwaitInit(16))
	require.True(t, dev.InitDone())
}

func TestQueueStatsCountTraffic(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	call(t, tr, func(cb Callback) (uint64, error) { return dev.Statfs(1, cb) })
	_, err := dev.Forget(2, 1)
	require.NoError(t, err)
	tr.DeliverQueue(0)

	stats := dev.QueueStats()
	require.Equal(t, "hiprio", stats[0].Name)
	require.Equal(t, uint64(1), stats[0].Submitted)
	require.Equal(t, uint64(1), stats[0].Completed)
	require.Equal(t, "request-0", stats[1].Name)
	// INIT plus the statfs round trip.
	require.Equal(t, uint64(2), stats[1].Submitted)
	require.Equal(t, uint64(2), stats[1].Completed)
}

func TestQueueBusyRejectsSecondSubmission(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	_, err := dev.Statfs(1, nil)
	require.NoError(t, err)

	_, err = dev.Statfs(1, nil)
	require.ErrorIs(t, err, ErrQueueBusy)

	// Draining the completion frees the buffer for the next request.
	tr.DeliverQueue(1)
	_, err = dev.Statfs(1, nil)
	require.NoError(t, err)
	tr.DeliverQueue(1)
}

func TestSpuriousInterruptIsIgnored(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	// Nothing outstanding on either ring; the handler must treat the pop
	// miss as a spurious interrupt and return.
	tr.DeliverQueue(0)
	tr.DeliverQueue(1)
	require.True(t, dev.InitDone())
}
