package diag

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

func TestRecorderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)

	rec.RecordSubmit("request-0", wire.OpLookup, 1, []byte{0x28, 0, 0, 0})
	rec.RecordComplete("request-0", wire.OpLookup, 1, -2, nil)
	rec.RecordSubmit("hiprio", wire.OpForget, 0, []byte{0x30})
	require.NoError(t, rec.Err())

	records, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, records, 3)

	require.Equal(t, DirSubmit, records[0].Dir)
	require.Equal(t, uint32(wire.OpLookup), records[0].Opcode)
	require.Equal(t, uint64(1), records[0].Unique)
	require.Equal(t, []byte{0x28, 0, 0, 0}, records[0].Frame)

	require.Equal(t, DirComplete, records[1].Dir)
	require.Equal(t, int32(-2), records[1].Errno)

	require.Equal(t, "hiprio", records[2].Queue)
	require.Equal(t, uint32(wire.OpForget), records[2].Opcode)
}

func TestReadAllRejectsCorruptStream(t *testing.T) {
	_, err := ReadAll(bytes.NewReader([]byte{0xff, 0x00}))
	require.ErrorIs(t, err, ErrDecode)
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, bytes.ErrTooLarge }

func TestRecorderErrorIsSticky(t *testing.T) {
	rec := NewRecorder(failWriter{})
	rec.RecordSubmit("request-0", wire.OpInit, 1, nil)
	require.ErrorIs(t, rec.Err(), ErrEncode)

	// Further records are dropped without panicking.
	rec.RecordComplete("request-0", wire.OpInit, 1, 0, nil)
	require.ErrorIs(t, rec.Err(), ErrEncode)
}
