package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/virtiofs-guest/pkg/transport"
)

func TestReadConfigDecodesRegion(t *testing.T) {
	region := transport.FakeConfigRegion("myfs", 4, 1024)

	cfg, err := readConfig(region)
	require.NoError(t, err)
	require.Equal(t, "myfs", cfg.TagString())
	require.Equal(t, uint32(4), cfg.NumRequestQueues)
	require.Equal(t, uint32(1024), cfg.NotifyBufSize)
}

func TestReadConfigFullWidthTag(t *testing.T) {
	tag := "abcdefghijklmnopqrstuvwxyz0123456789" // exactly 36 bytes
	cfg, err := readConfig(transport.FakeConfigRegion(tag, 1, 0))
	require.NoError(t, err)
	require.Equal(t, tag, cfg.TagString())
}

func TestReadConfigShortRegion(t *testing.T) {
	_, err := readConfig(make([]byte, 43))
	require.ErrorIs(t, err, ErrShortConfigRegion)
}

func TestReadConfigIgnoresTrailingBytes(t *testing.T) {
	region := append(transport.FakeConfigRegion("fs", 2, 8), 0xde, 0xad)
	cfg, err := readConfig(region)
	require.NoError(t, err)
	require.Equal(t, uint32(2), cfg.NumRequestQueues)
	require.Equal(t, uint32(8), cfg.NotifyBufSize)
}
