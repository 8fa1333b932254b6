package device

import (
	"encoding/binary"
)

// configRegionSize is the byte length of the virtio-fs device-config
// region: tag[36] | num_request_queues:u32 | notify_buf_size:u32.
const configRegionSize = 44

// Config is the in-memory snapshot of the device-config MMIO region, read
// once at attach time. No caching layer exists above this snapshot;
// callers that need to observe a live config change register a
// transport.ConfigCallback and re-read.
type Config struct {
	Tag              [36]byte
	NumRequestQueues uint32
	NotifyBufSize    uint32
}

// TagString returns the NUL-trimmed filesystem tag as a string.
func (c Config) TagString() string {
	n := 0
	for n < len(c.Tag) && c.Tag[n] != 0 {
		n++
	}
	return string(c.Tag[:n])
}

// readConfig decodes region (a byte-addressable MMIO view of at least
// configRegionSize bytes) into a Config. The tag must be read one byte at
// a time; the trailing two u32 fields are read as fixed-offset
// little-endian words.
func readConfig(region []byte) (Config, error) {
	if len(region) < configRegionSize {
		return Config{}, errShortConfigRegion(len(region))
	}
	var cfg Config
	for i := 0; i < len(cfg.Tag); i++ {
		cfg.Tag[i] = region[i]
	}
	cfg.NumRequestQueues = binary.LittleEndian.Uint32(region[36:40])
	cfg.NotifyBufSize = binary.LittleEndian.Uint32(region[40:44])
	return cfg, nil
}
