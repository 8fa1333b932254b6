package device

import (
	"errors"
	"fmt"

	"github.com/jingkaihe/virtiofs-guest/internal/errx"
)

var (
	// ErrShortConfigRegion is returned when the device-config MMIO view is
	// shorter than the 44-byte virtio-fs layout requires.
	ErrShortConfigRegion = errors.New("device: device-config region too short")

	// ErrNoMemory is returned when DMA segment allocation or mapping fails.
	ErrNoMemory = errors.New("device: dma allocation failed")

	// ErrIO is returned when the transport fails to publish a descriptor
	// chain or to create a queue.
	ErrIO = errors.New("device: transport io failure")

	// ErrProtocol is returned for INIT major/minor mismatches and
	// truncated completion payloads.
	ErrProtocol = errors.New("device: protocol error")

	// ErrInvalidArgument is returned for malformed wire values, including
	// unknown opcodes surfaced through this package.
	ErrInvalidArgument = errors.New("device: invalid argument")

	// ErrUnknownUnique is returned when a completion's unique field does
	// not match any pending request (spurious or duplicate completion).
	ErrUnknownUnique = errors.New("device: completion for unknown unique")

	// ErrNotNegotiated names a request that requires a feature bit the host
	// did not offer. No request builder in this package returns it:
	// Setxattr falls back to the compat in-record when SETXATTR_EXT is
	// absent.
	ErrNotNegotiated = errors.New("device: required feature not negotiated")

	// ErrQueueBusy is returned when a submission targets a queue whose DMA
	// buffer is still owned by an outstanding request. The buffer bytes are
	// shared with the host until the used-ring completion is seen, so a
	// second request cannot be serialized into it.
	ErrQueueBusy = errors.New("device: queue has an outstanding request")
)

func errShortConfigRegion(gotLen int) error {
	return errx.With(ErrShortConfigRegion, ": have %d bytes, need %d", gotLen, configRegionSize)
}

// HostError wraps a negative errno value transported in FuseOutHeader.Error.
type HostError int32

func (e HostError) Error() string {
	return fmt.Sprintf("device: host returned errno %d", int32(e))
}

// Errno returns the raw negated-errno value as transported on the wire.
func (e HostError) Errno() int32 { return int32(e) }
