package wire

// FuseFlushIn is the request payload for Flush.
type FuseFlushIn struct {
	Fh        uint64
	Unused    uint32
	Padding   uint32
	LockOwner uint64
}

// FuseReleaseIn is the request payload for Release and Releasedir.
type FuseReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}

// Bits for FuseReleaseIn.ReleaseFlags.
const (
	ReleaseFlush       uint32 = 1 << 0
	ReleaseFlockUnlock uint32 = 1 << 1
)

// Bit in FuseFsyncIn.FsyncFlags requesting a data-only sync.
const FsyncFdatasync uint32 = 1 << 0

// FuseFsyncIn is the request payload for Fsync and Fsyncdir.
type FuseFsyncIn struct {
	Fh         uint64
	FsyncFlags uint32
	Padding    uint32
}

// FuseFallocateIn is the request payload for Fallocate.
type FuseFallocateIn struct {
	Fh      uint64
	Offset  uint64
	Length  uint64
	Mode    uint32
	Padding uint32
}

// FuseLseekIn is the request payload for Lseek.
type FuseLseekIn struct {
	Fh      uint64
	Offset  uint64
	Whence  uint32
	Padding uint32
}

// FuseLseekOut is the response payload for Lseek.
type FuseLseekOut struct {
	Offset uint64
}
