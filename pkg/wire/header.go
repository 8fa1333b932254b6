package wire

// FuseInHeader is the 40-byte header prefixed to every request.
type FuseInHeader struct {
	Len         uint32
	Opcode      uint32
	Unique      uint64
	Nodeid      uint64
	Uid         uint32
	Gid         uint32
	Pid         uint32
	TotalExtlen uint16
	Padding     uint16
}

// FuseOutHeader is the 16-byte header prefixed to every response.
type FuseOutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

// RootNodeID is the nodeid of the filesystem root.
const RootNodeID uint64 = 1

// KernelVersion and KernelMinorVersion are the protocol version this driver
// declares during INIT.
const (
	KernelVersion      uint32 = 7
	KernelMinorVersion uint32 = 38
	MinKernelMinor     uint32 = 27
)

// INIT negotiable feature flags, low 32 bits (FuseInitIn/Out.Flags).
const (
	FlagAsyncRead         uint64 = 1 << 0
	FlagPosixLocks        uint64 = 1 << 1
	FlagFileOps           uint64 = 1 << 2
	FlagAtomicOTrunc      uint64 = 1 << 3
	FlagExportSupport     uint64 = 1 << 4
	FlagBigWrites         uint64 = 1 << 5
	FlagDontMask          uint64 = 1 << 6
	FlagSpliceWrite       uint64 = 1 << 7
	FlagSpliceMove        uint64 = 1 << 8
	FlagSpliceRead        uint64 = 1 << 9
	FlagFlockLocks        uint64 = 1 << 10
	FlagHasIoctlDir       uint64 = 1 << 11
	FlagAutoInvalData     uint64 = 1 << 12
	FlagDoReaddirplus     uint64 = 1 << 13
	FlagReaddirplusAuto   uint64 = 1 << 14
	FlagAsyncDio          uint64 = 1 << 15
	FlagWritebackCache    uint64 = 1 << 16
	FlagNoOpenSupport     uint64 = 1 << 17
	FlagParallelDirops    uint64 = 1 << 18
	FlagHandleKillpriv    uint64 = 1 << 19
	FlagPosixACL          uint64 = 1 << 20
	FlagAbortError        uint64 = 1 << 21
	FlagMaxPages          uint64 = 1 << 22
	FlagCacheSymlinks     uint64 = 1 << 23
	FlagNoOpendirSupport  uint64 = 1 << 24
	FlagExplicitInvalData uint64 = 1 << 25
	FlagMapAlignment      uint64 = 1 << 26
	FlagSubmounts         uint64 = 1 << 27
	FlagHandleKillprivV2  uint64 = 1 << 28
	FlagSetxattrExt       uint64 = 1 << 29
	FlagInitExt           uint64 = 1 << 30
	FlagInitReserved      uint64 = 1 << 31
)

// INIT negotiable feature flags, high 32 bits (FuseInitIn/Out.Flags2),
// expressed here already shifted into their position within the
// reassembled 64-bit negotiated_flags value.
const (
	Flag2SecurityCtx       uint64 = 1 << 32
	Flag2HasInodeDax       uint64 = 1 << 33
	Flag2CreateSuppGroup   uint64 = 1 << 34
	Flag2HasExpireOnly     uint64 = 1 << 35
	Flag2DirectIOAllowMmap uint64 = 1 << 36
	Flag2Passthrough       uint64 = 1 << 37
	Flag2NoExportSupport   uint64 = 1 << 38
	Flag2HasResend         uint64 = 1 << 39
)

// DriverFlags is the set of flags this driver declares support for during
// INIT. EXT and SETXATTR_EXT are the minimum required by the feature
// negotiator (see Negotiate and handleInitOut in the device package).
const DriverFlags uint64 = FlagInitExt | FlagSetxattrExt | FlagDoReaddirplus | FlagBigWrites

// SplitFlags decomposes a 64-bit flag set into the low (Flags) and high
// (Flags2) 32-bit wire fields.
func SplitFlags(flags uint64) (lo, hi uint32) {
	return uint32(flags), uint32(flags >> 32)
}

// JoinFlags reassembles a 64-bit flag set from the wire's split
// representation.
func JoinFlags(lo, hi uint32) uint64 {
	return uint64(lo) | uint64(hi)<<32
}
