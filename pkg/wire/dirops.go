package wire

// FuseMkdirIn is the request payload for Mkdir; the directory name follows.
type FuseMkdirIn struct {
	Mode  uint32
	Umask uint32
}

// FuseMknodIn is the request payload for Mknod; the node name follows.
type FuseMknodIn struct {
	Mode    uint32
	Rdev    uint32
	Umask   uint32
	Padding uint32
}

// FuseRenameIn is the request payload for Rename. The name blob
// "oldname\0newname\0" padded to 8 bytes follows.
type FuseRenameIn struct {
	Newdir uint64
}

// Bit in FuseRename2In.Flags requesting an atomic exchange instead of an
// overwrite.
const RenameExchange uint32 = 1 << 1

// FuseRename2In is the request payload for Rename2.
type FuseRename2In struct {
	Newdir  uint64
	Flags   uint32
	Padding uint32
}

// FuseLinkIn is the request payload for Link; the new link name follows.
type FuseLinkIn struct {
	Oldnodeid uint64
}

// FuseForgetIn is the request payload for Forget.
type FuseForgetIn struct {
	Nlookup uint64
}

// FuseBatchForgetIn precedes Count repetitions of FuseForgetOne.
type FuseBatchForgetIn struct {
	Count uint32
	Dummy uint32
}

// FuseForgetOne is one entry in a BatchForget request body.
type FuseForgetOne struct {
	Nodeid  uint64
	Nlookup uint64
}

// FuseAccessIn is the request payload for Access.
type FuseAccessIn struct {
	Mask    uint32
	Padding uint32
}

// FuseInterruptIn is the request payload for Interrupt; Unique names the
// target request to cancel. The host may ignore it.
type FuseInterruptIn struct {
	Unique uint64
}

// FuseKstatfs is the response payload for Statfs.
type FuseKstatfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
	Padding uint32
	Spare   [6]uint32
}

// FuseDirent is the fixed 24-byte header preceding each variable-length
// name in a Readdir response stream.
type FuseDirent struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
}
