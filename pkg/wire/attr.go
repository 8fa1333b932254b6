package wire

// FuseAttr is the inode attribute record embedded in FuseAttrOut and
// FuseEntryOut.
type FuseAttr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	Blksize   uint32
	Flags     uint32
}

// FuseAttrOut is the response payload for Getattr and Setattr.
type FuseAttrOut struct {
	AttrValid     uint64
	AttrValidNsec uint32
	Dummy         uint32
	Attr          FuseAttr
}

// FuseEntryOut is the response payload for Lookup, Mkdir, Mknod, Link and
// Symlink.
type FuseEntryOut struct {
	Nodeid         uint64
	Generation     uint64
	EntryValid     uint64
	AttrValid      uint64
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           FuseAttr
}

// FuseGetattrIn is the request payload for Getattr.
type FuseGetattrIn struct {
	GetattrFlags uint32
	Dummy        uint32
	Fh           uint64
}

// Bits for FuseSetattrIn.Valid.
const (
	FattrMode      uint32 = 1 << 0
	FattrUid       uint32 = 1 << 1
	FattrGid       uint32 = 1 << 2
	FattrSize      uint32 = 1 << 3
	FattrAtime     uint32 = 1 << 4
	FattrMtime     uint32 = 1 << 5
	FattrFh        uint32 = 1 << 6
	FattrAtimeNow  uint32 = 1 << 7
	FattrMtimeNow  uint32 = 1 << 8
	FattrLockOwner uint32 = 1 << 9
	FattrCtime     uint32 = 1 << 10
	FattrKillSuid  uint32 = 1 << 11
	FattrKillSgid  uint32 = 1 << 12
)

// FuseSetattrIn is the request payload for Setattr.
type FuseSetattrIn struct {
	Valid     uint32
	Padding   uint32
	Fh        uint64
	Size      uint64
	LockOwner uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Unused4   uint32
	Uid       uint32
	Gid       uint32
	Unused5   uint32
}
