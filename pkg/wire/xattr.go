package wire

// FuseSetxattrIn is the 16-byte request payload used when the
// SETXATTR_EXT feature bit is negotiated. The name and value blob follows.
type FuseSetxattrIn struct {
	Size          uint32
	Flags         uint32
	SetxattrFlags uint32
	Padding       uint32
}

// FuseSetxattrInCompat is the 8-byte request payload used when
// SETXATTR_EXT was not negotiated.
type FuseSetxattrInCompat struct {
	Size  uint32
	Flags uint32
}

// FuseGetxattrIn is the request payload for Getxattr and Listxattr.
type FuseGetxattrIn struct {
	Size    uint32
	Padding uint32
}

// FuseGetxattrOut carries the needed buffer size when the request asked
// for size 0.
type FuseGetxattrOut struct {
	Size    uint32
	Padding uint32
}
