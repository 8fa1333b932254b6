package device

import (
	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/logging"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

var (
	inHeaderSize    = wire.SizeOf[wire.FuseInHeader]()
	outHeaderSize   = wire.SizeOf[wire.FuseOutHeader]()
	initOutSize     = wire.SizeOf[wire.FuseInitOut]()
	entryOutSize    = wire.SizeOf[wire.FuseEntryOut]()
	attrOutSize     = wire.SizeOf[wire.FuseAttrOut]()
	openOutSize     = wire.SizeOf[wire.FuseOpenOut]()
	writeOutSize    = wire.SizeOf[wire.FuseWriteOut]()
	kstatfsSize     = wire.SizeOf[wire.FuseKstatfs]()
	getxattrOutSize = wire.SizeOf[wire.FuseGetxattrOut]()
	lseekOutSize    = wire.SizeOf[wire.FuseLseekOut]()
)

// readlinkBufSize is the response space reserved for Readlink; symlink
// targets are path-length bound.
const readlinkBufSize = 4096

// request describes one wire transaction for submit. payload is the
// variable-length tail after the fixed in-record, unpadded; name payloads
// include their terminating NUL. outSpace is the opcode-specific response
// space reserved after the out header.
type request struct {
	opcode    wire.Opcode
	nodeid    uint64
	inStruct  []byte
	payload   []byte
	outSpace  int
	noReply   bool
	sizeQuery bool
	cb        Callback
}

// submit serializes req into q's DMA buffer and publishes the descriptor
// chain. The serialized layout is
//
//	[in header | in record | payload | pad | out header space | out record space]
//
// with the readable half ending at the unpadded payload and the writable
// half starting at the padded boundary: the host reads exactly the bytes
// claimed and writes its response into the aligned-next region.
func (d *Device) submit(q *queueState, req request) (uint64, error) {
	readableLen := inHeaderSize + len(req.inStruct) + len(req.payload)
	writableStart := inHeaderSize + len(req.inStruct) + alignUp8(len(req.payload))
	writableLen := 0
	if !req.noReply {
		writableLen = outHeaderSize + req.outSpace
	}
	totalLen := writableStart + writableLen

	var unique uint64
	if d.correlate.Load() {
		unique = d.unique.Add(1)
	}

	hdr := wire.FuseInHeader{
		Len:    uint32(readableLen),
		Opcode: uint32(req.opcode),
		Unique: unique,
		Nodeid: req.nodeid,
	}

	q.mu.Lock()
	if totalLen > q.buf.capacity() {
		q.mu.Unlock()
		return 0, errx.With(ErrInvalidArgument, ": %s request needs %d bytes, %s buffer holds %d",
			req.opcode, totalLen, q.name, q.buf.capacity())
	}
	if q.inflight != nil {
		q.mu.Unlock()
		return 0, errx.With(ErrQueueBusy, ": %s has an outstanding %s request", q.name, q.inflight.opcode)
	}

	buf := q.buf.writerView(0)
	n := copy(buf, wire.AsBytes(&hdr))
	n += copy(buf[n:], req.inStruct)
	n += copy(buf[n:], req.payload)
	// Zero the payload padding and the host-writable region; the buffer is
	// reused across requests and stale response bytes must not leak.
	for ; n < totalLen; n++ {
		buf[n] = 0
	}

	if err := q.buf.sync(0, totalLen); err != nil {
		q.mu.Unlock()
		return 0, errx.Wrap(ErrIO, err)
	}

	var writable []byte
	if writableLen > 0 {
		writable = q.buf.slice(writableStart, writableLen)
	}
	if _, err := q.handle.AddChain(q.buf.slice(0, readableLen), writable); err != nil {
		q.mu.Unlock()
		return 0, errx.Wrap(ErrIO, err)
	}

	pend := &pendingRequest{
		opcode:        req.opcode,
		unique:        unique,
		nodeid:        req.nodeid,
		readableLen:   readableLen,
		writableStart: writableStart,
		totalLen:      totalLen,
		noReply:       req.noReply,
		sizeQuery:     req.sizeQuery,
		cb:            req.cb,
	}
	q.inflight = pend
	q.submitted++
	if unique != 0 {
		d.pendingMu.Lock()
		d.pending[unique] = pend
		d.pendingMu.Unlock()
	}

	if q.handle.ShouldNotify() {
		q.handle.Notify()
	}
	q.mu.Unlock()

	d.logger.Debug("request submitted",
		"session_id", d.SessionID,
		"queue", q.name,
		"opcode", req.opcode.String(),
		"unique", unique,
		"nodeid", req.nodeid,
		"readable_len", readableLen)
	if d.emitter != nil {
		_ = d.emitter.Emit(logging.EventOpcodeSubmit, req.opcode.String()+" submitted", q.name, nil, &logging.OpcodeSubmitData{
			Opcode:      uint32(req.opcode),
			Unique:      unique,
			Nodeid:      req.nodeid,
			ReadableLen: uint32(readableLen),
			WritableLen: uint32(writableLen),
		})
	}
	if d.trace != nil {
		frame := make([]byte, readableLen)
		copy(frame, q.buf.bytes()[:readableLen])
		d.trace.RecordSubmit(q.name, req.opcode, unique, frame)
	}
	return unique, nil
}

// nameBytes returns name with its terminating NUL, unpadded.
func nameBytes(name string) []byte {
	b := make([]byte, len(name)+1)
	copy(b, name)
	return b
}

// namePairBytes returns "a\0b\0", unpadded, for the two-name blobs carried
// by rename, rename2 and symlink.
func namePairBytes(a, b string) []byte {
	blob := make([]byte, len(a)+1+len(b)+1)
	copy(blob, a)
	copy(blob[len(a)+1:], b)
	return blob
}

// sendInit submits the INIT request declaring the driver's protocol version
// and feature flags. Called once from Attach; the completion dispatcher
// routes the response into the feature negotiator.
func (d *Device) sendInit() error {
	lo, hi := wire.SplitFlags(d.driverFlags)
	in := wire.FuseInitIn{
		Major:        wire.KernelVersion,
		Minor:        wire.KernelMinorVersion,
		MaxReadahead: d.maxReadahead,
		Flags:        lo,
		Flags2:       hi,
	}
	_, err := d.submit(d.reqQueue(), request{
		opcode:   wire.OpInit,
		inStruct: wire.AsBytes(&in),
		outSpace: initOutSize,
	})
	return err
}

// Lookup resolves name under the parent directory inode.
func (d *Device) Lookup(parent uint64, name string, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpLookup, nodeid: parent, payload: nameBytes(name), outSpace: entryOutSize, cb: cb})
}

// Forget tells the host nlookup references to nodeid were dropped. No
// response carries FUSE semantics; the descriptor chain is still returned
// through the used ring and consumed by the dispatcher.
func (d *Device) Forget(nodeid, nlookup uint64) (uint64, error) {
	in := wire.FuseForgetIn{Nlookup: nlookup}
	return d.submit(d.hiprio, request{opcode: wire.OpForget, nodeid: nodeid, inStruct: wire.AsBytes(&in), noReply: true})
}

// BatchForget drops references to many inodes in one request.
func (d *Device) BatchForget(items []wire.FuseForgetOne) (uint64, error) {
	in := wire.FuseBatchForgetIn{Count: uint32(len(items))}
	payload := make([]byte, 0, len(items)*wire.SizeOf[wire.FuseForgetOne]())
	for i := range items {
		payload = append(payload, wire.AsBytes(&items[i])...)
	}
	return d.submit(d.hiprio, request{opcode: wire.OpBatchForget, inStruct: wire.AsBytes(&in), payload: payload, noReply: true})
}

// Interrupt asks the host to abort the request identified by unique. The
// host may ignore it. With correlation enabled the unique must name a
// request that is still pending; interrupting an already-completed unique
// is rejected rather than sent.
func (d *Device) Interrupt(unique uint64) (uint64, error) {
	if d.correlate.Load() {
		d.pendingMu.Lock()
		_, known := d.pending[unique]
		d.pendingMu.Unlock()
		if !known {
			return 0, errx.With(ErrUnknownUnique, ": no pending request with unique %d", unique)
		}
	}
	in := wire.FuseInterruptIn{Unique: unique}
	return d.submit(d.hiprio, request{opcode: wire.OpInterrupt, inStruct: wire.AsBytes(&in), noReply: true})
}

// Getattr fetches nodeid's attributes. flags carries FUSE_GETATTR_* bits;
// fh is consulted only when the corresponding flag bit is set.
func (d *Device) Getattr(nodeid uint64, flags uint32, fh uint64, cb Callback) (uint64, error) {
	in := wire.FuseGetattrIn{GetattrFlags: flags, Fh: fh}
	return d.submit(d.reqQueue(), request{opcode: wire.OpGetattr, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: attrOutSize, cb: cb})
}

// Setattr updates the attributes selected by in.Valid.
func (d *Device) Setattr(nodeid uint64, in wire.FuseSetattrIn, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpSetattr, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: attrOutSize, cb: cb})
}

// Readlink reads the target of the symlink at nodeid.
func (d *Device) Readlink(nodeid uint64, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpReadlink, nodeid: nodeid, outSpace: readlinkBufSize, cb: cb})
}

// Symlink creates a symlink called name under parent pointing at target.
func (d *Device) Symlink(parent uint64, name, target string, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpSymlink, nodeid: parent, payload: namePairBytes(name, target), outSpace: entryOutSize, cb: cb})
}

// Mknod creates a filesystem node called name under parent.
func (d *Device) Mknod(parent uint64, mode, rdev, umask uint32, name string, cb Callback) (uint64, error) {
	in := wire.FuseMknodIn{Mode: mode, Rdev: rdev, Umask: umask}
	return d.submit(d.reqQueue(), request{opcode: wire.OpMknod, nodeid: parent, inStruct: wire.AsBytes(&in), payload: nameBytes(name), outSpace: entryOutSize, cb: cb})
}

// Mkdir creates a directory called name under parent.
func (d *Device) Mkdir(parent uint64, mode, umask uint32, name string, cb Callback) (uint64, error) {
	in := wire.FuseMkdirIn{Mode: mode, Umask: umask}
	return d.submit(d.reqQueue(), request{opcode: wire.OpMkdir, nodeid: parent, inStruct: wire.AsBytes(&in), payload: nameBytes(name), outSpace: entryOutSize, cb: cb})
}

// Unlink removes the file called name under parent.
func (d *Device) Unlink(parent uint64, name string, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpUnlink, nodeid: parent, payload: nameBytes(name), cb: cb})
}

// Rmdir removes the directory called name under parent.
func (d *Device) Rmdir(parent uint64, name string, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpRmdir, nodeid: parent, payload: nameBytes(name), cb: cb})
}

// Rename moves oldname under olddir to newname under newdir.
func (d *Device) Rename(olddir uint64, oldname string, newdir uint64, newname string, cb Callback) (uint64, error) {
	in := wire.FuseRenameIn{Newdir: newdir}
	return d.submit(d.reqQueue(), request{opcode: wire.OpRename, nodeid: olddir, inStruct: wire.AsBytes(&in), payload: namePairBytes(oldname, newname), cb: cb})
}

// Rename2 is Rename with renameat2 flags (RENAME_NOREPLACE, RENAME_EXCHANGE).
func (d *Device) Rename2(olddir uint64, oldname string, newdir uint64, newname string, flags uint32, cb Callback) (uint64, error) {
	in := wire.FuseRename2In{Newdir: newdir, Flags: flags}
	return d.submit(d.reqQueue(), request{opcode: wire.OpRename2, nodeid: olddir, inStruct: wire.AsBytes(&in), payload: namePairBytes(oldname, newname), cb: cb})
}

// Link creates a hard link to oldnodeid called newname under newparent.
func (d *Device) Link(oldnodeid, newparent uint64, newname string, cb Callback) (uint64, error) {
	in := wire.FuseLinkIn{Oldnodeid: oldnodeid}
	return d.submit(d.reqQueue(), request{opcode: wire.OpLink, nodeid: newparent, inStruct: wire.AsBytes(&in), payload: nameBytes(newname), outSpace: entryOutSize, cb: cb})
}

// Open opens the file at nodeid with the given open(2) flags.
func (d *Device) Open(nodeid uint64, flags uint32, cb Callback) (uint64, error) {
	in := wire.FuseOpenIn{Flags: flags}
	return d.submit(d.reqQueue(), request{opcode: wire.OpOpen, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: openOutSize, cb: cb})
}

// Opendir opens the directory at nodeid.
func (d *Device) Opendir(nodeid uint64, flags uint32, cb Callback) (uint64, error) {
	in := wire.FuseOpenIn{Flags: flags}
	return d.submit(d.reqQueue(), request{opcode: wire.OpOpendir, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: openOutSize, cb: cb})
}

// Read reads size bytes at offset from the open file fh.
func (d *Device) Read(nodeid, fh, offset uint64, size uint32, cb Callback) (uint64, error) {
	in := wire.FuseReadIn{Fh: fh, Offset: offset, Size: size}
	return d.submit(d.reqQueue(), request{opcode: wire.OpRead, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: int(size), cb: cb})
}

// Write writes data at offset through the open file fh. The data bytes ride
// in the readable half unpadded so the host consumes exactly len(data).
func (d *Device) Write(nodeid, fh, offset uint64, data []byte, cb Callback) (uint64, error) {
	in := wire.FuseWriteIn{Fh: fh, Offset: offset, Size: uint32(len(data))}
	return d.submit(d.reqQueue(), request{opcode: wire.OpWrite, nodeid: nodeid, inStruct: wire.AsBytes(&in), payload: data, outSpace: writeOutSize, cb: cb})
}

// WriteLockOwner is Write with a populated lock owner; the LOCKOWNER write
// flag is set so the host honors the field.
func (d *Device) WriteLockOwner(nodeid, fh, offset uint64, data []byte, lockOwner uint64, cb Callback) (uint64, error) {
	in := wire.FuseWriteIn{Fh: fh, Offset: offset, Size: uint32(len(data)), WriteFlags: wire.WriteLockowner, LockOwner: lockOwner}
	return d.submit(d.reqQueue(), request{opcode: wire.OpWrite, nodeid: nodeid, inStruct: wire.AsBytes(&in), payload: data, outSpace: writeOutSize, cb: cb})
}

// Statfs fetches filesystem statistics.
func (d *Device) Statfs(nodeid uint64, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpStatfs, nodeid: nodeid, outSpace: kstatfsSize, cb: cb})
}

// Release closes the open file fh.
func (d *Device) Release(nodeid, fh uint64, flags, releaseFlags uint32, lockOwner uint64, cb Callback) (uint64, error) {
	in := wire.FuseReleaseIn{Fh: fh, Flags: flags, ReleaseFlags: releaseFlags, LockOwner: lockOwner}
	return d.submit(d.reqQueue(), request{opcode: wire.OpRelease, nodeid: nodeid, inStruct: wire.AsBytes(&in), cb: cb})
}

// Releasedir closes the open directory fh.
func (d *Device) Releasedir(nodeid, fh uint64, flags uint32, cb Callback) (uint64, error) {
	in := wire.FuseReleaseIn{Fh: fh, Flags: flags}
	return d.submit(d.reqQueue(), request{opcode: wire.OpReleasedir, nodeid: nodeid, inStruct: wire.AsBytes(&in), cb: cb})
}

// Fsync flushes the open file fh to stable storage; datasync skips metadata.
func (d *Device) Fsync(nodeid, fh uint64, datasync bool, cb Callback) (uint64, error) {
	return d.fsyncCommon(wire.OpFsync, nodeid, fh, datasync, cb)
}

// Fsyncdir flushes the open directory fh.
func (d *Device) Fsyncdir(nodeid, fh uint64, datasync bool, cb Callback) (uint64, error) {
	return d.fsyncCommon(wire.OpFsyncdir, nodeid, fh, datasync, cb)
}

func (d *Device) fsyncCommon(op wire.Opcode, nodeid, fh uint64, datasync bool, cb Callback) (uint64, error) {
	in := wire.FuseFsyncIn{Fh: fh}
	if datasync {
		in.FsyncFlags = wire.FsyncFdatasync
	}
	return d.submit(d.reqQueue(), request{opcode: op, nodeid: nodeid, inStruct: wire.AsBytes(&in), cb: cb})
}

// Flush is sent on close(2) of the open file fh.
func (d *Device) Flush(nodeid, fh, lockOwner uint64, cb Callback) (uint64, error) {
	in := wire.FuseFlushIn{Fh: fh, LockOwner: lockOwner}
	return d.submit(d.reqQueue(), request{opcode: wire.OpFlush, nodeid: nodeid, inStruct: wire.AsBytes(&in), cb: cb})
}

// Setxattr sets the extended attribute name on nodeid. The 16-byte extended
// in-record is used when the SETXATTR_EXT feature was negotiated, the 8-byte
// compat form otherwise; the header length and readable half match the
// chosen form.
func (d *Device) Setxattr(nodeid uint64, name string, value []byte, flags, setxattrFlags uint32, cb Callback) (uint64, error) {
	payload := append(nameBytes(name), value...)
	var inStruct []byte
	if d.negotiated.Load()&wire.FlagSetxattrExt != 0 {
		in := wire.FuseSetxattrIn{Size: uint32(len(value)), Flags: flags, SetxattrFlags: setxattrFlags}
		inStruct = wire.AsBytes(&in)
	} else {
		in := wire.FuseSetxattrInCompat{Size: uint32(len(value)), Flags: flags}
		inStruct = wire.AsBytes(&in)
	}
	return d.submit(d.reqQueue(), request{opcode: wire.OpSetxattr, nodeid: nodeid, inStruct: inStruct, payload: payload, cb: cb})
}

// Getxattr reads the extended attribute name from nodeid. size 0 queries
// the needed buffer size; the completion then carries a FuseGetxattrOut
// instead of the raw value.
func (d *Device) Getxattr(nodeid uint64, name string, size uint32, cb Callback) (uint64, error) {
	in := wire.FuseGetxattrIn{Size: size}
	outSpace := int(size)
	if size == 0 {
		outSpace = getxattrOutSize
	}
	return d.submit(d.reqQueue(), request{opcode: wire.OpGetxattr, nodeid: nodeid, inStruct: wire.AsBytes(&in), payload: nameBytes(name), outSpace: outSpace, sizeQuery: size == 0, cb: cb})
}

// Listxattr lists nodeid's extended attribute names. The size-0 query form
// mirrors Getxattr.
func (d *Device) Listxattr(nodeid uint64, size uint32, cb Callback) (uint64, error) {
	in := wire.FuseGetxattrIn{Size: size}
	outSpace := int(size)
	if size == 0 {
		outSpace = getxattrOutSize
	}
	return d.submit(d.reqQueue(), request{opcode: wire.OpListxattr, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: outSpace, sizeQuery: size == 0, cb: cb})
}

// Removexattr removes the extended attribute name from nodeid.
func (d *Device) Removexattr(nodeid uint64, name string, cb Callback) (uint64, error) {
	return d.submit(d.reqQueue(), request{opcode: wire.OpRemovexattr, nodeid: nodeid, payload: nameBytes(name), cb: cb})
}

// Access checks access(2) permission mask against nodeid.
func (d *Device) Access(nodeid uint64, mask uint32, cb Callback) (uint64, error) {
	in := wire.FuseAccessIn{Mask: mask}
	return d.submit(d.reqQueue(), request{opcode: wire.OpAccess, nodeid: nodeid, inStruct: wire.AsBytes(&in), cb: cb})
}

// Create atomically creates and opens name under parent. The completion
// carries both the new entry and the open file handle.
func (d *Device) Create(parent uint64, name string, flags, mode, umask uint32, cb Callback) (uint64, error) {
	in := wire.FuseCreateIn{Flags: flags, Mode: mode, Umask: umask}
	return d.submit(d.reqQueue(), request{opcode: wire.OpCreate, nodeid: parent, inStruct: wire.AsBytes(&in), payload: nameBytes(name), outSpace: entryOutSize + openOutSize, cb: cb})
}

// Readdir reads up to size bytes of directory entries from the open
// directory fh starting at the entry offset.
func (d *Device) Readdir(nodeid, fh, offset uint64, size uint32, cb Callback) (uint64, error) {
	in := wire.FuseReadIn{Fh: fh, Offset: offset, Size: size}
	return d.submit(d.reqQueue(), request{opcode: wire.OpReaddir, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: int(size), cb: cb})
}

// Readdirplus is Readdir with a FuseEntryOut prefixed to every entry.
func (d *Device) Readdirplus(nodeid, fh, offset uint64, size uint32, cb Callback) (uint64, error) {
	in := wire.FuseReadIn{Fh: fh, Offset: offset, Size: size}
	return d.submit(d.reqQueue(), request{opcode: wire.OpReaddirplus, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: int(size), cb: cb})
}

// Fallocate manipulates the allocated space of the open file fh.
func (d *Device) Fallocate(nodeid, fh, offset, length uint64, mode uint32, cb Callback) (uint64, error) {
	in := wire.FuseFallocateIn{Fh: fh, Offset: offset, Length: length, Mode: mode}
	return d.submit(d.reqQueue(), request{opcode: wire.OpFallocate, nodeid: nodeid, inStruct: wire.AsBytes(&in), cb: cb})
}

// Lseek repositions the open file fh per whence (SEEK_DATA/SEEK_HOLE).
func (d *Device) Lseek(nodeid, fh, offset uint64, whence uint32, cb Callback) (uint64, error) {
	in := wire.FuseLseekIn{Fh: fh, Offset: offset, Whence: whence}
	return d.submit(d.reqQueue(), request{opcode: wire.OpLseek, nodeid: nodeid, inStruct: wire.AsBytes(&in), outSpace: lseekOutSize, cb: cb})
}

// CopyFileRange copies length bytes between two open files without
// bouncing the data through the guest.
func (d *Device) CopyFileRange(nodeidIn, fhIn, offIn, nodeidOut, fhOut, offOut, length, flags uint64, cb Callback) (uint64, error) {
	in := wire.FuseCopyfilerangeIn{FhIn: fhIn, OffIn: offIn, NodeidOut: nodeidOut, FhOut: fhOut, OffOut: offOut, Len: length, Flags: flags}
	return d.submit(d.reqQueue(), request{opcode: wire.OpCopyFileRange, nodeid: nodeidIn, inStruct: wire.AsBytes(&in), outSpace: writeOutSize, cb: cb})
}
