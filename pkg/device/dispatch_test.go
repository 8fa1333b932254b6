package device

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/virtiofs-guest/internal/fakehost"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

func TestReaddirParsesEntryStream(t *testing.T) {
	// Two entries: (ino=2, off=1, type=4, "a") and (ino=3, off=2, type=8,
	// "bb"); the stream is 24+1+7 + 24+2+6 = 64 bytes after the out header.
	host := fakehost.New()
	host.AddDir(host.Root(), "a")
	host.AddFile(host.Root(), "bb", nil)
	dev, tr := attachTestDevice(t, host, 0)

	open := call(t, tr, func(cb Callback) (uint64, error) { return dev.Opendir(1, 0, cb) })
	require.NoError(t, open.Err)

	res := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Readdir(1, open.Open.Fh, 0, 4096, cb)
	})
	require.NoError(t, res.Err)
	require.Len(t, res.Dirents, 2)

	require.Equal(t, uint64(2), res.Dirents[0].Ino)
	require.Equal(t, uint64(1), res.Dirents[0].Off)
	require.Equal(t, uint32(4), res.Dirents[0].Type)
	require.Equal(t, "a", res.Dirents[0].Name)

	require.Equal(t, uint64(3), res.Dirents[1].Ino)
	require.Equal(t, uint64(2), res.Dirents[1].Off)
	require.Equal(t, uint32(8), res.Dirents[1].Type)
	require.Equal(t, "bb", res.Dirents[1].Name)
}

func TestReaddirplusParsesEntryPairs(t *testing.T) {
	host := fakehost.New()
	host.AddFile(host.Root(), "file.txt", []byte("xyz"))
	dev, tr := attachTestDevice(t, host, 0)

	open := call(t, tr, func(cb Callback) (uint64, error) { return dev.Opendir(1, 0, cb) })
	require.NoError(t, open.Err)

	res := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Readdirplus(1, open.Open.Fh, 0, 4096, cb)
	})
	require.NoError(t, res.Err)
	require.Len(t, res.EntryDirents, 1)
	require.Equal(t, "file.txt", res.EntryDirents[0].Name)
	require.Equal(t, uint64(2), res.EntryDirents[0].Entry.Nodeid)
	require.Equal(t, uint64(3), res.EntryDirents[0].Entry.Attr.Size)
}

func TestLookupMissingNameSurfacesHostError(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	res := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Lookup(1, "nonexistent", cb)
	})

	var hostErr HostError
	require.ErrorAs(t, res.Err, &hostErr)
	require.Equal(t, int32(-2), hostErr.Errno())
	// No entry record is read on failure.
	require.Zero(t, res.Entry.Nodeid)
}

func TestWriteReadRoundTrip(t *testing.T) {
	host := fakehost.New()
	file := host.AddFile(host.Root(), "data.bin", nil)
	dev, tr := attachTestDevice(t, host, 0)

	open := call(t, tr, func(cb Callback) (uint64, error) { return dev.Open(file.Nodeid, 0, cb) })
	require.NoError(t, open.Err)

	payload := []byte("persisted through the ring")
	wr := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Write(file.Nodeid, open.Open.Fh, 0, payload, cb)
	})
	require.NoError(t, wr.Err)
	require.Equal(t, uint32(len(payload)), wr.Write.Size)

	rd := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Read(file.Nodeid, open.Open.Fh, 0, 4096, cb)
	})
	require.NoError(t, rd.Err)
	require.Equal(t, payload, rd.Data)
}

func TestCreateReturnsEntryAndHandle(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	res := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Create(1, "new.txt", 0, 0o644, 0, cb)
	})
	require.NoError(t, res.Err)
	require.NotZero(t, res.Entry.Nodeid)
	require.NotZero(t, res.Open.Fh)
}

func TestLookupThenGetattr(t *testing.T) {
	host := fakehost.New()
	host.AddFile(host.Root(), "hello.txt", []byte("hello"))
	dev, tr := attachTestDevice(t, host, 0)

	lk := call(t, tr, func(cb Callback) (uint64, error) { return dev.Lookup(1, "hello.txt", cb) })
	require.NoError(t, lk.Err)
	require.Equal(t, uint64(5), lk.Entry.Attr.Size)

	at := call(t, tr, func(cb Callback) (uint64, error) { return dev.Getattr(lk.Entry.Nodeid, 0, 0, cb) })
	require.NoError(t, at.Err)
	require.Equal(t, uint64(5), at.Attr.Attr.Size)
}

func TestStatfsParsesKstatfs(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	res := call(t, tr, func(cb Callback) (uint64, error) { return dev.Statfs(1, cb) })
	require.NoError(t, res.Err)
	require.Equal(t, uint32(4096), res.Kstatfs.Bsize)
	require.Equal(t, uint32(255), res.Kstatfs.Namelen)
}

func TestReadlinkReturnsTargetBytes(t *testing.T) {
	host := fakehost.New()
	link := host.AddSymlink(host.Root(), "ln", "/some/target")
	dev, tr := attachTestDevice(t, host, 0)

	res := call(t, tr, func(cb Callback) (uint64, error) { return dev.Readlink(link.Nodeid, cb) })
	require.NoError(t, res.Err)
	require.Equal(t, "/some/target", string(res.Data))
}

func TestGetxattrSizeQueryReturnsNeededSize(t *testing.T) {
	host := fakehost.New()
	dev, tr := attachTestDevice(t, host, 0)

	set := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Setxattr(1, "user.color", []byte("blue"), 0, 0, cb)
	})
	require.NoError(t, set.Err)

	probe := call(t, tr, func(cb Callback) (uint64, error) { return dev.Getxattr(1, "user.color", 0, cb) })
	require.NoError(t, probe.Err)
	require.Equal(t, uint32(4), probe.Getxattr.Size)
	require.Nil(t, probe.Data)

	fetch := call(t, tr, func(cb Callback) (uint64, error) { return dev.Getxattr(1, "user.color", 64, cb) })
	require.NoError(t, fetch.Err)
	require.Equal(t, "blue", string(fetch.Data))
}

func TestListxattrRoundTrip(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	set := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Setxattr(1, "user.k", []byte("v"), 0, 0, cb)
	})
	require.NoError(t, set.Err)

	probe := call(t, tr, func(cb Callback) (uint64, error) { return dev.Listxattr(1, 0, cb) })
	require.NoError(t, probe.Err)
	require.Equal(t, uint32(len("user.k")+1), probe.Getxattr.Size)

	list := call(t, tr, func(cb Callback) (uint64, error) { return dev.Listxattr(1, 256, cb) })
	require.NoError(t, list.Err)
	require.Equal(t, "user.k\x00", string(list.Data))
}

func TestSetxattrCompatRoundTrip(t *testing.T) {
	host := fakehost.New()
	host.Flags &^= wire.FlagSetxattrExt
	dev, tr := attachTestDevice(t, host, 0)

	set := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Setxattr(1, "user.k", []byte("compat"), 0, 0, cb)
	})
	require.NoError(t, set.Err)

	fetch := call(t, tr, func(cb Callback) (uint64, error) { return dev.Getxattr(1, "user.k", 64, cb) })
	require.NoError(t, fetch.Err)
	require.Equal(t, "compat", string(fetch.Data))
}

func TestLseekParsesOffset(t *testing.T) {
	host := fakehost.New()
	file := host.AddFile(host.Root(), "f", []byte("0123456789"))
	dev, tr := attachTestDevice(t, host, 0)

	res := call(t, tr, func(cb Callback) (uint64, error) { return dev.Lseek(file.Nodeid, 1, 4, 3, cb) })
	require.NoError(t, res.Err)
	require.Equal(t, uint64(4), res.Lseek.Offset)
}

func TestCopyFileRangeParsesWriteOut(t *testing.T) {
	host := fakehost.New()
	src := host.AddFile(host.Root(), "src", []byte("abcdefgh"))
	dst := host.AddFile(host.Root(), "dst", nil)
	dev, tr := attachTestDevice(t, host, 0)

	res := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.CopyFileRange(src.Nodeid, 1, 0, dst.Nodeid, 2, 0, 8, 0, cb)
	})
	require.NoError(t, res.Err)
	require.Equal(t, uint32(8), res.Write.Size)
	require.Equal(t, []byte("abcdefgh"), dst.Data)
}

func TestRenameMovesNode(t *testing.T) {
	host := fakehost.New()
	host.AddFile(host.Root(), "before", []byte("x"))
	dev, tr := attachTestDevice(t, host, 0)

	mv := call(t, tr, func(cb Callback) (uint64, error) {
		return dev.Rename(1, "before", 1, "after", cb)
	})
	require.NoError(t, mv.Err)

	miss := call(t, tr, func(cb Callback) (uint64, error) { return dev.Lookup(1, "before", cb) })
	require.Error(t, miss.Err)

	hit := call(t, tr, func(cb Callback) (uint64, error) { return dev.Lookup(1, "after", cb) })
	require.NoError(t, hit.Err)
}

func TestUnsupportedOpcodeSurfacesENOSYS(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	res := call(t, tr, func(cb Callback) (uint64, error) { return dev.Fsync(1, 9, false, cb) })
	// The fake host implements fsync as a no-op success; force the ENOSYS
	// path through an opcode it rejects instead.
	require.NoError(t, res.Err)

	res = call(t, tr, func(cb Callback) (uint64, error) {
		in := wire.FuseAccessIn{Mask: 0}
		return dev.submit(dev.reqQueue(), request{opcode: wire.OpPoll, nodeid: 1, inStruct: wire.AsBytes(&in), cb: cb})
	})
	var hostErr HostError
	require.ErrorAs(t, res.Err, &hostErr)
	require.Equal(t, int32(-38), hostErr.Errno())
}

func TestUniqueMismatchIsProtocolViolation(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	tr.SetHostHandler(1, func(readable, writable []byte) uint32 {
		out := wire.FuseOutHeader{Len: 16, Unique: 0xdeadbeef}
		return uint32(copy(writable, wire.AsBytes(&out)))
	})

	res := call(t, tr, func(cb Callback) (uint64, error) { return dev.Access(1, 0, cb) })
	require.ErrorIs(t, res.Err, ErrUnknownUnique)
}

func TestTruncatedResponseIsProtocolViolation(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	tr.SetHostHandler(1, func(readable, writable []byte) uint32 {
		// Fewer bytes than an out header.
		return 8
	})

	res := call(t, tr, func(cb Callback) (uint64, error) { return dev.Access(1, 0, cb) })
	require.ErrorIs(t, res.Err, ErrProtocol)
}

func TestOutHeaderLenBeyondWrittenIsProtocolViolation(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	tr.SetHostHandler(1, func(readable, writable []byte) uint32 {
		inHdr := *wire.FromBytes[wire.FuseInHeader](readable)
		out := wire.FuseOutHeader{Len: 4096, Unique: inHdr.Unique}
		return uint32(copy(writable, wire.AsBytes(&out)))
	})

	res := call(t, tr, func(cb Callback) (uint64, error) { return dev.Access(1, 0, cb) })
	require.ErrorIs(t, res.Err, ErrProtocol)
}

func TestForgetCompletesWithoutReply(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	_, err := dev.Forget(7, 3)
	require.NoError(t, err)
	tr.DeliverQueue(0)

	// The hiprio buffer is free again for the next fire-and-forget.
	_, err = dev.BatchForget([]wire.FuseForgetOne{{Nodeid: 8, Nlookup: 1}})
	require.NoError(t, err)
	tr.DeliverQueue(0)

	stats := dev.QueueStats()
	require.Equal(t, uint64(2), stats[0].Completed)
}

func TestInterruptUnknownUniqueRejected(t *testing.T) {
	dev, _ := attachTestDevice(t, fakehost.New(), 0)

	_, err := dev.Interrupt(0xfeed)
	require.ErrorIs(t, err, ErrUnknownUnique)
}

func TestInterruptTargetsHiprioQueue(t *testing.T) {
	dev, tr := attachTestDevice(t, fakehost.New(), 0)

	unique, err := dev.Statfs(1, nil)
	require.NoError(t, err)

	_, err = dev.Interrupt(unique)
	require.NoError(t, err)
	tr.DeliverQueue(0)
	tr.DeliverQueue(1)

	stats := dev.QueueStats()
	require.Equal(t, uint64(1), stats[0].Submitted, "interrupt must ride the high-priority ring")
}
