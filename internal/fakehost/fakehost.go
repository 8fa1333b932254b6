// Package fakehost is an in-memory virtio-fs host daemon double. It speaks
// the FUSE wire protocol over the transport fake's HostHandler seam: parse
// the device-readable bytes, mutate a small in-memory tree, write the
// response into the device-writable slice. The device test suite and the
// attachsim bring-up tool both drive the full driver stack against it.
package fakehost

import (
	"sync"

	"github.com/jingkaihe/virtiofs-guest/pkg/framing"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// POSIX errnos the double reports, negated on the wire.
const (
	errNOENT  = 2
	errIO     = 5
	errNOSYS  = 38
	errNODATA = 61
	errRANGE  = 34
)

// File type bits in FuseAttr.Mode.
const (
	modeDir     = 0x4000
	modeRegular = 0x8000
	modeSymlink = 0xA000
)

// Node is one file, directory or symlink in the fake tree.
type Node struct {
	Nodeid   uint64
	Name     string
	Mode     uint32
	Data     []byte
	Target   string
	Xattrs   map[string][]byte
	Children []*Node
}

// Host is the daemon double. Safe for concurrent use; the transport fake
// invokes Handle from whatever goroutine submits.
type Host struct {
	mu sync.Mutex

	// Major, Minor and Flags shape the INIT response. Defaults mirror a
	// protocol 7.38 host offering the extended-init and extended-setxattr
	// features.
	Major, Minor uint32
	Flags        uint64
	MaxWrite     uint32

	nextNodeid uint64
	nextFh     uint64
	root       *Node
	byID       map[uint64]*Node
}

// New builds a Host with an empty root directory at nodeid 1.
func New() *Host {
	root := &Node{Nodeid: wire.RootNodeID, Mode: modeDir | 0o755, Xattrs: map[string][]byte{}}
	return &Host{
		Major:      wire.KernelVersion,
		Minor:      wire.KernelMinorVersion,
		Flags:      wire.FlagInitExt | wire.FlagSetxattrExt | wire.FlagBigWrites | wire.FlagDoReaddirplus,
		MaxWrite:   1 << 20,
		nextNodeid: wire.RootNodeID + 1,
		nextFh:     1,
		root:       root,
		byID:       map[uint64]*Node{wire.RootNodeID: root},
	}
}

// Root returns the root directory node.
func (h *Host) Root() *Node { return h.root }

// AddFile creates a regular file under parent.
func (h *Host) AddFile(parent *Node, name string, data []byte) *Node {
	return h.addNode(parent, name, modeRegular|0o644, data, "")
}

// AddDir creates a directory under parent.
func (h *Host) AddDir(parent *Node, name string) *Node {
	return h.addNode(parent, name, modeDir|0o755, nil, "")
}

// AddSymlink creates a symlink under parent.
func (h *Host) AddSymlink(parent *Node, name, target string) *Node {
	return h.addNode(parent, name, modeSymlink|0o777, nil, target)
}

func (h *Host) addNode(parent *Node, name string, mode uint32, data []byte, target string) *Node {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.addNodeLocked(parent, name, mode, data, target)
}

func (h *Host) addNodeLocked(parent *Node, name string, mode uint32, data []byte, target string) *Node {
	n := &Node{
		Nodeid: h.nextNodeid,
		Name:   name,
		Mode:   mode,
		Data:   data,
		Target: target,
		Xattrs: map[string][]byte{},
	}
	h.nextNodeid++
	h.byID[n.Nodeid] = n
	parent.Children = append(parent.Children, n)
	return n
}

func (h *Host) lookupLocked(parent *Node, name string) *Node {
	for _, c := range parent.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (h *Host) removeChildLocked(parent *Node, name string) *Node {
	for i, c := range parent.Children {
		if c.Name == name {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			delete(h.byID, c.Nodeid)
			return c
		}
	}
	return nil
}

func attrOf(n *Node) wire.FuseAttr {
	return wire.FuseAttr{
		Ino:     n.Nodeid,
		Size:    uint64(len(n.Data)),
		Mode:    n.Mode,
		Nlink:   1,
		Blksize: 4096,
	}
}

func entryOf(n *Node) wire.FuseEntryOut {
	return wire.FuseEntryOut{Nodeid: n.Nodeid, Attr: attrOf(n)}
}

// cutNUL splits b at its first NUL.
func cutNUL(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}

// respond writes an out header plus the concatenated records into writable
// and returns the total length. errno is positive here and negated on the
// wire.
func respond(writable []byte, unique uint64, errno int32, records ...[]byte) uint32 {
	total := wire.SizeOf[wire.FuseOutHeader]()
	for _, r := range records {
		total += len(r)
	}
	hdr := wire.FuseOutHeader{Len: uint32(total), Error: -errno, Unique: unique}
	n := copy(writable, wire.AsBytes(&hdr))
	for _, r := range records {
		n += copy(writable[n:], r)
	}
	return uint32(n)
}

// Handle implements transport.HostHandler.
func (h *Host) Handle(readable, writable []byte) uint32 {
	if len(readable) < wire.SizeOf[wire.FuseInHeader]() {
		return 0
	}
	hdr := *wire.FromBytes[wire.FuseInHeader](readable)
	body := readable[wire.SizeOf[wire.FuseInHeader]():]
	op := wire.Opcode(hdr.Opcode)

	h.mu.Lock()
	defer h.mu.Unlock()

	switch op {
	case wire.OpForget, wire.OpBatchForget, wire.OpInterrupt:
		// No reply; the chain is returned with nothing written.
		return 0
	case wire.OpInit:
		return h.handleInit(hdr, writable)
	}

	node := h.byID[hdr.Nodeid]
	if node == nil {
		return respond(writable, hdr.Unique, errNOENT)
	}

	switch op {
	case wire.OpLookup:
		name, _ := cutNUL(body)
		child := h.lookupLocked(node, name)
		if child == nil {
			return respond(writable, hdr.Unique, errNOENT)
		}
		entry := entryOf(child)
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&entry))

	case wire.OpGetattr:
		out := wire.FuseAttrOut{Attr: attrOf(node)}
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))

	case wire.OpSetattr:
		in := *wire.FromBytes[wire.FuseSetattrIn](body)
		if in.Valid&wire.FattrMode != 0 {
			node.Mode = node.Mode&^0o7777 | in.Mode&0o7777
		}
		if in.Valid&wire.FattrSize != 0 {
			data := make([]byte, in.Size)
			copy(data, node.Data)
			node.Data = data
		}
		out := wire.FuseAttrOut{Attr: attrOf(node)}
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))

	case wire.OpReadlink:
		return respond(writable, hdr.Unique, 0, []byte(node.Target))

	case wire.OpSymlink:
		name, rest := cutNUL(body)
		target, _ := cutNUL(rest)
		child := h.addNodeLocked(node, name, modeSymlink|0o777, nil, target)
		entry := entryOf(child)
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&entry))

	case wire.OpMknod:
		in := *wire.FromBytes[wire.FuseMknodIn](body)
		name, _ := cutNUL(body[wire.SizeOf[wire.FuseMknodIn]():])
		child := h.addNodeLocked(node, name, in.Mode, nil, "")
		entry := entryOf(child)
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&entry))

	case wire.OpMkdir:
		in := *wire.FromBytes[wire.FuseMkdirIn](body)
		name, _ := cutNUL(body[wire.SizeOf[wire.FuseMkdirIn]():])
		child := h.addNodeLocked(node, name, modeDir|in.Mode&0o7777, nil, "")
		entry := entryOf(child)
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&entry))

	case wire.OpUnlink, wire.OpRmdir:
		name, _ := cutNUL(body)
		if h.removeChildLocked(node, name) == nil {
			return respond(writable, hdr.Unique, errNOENT)
		}
		return respond(writable, hdr.Unique, 0)

	case wire.OpRename, wire.OpRename2:
		var newdir uint64
		var names []byte
		if op == wire.OpRename {
			in := *wire.FromBytes[wire.FuseRenameIn](body)
			newdir = in.Newdir
			names = body[wire.SizeOf[wire.FuseRenameIn]():]
		} else {
			in := *wire.FromBytes[wire.FuseRename2In](body)
			newdir = in.Newdir
			names = body[wire.SizeOf[wire.FuseRename2In]():]
		}
		oldname, rest := cutNUL(names)
		newname, _ := cutNUL(rest)
		dest := h.byID[newdir]
		if dest == nil {
			return respond(writable, hdr.Unique, errNOENT)
		}
		moved := h.removeChildLocked(node, oldname)
		if moved == nil {
			return respond(writable, hdr.Unique, errNOENT)
		}
		h.removeChildLocked(dest, newname)
		moved.Name = newname
		h.byID[moved.Nodeid] = moved
		dest.Children = append(dest.Children, moved)
		return respond(writable, hdr.Unique, 0)

	case wire.OpLink:
		in := *wire.FromBytes[wire.FuseLinkIn](body)
		name, _ := cutNUL(body[wire.SizeOf[wire.FuseLinkIn]():])
		target := h.byID[in.Oldnodeid]
		if target == nil {
			return respond(writable, hdr.Unique, errNOENT)
		}
		alias := *target
		alias.Name = name
		node.Children = append(node.Children, &alias)
		entry := entryOf(&alias)
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&entry))

	case wire.OpOpen, wire.OpOpendir:
		out := wire.FuseOpenOut{Fh: h.nextFh}
		h.nextFh++
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))

	case wire.OpRead:
		in := *wire.FromBytes[wire.FuseReadIn](body)
		data := node.Data
		if in.Offset >= uint64(len(data)) {
			return respond(writable, hdr.Unique, 0)
		}
		data = data[in.Offset:]
		if uint64(len(data)) > uint64(in.Size) {
			data = data[:in.Size]
		}
		return respond(writable, hdr.Unique, 0, data)

	case wire.OpWrite:
		in := *wire.FromBytes[wire.FuseWriteIn](body)
		data := body[wire.SizeOf[wire.FuseWriteIn]():]
		if uint32(len(data)) != in.Size {
			return respond(writable, hdr.Unique, errIO)
		}
		end := in.Offset + uint64(in.Size)
		if end > uint64(len(node.Data)) {
			grown := make([]byte, end)
			copy(grown, node.Data)
			node.Data = grown
		}
		copy(node.Data[in.Offset:], data)
		out := wire.FuseWriteOut{Size: in.Size}
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))

	case wire.OpStatfs:
		out := wire.FuseKstatfs{Blocks: 1 << 20, Bfree: 1 << 19, Bavail: 1 << 19, Files: 1 << 16, Ffree: 1 << 15, Bsize: 4096, Namelen: 255, Frsize: 4096}
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))

	case wire.OpRelease, wire.OpReleasedir, wire.OpFlush, wire.OpFsync, wire.OpFsyncdir, wire.OpAccess, wire.OpFallocate:
		return respond(writable, hdr.Unique, 0)

	case wire.OpSetxattr:
		var size uint32
		var rest []byte
		if h.Flags&wire.FlagSetxattrExt != 0 {
			in := *wire.FromBytes[wire.FuseSetxattrIn](body)
			size = in.Size
			rest = body[wire.SizeOf[wire.FuseSetxattrIn]():]
		} else {
			in := *wire.FromBytes[wire.FuseSetxattrInCompat](body)
			size = in.Size
			rest = body[wire.SizeOf[wire.FuseSetxattrInCompat]():]
		}
		name, value := cutNUL(rest)
		if uint32(len(value)) < size {
			return respond(writable, hdr.Unique, errIO)
		}
		node.Xattrs[name] = append([]byte(nil), value[:size]...)
		return respond(writable, hdr.Unique, 0)

	case wire.OpGetxattr:
		in := *wire.FromBytes[wire.FuseGetxattrIn](body)
		name, _ := cutNUL(body[wire.SizeOf[wire.FuseGetxattrIn]():])
		value, ok := node.Xattrs[name]
		if !ok {
			return respond(writable, hdr.Unique, errNODATA)
		}
		if in.Size == 0 {
			out := wire.FuseGetxattrOut{Size: uint32(len(value))}
			return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))
		}
		if uint32(len(value)) > in.Size {
			return respond(writable, hdr.Unique, errRANGE)
		}
		return respond(writable, hdr.Unique, 0, value)

	case wire.OpListxattr:
		in := *wire.FromBytes[wire.FuseGetxattrIn](body)
		var names []byte
		for name := range node.Xattrs {
			names = append(names, name...)
			names = append(names, 0)
		}
		if in.Size == 0 {
			out := wire.FuseGetxattrOut{Size: uint32(len(names))}
			return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))
		}
		if uint32(len(names)) > in.Size {
			return respond(writable, hdr.Unique, errRANGE)
		}
		return respond(writable, hdr.Unique, 0, names)

	case wire.OpRemovexattr:
		name, _ := cutNUL(body)
		if _, ok := node.Xattrs[name]; !ok {
			return respond(writable, hdr.Unique, errNODATA)
		}
		delete(node.Xattrs, name)
		return respond(writable, hdr.Unique, 0)

	case wire.OpCreate:
		in := *wire.FromBytes[wire.FuseCreateIn](body)
		name, _ := cutNUL(body[wire.SizeOf[wire.FuseCreateIn]():])
		child := h.addNodeLocked(node, name, modeRegular|in.Mode&0o7777, nil, "")
		entry := entryOf(child)
		open := wire.FuseOpenOut{Fh: h.nextFh}
		h.nextFh++
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&entry), wire.AsBytes(&open))

	case wire.OpReaddir:
		in := *wire.FromBytes[wire.FuseReadIn](body)
		stream := framing.SerializeReaddirStream(h.direntsLocked(node, in.Offset))
		if uint64(len(stream)) > uint64(in.Size) {
			stream = nil
		}
		return respond(writable, hdr.Unique, 0, stream)

	case wire.OpReaddirplus:
		in := *wire.FromBytes[wire.FuseReadIn](body)
		var entries []framing.EntryDirent
		for _, d := range h.direntsLocked(node, in.Offset) {
			entries = append(entries, framing.EntryDirent{Entry: entryOf(h.byID[d.Ino]), Dirent: d})
		}
		stream := framing.SerializeReaddirplusStream(entries)
		if uint64(len(stream)) > uint64(in.Size) {
			stream = nil
		}
		return respond(writable, hdr.Unique, 0, stream)

	case wire.OpLseek:
		in := *wire.FromBytes[wire.FuseLseekIn](body)
		out := wire.FuseLseekOut{Offset: in.Offset}
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))

	case wire.OpCopyFileRange:
		in := *wire.FromBytes[wire.FuseCopyfilerangeIn](body)
		src := node
		dst := h.byID[in.NodeidOut]
		if dst == nil {
			return respond(writable, hdr.Unique, errNOENT)
		}
		data := src.Data
		if in.OffIn < uint64(len(data)) {
			data = data[in.OffIn:]
		} else {
			data = nil
		}
		if uint64(len(data)) > in.Len {
			data = data[:in.Len]
		}
		end := in.OffOut + uint64(len(data))
		if end > uint64(len(dst.Data)) {
			grown := make([]byte, end)
			copy(grown, dst.Data)
			dst.Data = grown
		}
		copy(dst.Data[in.OffOut:], data)
		out := wire.FuseWriteOut{Size: uint32(len(data))}
		return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))

	default:
		return respond(writable, hdr.Unique, errNOSYS)
	}
}

func (h *Host) handleInit(hdr wire.FuseInHeader, writable []byte) uint32 {
	lo, hi := wire.SplitFlags(h.Flags)
	out := wire.FuseInitOut{
		Major:    h.Major,
		Minor:    h.Minor,
		Flags:    lo,
		Flags2:   hi,
		MaxWrite: h.MaxWrite,
		TimeGran: 1,
	}
	return respond(writable, hdr.Unique, 0, wire.AsBytes(&out))
}

// direntsLocked lists node's children from the given entry offset, with
// each entry's Off set to its successor cursor.
func (h *Host) direntsLocked(node *Node, offset uint64) []framing.Dirent {
	var out []framing.Dirent
	for i := int(offset); i < len(node.Children); i++ {
		c := node.Children[i]
		out = append(out, framing.Dirent{
			Ino:     c.Nodeid,
			Off:     uint64(i + 1),
			Namelen: uint32(len(c.Name)),
			Type:    c.Mode >> 12,
			Name:    c.Name,
		})
	}
	return out
}
