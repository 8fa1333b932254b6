package framing

import (
	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// Dirent is one decoded entry from a Readdir response stream.
type Dirent struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
	Name    string
}

// EntryDirent is one decoded entry from a Readdirplus response stream: the
// FuseEntryOut prefix describing the child inode plus the dirent itself.
type EntryDirent struct {
	Entry wire.FuseEntryOut
	Dirent
}

var direntHeaderSize = wire.SizeOf[wire.FuseDirent]()
var entryOutSize = wire.SizeOf[wire.FuseEntryOut]()

// takeDirent consumes one {dirent header, name, padding} record from the
// front of buf, returning the decoded entry and the remaining bytes.
func takeDirent(buf []byte) (Dirent, []byte, error) {
	if len(buf) < direntHeaderSize {
		return Dirent{}, nil, errx.With(ErrTruncatedDirent, ": have %d bytes, need %d", len(buf), direntHeaderSize)
	}
	hdr := *wire.FromBytes[wire.FuseDirent](buf)
	buf = buf[direntHeaderSize:]

	namelen := int(hdr.Namelen)
	if len(buf) < namelen {
		return Dirent{}, nil, errx.With(ErrTruncatedDirent, ": have %d name bytes, need %d", len(buf), namelen)
	}
	name := string(buf[:namelen])
	buf = buf[namelen:]

	pad := (8 - namelen%8) % 8
	if len(buf) < pad {
		return Dirent{}, nil, errx.With(ErrTruncatedDirent, ": have %d padding bytes, need %d", len(buf), pad)
	}
	buf = buf[pad:]

	return Dirent{Ino: hdr.Ino, Off: hdr.Off, Namelen: hdr.Namelen, Type: hdr.Type, Name: name}, buf, nil
}

// ParseReaddirStream decodes consecutive
// {dirent fixed header, name bytes, zero-padding} records from buf until
// the buffer is exhausted.
func ParseReaddirStream(buf []byte) ([]Dirent, error) {
	var entries []Dirent
	for len(buf) > 0 {
		entry, rest, err := takeDirent(buf)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		buf = rest
	}
	return entries, nil
}

// SerializeReaddirStream is the inverse of ParseReaddirStream; it is used by
// tests and by the fake host double to build response buffers.
func SerializeReaddirStream(entries []Dirent) []byte {
	var out []byte
	for _, e := range entries {
		hdr := wire.FuseDirent{Ino: e.Ino, Off: e.Off, Namelen: uint32(len(e.Name)), Type: e.Type}
		out = append(out, wire.AsBytes(&hdr)...)
		out = append(out, PadName(e.Name, false)...)
	}
	return out
}

// ParseReaddirplusStream decodes consecutive
// {FuseEntryOut, dirent fixed header, name bytes, zero-padding} records.
func ParseReaddirplusStream(buf []byte) ([]EntryDirent, error) {
	var entries []EntryDirent
	for len(buf) > 0 {
		if len(buf) < entryOutSize {
			return nil, errx.With(ErrTruncatedEntry, ": have %d bytes, need %d", len(buf), entryOutSize)
		}
		entry := *wire.FromBytes[wire.FuseEntryOut](buf)
		buf = buf[entryOutSize:]

		dirent, rest, err := takeDirent(buf)
		if err != nil {
			return nil, err
		}
		entries = append(entries, EntryDirent{Entry: entry, Dirent: dirent})
		buf = rest
	}
	return entries, nil
}

// SerializeReaddirplusStream is the inverse of ParseReaddirplusStream.
func SerializeReaddirplusStream(entries []EntryDirent) []byte {
	var out []byte
	for _, e := range entries {
		entry := e.Entry
		out = append(out, wire.AsBytes(&entry)...)
		hdr := wire.FuseDirent{Ino: e.Ino, Off: e.Off, Namelen: uint32(len(e.Name)), Type: e.Type}
		out = append(out, wire.AsBytes(&hdr)...)
		out = append(out, PadName(e.Name, false)...)
	}
	return out
}
