package device

import (
	"github.com/jingkaihe/virtiofs-guest/pkg/framing"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// Result is handed to a request's Callback once its completion has been
// parsed. Only the fields relevant to the originating opcode are
// populated; see the per-opcode parsing table in dispatch.go. Err is
// non-nil for both host-reported failures (HostError) and driver-side
// parse/protocol failures (ErrProtocol).
type Result struct {
	Opcode wire.Opcode
	Unique uint64
	Err    error

	Entry        wire.FuseEntryOut
	Attr         wire.FuseAttrOut
	Open         wire.FuseOpenOut
	Write        wire.FuseWriteOut
	Kstatfs      wire.FuseKstatfs
	Getxattr     wire.FuseGetxattrOut
	Init         wire.FuseInitOut
	Lseek        wire.FuseLseekOut
	Data         []byte
	Dirents      []framing.Dirent
	EntryDirents []framing.EntryDirent
}

// Callback receives the completion for one submitted request. It is
// invoked from the completion dispatcher's context (interrupt context on
// real hardware); implementations must not block.
type Callback func(Result)
