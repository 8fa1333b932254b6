package device

import (
	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/framing"
	"github.com/jingkaihe/virtiofs-guest/pkg/logging"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// onQueueInterrupt is registered with the transport once per ring during
// attach. It runs in whatever context the transport delivers interrupts in.
func (d *Device) onQueueInterrupt(queueIndex int) {
	q := d.queueByIndex(queueIndex)
	if q == nil {
		d.logger.Warn("interrupt for unknown queue", "session_id", d.SessionID, "queue_index", queueIndex)
		return
	}
	d.complete(q)
}

// complete drains one used-ring entry from q, parses the response and
// invokes the originating request's callback. The queue lock is held across
// pop, sync and parse — the same bytes are shared with the host until the
// sync-for-read completes — and released before the callback so the
// continuation may resubmit on the same queue.
func (d *Device) complete(q *queueState) {
	q.mu.Lock()
	_, bytesWritten, ok := q.handle.PopUsed()
	if !ok {
		// Spurious interrupt.
		q.mu.Unlock()
		return
	}
	pend := q.inflight
	q.inflight = nil
	if pend == nil {
		q.mu.Unlock()
		d.logger.Warn("used-ring entry with no outstanding request", "session_id", d.SessionID, "queue", q.name)
		return
	}
	q.completed++

	res := Result{Opcode: pend.opcode, Unique: pend.unique}
	if err := q.buf.sync(0, pend.totalLen); err != nil {
		res.Err = errx.Wrap(ErrIO, err)
	} else {
		res = d.parseCompletion(q, pend, bytesWritten)
	}

	var frame []byte
	if d.trace != nil && !pend.noReply {
		end := pend.writableStart + int(bytesWritten)
		if end > pend.totalLen {
			end = pend.totalLen
		}
		frame = make([]byte, end-pend.writableStart)
		copy(frame, q.buf.bytes()[pend.writableStart:end])
	}
	q.mu.Unlock()

	if pend.unique != 0 {
		d.pendingMu.Lock()
		delete(d.pending, pend.unique)
		d.pendingMu.Unlock()
	}

	var errno int32
	if hostErr, ok := res.Err.(HostError); ok {
		errno = hostErr.Errno()
	}
	d.logger.Debug("request completed",
		"session_id", d.SessionID,
		"queue", q.name,
		"opcode", pend.opcode.String(),
		"unique", pend.unique,
		"bytes_written", bytesWritten,
		"error", res.Err)
	if d.emitter != nil {
		_ = d.emitter.Emit(logging.EventOpcodeComplete, pend.opcode.String()+" completed", q.name, nil, &logging.OpcodeCompleteData{
			Opcode:     uint32(pend.opcode),
			Unique:     pend.unique,
			Error:      errno,
			OutPayload: int(bytesWritten),
		})
	}
	if d.trace != nil {
		d.trace.RecordComplete(q.name, pend.opcode, pend.unique, errno, frame)
	}

	if pend.cb != nil {
		pend.cb(res)
	}
}

// parseCompletion decodes the host's response for pend out of q's buffer.
// Called with q.mu held, after the sync-for-read.
func (d *Device) parseCompletion(q *queueState, pend *pendingRequest, bytesWritten uint32) Result {
	res := Result{Opcode: pend.opcode, Unique: pend.unique}
	if pend.noReply {
		// Forget, batch-forget and interrupt: the chain coming back through
		// the used ring is the whole completion.
		return res
	}

	buf := q.buf.bytes()

	// The in-header at offset 0 still holds our request; re-derive the
	// response offset from it the way the wire geometry defines it: the
	// input payload sits padded to an 8-byte boundary between the fixed
	// in-record and the region the host wrote.
	inHdr := *wire.FromBytes[wire.FuseInHeader](buf)
	op, err := framing.OpcodeFromU32(inHdr.Opcode)
	if err != nil {
		res.Err = errx.Wrap(ErrInvalidArgument, err)
		return res
	}
	payloadLen := int(inHdr.Len) - inHeaderSize - d.inStructLen(op)
	if payloadLen < 0 {
		res.Err = errx.With(ErrProtocol, ": request header len %d shorter than %s fixed records", inHdr.Len, op)
		return res
	}
	writableStart := inHeaderSize + d.inStructLen(op) + alignUp8(payloadLen)
	if writableStart != pend.writableStart || op != pend.opcode {
		res.Err = errx.With(ErrProtocol, ": request bytes modified while chain was outstanding (%s at %d, submitted %s at %d)",
			op, writableStart, pend.opcode, pend.writableStart)
		return res
	}

	if int(bytesWritten) < outHeaderSize {
		res.Err = errx.With(ErrProtocol, ": host wrote %d bytes, out header needs %d", bytesWritten, outHeaderSize)
		return res
	}
	if writableStart+int(bytesWritten) > pend.totalLen {
		res.Err = errx.With(ErrProtocol, ": host claims %d bytes written, writable region holds %d", bytesWritten, pend.totalLen-writableStart)
		return res
	}
	out := buf[writableStart : writableStart+int(bytesWritten)]
	outHdr := *wire.FromBytes[wire.FuseOutHeader](out)
	if int(outHdr.Len) < outHeaderSize || int(outHdr.Len) > len(out) {
		res.Err = errx.With(ErrProtocol, ": out header len %d outside [%d, %d]", outHdr.Len, outHeaderSize, len(out))
		return res
	}
	if d.correlate.Load() && outHdr.Unique != pend.unique {
		res.Err = errx.With(ErrUnknownUnique, ": response unique %d, expected %d", outHdr.Unique, pend.unique)
		return res
	}

	if outHdr.Error != 0 {
		// Failed requests carry no out-record.
		res.Err = HostError(outHdr.Error)
		return res
	}

	payload := out[outHeaderSize:outHdr.Len]
	res.Err = d.parseOutRecord(op, pend, payload, &res)
	return res
}

// parseOutRecord routes payload to the opcode-specific decoding. Opcodes
// absent from the switch are status-only: success is fully conveyed by the
// out header.
func (d *Device) parseOutRecord(op wire.Opcode, pend *pendingRequest, payload []byte, res *Result) error {
	short := func(need int) error {
		return errx.With(ErrProtocol, ": %s out payload %d bytes, need %d", op, len(payload), need)
	}
	switch op {
	case wire.OpInit:
		if len(payload) < initOutSize {
			return short(initOutSize)
		}
		res.Init = *wire.FromBytes[wire.FuseInitOut](payload)
		return d.handleInitOut(res.Init)

	case wire.OpLookup, wire.OpMkdir, wire.OpMknod, wire.OpLink, wire.OpSymlink:
		if len(payload) < entryOutSize {
			return short(entryOutSize)
		}
		res.Entry = *wire.FromBytes[wire.FuseEntryOut](payload)

	case wire.OpGetattr, wire.OpSetattr:
		if len(payload) < attrOutSize {
			return short(attrOutSize)
		}
		res.Attr = *wire.FromBytes[wire.FuseAttrOut](payload)

	case wire.OpOpen, wire.OpOpendir:
		if len(payload) < openOutSize {
			return short(openOutSize)
		}
		res.Open = *wire.FromBytes[wire.FuseOpenOut](payload)

	case wire.OpCreate:
		// Entry record then open record.
		if len(payload) < entryOutSize+openOutSize {
			return short(entryOutSize + openOutSize)
		}
		res.Entry = *wire.FromBytes[wire.FuseEntryOut](payload)
		res.Open = *wire.FromBytes[wire.FuseOpenOut](payload[entryOutSize:])

	case wire.OpStatfs:
		if len(payload) < kstatfsSize {
			return short(kstatfsSize)
		}
		res.Kstatfs = *wire.FromBytes[wire.FuseKstatfs](payload)

	case wire.OpWrite, wire.OpCopyFileRange:
		if len(payload) < writeOutSize {
			return short(writeOutSize)
		}
		res.Write = *wire.FromBytes[wire.FuseWriteOut](payload)

	case wire.OpLseek:
		if len(payload) < lseekOutSize {
			return short(lseekOutSize)
		}
		res.Lseek = *wire.FromBytes[wire.FuseLseekOut](payload)

	case wire.OpRead, wire.OpReadlink:
		res.Data = append([]byte(nil), payload...)

	case wire.OpReaddir:
		dirents, err := framing.ParseReaddirStream(payload)
		if err != nil {
			return errx.Wrap(ErrProtocol, err)
		}
		res.Dirents = dirents

	case wire.OpReaddirplus:
		entries, err := framing.ParseReaddirplusStream(payload)
		if err != nil {
			return errx.Wrap(ErrProtocol, err)
		}
		res.EntryDirents = entries

	case wire.OpGetxattr, wire.OpListxattr:
		if pend.sizeQuery {
			if len(payload) < getxattrOutSize {
				return short(getxattrOutSize)
			}
			res.Getxattr = *wire.FromBytes[wire.FuseGetxattrOut](payload)
		} else {
			res.Data = append([]byte(nil), payload...)
		}
	}
	return nil
}

// inStructLen returns the fixed in-record length serialized after the in
// header for op. Setxattr depends on the negotiated SETXATTR_EXT bit, which
// is stable by the time any setxattr can be outstanding.
func (d *Device) inStructLen(op wire.Opcode) int {
	switch op {
	case wire.OpForget:
		return wire.SizeOf[wire.FuseForgetIn]()
	case wire.OpGetattr:
		return wire.SizeOf[wire.FuseGetattrIn]()
	case wire.OpSetattr:
		return wire.SizeOf[wire.FuseSetattrIn]()
	case wire.OpMknod:
		return wire.SizeOf[wire.FuseMknodIn]()
	case wire.OpMkdir:
		return wire.SizeOf[wire.FuseMkdirIn]()
	case wire.OpRename:
		return wire.SizeOf[wire.FuseRenameIn]()
	case wire.OpRename2:
		return wire.SizeOf[wire.FuseRename2In]()
	case wire.OpLink:
		return wire.SizeOf[wire.FuseLinkIn]()
	case wire.OpOpen, wire.OpOpendir:
		return wire.SizeOf[wire.FuseOpenIn]()
	case wire.OpRead, wire.OpReaddir, wire.OpReaddirplus:
		return wire.SizeOf[wire.FuseReadIn]()
	case wire.OpWrite:
		return wire.SizeOf[wire.FuseWriteIn]()
	case wire.OpRelease, wire.OpReleasedir:
		return wire.SizeOf[wire.FuseReleaseIn]()
	case wire.OpFsync, wire.OpFsyncdir:
		return wire.SizeOf[wire.FuseFsyncIn]()
	case wire.OpSetxattr:
		if d.negotiated.Load()&wire.FlagSetxattrExt != 0 {
			return wire.SizeOf[wire.FuseSetxattrIn]()
		}
		return wire.SizeOf[wire.FuseSetxattrInCompat]()
	case wire.OpGetxattr, wire.OpListxattr:
		return wire.SizeOf[wire.FuseGetxattrIn]()
	case wire.OpFlush:
		return wire.SizeOf[wire.FuseFlushIn]()
	case wire.OpInit:
		return wire.SizeOf[wire.FuseInitIn]()
	case wire.OpAccess:
		return wire.SizeOf[wire.FuseAccessIn]()
	case wire.OpCreate:
		return wire.SizeOf[wire.FuseCreateIn]()
	case wire.OpInterrupt:
		return wire.SizeOf[wire.FuseInterruptIn]()
	case wire.OpBatchForget:
		return wire.SizeOf[wire.FuseBatchForgetIn]()
	case wire.OpFallocate:
		return wire.SizeOf[wire.FuseFallocateIn]()
	case wire.OpLseek:
		return wire.SizeOf[wire.FuseLseekIn]()
	case wire.OpCopyFileRange:
		return wire.SizeOf[wire.FuseCopyfilerangeIn]()
	default:
		return 0
	}
}
