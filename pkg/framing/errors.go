package framing

import "errors"

var (
	// ErrUnknownOpcode is returned by OpcodeFromU32 for a value outside the
	// enumerated opcode set.
	ErrUnknownOpcode = errors.New("framing: unknown opcode value")

	// ErrTruncatedDirent is returned by ParseReaddirStream when the buffer
	// ends mid-record.
	ErrTruncatedDirent = errors.New("framing: truncated dirent record")

	// ErrTruncatedEntry is returned by ParseReaddirplusStream when the
	// buffer ends before a full FuseEntryOut prefix.
	ErrTruncatedEntry = errors.New("framing: truncated readdirplus entry")
)
