package diag

import "errors"

var (
	// ErrEncode is the sticky recorder failure.
	ErrEncode = errors.New("diag: cbor encode failed")

	// ErrDecode is returned by ReadAll on a corrupt capture stream.
	ErrDecode = errors.New("diag: cbor decode failed")
)
