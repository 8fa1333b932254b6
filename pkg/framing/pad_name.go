package framing

// PadName returns name's bytes, an optional trailing NUL, and zero-padding
// extending the result to the next multiple of 8. appendNUL is false only
// for data payloads (the caller supplies an explicit byte count) but still
// requires 8-byte alignment.
func PadName(name string, appendNUL bool) []byte {
	n := len(name)
	if appendNUL {
		n++
	}
	padded := alignUp8(n)

	out := make([]byte, padded)
	copy(out, name)
	// out[len(name):] is already zero from make(); the NUL byte (if any)
	// and all padding bytes are the same zero value.
	return out
}

func alignUp8(n int) int {
	return (n + 7) &^ 7
}
