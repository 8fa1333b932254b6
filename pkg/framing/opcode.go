package framing

import (
	"github.com/jingkaihe/virtiofs-guest/internal/errx"
	"github.com/jingkaihe/virtiofs-guest/pkg/wire"
)

// OpcodeFromU32 maps a raw wire opcode value to its enumerator, or
// ErrUnknownOpcode if v is not one of the defined opcodes.
func OpcodeFromU32(v uint32) (wire.Opcode, error) {
	op := wire.Opcode(v)
	if !op.Defined() {
		return 0, errx.With(ErrUnknownOpcode, ": %d", v)
	}
	return op, nil
}
