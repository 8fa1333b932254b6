package wire

import "testing"

func TestOpcodeString_KnownAndUnknown(t *testing.T) {
	if got := OpLookup.String(); got != "LOOKUP" {
		t.Fatalf("OpLookup.String() = %q", got)
	}
	if got := Opcode(9001).String(); got != "Opcode(9001)" {
		t.Fatalf("unknown opcode String() = %q", got)
	}
}

func TestOpcodeDefined(t *testing.T) {
	for op := range opcodeNames {
		if !op.Defined() {
			t.Fatalf("%v should be Defined", op)
		}
	}
	if Opcode(9001).Defined() {
		t.Fatal("undefined opcode reported as Defined")
	}
}

func TestHeaderSizes(t *testing.T) {
	if got := SizeOf[FuseInHeader](); got != 40 {
		t.Fatalf("FuseInHeader size = %d, want 40", got)
	}
	if got := SizeOf[FuseOutHeader](); got != 16 {
		t.Fatalf("FuseOutHeader size = %d, want 16", got)
	}
}

func TestXattrStructSizes(t *testing.T) {
	if got := SizeOf[FuseSetxattrIn](); got != 16 {
		t.Fatalf("FuseSetxattrIn size = %d, want 16", got)
	}
	if got := SizeOf[FuseSetxattrInCompat](); got != 8 {
		t.Fatalf("FuseSetxattrInCompat size = %d, want 8", got)
	}
}

func TestDirentSize(t *testing.T) {
	if got := SizeOf[FuseDirent](); got != 24 {
		t.Fatalf("FuseDirent size = %d, want 24", got)
	}
}

func TestSplitJoinFlags_RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 0x2000000040000000, ^uint64(0)}
	for _, flags := range cases {
		lo, hi := SplitFlags(flags)
		if got := JoinFlags(lo, hi); got != flags {
			t.Fatalf("JoinFlags(SplitFlags(%#x)) = %#x", flags, got)
		}
	}
}

func TestAsBytesFromBytes_RoundTrip(t *testing.T) {
	in := FuseInHeader{Len: 40, Opcode: uint32(OpGetattr), Unique: 7, Nodeid: 1}
	b := AsBytes(&in)
	if len(b) != 40 {
		t.Fatalf("AsBytes length = %d, want 40", len(b))
	}
	out := FromBytes[FuseInHeader](b)
	if *out != in {
		t.Fatalf("FromBytes(AsBytes(in)) = %+v, want %+v", *out, in)
	}
}
