package framing

import "testing"

func TestPadName_MultipleOf8(t *testing.T) {
	for _, name := range []string{"", "a", "bb", "readme.txt", "this-is-a-very-long-file-name.txt"} {
		out := PadName(name, true)
		if len(out)%8 != 0 {
			t.Fatalf("PadName(%q, true) length %d is not a multiple of 8", name, len(out))
		}
		if len(out) < len(name)+1 {
			t.Fatalf("PadName(%q, true) length %d is shorter than len+1", name, len(out))
		}
	}
}

func TestPadName_SuffixIsZero(t *testing.T) {
	out := PadName("ab", true)
	for i := len("ab"); i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("PadName suffix byte %d = %d, want 0", i, out[i])
		}
	}
}

func TestPadName_NoNUL(t *testing.T) {
	out := PadName("data", false)
	if len(out)%8 != 0 {
		t.Fatalf("length %d not a multiple of 8", len(out))
	}
	if string(out[:4]) != "data" {
		t.Fatalf("prefix = %q, want %q", out[:4], "data")
	}
}
