package trie

import (
	"bytes"
	"testing"
)

func TestHexToCompact_ExtensionEvenLength(t *testing.T) {
	hex := []byte{0x1, 0x2, 0x3, 0x4}
	got := hexToCompact(hex)
	back := compactToHex(got)
	if !bytes.Equal(back, hex) {
		t.Errorf("round trip = %v, want %v", back, hex)
	}
}

func TestHexToCompact_ExtensionOddLength(t *testing.T) {
	hex := []byte{0x1, 0x2, 0x3}
	got := hexToCompact(hex)
	back := compactToHex(got)
	if !bytes.Equal(back, hex) {
		t.Errorf("round trip = %v, want %v", back, hex)
	}
}

func TestHexToCompact_LeafEvenLength(t *testing.T) {
	hex := []byte{0x1, 0x2, 0x3, 0x4, terminatorByte}
	got := hexToCompact(hex)
	back := compactToHex(got)
	if !bytes.Equal(back, hex) {
		t.Errorf("round trip = %v, want %v", back, hex)
	}
}

func TestHexToCompact_LeafOddLength(t *testing.T) {
	hex := []byte{0x1, 0x2, 0x3, terminatorByte}
	got := hexToCompact(hex)
	back := compactToHex(got)
	if !bytes.Equal(back, hex) {
		t.Errorf("round trip = %v, want %v", back, hex)
	}
}

func TestKeybytesToHexRoundTrip(t *testing.T) {
	key := []byte{0xde, 0xad, 0xbe, 0xef}
	hex := keybytesToHex(key)
	if !hasTerm(hex) {
		t.Fatal("keybytesToHex result should carry the terminator")
	}
	back := hexToKeybytes(hex)
	if !bytes.Equal(back, key) {
		t.Errorf("hexToKeybytes(keybytesToHex(k)) = %x, want %x", back, key)
	}
}

func TestPrefixLen(t *testing.T) {
	tests := []struct {
		a, b []byte
		want int
	}{
		{[]byte{1, 2, 3}, []byte{1, 2, 4}, 2},
		{[]byte{1, 2, 3}, []byte{1, 2, 3}, 3},
		{[]byte{}, []byte{1}, 0},
		{[]byte{1, 2}, []byte{1, 2, 3}, 2},
	}
	for _, tt := range tests {
		if got := prefixLen(tt.a, tt.b); got != tt.want {
			t.Errorf("prefixLen(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareBytesLess(t *testing.T) {
	tests := []struct {
		a, b []byte
		want bool
	}{
		{[]byte{1}, []byte{2}, true},
		{[]byte{2}, []byte{1}, false},
		{[]byte{1}, []byte{1, 0}, true},
		{[]byte{1, 0}, []byte{1}, false},
		{[]byte{1}, []byte{1}, false},
	}
	for _, tt := range tests {
		if got := compareBytesLess(tt.a, tt.b); got != tt.want {
			t.Errorf("compareBytesLess(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestHasTerm(t *testing.T) {
	if hasTerm(nil) {
		t.Error("hasTerm(nil) = true, want false")
	}
	if hasTerm([]byte{1, 2}) {
		t.Error("hasTerm without terminator = true, want false")
	}
	if !hasTerm([]byte{1, 2, terminatorByte}) {
		t.Error("hasTerm with terminator = false, want true")
	}
}
