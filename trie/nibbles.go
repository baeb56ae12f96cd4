package trie

// Nibbles is a finite sequence of half-bytes (0..15) plus a boolean leaf
// marker. It is the path representation used by the sorted-input builder
// (§4.3) and exposed at the package boundary; the random-access engine
// (trie.go/node.go) works with a lower-level hex-nibble byte slice that
// carries the leaf marker as a trailing terminator nibble instead, matching
// the Ethereum Yellow Paper's compact encoding directly.
type Nibbles struct {
	nibbles []byte
	isLeaf  bool
}

// NibblesFromBytes expands each byte b[i] into two nibbles b[i]>>4, b[i]&0xF.
func NibblesFromBytes(b []byte) Nibbles {
	return NibblesFromRaw(b, false)
}

// NibblesFromRaw expands b into nibbles, carrying the given leaf marker.
func NibblesFromRaw(b []byte, isLeaf bool) Nibbles {
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = c >> 4
		out[i*2+1] = c & 0xF
	}
	return Nibbles{nibbles: out, isLeaf: isLeaf}
}

// nibblesFromHex wraps an already-expanded nibble slice (no copy).
func nibblesFromHex(hex []byte, isLeaf bool) Nibbles {
	return Nibbles{nibbles: hex, isLeaf: isLeaf}
}

// Len returns the number of nibbles in the sequence.
func (n Nibbles) Len() int { return len(n.nibbles) }

// IsEmpty reports whether the sequence has zero nibbles.
func (n Nibbles) IsEmpty() bool { return len(n.nibbles) == 0 }

// IsLeaf reports the leaf marker. It does not participate in ordering or
// equality of the underlying sequence.
func (n Nibbles) IsLeaf() bool { return n.isLeaf }

// Get returns the nibble at position i.
func (n Nibbles) Get(i int) byte { return n.nibbles[i] }

// Slice returns the sub-sequence [a,b), preserving the leaf marker.
func (n Nibbles) Slice(a, b int) Nibbles {
	out := make([]byte, b-a)
	copy(out, n.nibbles[a:b])
	return Nibbles{nibbles: out, isLeaf: n.isLeaf}
}

// AppendNew returns a new sequence with nibble v appended at the end.
func (n Nibbles) AppendNew(v byte) Nibbles {
	out := make([]byte, len(n.nibbles)+1)
	copy(out, n.nibbles)
	out[len(out)-1] = v
	return Nibbles{nibbles: out, isLeaf: n.isLeaf}
}

// Concat returns the concatenation of n followed by other. The leaf marker
// of the result is the leaf marker of other (the tail determines whether
// the joined path terminates).
func (n Nibbles) Concat(other Nibbles) Nibbles {
	out := make([]byte, len(n.nibbles)+len(other.nibbles))
	copy(out, n.nibbles)
	copy(out[len(n.nibbles):], other.nibbles)
	return Nibbles{nibbles: out, isLeaf: other.isLeaf}
}

// SkipPrefix drops p from the front of n if p is a prefix of n, returning
// the remainder. If p is not a prefix, n is returned unchanged.
func (n Nibbles) SkipPrefix(p Nibbles) Nibbles {
	if !p.IsPrefixOf(n) {
		return n
	}
	return n.Slice(p.Len(), n.Len())
}

// CountPrefix returns the length of the common prefix between n and other.
func (n Nibbles) CountPrefix(other Nibbles) int {
	return prefixLen(n.nibbles, other.nibbles)
}

// IsPrefixOf reports whether n is a prefix of other.
func (n Nibbles) IsPrefixOf(other Nibbles) bool {
	return n.Len() <= other.Len() && n.CountPrefix(other) == n.Len()
}

// Next consumes and returns the head nibble, along with the remaining tail.
// Ok is false when the sequence is empty.
func (n Nibbles) Next() (head byte, tail Nibbles, ok bool) {
	if n.IsEmpty() {
		return 0, n, false
	}
	return n.nibbles[0], n.Slice(1, n.Len()), true
}

// Prepend returns a new sequence with v inserted at the front.
func (n Nibbles) Prepend(v byte) Nibbles {
	out := make([]byte, len(n.nibbles)+1)
	out[0] = v
	copy(out[1:], n.nibbles)
	return Nibbles{nibbles: out, isLeaf: n.isLeaf}
}

// ToBytes packs the nibble sequence back into bytes. It panics when Len() is
// odd; out-of-band rendering with the leaf flag is the caller's
// responsibility (see compact encoding in encoding.go).
func (n Nibbles) ToBytes() []byte {
	if len(n.nibbles)%2 != 0 {
		panic("trie: ToBytes called on an odd-length Nibbles")
	}
	out := make([]byte, len(n.nibbles)/2)
	decodeNibbles(n.nibbles, out)
	return out
}

// Raw exposes the underlying hex-nibble slice, as consumed by the
// low-level node codec. It never copies.
func (n Nibbles) Raw() []byte { return n.nibbles }

// Equal reports whether two nibble sequences hold the same nibbles,
// ignoring the leaf marker.
func (n Nibbles) Equal(other Nibbles) bool {
	return keysEqual(n.nibbles, other.nibbles)
}

// Less reports lexicographic ordering over the nibble sequence, ignoring
// the leaf marker.
func (n Nibbles) Less(other Nibbles) bool {
	return compareBytesLess(n.nibbles, other.nibbles)
}
