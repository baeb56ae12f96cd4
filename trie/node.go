// Package trie implements the authenticated state layer of an Ethereum-style
// execution client: a Merkle-Patricia Trie over hashed keys, a sorted-input
// trie builder, and a trie range-proof verifier.
package trie

// node is the interface implemented by all trie node types. It is a closed
// match over exactly four Go representations of the three logical MPT
// variants (Leaf and Extension both render as shortNode, distinguished by
// the trailing terminator nibble on Key); new variants are not foreseen.
type node interface {
	cache() (hashNode, bool)
}

// fullNode is a branch node: 16 children, one per hex nibble, plus an
// optional value at Children[16] for a key that terminates exactly at this
// depth (legal in the general MPT; unused for fixed-length hashed keys).
type fullNode struct {
	Children [17]node
	flags    nodeFlag
}

// shortNode is an extension or leaf node. If Key ends with the terminator
// nibble (hasTerm), it is a leaf and Val is a valueNode; otherwise it is an
// extension and Val must be a branch (fullNode) or a hashNode/inline
// reference resolving to one, per invariant I2.
type shortNode struct {
	Key   []byte
	Val   node
	flags nodeFlag
}

// hashNode is a 32-byte reference to a node stored elsewhere in the store.
type hashNode []byte

// valueNode is the opaque value stored at a leaf (or, rarely, a branch).
type valueNode []byte

// nodeFlag caches the node's hash and whether it has been modified since
// the hash was last computed.
type nodeFlag struct {
	hash  hashNode
	dirty bool
}

func (n *fullNode) cache() (hashNode, bool)  { return n.flags.hash, n.flags.dirty }
func (n *shortNode) cache() (hashNode, bool) { return n.flags.hash, n.flags.dirty }
func (n hashNode) cache() (hashNode, bool)   { return nil, true }
func (n valueNode) cache() (hashNode, bool)  { return nil, true }

func (n *fullNode) copy() *fullNode {
	cp := *n
	return &cp
}

func (n *shortNode) copy() *shortNode {
	cp := *n
	return &cp
}

// isLeaf reports whether a shortNode represents a Leaf (vs. an Extension).
func (n *shortNode) isLeaf() bool { return hasTerm(n.Key) }

// childCount counts non-nil children of a branch, excluding the value slot.
func (n *fullNode) childCount() (count int, lastIdx int) {
	lastIdx = -1
	for i := 0; i < 16; i++ {
		if n.Children[i] != nil {
			count++
			lastIdx = i
		}
	}
	return count, lastIdx
}
