package trie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidProof is returned when a proof fails to reconstruct the claimed
// root, or is otherwise structurally inconsistent (§7).
var ErrInvalidProof = errors.New("trie: invalid proof")

// Prove collects every node on the root-to-leaf path for key, RLP-encoded
// exactly as it would be stored (children collapsed to hash or inline
// form). The result is nil, ErrNotFound if key is absent.
func (t *Trie) Prove(key []byte) ([][]byte, error) {
	if _, err := t.Get(key); err != nil {
		return nil, err
	}
	var proof [][]byte
	if err := t.prove(t.root, keybytesToHex(key), &proof); err != nil {
		return nil, err
	}
	return proof, nil
}

// ProveAbsence collects a proof that key is NOT present in the trie: every
// node on the path that key would take, from the root down to the deepest
// one, demonstrating the path terminates before reaching a matching leaf.
func (t *Trie) ProveAbsence(key []byte) ([][]byte, error) {
	if _, err := t.Get(key); !errors.Is(err, ErrNotFound) {
		if err == nil {
			return nil, fmt.Errorf("trie: key is present, cannot prove absence")
		}
		return nil, err
	}
	var proof [][]byte
	if err := t.proveAbsence(t.root, keybytesToHex(key), &proof); err != nil {
		return nil, err
	}
	return proof, nil
}

func (t *Trie) prove(n node, key []byte, proof *[][]byte) error {
	switch nn := n.(type) {
	case nil, valueNode:
		return nil
	case *shortNode:
		enc, err := encodeNode(collapseForProof(nn))
		if err != nil {
			return err
		}
		*proof = append(*proof, enc)
		if len(key) < len(nn.Key) || !keysEqual(nn.Key, key[:len(nn.Key)]) {
			return nil
		}
		return t.prove(nn.Val, key[len(nn.Key):], proof)
	case *fullNode:
		enc, err := encodeNode(collapseForProof(nn))
		if err != nil {
			return err
		}
		*proof = append(*proof, enc)
		if len(key) == 0 {
			return t.prove(nn.Children[16], key, proof)
		}
		return t.prove(nn.Children[key[0]], key[1:], proof)
	case hashNode:
		resolved, err := t.resolve(nn)
		if err != nil {
			return err
		}
		return t.prove(resolved, key, proof)
	default:
		return fmt.Errorf("%w: unknown node type %T", ErrMalformed, n)
	}
}

func (t *Trie) proveAbsence(n node, key []byte, proof *[][]byte) error {
	switch nn := n.(type) {
	case nil:
		return nil
	case valueNode:
		return nil
	case *shortNode:
		enc, err := encodeNode(collapseForProof(nn))
		if err != nil {
			return err
		}
		*proof = append(*proof, enc)
		matchLen := prefixLen(key, nn.Key)
		if matchLen < len(nn.Key) {
			return nil
		}
		return t.proveAbsence(nn.Val, key[matchLen:], proof)
	case *fullNode:
		enc, err := encodeNode(collapseForProof(nn))
		if err != nil {
			return err
		}
		*proof = append(*proof, enc)
		if len(key) == 0 {
			return nil
		}
		return t.proveAbsence(nn.Children[key[0]], key[1:], proof)
	case hashNode:
		resolved, err := t.resolve(nn)
		if err != nil {
			return err
		}
		return t.proveAbsence(resolved, key, proof)
	default:
		return fmt.Errorf("%w: unknown node type %T", ErrMalformed, n)
	}
}

// collapseForProof renders n the way it would appear when encoded as a
// stored node: Key in compact form, children reduced to their hash-or-inline
// reference.
func collapseForProof(n node) node {
	switch nn := n.(type) {
	case *shortNode:
		return &shortNode{Key: hexToCompact(nn.Key), Val: collapseChildForProof(nn.Val)}
	case *fullNode:
		return collapseFullNodeForProof(nn)
	default:
		return n
	}
}

func collapseChildForProof(n node) node {
	switch nn := n.(type) {
	case *shortNode, *fullNode:
		collapsed := collapseForProof(nn)
		enc, err := encodeNode(collapsed)
		if err != nil {
			return n
		}
		if len(enc) >= 32 {
			return hashNode(keccak(enc))
		}
		return collapsed
	default:
		return n
	}
}

func collapseFullNodeForProof(n *fullNode) *fullNode {
	cp := n.copy()
	for i := 0; i < 16; i++ {
		if n.Children[i] != nil {
			cp.Children[i] = collapseChildForProof(n.Children[i])
		}
	}
	return cp
}

// VerifyProof checks that proof is a valid root-to-leaf (or root-to-absence)
// path for key under rootHash, returning the value at key (nil if the proof
// demonstrates absence).
func VerifyProof(rootHash common.Hash, key []byte, proof [][]byte) ([]byte, error) {
	wantHash := rootHash.Bytes()
	keyHex := keybytesToHex(key)
	for i, buf := range proof {
		if !keysEqual(wantHash, keccak(buf)) && len(wantHash) == 32 {
			return nil, fmt.Errorf("%w: node %d hash mismatch", ErrInvalidProof, i)
		}
		n, err := decodeNode(nil, buf)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrInvalidProof, i, err)
		}
		switch nn := n.(type) {
		case *shortNode:
			if len(keyHex) < len(nn.Key) || !keysEqual(nn.Key, keyHex[:len(nn.Key)]) {
				// Divergence proves absence, provided this is the last node.
				if i != len(proof)-1 {
					return nil, fmt.Errorf("%w: divergence before proof end", ErrInvalidProof)
				}
				return nil, nil
			}
			keyHex = keyHex[len(nn.Key):]
			switch v := nn.Val.(type) {
			case valueNode:
				if i != len(proof)-1 {
					return nil, fmt.Errorf("%w: value node before proof end", ErrInvalidProof)
				}
				return []byte(v), nil
			case hashNode:
				wantHash = []byte(v)
			default:
				if i == len(proof)-1 {
					return nil, fmt.Errorf("%w: proof ends mid-path", ErrInvalidProof)
				}
				wantHash = nil
			}
		case *fullNode:
			if len(keyHex) == 0 {
				if v, ok := nn.Children[16].(valueNode); ok {
					return []byte(v), nil
				}
				return nil, nil
			}
			child := nn.Children[keyHex[0]]
			keyHex = keyHex[1:]
			switch v := child.(type) {
			case nil:
				if i != len(proof)-1 {
					return nil, fmt.Errorf("%w: absent branch before proof end", ErrInvalidProof)
				}
				return nil, nil
			case valueNode:
				if i != len(proof)-1 {
					return nil, fmt.Errorf("%w: value node before proof end", ErrInvalidProof)
				}
				return []byte(v), nil
			case hashNode:
				wantHash = []byte(v)
			default:
				if i == len(proof)-1 {
					return nil, fmt.Errorf("%w: proof ends mid-path", ErrInvalidProof)
				}
				wantHash = nil
			}
		default:
			return nil, fmt.Errorf("%w: unexpected node kind at step %d", ErrInvalidProof, i)
		}
	}
	return nil, fmt.Errorf("%w: proof exhausted without reaching a value or absence", ErrInvalidProof)
}
