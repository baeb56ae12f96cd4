package trie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/lambdaclass/ethrex-statetrie/log"
)

var (
	// ErrNotFound is returned when a key is not present in the trie.
	ErrNotFound = errors.New("trie: key not found")
	// ErrRootNotFound is returned by Open when the given root is not
	// resolvable from the store and the caller did not ask for a
	// stateless trie.
	ErrRootNotFound = errors.New("trie: root not found in store")
)

var trieLog = log.Default().Module("trie")

// Trie is the random-access Merkle-Patricia Trie engine (§4.2): a logical
// map from bytes to bytes, backed by a pluggable NodeStore and addressed by
// node hash. A zero-value-created Trie (New) is empty and store-less; call
// SetStore to give it one.
type Trie struct {
	root  node
	store NodeStore
}

// New creates a new, empty Trie with no backing store. Commit will return
// ErrNotFound-free results but nodes are not persisted until a store is
// attached via Open/OpenStateless or SetStore.
func New() *Trie {
	return &Trie{}
}

// Open opens a trie rooted at root in store. If root is the empty-trie hash
// the trie starts empty; otherwise root must be resolvable from store.
func Open(store NodeStore, root common.Hash) (*Trie, error) {
	if root == EmptyTrieHash || root == (common.Hash{}) {
		return &Trie{store: store}, nil
	}
	enc, ok := store.Get(hashKey(root))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRootNotFound, root.Hex())
	}
	n, err := decodeNode(hashNode(root.Bytes()), enc)
	if err != nil {
		return nil, err
	}
	return &Trie{root: n, store: store}, nil
}

// OpenStateless opens a trie rooted at root without asserting that root is
// resolvable from store; resolution is attempted lazily on first traversal
// that needs it, and fails with ErrMalformed if the node is absent.
func OpenStateless(store NodeStore, root common.Hash) *Trie {
	if root == EmptyTrieHash || root == (common.Hash{}) {
		return &Trie{store: store}
	}
	return &Trie{root: hashNode(root.Bytes()), store: store}
}

// SetStore attaches a backing store to an in-memory trie, e.g. one built via
// New()+Insert() that should now be persisted on Commit.
func (t *Trie) SetStore(store NodeStore) { t.store = store }

// resolve replaces a hashNode reference with its decoded form, reading from
// the store. Any other node kind is returned unchanged. Traversal through a
// hashNode with no store, or a hash absent from the store, fails fast with
// ErrMalformed per the engine's no-auto-heal policy.
func (t *Trie) resolve(n node) (node, error) {
	hn, ok := n.(hashNode)
	if !ok {
		return n, nil
	}
	if t.store == nil {
		return nil, fmt.Errorf("%w: hash reference %x with no backing store", ErrMalformed, []byte(hn))
	}
	enc, ok := t.store.Get(hashKey(common.BytesToHash(hn)))
	if !ok {
		return nil, fmt.Errorf("%w: missing node %x", ErrMalformed, []byte(hn))
	}
	return decodeNode(hn, enc)
}

// Get retrieves the value associated with key, or ErrNotFound.
func (t *Trie) Get(key []byte) ([]byte, error) {
	v, found, err := t.get(t.root, keybytesToHex(key), 0)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *Trie) get(n node, key []byte, pos int) ([]byte, bool, error) {
	switch nn := n.(type) {
	case nil:
		return nil, false, nil
	case valueNode:
		return []byte(nn), true, nil
	case *shortNode:
		if len(key)-pos < len(nn.Key) || !keysEqual(nn.Key, key[pos:pos+len(nn.Key)]) {
			return nil, false, nil
		}
		return t.get(nn.Val, key, pos+len(nn.Key))
	case *fullNode:
		if pos >= len(key) {
			return t.get(nn.Children[16], key, pos)
		}
		return t.get(nn.Children[key[pos]], key, pos+1)
	case hashNode:
		resolved, err := t.resolve(nn)
		if err != nil {
			return nil, false, err
		}
		return t.get(resolved, key, pos)
	default:
		return nil, false, fmt.Errorf("%w: unknown node type %T", ErrMalformed, n)
	}
}

// Insert inserts or updates a key-value pair. An empty value removes key
// instead (mirroring the reference implementation's convention).
func (t *Trie) Insert(key, value []byte) error {
	if len(value) == 0 {
		_, err := t.Remove(key)
		return err
	}
	n, err := t.insert(t.root, keybytesToHex(key), valueNode(value))
	if err != nil {
		return err
	}
	t.root = n
	return nil
}

// 4.2.1 Insertion algorithm, by cases on the resident node at the current position.
func (t *Trie) insert(n node, key []byte, value node) (node, error) {
	if len(key) == 0 {
		if v, ok := n.(valueNode); ok && keysEqual(v, value.(valueNode)) {
			return v, nil
		}
		return value, nil
	}

	switch nn := n.(type) {
	case nil:
		return &shortNode{Key: key, Val: value, flags: nodeFlag{dirty: true}}, nil

	case *shortNode:
		matchLen := prefixLen(key, nn.Key)
		if matchLen == len(nn.Key) {
			child, err := t.insert(nn.Val, key[matchLen:], value)
			if err != nil {
				return nil, err
			}
			return &shortNode{Key: nn.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}
		branch := &fullNode{flags: nodeFlag{dirty: true}}
		existingChild, err := t.insert(nil, nn.Key[matchLen+1:], nn.Val)
		if err != nil {
			return nil, err
		}
		branch.Children[nn.Key[matchLen]] = existingChild
		newChild, err := t.insert(nil, key[matchLen+1:], value)
		if err != nil {
			return nil, err
		}
		branch.Children[key[matchLen]] = newChild
		if matchLen > 0 {
			return &shortNode{Key: key[:matchLen], Val: branch, flags: nodeFlag{dirty: true}}, nil
		}
		return branch, nil

	case *fullNode:
		cp := nn.copy()
		cp.flags = nodeFlag{dirty: true}
		child, err := t.insert(nn.Children[key[0]], key[1:], value)
		if err != nil {
			return nil, err
		}
		cp.Children[key[0]] = child
		return cp, nil

	case hashNode:
		resolved, err := t.resolve(nn)
		if err != nil {
			return nil, err
		}
		return t.insert(resolved, key, value)

	default:
		return nil, fmt.Errorf("%w: unknown node type %T", ErrMalformed, n)
	}
}

// Remove deletes key from the trie and reports whether it was present; the
// removed value itself is not returned. If the key does not exist, Remove is
// a no-op. Per §4.2.1-b the engine collapses degenerate branches and
// extensions and returns the trie to empty if the last entry is gone.
func (t *Trie) Remove(key []byte) (bool, error) {
	hexKey := keybytesToHex(key)
	if _, found, err := t.get(t.root, hexKey, 0); err != nil {
		return false, err
	} else if !found {
		return false, nil
	}
	n, err := t.remove(t.root, hexKey)
	if err != nil {
		return false, err
	}
	t.root = n
	return true, nil
}

func (t *Trie) remove(n node, key []byte) (node, error) {
	switch nn := n.(type) {
	case nil:
		return nil, nil

	case *shortNode:
		matchLen := prefixLen(key, nn.Key)
		if matchLen < len(nn.Key) {
			return nn, nil
		}
		if matchLen == len(key) {
			return nil, nil
		}
		child, err := t.remove(nn.Val, key[len(nn.Key):])
		if err != nil {
			return nil, err
		}
		switch c := child.(type) {
		case nil:
			return nil, nil
		case *shortNode:
			return &shortNode{Key: concatBytes(nn.Key, c.Key), Val: c.Val, flags: nodeFlag{dirty: true}}, nil
		default:
			return &shortNode{Key: nn.Key, Val: child, flags: nodeFlag{dirty: true}}, nil
		}

	case *fullNode:
		cp := nn.copy()
		cp.flags = nodeFlag{dirty: true}
		child, err := t.remove(nn.Children[key[0]], key[1:])
		if err != nil {
			return nil, err
		}
		cp.Children[key[0]] = child

		count, idx := cp.childCount()
		hasValue := cp.Children[16] != nil
		if count > 1 || (count == 1 && hasValue) {
			return cp, nil
		}
		if count == 0 && !hasValue {
			return nil, nil
		}
		if count == 0 && hasValue {
			return &shortNode{Key: []byte{terminatorByte}, Val: cp.Children[16], flags: nodeFlag{dirty: true}}, nil
		}
		// Exactly one child remains and no value: collapse the branch.
		remainingChild, err := t.resolveForCollapse(cp.Children[idx])
		if err != nil {
			return nil, err
		}
		if cnode, ok := remainingChild.(*shortNode); ok {
			return &shortNode{Key: concatBytes([]byte{byte(idx)}, cnode.Key), Val: cnode.Val, flags: nodeFlag{dirty: true}}, nil
		}
		return &shortNode{Key: []byte{byte(idx)}, Val: cp.Children[idx], flags: nodeFlag{dirty: true}}, nil

	case valueNode:
		if len(key) == 0 {
			return nil, nil
		}
		return nn, nil

	case hashNode:
		resolved, err := t.resolve(nn)
		if err != nil {
			return nil, err
		}
		return t.remove(resolved, key)

	default:
		return nil, fmt.Errorf("%w: unknown node type %T", ErrMalformed, n)
	}
}

// resolveForCollapse resolves a hashNode so remove() can inspect its shape
// when deciding how to merge it into a collapsing branch.
func (t *Trie) resolveForCollapse(n node) (node, error) {
	if hn, ok := n.(hashNode); ok {
		return t.resolve(hn)
	}
	return n, nil
}

// Commit hashes all dirty nodes, writes them to the backing store, and
// returns the new root hash. A subsequent Get over the returned root (via
// Open) reproduces the same logical map.
func (t *Trie) Commit() (common.Hash, error) {
	root, err := t.HashNoCommit()
	if err != nil {
		return common.Hash{}, err
	}
	if t.store == nil {
		return root, nil
	}
	var pairs []KeyedNode
	if err := t.collectDirty(t.root, &pairs); err != nil {
		return common.Hash{}, err
	}
	// collectDirty skips encodings under 32 bytes; the root is still stored
	// under its hash so that Open can find it.
	switch t.root.(type) {
	case *shortNode, *fullNode:
		enc, err := encodeNode(collapseForProof(t.root))
		if err != nil {
			return common.Hash{}, err
		}
		if len(enc) < 32 {
			pairs = append(pairs, KeyedNode{Key: hashKey(root), Encoded: enc})
		}
	}
	if len(pairs) > 0 {
		if err := t.store.PutBatch(pairs); err != nil {
			return common.Hash{}, fmt.Errorf("trie: commit: %w", err)
		}
	}
	trieLog.Debug("commit", "root", root.Hex(), "nodes", len(pairs))
	return root, nil
}

// Hash is an alias for Commit, matching the engine's external naming.
func (t *Trie) Hash() (common.Hash, error) { return t.Commit() }

// HashNoCommit computes the root hash without writing to the store.
func (t *Trie) HashNoCommit() (common.Hash, error) {
	if t.root == nil {
		return EmptyTrieHash, nil
	}
	h := newHasher()
	hashed, cached := h.hash(t.root, true)
	t.root = cached
	switch n := hashed.(type) {
	case hashNode:
		return common.BytesToHash(n), nil
	default:
		enc, err := encodeNode(hashed)
		if err != nil {
			return common.Hash{}, err
		}
		return crypto.Keccak256Hash(enc), nil
	}
}

// collectDirty walks the resident part of the (already hashed) tree and
// collects every short or full node whose encoding is 32 bytes or longer,
// keyed by the Keccak-256 of that encoding. Smaller nodes are embedded in
// their parent and are not collected; dirty flags are not consulted, so
// unchanged resident nodes are collected too.
func (t *Trie) collectDirty(n node, out *[]KeyedNode) error {
	switch nn := n.(type) {
	case *shortNode:
		enc, err := encodeNode(collapseForProof(nn))
		if err != nil {
			return err
		}
		if len(enc) >= 32 {
			*out = append(*out, KeyedNode{Key: hashKey(crypto.Keccak256Hash(enc)), Encoded: enc})
		}
		if _, ok := nn.Val.(valueNode); !ok && nn.Val != nil {
			if err := t.collectDirty(nn.Val, out); err != nil {
				return err
			}
		}
	case *fullNode:
		enc, err := encodeNode(collapseForProof(nn))
		if err != nil {
			return err
		}
		if len(enc) >= 32 {
			*out = append(*out, KeyedNode{Key: hashKey(crypto.Keccak256Hash(enc)), Encoded: enc})
		}
		for i := 0; i < 16; i++ {
			if nn.Children[i] != nil {
				if err := t.collectDirty(nn.Children[i], out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Len counts the values held in resident nodes, O(n). Subtrees still
// referenced only by hash are not loaded from the store and count as zero.
func (t *Trie) Len() int { return countValues(t.root) }

// Empty reports whether the trie has no entries.
func (t *Trie) Empty() bool { return t.root == nil }

func countValues(n node) int {
	switch nn := n.(type) {
	case nil:
		return 0
	case valueNode:
		return 1
	case *shortNode:
		return countValues(nn.Val)
	case *fullNode:
		count := 0
		for i := 0; i < 17; i++ {
			count += countValues(nn.Children[i])
		}
		return count
	default:
		return 0
	}
}
