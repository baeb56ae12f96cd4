package trie

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Sorted-input builder (§4.3): constructs an MPT from a pre-sorted stream of
// (hashed key, value) pairs without ever materializing the whole trie, and
// streams finished nodes to the store on a background worker pool -- the
// goroutine + buffered-channel rendering of the reference implementation's
// crossbeam channel + scoped thread pool, in the same bounded-channel-plus-
// worker-pool style as the teacher's own pipeline stages.

const (
	// SizeToWriteDB is the number of (path, node) pairs accumulated in one
	// write buffer before it is handed to a worker.
	SizeToWriteDB = 20000
	// BufferCount bounds how many write buffers may exist at once (free +
	// in-flight + current); this is the builder's memory cap.
	BufferCount = 32
	// writeWorkers is the size of the background persistence pool.
	writeWorkers = 4
)

var (
	// ErrIndexNotFound is raised when emitting current into parent finds an
	// empty nibble difference: a duplicate or out-of-order key.
	ErrIndexNotFound = errors.New("trie: builder: index not found (duplicate or out-of-order key)")
	// ErrTrieStackEmpty is raised when a pop is attempted past the sentinel.
	ErrTrieStackEmpty = errors.New("trie: builder: stack empty (ordering violation)")
	// ErrFlushToDB wraps the first background write failure.
	ErrFlushToDB = errors.New("trie: builder: flush to store failed")
	// ErrThreadJoin is raised when a write worker panics.
	ErrThreadJoin = errors.New("trie: builder: write worker panicked")
)

// KV is one (hashed key, value) pair of the sorted input stream.
type KV struct {
	Key   common.Hash
	Value []byte
}

// stackElement is a branch ancestor on the builder's current right spine;
// the sentinel at stack[0] has an empty path and represents the trie root.
type stackElement struct {
	path   Nibbles
	branch *fullNode
}

type elementKind int

const (
	kindLeaf elementKind = iota
	kindBranch
)

// currentElement is either a leaf drawn straight from the input or a
// completed branch promoted off the stack, awaiting emission into its
// parent.
type currentElement struct {
	kind   elementKind
	path   Nibbles
	value  []byte
	branch *fullNode
}

// Builder streams sorted (key, value) pairs into a trie, writing finished
// nodes to store keyed by path as it goes.
type Builder struct {
	store   NodeStore
	stack   []stackElement
	current *currentElement
	hash    *hasher

	free chan []KeyedNode
	jobs chan []KeyedNode
	wg   sync.WaitGroup

	errMu sync.Mutex
	err   error

	buf []KeyedNode
}

// NewBuilder creates a Builder writing to store.
func NewBuilder(store NodeStore) *Builder {
	b := &Builder{
		store: store,
		hash:  newHasher(),
		free:  make(chan []KeyedNode, BufferCount),
		jobs:  make(chan []KeyedNode, BufferCount),
	}
	for i := 0; i < BufferCount-1; i++ {
		b.free <- make([]KeyedNode, 0, SizeToWriteDB)
	}
	b.buf = make([]KeyedNode, 0, SizeToWriteDB)
	b.stack = []stackElement{{path: Nibbles{}, branch: &fullNode{flags: nodeFlag{dirty: true}}}}

	b.wg.Add(writeWorkers)
	for i := 0; i < writeWorkers; i++ {
		go b.writeWorker()
	}
	return b
}

func (b *Builder) writeWorker() {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.recordErr(fmt.Errorf("%w: %v", ErrThreadJoin, r))
		}
	}()
	for buf := range b.jobs {
		if err := b.store.PutBatch(buf); err != nil {
			b.recordErr(fmt.Errorf("%w: %v", ErrFlushToDB, err))
		}
		select {
		case b.free <- buf[:0]:
		default:
		}
	}
}

func (b *Builder) recordErr(err error) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) firstErr() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// pathKey renders a builder path as an opaque store key: one byte per nibble.
func pathKey(p Nibbles) []byte {
	raw := p.Raw()
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp
}

// enqueue appends one (path, encoded node) pair to the current write buffer,
// flushing it to the worker pool when full.
func (b *Builder) enqueue(path Nibbles, enc []byte) error {
	if err := b.firstErr(); err != nil {
		return err
	}
	b.buf = append(b.buf, KeyedNode{Key: pathKey(path), Encoded: enc})
	if len(b.buf) >= SizeToWriteDB {
		b.jobs <- b.buf
		b.buf = <-b.free
	}
	return nil
}

// collapse hashes a freshly built node (leaf or promoted branch), returning
// its store encoding and the reference a parent should hold: the hash when
// the encoding is 32 bytes or longer, otherwise the node itself, which the
// parent's own hashing then embeds inline.
func (b *Builder) collapse(n node) (enc []byte, ref node, err error) {
	collapsed, _ := b.hash.hashChildren(n)
	enc, err = encodeNode(collapsed)
	if err != nil {
		return nil, nil, err
	}
	if len(enc) >= 32 {
		return enc, hashNode(keccak(enc)), nil
	}
	return enc, n, nil
}

// Add streams one (key, value) pair into the builder. Keys MUST be supplied
// in strictly increasing order; violations surface as ErrIndexNotFound or
// ErrTrieStackEmpty once detected.
func (b *Builder) Add(key common.Hash, value []byte) error {
	return b.feed(currentElement{kind: kindLeaf, path: NibblesFromBytes(key.Bytes()), value: value})
}

// feed drives the stack/current/lookahead machine one step for a freshly
// arrived leaf, closing as much of the right spine as the new leaf's path
// permits before installing it as the new pending current.
func (b *Builder) feed(next currentElement) error {
	if b.current == nil {
		b.current = &next
		return nil
	}
	if !b.current.path.Less(next.path) {
		return fmt.Errorf("%w: out-of-order or duplicate key at %x", ErrIndexNotFound, next.path.Raw())
	}
	for {
		parent := &b.stack[len(b.stack)-1]
		if parent.path.CountPrefix(next.path) < parent.path.Len() {
			promoted, err := b.emit(*b.current, parent)
			if err != nil {
				return err
			}
			if len(b.stack) <= 1 {
				return ErrTrieStackEmpty
			}
			b.stack = b.stack[:len(b.stack)-1]
			b.current = &promoted
			continue
		}

		cpCurParent := b.current.path.CountPrefix(parent.path)
		cpCurNext := b.current.path.CountPrefix(next.path)
		switch {
		case cpCurNext == cpCurParent:
			if err := b.emitInPlace(*b.current, parent); err != nil {
				return err
			}
			b.current = &next
			return nil
		case cpCurNext > cpCurParent:
			branchPath := b.current.path.Slice(0, cpCurNext)
			newParent := stackElement{path: branchPath, branch: &fullNode{flags: nodeFlag{dirty: true}}}
			if err := b.emitInPlace(*b.current, &newParent); err != nil {
				return err
			}
			b.stack = append(b.stack, newParent)
			b.current = &next
			return nil
		default:
			return fmt.Errorf("%w: out-of-order key at %x", ErrIndexNotFound, next.path.Raw())
		}
	}
}

// emit closes current into parent and returns the promoted element
// representing parent, now complete, for further promotion up the stack.
func (b *Builder) emit(cur currentElement, parent *stackElement) (currentElement, error) {
	if err := b.emitInPlace(cur, parent); err != nil {
		return currentElement{}, err
	}
	return currentElement{kind: kindBranch, path: parent.path, branch: parent.branch}, nil
}

// emitInPlace performs one "emit current into parent" step per §4.3: builds
// the child node (leaf, or extension-wrapped/bare promoted branch), hashes
// it, writes it to the buffer keyed by path, and records the reference in
// parent.branch.Children[slot].
func (b *Builder) emitInPlace(cur currentElement, parent *stackElement) error {
	if parent.path.Len() >= cur.path.Len() {
		return fmt.Errorf("%w: at path %x", ErrIndexNotFound, cur.path.Raw())
	}
	slot := cur.path.Get(parent.path.Len())
	tail := cur.path.Slice(parent.path.Len()+1, cur.path.Len())

	var childNode node
	switch cur.kind {
	case kindLeaf:
		key := append(append([]byte(nil), tail.Raw()...), terminatorByte)
		childNode = &shortNode{Key: key, Val: valueNode(cur.value), flags: nodeFlag{dirty: true}}
	default:
		if tail.Len() == 0 {
			childNode = cur.branch
		} else {
			childNode = &shortNode{Key: append([]byte(nil), tail.Raw()...), Val: cur.branch, flags: nodeFlag{dirty: true}}
		}
	}

	enc, ref, err := b.collapse(childNode)
	if err != nil {
		return err
	}
	if err := b.enqueue(cur.path, enc); err != nil {
		return err
	}
	parent.branch.Children[slot] = ref
	return nil
}

// Finish drains the stack (promoting and emitting every remaining ancestor
// into its parent, up to the sentinel), applies root-degeneracy collapsing
// if the final root has a single child, persists and hashes the root, shuts
// down the worker pool, and returns the root hash.
func (b *Builder) Finish() (common.Hash, error) {
	var finalNode node
	if b.current != nil {
		for len(b.stack) > 1 {
			parent := &b.stack[len(b.stack)-1]
			promoted, err := b.emit(*b.current, parent)
			if err != nil {
				return common.Hash{}, err
			}
			b.stack = b.stack[:len(b.stack)-1]
			b.current = &promoted
		}
		root := &b.stack[0]
		if count, _ := root.branch.childCount(); count == 0 {
			// The pending element is the root's only child, so it becomes
			// the root itself, keyed by its whole path.
			cur := b.current
			if cur.kind == kindLeaf {
				key := append(append([]byte(nil), cur.path.Raw()...), terminatorByte)
				finalNode = &shortNode{Key: key, Val: valueNode(cur.value), flags: nodeFlag{dirty: true}}
			} else {
				finalNode = &shortNode{Key: append([]byte(nil), cur.path.Raw()...), Val: cur.branch, flags: nodeFlag{dirty: true}}
			}
		} else if err := b.emitInPlace(*b.current, root); err != nil {
			return common.Hash{}, err
		}
	}

	root := &b.stack[0]
	if finalNode == nil {
		finalNode = rootDegeneracy(root.branch)
	}

	var rootHash common.Hash
	if finalNode == nil {
		rootHash = EmptyTrieHash
	} else {
		collapsed, _ := b.hash.hashChildren(finalNode)
		enc, err := encodeNode(collapsed)
		if err != nil {
			return common.Hash{}, err
		}
		rootHash = crypto.Keccak256Hash(enc)
		if err := b.enqueue(Nibbles{}, enc); err != nil {
			return common.Hash{}, err
		}
	}

	if len(b.buf) > 0 {
		b.jobs <- b.buf
		b.buf = nil
	}
	close(b.jobs)
	b.wg.Wait()
	if err := b.firstErr(); err != nil {
		return common.Hash{}, err
	}
	return rootHash, nil
}

// rootDegeneracy reduces the sentinel root branch to the node hashed as the
// trie root: nil when it has no children, the branch itself when it has a
// value or two or more children. With exactly one child it returns a
// shortNode keyed by the lone slot nibble, prefixed onto the child's key when
// the child is a resident *shortNode; a child held only by its hash is not
// resolved and is wrapped as a one-nibble extension. Finish turns a pending
// element that is the root's only child into the root directly, so it does
// not reach this single-child case.
func rootDegeneracy(root *fullNode) node {
	count, idx := root.childCount()
	if root.Children[16] != nil {
		return root
	}
	switch count {
	case 0:
		return nil
	case 1:
		child := root.Children[idx]
		if cnode, ok := child.(*shortNode); ok {
			return &shortNode{Key: concatBytes([]byte{byte(idx)}, cnode.Key), Val: cnode.Val}
		}
		return &shortNode{Key: []byte{byte(idx)}, Val: child}
	default:
		return root
	}
}

// BuildFromSorted drains input (which MUST yield strictly increasing keys)
// into store and returns the resulting root hash.
func BuildFromSorted(store NodeStore, input <-chan KV) (common.Hash, error) {
	b := NewBuilder(store)
	for kv := range input {
		if err := b.Add(kv.Key, kv.Value); err != nil {
			return common.Hash{}, err
		}
	}
	return b.Finish()
}

// BuildFromSortedSlice is a convenience wrapper around BuildFromSorted for
// callers that already hold the sorted pairs in memory (e.g. tests).
func BuildFromSortedSlice(store NodeStore, pairs []KV) (common.Hash, error) {
	ch := make(chan KV)
	go func() {
		defer close(ch)
		for _, kv := range pairs {
			ch <- kv
		}
	}()
	return BuildFromSorted(store, ch)
}
