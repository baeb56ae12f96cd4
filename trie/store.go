package trie

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NodeStore is the node store contract (§3.5 / §4.5). Keys are opaque to the
// core: the random-access engine (§4.2) addresses nodes by hash; the
// sorted-input builder (§4.3) addresses nodes by path. A concrete backend
// picks one scheme and never mixes them within a single trie.
type NodeStore interface {
	// Get reads an encoded node. It must be safe to call from multiple
	// readers concurrently.
	Get(key []byte) ([]byte, bool)
	// PutBatch commits a batch of (key, encoded) pairs. Pairs within one
	// call become visible together; ordering across batches is not
	// observable because keys are unique.
	PutBatch(pairs []KeyedNode) error
}

// NoAllocStore is an optional extension of NodeStore for hot paths that want
// to hand the backend borrowed buffers instead of forcing a copy.
type NoAllocStore interface {
	NodeStore
	PutBatchNoAlloc(pairs []KeyedNode) error
}

// KeyedNode is one entry of a PutBatch call: an opaque store key (a node
// hash for the random-access engine; for the builder, a nibble path stored
// one byte per nibble, not packed) paired with the node's canonical encoding.
type KeyedNode struct {
	Key     []byte
	Encoded []byte
}

// MemStore is an in-memory NodeStore keyed by raw bytes, sufficient for
// tests and for stateless verification. It is safe for concurrent readers;
// writers serialize on an internal mutex.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	return v, ok
}

func (s *MemStore) PutBatch(pairs []KeyedNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		cp := make([]byte, len(p.Encoded))
		copy(cp, p.Encoded)
		s.data[string(p.Key)] = cp
	}
	return nil
}

// PutBatchNoAlloc commits pairs without copying the encoded payload first;
// callers must not mutate p.Encoded afterwards.
func (s *MemStore) PutBatchNoAlloc(pairs []KeyedNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.data[string(p.Key)] = p.Encoded
	}
	return nil
}

// Len returns the number of stored node blobs.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// hashKey renders a common.Hash as the []byte store key the random-access
// engine addresses nodes by.
func hashKey(h common.Hash) []byte { return h.Bytes() }
