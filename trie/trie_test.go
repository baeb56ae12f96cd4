package trie

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// -- Known Ethereum test vectors (shared with go-ethereum's own trie tests) --

func TestEmptyTrieHash(t *testing.T) {
	tr := New()
	got, err := tr.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if got != EmptyTrieHash {
		t.Fatalf("empty trie hash = %s, want %s", got.Hex(), EmptyTrieHash.Hex())
	}
}

func TestInsert_GethVector1(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "doe", "reindeer")
	mustInsert(t, tr, "dog", "puppy")
	mustInsert(t, tr, "dogglesworth", "cat")

	exp := common.HexToHash("8aad789dff2f538bca5d8ea56e8abe10f4c7ba3a5dea95fea4cd6e7c3a1168d3")
	got := mustHash(t, tr)
	if got != exp {
		t.Fatalf("root = %s, want %s", got.Hex(), exp.Hex())
	}
}

func TestInsert_GethVector2(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "A", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	exp := common.HexToHash("d23786fb4a010da3ce639d66d5e904a11dbc02746d1ce25029e53290cabf28ab")
	got := mustHash(t, tr)
	if got != exp {
		t.Fatalf("root = %s, want %s", got.Hex(), exp.Hex())
	}
}

func TestDelete_GethVector(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "do", "verb")
	mustInsert(t, tr, "ether", "wookiedoo")
	mustInsert(t, tr, "horse", "stallion")
	mustInsert(t, tr, "shaman", "horse")
	mustInsert(t, tr, "doge", "coin")
	if _, err := tr.Remove([]byte("ether")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	mustInsert(t, tr, "dog", "puppy")
	if _, err := tr.Remove([]byte("shaman")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	exp := common.HexToHash("5991bb8c6514148a29db676a14ac506cd2cd5775ace63c30a4fe457715e9ac84")
	got := mustHash(t, tr)
	if got != exp {
		t.Fatalf("root = %s, want %s", got.Hex(), exp.Hex())
	}
}

func TestEmptyValueInsertDeletes(t *testing.T) {
	tr := New()
	vals := []struct{ k, v string }{
		{"do", "verb"},
		{"ether", "wookiedoo"},
		{"horse", "stallion"},
		{"shaman", "horse"},
		{"doge", "coin"},
		{"ether", ""},
		{"dog", "puppy"},
		{"shaman", ""},
	}
	for _, val := range vals {
		if err := tr.Insert([]byte(val.k), []byte(val.v)); err != nil {
			t.Fatalf("Insert(%q): %v", val.k, err)
		}
	}

	exp := common.HexToHash("5991bb8c6514148a29db676a14ac506cd2cd5775ace63c30a4fe457715e9ac84")
	got := mustHash(t, tr)
	if got != exp {
		t.Fatalf("root = %s, want %s", got.Hex(), exp.Hex())
	}
}

// -- Get --

func TestGet_ExistingKeys(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "doe", "reindeer")
	mustInsert(t, tr, "dog", "puppy")
	mustInsert(t, tr, "dogglesworth", "cat")

	tests := []struct{ key, want string }{
		{"doe", "reindeer"},
		{"dog", "puppy"},
		{"dogglesworth", "cat"},
	}
	for _, tt := range tests {
		got, err := tr.Get([]byte(tt.key))
		if err != nil {
			t.Errorf("Get(%q) error: %v", tt.key, err)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestGet_MissingKey(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "dog", "puppy")

	if _, err := tr.Get([]byte("cat")); err != ErrNotFound {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInsert_Overwrite(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "dog", "puppy")
	mustInsert(t, tr, "dog", "hound")

	got, err := tr.Get([]byte("dog"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hound" {
		t.Errorf("Get(dog) = %q, want %q", got, "hound")
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
}

// -- Commit / reopen round trip --

func TestCommitThenOpenRoundTrip(t *testing.T) {
	store := NewMemStore()
	tr := New()
	tr.SetStore(store)
	mustInsert(t, tr, "doe", "reindeer")
	mustInsert(t, tr, "dog", "puppy")
	mustInsert(t, tr, "dogglesworth", "cat")

	root, err := tr.Commit()
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reopened, err := Open(store, root)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, kv := range []struct{ k, v string }{
		{"doe", "reindeer"},
		{"dog", "puppy"},
		{"dogglesworth", "cat"},
	} {
		got, err := reopened.Get([]byte(kv.k))
		if err != nil {
			t.Errorf("Get(%q) after reopen: %v", kv.k, err)
			continue
		}
		if string(got) != kv.v {
			t.Errorf("Get(%q) after reopen = %q, want %q", kv.k, got, kv.v)
		}
	}
}

func TestOpen_UnknownRoot(t *testing.T) {
	store := NewMemStore()
	_, err := Open(store, common.HexToHash("0xdeadbeef"))
	if err == nil {
		t.Fatal("Open with unresolvable root: want error, got nil")
	}
}

func TestRemove_AllKeysEmptiesTrie(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "dog", "puppy")
	mustInsert(t, tr, "doe", "reindeer")

	if _, err := tr.Remove([]byte("dog")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := tr.Remove([]byte("doe")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !tr.Empty() {
		t.Errorf("trie not empty after removing all keys")
	}
	got := mustHash(t, tr)
	if got != EmptyTrieHash {
		t.Errorf("root after full removal = %s, want empty trie hash", got.Hex())
	}
}

func TestRemove_MissingKeyIsNoop(t *testing.T) {
	tr := New()
	mustInsert(t, tr, "dog", "puppy")
	before := mustHash(t, tr)

	removed, err := tr.Remove([]byte("cat"))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed {
		t.Errorf("Remove(missing) reported removed = true")
	}
	after := mustHash(t, tr)
	if before != after {
		t.Errorf("root changed after no-op remove: %s -> %s", before.Hex(), after.Hex())
	}
}

func mustInsert(t *testing.T, tr *Trie, key, val string) {
	t.Helper()
	if err := tr.Insert([]byte(key), []byte(val)); err != nil {
		t.Fatalf("Insert(%q, %q): %v", key, val, err)
	}
}

func mustHash(t *testing.T, tr *Trie) common.Hash {
	t.Helper()
	h, err := tr.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	return h
}
