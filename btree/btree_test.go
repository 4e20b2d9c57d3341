package btree

import (
	"math/rand"
	"os"
	"testing"

	"github.com/flashlog/filedb/alloc"
	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/heap"
	"github.com/flashlog/filedb/keycmp"
	"github.com/flashlog/filedb/node"
)

// newTestEngine builds a real, store-backed Engine for INT32 keys. Its
// branching factor M is derived from the fixed 8192-byte block size the
// same way Create would derive it — there is no legal key size at which
// M drops anywhere near the minimum of 3, so these tests exercise splits,
// merges and borrows the way they actually occur in a full-size file: by
// inserting and deleting enough keys to cross real node boundaries, not
// by shrinking the block.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	f, err := os.CreateTemp("", "btree-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(f.Name()); f.Close() })

	s := block.Open(f)
	if err := s.WriteHeader(make([]byte, block.HeaderSize)); err != nil {
		t.Fatal(err)
	}

	layout, err := node.NewLayout(4, block.Size)
	if err != nil {
		t.Fatal(err)
	}

	hdr := &header.Header{KeyKind: keycmp.Int32, KeySize: 4, SlotStride: layout.SlotStride, M: layout.M}
	a := alloc.New(s, hdr)
	if _, offset, err := a.Allocate(node.ClassIndex, true); err != nil || offset != block.RootOffset {
		t.Fatalf("failed to reserve root: offset=%d err=%v", offset, err)
	}
	h := heap.New(s, hdr, a)

	cmp, err := keycmp.ForKind(keycmp.Int32, 4)
	if err != nil {
		t.Fatal(err)
	}
	return New(s, hdr, layout, keycmp.Int32, cmp, a, h)
}

func valueFor(k int32) []byte {
	return []byte{byte(k), byte(k >> 8), byte(k >> 16), byte(k >> 24), 0xAA}
}

func TestInsertSearchRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	keys := []int32{5, 3, 8, 1, 9, 2, 7, 4, 6}
	for _, k := range keys {
		if err := e.Insert(keycmp.EncodeInt32(k), valueFor(k)); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	dst := make([]byte, 16)
	for _, k := range keys {
		n, err := e.Search(keycmp.EncodeInt32(k), dst)
		if err != nil {
			t.Fatalf("search %d: %v", k, err)
		}
		if string(dst[:n]) != string(valueFor(k)) {
			t.Fatalf("search %d: unexpected value %v", k, dst[:n])
		}
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Insert(keycmp.EncodeInt32(42), valueFor(42)); err != nil {
		t.Fatal(err)
	}
	if err := e.Insert(keycmp.EncodeInt32(42), valueFor(99)); err != ErrDuplicateKey {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestSearchMissingKey(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Insert(keycmp.EncodeInt32(1), valueFor(1)); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 16)
	if _, err := e.Search(keycmp.EncodeInt32(2), dst); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSearchDestinationTooSmall(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Insert(keycmp.EncodeInt32(1), []byte("a longer value")); err != nil {
		t.Fatal(err)
	}
	dst := make([]byte, 2)
	if _, err := e.Search(keycmp.EncodeInt32(1), dst); err != ErrDestinationTooSmall {
		t.Fatalf("expected ErrDestinationTooSmall, got %v", err)
	}
}

func TestDeleteMissingKey(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Delete(keycmp.EncodeInt32(1)); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestInsertDeleteManyKeysForcesSplitsAndMerges(t *testing.T) {
	e := newTestEngine(t)
	const n = 3000

	order := rand.New(rand.NewSource(1)).Perm(n)
	for _, k := range order {
		if err := e.Insert(keycmp.EncodeInt32(int32(k)), valueFor(int32(k))); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	if e.hdr.KeyTotal != n {
		t.Fatalf("expected KeyTotal %d, got %d", n, e.hdr.KeyTotal)
	}

	dst := make([]byte, 16)
	for k := 0; k < n; k++ {
		m, err := e.Search(keycmp.EncodeInt32(int32(k)), dst)
		if err != nil {
			t.Fatalf("search %d after bulk insert: %v", k, err)
		}
		if string(dst[:m]) != string(valueFor(int32(k))) {
			t.Fatalf("search %d: wrong value after bulk insert", k)
		}
	}

	deleteOrder := rand.New(rand.NewSource(2)).Perm(n)
	for i, k := range deleteOrder {
		if i%2 == 1 {
			continue // delete every other key, forcing merges/borrows without fully draining
		}
		if err := e.Delete(keycmp.EncodeInt32(int32(k))); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
	}

	deleted := make(map[int]bool)
	for i, k := range deleteOrder {
		if i%2 == 0 {
			deleted[k] = true
		}
	}
	for k := 0; k < n; k++ {
		m, err := e.Search(keycmp.EncodeInt32(int32(k)), dst)
		if deleted[k] {
			if err != ErrKeyNotFound {
				t.Fatalf("expected key %d to be gone, got err=%v", k, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("search surviving key %d: %v", k, err)
		}
		if string(dst[:m]) != string(valueFor(int32(k))) {
			t.Fatalf("surviving key %d has wrong value", k)
		}
	}
}

func TestDeleteDrainsTreeBackToEmpty(t *testing.T) {
	e := newTestEngine(t)
	const n = 800
	for k := 0; k < n; k++ {
		if err := e.Insert(keycmp.EncodeInt32(int32(k)), valueFor(int32(k))); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	for k := 0; k < n; k++ {
		if err := e.Delete(keycmp.EncodeInt32(int32(k))); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
	}
	if e.hdr.KeyTotal != 0 {
		t.Fatalf("expected KeyTotal 0 after draining, got %d", e.hdr.KeyTotal)
	}
	if e.hdr.KeyBlockCount != 1 {
		t.Fatalf("expected the tree to collapse back to just the root block, got %d", e.hdr.KeyBlockCount)
	}

	// Root must again accept a fresh insert as an empty leaf.
	if err := e.Insert(keycmp.EncodeInt32(999), valueFor(999)); err != nil {
		t.Fatal(err)
	}
}

func TestAscendingInsertThenDescendingDelete(t *testing.T) {
	e := newTestEngine(t)
	const n = 1500
	for k := 0; k < n; k++ {
		if err := e.Insert(keycmp.EncodeInt32(int32(k)), valueFor(int32(k))); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	for k := n - 1; k >= 0; k-- {
		if err := e.Delete(keycmp.EncodeInt32(int32(k))); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
		dst := make([]byte, 16)
		if _, err := e.Search(keycmp.EncodeInt32(int32(k)), dst); err != ErrKeyNotFound {
			t.Fatalf("key %d should be gone immediately after its own delete", k)
		}
	}
}

func TestDescendingInsertThenAscendingDelete(t *testing.T) {
	e := newTestEngine(t)
	const n = 1500
	for k := n - 1; k >= 0; k-- {
		if err := e.Insert(keycmp.EncodeInt32(int32(k)), valueFor(int32(k))); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
	}
	for k := 0; k < n; k++ {
		if err := e.Delete(keycmp.EncodeInt32(int32(k))); err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
	}
	if e.hdr.KeyTotal != 0 {
		t.Fatalf("expected KeyTotal 0, got %d", e.hdr.KeyTotal)
	}
}
