package heap

import (
	"bytes"
	"os"
	"testing"

	"github.com/flashlog/filedb/alloc"
	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/node"
)

func withHeap(t *testing.T, fn func(h *Heap, hdr *header.Header)) {
	f, err := os.CreateTemp("", "heap-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	s := block.Open(f)
	if err := s.WriteHeader(make([]byte, block.HeaderSize)); err != nil {
		t.Fatal(err)
	}
	hdr := &header.Header{}
	a := alloc.New(s, hdr)
	// Reserve the permanent root block so value blocks never land there.
	if _, offset, err := a.Allocate(node.ClassIndex, true); err != nil || offset != block.RootOffset {
		t.Fatalf("failed to reserve root block: offset=%d err=%v", offset, err)
	}
	fn(New(s, hdr, a), hdr)
}

func TestAllocateAndReadRoundTrip(t *testing.T) {
	withHeap(t, func(h *Heap, hdr *header.Header) {
		offset, err := h.Allocate([]byte("hello, world"))
		if err != nil {
			t.Fatal(err)
		}
		got, err := h.Read(offset)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, []byte("hello, world")) {
			t.Fatalf("unexpected payload %q", got)
		}
	})
}

func TestAllocatePacksMultipleValuesIntoOneBlock(t *testing.T) {
	withHeap(t, func(h *Heap, hdr *header.Header) {
		o1, err := h.Allocate([]byte("aaa"))
		if err != nil {
			t.Fatal(err)
		}
		o2, err := h.Allocate([]byte("bbb"))
		if err != nil {
			t.Fatal(err)
		}
		if ownerBlockOffset(o1) != ownerBlockOffset(o2) {
			t.Fatalf("expected both small values to share a block: %d vs %d", ownerBlockOffset(o1), ownerBlockOffset(o2))
		}
		if hdr.ValueBlockCount != 1 {
			t.Fatalf("expected exactly one value block, got %d", hdr.ValueBlockCount)
		}
	})
}

func TestAllocateRollsOverWhenBlockFull(t *testing.T) {
	withHeap(t, func(h *Heap, hdr *header.Header) {
		big := make([]byte, block.Size-node.HeaderSize-node.ValueFramePrefix-16)
		first, err := h.Allocate(big)
		if err != nil {
			t.Fatal(err)
		}
		second, err := h.Allocate([]byte("overflow"))
		if err != nil {
			t.Fatal(err)
		}
		if ownerBlockOffset(first) == ownerBlockOffset(second) {
			t.Fatal("expected the second value to roll over into a new block")
		}
		if hdr.ValueBlockCount != 2 {
			t.Fatalf("expected two value blocks, got %d", hdr.ValueBlockCount)
		}
	})
}

func TestAllocateRejectsOversizedValue(t *testing.T) {
	withHeap(t, func(h *Heap, hdr *header.Header) {
		huge := make([]byte, block.Size)
		if _, err := h.Allocate(huge); err != ErrTooBig {
			t.Fatalf("expected ErrTooBig, got %v", err)
		}
	})
}

func TestReleaseLastValueRetiresBlock(t *testing.T) {
	withHeap(t, func(h *Heap, hdr *header.Header) {
		offset, err := h.Allocate([]byte("solo"))
		if err != nil {
			t.Fatal(err)
		}
		if hdr.ValueBlockCount != 1 {
			t.Fatalf("expected one value block, got %d", hdr.ValueBlockCount)
		}
		if err := h.Release(offset); err != nil {
			t.Fatal(err)
		}
		if hdr.ValueBlockCount != 0 {
			t.Fatalf("expected the block to be retired, got count %d", hdr.ValueBlockCount)
		}
		if hdr.CurrentValueBlock != 0 {
			t.Fatal("expected CurrentValueBlock cleared after retiring the only value block")
		}
	})
}

func TestReleaseKeepsBlockAliveWhileValuesRemain(t *testing.T) {
	withHeap(t, func(h *Heap, hdr *header.Header) {
		o1, err := h.Allocate([]byte("aaa"))
		if err != nil {
			t.Fatal(err)
		}
		_, err = h.Allocate([]byte("bbb"))
		if err != nil {
			t.Fatal(err)
		}
		if err := h.Release(o1); err != nil {
			t.Fatal(err)
		}
		if hdr.ValueBlockCount != 1 {
			t.Fatalf("expected the shared block to survive, got count %d", hdr.ValueBlockCount)
		}
	})
}

func TestRetiredBlockIsRecycledByNextAllocation(t *testing.T) {
	withHeap(t, func(h *Heap, hdr *header.Header) {
		offset, err := h.Allocate([]byte("solo"))
		if err != nil {
			t.Fatal(err)
		}
		retired := ownerBlockOffset(offset)
		if err := h.Release(offset); err != nil {
			t.Fatal(err)
		}

		next, err := h.Allocate([]byte("fresh"))
		if err != nil {
			t.Fatal(err)
		}
		if ownerBlockOffset(next) != retired {
			t.Fatalf("expected the retired block %d to be recycled, got %d", retired, ownerBlockOffset(next))
		}
	})
}
