// Package heap implements the bump-allocated value heap: values are
// packed sequentially into a block's "current" region as they are
// inserted, tracked by a monotonically advancing high-water mark, and the
// whole block is returned to the free list once its last live value is
// removed.
package heap

import (
	"fmt"

	"github.com/flashlog/filedb/alloc"
	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/node"
)

// ErrTooBig is returned by Allocate when a value's framed size cannot fit
// in a single block, even an entirely empty one.
var ErrTooBig = fmt.Errorf("heap: value too big for a single block")

// Heap owns the value-block lifecycle for one open database file.
type Heap struct {
	store *block.Store
	hdr   *header.Header
	alloc *alloc.Allocator
}

// New builds a Heap bound to store, the live header, and the shared
// Allocator used to create and retire value blocks.
func New(store *block.Store, hdr *header.Header, a *alloc.Allocator) *Heap {
	return &Heap{store: store, hdr: hdr, alloc: a}
}

// Allocate frames payload and appends it into the current value block,
// rolling over to a freshly allocated block first if there is not enough
// room left. It returns the absolute file offset of the new frame.
func (h *Heap) Allocate(payload []byte) (int64, error) {
	frameSize := node.FrameSize(len(payload))
	if node.HeaderSize+frameSize > block.Size {
		return 0, ErrTooBig
	}

	var buf []byte
	var blockOffset int64
	var err error

	if h.hdr.CurrentValueBlock != 0 {
		buf = make([]byte, block.Size)
		blockOffset = h.hdr.CurrentValueBlock
		if err := h.store.ReadBlock(blockOffset, buf); err != nil {
			return 0, fmt.Errorf("heap: reading current value block: %w", err)
		}
		if int(node.HighWater(buf))+frameSize > block.Size {
			h.hdr.CurrentValueBlock = 0
			buf = nil
		}
	}

	if buf == nil {
		buf, blockOffset, err = h.alloc.Allocate(node.ClassValue, false)
		if err != nil {
			return 0, fmt.Errorf("heap: allocating a fresh value block: %w", err)
		}
	}

	hw := int(node.HighWater(buf))
	frame := node.FrameAt(buf, hw, len(payload))
	frame.Put(payload)

	frameOffset := blockOffset + int64(hw)

	if err := node.SetHighWater(buf, uint32(hw+frameSize)); err != nil {
		return 0, fmt.Errorf("heap: %w", err)
	}
	node.SetNum(buf, node.Num(buf)+1)

	if err := h.store.WriteBlock(blockOffset, buf); err != nil {
		return 0, fmt.Errorf("heap: writing value block: %w", err)
	}
	h.hdr.CurrentValueBlock = blockOffset

	return frameOffset, nil
}

// Read loads the value frame at offset into a freshly allocated byte
// slice and verifies its checksum.
func (h *Heap) Read(offset int64) ([]byte, error) {
	blockOffset := ownerBlockOffset(offset)
	buf := make([]byte, block.Size)
	if err := h.store.ReadBlock(blockOffset, buf); err != nil {
		return nil, fmt.Errorf("heap: reading value block: %w", err)
	}
	inBlock := int(offset - blockOffset)
	size, _ := node.FrameHeaderAt(buf, inBlock)
	frame := node.FrameAt(buf, inBlock, size)
	if !frame.VerifyCRC() {
		return nil, fmt.Errorf("heap: value frame at %d failed its checksum", offset)
	}
	out := make([]byte, size)
	copy(out, frame.Bytes())
	return out, nil
}

// Release decrements the live-frame count of the value block owning
// offset, retiring the whole block through the Allocator once its count
// reaches zero.
func (h *Heap) Release(offset int64) error {
	blockOffset := ownerBlockOffset(offset)
	buf := make([]byte, block.Size)
	if err := h.store.ReadBlock(blockOffset, buf); err != nil {
		return fmt.Errorf("heap: reading value block to release from: %w", err)
	}

	remaining := node.Num(buf) - 1
	node.SetNum(buf, remaining)

	if remaining == 0 {
		if h.hdr.CurrentValueBlock == blockOffset {
			h.hdr.CurrentValueBlock = 0
		}
		return h.alloc.Release(buf, blockOffset)
	}
	if err := h.store.WriteBlock(blockOffset, buf); err != nil {
		return fmt.Errorf("heap: writing value block after release: %w", err)
	}
	return nil
}

// ownerBlockOffset rounds a frame's absolute file offset down to the
// start of the block.Size-aligned block that contains it, the region
// after the fixed-size file header being laid out as consecutive
// block.Size blocks.
func ownerBlockOffset(offset int64) int64 {
	rel := offset - block.RootOffset
	return block.RootOffset + (rel/int64(block.Size))*int64(block.Size)
}
