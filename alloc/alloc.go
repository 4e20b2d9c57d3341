// Package alloc manages the lifecycle of on-disk blocks: handing out a
// fresh or recycled block to either the B-tree (package btree) or the
// value heap (package heap), and returning retired blocks to the shared
// free list threaded through every block's header.
package alloc

import (
	"fmt"

	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/node"
)

// Allocator hands out and reclaims blocks for a single open database file.
// It is not safe for concurrent use: callers (package filedb) are expected
// to be single-threaded, single-writer programs, per SPEC_FULL.md §5.
type Allocator struct {
	store *block.Store
	hdr   *header.Header
}

// New builds an Allocator bound to store and the live, mutable header.
// The header is shared with the caller; Allocate/Release mutate its block
// counts and free-list head in place.
func New(store *block.Store, hdr *header.Header) *Allocator {
	return &Allocator{store: store, hdr: hdr}
}

// Allocate returns a zeroed, in-use block of the given class, either popped
// from the free list or appended at end-of-file. The returned buffer is
// exactly block.Size bytes and already carries a stamped header; the
// caller still owns writing the block back to disk once it has filled in
// the body.
func (a *Allocator) Allocate(class node.Class, leaf bool) (buf []byte, offset int64, err error) {
	buf = make([]byte, block.Size)

	if a.hdr.FreeHead != 0 {
		offset = a.hdr.FreeHead
		if err := a.store.ReadBlock(offset, buf); err != nil {
			return nil, 0, fmt.Errorf("alloc: reading free-list head: %w", err)
		}
		a.hdr.FreeHead = node.DecodeHeader(buf).FreeNext
	} else {
		node.ZeroBody(buf)
		size, err := a.store.FileSize()
		if err != nil {
			return nil, 0, fmt.Errorf("alloc: stat: %w", err)
		}
		offset = size
		node.SetSelf(buf, offset)
		if _, err := a.store.AppendBlock(buf); err != nil {
			return nil, 0, fmt.Errorf("alloc: appending new block: %w", err)
		}
	}

	h := node.DecodeHeader(buf)
	h.Self = offset
	h.Num = 0
	h.FreeNext = 0
	h.InUse = true
	h.Class = class
	h.Leaf = leaf
	h.HighWater = node.HeaderSize
	node.EncodeHeader(buf, h)
	node.ZeroBody(buf)
	node.RestampCRC(buf)

	// The append/free-list-pop above wrote whatever buf held before these
	// header fields were stamped; persist the real, fully-stamped block
	// now so a caller that reads it back before its first WriteBlock (or
	// never modifies the body at all, e.g. reserving the root) still sees
	// a consistent in-use block rather than a stale or zeroed one.
	if err := a.store.WriteBlock(offset, buf); err != nil {
		return nil, 0, fmt.Errorf("alloc: stamping allocated block: %w", err)
	}

	if class == node.ClassIndex {
		a.hdr.KeyBlockCount++
	} else {
		a.hdr.ValueBlockCount++
		a.hdr.CurrentValueBlock = offset
	}

	return buf, offset, nil
}

// Release pushes the block at offset onto the free list and updates the
// header's per-class live block count. Callers must never release the
// permanent root block at block.RootOffset.
func (a *Allocator) Release(buf []byte, offset int64) error {
	if offset == block.RootOffset {
		return fmt.Errorf("alloc: refusing to release the permanent root block")
	}

	class := node.BlockClass(buf)
	node.SetSelf(buf, offset)
	h := node.DecodeHeader(buf)
	h.FreeNext = a.hdr.FreeHead
	h.Num = 0
	h.InUse = false
	node.EncodeHeader(buf, h)

	if err := a.store.WriteBlock(offset, buf); err != nil {
		return fmt.Errorf("alloc: writing retired block: %w", err)
	}
	a.hdr.FreeHead = offset

	if class == node.ClassIndex {
		a.hdr.KeyBlockCount--
	} else {
		a.hdr.ValueBlockCount--
		if a.hdr.CurrentValueBlock == offset {
			a.hdr.CurrentValueBlock = 0
		}
	}
	return nil
}
