// Package btree implements the paged B-tree described by SPEC_FULL.md: a
// top-down, single-pass, preemptive-split/preemptive-merge B-tree with no
// parent stack, where every key slot carries its own value reference
// alongside its left child pointer (the "child-in-key-slot" layout from
// package node).
//
// Every Engine method completes a full top-to-bottom descent using at
// most five block-sized scratch buffers, matching the bound the original
// C implementation (original_source/src/db.c) operates under.
package btree

import (
	"fmt"

	"github.com/flashlog/filedb/alloc"
	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/heap"
	"github.com/flashlog/filedb/keycmp"
	"github.com/flashlog/filedb/node"
)

// Sentinel errors returned by Engine methods.
var (
	ErrInvalidKey          = fmt.Errorf("btree: key is invalid for this file's key kind/size")
	ErrValueTooBig         = fmt.Errorf("btree: value too large to ever fit in a single block")
	ErrDuplicateKey        = fmt.Errorf("btree: key already exists")
	ErrKeyNotFound         = fmt.Errorf("btree: key not found")
	ErrDestinationTooSmall = fmt.Errorf("btree: destination buffer too small for the stored value")
)

// Engine is the B-tree half of an open database file: everything that
// touches index blocks. It is bound to a shared header and value heap and
// is not safe for concurrent use.
type Engine struct {
	store  *block.Store
	hdr    *header.Header
	layout node.Layout
	cmp    keycmp.Comparator
	kind   keycmp.Kind
	alloc  *alloc.Allocator
	heap   *heap.Heap

	bufNode      []byte
	bufNodeMatch []byte
	bufSubX      []byte
	bufSubY      []byte
	bufSubW      []byte
}

// New builds an Engine over an already-open store, sharing the live
// header, layout, comparator, allocator and value heap with the rest of
// the database.
func New(store *block.Store, hdr *header.Header, layout node.Layout, kind keycmp.Kind, cmp keycmp.Comparator, a *alloc.Allocator, h *heap.Heap) *Engine {
	return &Engine{
		store:        store,
		hdr:          hdr,
		layout:       layout,
		cmp:          cmp,
		kind:         kind,
		alloc:        a,
		heap:         h,
		bufNode:      make([]byte, block.Size),
		bufNodeMatch: make([]byte, block.Size),
		bufSubX:      make([]byte, block.Size),
		bufSubY:      make([]byte, block.Size),
		bufSubW:      make([]byte, block.Size),
	}
}

// encodeKey validates rawKey against this file's key kind and returns its
// canonical, exactly-KeySize-byte on-disk form.
func (e *Engine) encodeKey(rawKey []byte) ([]byte, error) {
	switch e.kind {
	case keycmp.String:
		if len(rawKey) >= e.layout.KeySize {
			return nil, fmt.Errorf("%w: string key too long for a %d-byte slot", ErrInvalidKey, e.layout.KeySize)
		}
		return keycmp.PadString(rawKey, e.layout.KeySize), nil
	default:
		if len(rawKey) != e.layout.KeySize {
			return nil, fmt.Errorf("%w: expected a %d-byte key, got %d", ErrInvalidKey, e.layout.KeySize, len(rawKey))
		}
		return rawKey, nil
	}
}

func (e *Engine) slot(buf []byte, i int) node.KeySlot {
	return node.Slot(buf, i, e.layout)
}

// binarySearch mirrors original_source/src/db.c's key_binary_search: it
// returns the matching slot index if key is present, or -(insertion
// point)-1 if not.
func (e *Engine) binarySearch(buf []byte, key []byte) int {
	low, high := 0, int(node.Num(buf))-1
	for low <= high {
		mid := low + (high-low)/2
		rc := e.cmp(key, e.slot(buf, mid).Key())
		switch {
		case rc == 0:
			return mid
		case rc > 0:
			low = mid + 1
		default:
			high = mid - 1
		}
	}
	return -low - 1
}

func (e *Engine) readBlock(offset int64, buf []byte) error {
	return e.store.ReadBlock(offset, buf)
}

func (e *Engine) writeBlock(buf []byte) error {
	return e.store.WriteBlock(node.Self(buf), buf)
}

// splitChild splits sub_x (the current child at position in node) in two,
// promoting its median key into node and installing sub_y as the new
// right sibling. Grounded on btree_split_child in original_source/src/db.c.
func (e *Engine) splitChild(nodeBuf []byte, position int, subX []byte, subXOffset int64, subY []byte, subYOffset int64) error {
	mid := e.layout.Mid()
	xNum := int(node.Num(subX))

	node.MoveSlots(subY, 0, subX, mid+1, xNum-mid-1, e.layout)
	node.SetNum(subY, uint64(xNum-mid-1))
	node.SetNum(subX, uint64(mid))

	numNode := int(node.Num(nodeBuf))
	node.MoveSlots(nodeBuf, position+1, nodeBuf, position, numNode-position, e.layout)

	sep := e.slot(nodeBuf, position)
	sep.CopyKeyAndValueRef(e.slot(subX, mid))
	sep.SetChild(subXOffset)
	e.slot(nodeBuf, position+1).SetChild(subYOffset)
	node.SetNum(nodeBuf, uint64(numNode+1))

	node.RestampCRC(nodeBuf)
	node.RestampCRC(subX)
	node.RestampCRC(subY)

	if err := e.writeBlock(nodeBuf); err != nil {
		return err
	}
	if err := e.writeBlock(subX); err != nil {
		return err
	}
	return e.writeBlock(subY)
}

// mergeChildren merges sub_y into sub_x, absorbing node's separator key at
// position, and retires sub_y. If the merge empties node of all keys (only
// possible when node is the root, per the invariant that every non-root
// node this function operates on already holds more than MinKeys keys),
// node's body is replaced by sub_x's and sub_x is retired too; the second
// return value reports whether that collapse happened. Grounded on
// btree_merge in original_source/src/db.c.
func (e *Engine) mergeChildren(nodeBuf []byte, position int, subX []byte, subXOffset int64, subY []byte, subYOffset int64) (bool, error) {
	xNum := int(node.Num(subX))
	yNum := int(node.Num(subY))

	sep := e.slot(nodeBuf, position)
	e.slot(subX, xNum).CopyKeyAndValueRef(sep)
	node.MoveSlots(subX, xNum+1, subY, 0, yNum, e.layout)
	node.SetNum(subX, uint64(xNum+1+yNum))

	numNode := int(node.Num(nodeBuf))
	node.MoveSlots(nodeBuf, position, nodeBuf, position+1, numNode-position-1, e.layout)
	e.slot(nodeBuf, position).SetChild(subXOffset)
	node.SetNum(nodeBuf, uint64(numNode-1))

	if err := e.alloc.Release(subY, subYOffset); err != nil {
		return false, err
	}

	if node.Num(nodeBuf) == 0 {
		copy(nodeBuf[node.HeaderSize:], subX[node.HeaderSize:])
		node.SetLeaf(nodeBuf, node.IsLeaf(subX))
		node.SetNum(nodeBuf, node.Num(subX))
		node.RestampCRC(nodeBuf)
		if err := e.alloc.Release(subX, subXOffset); err != nil {
			return false, err
		}
		if err := e.writeBlock(nodeBuf); err != nil {
			return false, err
		}
		return true, nil
	}

	node.RestampCRC(subX)
	node.RestampCRC(nodeBuf)
	if err := e.writeBlock(subX); err != nil {
		return false, err
	}
	return false, e.writeBlock(nodeBuf)
}

// borrowFromRight rotates sub_x's separator (node[i]) down into sub_x and
// sub_y's leftmost key up into node[i], moving one key from sub_y to
// sub_x. Grounded on the "borrow from right" branch of db_delete.
func (e *Engine) borrowFromRight(nodeBuf []byte, i int, subX, subY []byte) {
	xNum := int(node.Num(subX))
	sep := e.slot(nodeBuf, i)

	e.slot(subX, xNum).CopyKeyAndValueRef(sep)
	e.slot(subX, xNum+1).SetChild(e.slot(subY, 0).Child())
	node.SetNum(subX, uint64(xNum+1))

	sep.CopyKeyAndValueRef(e.slot(subY, 0))
	yNum := int(node.Num(subY))
	node.MoveSlots(subY, 0, subY, 1, yNum-1, e.layout)
	node.SetNum(subY, uint64(yNum-1))

	node.RestampCRC(nodeBuf)
	node.RestampCRC(subX)
	node.RestampCRC(subY)
}

// borrowFromLeft rotates sub_x's separator (node[i-1]) down into sub_x and
// sub_w's rightmost key up into node[i-1], moving one key from sub_w to
// sub_x. Grounded on the "borrow from left" branch of db_delete.
func (e *Engine) borrowFromLeft(nodeBuf []byte, i int, subX, subW []byte) {
	xNum := int(node.Num(subX))
	node.MoveSlots(subX, 1, subX, 0, xNum, e.layout)

	slot0 := e.slot(subX, 0)
	sep := e.slot(nodeBuf, i-1)
	wNum := int(node.Num(subW))

	slot0.CopyKeyAndValueRef(sep)
	slot0.SetChild(e.slot(subW, wNum).Child())
	node.SetNum(subX, uint64(xNum+1))

	sep.CopyKeyAndValueRef(e.slot(subW, wNum-1))
	node.SetNum(subW, uint64(wNum-1))

	node.RestampCRC(nodeBuf)
	node.RestampCRC(subX)
	node.RestampCRC(subW)
}
