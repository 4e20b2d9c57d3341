package btree

import (
	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/node"
)

// deferState tracks the single in-flight promotion target during a
// delete's descent: at most one of a predecessor (deferMore, the left
// subtree's maximum) or a successor (deferLess, the right subtree's
// minimum) can be pending at a time, mirroring db_delete's flag/i_match
// variables in original_source/src/db.c.
type deferState int

const (
	deferNone deferState = iota
	deferLess
	deferMore
)

// Insert adds rawKey/value to the tree. It reports ErrDuplicateKey if
// rawKey is already present; no key or value is added or changed in that
// case, though full nodes met on the way down may already have been split.
// Grounded on db_insert in original_source/src/db.c.
func (e *Engine) Insert(rawKey, value []byte) error {
	key, err := e.encodeKey(rawKey)
	if err != nil {
		return err
	}
	if node.HeaderSize+node.FrameSize(len(value)) > block.Size {
		return ErrValueTooBig
	}

	nodeBuf := e.bufNode
	subX := e.bufSubX
	subY := e.bufSubY

	if err := e.readBlock(block.RootOffset, nodeBuf); err != nil {
		return err
	}

	if int(node.Num(nodeBuf)) >= e.layout.M-1 {
		leaf := node.IsLeaf(nodeBuf)
		subXBuf, subXOffset, err := e.alloc.Allocate(node.ClassIndex, leaf)
		if err != nil {
			return err
		}
		subYBuf, subYOffset, err := e.alloc.Allocate(node.ClassIndex, leaf)
		if err != nil {
			return err
		}

		copy(subXBuf[node.HeaderSize:], nodeBuf[node.HeaderSize:])
		node.SetNum(subXBuf, node.Num(nodeBuf))
		node.RestampCRC(subXBuf)

		node.SetNum(nodeBuf, 0)
		node.SetLeaf(nodeBuf, false)
		e.slot(nodeBuf, 0).SetChild(subXOffset)
		node.RestampCRC(nodeBuf)

		if err := e.splitChild(nodeBuf, 0, subXBuf, subXOffset, subYBuf, subYOffset); err != nil {
			return err
		}
	}

	for !node.IsLeaf(nodeBuf) {
		i := e.binarySearch(nodeBuf, key)
		if i >= 0 {
			return ErrDuplicateKey
		}
		i = -(i + 1)

		childOffset := e.slot(nodeBuf, i).Child()
		if err := e.readBlock(childOffset, subX); err != nil {
			return err
		}

		if int(node.Num(subX)) < e.layout.M-1 {
			copy(nodeBuf, subX)
			continue
		}

		subYOffset, err := e.allocateSibling(node.IsLeaf(subX))
		if err != nil {
			return err
		}
		if err := e.splitChild(nodeBuf, i, subX, childOffset, subY, subYOffset); err != nil {
			return err
		}

		rc := e.cmp(key, e.slot(nodeBuf, i).Key())
		switch {
		case rc == 0:
			return ErrDuplicateKey
		case rc > 0:
			copy(nodeBuf, subY)
		default:
			copy(nodeBuf, subX)
		}
	}

	i := e.binarySearch(nodeBuf, key)
	if i >= 0 {
		return ErrDuplicateKey
	}
	i = -(i + 1)

	valueOffset, err := e.heap.Allocate(value)
	if err != nil {
		return err
	}

	num := int(node.Num(nodeBuf))
	node.MoveSlots(nodeBuf, i+1, nodeBuf, i, num-i, e.layout)
	slot := e.slot(nodeBuf, i)
	slot.SetKeyBytes(key)
	slot.SetValueRef(valueOffset)
	node.SetNum(nodeBuf, uint64(num+1))
	node.RestampCRC(nodeBuf)

	if err := e.writeBlock(nodeBuf); err != nil {
		return err
	}

	e.hdr.KeyTotal++
	return nil
}

// allocateSibling allocates a new index block into e.bufSubY's backing
// array and returns its offset, leaving the freshly stamped header
// already in e.bufSubY.
func (e *Engine) allocateSibling(leaf bool) (int64, error) {
	buf, offset, err := e.alloc.Allocate(node.ClassIndex, leaf)
	if err != nil {
		return 0, err
	}
	copy(e.bufSubY, buf)
	return offset, nil
}

// Delete removes rawKey from the tree. It reports ErrKeyNotFound if
// rawKey is not present. Grounded on db_delete in
// original_source/src/db.c.
func (e *Engine) Delete(rawKey []byte) error {
	key, err := e.encodeKey(rawKey)
	if err != nil {
		return err
	}

	nodeBuf := e.bufNode
	nodeMatch := e.bufNodeMatch
	subX := e.bufSubX
	subY := e.bufSubY
	subW := e.bufSubW

	flag := deferNone
	iMatch := -1

	if err := e.readBlock(block.RootOffset, nodeBuf); err != nil {
		return err
	}

	for !node.IsLeaf(nodeBuf) {
		var i int
		switch flag {
		case deferLess:
			i = -1
		case deferMore:
			i = -int(node.Num(nodeBuf)) - 1
		default:
			i = e.binarySearch(nodeBuf, key)
		}

		if i >= 0 {
			childOffset := e.slot(nodeBuf, i).Child()
			if err := e.readBlock(childOffset, subX); err != nil {
				return err
			}
			if int(node.Num(subX)) > e.layout.MinKeys() {
				flag = deferMore
				iMatch = i
				copy(nodeMatch, nodeBuf)
				copy(nodeBuf, subX)
				continue
			}

			rightOffset := e.slot(nodeBuf, i+1).Child()
			if err := e.readBlock(rightOffset, subY); err != nil {
				return err
			}
			if int(node.Num(subY)) > e.layout.MinKeys() {
				flag = deferLess
				iMatch = i
				copy(nodeMatch, nodeBuf)
				copy(nodeBuf, subY)
				continue
			}

			collapsed, err := e.mergeChildren(nodeBuf, i, subX, childOffset, subY, rightOffset)
			if err != nil {
				return err
			}
			if !collapsed {
				copy(nodeBuf, subX)
			}
			continue
		}

		i = -(i + 1)
		childOffset := e.slot(nodeBuf, i).Child()
		if err := e.readBlock(childOffset, subX); err != nil {
			return err
		}

		if int(node.Num(subX)) > e.layout.MinKeys() {
			copy(nodeBuf, subX)
			continue
		}

		numNode := int(node.Num(nodeBuf))
		haveRight := i+1 <= numNode
		var rightOffset int64
		if haveRight {
			rightOffset = e.slot(nodeBuf, i+1).Child()
			if err := e.readBlock(rightOffset, subY); err != nil {
				return err
			}
		}
		haveLeft := i-1 >= 0 && (!haveRight || int(node.Num(subY)) <= e.layout.MinKeys())
		var leftOffset int64
		if haveLeft {
			leftOffset = e.slot(nodeBuf, i-1).Child()
			if err := e.readBlock(leftOffset, subW); err != nil {
				return err
			}
		}

		switch {
		case haveRight && int(node.Num(subY)) > e.layout.MinKeys():
			e.borrowFromRight(nodeBuf, i, subX, subY)
			if err := e.writeBlock(nodeBuf); err != nil {
				return err
			}
			if err := e.writeBlock(subX); err != nil {
				return err
			}
			if err := e.writeBlock(subY); err != nil {
				return err
			}
			copy(nodeBuf, subX)

		case i-1 >= 0 && int(node.Num(subW)) > e.layout.MinKeys():
			e.borrowFromLeft(nodeBuf, i, subX, subW)
			if err := e.writeBlock(nodeBuf); err != nil {
				return err
			}
			if err := e.writeBlock(subX); err != nil {
				return err
			}
			if err := e.writeBlock(subW); err != nil {
				return err
			}
			copy(nodeBuf, subX)

		default:
			if haveRight {
				collapsed, err := e.mergeChildren(nodeBuf, i, subX, childOffset, subY, rightOffset)
				if err != nil {
					return err
				}
				if !collapsed {
					copy(nodeBuf, subX)
				}
			} else {
				collapsed, err := e.mergeChildren(nodeBuf, i-1, subW, leftOffset, subX, childOffset)
				if err != nil {
					return err
				}
				if !collapsed {
					copy(nodeBuf, subW)
				}
			}
		}
	}

	var targetOffset int64
	switch flag {
	case deferLess:
		targetOffset = e.slot(nodeMatch, iMatch).ValueRef()
		e.slot(nodeMatch, iMatch).CopyKeyAndValueRef(e.slot(nodeBuf, 0))
		numNode := int(node.Num(nodeBuf))
		node.MoveSlots(nodeBuf, 0, nodeBuf, 1, numNode-1, e.layout)
		node.SetNum(nodeBuf, uint64(numNode-1))
		node.RestampCRC(nodeMatch)
		node.RestampCRC(nodeBuf)
		if err := e.writeBlock(nodeMatch); err != nil {
			return err
		}
		if err := e.writeBlock(nodeBuf); err != nil {
			return err
		}

	case deferMore:
		targetOffset = e.slot(nodeMatch, iMatch).ValueRef()
		numNode := int(node.Num(nodeBuf))
		e.slot(nodeMatch, iMatch).CopyKeyAndValueRef(e.slot(nodeBuf, numNode-1))
		node.SetNum(nodeBuf, uint64(numNode-1))
		node.RestampCRC(nodeMatch)
		node.RestampCRC(nodeBuf)
		if err := e.writeBlock(nodeMatch); err != nil {
			return err
		}
		if err := e.writeBlock(nodeBuf); err != nil {
			return err
		}

	default:
		i := e.binarySearch(nodeBuf, key)
		if i < 0 {
			return ErrKeyNotFound
		}
		targetOffset = e.slot(nodeBuf, i).ValueRef()
		numNode := int(node.Num(nodeBuf))
		node.MoveSlots(nodeBuf, i, nodeBuf, i+1, numNode-i-1, e.layout)
		node.SetNum(nodeBuf, uint64(numNode-1))
		node.RestampCRC(nodeBuf)
		if err := e.writeBlock(nodeBuf); err != nil {
			return err
		}
	}

	if err := e.heap.Release(targetOffset); err != nil {
		return err
	}
	e.hdr.KeyTotal--
	return nil
}

// Search looks up rawKey and copies its value into dst, returning the
// value's length. It reports ErrKeyNotFound if rawKey is absent, and
// ErrDestinationTooSmall if dst is shorter than the stored value.
// Grounded on db_search in original_source/src/db.c.
func (e *Engine) Search(rawKey []byte, dst []byte) (int, error) {
	key, err := e.encodeKey(rawKey)
	if err != nil {
		return 0, err
	}

	buf := e.bufNode
	offset := int64(block.RootOffset)

	for {
		if err := e.readBlock(offset, buf); err != nil {
			return 0, err
		}
		i := e.binarySearch(buf, key)
		if i >= 0 {
			valueOffset := e.slot(buf, i).ValueRef()
			payload, err := e.heap.Read(valueOffset)
			if err != nil {
				return 0, err
			}
			if len(payload) > len(dst) {
				return 0, ErrDestinationTooSmall
			}
			copy(dst, payload)
			return len(payload), nil
		}
		i = -(i + 1)
		offset = e.slot(buf, i).Child()
		if offset == 0 {
			return 0, ErrKeyNotFound
		}
	}
}
