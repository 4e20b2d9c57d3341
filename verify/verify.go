// Package verify implements the full-file consistency check run at Open
// and on demand via the public Verify API: a linear scan of every block
// that re-derives the live key and value counts from scratch and cross
// checks them against the header's bookkeeping, the way db_checker does
// in original_source/src/db.c. It additionally verifies each in-use
// block's CRC32 and, for index blocks, that keys are held in strictly
// ascending order.
package verify

import (
	"fmt"

	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/keycmp"
	"github.com/flashlog/filedb/node"
)

// ErrCorrupt wraps every consistency failure this package detects; use
// errors.Is/As on the wrapped cause for programmatic handling, or inspect
// the message for a human-readable diagnosis.
var ErrCorrupt = fmt.Errorf("verify: database is corrupt")

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...)
}

// Verify re-derives the file's live block and key/value counts from a
// full linear scan and cross-checks them against hdr. store must be
// positioned at a file whose header has already round-tripped through
// header.Decode.
func Verify(store *block.Store, hdr header.Header) error {
	cmp, err := keycmp.ForKind(hdr.KeyKind, hdr.KeySize)
	if err != nil {
		return corrupt("header key kind/size: %w", err)
	}
	wantStride := node.AlignUp(node.SlotPrefix+hdr.KeySize, node.Alignment)
	if hdr.SlotStride != wantStride {
		return corrupt("header slot stride %d does not match derived stride %d", hdr.SlotStride, wantStride)
	}
	wantM := (block.Size-node.HeaderSize)/hdr.SlotStride - 1
	if hdr.M != wantM {
		return corrupt("header branching factor %d does not match derived M %d", hdr.M, wantM)
	}

	size, err := store.FileSize()
	if err != nil {
		return err
	}
	if size < int64(block.HeaderSize+block.Size) || (size-int64(block.HeaderSize))%int64(block.Size) != 0 {
		return corrupt("file size %d is not header-plus-whole-blocks", size)
	}

	layout := node.Layout{KeySize: hdr.KeySize, SlotStride: hdr.SlotStride, M: hdr.M, BlockSize: block.Size}

	var keyTotal, valueTotal, keyBlocks, valueBlocks uint64
	buf := make([]byte, block.Size)

	for offset := int64(block.RootOffset); offset < size; offset += int64(block.Size) {
		if err := store.ReadBlock(offset, buf); err != nil {
			return corrupt("reading block at %d: %w", offset, err)
		}
		if node.Self(buf) != offset {
			return corrupt("block at %d has self-offset %d", offset, node.Self(buf))
		}
		if !node.InUse(buf) {
			continue
		}
		if !node.VerifyCRC(buf) {
			return corrupt("block at %d failed its checksum", offset)
		}

		switch node.BlockClass(buf) {
		case node.ClassIndex:
			keyTotal += node.Num(buf)
			keyBlocks++
			if err := checkKeyOrder(buf, layout, cmp); err != nil {
				return corrupt("block at %d: %w", offset, err)
			}
		case node.ClassValue:
			valueTotal += node.Num(buf)
			valueBlocks++
		}
	}

	if keyTotal != valueTotal {
		return corrupt("live key count %d does not match live value count %d", keyTotal, valueTotal)
	}
	if keyTotal != hdr.KeyTotal {
		return corrupt("live key count %d does not match header KeyTotal %d", keyTotal, hdr.KeyTotal)
	}
	if keyBlocks != hdr.KeyBlockCount {
		return corrupt("live index block count %d does not match header KeyBlockCount %d", keyBlocks, hdr.KeyBlockCount)
	}
	if valueBlocks != hdr.ValueBlockCount {
		return corrupt("live value block count %d does not match header ValueBlockCount %d", valueBlocks, hdr.ValueBlockCount)
	}
	return nil
}

// checkKeyOrder reports an error if buf's live key slots are not held in
// strictly ascending order under cmp.
func checkKeyOrder(buf []byte, layout node.Layout, cmp keycmp.Comparator) error {
	num := int(node.Num(buf))
	for i := 1; i < num; i++ {
		prev := node.Slot(buf, i-1, layout).Key()
		cur := node.Slot(buf, i, layout).Key()
		if cmp(prev, cur) >= 0 {
			return fmt.Errorf("keys out of order at slot %d", i)
		}
	}
	return nil
}
