package node

import "fmt"

// Alignment is the byte alignment every key slot and value frame is padded
// to.
const Alignment = 16

// SlotPrefix is the size in bytes of the two absolute file offsets
// (valueRef, child) that precede the raw key bytes in every key slot.
const SlotPrefix = 16

// AlignUp rounds n up to the nearest multiple of a, which must be a power
// of two.
func AlignUp(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Layout is the geometry derived from a database's declared key size at
// creation time: the key-slot stride and the branching factor M. It never
// changes for the lifetime of a file.
type Layout struct {
	KeySize    int
	SlotStride int
	M          int
	BlockSize  int
}

// NewLayout derives a Layout from a key size and the block size it will be
// packed into. blockSize is block.Size for every file created via the
// public API; smaller values are also accepted, which this package's own
// tests use to check the minimum-branching-factor (M=3) derivation.
// Package btree always reads and writes full block.Size blocks.
func NewLayout(keySize, blockSize int) (Layout, error) {
	if keySize <= 0 {
		return Layout{}, fmt.Errorf("node: key size must be positive, got %d", keySize)
	}
	stride := AlignUp(SlotPrefix+keySize, Alignment)
	if blockSize < HeaderSize+stride {
		return Layout{}, fmt.Errorf("node: block size %d too small for key size %d", blockSize, keySize)
	}
	m := (blockSize-HeaderSize)/stride - 1
	if m < 3 {
		return Layout{}, fmt.Errorf("node: derived branching factor %d is below the minimum of 3", m)
	}
	return Layout{KeySize: keySize, SlotStride: stride, M: m, BlockSize: blockSize}, nil
}

// Mid is the split/merge median index used throughout package btree:
// floor((M-1)/2).
func (l Layout) Mid() int {
	return (l.M - 1) / 2
}

// MinKeys is the minimum number of live keys a non-root index block must
// hold: floor((M-1)/2).
func (l Layout) MinKeys() int {
	return l.Mid()
}
