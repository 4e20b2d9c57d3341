package node

import "encoding/binary"

// KeySlot is a read/write view onto one key slot within an index block's
// buffer: a value_ref offset, a child offset, and keySize raw key bytes.
// Only the first Num(buf) slots of a block carry a meaningful key; slot
// Num(buf) carries only the trailing right-child offset.
type KeySlot struct {
	buf []byte
}

// Slot returns the key slot at index i within block buf, given the
// layout's stride and key size.
func Slot(buf []byte, i int, l Layout) KeySlot {
	start := HeaderSize + i*l.SlotStride
	return KeySlot{buf: buf[start : start+SlotPrefix+l.KeySize]}
}

// ValueRef returns the absolute file offset of this slot's stored value.
func (s KeySlot) ValueRef() int64 {
	return int64(binary.LittleEndian.Uint64(s.buf[0:8]))
}

// SetValueRef sets the absolute file offset of this slot's stored value.
func (s KeySlot) SetValueRef(v int64) {
	binary.LittleEndian.PutUint64(s.buf[0:8], uint64(v))
}

// Child returns the absolute file offset of the child subtree whose keys
// are strictly less than this slot's key.
func (s KeySlot) Child() int64 {
	return int64(binary.LittleEndian.Uint64(s.buf[8:16]))
}

// SetChild sets the child subtree offset.
func (s KeySlot) SetChild(v int64) {
	binary.LittleEndian.PutUint64(s.buf[8:16], uint64(v))
}

// Key returns the raw key bytes of this slot.
func (s KeySlot) Key() []byte {
	return s.buf[SlotPrefix:]
}

// SetKeyBytes overwrites the raw key bytes of this slot.
func (s KeySlot) SetKeyBytes(key []byte) {
	copy(s.buf[SlotPrefix:], key)
}

// CopyKeyAndValueRef copies src's value_ref and key bytes into s, leaving
// s's own child pointer untouched. This is the "promote a key" primitive
// used by split (promoting a median key) and merge (absorbing the
// separator key from the parent).
func (s KeySlot) CopyKeyAndValueRef(src KeySlot) {
	s.SetValueRef(src.ValueRef())
	copy(s.buf[SlotPrefix:], src.buf[SlotPrefix:])
}

// MoveSlots moves n+1 consecutive slot-widths (n keys plus the trailing
// child-only slot that follows them) from index srcIdx of src to index
// dstIdx of dst. It is safe to call with dst == src and overlapping
// ranges: Go's builtin copy has memmove semantics. n may be 0, in which
// case only the trailing child-only slot-width is moved (used to open a
// gap for an about-to-be-inserted key without disturbing any existing
// key).
func MoveSlots(dst []byte, dstIdx int, src []byte, srcIdx int, n int, l Layout) {
	if n < 0 {
		return
	}
	length := (n + 1) * l.SlotStride
	dstStart := HeaderSize + dstIdx*l.SlotStride
	srcStart := HeaderSize + srcIdx*l.SlotStride
	copy(dst[dstStart:dstStart+length], src[srcStart:srcStart+length])
}

// ZeroBody zeroes everything in buf after the block header, leaving the
// header itself untouched. Used when (re)initializing a freshly allocated
// block.
func ZeroBody(buf []byte) {
	for i := HeaderSize; i < len(buf); i++ {
		buf[i] = 0
	}
}
