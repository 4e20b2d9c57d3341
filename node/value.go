package node

import (
	"encoding/binary"
	"hash/crc32"
)

// ValueFramePrefix is the size in bytes of the {size, crc32, reserved}
// header that precedes every value frame's payload bytes.
const ValueFramePrefix = 16

// ValueFrame is a read/write view onto one framed value within a value
// block's buffer.
type ValueFrame struct {
	buf []byte
}

// FrameAt returns the value frame whose payload is size bytes long,
// starting at the given in-block byte offset.
func FrameAt(buf []byte, offset int, size int) ValueFrame {
	return ValueFrame{buf: buf[offset : offset+ValueFramePrefix+size]}
}

// FrameHeaderAt reads the frame's declared payload size and stored
// checksum at offset, without knowing the size up front. Used to locate a
// frame by offset alone (package heap's Read, on package btree's search
// path).
func FrameHeaderAt(buf []byte, offset int) (size int, crc uint32) {
	size = int(binary.LittleEndian.Uint64(buf[offset : offset+8]))
	crc = binary.LittleEndian.Uint32(buf[offset+8 : offset+12])
	return size, crc
}

// Size returns the frame's declared payload length.
func (f ValueFrame) Size() int {
	return int(binary.LittleEndian.Uint64(f.buf[0:8]))
}

// Bytes returns the frame's payload.
func (f ValueFrame) Bytes() []byte {
	return f.buf[ValueFramePrefix:]
}

// CRC32 returns the frame's stored payload checksum.
func (f ValueFrame) CRC32() uint32 {
	return binary.LittleEndian.Uint32(f.buf[8:12])
}

// Put writes size and payload into the frame and stamps its checksum.
func (f ValueFrame) Put(payload []byte) {
	binary.LittleEndian.PutUint64(f.buf[0:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(f.buf[8:12], crc32.ChecksumIEEE(payload))
	binary.LittleEndian.PutUint32(f.buf[12:16], 0)
	copy(f.buf[ValueFramePrefix:], payload)
}

// VerifyCRC reports whether the frame's stored checksum matches its
// current payload bytes.
func (f ValueFrame) VerifyCRC() bool {
	return f.CRC32() == crc32.ChecksumIEEE(f.Bytes())
}

// FrameSize returns the total on-disk size, after 16-byte alignment, of a
// value frame holding a payload of the given length.
func FrameSize(payloadLen int) int {
	return AlignUp(ValueFramePrefix+payloadLen, Alignment)
}
