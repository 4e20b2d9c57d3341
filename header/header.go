// Package header encodes and decodes the file-level header: the 4096-byte
// region at offset 0 that describes a database's key kind and geometry and
// tracks its live block and key counts. It is separate from the per-block
// header (see package node). It has no file handle, comparator, or other
// runtime-only field mixed in, so reloading it from disk can never clobber
// live state.
package header

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/flashlog/filedb/keycmp"
)

// Magic identifies a file as one created by this package.
const Magic uint32 = 0x464c4442 // "FLDB"

// Version is the on-disk format version this package reads and writes.
const Version uint32 = 1

// Header is the decoded in-memory form of the file header.
type Header struct {
	Magic   uint32
	Version uint32

	KeyKind    keycmp.Kind
	KeySize    int
	SlotStride int
	M          int

	KeyTotal        uint64
	KeyBlockCount   uint64
	ValueBlockCount uint64

	FreeHead          int64
	CurrentValueBlock int64
}

// ErrBadMagic is returned by Decode when buf does not begin with Magic.
var ErrBadMagic = fmt.Errorf("header: bad magic")

// ErrBadCRC is returned by Decode when the header's checksum does not match
// its contents, signalling a truncated write or on-disk corruption.
var ErrBadCRC = fmt.Errorf("header: checksum mismatch")

// ErrUnsupportedVersion is returned by Decode for a version this build does
// not know how to read.
var ErrUnsupportedVersion = fmt.Errorf("header: unsupported version")

const (
	offMagic             = 0
	offVersion           = 4
	offKeyKind           = 8
	offKeySize           = 12
	offSlotStride        = 16
	offM                 = 20
	offKeyTotal          = 24
	offKeyBlockCount     = 32
	offValueBlockCount   = 40
	offFreeHead          = 48
	offCurrentValueBlock = 56
	offCRC32             = 4088 // bytes 4088..4091 of the 4096-byte header region
)

// Encode writes h into buf, which must be exactly block.HeaderSize (4096)
// bytes, and stamps its checksum.
func Encode(buf []byte, h Header) {
	binary.LittleEndian.PutUint32(buf[offMagic:], Magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], Version)
	binary.LittleEndian.PutUint32(buf[offKeyKind:], uint32(h.KeyKind))
	binary.LittleEndian.PutUint32(buf[offKeySize:], uint32(h.KeySize))
	binary.LittleEndian.PutUint32(buf[offSlotStride:], uint32(h.SlotStride))
	binary.LittleEndian.PutUint32(buf[offM:], uint32(h.M))
	binary.LittleEndian.PutUint64(buf[offKeyTotal:], h.KeyTotal)
	binary.LittleEndian.PutUint64(buf[offKeyBlockCount:], h.KeyBlockCount)
	binary.LittleEndian.PutUint64(buf[offValueBlockCount:], h.ValueBlockCount)
	binary.LittleEndian.PutUint64(buf[offFreeHead:], uint64(h.FreeHead))
	binary.LittleEndian.PutUint64(buf[offCurrentValueBlock:], uint64(h.CurrentValueBlock))

	for i := offCurrentValueBlock + 8; i < offCRC32; i++ {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint32(buf[offCRC32:], crc32.ChecksumIEEE(buf[:offCRC32]))
}

// Decode validates and reads a header out of buf, which must be exactly
// block.HeaderSize (4096) bytes.
func Decode(buf []byte) (Header, error) {
	if binary.LittleEndian.Uint32(buf[offMagic:]) != Magic {
		return Header{}, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(buf[offVersion:]); v != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	want := binary.LittleEndian.Uint32(buf[offCRC32:])
	got := crc32.ChecksumIEEE(buf[:offCRC32])
	if want != got {
		return Header{}, ErrBadCRC
	}

	return Header{
		Magic:             Magic,
		Version:           Version,
		KeyKind:           keycmp.Kind(binary.LittleEndian.Uint32(buf[offKeyKind:])),
		KeySize:           int(binary.LittleEndian.Uint32(buf[offKeySize:])),
		SlotStride:        int(binary.LittleEndian.Uint32(buf[offSlotStride:])),
		M:                 int(binary.LittleEndian.Uint32(buf[offM:])),
		KeyTotal:          binary.LittleEndian.Uint64(buf[offKeyTotal:]),
		KeyBlockCount:     binary.LittleEndian.Uint64(buf[offKeyBlockCount:]),
		ValueBlockCount:   binary.LittleEndian.Uint64(buf[offValueBlockCount:]),
		FreeHead:          int64(binary.LittleEndian.Uint64(buf[offFreeHead:])),
		CurrentValueBlock: int64(binary.LittleEndian.Uint64(buf[offCurrentValueBlock:])),
	}, nil
}
