// Package keycmp provides the fixed set of key comparators a database file
// is created with: STRING, BYTES, INT32 and INT64. The chosen kind is
// persisted in the file header and fixed for the file's lifetime.
package keycmp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Kind identifies how a database file's keys are compared and, for STRING
// keys, zero-padded.
type Kind uint8

const (
	// String keys are zero-terminated C strings, compared and padded up
	// to KeySize with zero bytes. KeySize must include room for the
	// terminator: 4 <= KeySize <= 128.
	String Kind = 0
	// Bytes keys are fixed-length opaque byte strings, compared
	// lexicographically. 4 <= KeySize <= 128.
	Bytes Kind = 1
	// Int32 keys are 4-byte little-endian signed integers. KeySize is
	// fixed at 4.
	Int32 Kind = 2
	// Int64 keys are 8-byte little-endian signed integers. KeySize is
	// fixed at 8.
	Int64 Kind = 3
)

func (k Kind) String() string {
	switch k {
	case String:
		return "STRING"
	case Bytes:
		return "BYTES"
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Comparator reports the sign of a-b the way bytes.Compare does: negative
// if a<b, zero if equal, positive if a>b. Both slices are always exactly
// KeySize bytes long.
type Comparator func(a, b []byte) int

// ForKind returns the comparator for kind and validates keySize against
// that kind's legal range.
func ForKind(kind Kind, keySize int) (Comparator, error) {
	switch kind {
	case String, Bytes:
		if keySize < 4 || keySize > 128 {
			return nil, fmt.Errorf("keycmp: %s key size must be in [4,128], got %d", kind, keySize)
		}
		if kind == String {
			return cmpString, nil
		}
		return cmpBytes, nil
	case Int32:
		if keySize != 4 {
			return nil, fmt.Errorf("keycmp: INT32 key size must be 4, got %d", keySize)
		}
		return cmpInt32, nil
	case Int64:
		if keySize != 8 {
			return nil, fmt.Errorf("keycmp: INT64 key size must be 8, got %d", keySize)
		}
		return cmpInt64, nil
	default:
		return nil, fmt.Errorf("keycmp: unknown kind %d", kind)
	}
}

// cmpString compares two zero-padded byte slices as C strings: it stops at
// the first zero byte in either operand, mirroring strncmp's behavior on
// NUL-terminated input.
func cmpString(a, b []byte) int {
	return bytes.Compare(terminate(a), terminate(b))
}

func terminate(s []byte) []byte {
	if i := bytes.IndexByte(s, 0); i >= 0 {
		return s[:i]
	}
	return s
}

func cmpBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

func cmpInt32(a, b []byte) int {
	x := int32(binary.LittleEndian.Uint32(a))
	y := int32(binary.LittleEndian.Uint32(b))
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b []byte) int {
	x := int64(binary.LittleEndian.Uint64(a))
	y := int64(binary.LittleEndian.Uint64(b))
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// PadString zero-pads key into a buffer of exactly keySize bytes as STRING
// keys are canonically stored on disk. It truncates at the first zero byte
// of key, if any, before padding.
func PadString(key []byte, keySize int) []byte {
	out := make([]byte, keySize)
	copy(out, terminate(key))
	return out
}

// EncodeInt32 encodes v as a 4-byte little-endian INT32 key.
func EncodeInt32(v int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(v))
	return buf
}

// EncodeInt64 encodes v as an 8-byte little-endian INT64 key.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(v))
	return buf
}
