package filedb

import (
	"fmt"

	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/btree"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/verify"
)

// Sentinel errors returned by DB methods. Use errors.Is to test for them;
// wrapped causes (I/O failures, decode failures) remain inspectable via
// errors.Unwrap.
var (
	// ErrInvalidArgument is returned for an out-of-range key kind, key
	// size, or a key that does not match the file's declared kind/size.
	ErrInvalidArgument = btree.ErrInvalidKey

	// ErrAlreadyExists is returned by Create when path already exists.
	ErrAlreadyExists = fmt.Errorf("filedb: file already exists")

	// ErrDuplicate is returned by Insert when the key is already present.
	ErrDuplicate = btree.ErrDuplicateKey

	// ErrNotFound is returned by Delete and Search when the key is absent.
	ErrNotFound = btree.ErrKeyNotFound

	// ErrTooBig is returned by Insert when a value can never fit in a
	// single block, regardless of how empty the heap is.
	ErrTooBig = btree.ErrValueTooBig

	// ErrDestinationTooSmall is returned by Search when dst is shorter
	// than the stored value.
	ErrDestinationTooSmall = btree.ErrDestinationTooSmall

	// ErrOutOfSpace is returned by Insert when growing the file by a new
	// block writes short; the file is truncated back first.
	ErrOutOfSpace = block.ErrOutOfSpace

	// ErrCorruption is returned by Open and Verify when the file fails
	// its consistency check.
	ErrCorruption = verify.ErrCorrupt

	// ErrBadHeader is returned by Open when the file header fails to
	// decode (bad magic, bad checksum, or an unsupported version).
	ErrBadHeader = header.ErrBadMagic
)
