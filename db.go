// Package filedb is the public surface of the embedded, single-writer,
// on-disk key-value store: a paged B-tree index (package btree) backed by
// a bump-allocated value heap (package heap), both living in one regular
// file. See SPEC_FULL.md for the full design.
//
// A DB is not safe for concurrent use from multiple goroutines. Callers
// that need concurrent access must serialize it themselves; the engine
// holds a small, fixed set of scratch buffers that every method mutates
// in place.
package filedb

import (
	"fmt"
	"os"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/flashlog/filedb/alloc"
	"github.com/flashlog/filedb/block"
	"github.com/flashlog/filedb/btree"
	"github.com/flashlog/filedb/header"
	"github.com/flashlog/filedb/heap"
	"github.com/flashlog/filedb/keycmp"
	"github.com/flashlog/filedb/node"
	"github.com/flashlog/filedb/verify"
)

// bloomFalsePositiveRate is the target false-positive rate for the
// negative-lookup accelerant described in SPEC_FULL.md's DOMAIN STACK
// section, matching the rate the teacher's sst.diskSSTWriter builds its
// own filter with.
const bloomFalsePositiveRate = 0.01

// DB is an open database file. Build one with Create followed by Open, or
// Open alone against an existing file.
type DB struct {
	path string
	file *os.File

	store *block.Store
	hdr   header.Header
	cmp   keycmp.Comparator
	eng   *btree.Engine

	bloomEnabled bool
	filter       *bloom.BloomFilter
}

// Option configures Open. It never touches on-disk geometry, which is
// fixed forever at Create time from the declared key kind and size.
type Option func(*DB)

// WithBloomFilter enables or disables the in-memory Bloom-filter
// negative-lookup accelerant ahead of every Search. It is enabled by
// default; disable it in tests that want every Search to exercise the
// real B-tree descent.
func WithBloomFilter(enabled bool) Option {
	return func(db *DB) { db.bloomEnabled = enabled }
}

// Create initializes a new database file at path: a zeroed header region
// stamped with kind and maxKeySize, followed by a single permanently
// allocated root block. It reports ErrAlreadyExists if path already
// exists. Call Open afterward to start using the file.
func Create(path string, kind keycmp.Kind, maxKeySize int) error {
	if _, err := keycmp.ForKind(kind, maxKeySize); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	layout, err := node.NewLayout(maxKeySize, block.Size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("filedb: creating %s: %w", path, err)
	}
	defer f.Close()

	store := block.Open(f)
	if err := store.WriteHeader(make([]byte, block.HeaderSize)); err != nil {
		_ = os.Remove(path)
		return err
	}

	hdr := header.Header{
		KeyKind:    kind,
		KeySize:    maxKeySize,
		SlotStride: layout.SlotStride,
		M:          layout.M,
	}
	a := alloc.New(store, &hdr)
	if _, offset, err := a.Allocate(node.ClassIndex, true); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("filedb: reserving root block: %w", err)
	} else if offset != block.RootOffset {
		_ = os.Remove(path)
		return fmt.Errorf("filedb: root block landed at offset %d, expected %d", offset, block.RootOffset)
	}

	buf := make([]byte, block.HeaderSize)
	header.Encode(buf, hdr)
	if err := store.WriteHeader(buf); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

// Open opens an existing database file created by Create. It decodes and
// verifies the header, runs a full Verify pass, and wires up the B-tree
// engine and (unless disabled) the Bloom-filter accelerant before
// returning.
func Open(path string, opts ...Option) (*DB, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filedb: opening %s: %w", path, err)
	}

	db := &DB{path: path, file: f, bloomEnabled: true}
	for _, opt := range opts {
		opt(db)
	}

	headerBuf := make([]byte, block.HeaderSize)
	store := block.Open(f)
	if err := store.ReadHeader(headerBuf); err != nil {
		f.Close()
		return nil, err
	}
	hdr, err := header.Decode(headerBuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}

	if err := verify.Verify(store, hdr); err != nil {
		f.Close()
		return nil, err
	}

	cmp, err := keycmp.ForKind(hdr.KeyKind, hdr.KeySize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	layout := node.Layout{KeySize: hdr.KeySize, SlotStride: hdr.SlotStride, M: hdr.M, BlockSize: block.Size}

	db.store = store
	db.hdr = hdr
	db.cmp = cmp
	a := alloc.New(store, &db.hdr)
	h := heap.New(store, &db.hdr, a)
	db.eng = btree.New(store, &db.hdr, layout, hdr.KeyKind, cmp, a, h)

	if db.bloomEnabled {
		if err := db.rebuildBloomFilter(); err != nil {
			f.Close()
			return nil, err
		}
	}

	return db, nil
}

// rebuildBloomFilter scans every live key in the tree and seeds a fresh
// filter sized from the header's key count, the way the teacher's
// diskSSTWriter sizes its own filter up front rather than growing it.
func (db *DB) rebuildBloomFilter() error {
	estimate := db.hdr.KeyTotal
	if estimate < 1024 {
		estimate = 1024
	}
	db.filter = bloom.NewWithEstimates(uint(estimate), bloomFalsePositiveRate)

	buf := make([]byte, block.Size)
	size, err := db.store.FileSize()
	if err != nil {
		return err
	}
	layout := node.Layout{KeySize: db.hdr.KeySize, SlotStride: db.hdr.SlotStride, M: db.hdr.M, BlockSize: block.Size}

	for offset := int64(block.RootOffset); offset < size; offset += int64(block.Size) {
		if err := db.store.ReadBlock(offset, buf); err != nil {
			return err
		}
		if !node.InUse(buf) || node.BlockClass(buf) != node.ClassIndex {
			continue
		}
		num := int(node.Num(buf))
		for i := 0; i < num; i++ {
			db.filter.Add(node.Slot(buf, i, layout).Key())
		}
	}
	return nil
}

// Close flushes the header to disk and releases the underlying file
// handle. The DB must not be used afterward.
func (db *DB) Close() error {
	buf := make([]byte, block.HeaderSize)
	header.Encode(buf, db.hdr)
	if err := db.store.WriteHeader(buf); err != nil {
		db.file.Close()
		return err
	}
	if err := db.file.Close(); err != nil {
		return fmt.Errorf("filedb: closing %s: %w", db.path, err)
	}
	return nil
}

// Verify re-runs the full-file consistency check on demand, independent
// of the pass already performed at Open.
func (db *DB) Verify() error {
	return verify.Verify(db.store, db.hdr)
}

// Insert adds key/value to the tree. It reports ErrDuplicate if key is
// already present, or ErrTooBig if value can never fit in a single block
// regardless of how empty the heap is. Neither error adds or changes a
// stored key or value; ErrTooBig is reported before the tree is touched,
// while a duplicate may be found only after full nodes on the way down
// were split.
func (db *DB) Insert(key, value []byte) error {
	if err := db.eng.Insert(key, value); err != nil {
		return err
	}
	if db.bloomEnabled {
		db.filter.Add(db.filterKey(key))
	}
	return db.flushHeader()
}

// Delete removes key from the tree. It reports ErrNotFound if key is
// absent. The Bloom filter is not shrunk on delete — a filter is only
// ever a source of false positives, never false negatives, so a stale
// "maybe present" entry for a deleted key costs one extra, correctly
// negative, tree descent the next time that key is searched for.
func (db *DB) Delete(key []byte) error {
	if err := db.eng.Delete(key); err != nil {
		return err
	}
	return db.flushHeader()
}

// Search looks up key and copies its value into dst, returning the
// value's length. It reports ErrNotFound if key is absent, and
// ErrDestinationTooSmall if dst is shorter than the stored value.
func (db *DB) Search(key []byte, dst []byte) (int, error) {
	if db.bloomEnabled && !db.filter.Test(db.filterKey(key)) {
		return 0, ErrNotFound
	}
	return db.eng.Search(key, dst)
}

// filterKey returns the exact on-disk byte form of key so Bloom-filter
// entries seeded from a full block scan (rebuildBloomFilter, which reads
// already-encoded, fixed-width stored keys) line up with entries seeded
// from a caller-supplied key at Insert/Search time. For STRING keys this
// means zero-padding out to KeySize, the same rule btree.Engine applies
// internally before it ever compares or stores a key; every other kind
// is already required to be exactly KeySize bytes.
func (db *DB) filterKey(key []byte) []byte {
	if db.hdr.KeyKind == keycmp.String {
		return keycmp.PadString(key, db.hdr.KeySize)
	}
	return key
}

// KeyBlockCount reports the number of live INDEX blocks currently in the
// file, including the permanent root.
func (db *DB) KeyBlockCount() uint64 { return db.hdr.KeyBlockCount }

// ValueBlockCount reports the number of live VALUE blocks currently in
// the file.
func (db *DB) ValueBlockCount() uint64 { return db.hdr.ValueBlockCount }

// flushHeader persists the header's live counters and free-list head,
// which every Insert/Delete mutates in place. The original keeps this
// bookkeeping entirely in memory between operations and only durable at
// Close; this store additionally flushes it after every mutation so a
// process that dies mid-session still leaves a header consistent with
// whatever blocks were already written, matching the "no rollback, the
// verifier is the detector" model in SPEC_FULL.md §9.
func (db *DB) flushHeader() error {
	buf := make([]byte, block.HeaderSize)
	header.Encode(buf, db.hdr)
	return db.store.WriteHeader(buf)
}
