// Package filedb: Overview
//
//	An embedded, single-writer, on-disk key-value store. One regular file
//	holds a 4096-byte header region, a permanently allocated B-tree root
//	block, and every index/value block the tree has ever needed, threaded
//	together by an intrusive free list when blocks are retired.
//	---
//
//	File Layout
//
//	   1 │+------------------------------------------------------------------+
//	   2 │|                          FILE LAYOUT                             |
//	   3 │+------------------------------------------------------------------+
//	   4 │|  HEADER (4096 B, offset 0)                                       |
//	   5 │|  +-----------------------+                                       |
//	   6 │|  | magic, version        |                                       |
//	   7 │|  | key kind, key size    |                                       |
//	   8 │|  | slot stride, M        |  <- derived once at Create, never     |
//	   9 │|  | key total             |     recomputed afterward              |
//	  10 │|  | key/value block count |                                       |
//	  11 │|  | free list head        |                                       |
//	  12 │|  | current value block   |                                       |
//	  13 │|  | crc32                 |                                       |
//	  14 │|  +-----------------------+                                       |
//	  15 │+------------------------------------------------------------------+
//	  16 │|  BLOCK 0 (8192 B, offset 4096) <- permanent B-tree root          |
//	  17 │+------------------------------------------------------------------+
//	  18 │|  BLOCK 1 (8192 B)              <- index or value, by class flag  |
//	  19 │+------------------------------------------------------------------+
//	  20 │|  ...                                                             |
//	  21 │+------------------------------------------------------------------+
//	  22 │|  BLOCK N (8192 B)                                                |
//	  23 │+------------------------------------------------------------------+
//
//	Retired blocks are never truncated away; they are pushed onto the
//	header's free list and handed back out by the allocator (package
//	alloc) before the file is ever grown again.
//
// See SPEC_FULL.md for the full design and DESIGN.md for how each piece
// is grounded against the teacher repo this module was built from.
package filedb
