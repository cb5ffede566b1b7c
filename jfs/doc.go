// Package jfs is a journaling filesystem engine stored through a
// blockdev.Adapter.
//
// The device holds a 1024-byte superblock at byte offset 1024, read with
// Adapter.ReadOffset, followed by an append-only journal. Each mutation
// becomes one record:
//
//	magic "JREC" | generation | sequence | flags | raw len | payload len | blake3-256 | payload
//
// The payload is the CBOR-encoded operation, lz4-compressed when that makes
// it smaller. The checksum covers everything after the magic.
//
// Mounting replays the journal into a memfs tree. Replay stops at the first
// record whose generation, sequence or checksum does not match, so a record
// torn by a crash in the middle of a multi-block write is dropped whole.
// Format bumps the generation, which retires every record of the previous
// filesystem without erasing it.
//
// The journal is never compacted; once it is full, mutations fail with
// vfs.ErrNoSpace.
package jfs
