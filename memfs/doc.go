// Package memfs is a filesystem engine held entirely in process memory.
//
// Inode numbers are handed out sequentially starting at RootIno and never
// reused, so replaying the same sequence of operations on a fresh FS yields
// the same numbering. Package jfs relies on this to rebuild its state from
// the journal.
//
// A single RWMutex guards the whole tree.
package memfs
