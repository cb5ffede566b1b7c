// Package vfs defines the narrow capability interface every storage engine
// implements and the descriptor table consumes.
//
// A mounted engine is a FileSystem; everything reachable from its Root is a
// Node. Nodes carry no path and no parent pointer. Paths are resolved by
// Lookup, which cleans them lexically and walks entries with Find:
//
//	n, err := vfs.Lookup(fs.Root(), "/etc/motd")
//	if errors.Is(err, vfs.ErrNotFound) { ... }
//
// Engines report failures with the sentinel errors in this package and are
// responsible for their own consistency under concurrent calls.
package vfs
