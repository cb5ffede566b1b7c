// Package sfs is a simple block filesystem engine stored through a
// blockdev.Adapter.
//
// Layout, in blocks:
//
//	0          superblock (magic "SFS1", geometry, root inode)
//	1..k       allocation bitmap, one bit per block
//	k+1..      inode and data blocks
//
// An inode is one block holding a length-prefixed CBOR record. Its number is
// the id of that block. Directory entries live inside the directory inode,
// so a directory holds as many names as fit in one block; past that Create
// returns vfs.ErrNoSpace.
//
// All state is kept on the device; reopening the same device with Open sees
// everything written before.
package sfs
