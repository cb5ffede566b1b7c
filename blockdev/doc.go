// Package blockdev provides fixed-block devices and the byte-range adapter
// that storage engines use on top of them.
//
// Two devices are included: RamDisk, held in memory, and FileDisk, an image
// file accessed with pread/pwrite. Both reject buffers that are not a whole
// number of blocks.
//
// Adapter turns arbitrary (offset, length) requests into one-block device
// calls, doing read-modify-write for partial blocks:
//
//	dev, _ := blockdev.NewRamDisk(64<<20, blockdev.DefaultBlockSize)
//	a := blockdev.NewAdapter(dev)
//	a.WriteRange(5000, []byte("hello"))
//	sb, _ := a.ReadOffset(1024) // 1024-byte superblock, not a whole block
//
// Multi-block writes are not atomic; engines that need atomicity layer it
// on top (see package jfs).
package blockdev
