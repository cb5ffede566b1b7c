package sfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wippyai/fdtab/codec"
	"github.com/wippyai/fdtab/vfs"
)

// Magic identifies an sfs superblock.
var Magic = [4]byte{'S', 'F', 'S', '1'}

const (
	version = 1

	// superblockSize is the encoded length of superblock at the start of block 0.
	superblockSize = 4 + 4 + 4 + 8 + 8 + 8 + 8

	// directBlocks is the number of data block ids kept in the inode itself.
	directBlocks = 12

	// minBlocks leaves room for the superblock, one bitmap block, the root
	// inode and at least one data block.
	minBlocks = 4
)

type superblock struct {
	magic        [4]byte
	version      uint32
	blockSize    uint32
	numBlocks    uint64
	bitmapStart  uint64
	bitmapBlocks uint64
	rootIno      uint64
}

func (sb *superblock) encode() []byte {
	buf := make([]byte, superblockSize)
	copy(buf[0:4], sb.magic[:])
	binary.LittleEndian.PutUint32(buf[4:], sb.version)
	binary.LittleEndian.PutUint32(buf[8:], sb.blockSize)
	binary.LittleEndian.PutUint64(buf[12:], sb.numBlocks)
	binary.LittleEndian.PutUint64(buf[20:], sb.bitmapStart)
	binary.LittleEndian.PutUint64(buf[28:], sb.bitmapBlocks)
	binary.LittleEndian.PutUint64(buf[36:], sb.rootIno)
	return buf
}

// ErrBadSuperblock reports a device that does not hold an sfs filesystem.
var ErrBadSuperblock = errors.New("sfs: no valid superblock")

func decodeSuperblock(buf []byte) (superblock, error) {
	var sb superblock
	if len(buf) < superblockSize {
		return sb, ErrBadSuperblock
	}
	copy(sb.magic[:], buf[0:4])
	if sb.magic != Magic {
		return sb, ErrBadSuperblock
	}
	sb.version = binary.LittleEndian.Uint32(buf[4:])
	sb.blockSize = binary.LittleEndian.Uint32(buf[8:])
	sb.numBlocks = binary.LittleEndian.Uint64(buf[12:])
	sb.bitmapStart = binary.LittleEndian.Uint64(buf[20:])
	sb.bitmapBlocks = binary.LittleEndian.Uint64(buf[28:])
	sb.rootIno = binary.LittleEndian.Uint64(buf[36:])
	if sb.version != version {
		return sb, fmt.Errorf("%w: unsupported version %d", ErrBadSuperblock, sb.version)
	}
	if sb.bitmapStart == 0 || sb.rootIno < sb.bitmapStart+sb.bitmapBlocks || sb.rootIno >= sb.numBlocks {
		return sb, fmt.Errorf("%w: inconsistent layout", ErrBadSuperblock)
	}
	return sb, nil
}

// diskInode is the record stored, length-prefixed, at the start of an inode block.
type diskInode struct {
	Type     uint8             `cbor:"1,keyasint"`
	Mode     uint16            `cbor:"2,keyasint"`
	Nlinks   uint32            `cbor:"3,keyasint"`
	Uid      uint32            `cbor:"4,keyasint,omitempty"`
	Gid      uint32            `cbor:"5,keyasint,omitempty"`
	Size     uint64            `cbor:"6,keyasint"`
	Atime    int64             `cbor:"7,keyasint"`
	Mtime    int64             `cbor:"8,keyasint"`
	Ctime    int64             `cbor:"9,keyasint"`
	Birth    int64             `cbor:"10,keyasint"`
	Count    uint32            `cbor:"11,keyasint,omitempty"`
	Direct   []uint32          `cbor:"12,keyasint,omitempty"`
	Indirect []uint32          `cbor:"13,keyasint,omitempty"`
	Entries  map[string]uint64 `cbor:"14,keyasint,omitempty"`
}

func (di *diskInode) fileType() vfs.FileType {
	return vfs.FileType(di.Type)
}

func (di *diskInode) isDir() bool {
	return di.fileType() == vfs.TypeDir
}

func encodeInode(di *diskInode, blockSize int) ([]byte, error) {
	frame, err := codec.MarshalFrame(di, blockSize)
	if err != nil {
		var tooLarge *codec.FrameTooLargeError
		if errors.As(err, &tooLarge) {
			return nil, vfs.ErrNoSpace
		}
		return nil, err
	}
	return frame, nil
}

func decodeInode(buf []byte) (diskInode, error) {
	var di diskInode
	if err := codec.UnmarshalFrame(buf, &di); err != nil {
		return di, fmt.Errorf("%w: %v", vfs.ErrCorrupt, err)
	}
	if !di.fileType().Valid() {
		return di, fmt.Errorf("%w: inode type %d", vfs.ErrCorrupt, di.Type)
	}
	return di, nil
}

func toNanos(ts vfs.Timespec) int64 {
	return ts.Sec*1_000_000_000 + int64(ts.Nsec)
}

func fromNanos(ns int64) vfs.Timespec {
	return vfs.Timespec{Sec: ns / 1_000_000_000, Nsec: int32(ns % 1_000_000_000)}
}
