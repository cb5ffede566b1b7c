package jfs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/vfs"
)

// Magic identifies a jfs superblock.
var Magic = [4]byte{'J', 'F', 'S', '1'}

var recordMagic = [4]byte{'J', 'R', 'E', 'C'}

// ErrBadSuperblock reports a device that does not hold a jfs filesystem.
var ErrBadSuperblock = errors.New("jfs: no valid superblock")

const (
	version = 1

	superblockSize = 4 + 4 + 8 + 4 + 8 + 8

	// headerSize is magic, generation, sequence, flags, raw length,
	// payload length and the blake3-256 checksum.
	headerSize = 4 + 8 + 8 + 1 + 4 + 4 + 32

	// sumOffset is where the checksum starts inside the header. The bytes
	// after the magic and before it are covered by the checksum.
	sumOffset = headerSize - 32

	flagLZ4 = 1 << 0

	// compressMin is the smallest encoded record worth compressing.
	compressMin = 256

	// recordOverhead bounds the CBOR framing of a record beyond its data
	// and names. It is used to refuse a mutation before applying it when
	// the journal could not hold the record.
	recordOverhead = 160

	// minJournal is the smallest journal accepted by Format.
	minJournal = 16 << 10
)

type superblock struct {
	magic        [4]byte
	version      uint32
	generation   uint64
	blockSize    uint32
	journalStart uint64
	journalEnd   uint64
}

func (sb *superblock) encode() []byte {
	buf := make([]byte, blockdev.SuperblockRegion.Length)
	copy(buf[0:4], sb.magic[:])
	binary.LittleEndian.PutUint32(buf[4:], sb.version)
	binary.LittleEndian.PutUint64(buf[8:], sb.generation)
	binary.LittleEndian.PutUint32(buf[16:], sb.blockSize)
	binary.LittleEndian.PutUint64(buf[20:], sb.journalStart)
	binary.LittleEndian.PutUint64(buf[28:], sb.journalEnd)
	return buf
}

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
	sb.generation = binary.LittleEndian.Uint64(buf[8:])
	sb.blockSize = binary.LittleEndian.Uint32(buf[16:])
	sb.journalStart = binary.LittleEndian.Uint64(buf[20:])
	sb.journalEnd = binary.LittleEndian.Uint64(buf[28:])
	if sb.version != version {
		return sb, fmt.Errorf("%w: unsupported version %d", ErrBadSuperblock, sb.version)
	}
	if sb.journalStart < uint64(blockdev.SuperblockRegion.Offset+int64(blockdev.SuperblockRegion.Length)) ||
		sb.journalEnd <= sb.journalStart {
		return sb, fmt.Errorf("%w: inconsistent journal bounds", ErrBadSuperblock)
	}
	return sb, nil
}

type header struct {
	generation uint64
	seq        uint64
	flags      uint8
	rawLen     uint32
	payloadLen uint32
	sum        [32]byte
}

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], recordMagic[:])
	binary.LittleEndian.PutUint64(buf[4:], h.generation)
	binary.LittleEndian.PutUint64(buf[12:], h.seq)
	buf[20] = h.flags
	binary.LittleEndian.PutUint32(buf[21:], h.rawLen)
	binary.LittleEndian.PutUint32(buf[25:], h.payloadLen)
	copy(buf[sumOffset:], h.sum[:])
	return buf
}

func decodeHeader(buf []byte) (header, bool) {
	var h header
	if len(buf) < headerSize || [4]byte(buf[0:4]) != recordMagic {
		return h, false
	}
	h.generation = binary.LittleEndian.Uint64(buf[4:])
	h.seq = binary.LittleEndian.Uint64(buf[12:])
	h.flags = buf[20]
	h.rawLen = binary.LittleEndian.Uint32(buf[21:])
	h.payloadLen = binary.LittleEndian.Uint32(buf[25:])
	copy(h.sum[:], buf[sumOffset:headerSize])
	return h, true
}

type opCode uint8

const (
	opCreate opCode = iota + 1
	opWrite
	opResize
	opLink
	opUnlink
	opMove
	opSetMetadata
)

func (op opCode) String() string {
	switch op {
	case opCreate:
		return "create"
	case opWrite:
		return "write"
	case opResize:
		return "resize"
	case opLink:
		return "link"
	case opUnlink:
		return "unlink"
	case opMove:
		return "move"
	case opSetMetadata:
		return "set_metadata"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// record is one journaled mutation. Ino, Dir and Target are inode numbers
// of the live memfs state.
type record struct {
	Op      opCode `cbor:"1,keyasint"`
	Time    int64  `cbor:"2,keyasint"`
	Ino     uint64 `cbor:"3,keyasint,omitempty"`
	Dir     uint64 `cbor:"4,keyasint,omitempty"`
	Target  uint64 `cbor:"5,keyasint,omitempty"`
	Name    string `cbor:"6,keyasint,omitempty"`
	NewName string `cbor:"7,keyasint,omitempty"`
	Type    uint8  `cbor:"8,keyasint,omitempty"`
	Mode    uint16 `cbor:"9,keyasint,omitempty"`
	Off     uint64 `cbor:"10,keyasint,omitempty"`
	Size    uint64 `cbor:"11,keyasint,omitempty"`
	Data    []byte `cbor:"12,keyasint,omitempty"`
	Uid     uint32 `cbor:"13,keyasint,omitempty"`
	Gid     uint32 `cbor:"14,keyasint,omitempty"`
	Atime   int64  `cbor:"15,keyasint,omitempty"`
	Mtime   int64  `cbor:"16,keyasint,omitempty"`
}

// bound is an upper limit on the journal space rec will take.
func (rec *record) bound() int64 {
	return int64(headerSize + recordOverhead + len(rec.Data) + len(rec.Name) + len(rec.NewName))
}

func toNanos(ts vfs.Timespec) int64 {
	return ts.Sec*1_000_000_000 + int64(ts.Nsec)
}

func fromNanos(ns int64) vfs.Timespec {
	return vfs.Timespec{Sec: ns / 1_000_000_000, Nsec: int32(ns % 1_000_000_000)}
}
