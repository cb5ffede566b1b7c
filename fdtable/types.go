package fdtable

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wippyai/fdtab/vfs"
)

// Fd is a descriptor number.
type Fd uint32

// Reserved stream descriptors. The table never issues them.
const (
	Stdin  Fd = 0
	Stdout Fd = 1
	Stderr Fd = 2

	// FirstFd is the first descriptor issued by a table.
	FirstFd Fd = 3

	// MaxFd is the last descriptor a table issues. Numbers are never
	// reused, so a table that has issued MaxFd refuses further opens.
	// Guests receive descriptors as signed 32-bit values.
	MaxFd Fd = math.MaxInt32
)

// OpenFlags controls how Open resolves a path.
type OpenFlags uint32

const (
	// FlagCreate creates a missing file in its parent directory.
	FlagCreate OpenFlags = 1 << iota
	// FlagExclusive with FlagCreate fails when the file exists.
	FlagExclusive
	// FlagTruncate empties a file opened for writing.
	FlagTruncate
)

// OpenMode is the access requested by Open.
type OpenMode uint32

const (
	ModeRead OpenMode = 1 << iota
	ModeWrite
	ModeReadWrite
)

func (m OpenMode) readable() bool {
	return m&(ModeRead|ModeReadWrite) != 0
}

func (m OpenMode) writable() bool {
	return m&(ModeWrite|ModeReadWrite) != 0
}

// Timespec is a timestamp in the Stat layout.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Stat is the metadata record returned across the isolation boundary. Its
// binary form is the 144-byte little-endian struct stat of x86_64 Linux.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Nlink   uint64
	Mode    uint32
	Uid     uint32
	Gid     uint32
	Pad0    int32
	Rdev    uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Atime   Timespec
	Mtime   Timespec
	Ctime   Timespec
	Unused  [3]int64
}

// StatSize is the length of an encoded Stat.
const StatSize = 144

// File type bits of Stat.Mode.
const (
	ModeTypeMask uint32 = 0o170000
	ModeSocket   uint32 = 0o140000
	ModeSymlink  uint32 = 0o120000
	ModeRegular  uint32 = 0o100000
	ModeBlock    uint32 = 0o060000
	ModeDir      uint32 = 0o040000
	ModeChar     uint32 = 0o020000
	ModeFIFO     uint32 = 0o010000
)

func typeBits(t vfs.FileType) uint32 {
	switch t {
	case vfs.TypeFile:
		return ModeRegular
	case vfs.TypeDir:
		return ModeDir
	case vfs.TypeSymlink:
		return ModeSymlink
	case vfs.TypeCharDevice:
		return ModeChar
	case vfs.TypeBlockDevice:
		return ModeBlock
	case vfs.TypeNamedPipe:
		return ModeFIFO
	case vfs.TypeSocket:
		return ModeSocket
	}
	return 0
}

func timespec(ts vfs.Timespec) Timespec {
	return Timespec{Sec: ts.Sec, Nsec: int64(ts.Nsec)}
}

// StatFromMetadata converts engine metadata to a Stat. The file type is
// carried in the high bits of Mode.
func StatFromMetadata(md vfs.Metadata) Stat {
	return Stat{
		Dev:     md.Dev,
		Ino:     md.Inode,
		Nlink:   uint64(md.Nlinks),
		Mode:    typeBits(md.Type) | uint32(md.Mode),
		Uid:     md.Uid,
		Gid:     md.Gid,
		Rdev:    md.Rdev,
		Size:    int64(md.Size),
		Blksize: int64(md.BlockSize),
		Blocks:  int64(md.Blocks),
		Atime:   timespec(md.Atime),
		Mtime:   timespec(md.Mtime),
		Ctime:   timespec(md.Ctime),
	}
}

// IsDir reports whether s describes a directory.
func (s Stat) IsDir() bool {
	return s.Mode&ModeTypeMask == ModeDir
}

// Perm returns the permission bits of Mode.
func (s Stat) Perm() uint32 {
	return s.Mode &^ ModeTypeMask
}

// MarshalBinary encodes s in its fixed layout. Reserved fields are always
// written as zero.
func (s Stat) MarshalBinary() ([]byte, error) {
	s.Pad0 = 0
	s.Unused = [3]int64{}
	return binary.Append(make([]byte, 0, StatSize), binary.LittleEndian, s)
}

// UnmarshalBinary decodes the fixed layout produced by MarshalBinary.
func (s *Stat) UnmarshalBinary(data []byte) error {
	if len(data) != StatSize {
		return fmt.Errorf("fdtable: stat record is %d bytes, want %d", len(data), StatSize)
	}
	_, err := binary.Decode(data, binary.LittleEndian, s)
	return err
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	DirPath string       `cbor:"1,keyasint"`
	Name    string       `cbor:"2,keyasint"`
	Type    vfs.FileType `cbor:"3,keyasint"`
}

// EventType identifies a descriptor lifecycle event.
type EventType uint8

const (
	EventOpened EventType = iota
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	}
	return fmt.Sprintf("event(%d)", uint8(t))
}

// Event reports a descriptor entering or leaving the table.
type Event struct {
	Path string
	Fd   Fd
	Type EventType
}

// Observer receives descriptor lifecycle events. Events are delivered
// after the table lock is released, in the order the table produced them
// for a given descriptor.
type Observer interface {
	OnDescriptorEvent(Event)
}
