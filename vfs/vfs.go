package vfs

import (
	"errors"
	"time"
)

// Sentinel errors returned by engines. Callers match them with errors.Is.
var (
	ErrNotFound    = errors.New("entry not found")
	ErrExist       = errors.New("entry exists")
	ErrNotDir      = errors.New("not a directory")
	ErrIsDir       = errors.New("is a directory")
	ErrNotEmpty    = errors.New("directory not empty")
	ErrNoSpace     = errors.New("no space left on device")
	ErrInvalid     = errors.New("invalid argument")
	ErrUnsupported = errors.New("operation not supported")
	ErrTooLarge    = errors.New("file too large")
	ErrCrossDevice = errors.New("cross-device link")
	ErrCorrupt     = errors.New("filesystem corrupt")
)

// FileType is the kind of object a node represents.
type FileType uint8

const (
	TypeFile FileType = iota + 1
	TypeDir
	TypeSymlink
	TypeCharDevice
	TypeBlockDevice
	TypeNamedPipe
	TypeSocket
)

func (t FileType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDir:
		return "dir"
	case TypeSymlink:
		return "symlink"
	case TypeCharDevice:
		return "char-device"
	case TypeBlockDevice:
		return "block-device"
	case TypeNamedPipe:
		return "pipe"
	case TypeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the defined types.
func (t FileType) Valid() bool {
	return t >= TypeFile && t <= TypeSocket
}

// Timespec is a point in time with nanosecond resolution.
type Timespec struct {
	Sec  int64
	Nsec int32
}

// Now returns the current wall clock time as a Timespec.
func Now() Timespec {
	return FromTime(time.Now())
}

// FromTime converts a time.Time.
func FromTime(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

// Time converts back to time.Time.
func (ts Timespec) Time() time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec))
}

// Metadata describes a node. Mode holds permission bits only; the file type
// is carried separately in Type.
type Metadata struct {
	Dev       uint64
	Inode     uint64
	Size      uint64
	BlockSize uint32
	Blocks    uint64 // 512-byte units
	Atime     Timespec
	Mtime     Timespec
	Ctime     Timespec
	Type      FileType
	Mode      uint16
	Nlinks    uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint64
}

// PollStatus reports readiness of a node.
type PollStatus struct {
	Read  bool
	Write bool
	Error bool
}

// Node is an open reference into a mounted engine. Any number of Node values
// may refer to the same underlying inode.
type Node interface {
	// ReadAt reads into buf starting at off. At end of file it returns fewer
	// bytes than requested, possibly zero, with a nil error.
	ReadAt(off uint64, buf []byte) (int, error)

	// WriteAt writes buf starting at off, extending the file if needed.
	// A gap between the old end of file and off reads back as zeros.
	WriteAt(off uint64, buf []byte) (int, error)

	Metadata() (Metadata, error)

	// SetMetadata updates mode, ownership and timestamps. Type, size,
	// inode number and link count are not changed.
	SetMetadata(Metadata) error

	Resize(size uint64) error
	Poll() (PollStatus, error)
	SyncAll() error
	SyncData() error

	// Directory operations. They return ErrNotDir on non-directories.
	Create(name string, typ FileType, mode uint16) (Node, error)
	Link(name string, target Node) error
	Unlink(name string) error
	Move(oldName string, target Node, newName string) error
	Find(name string) (Node, error)
	List() ([]string, error)

	FS() FileSystem
}

// Info describes a mounted engine.
type Info struct {
	Name      string
	BlockSize uint32
	Capacity  uint64 // bytes, 0 when unbounded
}

// FileSystem is a mounted engine.
type FileSystem interface {
	Root() Node
	Sync() error
	Info() Info
}

// Sizer is implemented by nodes that can report their size without a full
// metadata query.
type Sizer interface {
	Size() uint64
}

// SizeOf returns the size of n.
func SizeOf(n Node) (uint64, error) {
	if s, ok := n.(Sizer); ok {
		return s.Size(), nil
	}
	md, err := n.Metadata()
	if err != nil {
		return 0, err
	}
	return md.Size, nil
}

// ValidName reports whether name may be used as a single directory entry.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' || name[i] == 0 {
			return false
		}
	}
	return true
}
