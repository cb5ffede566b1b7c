package memfs

import (
	"sort"
	"sync"

	"github.com/wippyai/fdtab/vfs"
)

// RootIno is the inode number of the root directory.
const RootIno = 1

// DefaultMaxFileSize is the regular file size limit when Options leaves it
// unset.
const DefaultMaxFileSize = 1 << 30

// Options configures a memory filesystem.
type Options struct {
	// Dev is reported as the device id of every node.
	Dev uint64
	// BlockSize is the preferred I/O size reported by Metadata.
	BlockSize uint32
	// Capacity bounds the total bytes held by regular files. 0 is unbounded.
	Capacity uint64
	// MaxFileSize is the largest size a regular file may grow to. 0 selects
	// DefaultMaxFileSize.
	MaxFileSize uint64
	// Clock supplies timestamps. Defaults to vfs.Now.
	Clock func() vfs.Timespec
}

// FS is a filesystem held entirely in process memory.
type FS struct {
	mu      sync.RWMutex
	root    *inode
	opts    Options
	nextIno uint64
	used    uint64
}

type inode struct {
	ino     uint64
	typ     vfs.FileType
	mode    uint16
	nlinks  uint32
	uid     uint32
	gid     uint32
	atime   vfs.Timespec
	mtime   vfs.Timespec
	ctime   vfs.Timespec
	data    []byte
	entries map[string]*inode
}

// New creates an empty filesystem holding only the root directory.
func New(opts Options) *FS {
	if opts.BlockSize == 0 {
		opts.BlockSize = 4096
	}
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Clock == nil {
		opts.Clock = vfs.Now
	}
	fs := &FS{opts: opts, nextIno: RootIno}
	fs.root = fs.newInode(vfs.TypeDir, 0o755)
	return fs
}

func (fs *FS) newInode(typ vfs.FileType, mode uint16) *inode {
	now := fs.opts.Clock()
	in := &inode{
		ino:    fs.nextIno,
		typ:    typ,
		mode:   mode & 0o7777,
		nlinks: 1,
		atime:  now,
		mtime:  now,
		ctime:  now,
	}
	if typ == vfs.TypeDir {
		in.nlinks = 2
		in.entries = make(map[string]*inode)
	}
	fs.nextIno++
	return in
}

// Root returns the root directory.
func (fs *FS) Root() vfs.Node {
	return &node{fs: fs, in: fs.root}
}

// Sync is a no-op; memory is the storage.
func (fs *FS) Sync() error {
	return nil
}

func (fs *FS) Info() vfs.Info {
	return vfs.Info{Name: "memfs", BlockSize: fs.opts.BlockSize, Capacity: fs.opts.Capacity}
}

// Used returns the bytes currently held by regular files.
func (fs *FS) Used() uint64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.used
}

// NextIno returns the inode number the next created node will receive.
func (fs *FS) NextIno() uint64 {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.nextIno
}

func (fs *FS) grow(in *inode, size uint64) error {
	cur := uint64(len(in.data))
	if size <= cur {
		return nil
	}
	if size > fs.opts.MaxFileSize {
		return vfs.ErrTooLarge
	}
	linked := in.nlinks > 0
	if linked && fs.opts.Capacity > 0 && fs.used+(size-cur) > fs.opts.Capacity {
		return vfs.ErrNoSpace
	}
	if uint64(cap(in.data)) >= size {
		in.data = in.data[:size]
		clear(in.data[cur:])
	} else {
		grown := make([]byte, size, max(size, min(2*cur, fs.opts.MaxFileSize)))
		copy(grown, in.data)
		in.data = grown
	}
	if linked {
		fs.used += size - cur
	}
	return nil
}

func (fs *FS) shrink(in *inode, size uint64) {
	cur := uint64(len(in.data))
	if size >= cur {
		return
	}
	in.data = in.data[:size]
	if in.nlinks > 0 {
		fs.used -= cur - size
	}
}

// release stops accounting for an inode whose last link is gone. Its data
// stays readable through nodes that still refer to it.
func (fs *FS) release(in *inode) {
	if in.typ != vfs.TypeDir && in.nlinks == 0 {
		fs.used -= uint64(len(in.data))
	}
}

func (fs *FS) sortedNames(in *inode) []string {
	names := make([]string, 0, len(in.entries))
	for name := range in.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// contains reports whether target is dir or lies somewhere below it.
func contains(dir, target *inode) bool {
	if dir == target {
		return true
	}
	for _, child := range dir.entries {
		if child.typ == vfs.TypeDir && contains(child, target) {
			return true
		}
	}
	return false
}
