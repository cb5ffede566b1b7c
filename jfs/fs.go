package jfs

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/memfs"
	"github.com/wippyai/fdtab/vfs"
)

// errIno reports a create record that did not reproduce its inode number.
var errIno = errors.New("jfs: inode number mismatch")

// Options configures a jfs mount.
type Options struct {
	Dev   uint64
	Clock func() vfs.Timespec
}

// FS is a journaling filesystem. The live tree is a memfs.FS rebuilt at
// mount time by replaying the journal; every mutation is applied to the
// tree and then appended to the journal as one checksummed record.
type FS struct {
	mu    sync.Mutex
	a     *blockdev.Adapter
	sb    superblock
	state *memfs.FS
	nodes map[uint64]vfs.Node
	opts  Options

	// stamp is the time handed to the state tree for the mutation in
	// progress: the wall clock normally and the recorded time on replay.
	stamp vfs.Timespec

	tail    int64
	seq     uint64
	records uint64
	broken  error
}

func newFS(a *blockdev.Adapter, sb superblock, opts Options) *FS {
	if opts.Clock == nil {
		opts.Clock = vfs.Now
	}
	fs := &FS{a: a, sb: sb, opts: opts, nodes: make(map[uint64]vfs.Node)}
	// File contents never exceed what the journal can hold.
	limit := sb.journalEnd - sb.journalStart
	fs.state = memfs.New(memfs.Options{
		Dev:         opts.Dev,
		BlockSize:   sb.blockSize,
		Capacity:    limit,
		MaxFileSize: limit,
		Clock:       func() vfs.Timespec { return fs.stamp },
	})
	fs.stamp = opts.Clock()
	fs.nodes[memfs.RootIno] = fs.state.Root()
	return fs
}

func readSuperblock(a *blockdev.Adapter) (superblock, error) {
	raw, err := a.ReadOffset(blockdev.SuperblockRegion.Offset)
	if err != nil {
		return superblock{}, err
	}
	return decodeSuperblock(raw)
}

// Format writes an empty journal to a. The generation is bumped past any
// previous jfs on the device so none of its records are ever replayed.
func Format(a *blockdev.Adapter, opts Options) (*FS, error) {
	start := blockdev.AlignUp(blockdev.SuperblockRegion.Offset+int64(blockdev.SuperblockRegion.Length), a.BlockSize())
	if a.Size()-start < minJournal {
		return nil, fmt.Errorf("jfs: device of %d bytes is too small", a.Size())
	}
	generation := uint64(1)
	if old, err := readSuperblock(a); err == nil {
		generation = old.generation + 1
	}
	sb := superblock{
		magic:        Magic,
		version:      version,
		generation:   generation,
		blockSize:    uint32(a.BlockSize()),
		journalStart: uint64(start),
		journalEnd:   uint64(a.Size()),
	}
	if _, err := a.WriteRange(blockdev.SuperblockRegion.Offset, sb.encode()); err != nil {
		return nil, err
	}
	if err := a.Flush(); err != nil {
		return nil, err
	}
	fs := newFS(a, sb, opts)
	fs.tail = start
	Logger().Info("formatted journal",
		zap.Uint64("generation", generation),
		zap.Int64("capacity", a.Size()-start))
	return fs, nil
}

// Open mounts an existing filesystem and replays its journal. It returns an
// error wrapping ErrBadSuperblock when a does not hold one.
func Open(a *blockdev.Adapter, opts Options) (*FS, error) {
	sb, err := readSuperblock(a)
	if err != nil {
		return nil, err
	}
	if int(sb.blockSize) != a.BlockSize() || sb.journalEnd > uint64(a.Size()) {
		return nil, fmt.Errorf("%w: geometry does not match device", ErrBadSuperblock)
	}
	fs := newFS(a, sb, opts)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.replay(); err != nil {
		return nil, err
	}
	fs.stamp = fs.opts.Clock()
	return fs, nil
}

// OpenOrFormat opens a, formatting it first when it holds no filesystem.
func OpenOrFormat(a *blockdev.Adapter, opts Options) (*FS, bool, error) {
	fs, err := Open(a, opts)
	if err == nil {
		return fs, false, nil
	}
	if !errors.Is(err, ErrBadSuperblock) {
		return nil, false, err
	}
	fs, err = Format(a, opts)
	return fs, err == nil, err
}

func (fs *FS) Root() vfs.Node {
	return &node{fs: fs, n: fs.state.Root(), ino: memfs.RootIno}
}

func (fs *FS) Sync() error {
	return fs.a.Flush()
}

func (fs *FS) Info() vfs.Info {
	return vfs.Info{
		Name:      "jfs",
		BlockSize: fs.sb.blockSize,
		Capacity:  fs.sb.journalEnd - fs.sb.journalStart,
	}
}

// JournalUsage reports bytes used and total journal capacity.
func (fs *FS) JournalUsage() (used, capacity int64) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.tail - int64(fs.sb.journalStart), int64(fs.sb.journalEnd - fs.sb.journalStart)
}

// Records returns the number of records in the journal.
func (fs *FS) Records() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.records
}

// Generation returns the journal generation written at format time.
func (fs *FS) Generation() uint64 {
	return fs.sb.generation
}

// begin starts a mutation. The caller holds fs.mu.
func (fs *FS) begin(rec *record) error {
	if err := fs.reserve(rec); err != nil {
		return err
	}
	fs.stamp = fs.opts.Clock()
	return nil
}

func inoOf(n vfs.Node) (uint64, error) {
	md, err := n.Metadata()
	if err != nil {
		return 0, err
	}
	return md.Inode, nil
}

// apply replays one record against the state tree. The caller holds fs.mu.
func (fs *FS) apply(rec *record) error {
	fs.stamp = fromNanos(rec.Time)
	switch rec.Op {
	case opCreate:
		dir, err := fs.lookup(rec.Dir)
		if err != nil {
			return err
		}
		if next := fs.state.NextIno(); next != rec.Ino {
			return errIno
		}
		child, err := dir.Create(rec.Name, vfs.FileType(rec.Type), rec.Mode)
		if err != nil {
			return err
		}
		fs.nodes[rec.Ino] = child
		return nil

	case opWrite:
		n, err := fs.lookup(rec.Ino)
		if err != nil {
			return err
		}
		_, err = n.WriteAt(rec.Off, rec.Data)
		return err

	case opResize:
		n, err := fs.lookup(rec.Ino)
		if err != nil {
			return err
		}
		return n.Resize(rec.Size)

	case opLink:
		dir, err := fs.lookup(rec.Dir)
		if err != nil {
			return err
		}
		target, err := fs.lookup(rec.Ino)
		if err != nil {
			return err
		}
		return dir.Link(rec.Name, target)

	case opUnlink:
		dir, err := fs.lookup(rec.Dir)
		if err != nil {
			return err
		}
		return fs.unlink(dir, rec.Name)

	case opMove:
		dir, err := fs.lookup(rec.Dir)
		if err != nil {
			return err
		}
		target, err := fs.lookup(rec.Target)
		if err != nil {
			return err
		}
		return dir.Move(rec.Name, target, rec.NewName)

	case opSetMetadata:
		n, err := fs.lookup(rec.Ino)
		if err != nil {
			return err
		}
		return n.SetMetadata(vfs.Metadata{
			Mode:  rec.Mode,
			Uid:   rec.Uid,
			Gid:   rec.Gid,
			Atime: fromNanos(rec.Atime),
			Mtime: fromNanos(rec.Mtime),
		})

	default:
		return fmt.Errorf("jfs: unknown op %d", rec.Op)
	}
}

func (fs *FS) lookup(ino uint64) (vfs.Node, error) {
	n, ok := fs.nodes[ino]
	if !ok {
		return nil, fmt.Errorf("%w: inode %d", vfs.ErrNotFound, ino)
	}
	return n, nil
}

// unlink removes name from dir and forgets the inode once its last link is
// gone. The caller holds fs.mu.
func (fs *FS) unlink(dir vfs.Node, name string) error {
	child, err := dir.Find(name)
	if err != nil {
		return err
	}
	if err := dir.Unlink(name); err != nil {
		return err
	}
	md, err := child.Metadata()
	if err == nil && md.Nlinks == 0 {
		delete(fs.nodes, md.Inode)
	}
	return nil
}
