package sfs

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/vfs"
)

// Options configures an sfs mount.
type Options struct {
	Dev   uint64
	Clock func() vfs.Timespec
}

// FS is a simple block filesystem. Every inode occupies one block; file data
// is addressed through direct block ids and, past those, indirect blocks of
// little-endian uint32 ids.
type FS struct {
	mu     sync.Mutex
	a      *blockdev.Adapter
	bs     int
	sb     superblock
	bitmap []byte
	free   uint64
	hint   uint64
	opts   Options
	birth  int64
}

func newFS(a *blockdev.Adapter, opts Options) *FS {
	if opts.Clock == nil {
		opts.Clock = vfs.Now
	}
	return &FS{a: a, bs: a.BlockSize(), opts: opts}
}

// Format writes an empty filesystem to a and returns it mounted.
func Format(a *blockdev.Adapter, opts Options) (*FS, error) {
	fs := newFS(a, opts)
	numBlocks := uint64(a.Size()) / uint64(fs.bs)
	if numBlocks < minBlocks {
		return nil, fmt.Errorf("sfs: device of %d blocks is too small", numBlocks)
	}
	perBitmap := uint64(fs.bs) * 8
	bitmapBlocks := (numBlocks + perBitmap - 1) / perBitmap
	fs.sb = superblock{
		magic:        Magic,
		version:      version,
		blockSize:    uint32(fs.bs),
		numBlocks:    numBlocks,
		bitmapStart:  1,
		bitmapBlocks: bitmapBlocks,
	}
	fs.bitmap = make([]byte, bitmapBlocks*uint64(fs.bs))
	reserved := 1 + bitmapBlocks
	for id := uint64(0); id < reserved; id++ {
		fs.setBit(id, true)
	}
	// Bits past the end of the device are never allocatable.
	for id := numBlocks; id < uint64(len(fs.bitmap))*8; id++ {
		fs.setBit(id, true)
	}
	fs.free = numBlocks - reserved
	fs.hint = reserved
	if _, err := a.WriteRange(int64(fs.bs), fs.bitmap); err != nil {
		return nil, err
	}

	root, err := fs.alloc()
	if err != nil {
		return nil, err
	}
	now := toNanos(fs.opts.Clock())
	fs.birth = now
	di := &diskInode{
		Type:    uint8(vfs.TypeDir),
		Mode:    0o755,
		Nlinks:  2,
		Atime:   now,
		Mtime:   now,
		Ctime:   now,
		Birth:   now,
		Entries: map[string]uint64{},
	}
	if err := fs.storeInode(root, di); err != nil {
		return nil, err
	}
	fs.sb.rootIno = root
	if _, err := a.WriteRange(0, fs.sb.encode()); err != nil {
		return nil, err
	}
	if err := a.Flush(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Open mounts an existing filesystem. It returns an error wrapping
// ErrBadSuperblock when a does not hold one.
func Open(a *blockdev.Adapter, opts Options) (*FS, error) {
	fs := newFS(a, opts)
	raw, err := a.ReadRange(0, superblockSize)
	if err != nil {
		return nil, err
	}
	sb, err := decodeSuperblock(raw)
	if err != nil {
		return nil, err
	}
	if int(sb.blockSize) != fs.bs || sb.numBlocks > uint64(a.Size())/uint64(fs.bs) {
		return nil, fmt.Errorf("%w: geometry %d x %d does not match device", ErrBadSuperblock, sb.numBlocks, sb.blockSize)
	}
	fs.sb = sb
	fs.bitmap, err = a.ReadRange(int64(sb.bitmapStart)*int64(fs.bs), int(sb.bitmapBlocks)*fs.bs)
	if err != nil {
		return nil, err
	}
	var used uint64
	for _, b := range fs.bitmap {
		used += uint64(bits.OnesCount8(b))
	}
	total := uint64(len(fs.bitmap)) * 8
	fs.free = total - used
	fs.hint = sb.bitmapStart + sb.bitmapBlocks
	fs.birth = toNanos(fs.opts.Clock())
	if !fs.bit(sb.rootIno) {
		return nil, fmt.Errorf("%w: root inode %d not allocated", ErrBadSuperblock, sb.rootIno)
	}
	return fs, nil
}

// OpenOrFormat opens a, formatting it first when it holds no filesystem.
func OpenOrFormat(a *blockdev.Adapter, opts Options) (*FS, bool, error) {
	fs, err := Open(a, opts)
	if err == nil {
		return fs, false, nil
	}
	fs, err = Format(a, opts)
	return fs, err == nil, err
}

func (fs *FS) Root() vfs.Node {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	di, err := fs.loadInode(fs.sb.rootIno)
	if err != nil {
		return &node{fs: fs, ino: fs.sb.rootIno}
	}
	return &node{fs: fs, ino: fs.sb.rootIno, birth: di.Birth}
}

func (fs *FS) Sync() error {
	return fs.a.Flush()
}

func (fs *FS) Info() vfs.Info {
	return vfs.Info{
		Name:      "sfs",
		BlockSize: uint32(fs.bs),
		Capacity:  fs.sb.numBlocks * uint64(fs.bs),
	}
}

// Free returns the number of unallocated blocks.
func (fs *FS) Free() uint64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.free
}

func (fs *FS) bit(id uint64) bool {
	return fs.bitmap[id/8]&(1<<(id%8)) != 0
}

func (fs *FS) setBit(id uint64, v bool) {
	if v {
		fs.bitmap[id/8] |= 1 << (id % 8)
	} else {
		fs.bitmap[id/8] &^= 1 << (id % 8)
	}
}

func (fs *FS) persistBit(id uint64) error {
	i := id / 8
	off := int64(fs.sb.bitmapStart)*int64(fs.bs) + int64(i)
	_, err := fs.a.WriteRange(off, fs.bitmap[i:i+1])
	return err
}

// alloc reserves a zeroed block.
func (fs *FS) alloc() (uint64, error) {
	if fs.free == 0 {
		return 0, vfs.ErrNoSpace
	}
	n := fs.sb.numBlocks
	for i := uint64(0); i < n; i++ {
		id := (fs.hint + i) % n
		if fs.bit(id) {
			continue
		}
		fs.setBit(id, true)
		if err := fs.persistBit(id); err != nil {
			fs.setBit(id, false)
			return 0, err
		}
		if _, err := fs.a.WriteRange(int64(id)*int64(fs.bs), make([]byte, fs.bs)); err != nil {
			return 0, err
		}
		fs.free--
		fs.hint = id + 1
		return id, nil
	}
	return 0, vfs.ErrNoSpace
}

func (fs *FS) release(id uint64) error {
	if id >= fs.sb.numBlocks || !fs.bit(id) {
		return nil
	}
	fs.setBit(id, false)
	fs.free++
	return fs.persistBit(id)
}

func (fs *FS) loadInode(ino uint64) (*diskInode, error) {
	if ino >= fs.sb.numBlocks || !fs.bit(ino) {
		return nil, vfs.ErrNotFound
	}
	raw, err := fs.a.ReadRange(int64(ino)*int64(fs.bs), fs.bs)
	if err != nil {
		return nil, err
	}
	di, err := decodeInode(raw)
	if err != nil {
		return nil, err
	}
	return &di, nil
}

func (fs *FS) storeInode(ino uint64, di *diskInode) error {
	frame, err := encodeInode(di, fs.bs)
	if err != nil {
		return err
	}
	_, err = fs.a.WriteRange(int64(ino)*int64(fs.bs), frame)
	return err
}

// nextBirth returns a creation stamp distinct from every other inode created
// during this mount. Node handles carry it to detect a reused inode block.
func (fs *FS) nextBirth(now int64) int64 {
	if now <= fs.birth {
		now = fs.birth + 1
	}
	fs.birth = now
	return now
}

func (fs *FS) perIndirect() int {
	return fs.bs / 4
}

// blockMap returns the data block ids of di in file order.
func (fs *FS) blockMap(di *diskInode) ([]uint32, error) {
	list := make([]uint32, 0, di.Count)
	list = append(list, di.Direct...)
	for _, ib := range di.Indirect {
		raw, err := fs.a.ReadRange(int64(ib)*int64(fs.bs), fs.bs)
		if err != nil {
			return nil, err
		}
		for i := 0; i < fs.perIndirect() && uint32(len(list)) < di.Count; i++ {
			list = append(list, binary.LittleEndian.Uint32(raw[i*4:]))
		}
	}
	if uint32(len(list)) != di.Count {
		return nil, fmt.Errorf("%w: inode maps %d of %d blocks", vfs.ErrCorrupt, len(list), di.Count)
	}
	return list, nil
}

// setBlockMap stores list into di, growing or shrinking its indirect blocks.
func (fs *FS) setBlockMap(di *diskInode, list []uint32) error {
	direct := min(len(list), directBlocks)
	di.Direct = append([]uint32(nil), list[:direct]...)
	rest := list[direct:]
	per := fs.perIndirect()
	need := (len(rest) + per - 1) / per
	for len(di.Indirect) < need {
		id, err := fs.alloc()
		if err != nil {
			return err
		}
		di.Indirect = append(di.Indirect, uint32(id))
	}
	for len(di.Indirect) > need {
		last := di.Indirect[len(di.Indirect)-1]
		if err := fs.release(uint64(last)); err != nil {
			return err
		}
		di.Indirect = di.Indirect[:len(di.Indirect)-1]
	}
	for i, ib := range di.Indirect {
		chunk := rest[i*per : min(len(rest), (i+1)*per)]
		raw := make([]byte, fs.bs)
		for j, id := range chunk {
			binary.LittleEndian.PutUint32(raw[j*4:], id)
		}
		if _, err := fs.a.WriteRange(int64(ib)*int64(fs.bs), raw); err != nil {
			return err
		}
	}
	di.Count = uint32(len(list))
	return nil
}

// freeInode releases the inode block and everything it maps.
func (fs *FS) freeInode(ino uint64, di *diskInode) error {
	list, err := fs.blockMap(di)
	if err != nil {
		return err
	}
	for _, id := range list {
		if err := fs.release(uint64(id)); err != nil {
			return err
		}
	}
	for _, ib := range di.Indirect {
		if err := fs.release(uint64(ib)); err != nil {
			return err
		}
	}
	return fs.release(ino)
}

// isWithin reports whether target is dir or a directory below it.
func (fs *FS) isWithin(dir, target uint64) (bool, error) {
	if dir == target {
		return true, nil
	}
	di, err := fs.loadInode(dir)
	if err != nil {
		return false, err
	}
	for _, child := range di.Entries {
		cdi, err := fs.loadInode(child)
		if err != nil {
			return false, err
		}
		if !cdi.isDir() {
			continue
		}
		ok, err := fs.isWithin(child, target)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}
