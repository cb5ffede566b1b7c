package sfs

import (
	"sort"

	"github.com/wippyai/fdtab/vfs"
)

type node struct {
	fs    *FS
	ino   uint64
	birth int64
}

var _ vfs.Node = (*node)(nil)

func (n *node) FS() vfs.FileSystem {
	return n.fs
}

// load returns the inode behind n, or ErrNotFound when it was freed.
// The caller holds n.fs.mu.
func (n *node) load() (*diskInode, error) {
	di, err := n.fs.loadInode(n.ino)
	if err != nil {
		return nil, err
	}
	if di.Birth != n.birth {
		return nil, vfs.ErrNotFound
	}
	return di, nil
}

func (n *node) loadDir() (*diskInode, error) {
	di, err := n.load()
	if err != nil {
		return nil, err
	}
	if !di.isDir() {
		return nil, vfs.ErrNotDir
	}
	if di.Entries == nil {
		di.Entries = map[string]uint64{}
	}
	return di, nil
}

func (n *node) ReadAt(off uint64, buf []byte) (int, error) {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	di, err := n.load()
	if err != nil {
		return 0, err
	}
	if di.isDir() {
		return 0, vfs.ErrIsDir
	}
	if off >= di.Size || len(buf) == 0 {
		return 0, nil
	}
	want := int(min(uint64(len(buf)), di.Size-off))
	list, err := fs.blockMap(di)
	if err != nil {
		return 0, err
	}
	bs := uint64(fs.bs)
	for pos := 0; pos < want; {
		idx := off / bs
		in := off % bs
		chunk := min(want-pos, int(bs-in))
		dev := int64(list[idx])*int64(bs) + int64(in)
		if _, err := fs.a.ReadAt(buf[pos:pos+chunk], dev); err != nil {
			return pos, err
		}
		pos += chunk
		off += uint64(chunk)
	}
	return want, nil
}

func (n *node) WriteAt(off uint64, buf []byte) (int, error) {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	di, err := n.load()
	if err != nil {
		return 0, err
	}
	if di.isDir() {
		return 0, vfs.ErrIsDir
	}
	if len(buf) == 0 {
		return 0, nil
	}
	end := off + uint64(len(buf))
	if end < off {
		return 0, vfs.ErrTooLarge
	}
	list, err := fs.blockMap(di)
	if err != nil {
		return 0, err
	}
	if list, err = n.growTo(di, list, end); err != nil {
		return 0, err
	}

	bs := uint64(fs.bs)
	pos := 0
	var werr error
	for pos < len(buf) {
		idx := off / bs
		in := off % bs
		chunk := min(len(buf)-pos, int(bs-in))
		dev := int64(list[idx])*int64(bs) + int64(in)
		if _, werr = fs.a.WriteRange(dev, buf[pos:pos+chunk]); werr != nil {
			break
		}
		pos += chunk
		off += uint64(chunk)
	}
	if off > di.Size {
		di.Size = off
	}
	di.Mtime = toNanos(fs.opts.Clock())
	if err := fs.storeInode(n.ino, di); err != nil {
		return 0, err
	}
	return pos, werr
}

// growTo makes sure list covers size bytes, allocating zeroed blocks. On
// failure every block allocated here is released again.
func (n *node) growTo(di *diskInode, list []uint32, size uint64) ([]uint32, error) {
	fs := n.fs
	bs := uint64(fs.bs)
	blocks := size / bs
	if size%bs != 0 {
		blocks++
	}
	if blocks <= uint64(len(list)) {
		return list, nil
	}
	if blocks-uint64(len(list)) > fs.free {
		return nil, vfs.ErrNoSpace
	}
	need := int(blocks)
	start := len(list)
	for len(list) < need {
		id, err := fs.alloc()
		if err != nil {
			for _, b := range list[start:] {
				fs.release(uint64(b))
			}
			return nil, err
		}
		list = append(list, uint32(id))
	}
	if err := fs.setBlockMap(di, list); err != nil {
		for _, b := range list[start:] {
			fs.release(uint64(b))
		}
		return nil, err
	}
	return list, nil
}

func (n *node) Metadata() (vfs.Metadata, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	di, err := n.load()
	if err != nil {
		return vfs.Metadata{}, err
	}
	size := di.Size
	if di.isDir() {
		size = uint64(len(di.Entries))
	}
	return vfs.Metadata{
		Dev:       n.fs.opts.Dev,
		Inode:     n.ino,
		Size:      size,
		BlockSize: uint32(n.fs.bs),
		Blocks:    uint64(di.Count) * uint64(n.fs.bs) / 512,
		Atime:     fromNanos(di.Atime),
		Mtime:     fromNanos(di.Mtime),
		Ctime:     fromNanos(di.Ctime),
		Type:      di.fileType(),
		Mode:      di.Mode,
		Nlinks:    di.Nlinks,
		Uid:       di.Uid,
		Gid:       di.Gid,
	}, nil
}

func (n *node) SetMetadata(md vfs.Metadata) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	di, err := n.load()
	if err != nil {
		return err
	}
	di.Mode = md.Mode & 0o7777
	di.Uid = md.Uid
	di.Gid = md.Gid
	di.Atime = toNanos(md.Atime)
	di.Mtime = toNanos(md.Mtime)
	di.Ctime = toNanos(n.fs.opts.Clock())
	return n.fs.storeInode(n.ino, di)
}

func (n *node) Resize(size uint64) error {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	di, err := n.load()
	if err != nil {
		return err
	}
	if di.isDir() {
		return vfs.ErrIsDir
	}
	list, err := fs.blockMap(di)
	if err != nil {
		return err
	}
	bs := uint64(fs.bs)
	if size > di.Size {
		if list, err = n.growTo(di, list, size); err != nil {
			return err
		}
	} else if size < di.Size {
		keep := int((size + bs - 1) / bs)
		for _, b := range list[keep:] {
			if err := fs.release(uint64(b)); err != nil {
				return err
			}
		}
		list = list[:keep]
		// Bytes past the end of file in the last block must read as zero
		// when the file grows again.
		if tail := size % bs; tail != 0 {
			dev := int64(list[keep-1])*int64(bs) + int64(tail)
			if _, err := fs.a.WriteRange(dev, make([]byte, bs-tail)); err != nil {
				return err
			}
		}
		if err := fs.setBlockMap(di, list); err != nil {
			return err
		}
	}
	di.Size = size
	di.Mtime = toNanos(fs.opts.Clock())
	return fs.storeInode(n.ino, di)
}

func (n *node) Poll() (vfs.PollStatus, error) {
	return vfs.PollStatus{Read: true, Write: true}, nil
}

func (n *node) SyncAll() error {
	return n.fs.a.Flush()
}

func (n *node) SyncData() error {
	return n.fs.a.Flush()
}

func (n *node) Create(name string, typ vfs.FileType, mode uint16) (vfs.Node, error) {
	if !vfs.ValidName(name) || !typ.Valid() {
		return nil, vfs.ErrInvalid
	}
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, err := n.loadDir()
	if err != nil {
		return nil, err
	}
	if _, ok := dir.Entries[name]; ok {
		return nil, vfs.ErrExist
	}
	ino, err := fs.alloc()
	if err != nil {
		return nil, err
	}
	now := toNanos(fs.opts.Clock())
	child := &diskInode{
		Type:   uint8(typ),
		Mode:   mode & 0o7777,
		Nlinks: 1,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Birth:  fs.nextBirth(now),
	}
	if typ == vfs.TypeDir {
		child.Nlinks = 2
		child.Entries = map[string]uint64{}
	}
	if err := fs.storeInode(ino, child); err != nil {
		fs.release(ino)
		return nil, err
	}
	dir.Entries[name] = ino
	if typ == vfs.TypeDir {
		dir.Nlinks++
	}
	dir.Mtime = now
	if err := fs.storeInode(n.ino, dir); err != nil {
		fs.release(ino)
		return nil, err
	}
	return &node{fs: fs, ino: ino, birth: child.Birth}, nil
}

func (n *node) Link(name string, target vfs.Node) error {
	if !vfs.ValidName(name) {
		return vfs.ErrInvalid
	}
	t, ok := target.(*node)
	if !ok || t.fs != n.fs {
		return vfs.ErrCrossDevice
	}
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, err := n.loadDir()
	if err != nil {
		return err
	}
	tdi, err := t.load()
	if err != nil {
		return err
	}
	if tdi.isDir() {
		return vfs.ErrIsDir
	}
	if _, ok := dir.Entries[name]; ok {
		return vfs.ErrExist
	}
	dir.Entries[name] = t.ino
	now := toNanos(fs.opts.Clock())
	dir.Mtime = now
	if err := fs.storeInode(n.ino, dir); err != nil {
		return err
	}
	tdi.Nlinks++
	tdi.Ctime = now
	return fs.storeInode(t.ino, tdi)
}

func (n *node) Unlink(name string) error {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, err := n.loadDir()
	if err != nil {
		return err
	}
	ino, ok := dir.Entries[name]
	if !ok {
		return vfs.ErrNotFound
	}
	child, err := fs.loadInode(ino)
	if err != nil {
		return err
	}
	if child.isDir() {
		if len(child.Entries) > 0 {
			return vfs.ErrNotEmpty
		}
		dir.Nlinks--
		child.Nlinks = 0
	} else {
		child.Nlinks--
	}
	delete(dir.Entries, name)
	now := toNanos(fs.opts.Clock())
	dir.Mtime = now
	if err := fs.storeInode(n.ino, dir); err != nil {
		return err
	}
	if child.Nlinks == 0 {
		return fs.freeInode(ino, child)
	}
	child.Ctime = now
	return fs.storeInode(ino, child)
}

func (n *node) Move(oldName string, target vfs.Node, newName string) error {
	if !vfs.ValidName(newName) {
		return vfs.ErrInvalid
	}
	t, ok := target.(*node)
	if !ok || t.fs != n.fs {
		return vfs.ErrCrossDevice
	}
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	src, err := n.loadDir()
	if err != nil {
		return err
	}
	dst := src
	if t.ino != n.ino {
		if dst, err = t.loadDir(); err != nil {
			return err
		}
	}
	ino, ok := src.Entries[oldName]
	if !ok {
		return vfs.ErrNotFound
	}
	if dst == src && oldName == newName {
		return nil
	}
	if _, ok := dst.Entries[newName]; ok {
		return vfs.ErrExist
	}
	child, err := fs.loadInode(ino)
	if err != nil {
		return err
	}
	if child.isDir() && dst != src {
		within, err := fs.isWithin(ino, t.ino)
		if err != nil {
			return err
		}
		if within {
			return vfs.ErrInvalid
		}
		src.Nlinks--
		dst.Nlinks++
	}
	delete(src.Entries, oldName)
	dst.Entries[newName] = ino
	now := toNanos(fs.opts.Clock())
	src.Mtime = now
	dst.Mtime = now
	if err := fs.storeInode(t.ino, dst); err != nil {
		return err
	}
	if dst != src {
		if err := fs.storeInode(n.ino, src); err != nil {
			return err
		}
	}
	child.Ctime = now
	return fs.storeInode(ino, child)
}

func (n *node) Find(name string) (vfs.Node, error) {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	dir, err := n.loadDir()
	if err != nil {
		return nil, err
	}
	ino, ok := dir.Entries[name]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	child, err := fs.loadInode(ino)
	if err != nil {
		return nil, err
	}
	return &node{fs: fs, ino: ino, birth: child.Birth}, nil
}

func (n *node) List() ([]string, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	dir, err := n.loadDir()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(dir.Entries))
	for name := range dir.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
