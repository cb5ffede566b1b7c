package memfs

import (
	"github.com/wippyai/fdtab/vfs"
)

type node struct {
	fs *FS
	in *inode
}

var _ vfs.Node = (*node)(nil)

func (n *node) FS() vfs.FileSystem {
	return n.fs
}

func (n *node) Size() uint64 {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	return uint64(len(n.in.data))
}

func (n *node) ReadAt(off uint64, buf []byte) (int, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	if n.in.typ == vfs.TypeDir {
		return 0, vfs.ErrIsDir
	}
	if off >= uint64(len(n.in.data)) {
		return 0, nil
	}
	return copy(buf, n.in.data[off:]), nil
}

func (n *node) WriteAt(off uint64, buf []byte) (int, error) {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.in.typ == vfs.TypeDir {
		return 0, vfs.ErrIsDir
	}
	if len(buf) == 0 {
		return 0, nil
	}
	end := off + uint64(len(buf))
	if end < off {
		return 0, vfs.ErrTooLarge
	}
	if err := n.fs.grow(n.in, end); err != nil {
		return 0, err
	}
	copy(n.in.data[off:], buf)
	n.in.mtime = n.fs.opts.Clock()
	return len(buf), nil
}

func (n *node) Metadata() (vfs.Metadata, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	in := n.in
	size := uint64(len(in.data))
	if in.typ == vfs.TypeDir {
		size = uint64(len(in.entries))
	}
	return vfs.Metadata{
		Dev:       n.fs.opts.Dev,
		Inode:     in.ino,
		Size:      size,
		BlockSize: n.fs.opts.BlockSize,
		Blocks:    (uint64(len(in.data)) + 511) / 512,
		Atime:     in.atime,
		Mtime:     in.mtime,
		Ctime:     in.ctime,
		Type:      in.typ,
		Mode:      in.mode,
		Nlinks:    in.nlinks,
		Uid:       in.uid,
		Gid:       in.gid,
	}, nil
}

func (n *node) SetMetadata(md vfs.Metadata) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	n.in.mode = md.Mode & 0o7777
	n.in.uid = md.Uid
	n.in.gid = md.Gid
	n.in.atime = md.Atime
	n.in.mtime = md.Mtime
	n.in.ctime = n.fs.opts.Clock()
	return nil
}

func (n *node) Resize(size uint64) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	if n.in.typ == vfs.TypeDir {
		return vfs.ErrIsDir
	}
	if size > uint64(len(n.in.data)) {
		if err := n.fs.grow(n.in, size); err != nil {
			return err
		}
	} else {
		n.fs.shrink(n.in, size)
	}
	n.in.mtime = n.fs.opts.Clock()
	return nil
}

func (n *node) Poll() (vfs.PollStatus, error) {
	return vfs.PollStatus{Read: true, Write: true}, nil
}

func (n *node) SyncAll() error {
	return nil
}

func (n *node) SyncData() error {
	return nil
}

func (n *node) dir() (*inode, error) {
	if n.in.typ != vfs.TypeDir {
		return nil, vfs.ErrNotDir
	}
	return n.in, nil
}

func (n *node) Create(name string, typ vfs.FileType, mode uint16) (vfs.Node, error) {
	if !vfs.ValidName(name) || !typ.Valid() {
		return nil, vfs.ErrInvalid
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	dir, err := n.dir()
	if err != nil {
		return nil, err
	}
	if _, ok := dir.entries[name]; ok {
		return nil, vfs.ErrExist
	}
	child := n.fs.newInode(typ, mode)
	dir.entries[name] = child
	if typ == vfs.TypeDir {
		dir.nlinks++
	}
	dir.mtime = child.ctime
	return &node{fs: n.fs, in: child}, nil
}

func (n *node) Link(name string, target vfs.Node) error {
	if !vfs.ValidName(name) {
		return vfs.ErrInvalid
	}
	t, ok := target.(*node)
	if !ok || t.fs != n.fs {
		return vfs.ErrCrossDevice
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	dir, err := n.dir()
	if err != nil {
		return err
	}
	if t.in.typ == vfs.TypeDir {
		return vfs.ErrIsDir
	}
	if _, ok := dir.entries[name]; ok {
		return vfs.ErrExist
	}
	dir.entries[name] = t.in
	t.in.nlinks++
	now := n.fs.opts.Clock()
	t.in.ctime = now
	dir.mtime = now
	return nil
}

func (n *node) Unlink(name string) error {
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	dir, err := n.dir()
	if err != nil {
		return err
	}
	child, ok := dir.entries[name]
	if !ok {
		return vfs.ErrNotFound
	}
	if child.typ == vfs.TypeDir {
		if len(child.entries) > 0 {
			return vfs.ErrNotEmpty
		}
		dir.nlinks--
		child.nlinks = 0
	} else {
		child.nlinks--
	}
	delete(dir.entries, name)
	now := n.fs.opts.Clock()
	dir.mtime = now
	child.ctime = now
	n.fs.release(child)
	return nil
}

func (n *node) Move(oldName string, target vfs.Node, newName string) error {
	if !vfs.ValidName(newName) {
		return vfs.ErrInvalid
	}
	t, ok := target.(*node)
	if !ok || t.fs != n.fs {
		return vfs.ErrCrossDevice
	}
	n.fs.mu.Lock()
	defer n.fs.mu.Unlock()
	src, err := n.dir()
	if err != nil {
		return err
	}
	dst, err := t.dir()
	if err != nil {
		return err
	}
	child, ok := src.entries[oldName]
	if !ok {
		return vfs.ErrNotFound
	}
	if src == dst && oldName == newName {
		return nil
	}
	if _, ok := dst.entries[newName]; ok {
		return vfs.ErrExist
	}
	if child.typ == vfs.TypeDir && contains(child, dst) {
		return vfs.ErrInvalid
	}
	delete(src.entries, oldName)
	dst.entries[newName] = child
	if child.typ == vfs.TypeDir && src != dst {
		src.nlinks--
		dst.nlinks++
	}
	now := n.fs.opts.Clock()
	src.mtime = now
	dst.mtime = now
	child.ctime = now
	return nil
}

func (n *node) Find(name string) (vfs.Node, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	dir, err := n.dir()
	if err != nil {
		return nil, err
	}
	child, ok := dir.entries[name]
	if !ok {
		return nil, vfs.ErrNotFound
	}
	return &node{fs: n.fs, in: child}, nil
}

func (n *node) List() ([]string, error) {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	dir, err := n.dir()
	if err != nil {
		return nil, err
	}
	return n.fs.sortedNames(dir), nil
}
