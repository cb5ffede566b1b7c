package jfs

import (
	"github.com/wippyai/fdtab/vfs"
)

// node wraps a node of the state tree. Reads go straight to it; mutations
// are journaled.
type node struct {
	fs  *FS
	n   vfs.Node
	ino uint64
}

var _ vfs.Node = (*node)(nil)

func (n *node) FS() vfs.FileSystem {
	return n.fs
}

func (n *node) wrap(child vfs.Node) (vfs.Node, error) {
	ino, err := inoOf(child)
	if err != nil {
		return nil, err
	}
	return &node{fs: n.fs, n: child, ino: ino}, nil
}

func (n *node) other(target vfs.Node) (*node, error) {
	t, ok := target.(*node)
	if !ok || t.fs != n.fs {
		return nil, vfs.ErrCrossDevice
	}
	return t, nil
}

func (n *node) ReadAt(off uint64, buf []byte) (int, error) {
	return n.n.ReadAt(off, buf)
}

func (n *node) WriteAt(off uint64, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec := &record{Op: opWrite, Ino: n.ino, Off: off, Data: buf}
	if err := fs.begin(rec); err != nil {
		return 0, err
	}
	k, err := n.n.WriteAt(off, buf)
	if err != nil {
		return k, err
	}
	rec.Data = buf[:k]
	if err := fs.append(rec); err != nil {
		return 0, err
	}
	return k, nil
}

func (n *node) Metadata() (vfs.Metadata, error) {
	return n.n.Metadata()
}

func (n *node) SetMetadata(md vfs.Metadata) error {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec := &record{
		Op:    opSetMetadata,
		Ino:   n.ino,
		Mode:  md.Mode,
		Uid:   md.Uid,
		Gid:   md.Gid,
		Atime: toNanos(md.Atime),
		Mtime: toNanos(md.Mtime),
	}
	if err := fs.begin(rec); err != nil {
		return err
	}
	if err := n.n.SetMetadata(md); err != nil {
		return err
	}
	return fs.append(rec)
}

func (n *node) Resize(size uint64) error {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec := &record{Op: opResize, Ino: n.ino, Size: size}
	if err := fs.begin(rec); err != nil {
		return err
	}
	if err := n.n.Resize(size); err != nil {
		return err
	}
	return fs.append(rec)
}

func (n *node) Poll() (vfs.PollStatus, error) {
	return n.n.Poll()
}

func (n *node) SyncAll() error {
	return n.fs.a.Flush()
}

func (n *node) SyncData() error {
	return n.fs.a.Flush()
}

func (n *node) Create(name string, typ vfs.FileType, mode uint16) (vfs.Node, error) {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec := &record{Op: opCreate, Dir: n.ino, Name: name, Type: uint8(typ), Mode: mode}
	if err := fs.begin(rec); err != nil {
		return nil, err
	}
	child, err := n.n.Create(name, typ, mode)
	if err != nil {
		return nil, err
	}
	wrapped, err := n.wrap(child)
	if err != nil {
		return nil, err
	}
	ino := wrapped.(*node).ino
	fs.nodes[ino] = child
	rec.Ino = ino
	if err := fs.append(rec); err != nil {
		return nil, err
	}
	return wrapped, nil
}

func (n *node) Link(name string, target vfs.Node) error {
	t, err := n.other(target)
	if err != nil {
		return err
	}
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.nodes[t.ino]; !ok {
		// Relinking an inode whose last name is gone would not replay.
		return vfs.ErrNotFound
	}
	rec := &record{Op: opLink, Dir: n.ino, Name: name, Ino: t.ino}
	if err := fs.begin(rec); err != nil {
		return err
	}
	if err := n.n.Link(name, t.n); err != nil {
		return err
	}
	return fs.append(rec)
}

func (n *node) Unlink(name string) error {
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec := &record{Op: opUnlink, Dir: n.ino, Name: name}
	if err := fs.begin(rec); err != nil {
		return err
	}
	if err := fs.unlink(n.n, name); err != nil {
		return err
	}
	return fs.append(rec)
}

func (n *node) Move(oldName string, target vfs.Node, newName string) error {
	t, err := n.other(target)
	if err != nil {
		return err
	}
	fs := n.fs
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rec := &record{Op: opMove, Dir: n.ino, Name: oldName, Target: t.ino, NewName: newName}
	if err := fs.begin(rec); err != nil {
		return err
	}
	if err := n.n.Move(oldName, t.n, newName); err != nil {
		return err
	}
	return fs.append(rec)
}

func (n *node) Find(name string) (vfs.Node, error) {
	child, err := n.n.Find(name)
	if err != nil {
		return nil, err
	}
	return n.wrap(child)
}

func (n *node) List() ([]string, error) {
	return n.n.List()
}
