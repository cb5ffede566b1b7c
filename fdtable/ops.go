package fdtable

import (
	stderrors "errors"

	"go.uber.org/zap"

	"github.com/wippyai/fdtab/errors"
	"github.com/wippyai/fdtab/vfs"
)

// Open resolves path from the root and returns a descriptor for it.
// Relative paths are taken relative to the root. With FlagCreate a missing
// file is created in its parent directory with DefaultFileMode.
func (t *Table) Open(path string, flags OpenFlags, mode OpenMode) (Fd, error) {
	defer t.enter()()
	fs, err := t.ensure(errors.PhaseOpen)
	if err != nil {
		return 0, err
	}

	clean := vfs.Clean(path)
	root := fs.Root()
	create := flags&FlagCreate != 0
	created := false

	node, err := vfs.Lookup(root, clean)
	switch {
	case err == nil:
		if create && flags&FlagExclusive != 0 {
			return 0, errors.New(errors.PhaseOpen, errors.KindBackend).Path(clean).Cause(vfs.ErrExist).Build()
		}
	case create && stderrors.Is(err, vfs.ErrNotFound):
		node, err = t.createFile(root, clean, flags&FlagExclusive != 0)
		if err != nil {
			return 0, err
		}
		created = true
	default:
		return 0, errors.NotFound(errors.PhaseOpen, clean, err)
	}

	writable := mode.writable()
	if flags&FlagTruncate != 0 && writable && !created {
		if err := node.Resize(0); err != nil {
			return 0, errors.New(errors.PhaseOpen, errors.KindBackend).Path(clean).Cause(err).Detail("truncate").Build()
		}
	}

	fd, err := t.insert(errors.PhaseOpen, &entry{
		node:     node,
		path:     clean,
		readable: mode.readable(),
		writable: writable,
	})
	if err != nil {
		return 0, err
	}
	Logger().Debug("open",
		zap.Uint32("fd", uint32(fd)),
		zap.String("path", clean),
		zap.Bool("created", created))
	return fd, nil
}

func (t *Table) createFile(root vfs.Node, p string, exclusive bool) (vfs.Node, error) {
	parent, name, err := vfs.LookupParent(root, p)
	if err != nil {
		return nil, errors.NotFound(errors.PhaseOpen, p, err)
	}
	node, err := parent.Create(name, vfs.TypeFile, DefaultFileMode)
	if err == nil {
		return node, nil
	}
	if !exclusive && stderrors.Is(err, vfs.ErrExist) {
		// Lost a race with another creator.
		if node, lerr := parent.Find(name); lerr == nil {
			return node, nil
		}
	}
	return nil, errors.New(errors.PhaseOpen, errors.KindBackend).Path(p).Cause(err).Build()
}

// Read reads from fd's cursor into buf and advances the cursor by the bytes
// read. It returns 0 at end of file.
func (t *Table) Read(fd Fd, buf []byte) (int, error) {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseRead); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return 0, errors.InvalidFd(errors.PhaseRead, uint32(fd))
	}
	if !e.readable {
		return 0, errors.PermissionDenied(errors.PhaseRead, uint32(fd), "reading")
	}
	n, err := e.node.ReadAt(e.offset, buf)
	e.offset += uint64(n)
	if err != nil {
		return n, backendError(errors.PhaseRead, fd, err)
	}
	return n, nil
}

// Write writes buf at fd's cursor and advances the cursor by the bytes
// written. Writes to 0 and 1 go to the console stdout and writes to 2 to
// its stderr.
func (t *Table) Write(fd Fd, buf []byte) (int, error) {
	defer t.enter()()
	if fd < FirstFd {
		return t.writeConsole(fd, buf)
	}
	if _, err := t.ensure(errors.PhaseWrite); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return 0, errors.InvalidFd(errors.PhaseWrite, uint32(fd))
	}
	if !e.writable {
		return 0, errors.PermissionDenied(errors.PhaseWrite, uint32(fd), "writing")
	}
	n, err := e.node.WriteAt(e.offset, buf)
	e.offset += uint64(n)
	if err != nil {
		return n, backendError(errors.PhaseWrite, fd, err)
	}
	return n, nil
}

func (t *Table) writeConsole(fd Fd, buf []byte) (int, error) {
	w := t.stdout
	if fd == Stderr {
		w = t.stderr
	}
	t.consoleMu.Lock()
	defer t.consoleMu.Unlock()
	n, err := w.Write(buf)
	if err != nil {
		return n, errors.New(errors.PhaseWrite, errors.KindBackend).Fd(uint32(fd)).Cause(err).Detail("console").Build()
	}
	return n, nil
}

// Seek moves fd's cursor to pos. Positions past end of file are allowed.
func (t *Table) Seek(fd Fd, pos uint64) error {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseSeek); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return errors.InvalidFd(errors.PhaseSeek, uint32(fd))
	}
	e.offset = pos
	return nil
}

// Stat returns the metadata of fd.
func (t *Table) Stat(fd Fd) (Stat, error) {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseStat); err != nil {
		return Stat{}, err
	}
	e, err := t.get(errors.PhaseStat, fd)
	if err != nil {
		return Stat{}, err
	}
	md, err := e.node.Metadata()
	if err != nil {
		return Stat{}, backendError(errors.PhaseStat, fd, err)
	}
	return StatFromMetadata(md), nil
}

// ReadDir lists the directory at path. Entries that vanish or fail to
// report metadata while listing are left out.
func (t *Table) ReadDir(path string) ([]DirEntry, error) {
	defer t.enter()()
	fs, err := t.ensure(errors.PhaseReadDir)
	if err != nil {
		return nil, err
	}
	dir, err := vfs.Lookup(fs.Root(), path)
	if err != nil {
		return nil, errors.NotFound(errors.PhaseReadDir, vfs.Clean(path), err)
	}
	names, err := dir.List()
	if err != nil {
		return nil, errors.New(errors.PhaseReadDir, errors.KindBackend).Path(vfs.Clean(path)).Cause(err).Build()
	}
	out := make([]DirEntry, 0, len(names))
	for _, name := range names {
		child, err := dir.Find(name)
		if err != nil {
			continue
		}
		md, err := child.Metadata()
		if err != nil {
			continue
		}
		out = append(out, DirEntry{DirPath: path, Name: name, Type: md.Type})
	}
	return out, nil
}

func checkName(phase errors.Phase, name string) error {
	if !vfs.ValidName(name) {
		return errors.New(phase, errors.KindInvalidInput).Detail("invalid name %q", name).Build()
	}
	return nil
}

// Create makes a child of the directory open as parent and returns a
// read-write descriptor for it.
func (t *Table) Create(parent Fd, name string, typ vfs.FileType, mode uint16) (Fd, error) {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseCreate); err != nil {
		return 0, err
	}
	if err := checkName(errors.PhaseCreate, name); err != nil {
		return 0, err
	}
	if !typ.Valid() {
		return 0, errors.InvalidInput(errors.PhaseCreate, "invalid file type")
	}
	p, err := t.get(errors.PhaseCreate, parent)
	if err != nil {
		return 0, err
	}
	node, err := p.node.Create(name, typ, mode)
	if err != nil {
		return 0, backendError(errors.PhaseCreate, parent, err)
	}
	return t.insert(errors.PhaseCreate, &entry{
		node:     node,
		path:     vfs.Join(p.path, name),
		readable: true,
		writable: true,
	})
}

// Link adds name in the directory open as parent for the node open as
// target.
func (t *Table) Link(parent Fd, name string, target Fd) error {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseLink); err != nil {
		return err
	}
	if err := checkName(errors.PhaseLink, name); err != nil {
		return err
	}
	p, err := t.get(errors.PhaseLink, parent)
	if err != nil {
		return err
	}
	tgt, err := t.get(errors.PhaseLink, target)
	if err != nil {
		return err
	}
	if err := p.node.Link(name, tgt.node); err != nil {
		return backendError(errors.PhaseLink, parent, err)
	}
	return nil
}

// Unlink removes name from the directory open as parent. What happens to
// descriptors still open on the removed node depends on the engine. On memfs
// and jfs they keep working until closed, and jfs does not persist their
// writes. On sfs the inode is freed with its last link, so later operations
// on those descriptors fail with vfs.ErrNotFound.
func (t *Table) Unlink(parent Fd, name string) error {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseUnlink); err != nil {
		return err
	}
	p, err := t.get(errors.PhaseUnlink, parent)
	if err != nil {
		return err
	}
	if err := p.node.Unlink(name); err != nil {
		return backendError(errors.PhaseUnlink, parent, err)
	}
	return nil
}

// Rename moves the node open as fd to newName in the directory open as
// newParent. The old location is the path fd was opened or created at; if
// a different node lives there now the rename fails with vfs.ErrNotFound.
func (t *Table) Rename(fd, newParent Fd, newName string) error {
	defer t.enter()()
	fs, err := t.ensure(errors.PhaseRename)
	if err != nil {
		return err
	}
	if err := checkName(errors.PhaseRename, newName); err != nil {
		return err
	}
	e, err := t.get(errors.PhaseRename, fd)
	if err != nil {
		return err
	}
	np, err := t.get(errors.PhaseRename, newParent)
	if err != nil {
		return err
	}
	oldDir, oldName, err := vfs.LookupParent(fs.Root(), e.path)
	if err != nil {
		return errors.New(errors.PhaseRename, errors.KindNotFound).Fd(uint32(fd)).Path(e.path).Cause(err).Build()
	}
	if err := sameNode(oldDir, oldName, e.node); err != nil {
		return errors.New(errors.PhaseRename, errors.KindBackend).Fd(uint32(fd)).Path(e.path).Cause(err).Build()
	}
	if err := oldDir.Move(oldName, np.node, newName); err != nil {
		return backendError(errors.PhaseRename, fd, err)
	}

	t.mu.Lock()
	if cur, ok := t.entries[fd]; ok {
		cur.path = vfs.Join(np.path, newName)
	}
	t.mu.Unlock()
	return nil
}

// sameNode checks that name in dir is still the node n.
func sameNode(dir vfs.Node, name string, n vfs.Node) error {
	found, err := dir.Find(name)
	if err != nil {
		return err
	}
	a, err := found.Metadata()
	if err != nil {
		return err
	}
	b, err := n.Metadata()
	if err != nil {
		return err
	}
	if a.Dev != b.Dev || a.Inode != b.Inode {
		return vfs.ErrNotFound
	}
	return nil
}

// SetMetadata updates the mode, owner and timestamps of fd.
func (t *Table) SetMetadata(fd Fd, md vfs.Metadata) error {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseMetadata); err != nil {
		return err
	}
	e, err := t.get(errors.PhaseMetadata, fd)
	if err != nil {
		return err
	}
	if err := e.node.SetMetadata(md); err != nil {
		return backendError(errors.PhaseMetadata, fd, err)
	}
	return nil
}

// Flush makes fd's data and metadata durable.
func (t *Table) Flush(fd Fd) error {
	return t.sync(fd, true)
}

// Sync makes fd's data durable.
func (t *Table) Sync(fd Fd) error {
	return t.sync(fd, false)
}

func (t *Table) sync(fd Fd, all bool) error {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseSync); err != nil {
		return err
	}
	e, err := t.get(errors.PhaseSync, fd)
	if err != nil {
		return err
	}
	if all {
		err = e.node.SyncAll()
	} else {
		err = e.node.SyncData()
	}
	if err != nil {
		return backendError(errors.PhaseSync, fd, err)
	}
	return nil
}

// Poll reports the readiness of fd.
func (t *Table) Poll(fd Fd) (vfs.PollStatus, error) {
	defer t.enter()()
	if _, err := t.ensure(errors.PhasePoll); err != nil {
		return vfs.PollStatus{}, err
	}
	e, err := t.get(errors.PhasePoll, fd)
	if err != nil {
		return vfs.PollStatus{}, err
	}
	st, err := e.node.Poll()
	if err != nil {
		return vfs.PollStatus{}, backendError(errors.PhasePoll, fd, err)
	}
	return st, nil
}

// SetNonblocking records the flag on fd. Every operation blocks regardless.
func (t *Table) SetNonblocking(fd Fd, nonblocking bool) error {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseMetadata); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[fd]
	if !ok {
		return errors.InvalidFd(errors.PhaseMetadata, uint32(fd))
	}
	e.nonblocking = nonblocking
	return nil
}

// Close removes fd from the table. Closing an unknown descriptor fails
// with KindInvalidFd.
func (t *Table) Close(fd Fd) error {
	defer t.enter()()
	if _, err := t.ensure(errors.PhaseClose); err != nil {
		return err
	}
	t.mu.Lock()
	e, ok := t.entries[fd]
	if ok {
		delete(t.entries, fd)
	}
	t.mu.Unlock()
	if !ok {
		return errors.InvalidFd(errors.PhaseClose, uint32(fd))
	}
	t.notify(Event{Type: EventClosed, Fd: fd, Path: e.path})
	return nil
}
