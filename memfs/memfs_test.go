package memfs

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wippyai/fdtab/vfs"
)

func mustCreate(t *testing.T, dir vfs.Node, name string, typ vfs.FileType) vfs.Node {
	t.Helper()
	n, err := dir.Create(name, typ, 0o644)
	if err != nil {
		t.Fatalf("Create(%q): %v", name, err)
	}
	return n
}

func TestReadWrite(t *testing.T) {
	fs := New(Options{})
	f := mustCreate(t, fs.Root(), "file", vfs.TypeFile)

	if n, err := f.WriteAt(0, []byte("hello")); err != nil || n != 5 {
		t.Fatalf("WriteAt = %d, %v", n, err)
	}
	if n, err := f.WriteAt(10, []byte("world")); err != nil || n != 5 {
		t.Fatalf("WriteAt past end = %d, %v", n, err)
	}

	buf := make([]byte, 32)
	n, err := f.ReadAt(0, buf)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	want := []byte("hello\x00\x00\x00\x00\x00world")
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("ReadAt = %q, want %q", buf[:n], want)
	}

	n, err = f.ReadAt(100, buf)
	if err != nil || n != 0 {
		t.Errorf("ReadAt past end = %d, %v, want 0, nil", n, err)
	}
}

func TestInodesSequential(t *testing.T) {
	fs := New(Options{})
	root := fs.Root()
	md, _ := root.Metadata()
	if md.Inode != RootIno {
		t.Fatalf("root inode = %d", md.Inode)
	}
	for i, name := range []string{"a", "b", "c"} {
		n := mustCreate(t, root, name, vfs.TypeFile)
		md, _ := n.Metadata()
		if md.Inode != uint64(RootIno+1+i) {
			t.Errorf("%s inode = %d, want %d", name, md.Inode, RootIno+1+i)
		}
	}
	if err := root.Unlink("b"); err != nil {
		t.Fatal(err)
	}
	n := mustCreate(t, root, "d", vfs.TypeFile)
	md, _ = n.Metadata()
	if md.Inode != RootIno+4 {
		t.Errorf("inode reused: got %d", md.Inode)
	}
}

func TestDirectoryErrors(t *testing.T) {
	fs := New(Options{})
	root := fs.Root()
	dir := mustCreate(t, root, "dir", vfs.TypeDir)
	file := mustCreate(t, dir, "f", vfs.TypeFile)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"create existing", func() error { _, err := root.Create("dir", vfs.TypeDir, 0o755); return err }(), vfs.ErrExist},
		{"create in file", func() error { _, err := file.Create("x", vfs.TypeFile, 0o644); return err }(), vfs.ErrNotDir},
		{"invalid name", func() error { _, err := root.Create("a/b", vfs.TypeFile, 0o644); return err }(), vfs.ErrInvalid},
		{"unlink non-empty", root.Unlink("dir"), vfs.ErrNotEmpty},
		{"unlink missing", root.Unlink("nope"), vfs.ErrNotFound},
		{"link directory", root.Link("dirlink", dir), vfs.ErrIsDir},
		{"find missing", func() error { _, err := root.Find("zzz"); return err }(), vfs.ErrNotFound},
		{"read dir", func() error { _, err := dir.ReadAt(0, make([]byte, 1)); return err }(), vfs.ErrIsDir},
		{"move into own subtree", root.Move("dir", dir, "loop"), vfs.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("got %v, want %v", tt.err, tt.want)
			}
		})
	}
}

func TestLinkAndUnlink(t *testing.T) {
	fs := New(Options{})
	root := fs.Root()
	f := mustCreate(t, root, "orig", vfs.TypeFile)
	f.WriteAt(0, []byte("shared"))

	if err := root.Link("alias", f); err != nil {
		t.Fatalf("Link: %v", err)
	}
	md, _ := f.Metadata()
	if md.Nlinks != 2 {
		t.Errorf("Nlinks = %d, want 2", md.Nlinks)
	}

	alias, err := root.Find("alias")
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 6)
	alias.ReadAt(0, buf)
	if string(buf) != "shared" {
		t.Errorf("alias content = %q", buf)
	}

	if err := root.Unlink("orig"); err != nil {
		t.Fatal(err)
	}
	if fs.Used() != 6 {
		t.Errorf("Used = %d, want 6 while a link remains", fs.Used())
	}
	if err := root.Unlink("alias"); err != nil {
		t.Fatal(err)
	}
	if fs.Used() != 0 {
		t.Errorf("Used = %d after last unlink", fs.Used())
	}

	// The open node still reads its data.
	n, _ := f.ReadAt(0, buf)
	if n != 6 {
		t.Errorf("orphan read = %d bytes", n)
	}
}

func TestMove(t *testing.T) {
	fs := New(Options{})
	root := fs.Root()
	a := mustCreate(t, root, "a", vfs.TypeDir)
	b := mustCreate(t, root, "b", vfs.TypeDir)
	f := mustCreate(t, a, "f", vfs.TypeFile)
	f.WriteAt(0, []byte("x"))

	if err := a.Move("f", b, "g"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if _, err := a.Find("f"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("old name still present: %v", err)
	}
	g, err := b.Find("g")
	if err != nil {
		t.Fatal(err)
	}
	gmd, _ := g.Metadata()
	fmd, _ := f.Metadata()
	if gmd.Inode != fmd.Inode {
		t.Errorf("moved inode = %d, want %d", gmd.Inode, fmd.Inode)
	}

	if err := root.Move("a", b, "a2"); err != nil {
		t.Fatalf("Move dir: %v", err)
	}
	names, _ := b.List()
	if len(names) != 2 || names[0] != "a2" || names[1] != "g" {
		t.Errorf("List = %v", names)
	}

	other := New(Options{})
	if err := b.Move("g", other.Root(), "g"); !errors.Is(err, vfs.ErrCrossDevice) {
		t.Errorf("cross-fs move: %v", err)
	}
}

func TestCapacity(t *testing.T) {
	fs := New(Options{Capacity: 10})
	f := mustCreate(t, fs.Root(), "f", vfs.TypeFile)
	if _, err := f.WriteAt(0, make([]byte, 8)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(8, make([]byte, 3)); !errors.Is(err, vfs.ErrNoSpace) {
		t.Errorf("expected ErrNoSpace, got %v", err)
	}
	if err := f.Resize(2); err != nil {
		t.Fatal(err)
	}
	if fs.Used() != 2 {
		t.Errorf("Used = %d", fs.Used())
	}
	if err := f.Resize(10); err != nil {
		t.Errorf("Resize within capacity: %v", err)
	}
}

func TestSetMetadata(t *testing.T) {
	clock := vfs.Timespec{Sec: 100}
	fs := New(Options{Clock: func() vfs.Timespec { return clock }})
	f := mustCreate(t, fs.Root(), "f", vfs.TypeFile)

	md, _ := f.Metadata()
	md.Mode = 0o600
	md.Uid = 1000
	md.Mtime = vfs.Timespec{Sec: 42}
	md.Size = 99999
	clock = vfs.Timespec{Sec: 200}
	if err := f.SetMetadata(md); err != nil {
		t.Fatal(err)
	}

	got, _ := f.Metadata()
	if got.Mode != 0o600 || got.Uid != 1000 || got.Mtime.Sec != 42 {
		t.Errorf("metadata not applied: %+v", got)
	}
	if got.Size != 0 {
		t.Errorf("Size changed by SetMetadata: %d", got.Size)
	}
	if got.Ctime.Sec != 200 {
		t.Errorf("Ctime = %d, want 200", got.Ctime.Sec)
	}
	if got.Type != vfs.TypeFile {
		t.Errorf("Type = %v", got.Type)
	}
}

func TestMaxFileSize(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		off  uint64
		want error
	}{
		{"default limit far offset", Options{}, 1 << 40, vfs.ErrTooLarge},
		{"default limit huge offset", Options{}, 1 << 62, vfs.ErrTooLarge},
		{"small limit", Options{MaxFileSize: 64}, 64, vfs.ErrTooLarge},
		{"at limit", Options{MaxFileSize: 64}, 60, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := New(tt.opts)
			f := mustCreate(t, fs.Root(), "f", vfs.TypeFile)
			_, err := f.WriteAt(tt.off, []byte("data"))
			if !errors.Is(err, tt.want) {
				t.Fatalf("WriteAt(%d) = %v, want %v", tt.off, err, tt.want)
			}
			md, err := f.Metadata()
			if err != nil {
				t.Fatal(err)
			}
			if tt.want != nil && md.Size != 0 {
				t.Errorf("size after rejected write = %d", md.Size)
			}
			if tt.want != nil && fs.Used() != 0 {
				t.Errorf("Used after rejected write = %d", fs.Used())
			}
		})
	}
}

func TestMaxFileSize_Resize(t *testing.T) {
	fs := New(Options{MaxFileSize: 16})
	f := mustCreate(t, fs.Root(), "f", vfs.TypeFile)
	if err := f.Resize(17); !errors.Is(err, vfs.ErrTooLarge) {
		t.Errorf("Resize(17) = %v, want ErrTooLarge", err)
	}
	if err := f.Resize(16); err != nil {
		t.Errorf("Resize(16): %v", err)
	}
}
