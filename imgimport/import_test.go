package imgimport

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"

	"github.com/wippyai/fdtab/memfs"
	"github.com/wippyai/fdtab/vfs"
)

func bootTree() fstest.MapFS {
	return fstest.MapFS{
		"etc/motd":       {Data: []byte("Rust LibOS Cool.")},
		"etc/conf/a.yml": {Data: []byte("a: 1\n")},
		"bin/tool":       {Data: []byte("#!/bin/sh\n"), Mode: 0o755},
		"big.bin":        {Data: make([]byte, 64)},
		"empty":          {Mode: os.ModeDir | 0o700},
	}
}

func contents(t *testing.T, root vfs.Node, p string) string {
	t.Helper()
	n, err := vfs.Lookup(root, p)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", p, err)
	}
	size, _ := vfs.SizeOf(n)
	buf := make([]byte, size)
	k, _ := n.ReadAt(0, buf)
	return string(buf[:k])
}

func mode(t *testing.T, root vfs.Node, p string) uint16 {
	t.Helper()
	n, err := vfs.Lookup(root, p)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", p, err)
	}
	md, _ := n.Metadata()
	return md.Mode
}

func TestImport(t *testing.T) {
	fs := memfs.New(memfs.Options{})
	stats := Import(fs.Root(), FromFS(bootTree()), Options{MaxFileSize: 32, Resize: true})

	want := Stats{Dirs: 4, Files: 3, Skipped: 1, Bytes: int64(len("Rust LibOS Cool.") + len("a: 1\n") + len("#!/bin/sh\n"))}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	root := fs.Root()
	if got := contents(t, root, "/etc/motd"); got != "Rust LibOS Cool." {
		t.Errorf("motd = %q", got)
	}
	if got := contents(t, root, "/etc/conf/a.yml"); got != "a: 1\n" {
		t.Errorf("a.yml = %q", got)
	}
	if _, err := vfs.Lookup(root, "/big.bin"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("oversized file imported: %v", err)
	}
	if m := mode(t, root, "/bin/tool"); m != 0o644 {
		t.Errorf("file mode = %o, want 644", m)
	}
	if m := mode(t, root, "/empty"); m != 0o755 {
		t.Errorf("dir mode = %o, want 755", m)
	}
}

func TestImport_NoLimit(t *testing.T) {
	fs := memfs.New(memfs.Options{})
	stats := Import(fs.Root(), FromFS(bootTree()), Options{})
	if stats.Files != 4 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImport_KeepsExisting(t *testing.T) {
	fs := memfs.New(memfs.Options{})
	root := fs.Root()
	etc, _ := root.Create("etc", vfs.TypeDir, 0o700)
	motd, _ := etc.Create("motd", vfs.TypeFile, 0o600)
	motd.WriteAt(0, []byte("local"))

	stats := Import(root, FromFS(bootTree()), DefaultOptions())
	if got := contents(t, root, "/etc/motd"); got != "local" {
		t.Errorf("existing file overwritten: %q", got)
	}
	if got := contents(t, root, "/etc/conf/a.yml"); got != "a: 1\n" {
		t.Errorf("merge into existing dir failed: %q", got)
	}
	if stats.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", stats.Skipped)
	}
	if m := mode(t, root, "/etc"); m != 0o700 {
		t.Errorf("existing dir mode changed to %o", m)
	}
}

func TestImport_Idempotent(t *testing.T) {
	fs := memfs.New(memfs.Options{})
	Import(fs.Root(), FromFS(bootTree()), DefaultOptions())
	used, next := fs.Used(), fs.NextIno()

	again := Import(fs.Root(), FromFS(bootTree()), DefaultOptions())
	if again.Dirs != 0 || again.Files != 0 || again.Bytes != 0 || again.Failed != 0 {
		t.Errorf("second import changed the tree: %+v", again)
	}
	if fs.Used() != used || fs.NextIno() != next {
		t.Error("second import allocated space or inodes")
	}
}

type flakySource struct {
	Source
	bad map[string]bool
}

func (s *flakySource) ReadFile(name string) ([]byte, error) {
	if s.bad[name] {
		return nil, errors.New("sector read failed")
	}
	return s.Source.ReadFile(name)
}

func (s *flakySource) ReadDir(dir string) ([]Entry, error) {
	if s.bad[dir] {
		return nil, errors.New("bad cluster chain")
	}
	return s.Source.ReadDir(dir)
}

func TestImport_Failures(t *testing.T) {
	fs := memfs.New(memfs.Options{})
	src := &flakySource{
		Source: FromFS(bootTree()),
		bad:    map[string]bool{"etc/motd": true, "bin": true},
	}
	stats := Import(fs.Root(), src, DefaultOptions())
	if stats.Failed != 2 {
		t.Errorf("failed = %d, want 2", stats.Failed)
	}
	if got := contents(t, fs.Root(), "/etc/conf/a.yml"); got != "a: 1\n" {
		t.Errorf("sibling not imported: %q", got)
	}
	if got := contents(t, fs.Root(), "/big.bin"); len(got) != 64 {
		t.Errorf("big.bin = %d bytes", len(got))
	}
}

func TestImport_FileInPlaceOfDir(t *testing.T) {
	fs := memfs.New(memfs.Options{})
	fs.Root().Create("etc", vfs.TypeFile, 0o644)
	stats := Import(fs.Root(), FromFS(bootTree()), DefaultOptions())
	if stats.Failed != 1 {
		t.Errorf("failed = %d, want 1", stats.Failed)
	}
	if _, err := vfs.Lookup(fs.Root(), "/bin/tool"); err != nil {
		t.Errorf("rest of the tree missing: %v", err)
	}
}

func TestImportImage_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "data", "x.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	fs := memfs.New(memfs.Options{})
	stats, err := ImportImage(fs.Root(), dir, DefaultOptions())
	if err != nil {
		t.Fatalf("ImportImage: %v", err)
	}
	if stats.Files != 1 || contents(t, fs.Root(), "/data/x.txt") != "x" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestImportImage_Errors(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "bad.img.zst")
	if err := os.WriteFile(garbage, []byte("definitely not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing", filepath.Join(dir, "nope.img")},
		{"bad zstd", garbage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := memfs.New(memfs.Options{})
			if _, err := ImportImage(fs.Root(), tt.path, DefaultOptions()); err == nil {
				t.Fatal("expected error")
			}
			if names, _ := fs.Root().List(); len(names) != 0 {
				t.Errorf("tree modified: %v", names)
			}
		})
	}
}

func TestImportImage_FAT(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fatfs.img")
	d, err := diskfs.Create(img, 64<<20, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		t.Skipf("cannot create image: %v", err)
	}
	fat, err := d.CreateFilesystem(disk.FilesystemSpec{Partition: 0, FSType: filesystem.TypeFat32})
	if err != nil {
		t.Skipf("cannot format image: %v", err)
	}
	if err := fat.Mkdir("/ETC"); err != nil {
		t.Fatal(err)
	}
	f, err := fat.OpenFile("/ETC/MOTD", os.O_CREATE|os.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("hello from fat")); err != nil {
		t.Fatal(err)
	}
	f.Close()
	d.Close()

	fs := memfs.New(memfs.Options{})
	stats, err := ImportImage(fs.Root(), img, DefaultOptions())
	if err != nil {
		t.Fatalf("ImportImage: %v", err)
	}
	if stats.Files < 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if got := contents(t, fs.Root(), "/ETC/MOTD"); got != "hello from fat" {
		t.Errorf("MOTD = %q", got)
	}
}

func TestOpenFAT_ReadFileRepeatedly(t *testing.T) {
	img := filepath.Join(t.TempDir(), "fatfs.img")
	d, err := diskfs.Create(img, 64<<20, diskfs.Raw, diskfs.SectorSizeDefault)
	if err != nil {
		t.Skipf("cannot create image: %v", err)
	}
	fat, err := d.CreateFilesystem(disk.FilesystemSpec{Partition: 0, FSType: filesystem.TypeFat32})
	if err != nil {
		t.Skipf("cannot format image: %v", err)
	}
	f, err := fat.OpenFile("/NOTE", os.O_CREATE|os.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("again"))
	f.Close()
	d.Close()

	src, err := OpenFAT(img)
	if err != nil {
		t.Fatalf("OpenFAT: %v", err)
	}
	for i := 0; i < 3; i++ {
		data, err := src.ReadFile("NOTE")
		if err != nil {
			t.Fatalf("ReadFile #%d: %v", i, err)
		}
		if string(data) != "again" {
			t.Errorf("ReadFile #%d = %q", i, data)
		}
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
