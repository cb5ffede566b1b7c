package jfs

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/vfs"
)

func newAdapter(t *testing.T, size int64) *blockdev.Adapter {
	t.Helper()
	dev, err := blockdev.NewRamDisk(size, 4096)
	if err != nil {
		t.Fatalf("NewRamDisk: %v", err)
	}
	return blockdev.NewAdapter(dev)
}

func tickingClock() func() vfs.Timespec {
	var sec int64 = 1000
	return func() vfs.Timespec {
		sec++
		return vfs.Timespec{Sec: sec}
	}
}

func format(t *testing.T, a *blockdev.Adapter) *FS {
	t.Helper()
	fs, err := Format(a, Options{Clock: tickingClock()})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}
	return fs
}

func reopen(t *testing.T, a *blockdev.Adapter) *FS {
	t.Helper()
	fs, err := Open(a, Options{Clock: tickingClock()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs
}

func readAll(t *testing.T, root vfs.Node, path string) string {
	t.Helper()
	n, err := vfs.Lookup(root, path)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", path, err)
	}
	size, _ := vfs.SizeOf(n)
	buf := make([]byte, size)
	k, err := n.ReadAt(0, buf)
	if err != nil {
		t.Fatalf("ReadAt(%q): %v", path, err)
	}
	return string(buf[:k])
}

func TestReplay(t *testing.T) {
	a := newAdapter(t, 1<<20)
	fs := format(t, a)
	root := fs.Root()

	etc, err := root.Create("etc", vfs.TypeDir, 0o755)
	if err != nil {
		t.Fatal(err)
	}
	motd, err := etc.Create("motd", vfs.TypeFile, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	motd.WriteAt(0, []byte("Rust LibOS Cool."))
	tmp, _ := root.Create("tmp", vfs.TypeDir, 0o777)
	scratch, _ := tmp.Create("scratch", vfs.TypeFile, 0o600)
	scratch.WriteAt(0, []byte("gone soon"))
	if err := tmp.Unlink("scratch"); err != nil {
		t.Fatal(err)
	}
	if err := root.Link("motd-link", motd); err != nil {
		t.Fatal(err)
	}
	if err := etc.Move("motd", tmp, "motd.old"); err != nil {
		t.Fatal(err)
	}
	md, _ := motd.Metadata()
	md.Mode = 0o400
	md.Uid = 42
	if err := motd.SetMetadata(md); err != nil {
		t.Fatal(err)
	}
	want, _ := motd.Metadata()

	got := reopen(t, a)
	if got.Records() != fs.Records() {
		t.Errorf("replayed %d records, wrote %d", got.Records(), fs.Records())
	}
	r := got.Root()
	if s := readAll(t, r, "/tmp/motd.old"); s != "Rust LibOS Cool." {
		t.Errorf("moved file = %q", s)
	}
	if s := readAll(t, r, "/motd-link"); s != "Rust LibOS Cool." {
		t.Errorf("link = %q", s)
	}
	if _, err := vfs.Lookup(r, "/tmp/scratch"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("unlinked file still present: %v", err)
	}
	if _, err := vfs.Lookup(r, "/etc/motd"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("old name still present: %v", err)
	}
	n, _ := vfs.Lookup(r, "/motd-link")
	replayed, _ := n.Metadata()
	if replayed != want {
		t.Errorf("metadata after replay:\n got %+v\nwant %+v", replayed, want)
	}
}

func TestReplay_TornTail(t *testing.T) {
	a := newAdapter(t, 1<<20)
	fs := format(t, a)
	f, _ := fs.Root().Create("f", vfs.TypeFile, 0o644)
	f.WriteAt(0, []byte("first"))
	used, _ := fs.JournalUsage()
	f.WriteAt(5, []byte("second"))

	// Flip one payload byte of the last record.
	off := int64(fs.sb.journalStart) + used + headerSize + 2
	b, err := a.ReadRange(off, 1)
	if err != nil {
		t.Fatal(err)
	}
	a.WriteRange(off, []byte{b[0] ^ 0xff})

	got := reopen(t, a)
	if s := readAll(t, got.Root(), "/f"); s != "first" {
		t.Errorf("content = %q, want torn record dropped", s)
	}
	if u, _ := got.JournalUsage(); u != used {
		t.Errorf("tail at %d, want %d", u, used)
	}

	// The journal keeps working from the truncated tail.
	g, _ := got.Root().Find("f")
	g.WriteAt(5, []byte("-again"))
	if s := readAll(t, reopen(t, a).Root(), "/f"); s != "first-again" {
		t.Errorf("after reappend = %q", s)
	}
}

func TestJournalFull(t *testing.T) {
	a := newAdapter(t, 32<<10)
	fs := format(t, a)
	f, _ := fs.Root().Create("f", vfs.TypeFile, 0o644)

	random := make([]byte, 4096)
	rand.New(rand.NewSource(1)).Read(random)
	var err error
	for i := 0; i < 100 && err == nil; i++ {
		_, err = f.WriteAt(uint64(i)*4096, random)
	}
	if !errors.Is(err, vfs.ErrNoSpace) {
		t.Fatalf("expected ErrNoSpace, got %v", err)
	}
	size, _ := vfs.SizeOf(f)

	// The refused write left no trace in memory or on the device.
	if s := readAll(t, reopen(t, a).Root(), "/f"); uint64(len(s)) != size {
		t.Errorf("replayed size %d, live size %d", len(s), size)
	}
	// Small mutations still fit.
	if _, err := fs.Root().Create("g", vfs.TypeFile, 0o644); err != nil {
		t.Errorf("Create after full write: %v", err)
	}
}

func TestCompression(t *testing.T) {
	a := newAdapter(t, 1<<20)
	fs := format(t, a)
	f, _ := fs.Root().Create("zeros", vfs.TypeFile, 0o644)
	data := bytes.Repeat([]byte("abcabcabc"), 20000)
	if _, err := f.WriteAt(0, data); err != nil {
		t.Fatal(err)
	}
	used, _ := fs.JournalUsage()
	if used >= int64(len(data)) {
		t.Errorf("journal used %d bytes for %d compressible bytes", used, len(data))
	}
	if s := readAll(t, reopen(t, a).Root(), "/zeros"); s != string(data) {
		t.Error("compressed record did not replay")
	}
}

func TestFormat_NewGeneration(t *testing.T) {
	a := newAdapter(t, 1<<20)
	fs := format(t, a)
	fs.Root().Create("old", vfs.TypeFile, 0o644)

	again := format(t, a)
	if again.Generation() != fs.Generation()+1 {
		t.Errorf("generation = %d, want %d", again.Generation(), fs.Generation()+1)
	}
	names, _ := reopen(t, a).Root().List()
	if len(names) != 0 {
		t.Errorf("records of the previous generation replayed: %v", names)
	}
}

func TestOpenOrFormat(t *testing.T) {
	a := newAdapter(t, 1<<20)
	if _, err := Open(a, Options{}); !errors.Is(err, ErrBadSuperblock) {
		t.Fatalf("Open blank = %v", err)
	}
	fs, formatted, err := OpenOrFormat(a, Options{})
	if err != nil || !formatted {
		t.Fatalf("OpenOrFormat = %v, %v", formatted, err)
	}
	fs.Root().Create("kept", vfs.TypeFile, 0o644)
	fs2, formatted, err := OpenOrFormat(a, Options{})
	if err != nil || formatted {
		t.Fatalf("second OpenOrFormat = %v, %v", formatted, err)
	}
	if _, err := fs2.Root().Find("kept"); err != nil {
		t.Errorf("Find(kept): %v", err)
	}
}

func TestSuperblockRegion(t *testing.T) {
	a := newAdapter(t, 1<<20)
	format(t, a)
	raw, err := a.ReadOffset(blockdev.SuperblockRegion.Offset)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 1024 {
		t.Fatalf("superblock read = %d bytes, want 1024", len(raw))
	}
	if !bytes.HasPrefix(raw, Magic[:]) {
		t.Errorf("superblock magic = %q", raw[:4])
	}
}

func TestFarWrite(t *testing.T) {
	for _, off := range []uint64{1 << 40, 1 << 62} {
		a := newAdapter(t, 256<<10)
		fs := format(t, a)
		f, err := fs.Root().Create("f", vfs.TypeFile, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteAt(off, []byte("x")); !errors.Is(err, vfs.ErrTooLarge) {
			t.Errorf("WriteAt(%d) = %v, want ErrTooLarge", off, err)
		}
		if _, err := f.WriteAt(0, []byte("after")); err != nil {
			t.Fatalf("WriteAt after refused write: %v", err)
		}
		if s := readAll(t, reopen(t, a).Root(), "/f"); s != "after" {
			t.Errorf("replayed %q", s)
		}
	}
}
