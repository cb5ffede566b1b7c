package fdtable

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/errors"
	"github.com/wippyai/fdtab/jfs"
	"github.com/wippyai/fdtab/memfs"
	"github.com/wippyai/fdtab/sfs"
	"github.com/wippyai/fdtab/vfs"
)

type engineCase struct {
	name string
	open func(t *testing.T) vfs.FileSystem
	// unlinkedUsable reports whether descriptors survive the removal of
	// their last name.
	unlinkedUsable bool
}

func ramAdapter(t *testing.T, size int64) *blockdev.Adapter {
	t.Helper()
	dev, err := blockdev.NewRamDisk(size, 4096)
	if err != nil {
		t.Fatalf("NewRamDisk: %v", err)
	}
	return blockdev.NewAdapter(dev)
}

var engines = []engineCase{
	{
		name:           "memfs",
		open:           func(*testing.T) vfs.FileSystem { return memfs.New(memfs.Options{}) },
		unlinkedUsable: true,
	},
	{
		name: "sfs",
		open: func(t *testing.T) vfs.FileSystem {
			fs, err := sfs.Format(ramAdapter(t, 1<<20), sfs.Options{})
			if err != nil {
				t.Fatalf("sfs.Format: %v", err)
			}
			return fs
		},
	},
	{
		name: "jfs",
		open: func(t *testing.T) vfs.FileSystem {
			fs, err := jfs.Format(ramAdapter(t, 1<<20), jfs.Options{})
			if err != nil {
				t.Fatalf("jfs.Format: %v", err)
			}
			return fs
		},
		unlinkedUsable: true,
	},
}

func TestEngines_EndToEnd(t *testing.T) {
	for _, eng := range engines {
		t.Run(eng.name, func(t *testing.T) {
			tab := NewWithFS(eng.open(t))
			fd := mustOpen(t, tab, "/lines.txt", FlagCreate, ModeReadWrite)
			n, err := tab.Write(fd, []byte("Rust LibOS Cool."))
			if err != nil || n != 16 {
				t.Fatalf("Write = %d, %v", n, err)
			}
			if err := tab.Seek(fd, 0); err != nil {
				t.Fatal(err)
			}
			if got := readAll(t, tab, fd); got != "Rust LibOS Cool." {
				t.Errorf("read back %q", got)
			}
			st, err := tab.Stat(fd)
			if err != nil {
				t.Fatal(err)
			}
			if st.Size != 16 {
				t.Errorf("size = %d, want 16", st.Size)
			}
		})
	}
}

func TestEngines_PartialWrites(t *testing.T) {
	for _, eng := range engines {
		t.Run(eng.name, func(t *testing.T) {
			tab := NewWithFS(eng.open(t))
			fd := mustOpen(t, tab, "/parts", FlagCreate, ModeReadWrite)
			var want uint64
			for _, chunk := range []string{"abc", "defg", "h"} {
				if _, err := tab.Write(fd, []byte(chunk)); err != nil {
					t.Fatalf("Write(%q): %v", chunk, err)
				}
				want += uint64(len(chunk))
				st, err := tab.Stat(fd)
				if err != nil {
					t.Fatal(err)
				}
				if st.Size != want {
					t.Errorf("size after %q = %d, want %d", chunk, st.Size, want)
				}
			}
			if err := tab.Seek(fd, 0); err != nil {
				t.Fatal(err)
			}
			if got := readAll(t, tab, fd); got != "abcdefgh" {
				t.Errorf("read back %q", got)
			}
		})
	}
}

func TestEngines_ReadOnlyDenied(t *testing.T) {
	for _, eng := range engines {
		t.Run(eng.name, func(t *testing.T) {
			tab := NewWithFS(eng.open(t))
			rw := mustOpen(t, tab, "/ro", FlagCreate, ModeReadWrite)
			tab.Write(rw, []byte("keep"))
			tab.Close(rw)

			ro := mustOpen(t, tab, "/ro", 0, ModeRead)
			if _, err := tab.Write(ro, []byte("x")); !errors.HasKind(err, errors.KindPermissionDenied) {
				t.Errorf("Write on read-only fd: %v", err)
			}
			if got := readAll(t, tab, ro); got != "keep" {
				t.Errorf("content = %q", got)
			}
		})
	}
}

func TestEngines_SeekReadBack(t *testing.T) {
	tests := []struct {
		pos  uint64
		want string
	}{
		{0, "0123456789"},
		{4, "456789"},
		{9, "9"},
		{10, ""},
		{100, ""},
	}
	for _, eng := range engines {
		t.Run(eng.name, func(t *testing.T) {
			tab := NewWithFS(eng.open(t))
			fd := mustOpen(t, tab, "/digits", FlagCreate, ModeReadWrite)
			if _, err := tab.Write(fd, []byte("0123456789")); err != nil {
				t.Fatal(err)
			}
			for _, tt := range tests {
				if err := tab.Seek(fd, tt.pos); err != nil {
					t.Fatal(err)
				}
				if got := readAll(t, tab, fd); got != tt.want {
					t.Errorf("read at %d = %q, want %q", tt.pos, got, tt.want)
				}
			}
		})
	}
}

func TestEngines_FarWrite(t *testing.T) {
	for _, eng := range engines {
		t.Run(eng.name, func(t *testing.T) {
			tab := NewWithFS(eng.open(t))
			fd := mustOpen(t, tab, "/far", FlagCreate, ModeReadWrite)
			for _, pos := range []uint64{1 << 40, 1 << 62} {
				if err := tab.Seek(fd, pos); err != nil {
					t.Fatal(err)
				}
				_, err := tab.Write(fd, []byte("x"))
				if !stderrors.Is(err, vfs.ErrTooLarge) && !stderrors.Is(err, vfs.ErrNoSpace) {
					t.Errorf("write at %d: %v", pos, err)
				}
			}
			st, err := tab.Stat(fd)
			if err != nil {
				t.Fatal(err)
			}
			if st.Size != 0 {
				t.Errorf("size after refused writes = %d", st.Size)
			}
			if err := tab.Seek(fd, 0); err != nil {
				t.Fatal(err)
			}
			if _, err := tab.Write(fd, []byte("near")); err != nil {
				t.Errorf("write at 0 after refused writes: %v", err)
			}
		})
	}
}

func TestEngines_UnlinkOpenFile(t *testing.T) {
	for _, eng := range engines {
		t.Run(eng.name, func(t *testing.T) {
			tab := NewWithFS(eng.open(t))
			root := mustOpen(t, tab, "/", 0, ModeRead)
			fd := mustOpen(t, tab, "/gone", FlagCreate, ModeReadWrite)
			if _, err := tab.Write(fd, []byte("data")); err != nil {
				t.Fatal(err)
			}
			if err := tab.Unlink(root, "gone"); err != nil {
				t.Fatalf("Unlink: %v", err)
			}
			if err := tab.Seek(fd, 0); err != nil {
				t.Fatal(err)
			}
			buf := make([]byte, 8)
			n, err := tab.Read(fd, buf)
			if eng.unlinkedUsable {
				if err != nil || string(buf[:n]) != "data" {
					t.Errorf("Read after unlink = %q, %v", buf[:n], err)
				}
			} else if !stderrors.Is(err, vfs.ErrNotFound) {
				t.Errorf("Read after unlink: %v, want ErrNotFound", err)
			}
			if err := tab.Close(fd); err != nil {
				t.Errorf("Close: %v", err)
			}
		})
	}
}
