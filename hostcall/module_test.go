package hostcall

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/fdtab/codec"
	"github.com/wippyai/fdtab/errors"
	"github.com/wippyai/fdtab/fdtable"
	"github.com/wippyai/fdtab/memfs"
	"github.com/wippyai/fdtab/vfs"
)

const (
	valI32 = 0x7f
	valI64 = 0x7e
)

var guestImports = []struct {
	name   string
	params []byte
}{
	{"open", []byte{valI32, valI32, valI32, valI32}},
	{"read", []byte{valI32, valI32, valI32}},
	{"write", []byte{valI32, valI32, valI32}},
	{"close", []byte{valI32}},
	{"lseek", []byte{valI32, valI64}},
	{"stat", []byte{valI32, valI32}},
	{"readdir", []byte{valI32, valI32, valI32, valI32}},
	{"create", []byte{valI32, valI32, valI32, valI32, valI32}},
	{"unlink", []byte{valI32, valI32, valI32}},
	{"poll", []byte{valI32}},
	{"set_nonblocking", []byte{valI32, valI32}},
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func section(id byte, items [][]byte) []byte {
	body := uleb(uint32(len(items)))
	for _, it := range items {
		body = append(body, it...)
	}
	return append(append([]byte{id}, uleb(uint32(len(body)))...), body...)
}

// guestModule encodes a module that imports every entry of guestImports,
// re-exports each as "call_<name>" through a forwarding function, and
// exports one page of memory.
func guestModule() []byte {
	var types, imports, funcs, exports, code [][]byte
	n := uint32(len(guestImports))
	for i, imp := range guestImports {
		idx := uint32(i)
		ft := append([]byte{0x60}, uleb(uint32(len(imp.params)))...)
		ft = append(ft, imp.params...)
		ft = append(ft, 1, valI32)
		types = append(types, ft)

		imports = append(imports, append(append(name(ModuleName), name(imp.name)...), append([]byte{0x00}, uleb(idx)...)...))
		funcs = append(funcs, uleb(idx))
		exports = append(exports, append(name("call_"+imp.name), append([]byte{0x00}, uleb(n+idx)...)...))

		body := []byte{0x00}
		for p := range imp.params {
			body = append(body, 0x20)
			body = append(body, uleb(uint32(p))...)
		}
		body = append(body, 0x10)
		body = append(body, uleb(idx)...)
		body = append(body, 0x0b)
		code = append(code, append(uleb(uint32(len(body))), body...))
	}
	exports = append(exports, append(name("memory"), 0x02, 0x00))

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, types)...)
	out = append(out, section(2, imports)...)
	out = append(out, section(3, funcs)...)
	out = append(out, section(5, [][]byte{{0x00, 0x01}})...)
	out = append(out, section(7, exports)...)
	out = append(out, section(10, code)...)
	return out
}

type guest struct {
	t   *testing.T
	ctx context.Context
	mod api.Module
}

func newGuest(t *testing.T, tab *fdtable.Table) *guest {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { r.Close(ctx) })
	if _, err := Instantiate(ctx, r, tab); err != nil {
		t.Fatalf("Instantiate host: %v", err)
	}
	mod, err := r.Instantiate(ctx, guestModule())
	if err != nil {
		t.Fatalf("Instantiate guest: %v", err)
	}
	return &guest{t: t, ctx: ctx, mod: mod}
}

func (g *guest) call(fn string, args ...uint64) int32 {
	g.t.Helper()
	res, err := g.mod.ExportedFunction("call_"+fn).Call(g.ctx, args...)
	if err != nil {
		g.t.Fatalf("%s: %v", fn, err)
	}
	return api.DecodeI32(res[0])
}

func (g *guest) put(ptr uint32, data string) (uint64, uint64) {
	g.t.Helper()
	if !g.mod.Memory().Write(ptr, []byte(data)) {
		g.t.Fatalf("write to guest memory at %d", ptr)
	}
	return uint64(ptr), uint64(len(data))
}

func (g *guest) get(ptr, size uint32) []byte {
	g.t.Helper()
	b, ok := g.mod.Memory().Read(ptr, size)
	if !ok {
		g.t.Fatalf("read guest memory at %d", ptr)
	}
	return append([]byte(nil), b...)
}

func newFS(t *testing.T) *memfs.FS {
	t.Helper()
	fs := memfs.New(memfs.Options{})
	etc, err := fs.Root().Create("etc", vfs.TypeDir, 0o755)
	if err != nil {
		t.Fatal(err)
	}
	etc.Create("motd", vfs.TypeFile, 0o644)
	etc.Create("hosts", vfs.TypeFile, 0o644)
	return fs
}

func TestConsoleWrite(t *testing.T) {
	var out, errOut bytes.Buffer
	g := newGuest(t, fdtable.NewWithFS(newFS(t), fdtable.WithConsole(&out, &errOut)))

	ptr, size := g.put(0, "hello guest")
	if n := g.call("write", 1, ptr, size); n != int32(size) {
		t.Errorf("write(1) = %d", n)
	}
	ptr, size = g.put(64, "oops")
	if n := g.call("write", 2, ptr, size); n != 4 {
		t.Errorf("write(2) = %d", n)
	}
	if out.String() != "hello guest" || errOut.String() != "oops" {
		t.Errorf("stdout %q stderr %q", out.String(), errOut.String())
	}
}

func TestFileRoundTrip(t *testing.T) {
	g := newGuest(t, fdtable.NewWithFS(newFS(t)))

	pp, pl := g.put(0, "/notes.txt")
	fd := g.call("open", pp, pl, uint64(fdtable.FlagCreate), uint64(fdtable.ModeReadWrite))
	if fd != int32(fdtable.FirstFd) {
		t.Fatalf("open = %d", fd)
	}
	dp, dl := g.put(100, "Rust LibOS Cool.")
	if n := g.call("write", uint64(fd), dp, dl); n != 16 {
		t.Fatalf("write = %d", n)
	}
	if rc := g.call("lseek", uint64(fd), 5); rc != 0 {
		t.Fatalf("lseek = %d", rc)
	}
	if n := g.call("read", uint64(fd), 200, 64); n != 11 {
		t.Fatalf("read = %d", n)
	}
	if got := string(g.get(200, 11)); got != "LibOS Cool." {
		t.Errorf("read back %q", got)
	}

	if rc := g.call("stat", uint64(fd), 1024); rc != 0 {
		t.Fatalf("stat = %d", rc)
	}
	var st fdtable.Stat
	if err := st.UnmarshalBinary(g.get(1024, fdtable.StatSize)); err != nil {
		t.Fatal(err)
	}
	if st.Size != 16 || st.Mode != fdtable.ModeRegular|fdtable.DefaultFileMode {
		t.Errorf("stat = %+v", st)
	}

	if bits := g.call("poll", uint64(fd)); bits != PollRead|PollWrite {
		t.Errorf("poll = %b", bits)
	}
	if rc := g.call("set_nonblocking", uint64(fd), 1); rc != 0 {
		t.Errorf("set_nonblocking = %d", rc)
	}
	if rc := g.call("close", uint64(fd)); rc != 0 {
		t.Errorf("close = %d", rc)
	}
	if rc := g.call("close", uint64(fd)); rc != -int32(EBADF) {
		t.Errorf("second close = %d", rc)
	}
}

func TestErrnos(t *testing.T) {
	g := newGuest(t, fdtable.NewWithFS(newFS(t)))
	motd, ml := g.put(0, "/etc/motd")
	missing, sl := g.put(32, "/etc/missing")
	ro := g.call("open", motd, ml, 0, uint64(fdtable.ModeRead))
	root, rl := g.put(64, "/")
	dir := g.call("open", root, rl, 0, uint64(fdtable.ModeRead))
	etcName, el := g.put(96, "etc")

	tests := []struct {
		name string
		got  func() int32
		want Errno
	}{
		{"missing file", func() int32 { return g.call("open", missing, sl, 0, uint64(fdtable.ModeRead)) }, ENOENT},
		{"exclusive", func() int32 {
			return g.call("open", motd, ml, uint64(fdtable.FlagCreate|fdtable.FlagExclusive), uint64(fdtable.ModeRead))
		}, EEXIST},
		{"write read-only", func() int32 { return g.call("write", uint64(ro), motd, ml) }, EACCES},
		{"bad fd", func() int32 { return g.call("read", 77, 0, 4) }, EBADF},
		{"bad path pointer", func() int32 { return g.call("open", 70000, 4, 0, uint64(fdtable.ModeRead)) }, EFAULT},
		{"bad buffer", func() int32 { return g.call("write", 1, 65530, 100) }, EFAULT},
		{"bad stat pointer", func() int32 { return g.call("stat", uint64(ro), 65500) }, EFAULT},
		{"bad type", func() int32 { return g.call("create", uint64(dir), etcName, el, 300, 0o644) }, EINVAL},
		{"create existing", func() int32 {
			return g.call("create", uint64(dir), etcName, el, uint64(vfs.TypeDir), 0o755)
		}, EEXIST},
		{"unlink non-empty", func() int32 { return g.call("unlink", uint64(dir), etcName, el) }, ENOTEMPTY},
		{"readdir of file", func() int32 { return g.call("readdir", motd, ml, 0, 0) }, ENOTDIR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.got(); got != -int32(tt.want) {
				t.Errorf("got %d, want -%s", got, tt.want)
			}
		})
	}
}

func TestReadDir(t *testing.T) {
	g := newGuest(t, fdtable.NewWithFS(newFS(t)))
	pp, pl := g.put(0, "/etc")

	need := g.call("readdir", pp, pl, 1000, 4)
	if need <= 4 {
		t.Fatalf("readdir with small buffer = %d", need)
	}
	if untouched := g.get(1000, 4); !bytes.Equal(untouched, make([]byte, 4)) {
		t.Errorf("small buffer written: %x", untouched)
	}

	n := g.call("readdir", pp, pl, 1000, 4096)
	if n != need {
		t.Fatalf("readdir = %d, want %d", n, need)
	}
	var entries []fdtable.DirEntry
	if err := codec.Unmarshal(g.get(1000, uint32(n)), &entries); err != nil {
		t.Fatal(err)
	}
	want := []fdtable.DirEntry{
		{DirPath: "/etc", Name: "hosts", Type: vfs.TypeFile},
		{DirPath: "/etc", Name: "motd", Type: vfs.TypeFile},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestNotMounted(t *testing.T) {
	boom := stderrors.New("no disk")
	var out bytes.Buffer
	tab := fdtable.New(func() (vfs.FileSystem, error) { return nil, boom }, fdtable.WithConsole(&out, &out))
	g := newGuest(t, tab)
	pp, pl := g.put(0, "/x")
	if rc := g.call("open", pp, pl, 0, uint64(fdtable.ModeRead)); rc != -int32(ENODEV) {
		t.Errorf("open = %d", rc)
	}
	if n := g.call("write", 1, pp, pl); n != 2 {
		t.Errorf("console write = %d", n)
	}
}

func TestErrnoOf(t *testing.T) {
	tests := []struct {
		err  error
		want Errno
	}{
		{nil, 0},
		{errors.InvalidFd(errors.PhaseRead, 9), EBADF},
		{errors.PermissionDenied(errors.PhaseWrite, 3, "writing"), EACCES},
		{errors.NotInitialized(errors.PhaseOpen, "filesystem", nil), ENODEV},
		{errors.Device("block 1", stderrors.New("short write")), EIO},
		{errors.Backend(errors.PhaseWrite, vfs.ErrNoSpace), ENOSPC},
		{errors.Backend(errors.PhaseWrite, vfs.ErrTooLarge), EFBIG},
		{errors.Backend(errors.PhaseRename, vfs.ErrCrossDevice), EXDEV},
		{errors.Backend(errors.PhaseOpen, vfs.ErrUnsupported), ENOSYS},
		{errors.NotFound(errors.PhaseOpen, "/a", vfs.ErrNotDir), ENOTDIR},
		{errors.NotFound(errors.PhaseOpen, "/a", nil), ENOENT},
		{errors.InvalidInput(errors.PhaseCreate, "bad"), EINVAL},
		{errors.New(errors.PhaseOpen, errors.KindExhausted).Build(), EMFILE},
		{stderrors.New("plain"), EIO},
	}
	for _, tt := range tests {
		if got := ErrnoOf(tt.err); got != tt.want {
			t.Errorf("ErrnoOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
