package hostcall

import (
	"context"
	"math"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/fdtab/codec"
	"github.com/wippyai/fdtab/fdtable"
	"github.com/wippyai/fdtab/vfs"
)

// ModuleName is the import module guests use.
const ModuleName = "fdtab"

// Poll result bits.
const (
	PollRead  = 1 << 0
	PollWrite = 1 << 1
	PollError = 1 << 2
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type handler func(ctx context.Context, m api.Module, stack []uint64) int32

type host struct {
	table *fdtable.Table
}

// NewModuleBuilder returns a builder for the fdtab module bound to t.
// Callers may add further functions before instantiating it.
func NewModuleBuilder(r wazero.Runtime, t *fdtable.Table) wazero.HostModuleBuilder {
	h := &host{table: t}
	b := r.NewHostModuleBuilder(ModuleName)

	h.export(b, "open", h.open, i32, i32, i32, i32)
	h.export(b, "read", h.read, i32, i32, i32)
	h.export(b, "write", h.write, i32, i32, i32)
	h.export(b, "close", h.close, i32)
	h.export(b, "lseek", h.lseek, i32, i64)
	h.export(b, "stat", h.stat, i32, i32)
	h.export(b, "readdir", h.readdir, i32, i32, i32, i32)
	h.export(b, "create", h.create, i32, i32, i32, i32, i32)
	h.export(b, "link", h.link, i32, i32, i32, i32)
	h.export(b, "unlink", h.unlink, i32, i32, i32)
	h.export(b, "rename", h.rename, i32, i32, i32, i32)
	h.export(b, "flush", h.flush, i32)
	h.export(b, "sync", h.sync, i32)
	h.export(b, "poll", h.poll, i32)
	h.export(b, "set_nonblocking", h.setNonblocking, i32, i32)
	return b
}

// Instantiate builds and instantiates the fdtab module in r.
func Instantiate(ctx context.Context, r wazero.Runtime, t *fdtable.Table) (api.Module, error) {
	return NewModuleBuilder(r, t).Instantiate(ctx)
}

func (h *host) export(b wazero.HostModuleBuilder, name string, fn handler, params ...api.ValueType) {
	b.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, m api.Module, stack []uint64) {
			stack[0] = api.EncodeI32(guard(name, fn, ctx, m, stack))
		}), params, []api.ValueType{i32}).
		WithName(name).
		Export(name)
}

func guard(name string, fn handler, ctx context.Context, m api.Module, stack []uint64) (ret int32) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("host call panicked", zap.String("func", name), zap.Any("panic", r))
			ret = -int32(EIO)
		}
	}()
	return fn(ctx, m, stack)
}

// result converts a table outcome to the i32 ABI.
func result(n int, err error) int32 {
	if err != nil {
		return -int32(ErrnoOf(err))
	}
	return int32(n)
}

func fault() int32 {
	return -int32(EFAULT)
}

// view returns guest memory [ptr, ptr+size).
func view(m api.Module, ptr, size uint32) ([]byte, bool) {
	mem := m.Memory()
	if mem == nil {
		return nil, false
	}
	return mem.Read(ptr, size)
}

func readString(m api.Module, ptr, size uint32) (string, bool) {
	b, ok := view(m, ptr, size)
	if !ok {
		return "", false
	}
	return string(b), true
}

func fd(v uint64) fdtable.Fd {
	return fdtable.Fd(api.DecodeU32(v))
}

func (h *host) open(_ context.Context, m api.Module, s []uint64) int32 {
	p, ok := readString(m, api.DecodeU32(s[0]), api.DecodeU32(s[1]))
	if !ok {
		return fault()
	}
	f, err := h.table.Open(p, fdtable.OpenFlags(api.DecodeU32(s[2])), fdtable.OpenMode(api.DecodeU32(s[3])))
	return result(int(f), err)
}

func clip(size uint32) uint32 {
	if size > math.MaxInt32 {
		return math.MaxInt32
	}
	return size
}

func (h *host) read(_ context.Context, m api.Module, s []uint64) int32 {
	buf, ok := view(m, api.DecodeU32(s[1]), clip(api.DecodeU32(s[2])))
	if !ok {
		return fault()
	}
	return result(h.table.Read(fd(s[0]), buf))
}

func (h *host) write(_ context.Context, m api.Module, s []uint64) int32 {
	buf, ok := view(m, api.DecodeU32(s[1]), clip(api.DecodeU32(s[2])))
	if !ok {
		return fault()
	}
	return result(h.table.Write(fd(s[0]), buf))
}

func (h *host) close(_ context.Context, _ api.Module, s []uint64) int32 {
	return result(0, h.table.Close(fd(s[0])))
}

func (h *host) lseek(_ context.Context, _ api.Module, s []uint64) int32 {
	return result(0, h.table.Seek(fd(s[0]), s[1]))
}

func (h *host) stat(_ context.Context, m api.Module, s []uint64) int32 {
	out := api.DecodeU32(s[1])
	if _, ok := view(m, out, fdtable.StatSize); !ok {
		return fault()
	}
	st, err := h.table.Stat(fd(s[0]))
	if err != nil {
		return result(0, err)
	}
	data, err := st.MarshalBinary()
	if err != nil {
		return -int32(EIO)
	}
	if !m.Memory().Write(out, data) {
		return fault()
	}
	return 0
}

// readdir writes the CBOR-encoded entry list and returns its length. When
// the list does not fit in out_cap nothing is written and the returned
// length exceeds out_cap.
func (h *host) readdir(_ context.Context, m api.Module, s []uint64) int32 {
	p, ok := readString(m, api.DecodeU32(s[0]), api.DecodeU32(s[1]))
	if !ok {
		return fault()
	}
	out, capacity := api.DecodeU32(s[2]), api.DecodeU32(s[3])
	if _, ok := view(m, out, capacity); !ok {
		return fault()
	}
	entries, err := h.table.ReadDir(p)
	if err != nil {
		return result(0, err)
	}
	data, err := codec.Marshal(entries)
	if err != nil {
		Logger().Warn("readdir encode failed", zap.String("path", p), zap.Error(err))
		return -int32(EIO)
	}
	if len(data) > math.MaxInt32 {
		return -int32(EFBIG)
	}
	if uint64(len(data)) <= uint64(capacity) {
		m.Memory().Write(out, data)
	}
	return int32(len(data))
}

func (h *host) create(_ context.Context, m api.Module, s []uint64) int32 {
	name, ok := readString(m, api.DecodeU32(s[1]), api.DecodeU32(s[2]))
	if !ok {
		return fault()
	}
	typ, mode := api.DecodeU32(s[3]), api.DecodeU32(s[4])
	if typ > math.MaxUint8 || mode > math.MaxUint16 {
		return -int32(EINVAL)
	}
	f, err := h.table.Create(fd(s[0]), name, vfs.FileType(typ), uint16(mode))
	return result(int(f), err)
}

func (h *host) link(_ context.Context, m api.Module, s []uint64) int32 {
	name, ok := readString(m, api.DecodeU32(s[1]), api.DecodeU32(s[2]))
	if !ok {
		return fault()
	}
	return result(0, h.table.Link(fd(s[0]), name, fd(s[3])))
}

func (h *host) unlink(_ context.Context, m api.Module, s []uint64) int32 {
	name, ok := readString(m, api.DecodeU32(s[1]), api.DecodeU32(s[2]))
	if !ok {
		return fault()
	}
	return result(0, h.table.Unlink(fd(s[0]), name))
}

func (h *host) rename(_ context.Context, m api.Module, s []uint64) int32 {
	name, ok := readString(m, api.DecodeU32(s[2]), api.DecodeU32(s[3]))
	if !ok {
		return fault()
	}
	return result(0, h.table.Rename(fd(s[0]), fd(s[1]), name))
}

func (h *host) flush(_ context.Context, _ api.Module, s []uint64) int32 {
	return result(0, h.table.Flush(fd(s[0])))
}

func (h *host) sync(_ context.Context, _ api.Module, s []uint64) int32 {
	return result(0, h.table.Sync(fd(s[0])))
}

func (h *host) poll(_ context.Context, _ api.Module, s []uint64) int32 {
	st, err := h.table.Poll(fd(s[0]))
	if err != nil {
		return result(0, err)
	}
	var bits int32
	if st.Read {
		bits |= PollRead
	}
	if st.Write {
		bits |= PollWrite
	}
	if st.Error {
		bits |= PollError
	}
	return bits
}

func (h *host) setNonblocking(_ context.Context, _ api.Module, s []uint64) int32 {
	return result(0, h.table.SetNonblocking(fd(s[0]), api.DecodeU32(s[1]) != 0))
}
