package blockdev

import (
	"fmt"
	"io"
	"sync"

	"github.com/wippyai/fdtab/errors"
)

// Region is a fixed-size metadata area that ReadOffset serves as a single
// short read instead of a whole block.
type Region struct {
	Offset int64
	Length int
}

// SuperblockRegion is the 1024-byte superblock at byte offset 1024 that
// journaling engines read at mount time.
var SuperblockRegion = Region{Offset: 1024, Length: 1024}

// Adapter exposes byte-range I/O over a Device. Every device call it makes
// transfers exactly one block; partial-block writes are read-modify-write.
//
// Writes spanning several blocks are not atomic. When a block in the middle
// fails, blocks before it stay committed and WriteRange reports how many
// bytes reached the device.
type Adapter struct {
	mu      sync.Mutex
	dev     Device
	bs      int
	size    int64
	regions []Region
	scratch []byte
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithRegions replaces the default short-read regions.
func WithRegions(regions ...Region) AdapterOption {
	return func(a *Adapter) {
		a.regions = append([]Region(nil), regions...)
	}
}

// NewAdapter wraps dev. SuperblockRegion is registered unless WithRegions
// says otherwise.
func NewAdapter(dev Device, opts ...AdapterOption) *Adapter {
	bs := dev.BlockSize()
	a := &Adapter{
		dev:     dev,
		bs:      bs,
		size:    int64(dev.NumBlocks()) * int64(bs),
		regions: []Region{SuperblockRegion},
		scratch: make([]byte, bs),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Device returns the wrapped device.
func (a *Adapter) Device() Device {
	return a.dev
}

// BlockSize returns the device block size.
func (a *Adapter) BlockSize() int {
	return a.bs
}

// Size returns the device capacity in bytes.
func (a *Adapter) Size() int64 {
	return a.size
}

func (a *Adapter) checkSpan(op string, off int64, length int) error {
	if off < 0 || length < 0 {
		return errors.InvalidInput(errors.PhaseDevice,
			fmt.Sprintf("%s: negative offset %d or length %d", op, off, length))
	}
	if off > a.size || int64(length) > a.size-off {
		return errors.Device(fmt.Sprintf("%s %d bytes at offset %d: past end of device (%d bytes)",
			op, length, off, a.size), nil)
	}
	return nil
}

// ReadRange returns length bytes starting at byte offset off.
func (a *Adapter) ReadRange(off int64, length int) ([]byte, error) {
	if err := a.checkSpan("read", off, length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.readInto(off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// readInto fills buf from off. The caller holds a.mu and has checked bounds.
func (a *Adapter) readInto(off int64, buf []byte) error {
	bs := int64(a.bs)
	for pos := 0; pos < len(buf); {
		id := uint64(off / bs)
		inBlock := int(off % bs)
		n := min(a.bs-inBlock, len(buf)-pos)
		if inBlock == 0 && n == a.bs {
			if err := a.dev.ReadBlock(id, buf[pos:pos+n]); err != nil {
				return errors.Device(fmt.Sprintf("read block %d", id), err)
			}
		} else {
			if err := a.dev.ReadBlock(id, a.scratch); err != nil {
				return errors.Device(fmt.Sprintf("read block %d", id), err)
			}
			copy(buf[pos:pos+n], a.scratch[inBlock:])
		}
		pos += n
		off += int64(n)
	}
	return nil
}

// ReadOffset reads one natural unit at off: the registered region starting
// there, or otherwise one block's worth of bytes clamped to the device end.
func (a *Adapter) ReadOffset(off int64) ([]byte, error) {
	for _, r := range a.regions {
		if r.Offset == off {
			return a.ReadRange(off, r.Length)
		}
	}
	length := a.bs
	if off >= 0 && off < a.size && a.size-off < int64(length) {
		length = int(a.size - off)
	}
	return a.ReadRange(off, length)
}

// WriteRange writes data at byte offset off and returns the number of bytes
// committed to the device. On error, blocks before the failing one remain
// written.
func (a *Adapter) WriteRange(off int64, data []byte) (int, error) {
	if err := a.checkSpan("write", off, len(data)); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeFrom(off, data)
}

func (a *Adapter) writeFrom(off int64, data []byte) (int, error) {
	bs := int64(a.bs)
	pos := 0
	for pos < len(data) {
		id := uint64(off / bs)
		inBlock := int(off % bs)
		n := min(a.bs-inBlock, len(data)-pos)
		if inBlock == 0 && n == a.bs {
			if err := a.dev.WriteBlock(id, data[pos:pos+n]); err != nil {
				return pos, errors.Device(fmt.Sprintf("write block %d", id), err)
			}
		} else {
			if err := a.dev.ReadBlock(id, a.scratch); err != nil {
				return pos, errors.Device(fmt.Sprintf("read block %d for update", id), err)
			}
			copy(a.scratch[inBlock:], data[pos:pos+n])
			if err := a.dev.WriteBlock(id, a.scratch); err != nil {
				return pos, errors.Device(fmt.Sprintf("write block %d", id), err)
			}
		}
		pos += n
		off += int64(n)
	}
	return pos, nil
}

// ReadAt implements io.ReaderAt. Reads crossing the device end are truncated
// and return io.EOF.
func (a *Adapter) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.InvalidInput(errors.PhaseDevice, fmt.Sprintf("read: negative offset %d", off))
	}
	if off >= a.size {
		return 0, io.EOF
	}
	n := len(p)
	if int64(n) > a.size-off {
		n = int(a.size - off)
	}
	a.mu.Lock()
	err := a.readInto(off, p[:n])
	a.mu.Unlock()
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Bytes past the device end are not written.
func (a *Adapter) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.InvalidInput(errors.PhaseDevice, fmt.Sprintf("write: negative offset %d", off))
	}
	avail := int64(0)
	if off < a.size {
		avail = a.size - off
	}
	chunk := p
	if int64(len(chunk)) > avail {
		chunk = chunk[:avail]
	}
	a.mu.Lock()
	n, err := a.writeFrom(off, chunk)
	a.mu.Unlock()
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, errors.Device(fmt.Sprintf("write %d bytes at offset %d: past end of device", len(p), off), nil)
	}
	return n, nil
}

// Flush forwards to the device.
func (a *Adapter) Flush() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.dev.Flush(); err != nil {
		return errors.Device("flush", err)
	}
	return nil
}

// Close closes the device when it supports it.
func (a *Adapter) Close() error {
	if c, ok := a.dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
