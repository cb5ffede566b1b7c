package blockdev

import (
	"fmt"
	"sync"

	"github.com/wippyai/fdtab/errors"
)

// RamDisk is a memory-backed Device.
type RamDisk struct {
	mu   sync.RWMutex
	data []byte
	bs   int
}

// NewRamDisk allocates a zeroed ram-disk of at least size bytes. The size is
// aligned up to a whole number of blocks.
func NewRamDisk(size int64, blockSize int) (*RamDisk, error) {
	if err := checkBlockSize(blockSize); err != nil {
		return nil, err
	}
	return &RamDisk{
		data: make([]byte, AlignUp(size, blockSize)),
		bs:   blockSize,
	}, nil
}

// RamDiskFrom wraps an existing buffer. len(buf) must be a multiple of blockSize.
func RamDiskFrom(buf []byte, blockSize int) (*RamDisk, error) {
	if err := checkBlockSize(blockSize); err != nil {
		return nil, err
	}
	if len(buf)%blockSize != 0 {
		return nil, errors.InvalidInput(errors.PhaseDevice,
			fmt.Sprintf("buffer of %d bytes is not a multiple of %d", len(buf), blockSize))
	}
	return &RamDisk{data: buf, bs: blockSize}, nil
}

func (d *RamDisk) BlockSize() int {
	return d.bs
}

func (d *RamDisk) NumBlocks() uint64 {
	return uint64(len(d.data) / d.bs)
}

func (d *RamDisk) ReadBlock(id uint64, buf []byte) error {
	if err := checkRange("read", d.bs, d.NumBlocks(), id, len(buf)); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	off := id * uint64(d.bs)
	copy(buf, d.data[off:off+uint64(len(buf))])
	return nil
}

func (d *RamDisk) WriteBlock(id uint64, buf []byte) error {
	if err := checkRange("write", d.bs, d.NumBlocks(), id, len(buf)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := id * uint64(d.bs)
	copy(d.data[off:], buf)
	return nil
}

// Flush is a no-op.
func (d *RamDisk) Flush() error {
	return nil
}

// Bytes exposes the backing buffer.
func (d *RamDisk) Bytes() []byte {
	return d.data
}
