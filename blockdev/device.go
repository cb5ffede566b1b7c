package blockdev

import (
	"fmt"

	"github.com/wippyai/fdtab/errors"
)

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 4096

// Device is a fixed-block storage device. Buffers handed to ReadBlock and
// WriteBlock must be a whole, non-zero number of blocks and the covered
// range must lie inside the device.
type Device interface {
	BlockSize() int
	NumBlocks() uint64
	ReadBlock(id uint64, buf []byte) error
	WriteBlock(id uint64, buf []byte) error
	Flush() error
}

// AlignUp rounds size up to a multiple of blockSize.
func AlignUp(size int64, blockSize int) int64 {
	bs := int64(blockSize)
	return (size + bs - 1) / bs * bs
}

func checkRange(op string, bs int, numBlocks, id uint64, n int) error {
	if n == 0 || n%bs != 0 {
		return errors.Device(fmt.Sprintf("%s block %d: buffer of %d bytes is not a multiple of %d", op, id, n, bs), nil)
	}
	count := uint64(n / bs)
	if id >= numBlocks || count > numBlocks-id {
		return errors.Device(fmt.Sprintf("%s block %d: %d blocks past end of device (%d blocks)", op, id, count, numBlocks), nil)
	}
	return nil
}

func checkBlockSize(bs int) error {
	if bs <= 0 || bs&(bs-1) != 0 {
		return errors.InvalidInput(errors.PhaseDevice, fmt.Sprintf("block size %d is not a positive power of two", bs))
	}
	return nil
}
