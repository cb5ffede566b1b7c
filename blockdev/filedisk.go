//go:build darwin || linux

package blockdev

import (
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wippyai/fdtab/errors"
)

// FileDisk is a Device backed by an image file on the host.
type FileDisk struct {
	fd        int
	path      string
	bs        int
	numBlocks uint64
}

// CreateFileDisk creates (or truncates) an image file of size bytes,
// aligned up to the block size.
func CreateFileDisk(path string, size int64, blockSize int) (*FileDisk, error) {
	if err := checkBlockSize(blockSize); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.InvalidInput(errors.PhaseDevice, fmt.Sprintf("image size must be positive, got %d", size))
	}
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_TRUNC|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, errors.Device("create image "+path, err)
	}
	size = AlignUp(size, blockSize)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, errors.Device(fmt.Sprintf("size image to %d bytes", size), err)
	}
	return &FileDisk{fd: fd, path: path, bs: blockSize, numBlocks: uint64(size) / uint64(blockSize)}, nil
}

// OpenFileDisk opens an existing image file. A trailing partial block is
// zero-extended so the device always covers the whole file.
func OpenFileDisk(path string, blockSize int) (*FileDisk, error) {
	if err := checkBlockSize(blockSize); err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Device("open image "+path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, errors.Device("stat image "+path, err)
	}
	if stat.Size == 0 {
		unix.Close(fd)
		return nil, errors.InvalidInput(errors.PhaseDevice, "image "+path+" is empty")
	}
	size := AlignUp(stat.Size, blockSize)
	if size != stat.Size {
		Logger().Debug("extending image to block boundary",
			zap.String("path", path),
			zap.Int64("from", stat.Size),
			zap.Int64("to", size))
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return nil, errors.Device(fmt.Sprintf("extend image to %d bytes", size), err)
		}
	}
	return &FileDisk{fd: fd, path: path, bs: blockSize, numBlocks: uint64(size) / uint64(blockSize)}, nil
}

func (d *FileDisk) BlockSize() int {
	return d.bs
}

func (d *FileDisk) NumBlocks() uint64 {
	return d.numBlocks
}

func (d *FileDisk) ReadBlock(id uint64, buf []byte) error {
	if err := checkRange("read", d.bs, d.numBlocks, id, len(buf)); err != nil {
		return err
	}
	off := int64(id) * int64(d.bs)
	for len(buf) > 0 {
		n, err := unix.Pread(d.fd, buf, off)
		if err != nil {
			return errors.Device(fmt.Sprintf("pread at offset %d", off), err)
		}
		if n == 0 {
			return errors.Device(fmt.Sprintf("pread at offset %d: unexpected end of image", off), nil)
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

func (d *FileDisk) WriteBlock(id uint64, buf []byte) error {
	if err := checkRange("write", d.bs, d.numBlocks, id, len(buf)); err != nil {
		return err
	}
	off := int64(id) * int64(d.bs)
	for len(buf) > 0 {
		n, err := unix.Pwrite(d.fd, buf, off)
		if err != nil {
			return errors.Device(fmt.Sprintf("pwrite at offset %d", off), err)
		}
		buf = buf[n:]
		off += int64(n)
	}
	return nil
}

// Flush forces written blocks to stable storage.
func (d *FileDisk) Flush() error {
	if err := unix.Fsync(d.fd); err != nil {
		return errors.Device("fsync "+d.path, err)
	}
	return nil
}

// Close releases the image file.
func (d *FileDisk) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return errors.Device("close "+d.path, err)
	}
	return nil
}

// Path returns the image path.
func (d *FileDisk) Path() string {
	return d.path
}
