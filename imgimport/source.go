package imgimport

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"
)

// Entry is one directory entry of a Source.
type Entry struct {
	Name string
	Dir  bool
	Size int64
}

// Source is a read-only tree to import from. Paths are slash-separated and
// relative to the source root, which is ".".
type Source interface {
	ReadDir(dir string) ([]Entry, error)
	ReadFile(name string) ([]byte, error)
	Close() error
}

type fsSource struct {
	fsys fs.FS
}

// FromFS returns a Source reading from fsys.
func FromFS(fsys fs.FS) Source {
	return &fsSource{fsys: fsys}
}

func (s *fsSource) ReadDir(dir string) ([]Entry, error) {
	des, err := fs.ReadDir(s.fsys, dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		e := Entry{Name: de.Name(), Dir: de.IsDir()}
		if !e.Dir {
			if !de.Type().IsRegular() {
				continue
			}
			info, err := de.Info()
			if err != nil {
				return nil, err
			}
			e.Size = info.Size()
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fsSource) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, name)
}

func (s *fsSource) Close() error {
	return nil
}

// Open opens the image at path. A directory is read as is, a file ending in
// .zst or .lz4 is decompressed into a temporary image first, and anything
// else is read as a FAT image.
func Open(path string) (Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return FromFS(os.DirFS(path)), nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return openCompressed(path, func(r io.Reader) (io.Reader, func(), error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, nil, err
			}
			return dec, dec.Close, nil
		})
	case ".lz4":
		return openCompressed(path, func(r io.Reader) (io.Reader, func(), error) {
			return lz4.NewReader(r), func() {}, nil
		})
	default:
		return OpenFAT(path)
	}
}

type decompressor func(io.Reader) (io.Reader, func(), error)

// tempSource removes its backing temporary image on Close.
type tempSource struct {
	Source
	path string
}

func (s *tempSource) Close() error {
	err := s.Source.Close()
	if rerr := os.Remove(s.path); err == nil {
		err = rerr
	}
	return err
}

func openCompressed(path string, newReader decompressor) (Source, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	r, done, err := newReader(in)
	if err != nil {
		return nil, fmt.Errorf("imgimport: %s: %w", path, err)
	}
	defer done()

	tmp, err := os.CreateTemp("", "fdtab-image-*.img")
	if err != nil {
		return nil, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("imgimport: decompress %s: %w", path, err)
	}
	Logger().Debug("decompressed boot image",
		zap.String("image", path),
		zap.String("temp", tmp.Name()),
		zap.Int64("bytes", n))

	src, err := OpenFAT(tmp.Name())
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	return &tempSource{Source: src, path: tmp.Name()}, nil
}
