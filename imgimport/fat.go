package imgimport

import (
	"fmt"
	"io"
	"os"
	"path"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/filesystem"
)

type fatSource struct {
	disk *disk.Disk
	fs   filesystem.FileSystem
}

// OpenFAT opens a raw FAT image read-only. The filesystem must span the
// whole image; partitioned images are not searched.
func OpenFAT(imagePath string) (Source, error) {
	d, err := diskfs.Open(imagePath, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		return nil, fmt.Errorf("imgimport: open %s: %w", imagePath, err)
	}
	fsys, err := d.GetFilesystem(0)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("imgimport: %s: no filesystem: %w", imagePath, err)
	}
	return &fatSource{disk: d, fs: fsys}, nil
}

func fatPath(name string) string {
	return path.Clean("/" + name)
}

func (s *fatSource) ReadDir(dir string) ([]Entry, error) {
	infos, err := s.fs.ReadDir(fatPath(dir))
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		e := Entry{Name: fi.Name(), Dir: fi.IsDir()}
		if !e.Dir {
			e.Size = fi.Size()
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fatSource) ReadFile(name string) ([]byte, error) {
	f, err := s.fs.OpenFile(fatPath(name), os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Close releases the image. Later calls are no-ops.
func (s *fatSource) Close() error {
	if s.disk == nil {
		return nil
	}
	d := s.disk
	s.disk = nil
	return d.Close()
}
