package imgimport

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/fdtab/vfs"
)

const (
	// DefaultMaxFileSize is the per-file ceiling used by DefaultOptions.
	DefaultMaxFileSize = 100 << 20

	dirMode  = 0o755
	fileMode = 0o644
)

// Options controls an import.
type Options struct {
	// MaxFileSize skips files larger than this many bytes. Zero disables
	// the limit.
	MaxFileSize int64
	// Resize sets each new file to its exact length before writing it.
	Resize bool
}

// DefaultOptions returns the options used at mount time.
func DefaultOptions() Options {
	return Options{MaxFileSize: DefaultMaxFileSize, Resize: true}
}

// Stats counts what an import did.
type Stats struct {
	Dirs    int
	Files   int
	Skipped int
	Failed  int
	Bytes   int64
}

type importer struct {
	src   Source
	opts  Options
	log   *zap.Logger
	stats Stats
}

// Import copies the tree of src into dst. Existing files are never
// overwritten and existing directories are merged into. A failing entry is
// logged and counted, and the walk carries on with its siblings.
func Import(dst vfs.Node, src Source, opts Options) Stats {
	im := &importer{src: src, opts: opts, log: Logger()}
	im.dir(dst, ".")
	im.log.Info("image imported",
		zap.Int("dirs", im.stats.Dirs),
		zap.Int("files", im.stats.Files),
		zap.Int("skipped", im.stats.Skipped),
		zap.Int("failed", im.stats.Failed),
		zap.Int64("bytes", im.stats.Bytes))
	return im.stats
}

// ImportImage opens the image at path and imports it into dst. Only a
// failure to open the image is returned as an error.
func ImportImage(dst vfs.Node, path string, opts Options) (Stats, error) {
	src, err := Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer src.Close()
	Logger().Info("importing boot image", zap.String("image", path))
	return Import(dst, src, opts), nil
}

func join(dir, name string) string {
	if dir == "." {
		return name
	}
	return dir + "/" + name
}

func (im *importer) failed(msg, path string, err error) {
	im.stats.Failed++
	im.log.Warn(msg, zap.String("path", path), zap.Error(err))
}

func (im *importer) dir(dst vfs.Node, dir string) {
	entries, err := im.src.ReadDir(dir)
	if err != nil {
		im.failed("read directory failed, skipping", dir, err)
		return
	}
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." || e.Name == "" {
			continue
		}
		p := join(dir, e.Name)
		if e.Dir {
			sub, err := im.subdir(dst, e.Name)
			if err != nil {
				im.failed("create directory failed, skipping", p, err)
				continue
			}
			im.dir(sub, p)
			continue
		}
		im.file(dst, p, e)
	}
}

func (im *importer) subdir(dst vfs.Node, name string) (vfs.Node, error) {
	sub, err := dst.Create(name, vfs.TypeDir, dirMode)
	if err == nil {
		im.stats.Dirs++
		return sub, nil
	}
	if !errors.Is(err, vfs.ErrExist) {
		return nil, err
	}
	sub, err = dst.Find(name)
	if err != nil {
		return nil, err
	}
	md, err := sub.Metadata()
	if err != nil {
		return nil, err
	}
	if md.Type != vfs.TypeDir {
		return nil, fmt.Errorf("%w: existing entry is a %s", vfs.ErrNotDir, md.Type)
	}
	return sub, nil
}

func (im *importer) file(dst vfs.Node, p string, e Entry) {
	if im.opts.MaxFileSize > 0 && e.Size > im.opts.MaxFileSize {
		im.stats.Skipped++
		im.log.Warn("file too large, skipping",
			zap.String("path", p),
			zap.Int64("size", e.Size),
			zap.Int64("limit", im.opts.MaxFileSize))
		return
	}
	f, err := dst.Create(e.Name, vfs.TypeFile, fileMode)
	if errors.Is(err, vfs.ErrExist) {
		im.stats.Skipped++
		im.log.Debug("file exists, skipping", zap.String("path", p))
		return
	}
	if err != nil {
		im.failed("create file failed, skipping", p, err)
		return
	}
	data, err := im.src.ReadFile(p)
	if err != nil {
		im.failed("read file failed", p, err)
		return
	}
	if im.opts.Resize {
		if err := f.Resize(uint64(len(data))); err != nil {
			im.failed("resize failed", p, err)
			return
		}
	}
	n, err := f.WriteAt(0, data)
	im.stats.Bytes += int64(n)
	if err != nil {
		im.failed("write failed", p, err)
		return
	}
	im.stats.Files++
}
