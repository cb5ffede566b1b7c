package mount

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/config"
	"github.com/wippyai/fdtab/errors"
	"github.com/wippyai/fdtab/imgimport"
	"github.com/wippyai/fdtab/vfs"
)

// Mount is a mounted engine.
type Mount struct {
	FS     vfs.FileSystem
	Engine string
	// Device is nil for engines that do not need one.
	Device *blockdev.Adapter
	// Image is the boot image path that was considered for import.
	Image    string
	Imported bool
	Stats    imgimport.Stats
}

// Open mounts the engine from the process-wide registry.
func Open(cfg *config.Config, isolationID uint64) (*Mount, error) {
	return engines.Open(cfg, isolationID)
}

// Open resolves the configured engine, builds its device, opens it and
// imports the boot image of isolationID. A missing or unreadable image is
// logged and the mount goes ahead with whatever the engine holds.
func (r *Registry) Open(cfg *config.Config, isolationID uint64) (*Mount, error) {
	eng, err := r.Resolve(cfg.Engine)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMount, errors.KindInvalidInput, err, "resolve engine")
	}
	log := Logger().With(zap.String("engine", eng.Name), zap.Uint64("isolation", isolationID))

	m := &Mount{Engine: eng.Name}
	if eng.NeedsDevice {
		dev, err := openDevice(cfg)
		if err != nil {
			return nil, err
		}
		m.Device = blockdev.NewAdapter(dev)
		log.Debug("block device ready",
			zap.String("kind", cfg.Device.Kind),
			zap.Int64("size", m.Device.Size()),
			zap.Int("block_size", m.Device.BlockSize()))
	}

	m.FS, err = eng.Open(m.Device, OpenOptions{
		Dev:    isolationID,
		Format: cfg.Device.Format == config.FormatAlways,
	})
	if err != nil {
		if m.Device != nil {
			if cerr := m.Device.Close(); cerr != nil {
				log.Warn("closing device after failed open", zap.Error(cerr))
			}
		}
		return nil, errors.New(errors.PhaseMount, errors.KindBackend).
			Cause(err).
			Detail("open engine %s", eng.Name).
			Build()
	}

	m.Image = cfg.ImagePath(isolationID)
	m.importImage(cfg, log)

	info := m.FS.Info()
	log.Info("mounted",
		zap.String("fs", info.Name),
		zap.Uint64("capacity", info.Capacity),
		zap.Bool("imported", m.Imported))
	return m, nil
}

func (m *Mount) importImage(cfg *config.Config, log *zap.Logger) {
	if _, err := os.Stat(m.Image); err != nil {
		log.Info("no boot image", zap.String("image", m.Image), zap.Error(err))
		return
	}
	stats, err := imgimport.ImportImage(m.FS.Root(), m.Image, imgimport.Options{
		MaxFileSize: cfg.Image.MaxFileSize,
		Resize:      cfg.Image.Resize,
	})
	if err != nil {
		log.Warn("boot image import failed", zap.String("image", m.Image), zap.Error(err))
		return
	}
	m.Imported = true
	m.Stats = stats
	if err := m.FS.Sync(); err != nil {
		log.Warn("sync after import failed", zap.Error(err))
	}
}

func openDevice(cfg *config.Config) (blockdev.Device, error) {
	dc := cfg.Device
	switch dc.Kind {
	case config.DeviceFile:
		p := cfg.DevicePath()
		if _, err := os.Stat(p); err == nil {
			d, err := blockdev.OpenFileDisk(p, dc.BlockSize)
			if err != nil {
				return nil, errors.New(errors.PhaseMount, errors.KindDevice).Path(p).Cause(err).Build()
			}
			return d, nil
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, errors.New(errors.PhaseMount, errors.KindDevice).Path(p).Cause(err).Build()
		}
		d, err := blockdev.CreateFileDisk(p, dc.Size, dc.BlockSize)
		if err != nil {
			return nil, errors.New(errors.PhaseMount, errors.KindDevice).Path(p).Cause(err).Build()
		}
		Logger().Info("created device image", zap.String("path", p), zap.Int64("size", dc.Size))
		return d, nil
	default:
		d, err := blockdev.NewRamDisk(dc.Size, dc.BlockSize)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMount, errors.KindDevice, err, "create ram disk")
		}
		return d, nil
	}
}
