//go:build engine_sfs

package main

import (
	"go.uber.org/zap"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/mount"
	"github.com/wippyai/fdtab/sfs"
	"github.com/wippyai/fdtab/vfs"
)

func init() {
	mount.Register(mount.Engine{
		Name:        "sfs",
		NeedsDevice: true,
		Open: func(a *blockdev.Adapter, o mount.OpenOptions) (vfs.FileSystem, error) {
			if o.Format {
				return sfs.Format(a, sfs.Options{Dev: o.Dev})
			}
			fs, formatted, err := sfs.OpenOrFormat(a, sfs.Options{Dev: o.Dev})
			if formatted {
				mount.Logger().Info("formatted empty device", zap.String("engine", "sfs"))
			}
			return fs, err
		},
	})
}
