//go:build engine_jfs

package main

import (
	"go.uber.org/zap"

	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/jfs"
	"github.com/wippyai/fdtab/mount"
	"github.com/wippyai/fdtab/vfs"
)

func init() {
	mount.Register(mount.Engine{
		Name:        "jfs",
		NeedsDevice: true,
		Open: func(a *blockdev.Adapter, o mount.OpenOptions) (vfs.FileSystem, error) {
			if o.Format {
				return jfs.Format(a, jfs.Options{Dev: o.Dev})
			}
			fs, formatted, err := jfs.OpenOrFormat(a, jfs.Options{Dev: o.Dev})
			if formatted {
				mount.Logger().Info("formatted empty device", zap.String("engine", "jfs"))
			}
			return fs, err
		},
		SetLogger: jfs.SetLogger,
	})
}
