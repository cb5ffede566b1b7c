//go:build !engine_sfs && !engine_jfs

package main

import (
	"github.com/wippyai/fdtab/blockdev"
	"github.com/wippyai/fdtab/memfs"
	"github.com/wippyai/fdtab/mount"
	"github.com/wippyai/fdtab/vfs"
)

func init() {
	mount.Register(mount.Engine{
		Name: "memfs",
		Open: func(_ *blockdev.Adapter, o mount.OpenOptions) (vfs.FileSystem, error) {
			return memfs.New(memfs.Options{Dev: o.Dev}), nil
		},
	})
}
