// Package fdtab is the filesystem layer of an isolated compute runtime.
//
// Guest code sees files only through a descriptor table. The table sits on
// top of a pluggable storage engine, and block-device engines reach their
// storage through a byte-range adapter over a fixed-size block device. At
// mount time a read-only boot image is copied into the engine.
//
// # Architecture Overview
//
//	fdtab/
//	├── vfs/         Node and FileSystem contract shared by every engine
//	├── memfs/       In-memory engine
//	├── sfs/         Block engine with inode, bitmap and directory blocks
//	├── jfs/         Log-structured block engine with replay on mount
//	├── blockdev/    Block devices and the read-modify-write byte adapter
//	├── codec/       CBOR records and length-prefixed frames
//	├── imgimport/   Boot image sources and the tree importer
//	├── config/      YAML boot configuration and logger setup
//	├── mount/       Engine registry and mount initializer
//	├── fdtable/     Descriptor table
//	├── hostcall/    wazero host module exposing the table to guests
//	├── errors/      Structured errors with phase and kind
//	└── cmd/fdtab/   Command-line front end
//
// # Quick Start
//
//	cfg, err := config.FromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tab := fdtable.New(func() (vfs.FileSystem, error) {
//	    m, err := mount.Open(cfg, isolationID)
//	    if err != nil {
//	        return nil, err
//	    }
//	    return m.FS, nil
//	})
//
//	fd, err := tab.Open("/etc/motd", 0, fdtable.ModeRead)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tab.Close(fd)
//
// # Selecting an engine
//
// The cmd/fdtab binary links exactly one engine chosen at build time:
//
//	go build ./cmd/fdtab                    # memfs
//	go build -tags engine_sfs ./cmd/fdtab   # sfs on a block device
//	go build -tags engine_jfs ./cmd/fdtab   # jfs on a block device
//
// Library users register engines themselves with mount.Register.
package fdtab
