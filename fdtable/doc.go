// Package fdtable is the descriptor table exposed to guest code.
//
// A Table issues monotonically increasing descriptors starting at 3 over
// nodes of a mounted vfs.FileSystem. Each descriptor carries its own cursor
// and the access it was opened with. Descriptors 0, 1 and 2 are reserved
// for the console and are never issued.
//
// The filesystem is mounted lazily on the first operation that needs it:
//
//	tab := fdtable.New(func() (vfs.FileSystem, error) {
//		m, err := mount.Open(cfg, isolationID)
//		if err != nil {
//			return nil, err
//		}
//		return m.FS, nil
//	})
//	fd, err := tab.Open("/etc/motd", 0, fdtable.ModeRead)
//
// Every failure is an *errors.Error carrying the phase, the descriptor and a
// Kind that callers map to their own error codes.
package fdtable
