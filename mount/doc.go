// Package mount brings up the storage engine behind a descriptor table.
//
// Engines are registered by name, much like database/sql drivers, from an
// init function of the binary that links them:
//
//	func init() {
//		mount.Register(mount.Engine{Name: "memfs", Open: openMemfs})
//	}
//
// Open resolves the configured engine, builds a ram or file-backed block
// device for engines that need one, opens the engine and imports the boot
// image of the isolation instance. Import trouble never fails a mount.
package mount
