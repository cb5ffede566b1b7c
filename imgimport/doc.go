// Package imgimport copies a read-only boot image into a mounted tree.
//
// Images are FAT filesystem images (read with go-diskfs), zstd or lz4
// compressed FAT images, or plain host directories. The import is tolerant:
// files above the size ceiling are skipped, existing files are left alone
// and per-entry failures never stop the walk, so running it twice over the
// same destination changes nothing the second time.
package imgimport
