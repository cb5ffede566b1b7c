// Package config loads the YAML boot configuration of an fdtab instance.
//
// A file is read over Default, so it only needs the keys it changes:
//
//	engine: jfs
//	image:
//	  default: fs_images/fatfs.img
//	  instances:
//	    "3": fs_images/alt.img
//	device:
//	  kind: file
//	  path: fs_images/disk.img
//	  size: 67108864
//
// Relative paths resolve against the directory holding the file, and
// ${VAR} or ${VAR:-default} references expand from the environment.
package config
