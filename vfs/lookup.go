package vfs

import (
	"path"
	"strings"
)

// Clean normalizes p to an absolute slash-separated path. Relative paths are
// taken relative to the root and ".." never climbs above it.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Split returns the cleaned parent directory and final element of p.
// The root has no final element.
func Split(p string) (dir, name string) {
	p = Clean(p)
	if p == "/" {
		return "/", ""
	}
	dir, name = path.Split(p)
	return Clean(dir), name
}

// Lookup resolves p from root one component at a time. Parent references
// are resolved lexically, so engines never need parent back-pointers.
func Lookup(root Node, p string) (Node, error) {
	p = Clean(p)
	node := root
	if p == "/" {
		return node, nil
	}
	for _, part := range strings.Split(p[1:], "/") {
		next, err := node.Find(part)
		if err != nil {
			return nil, err
		}
		node = next
	}
	return node, nil
}

// LookupParent resolves the directory that would contain p and returns it
// with the final element name.
func LookupParent(root Node, p string) (Node, string, error) {
	dir, name := Split(p)
	if name == "" {
		return nil, "", ErrInvalid
	}
	parent, err := Lookup(root, dir)
	if err != nil {
		return nil, "", err
	}
	return parent, name, nil
}

// Join appends name to the directory path dir.
func Join(dir, name string) string {
	return path.Join(Clean(dir), name)
}
