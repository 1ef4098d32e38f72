package vfs

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// TranslatePath joins backingRoot with a raw virtual path, rejecting any
// input whose ".." components would walk above backingRoot before the
// join happens. filepath.Clean alone is not enough here: Clean silently
// absorbs a leading ".." against an assumed-absolute path, which would
// hide the very escape this function exists to catch.
func TranslatePath(backingRoot, virtualPath string) (string, error) {
	depth := 0
	for _, part := range strings.Split(virtualPath, "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return "", fmt.Errorf("path %q escapes backing root", virtualPath)
			}
		default:
			depth++
		}
	}
	cleaned := path.Clean("/" + virtualPath)
	return filepath.Join(backingRoot, cleaned), nil
}

// rejectUnsafeName guards a single FUSE path component. The kernel never
// hands a driver a multi-component or ".." name through a legitimate
// lookup, but a node method is a plain Go function: nothing stops a
// caller (or a future bug) from passing one directly, so this is checked
// independently of TranslatePath.
func rejectUnsafeName(name string) syscall.Errno {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return syscall.EACCES
	}
	return 0
}
