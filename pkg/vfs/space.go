package vfs

import (
	"os"
	"path/filepath"
	"sync"
)

// spaceAccountant is the in-process accumulator of bytes used under the
// backing root. The driver never walks the host filesystem to answer a
// SPACE_EXHAUSTION check; it keeps a running total seeded from the
// backing tree at startup and adjusted on every write, truncate, and
// unlink it performs.
type spaceAccountant struct {
	mu    sync.Mutex
	used  int64
	sizes map[string]int64
}

func newSpaceAccountant(backingRoot string) *spaceAccountant {
	a := &spaceAccountant{sizes: make(map[string]int64)}
	_ = filepath.Walk(backingRoot, func(p string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		a.sizes[p] = info.Size()
		a.used += info.Size()
		return nil
	})
	return a
}

func (a *spaceAccountant) used_() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used
}

// setSize records path's new total size, adjusting the running total by
// the delta. Used after writes (at their new high-water offset) and
// truncations.
func (a *spaceAccountant) setSize(path string, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.sizes[path]
	a.used += size - old
	a.sizes[path] = size
}

func (a *spaceAccountant) remove(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.used -= a.sizes[path]
	delete(a.sizes, path)
}

func (a *spaceAccountant) rename(oldPath, newPath string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sz, ok := a.sizes[oldPath]; ok {
		delete(a.sizes, oldPath)
		a.sizes[newPath] = sz
	}
}
