package vfs

import (
	"io"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// dirStream reads backing directory entries lazily in fixed-size
// batches, preserving host order. It never consults the injector:
// "." and ".." are synthesized by the kernel, and the faultable moment
// for a listing is the Opendir that precedes it.
type dirStream struct {
	f       *os.File
	entries []os.FileInfo
	i       int
	err     error
}

const dirBatchSize = 128

func newDirStream(f *os.File) *dirStream {
	return &dirStream{f: f}
}

func (d *dirStream) HasNext() bool {
	if d.i < len(d.entries) {
		return true
	}
	if d.err != nil {
		return false
	}
	entries, err := d.f.Readdir(dirBatchSize)
	d.entries = entries
	d.i = 0
	if err != nil {
		d.err = err
	}
	return len(d.entries) > 0
}

func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if d.i >= len(d.entries) {
		if d.err == io.EOF {
			return fuse.DirEntry{}, 0
		}
		return fuse.DirEntry{}, fs.ToErrno(d.err)
	}
	info := d.entries[d.i]
	d.i++

	mode := uint32(0)
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		mode = uint32(st.Mode) & syscall.S_IFMT
	} else if info.IsDir() {
		mode = syscall.S_IFDIR
	} else {
		mode = syscall.S_IFREG
	}
	return fuse.DirEntry{Name: info.Name(), Mode: mode}, 0
}

func (d *dirStream) Close() {
	d.f.Close()
}
