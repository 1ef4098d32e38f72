package vfs

import (
	"context"
	"io"
	"os"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
)

// passthroughFile is the FileHandle returned by Open/Create: a backing
// file descriptor plus enough context (path, virtual path) to run every
// subsequent read/write/flush through the injector independently.
type passthroughFile struct {
	shared      *shared
	f           *os.File
	path        string
	virtualPath string
}

var (
	_ fs.FileHandle    = (*passthroughFile)(nil)
	_ fs.FileReader    = (*passthroughFile)(nil)
	_ fs.FileWriter    = (*passthroughFile)(nil)
	_ fs.FileFlusher   = (*passthroughFile)(nil)
	_ fs.FileFsyncer   = (*passthroughFile)(nil)
	_ fs.FileReleaser  = (*passthroughFile)(nil)
	_ fs.FileGetattrer = (*passthroughFile)(nil)
)

func (h *passthroughFile) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	d, errno := h.shared.gate(ctx, fault.OpRead, h.path, h.virtualPath, int64(len(dest)))
	if errno != 0 {
		return nil, errno
	}

	n, err := h.f.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, fs.ToErrno(err)
	}
	buf := dest[:n]

	if d.Action == fault.ActionMutate {
		h.shared.injector.MutateBuffer(buf, d.CorruptPercent)
	}
	return fuse.ReadResultData(buf), 0
}

func (h *passthroughFile) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	d, errno := h.shared.gate(ctx, fault.OpWrite, h.path, h.virtualPath, int64(len(data)))
	if errno != 0 {
		return 0, errno
	}

	toWrite := data
	if d.Action == fault.ActionMutate {
		mutated := make([]byte, len(data))
		copy(mutated, data)
		h.shared.injector.MutateBuffer(mutated, d.CorruptPercent)
		toWrite = mutated
	}
	if d.Action == fault.ActionShorten && d.ShortenTo < int64(len(toWrite)) {
		if d.ShortenTo < 0 {
			toWrite = toWrite[:0]
		} else {
			toWrite = toWrite[:d.ShortenTo]
		}
	}

	n, err := h.f.WriteAt(toWrite, off)
	if err != nil {
		return uint32(n), fs.ToErrno(err)
	}

	if st, serr := h.f.Stat(); serr == nil {
		h.shared.space.setSize(h.path, st.Size())
	}
	return uint32(n), 0
}

func (h *passthroughFile) Flush(ctx context.Context) syscall.Errno {
	if _, errno := h.shared.gate(ctx, fault.OpFlush, h.path, h.virtualPath, 0); errno != 0 {
		return errno
	}
	// Flush may fire more than once per handle. Duplicate the
	// descriptor so the close here doesn't invalidate the handle
	// further reads/writes still expect to use.
	fd, err := syscall.Dup(int(h.f.Fd()))
	if err != nil {
		return fs.ToErrno(err)
	}
	return fs.ToErrno(syscall.Close(fd))
}

func (h *passthroughFile) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	if _, errno := h.shared.gate(ctx, fault.OpFsync, h.path, h.virtualPath, 0); errno != 0 {
		return errno
	}
	return fs.ToErrno(h.f.Sync())
}

func (h *passthroughFile) Release(ctx context.Context) syscall.Errno {
	// Release's own injector query is best-effort observability only:
	// the close is always attempted and always reported as success to
	// the kernel, the usual POSIX convention.
	h.shared.decide(fault.OpRelease, h.path, h.virtualPath, 0)
	if err := h.f.Close(); err != nil && h.shared.logger != nil {
		h.shared.logger.Warn("close failed during release: " + err.Error())
	}
	return 0
}

func (h *passthroughFile) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	var st syscall.Stat_t
	if err := syscall.Fstat(int(h.f.Fd()), &st); err != nil {
		return fs.ToErrno(err)
	}
	attrFromStat(out, &st)
	return 0
}
