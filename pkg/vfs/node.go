package vfs

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
)

// passthroughNode is a single InodeEmbedder in the mounted tree. It holds
// no path of its own: the backing path is recomputed from the Inode
// tree's own parent/name chain, which is the only copy of that
// information the library keeps consistent across renames.
type passthroughNode struct {
	fs.Inode
	shared *shared
}

var (
	_ fs.InodeEmbedder  = (*passthroughNode)(nil)
	_ fs.NodeLookuper   = (*passthroughNode)(nil)
	_ fs.NodeGetattrer  = (*passthroughNode)(nil)
	_ fs.NodeSetattrer  = (*passthroughNode)(nil)
	_ fs.NodeOpener     = (*passthroughNode)(nil)
	_ fs.NodeCreater    = (*passthroughNode)(nil)
	_ fs.NodeMkdirer    = (*passthroughNode)(nil)
	_ fs.NodeRmdirer    = (*passthroughNode)(nil)
	_ fs.NodeUnlinker   = (*passthroughNode)(nil)
	_ fs.NodeRenamer    = (*passthroughNode)(nil)
	_ fs.NodeReaddirer  = (*passthroughNode)(nil)
	_ fs.NodeStatfser   = (*passthroughNode)(nil)
	_ fs.NodeSymlinker  = (*passthroughNode)(nil)
	_ fs.NodeReadlinker = (*passthroughNode)(nil)
)

// backingPath is this node's absolute path on the host filesystem.
func (n *passthroughNode) backingPath() string {
	return filepath.Join(n.shared.backingRoot, n.Path(nil))
}

// virtualPath is the path as logged: relative to the mount point, always
// starting with "/". Rules are matched against the backing path instead.
func (n *passthroughNode) virtualPath() string {
	return "/" + n.Path(nil)
}

func (n *passthroughNode) childPassthrough() *passthroughNode {
	return &passthroughNode{shared: n.shared}
}

func attrFromStat(out *fuse.AttrOut, st *syscall.Stat_t) {
	out.Attr.FromStat(st)
}

func entryFromStat(out *fuse.EntryOut, st *syscall.Stat_t) {
	out.Attr.FromStat(st)
}

func (n *passthroughNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := rejectUnsafeName(name); errno != 0 {
		return nil, errno
	}
	vp := n.virtualPath() + "/" + name
	p, err := TranslatePath(n.shared.backingRoot, vp)
	if err != nil {
		return nil, syscall.EACCES
	}

	if _, errno := n.shared.gate(ctx, fault.OpLookup, p, vp, 0); errno != 0 {
		return nil, errno
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(p, &st); err != nil {
		return nil, fs.ToErrno(err)
	}
	entryFromStat(out, &st)

	child := n.childPassthrough()
	stable := fs.StableAttr{Mode: uint32(st.Mode) & syscall.S_IFMT, Ino: st.Ino}
	return n.NewInode(ctx, child, stable), 0
}

func (n *passthroughNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	p := n.backingPath()
	if _, errno := n.shared.gate(ctx, fault.OpGetattr, p, n.virtualPath(), 0); errno != 0 {
		return errno
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(p, &st); err != nil {
		return fs.ToErrno(err)
	}
	attrFromStat(out, &st)
	return 0
}

func (n *passthroughNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := n.backingPath()
	if _, errno := n.shared.gate(ctx, fault.OpSetattr, p, n.virtualPath(), 0); errno != 0 {
		return errno
	}

	if mode, ok := in.GetMode(); ok {
		if err := syscall.Chmod(p, mode); err != nil {
			return fs.ToErrno(err)
		}
	}
	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		suid, sgid := -1, -1
		if uok {
			suid = int(uid)
		}
		if gok {
			sgid = int(gid)
		}
		if err := os.Chown(p, suid, sgid); err != nil {
			return fs.ToErrno(err)
		}
	}
	if size, ok := in.GetSize(); ok {
		if err := syscall.Truncate(p, int64(size)); err != nil {
			return fs.ToErrno(err)
		}
		n.shared.space.setSize(p, int64(size))
	}
	if mtime, ok := in.GetMTime(); ok {
		atime := mtime
		if at, ok := in.GetATime(); ok {
			atime = at
		}
		_ = os.Chtimes(p, atime, mtime)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(p, &st); err != nil {
		return fs.ToErrno(err)
	}
	attrFromStat(out, &st)
	return 0
}

func (n *passthroughNode) Opendir(ctx context.Context) syscall.Errno {
	p := n.backingPath()
	if _, errno := n.shared.gate(ctx, fault.OpReaddir, p, n.virtualPath(), 0); errno != 0 {
		return errno
	}
	return 0
}

func (n *passthroughNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	f, err := os.Open(n.backingPath())
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	return newDirStream(f), 0
}

func (n *passthroughNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := rejectUnsafeName(name); errno != 0 {
		return nil, errno
	}
	vp := n.virtualPath() + "/" + name
	p, err := TranslatePath(n.shared.backingRoot, vp)
	if err != nil {
		return nil, syscall.EACCES
	}
	if _, errno := n.shared.gate(ctx, fault.OpMkdir, p, vp, 0); errno != 0 {
		return nil, errno
	}
	if err := syscall.Mkdir(p, mode); err != nil {
		return nil, fs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(p, &st); err != nil {
		return nil, fs.ToErrno(err)
	}
	entryFromStat(out, &st)
	child := n.childPassthrough()
	stable := fs.StableAttr{Mode: uint32(st.Mode) & syscall.S_IFMT, Ino: st.Ino}
	return n.NewInode(ctx, child, stable), 0
}

func (n *passthroughNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if errno := rejectUnsafeName(name); errno != 0 {
		return errno
	}
	vp := n.virtualPath() + "/" + name
	p, err := TranslatePath(n.shared.backingRoot, vp)
	if err != nil {
		return syscall.EACCES
	}
	if _, errno := n.shared.gate(ctx, fault.OpRmdir, p, vp, 0); errno != 0 {
		return errno
	}
	if err := syscall.Rmdir(p); err != nil {
		return fs.ToErrno(err)
	}
	return 0
}

func (n *passthroughNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if errno := rejectUnsafeName(name); errno != 0 {
		return errno
	}
	vp := n.virtualPath() + "/" + name
	p, err := TranslatePath(n.shared.backingRoot, vp)
	if err != nil {
		return syscall.EACCES
	}
	if _, errno := n.shared.gate(ctx, fault.OpUnlink, p, vp, 0); errno != 0 {
		return errno
	}
	if err := syscall.Unlink(p); err != nil {
		return fs.ToErrno(err)
	}
	n.shared.space.remove(p)
	return 0
}

func (n *passthroughNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if errno := rejectUnsafeName(name); errno != 0 {
		return errno
	}
	if errno := rejectUnsafeName(newName); errno != 0 {
		return errno
	}
	destNode, ok := newParent.(*passthroughNode)
	if !ok {
		return syscall.EXDEV
	}
	vp := n.virtualPath() + "/" + name
	oldPath, err := TranslatePath(n.shared.backingRoot, vp)
	if err != nil {
		return syscall.EACCES
	}
	newPath, err := TranslatePath(n.shared.backingRoot, destNode.virtualPath()+"/"+newName)
	if err != nil {
		return syscall.EACCES
	}

	if _, errno := n.shared.gate(ctx, fault.OpRename, oldPath, vp, 0); errno != 0 {
		return errno
	}
	if err := syscall.Rename(oldPath, newPath); err != nil {
		return fs.ToErrno(err)
	}
	n.shared.space.rename(oldPath, newPath)
	return 0
}

func (n *passthroughNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if errno := rejectUnsafeName(name); errno != 0 {
		return nil, errno
	}
	vp := n.virtualPath() + "/" + name
	p, err := TranslatePath(n.shared.backingRoot, vp)
	if err != nil {
		return nil, syscall.EACCES
	}
	if _, errno := n.shared.gate(ctx, fault.OpSymlink, p, vp, 0); errno != 0 {
		return nil, errno
	}
	if err := syscall.Symlink(target, p); err != nil {
		return nil, fs.ToErrno(err)
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(p, &st); err != nil {
		return nil, fs.ToErrno(err)
	}
	entryFromStat(out, &st)
	child := n.childPassthrough()
	stable := fs.StableAttr{Mode: uint32(st.Mode) & syscall.S_IFMT, Ino: st.Ino}
	return n.NewInode(ctx, child, stable), 0
}

func (n *passthroughNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	p := n.backingPath()
	if _, errno := n.shared.gate(ctx, fault.OpReadlink, p, n.virtualPath(), 0); errno != 0 {
		return nil, errno
	}
	target, err := os.Readlink(p)
	if err != nil {
		return nil, fs.ToErrno(err)
	}
	return []byte(target), 0
}

func (n *passthroughNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if errno := rejectUnsafeName(name); errno != 0 {
		return nil, nil, 0, errno
	}
	vp := n.virtualPath() + "/" + name
	p, err := TranslatePath(n.shared.backingRoot, vp)
	if err != nil {
		return nil, nil, 0, syscall.EACCES
	}
	if _, errno := n.shared.gate(ctx, fault.OpCreate, p, vp, 0); errno != 0 {
		return nil, nil, 0, errno
	}

	fd, err := syscall.Open(p, int(flags)|syscall.O_CREAT|syscall.O_EXCL, mode)
	if err != nil {
		return nil, nil, 0, fs.ToErrno(err)
	}
	f := os.NewFile(uintptr(fd), p)

	var st syscall.Stat_t
	if err := syscall.Fstat(fd, &st); err != nil {
		f.Close()
		return nil, nil, 0, fs.ToErrno(err)
	}
	entryFromStat(out, &st)
	n.shared.space.setSize(p, 0)

	child := n.childPassthrough()
	stable := fs.StableAttr{Mode: uint32(st.Mode) & syscall.S_IFMT, Ino: st.Ino}
	inode := n.NewInode(ctx, child, stable)
	handle := &passthroughFile{shared: n.shared, f: f, path: p, virtualPath: vp}
	return inode, handle, 0, 0
}

func (n *passthroughNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p := n.backingPath()
	vp := n.virtualPath()
	if _, errno := n.shared.gate(ctx, fault.OpOpen, p, vp, 0); errno != 0 {
		return nil, 0, errno
	}
	f, err := os.OpenFile(p, int(flags), 0)
	if err != nil {
		return nil, 0, fs.ToErrno(err)
	}
	return &passthroughFile{shared: n.shared, f: f, path: p, virtualPath: vp}, 0, 0
}

func (n *passthroughNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	p := n.backingPath()
	if _, errno := n.shared.gate(ctx, fault.OpStatfs, p, n.virtualPath(), 0); errno != 0 {
		return errno
	}
	var st unix.Statfs_t
	if err := unix.Statfs(p, &st); err != nil {
		return fs.ToErrno(err)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.NameLen = uint32(st.Namelen)
	out.Frsize = uint32(st.Bsize)

	if ceiling, ok := n.shared.injector.SpaceCeilingFor(fault.OpWrite, p); ok {
		free := ceiling - n.shared.usedBytes()
		if free < 0 {
			free = 0
		}
		blocks := uint64(free) / uint64(out.Bsize)
		if out.Bavail > blocks {
			out.Bavail = blocks
		}
		if out.Bfree > blocks {
			out.Bfree = blocks
		}
	}
	return 0
}
