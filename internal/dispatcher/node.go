package dispatcher

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/internal/passthrough"
)

// errnoFrom converts a negated POSIX errno, as returned by every Engine
// and passthrough.Executor method, into the syscall.Errno go-fuse
// expects on the wire.
func errnoFrom(code int) syscall.Errno {
	if code == 0 {
		return 0
	}
	return syscall.Errno(-code)
}

func fillAttr(a *fuse.Attr, info os.FileInfo) {
	mode := uint32(info.Mode().Perm())
	if info.IsDir() {
		mode |= fuse.S_IFDIR
	} else {
		mode |= fuse.S_IFREG
	}
	a.Mode = mode
	a.Size = uint64(info.Size())
	t := uint64(info.ModTime().Unix())
	a.Mtime, a.Atime, a.Ctime = t, t, t
}

// NewRoot builds the root directory node for the mount, rooted at the
// logical path "/".
func NewRoot(engine *Engine) *DirNode {
	return &DirNode{engine: engine, path: "/"}
}

// DirNode represents a directory reachable through the mount. It holds
// no state beyond its logical path - every call is resolved through the
// dispatch Engine, never straight to the backing filesystem.
type DirNode struct {
	fs.Inode
	engine *Engine
	path   string
}

var (
	_ fs.NodeLookuper  = (*DirNode)(nil)
	_ fs.NodeReaddirer = (*DirNode)(nil)
	_ fs.NodeMkdirer   = (*DirNode)(nil)
	_ fs.NodeMknoder   = (*DirNode)(nil)
	_ fs.NodeRmdirer   = (*DirNode)(nil)
	_ fs.NodeUnlinker  = (*DirNode)(nil)
	_ fs.NodeRenamer   = (*DirNode)(nil)
	_ fs.NodeCreater   = (*DirNode)(nil)
	_ fs.NodeGetattrer = (*DirNode)(nil)
	_ fs.NodeAccesser  = (*DirNode)(nil)
)

func (n *DirNode) logicalChild(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func (n *DirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.logicalChild(name)
	info, errno := n.engine.GetAttr(childPath)
	if errno != 0 {
		return nil, errnoFrom(errno)
	}
	fillAttr(&out.Attr, info)

	if info.IsDir() {
		child := &DirNode{engine: n.engine, path: childPath}
		return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	}
	child := &FileNode{engine: n.engine, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

func (n *DirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	infos, errno := n.engine.ReadDir(n.path)
	if errno != 0 {
		return nil, errnoFrom(errno)
	}

	entries := make([]fuse.DirEntry, 0, len(infos))
	for _, info := range infos {
		mode := uint32(fuse.S_IFREG)
		if info.IsDir() {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: info.Name(), Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *DirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.logicalChild(name)
	if errno := n.engine.Mkdir(childPath, mode); errno != 0 {
		return nil, errnoFrom(errno)
	}
	child := &DirNode{engine: n.engine, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (n *DirNode) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childPath := n.logicalChild(name)
	if errno := n.engine.Mknod(childPath, mode, uint64(dev)); errno != 0 {
		return nil, errnoFrom(errno)
	}
	child := &FileNode{engine: n.engine, path: childPath}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

func (n *DirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoFrom(n.engine.Rmdir(n.logicalChild(name)))
}

func (n *DirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFrom(n.engine.Unlink(n.logicalChild(name)))
}

func (n *DirNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	newDir, ok := newParent.(*DirNode)
	if !ok {
		return syscall.EXDEV
	}
	return errnoFrom(n.engine.Rename(n.logicalChild(name), newDir.logicalChild(newName)))
}

func (n *DirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	childPath := n.logicalChild(name)
	h, errno := n.engine.Create(childPath, mode)
	if errno != 0 {
		return nil, nil, 0, errnoFrom(errno)
	}
	child := &FileNode{engine: n.engine, path: childPath}
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG})
	return inode, &FileHandle{engine: n.engine, path: childPath, handle: h}, 0, 0
}

func (n *DirNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, errno := n.engine.GetAttr(n.path)
	if errno != 0 {
		return errnoFrom(errno)
	}
	fillAttr(&out.Attr, info)
	return 0
}

func (n *DirNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	return errnoFrom(n.engine.Access(n.path, mask))
}

// FileNode represents a regular file reachable through the mount.
type FileNode struct {
	fs.Inode
	engine *Engine
	path   string
}

var (
	_ fs.NodeOpener    = (*FileNode)(nil)
	_ fs.NodeGetattrer = (*FileNode)(nil)
	_ fs.NodeSetattrer = (*FileNode)(nil)
	_ fs.NodeAccesser  = (*FileNode)(nil)
)

func (f *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, errno := f.engine.Open(f.path, int(flags))
	if errno != 0 {
		return nil, 0, errnoFrom(errno)
	}
	return &FileHandle{engine: f.engine, path: f.path, handle: h}, 0, 0
}

func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	info, errno := f.engine.GetAttr(f.path)
	if errno != 0 {
		return errnoFrom(errno)
	}
	fillAttr(&out.Attr, info)
	return 0
}

func (f *FileNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	return errnoFrom(f.engine.Access(f.path, mask))
}

// Setattr fans a single FUSE setattr call out into the distinct
// operation kinds the catalogue tracks them as (chmod, chown, truncate,
// utimens), since a client call like `touch` or `chmod -R` can set more
// than one of these at once.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if in.Valid&fuse.FATTR_MODE != 0 {
		if errno := f.engine.Chmod(f.path, in.Mode); errno != 0 {
			return errnoFrom(errno)
		}
	}
	if in.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		if errno := f.engine.Chown(f.path, int(in.Uid), int(in.Gid)); errno != 0 {
			return errnoFrom(errno)
		}
	}
	if in.Valid&fuse.FATTR_SIZE != 0 {
		if errno := f.engine.Truncate(f.path, int64(in.Size)); errno != 0 {
			return errnoFrom(errno)
		}
	}
	if in.Valid&(fuse.FATTR_ATIME|fuse.FATTR_MTIME) != 0 {
		now := time.Now()
		atime, mtime := now, now
		if in.Valid&fuse.FATTR_ATIME != 0 {
			atime = time.Unix(int64(in.Atime), int64(in.Atimensec))
		}
		if in.Valid&fuse.FATTR_MTIME != 0 {
			mtime = time.Unix(int64(in.Mtime), int64(in.Mtimensec))
		}
		if errno := f.engine.Utimens(f.path, atime, mtime); errno != 0 {
			return errnoFrom(errno)
		}
	}

	info, errno := f.engine.GetAttr(f.path)
	if errno != 0 {
		return errnoFrom(errno)
	}
	fillAttr(&out.Attr, info)
	return 0
}

// FileHandle is the live state between Open/Create and Release: the
// pass-through handle plus enough context for the Engine to run its
// permission and fault checks again on every Read/Write.
type FileHandle struct {
	engine *Engine
	path   string
	handle *passthrough.Handle
}

var (
	_ fs.FileReader   = (*FileHandle)(nil)
	_ fs.FileWriter   = (*FileHandle)(nil)
	_ fs.FileReleaser = (*FileHandle)(nil)
)

func (h *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, errno := h.engine.Read(h.handle, h.path, dest, off)
	if errno != 0 {
		return nil, errnoFrom(errno)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, errno := h.engine.Write(h.handle, h.path, data, off)
	if errno != 0 {
		return 0, errnoFrom(errno)
	}
	return uint32(n), 0
}

func (h *FileHandle) Release(ctx context.Context) syscall.Errno {
	return errnoFrom(h.engine.Release(h.handle))
}
