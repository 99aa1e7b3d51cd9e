// Package fusebridge adapts internal/pinoqfs to jacobsa/fuse:
// translating block-index inode numbers and pinoqfs.Error kinds into
// fuseops types and POSIX errno, and driving the mount/serve/unmount
// lifecycle.
package fusebridge

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/pinoq/pinoq/internal/codec"
	"github.com/pinoq/pinoq/internal/layout"
	"github.com/pinoq/pinoq/internal/pinoqfs"
)

// never is used as the FUSE attribute/entry cache expiration. Once an
// inode's block index is assigned it never changes underneath it (no
// rename, no deletion in core scope), so the kernel may cache these
// values until this expiration, one year after process start; the
// bridge never invalidates them.
var never = time.Now().Add(365 * 24 * time.Hour)

// FS wraps a *pinoqfs.FS as a fuseutil.FileSystem. Operations not
// overridden here (mkdir, unlink, rename, link, symlink, ...) fall
// through to NotImplementedFileSystem's ENOSYS, matching the core's
// stated non-goals.
type FS struct {
	fuseutil.NotImplementedFileSystem

	core *pinoqfs.FS
}

// New wraps core for serving over FUSE.
func New(core *pinoqfs.FS) *FS {
	return &FS{core: core}
}

func errnoFor(err error) error {
	if err == nil {
		return nil
	}
	var perr *pinoqfs.Error
	if !errors.As(err, &perr) {
		return syscall.EIO
	}
	switch perr.Kind {
	case pinoqfs.NoEntry:
		return syscall.ENOENT
	case pinoqfs.NotDir:
		return syscall.ENOTDIR
	case pinoqfs.NoSpace:
		return syscall.ENOSPC
	default:
		return syscall.EIO
	}
}

func attributesFor(node codec.INode) fuseops.InodeAttributes {
	mode := os.FileMode(0644)
	if node.IsDir() {
		mode = os.ModeDir | 0755
	}
	return fuseops.InodeAttributes{
		Size:  node.Size,
		Nlink: 1,
		Mode:  mode,
		Uid:   node.UID,
		Gid:   node.GID,
		Atime: time.Now(),
		Mtime: time.Now(),
		Ctime: time.Now(),
	}
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	op.BlockSize = layout.BlockSize
	op.IoSize = layout.BlockSize
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	node, ino, err := fs.core.Lookup(uint32(op.Parent), op.Name)
	if err != nil {
		return errnoFor(err)
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = attributesFor(node)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	node, err := fs.core.GetAttr(uint32(op.Inode))
	if err != nil {
		return errnoFor(err)
	}
	op.Attributes = attributesFor(node)
	op.AttributesExpiration = never
	return nil
}

// SetInodeAttributes is a no-op beyond re-reporting the current
// attributes.
func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	node, err := fs.core.SetAttr(uint32(op.Inode))
	if err != nil {
		return errnoFor(err)
	}
	op.Attributes = attributesFor(node)
	op.AttributesExpiration = never
	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	node, err := fs.core.GetAttr(uint32(op.Inode))
	if err != nil {
		return errnoFor(err)
	}
	if !node.IsDir() {
		return syscall.ENOTDIR
	}
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	entries, err := fs.core.ReadDir(uint32(op.Inode))
	if err != nil {
		return errnoFor(err)
	}
	if int(op.Offset) > len(entries) {
		return nil
	}
	for _, e := range entries[op.Offset:] {
		direntType := fuseutil.DT_File
		if e.IsDir {
			direntType = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(e.Cookie),
			Inode:  fuseops.InodeID(e.Ino),
			Name:   e.Name,
			Type:   direntType,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	node, ino, err := fs.core.Create(uint32(op.Parent), op.Name)
	if err != nil {
		return errnoFor(err)
	}
	op.Entry.Child = fuseops.InodeID(ino)
	op.Entry.Attributes = attributesFor(node)
	op.Entry.AttributesExpiration = never
	op.Entry.EntryExpiration = never
	return nil
}

// OpenFile always reports that direct I/O is required: each block is
// encrypted independently, so the kernel page cache must not paper
// over block boundaries.
func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fh, directIO := fs.core.Open(uint32(op.Inode))
	op.Handle = fuseops.HandleID(fh)
	op.UseDirectIO = directIO
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	data, err := fs.core.Read(uint64(op.Handle), uint32(op.Inode))
	if err != nil {
		return errnoFor(err)
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := fs.core.Write(uint64(op.Handle), uint32(op.Inode), op.Data)
	return errnoFor(err)
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	fs.core.Release(uint64(op.Handle))
	return nil
}
