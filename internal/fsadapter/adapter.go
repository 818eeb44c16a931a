// Package fsadapter implements the hanwen/go-fuse RawFileSystem callback
// surface, translating each kernel-bridge request into one or two calls on
// internal/engine.FileManager and formatting the reply with a fixed
// one-second attribute TTL.
package fsadapter

import (
	"syscall"
	"time"

	"github.com/go-pna/pnafs/internal/archive"
	"github.com/go-pna/pnafs/internal/engine"
	"github.com/go-pna/pnafs/internal/logger"
	"github.com/hanwen/go-fuse/v2/fuse"
)

const attrTTL = time.Second

// Adapter owns the file manager exclusively for the lifetime of one mount.
type Adapter struct {
	fuse.RawFileSystem

	mgr          *engine.FileManager
	createWriter func(path string) (archive.Writer, error)
}

// New wraps mgr. createWriter builds a fresh archive.Writer for the
// destroy-time save (normally pnafmt.Create).
func New(mgr *engine.FileManager, createWriter func(path string) (archive.Writer, error)) *Adapter {
	return &Adapter{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		mgr:           mgr,
		createWriter:  createWriter,
	}
}

func toStatus(err error) fuse.Status {
	if err == nil {
		return fuse.OK
	}
	var eerr *engine.Error
	if ok := asEngineError(err, &eerr); ok {
		switch eerr.Code {
		case engine.CodeENOENT:
			return fuse.ENOENT
		case engine.CodeEEXIST:
			return fuse.Status(syscall.EEXIST)
		case engine.CodeENOTDIR:
			return fuse.Status(syscall.ENOTDIR)
		case engine.CodeENOTEMPTY:
			return fuse.Status(syscall.ENOTEMPTY)
		case engine.CodeEINVAL:
			return fuse.EINVAL
		default:
			return fuse.EIO
		}
	}
	return fuse.EIO
}

func asEngineError(err error, out **engine.Error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if e, ok := err.(*engine.Error); ok {
			*out = e
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func fillAttr(a *fuse.Attr, attr engine.Attr) {
	a.Ino = attr.Inode
	a.Size = attr.Size
	a.Blocks = attr.Blocks
	a.Atime = uint64(attr.Atime.Unix())
	a.Mtime = uint64(attr.Mtime.Unix())
	a.Ctime = uint64(attr.Ctime.Unix())
	a.Mode = attr.Mode | kindBits(attr.Kind)
	a.Nlink = attr.Nlink
	a.Owner = fuse.Owner{Uid: attr.UID, Gid: attr.GID}
	a.Rdev = attr.Rdev
	a.Blksize = 4096
}

func kindBits(k engine.Kind) uint32 {
	switch k {
	case engine.KindDirectory:
		return syscall.S_IFDIR
	case engine.KindSymlink:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

func setEntryOut(out *fuse.EntryOut, attr engine.Attr) {
	out.NodeId = attr.Inode
	out.Generation = 0
	out.SetEntryTimeout(attrTTL)
	out.SetAttrTimeout(attrTTL)
	fillAttr(&out.Attr, attr)
}

func setAttrOut(out *fuse.AttrOut, attr engine.Attr) {
	out.SetTimeout(attrTTL)
	fillAttr(&out.Attr, attr)
}

// Lookup implements the lookup callback.
func (a *Adapter) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	f := a.mgr.LookupChild(header.NodeId, name)
	if f == nil {
		return fuse.ENOENT
	}
	setEntryOut(out, f.Attr)
	return fuse.OK
}

// GetAttr implements the getattr callback. An unknown inode replies ENOENT
// rather than aborting the connection.
func (a *Adapter) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	f := a.mgr.GetFile(input.NodeId)
	if f == nil {
		return fuse.ENOENT
	}
	setAttrOut(out, f.Attr)
	return fuse.OK
}

// Read implements the read callback.
func (a *Adapter) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	data, err := a.mgr.Read(input.NodeId, int64(input.Offset), int64(len(buf)))
	if err != nil {
		return nil, toStatus(err)
	}
	n := copy(buf, data)
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

// Write implements the write callback.
func (a *Adapter) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	n, err := a.mgr.Write(input.NodeId, int64(input.Offset), data)
	if err != nil {
		return 0, toStatus(err)
	}
	return uint32(n), fuse.OK
}

// ReadDir implements the readdir callback. `.`/`..` are not synthesised
// here; the kernel bridge injects them.
func (a *Adapter) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	children := a.mgr.GetChildren(input.NodeId)
	if children == nil && a.mgr.GetFile(input.NodeId) == nil {
		return fuse.ENOENT
	}
	for i := int(input.Offset); i < len(children); i++ {
		c := children[i]
		entry := fuse.DirEntry{
			Ino:  c.Attr.Inode,
			Name: c.Name,
			Mode: kindBits(c.Attr.Kind),
		}
		if !out.AddDirEntry(entry) {
			break
		}
	}
	return fuse.OK
}

// Create implements the create callback.
func (a *Adapter) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	attr, err := a.mgr.CreateFile(input.NodeId, name)
	if err != nil {
		return toStatus(err)
	}
	setEntryOut(&out.EntryOut, attr)
	return fuse.OK
}

// Mkdir implements the mkdir callback: EEXIST if the name already exists, else
// make_dir with mode & ~umask.
func (a *Adapter) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	if a.mgr.LookupChild(input.NodeId, name) != nil {
		return fuse.Status(syscall.EEXIST)
	}
	attr, err := a.mgr.MakeDir(input.NodeId, name)
	if err != nil {
		return toStatus(err)
	}
	mode := input.Mode &^ input.Umask
	req := engine.SetAttrRequest{Mode: &mode}
	attr, err = a.mgr.SetAttr(attr.Inode, req)
	if err != nil {
		return toStatus(err)
	}
	setEntryOut(out, attr)
	return fuse.OK
}

// Unlink implements the unlink callback.
func (a *Adapter) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	f := a.mgr.LookupChild(header.NodeId, name)
	if f == nil {
		return fuse.ENOENT
	}
	if !a.mgr.RemoveFile(f.Attr.Inode) {
		return fuse.ENOENT
	}
	return fuse.OK
}

// Rmdir implements the rmdir callback: target must be a directory and empty.
func (a *Adapter) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	f := a.mgr.LookupChild(header.NodeId, name)
	if f == nil {
		return fuse.ENOENT
	}
	if f.Attr.Kind != engine.KindDirectory {
		return fuse.Status(syscall.ENOTDIR)
	}
	if len(a.mgr.GetChildren(f.Attr.Inode)) > 0 {
		return fuse.Status(syscall.ENOTEMPTY)
	}
	a.mgr.RemoveFile(f.Attr.Inode)
	return fuse.OK
}

// Rename implements the rename callback. Rename flags (RENAME_NOREPLACE,
// RENAME_EXCHANGE) are ignored.
func (a *Adapter) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	target := a.mgr.LookupChild(input.NodeId, oldName)
	if target == nil {
		return fuse.ENOENT
	}

	if existing := a.mgr.LookupChild(input.Newdir, newName); existing != nil && existing.Attr.Inode != target.Attr.Inode {
		a.mgr.RemoveFile(existing.Attr.Inode)
	}

	if input.NodeId == input.Newdir {
		return toStatus(a.mgr.Rename(target.Attr.Inode, newName))
	}
	return toStatus(a.mgr.MoveFile(target.Attr.Inode, input.Newdir, newName))
}

// SetAttr implements the setattr callback.
func (a *Adapter) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	req := engine.SetAttrRequest{}
	if input.Valid&fuse.FATTR_MODE != 0 {
		mode := input.Mode & 0o7777
		req.Mode = &mode
	}
	if input.Valid&fuse.FATTR_UID != 0 {
		req.UID = &input.Owner.Uid
	}
	if input.Valid&fuse.FATTR_GID != 0 {
		req.GID = &input.Owner.Gid
	}
	if input.Valid&fuse.FATTR_SIZE != 0 {
		req.Size = &input.Size
	}
	if input.Valid&fuse.FATTR_ATIME != 0 {
		t := time.Unix(int64(input.Atime), int64(input.Atimensec))
		req.Atime = &t
	}
	if input.Valid&fuse.FATTR_MTIME != 0 {
		t := time.Unix(int64(input.Mtime), int64(input.Mtimensec))
		req.Mtime = &t
	}
	now := time.Now()
	req.Ctime = &now

	attr, err := a.mgr.SetAttr(input.NodeId, req)
	if err != nil {
		return toStatus(err)
	}
	setAttrOut(out, attr)
	return fuse.OK
}

// GetXAttr implements the getxattr callback.
func (a *Adapter) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	v, err := a.mgr.GetXAttr(header.NodeId, attr)
	if err != nil {
		return 0, toStatus(err)
	}
	if len(dest) == 0 {
		return uint32(len(v)), fuse.OK
	}
	n := copy(dest, v)
	return uint32(n), fuse.OK
}

// ListXAttr implements the listxattr callback.
func (a *Adapter) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	data, err := a.mgr.ListXAttr(header.NodeId)
	if err != nil {
		return 0, toStatus(err)
	}
	if len(dest) == 0 {
		return uint32(len(data)), fuse.OK
	}
	n := copy(dest, data)
	return uint32(n), fuse.OK
}

// Flush implements the flush callback: OK if the inode exists, ENOENT otherwise.
func (a *Adapter) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	if a.mgr.GetFile(input.NodeId) == nil {
		return fuse.ENOENT
	}
	return fuse.OK
}

// StatFs implements the statfs callback with a fixed informational block.
func (a *Adapter) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	out.Blocks = 1 << 20
	out.Bfree = 1 << 19
	out.Bavail = 1 << 19
	out.Files = 1 << 16
	out.Ffree = 1 << 15
	out.Bsize = 4096
	out.NameLen = 255
	out.Frsize = 4096
	return fuse.OK
}

// Destroy implements the destroy callback: best-effort save, never surfaced to the
// kernel bridge (it has no reply channel for this callback).
func (a *Adapter) Destroy() {
	if a.createWriter == nil {
		return
	}
	if err := a.mgr.SaveToArchive(a.createWriter); err != nil {
		logger.Warnf("save on unmount failed: %v", err)
		return
	}
	logger.Infof("save on unmount succeeded")
}

// Ioctl implements the ioctl callback: always unsupported.
func (a *Adapter) Ioctl(cancel <-chan struct{}, input *fuse.IoctlIn) (output *fuse.IoctlOut, data []byte, status fuse.Status) {
	return nil, nil, fuse.ENOSYS
}
