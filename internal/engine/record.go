package engine

import (
	"time"

	"github.com/go-pna/pnafs/internal/archive"
	"github.com/go-pna/pnafs/internal/perms"
)

// Kind is the file-record's kernel-visible type.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
)

// Attr is the attribute set the kernel bridge needs: inode, size,
// block count, four timestamps, kind, mode, link count, ownership, device,
// block size, flags.
type Attr struct {
	Inode     uint64
	Size      uint64
	Blocks    uint64
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Crtime    time.Time
	Kind      Kind
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Rdev      uint32
	BlockSize uint32
	Flags     uint32
}

// File is the (name, attributes, payload) tuple backing one inode.
// Directories built by the engine (root, intermediate directories, mkdir)
// carry a Loaded, empty cell; a directory built from an archive entry
// carries that entry's Unprocessed cell.
type File struct {
	Name    string
	Attr    Attr
	Payload *entryCell
}

const (
	dirMode     = 0o775
	fileMode    = 0o775
	createdMode = 0o644
	dirSize     = 512
	dirBlocks   = 1
)

// newDirFile builds a directory record (the dir(inode, name) behavior).
func newDirFile(inode uint64, name string, now time.Time) *File {
	uid, gid, _ := perms.MyUserAndGroup()
	return &File{
		Name: name,
		Attr: Attr{
			Inode: inode, Size: dirSize, Blocks: dirBlocks,
			Atime: now, Mtime: now, Ctime: now, Crtime: now,
			Kind: KindDirectory, Mode: dirMode, Nlink: 2,
			UID: uid, GID: gid,
		},
		Payload: newLoadedCell(nil),
	}
}

func entryKindToRecordKind(k archive.Kind) Kind {
	switch k {
	case archive.KindDirectory:
		return KindDirectory
	case archive.KindSymlink:
		return KindSymlink
	default: // file, hardlink
		return KindRegular
	}
}

// lastPathComponent returns the final slash-separated segment of an
// archive path, matching the original's name-from-path convention.
func lastPathComponent(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1:]
}

// regularFromEntry builds a record from an archive entry The
// returned record's cell is Unprocessed unless the archive omitted the raw
// size, in which case the cell is eagerly decoded to learn its length.
func regularFromEntry(inode uint64, entry archive.Entry, opts archive.ReadOptions, now time.Time) (*File, error) {
	hdr := entry.Header()
	meta := entry.Metadata()

	mode := uint32(fileMode)
	var uid, gid uint32
	if meta.Permission != nil {
		if meta.Permission.Mode != 0 {
			mode = meta.Permission.Mode
		}
		uid, gid = perms.ResolveOwner(&perms.OwnerRecord{
			UserName: meta.Permission.UserName, UID: meta.Permission.UID,
			GroupName: meta.Permission.GroupName, GID: meta.Permission.GID,
		})
	} else {
		uid, gid = perms.ResolveOwner(nil)
	}

	mtime, ctime, atime, crtime := now, now, now, now
	if meta.Modified != nil {
		mtime, ctime, atime = *meta.Modified, *meta.Modified, *meta.Modified
	}
	if meta.Created != nil {
		crtime = *meta.Created
	}

	cell := newUnprocessedCell(entry, opts)

	var size uint64
	if meta.RawSize != nil {
		size = *meta.RawSize
	} else {
		buf, err := cell.bytes()
		if err != nil {
			return nil, err
		}
		size = uint64(len(buf))
	}

	nlink := uint32(1)
	kind := entryKindToRecordKind(hdr.Kind)
	if kind == KindDirectory {
		nlink = 2
	}

	return &File{
		Name: lastPathComponent(hdr.Path),
		Attr: Attr{
			Inode: inode, Size: size, Blocks: blocksFor(size),
			Atime: atime, Mtime: mtime, Ctime: ctime, Crtime: crtime,
			Kind: kind, Mode: mode, Nlink: nlink, UID: uid, GID: gid,
		},
		Payload: cell,
	}, nil
}

// newRegularFile builds an empty regular file record for create(), per
// the create_file behavior: mode 0o644, current-process ownership, link count 1.
func newRegularFile(inode uint64, name string, now time.Time) *File {
	uid, gid, _ := perms.MyUserAndGroup()
	return &File{
		Name: name,
		Attr: Attr{
			Inode: inode, Size: 0, Blocks: 0,
			Atime: now, Mtime: now, Ctime: now, Crtime: now,
			Kind: KindRegular, Mode: createdMode, Nlink: 1,
			UID: uid, GID: gid,
		},
		Payload: newLoadedCell(nil),
	}
}

func blocksFor(size uint64) uint64 {
	const blockSize = 512
	return (size + blockSize - 1) / blockSize
}
