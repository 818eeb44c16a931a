// Package engine is the in-memory archive filesystem engine: the entry
// cell, file record, inode tree, and file manager that model a mounted
// archive. It knows nothing about the kernel bridge; internal/fsadapter
// translates callbacks into calls on FileManager.
package engine

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-pna/pnafs/internal/archive"
	"github.com/go-pna/pnafs/internal/logger"
	"github.com/jacobsa/timeutil"
)

const rootInode = 1

// FileManager is the durable in-process model of the mounted filesystem:
// an inode table, a parent/child tree, lazy entry decoding, and the
// mutation primitives the filesystem adapter drives. The filesystem
// adapter is its sole caller for the lifetime of a mount.
type FileManager struct {
	archivePath string
	password    string
	clock       timeutil.Clock

	tree       *tree
	files      map[uint64]*File
	lastInode  uint64
}

// NewFileManager opens the archive at archivePath and populates the
// in-memory tree, (the Construction and Population behavior). Population
// errors are mount-fatal, returned directly to the caller.
func NewFileManager(archivePath, password string, clock timeutil.Clock, openArchive func(path string) (archive.Reader, error)) (*FileManager, error) {
	m := &FileManager{
		archivePath: archivePath,
		password:    password,
		clock:       clock,
		tree:        newTree(),
		files:       map[uint64]*File{},
		lastInode:   rootInode,
	}

	now := clock.Now()
	root := newDirFile(rootInode, ".", now)
	m.tree.insertRoot(rootInode)
	m.files[rootInode] = root

	r, err := openArchive(archivePath)
	if err != nil {
		return nil, fmt.Errorf("engine: open archive: %w", err)
	}
	defer r.Close()

	items := r.Items()
	for {
		item, err := items.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("engine: iterate archive: %w", err)
		}

		if entry, ok := item.AsNormal(); ok {
			if err := m.populateEntry(entry, now); err != nil {
				return nil, err
			}
			continue
		}

		solid, ok := item.AsSolid()
		if !ok {
			return nil, fmt.Errorf("engine: archive item is neither normal nor solid")
		}
		inner, err := solid.Entries(password)
		if err != nil {
			return nil, fmt.Errorf("engine: open solid block: %w", err)
		}
		for {
			entry, err := inner.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("engine: iterate solid block: %w", err)
			}
			if err := m.populateEntry(entry, now); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func (m *FileManager) populateEntry(entry archive.Entry, now time.Time) error {
	path := entry.Header().Path
	dir, name := splitArchivePath(path)

	parentInode := m.makeDirAll(dir, rootInode, now)

	rec, err := regularFromEntry(m.nextInode(), entry, archive.ReadOptions{Password: m.password}, now)
	if err != nil {
		return fmt.Errorf("engine: build record for %s: %w", path, err)
	}
	rec.Name = name

	m.addOrUpdate(rec, parentInode)
	return nil
}

// splitArchivePath separates an archive path's directory components from
// its final name, tolerating both "/" and an empty directory.
func splitArchivePath(path string) (dir, name string) {
	path = strings.Trim(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// makeDirAll walks path's components under start, materialising missing
// intermediate directories, Returns the deepest inode.
func (m *FileManager) makeDirAll(path string, start uint64, now time.Time) uint64 {
	if path == "" {
		return start
	}
	cur := start
	for _, comp := range strings.Split(path, "/") {
		if comp == "" {
			continue
		}
		if child, ok := m.findChildByName(cur, comp); ok {
			cur = child
			continue
		}
		inode := m.nextInode()
		dirFile := newDirFile(inode, comp, now)
		m.files[inode] = dirFile
		m.tree.insertChild(cur, inode)
		cur = inode
	}
	return cur
}

func (m *FileManager) findChildByName(parent uint64, name string) (uint64, bool) {
	for _, c := range m.tree.childList(parent) {
		if f, ok := m.files[c]; ok && f.Name == name {
			return c, true
		}
	}
	return 0, false
}

// addOrUpdate inserts file as a new child of parent, or, if a sibling with
// the same name already exists, overwrites that sibling's record in place
// while preserving its inode (population can see the same path twice
// across normal entries and solid blocks).
func (m *FileManager) addOrUpdate(file *File, parent uint64) {
	if existingInode, ok := m.findChildByName(parent, file.Name); ok {
		file.Attr.Inode = existingInode
		m.files[existingInode] = file
		return
	}
	m.files[file.Attr.Inode] = file
	m.tree.insertChild(parent, file.Attr.Inode)
}

func (m *FileManager) nextInode() uint64 {
	m.lastInode++
	return m.lastInode
}

// GetFile returns the record at inode, or nil if absent.
func (m *FileManager) GetFile(inode uint64) *File {
	return m.files[inode]
}

// GetChildren returns the direct children of parent, or nil if parent is
// missing or not present in the tree.
func (m *FileManager) GetChildren(parent uint64) []*File {
	if !m.tree.contains(parent) {
		return nil
	}
	ids := m.tree.childList(parent)
	out := make([]*File, 0, len(ids))
	for _, id := range ids {
		if f, ok := m.files[id]; ok {
			out = append(out, f)
		}
	}
	return out
}

// LookupChild finds a child of parent by name.
func (m *FileManager) LookupChild(parent uint64, name string) *File {
	inode, ok := m.findChildByName(parent, name)
	if !ok {
		return nil
	}
	return m.files[inode]
}

// MakeDir implements make_dir. The adapter is responsible for the
// EEXIST check before calling.
func (m *FileManager) MakeDir(parent uint64, name string) (Attr, error) {
	if !m.tree.contains(parent) {
		return Attr{}, newErr("mkdir", CodeENOENT)
	}
	inode := m.nextInode()
	f := newDirFile(inode, name, m.clock.Now())
	m.files[inode] = f
	m.tree.insertChild(parent, inode)
	return f.Attr, nil
}

// CreateFile implements create_file.
func (m *FileManager) CreateFile(parent uint64, name string) (Attr, error) {
	if !m.tree.contains(parent) {
		return Attr{}, newErr("create", CodeENOENT)
	}
	inode := m.nextInode()
	f := newRegularFile(inode, name, m.clock.Now())
	m.files[inode] = f
	m.tree.insertChild(parent, inode)
	return f.Attr, nil
}

// RemoveFile implements remove_file: drops inode and its entire
// subtree from both the tree and the record map.
func (m *FileManager) RemoveFile(inode uint64) bool {
	if !m.tree.contains(inode) {
		return false
	}
	removed := m.tree.removeSubtree(inode)
	for _, id := range removed {
		delete(m.files, id)
	}
	return true
}

// MoveFile implements move_file, including the cycle guard.
func (m *FileManager) MoveFile(inode, newParent uint64, newName string) error {
	if !m.tree.contains(inode) {
		return newErr("rename", CodeENOENT)
	}
	if !m.tree.contains(newParent) {
		return newErr("rename", CodeENOENT)
	}
	newParentFile, ok := m.files[newParent]
	if !ok || newParentFile.Attr.Kind != KindDirectory {
		return newErr("rename", CodeENOTDIR)
	}
	if _, exists := m.findChildByName(newParent, newName); exists {
		return newErr("rename", CodeEEXIST)
	}
	if m.tree.isDescendant(inode, newParent) {
		return newErr("rename", CodeEINVAL)
	}

	m.tree.detach(inode)
	m.tree.attach(newParent, inode)
	m.files[inode].Name = newName
	return nil
}

// Rename renames a child in place when old and new parent are identical:
// the adapter calls this instead of MoveFile when a plain rename suffices.
func (m *FileManager) Rename(inode uint64, newName string) error {
	if !m.tree.contains(inode) {
		return newErr("rename", CodeENOENT)
	}
	m.files[inode].Name = newName
	return nil
}

// SaveToArchive implements save_to_archive: writes every regular file
// with its full archive path, decoding any payload not yet Loaded. The
// directory and symlink entries themselves are dropped with a warning,
// per the codec's current write-back limits; the files under a directory
// are still written.
func (m *FileManager) SaveToArchive(createWriter func(path string) (archive.Writer, error)) error {
	w, err := createWriter(m.archivePath)
	if err != nil {
		return newIOErr("save", err)
	}

	var walk func(inode uint64, prefix string) error
	walk = func(inode uint64, prefix string) error {
		for _, child := range m.tree.childList(inode) {
			f, ok := m.files[child]
			if !ok {
				continue
			}
			path := prefix + f.Name
			switch f.Attr.Kind {
			case KindRegular:
				buf, err := f.Payload.bytes()
				if err != nil {
					return err
				}
				size := uint64(len(buf))
				meta := archive.Metadata{RawSize: &size}
				if err := w.WriteFile(path, meta, archive.WriteOptions{Password: m.password}, strings.NewReader(string(buf))); err != nil {
					return err
				}
			case KindDirectory:
				logger.Warnf("save: dropping directory %s (codec cannot persist directories)", path)
				if err := walk(child, path+"/"); err != nil {
					return err
				}
				continue
			case KindSymlink:
				logger.Warnf("save: dropping symlink %s (codec cannot persist symlinks)", path)
				continue
			}
		}
		return nil
	}

	if err := walk(rootInode, ""); err != nil {
		w.Close()
		return newIOErr("save", err)
	}
	if err := w.Finalize(); err != nil {
		w.Close()
		return newIOErr("save", err)
	}
	if err := w.Close(); err != nil {
		return newIOErr("save", err)
	}
	return nil
}

// SetAttr applies whatever fields are non-nil, setattr.
type SetAttrRequest struct {
	Mode   *uint32
	UID    *uint32
	GID    *uint32
	Atime  *time.Time
	Mtime  *time.Time
	Ctime  *time.Time
	Crtime *time.Time
	Flags  *uint32
	Size   *uint64
}

func (m *FileManager) SetAttr(inode uint64, req SetAttrRequest) (Attr, error) {
	f, ok := m.files[inode]
	if !ok {
		return Attr{}, newErr("setattr", CodeENOENT)
	}

	if req.Mode != nil {
		f.Attr.Mode = *req.Mode & 0o7777
	}
	if req.UID != nil {
		f.Attr.UID = *req.UID
	}
	if req.GID != nil {
		f.Attr.GID = *req.GID
	}
	if req.Atime != nil {
		f.Attr.Atime = *req.Atime
	}
	if req.Mtime != nil {
		f.Attr.Mtime = *req.Mtime
	}
	if req.Ctime != nil {
		f.Attr.Ctime = *req.Ctime
	}
	if req.Crtime != nil {
		f.Attr.Crtime = *req.Crtime
	}
	if req.Flags != nil {
		f.Attr.Flags = *req.Flags
	}
	if req.Size != nil {
		if err := m.truncate(f, *req.Size); err != nil {
			return Attr{}, err
		}
	}
	return f.Attr, nil
}

func (m *FileManager) truncate(f *File, size uint64) error {
	err := f.Payload.withMutableBytes(func(buf []byte) []byte {
		if uint64(len(buf)) == size {
			return buf
		}
		if uint64(len(buf)) > size {
			return buf[:size]
		}
		grown := make([]byte, size)
		copy(grown, buf)
		return grown
	})
	if err != nil {
		return err
	}
	f.Attr.Size = size
	f.Attr.Blocks = blocksFor(size)
	return nil
}

// Read implements read: clip to [min(len,offset), min(len,offset+size)).
func (m *FileManager) Read(inode uint64, offset, size int64) ([]byte, error) {
	f, ok := m.files[inode]
	if !ok {
		return nil, newErr("read", CodeENOENT)
	}
	buf, err := f.Payload.bytes()
	if err != nil {
		return nil, err
	}
	n := int64(len(buf))
	if offset >= n || offset < 0 {
		return []byte{}, nil
	}
	end := offset + size
	if end > n {
		end = n
	}
	return buf[offset:end], nil
}

// Write implements write: zero-fill extension then overwrite.
func (m *FileManager) Write(inode uint64, offset int64, data []byte) (int, error) {
	f, ok := m.files[inode]
	if !ok {
		return 0, newErr("write", CodeENOENT)
	}
	needed := offset + int64(len(data))
	err := f.Payload.withMutableBytes(func(buf []byte) []byte {
		if int64(len(buf)) < needed {
			grown := make([]byte, needed)
			copy(grown, buf)
			buf = grown
		}
		copy(buf[offset:], data)
		return buf
	})
	if err != nil {
		return 0, err
	}
	if uint64(needed) > f.Attr.Size {
		f.Attr.Size = uint64(needed)
		f.Attr.Blocks = blocksFor(f.Attr.Size)
	}
	return len(data), nil
}

// GetXAttr implements getxattr.
func (m *FileManager) GetXAttr(inode uint64, name string) ([]byte, error) {
	f, ok := m.files[inode]
	if !ok {
		return nil, newErr("getxattr", CodeENOENT)
	}
	xattrs, err := f.Payload.xattrMap()
	if err != nil {
		return nil, err
	}
	v, ok := xattrs[name]
	if !ok {
		return nil, newErr("getxattr", CodeENOENT)
	}
	return v, nil
}

// ListXAttr implements listxattr: every key followed by a terminating NUL.
func (m *FileManager) ListXAttr(inode uint64) ([]byte, error) {
	f, ok := m.files[inode]
	if !ok {
		return nil, newErr("listxattr", CodeENOENT)
	}
	xattrs, err := f.Payload.xattrMap()
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	for k := range xattrs {
		b.WriteString(k)
		b.WriteByte(0)
	}
	return []byte(b.String()), nil
}
