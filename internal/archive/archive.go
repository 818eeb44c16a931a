// Package archive declares the codec boundary the engine depends on: an
// entry iterator over a password-protected, possibly solid-blocked
// container, and a writer for the engine's save-back path. The engine
// knows nothing about the archive's on-disk layout; see pnafmt for the
// one concrete implementation shipped with this module.
package archive

import (
	"io"
	"time"
)

// Kind classifies what an archive entry represents.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
	KindSymlink
	KindHardlink
)

// Permission is the archive's notion of a POSIX-ish ownership/mode record.
// Any field may be absent (UserName/GroupName empty, UID/GID zero) when the
// archive did not record it.
type Permission struct {
	Mode      uint32
	UserName  string
	UID       uint32
	GroupName string
	GID       uint32
}

// Metadata carries the optional, per-entry facts the engine needs to build
// a file record. Nil pointers mean "not recorded by the archive".
type Metadata struct {
	Modified   *time.Time
	Created    *time.Time
	RawSize    *uint64
	Permission *Permission
}

// Header identifies an entry's place in the archive namespace.
type Header struct {
	Path string
	Kind Kind
}

// ReadOptions parameterises payload decoding; Password is empty when the
// archive (or this entry) was not encrypted.
type ReadOptions struct {
	Password string
}

// Entry is one archive item: a file, directory, symlink, or hardlink with
// metadata, extended attributes, and a lazily-opened payload stream.
type Entry interface {
	Header() Header
	Metadata() Metadata
	Xattrs() map[string][]byte
	Open(opts ReadOptions) (io.ReadCloser, error)
}

// Item is either a Normal entry or a Solid block of entries sharing one
// compression/encryption context. Exactly one of AsNormal/AsSolid succeeds.
type Item interface {
	AsNormal() (Entry, bool)
	AsSolid() (SolidBlock, bool)
}

// SolidBlock groups entries that must be decoded together, in order, with
// one shared password.
type SolidBlock interface {
	Entries(password string) (EntryIterator, error)
}

// EntryIterator yields entries one at a time; Next returns io.EOF when
// exhausted.
type EntryIterator interface {
	Next() (Entry, error)
}

// ItemIterator walks an archive's top-level item list.
type ItemIterator interface {
	Next() (Item, error)
}

// Reader is an opened archive ready for population.
type Reader interface {
	Items() ItemIterator
	Close() error
}

// WriteOptions parameterises payload encoding on save; Password, when
// non-empty, re-encrypts the persisted body the way it was read.
type WriteOptions struct {
	Password string
}

// Writer is a fresh archive under construction, used by the engine's
// save-back path. Entries must be written file-by-file; Finalize commits
// the container's trailing index.
type Writer interface {
	WriteFile(path string, meta Metadata, opts WriteOptions, body io.Reader) error
	Finalize() error
	Close() error
}
