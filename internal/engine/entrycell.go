package engine

import (
	"bytes"
	"io"
	"sync"

	"github.com/go-pna/pnafs/internal/archive"
)

// entryCell is a dual-state lazy payload: Unprocessed until first access,
// then Loaded forever. The transition is one-way and
// single-shot; concurrent first-access callers block on mu rather than
// racing the decode (the engine is single-threaded, but the lock
// keeps the invariant explicit rather than assumed).
type entryCell struct {
	mu sync.Mutex

	loaded bool
	buf    []byte
	xattrs map[string][]byte

	// Unprocessed state.
	entry archive.Entry
	opts  archive.ReadOptions
}

// newUnprocessedCell wraps an archive entry and the read options (carrying
// the password) it will be decoded with on first access.
func newUnprocessedCell(entry archive.Entry, opts archive.ReadOptions) *entryCell {
	return &entryCell{entry: entry, opts: opts}
}

// newLoadedCell builds an already-Loaded cell, used by mkdir/create where
// there is no backing archive entry to decode.
func newLoadedCell(buf []byte) *entryCell {
	if buf == nil {
		buf = []byte{}
	}
	return &entryCell{loaded: true, buf: buf, xattrs: map[string][]byte{}}
}

// ensureLoaded performs the Unprocessed -> Loaded transition if needed.
// Decode failures are reported to the caller as EIO: the cell remains
// Unprocessed so a retry is possible, but the immediate caller sees an
// I/O error rather than a process abort.
func (c *entryCell) ensureLoaded() error {
	if c.loaded {
		return nil
	}

	rc, err := c.entry.Open(c.opts)
	if err != nil {
		return newIOErr("decode", err)
	}
	defer rc.Close()

	buf, err := io.ReadAll(rc)
	if err != nil {
		return newIOErr("decode", err)
	}

	xattrs := c.entry.Xattrs()
	if xattrs == nil {
		xattrs = map[string][]byte{}
	}

	c.buf = buf
	c.xattrs = xattrs
	c.loaded = true
	return nil
}

// bytes returns the decoded buffer, decoding on first call.
func (c *entryCell) bytes() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	return c.buf, nil
}

// xattrMap returns the xattr mapping, decoding on first call.
func (c *entryCell) xattrMap() (map[string][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return nil, err
	}
	return c.xattrs, nil
}

// withMutableBytes ensures the cell is Loaded and hands the buffer to fn
// for in-place mutation, replacing the stored slice with whatever fn
// returns.
func (c *entryCell) withMutableBytes(fn func(buf []byte) []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureLoaded(); err != nil {
		return err
	}
	c.buf = fn(c.buf)
	return nil
}

// rawSizeHint returns the cell's length without forcing a decode when
// already Loaded; callers that need the length before load must call
// bytes() instead, forcing the engine to eagerly decode to learn it.
func (c *entryCell) rawSizeHint() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return 0, false
	}
	return len(c.buf), true
}

func cloneBytes(b []byte) []byte {
	return bytes.Clone(b)
}
