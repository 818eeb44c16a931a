// Package pnafmt is the one concrete archive codec shipped with this
// module: a zip-based container (stdlib archive/zip handles the directory
// index and per-file compression) with an optional per-file password layer
// built on golang.org/x/crypto (pbkdf2 key derivation, chacha20poly1305
// authenticated encryption). It implements the interfaces declared in
// internal/archive; the engine never imports this package directly except
// through that interface, matching the codec boundary the engine depends
// on as an external collaborator.
//
// This reference codec does not group entries into solid blocks: every
// entry is Normal. internal/archive.SolidBlock exists for codecs that do;
// see DESIGN.md.
package pnafmt

import (
	"archive/zip"
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-pna/pnafs/internal/archive"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const indexName = "pnafs.index.json"

const (
	pbkdf2Iterations = 200_000
	saltSize         = 16
)

// indexRecord is the on-disk metadata for one entry, stored as a single
// JSON array alongside the payload members in the zip container.
type indexRecord struct {
	Path        string            `json:"path"`
	Kind        archive.Kind      `json:"kind"`
	Modified    *time.Time        `json:"modified,omitempty"`
	Created     *time.Time        `json:"created,omitempty"`
	RawSize     *uint64           `json:"raw_size,omitempty"`
	Mode        uint32            `json:"mode,omitempty"`
	UserName    string            `json:"user_name,omitempty"`
	UID         uint32            `json:"uid,omitempty"`
	GroupName   string            `json:"group_name,omitempty"`
	GID         uint32            `json:"gid,omitempty"`
	HasPerm     bool              `json:"has_perm,omitempty"`
	Xattrs      map[string][]byte `json:"xattrs,omitempty"`
	Encrypted   bool              `json:"encrypted,omitempty"`
	Salt        []byte            `json:"salt,omitempty"`
	Nonce       []byte            `json:"nonce,omitempty"`
	ZipName     string            `json:"zip_name"`
}

func (r *indexRecord) metadata() archive.Metadata {
	m := archive.Metadata{Modified: r.Modified, Created: r.Created, RawSize: r.RawSize}
	if r.HasPerm {
		m.Permission = &archive.Permission{
			Mode: r.Mode, UserName: r.UserName, UID: r.UID,
			GroupName: r.GroupName, GID: r.GID,
		}
	}
	return m
}

// Reader implements archive.Reader over an opened zip container.
type Reader struct {
	zr      *zip.ReadCloser
	records []indexRecord
}

// Open reads the container at path and prepares it for population. No
// password is needed here: the index is always stored in the clear, and
// each encrypted member is decrypted with the password passed to its
// Entry.Open in ReadOptions.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("pnafmt: open %s: %w", path, err)
	}

	var idx []indexRecord
	f, err := zr.Open(indexName)
	if err != nil {
		zr.Close()
		return nil, fmt.Errorf("pnafmt: missing index: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&idx); err != nil {
		zr.Close()
		return nil, fmt.Errorf("pnafmt: decode index: %w", err)
	}

	return &Reader{zr: zr, records: idx}, nil
}

func (r *Reader) Items() archive.ItemIterator {
	return &itemIterator{r: r, i: 0}
}

func (r *Reader) Close() error {
	return r.zr.Close()
}

type itemIterator struct {
	r *Reader
	i int
}

func (it *itemIterator) Next() (archive.Item, error) {
	if it.i >= len(it.r.records) {
		return nil, io.EOF
	}
	rec := it.r.records[it.i]
	it.i++
	return &normalItem{r: it.r, rec: rec}, nil
}

// normalItem is always-Normal: pnafmt does not produce solid blocks.
type normalItem struct {
	r   *Reader
	rec indexRecord
}

func (n *normalItem) AsNormal() (archive.Entry, bool) { return &zipEntry{r: n.r, rec: n.rec}, true }
func (n *normalItem) AsSolid() (archive.SolidBlock, bool) { return nil, false }

type zipEntry struct {
	r   *Reader
	rec indexRecord
}

func (e *zipEntry) Header() archive.Header {
	return archive.Header{Path: e.rec.Path, Kind: e.rec.Kind}
}

func (e *zipEntry) Metadata() archive.Metadata { return e.rec.metadata() }

func (e *zipEntry) Xattrs() map[string][]byte { return e.rec.Xattrs }

func (e *zipEntry) Open(opts archive.ReadOptions) (io.ReadCloser, error) {
	f, err := e.r.zr.Open(e.rec.ZipName)
	if err != nil {
		return nil, fmt.Errorf("pnafmt: open member %s: %w", e.rec.ZipName, err)
	}
	raw, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("pnafmt: read member %s: %w", e.rec.ZipName, err)
	}

	if !e.rec.Encrypted {
		return io.NopCloser(bytes.NewReader(raw)), nil
	}
	plain, err := decrypt(raw, opts.Password, e.rec.Salt, e.rec.Nonce)
	if err != nil {
		return nil, fmt.Errorf("pnafmt: decrypt %s: %w", e.rec.Path, err)
	}
	return io.NopCloser(bytes.NewReader(plain)), nil
}

// Writer implements archive.Writer, producing a fresh zip container plus
// its JSON index.
type Writer struct {
	f       *os.File
	zw      *zip.Writer
	records []indexRecord
	seq     int
}

// Create opens dst for writing a brand new archive, truncating any
// existing content (the engine's save-back path always writes a full
// fresh container).
func Create(dst string) (*Writer, error) {
	f, err := os.Create(dst)
	if err != nil {
		return nil, fmt.Errorf("pnafmt: create %s: %w", dst, err)
	}
	return &Writer{f: f, zw: zip.NewWriter(f)}, nil
}

func (w *Writer) WriteFile(path string, meta archive.Metadata, opts archive.WriteOptions, body io.Reader) error {
	zipName := fmt.Sprintf("member-%d", w.seq)
	w.seq++

	plain, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("pnafmt: read body for %s: %w", path, err)
	}

	rec := indexRecord{
		Path:     path,
		Kind:     archive.KindFile,
		Modified: meta.Modified,
		Created:  meta.Created,
		RawSize:  meta.RawSize,
		ZipName:  zipName,
	}
	if meta.Permission != nil {
		rec.HasPerm = true
		rec.Mode = meta.Permission.Mode
		rec.UserName = meta.Permission.UserName
		rec.UID = meta.Permission.UID
		rec.GroupName = meta.Permission.GroupName
		rec.GID = meta.Permission.GID
	}

	payload := plain
	if opts.Password != "" {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("pnafmt: generate salt: %w", err)
		}
		ciphertext, nonce, err := encrypt(plain, opts.Password, salt)
		if err != nil {
			return fmt.Errorf("pnafmt: encrypt %s: %w", path, err)
		}
		rec.Encrypted = true
		rec.Salt = salt
		rec.Nonce = nonce
		payload = ciphertext
	}

	zf, err := w.zw.Create(zipName)
	if err != nil {
		return fmt.Errorf("pnafmt: create member for %s: %w", path, err)
	}
	if _, err := zf.Write(payload); err != nil {
		return fmt.Errorf("pnafmt: write member for %s: %w", path, err)
	}

	w.records = append(w.records, rec)
	return nil
}

func (w *Writer) Finalize() error {
	idxWriter, err := w.zw.Create(indexName)
	if err != nil {
		return fmt.Errorf("pnafmt: create index: %w", err)
	}
	if err := json.NewEncoder(idxWriter).Encode(w.records); err != nil {
		return fmt.Errorf("pnafmt: write index: %w", err)
	}
	return w.zw.Close()
}

func (w *Writer) Close() error {
	return w.f.Close()
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, chacha20poly1305.KeySize, sha3.New256)
}

func encrypt(plain []byte, password string, salt []byte) (ciphertext, nonce []byte, err error) {
	key := deriveKey(password, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, nonce, plain, nil), nonce, nil
}

func decrypt(ciphertext []byte, password string, salt, nonce []byte) ([]byte, error) {
	if len(salt) == 0 || len(nonce) == 0 {
		return nil, errors.New("pnafmt: missing salt/nonce for encrypted member")
	}
	key := deriveKey(password, salt)
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}
