// Package container implements baza's encrypted container file format: a
// small plaintext header followed by one AEAD-encrypted body holding an
// ordered index of entry names and their concatenated, length-prefixed
// bytes. Containers are never edited in place — PatchAndSave is the only
// mutation primitive, and it always writes a new file and renames it
// over the old one.
package container

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/mbme/baza/pkg/bazaerr"
	"github.com/mbme/baza/pkg/crypto"
)

// magic identifies a baza container file; formatVersion is bumped
// whenever the on-disk layout changes incompatibly.
var magic = [4]byte{'B', 'A', 'Z', 'A'}

const formatVersion = 1

// MaxSupportedVersion is the highest format version this build
// understands; Open refuses anything newer with ErrUnsupportedVersion.
const MaxSupportedVersion = formatVersion

// Index is the ordered list of entry names held by a container, in the
// order they should be presented back to callers.
type Index struct {
	names []string
}

// Names returns the entry names in container order.
func (idx *Index) Names() []string {
	out := make([]string, len(idx.names))
	copy(out, idx.names)
	return out
}

// Contains reports whether name is present in the index.
func (idx *Index) Contains(name string) bool {
	for _, n := range idx.names {
		if n == name {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.names)
}

// Reader gives random access to a container's decrypted entries, keyed
// by name. The whole body is decrypted up front: containers are wholly
// loaded documents, not paged files.
type Reader struct {
	index   *Index
	entries map[string][]byte
}

// Index returns the container's entry index.
func (r *Reader) Index() *Index {
	return r.index
}

// Get returns an io.Reader over the named entry's bytes.
func (r *Reader) Get(name string) (io.Reader, error) {
	body, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("container: %w: entry %q", bazaerr.ErrNotFound, name)
	}
	return bytes.NewReader(body), nil
}

// GetBytes returns the named entry's full content.
func (r *Reader) GetBytes(name string) ([]byte, error) {
	body, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("container: %w: entry %q", bazaerr.ErrNotFound, name)
	}
	return body, nil
}

// writeHeader writes the plaintext header: magic, format version, salt
// length, salt bytes.
func writeHeader(w io.Writer, salt string) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{formatVersion}); err != nil {
		return err
	}
	if len(salt) > 255 {
		return fmt.Errorf("container: salt too long (%d bytes)", len(salt))
	}
	if _, err := w.Write([]byte{byte(len(salt))}); err != nil {
		return err
	}
	if _, err := w.Write([]byte(salt)); err != nil {
		return err
	}
	return nil
}

// readHeader reads and validates the plaintext header, returning the
// stored salt.
func readHeader(r io.Reader) (salt string, err error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return "", fmt.Errorf("container: %w: truncated header", bazaerr.ErrIntegrityFailure)
	}
	if gotMagic != magic {
		return "", fmt.Errorf("container: %w: bad magic", bazaerr.ErrIntegrityFailure)
	}

	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return "", fmt.Errorf("container: %w: truncated header", bazaerr.ErrIntegrityFailure)
	}
	if version[0] > MaxSupportedVersion {
		return "", fmt.Errorf("container: %w: format version %d", bazaerr.ErrUnsupportedVersion, version[0])
	}

	var saltLen [1]byte
	if _, err := io.ReadFull(r, saltLen[:]); err != nil {
		return "", fmt.Errorf("container: %w: truncated header", bazaerr.ErrIntegrityFailure)
	}

	saltBytes := make([]byte, saltLen[0])
	if _, err := io.ReadFull(r, saltBytes); err != nil {
		return "", fmt.Errorf("container: %w: truncated header", bazaerr.ErrIntegrityFailure)
	}

	return string(saltBytes), nil
}

// writeBody writes the index followed by every entry in index order into
// w, which should be the plaintext side of an AEAD StreamWriter.
func writeBody(w io.Writer, names []string, entries map[string][]byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		nameBytes := []byte(name)
		if err := binary.Write(w, binary.BigEndian, uint16(len(nameBytes))); err != nil {
			return err
		}
		if _, err := w.Write(nameBytes); err != nil {
			return err
		}
	}

	for _, name := range names {
		body := entries[name]
		if err := binary.Write(w, binary.BigEndian, uint64(len(body))); err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
	}

	return nil
}

// readBody parses the index and every entry from r, the plaintext side
// of an AEAD StreamReader.
func readBody(r io.Reader) (*Index, map[string][]byte, error) {
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, nil, fmt.Errorf("container: %w: truncated index", bazaerr.ErrIntegrityFailure)
	}

	names := make([]string, count)
	for i := range names {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, nil, fmt.Errorf("container: %w: truncated index", bazaerr.ErrIntegrityFailure)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, nil, fmt.Errorf("container: %w: truncated index", bazaerr.ErrIntegrityFailure)
		}
		names[i] = string(nameBytes)
	}

	entries := make(map[string][]byte, count)
	for _, name := range names {
		var bodyLen uint64
		if err := binary.Read(r, binary.BigEndian, &bodyLen); err != nil {
			return nil, nil, fmt.Errorf("container: %w: truncated entry %q", bazaerr.ErrIntegrityFailure, name)
		}
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, nil, fmt.Errorf("container: %w: truncated entry %q", bazaerr.ErrIntegrityFailure, name)
		}
		entries[name] = body
	}

	return &Index{names: names}, entries, nil
}

// IsGzipName reports whether a container file name carries the ".gz"
// marker that signals gzip-before-encrypt, per the on-disk layout
// convention (storage shards; state files never carry it).
func IsGzipName(path string) bool {
	return strings.Contains(filepath.Base(path), ".gz")
}

// Create writes a brand-new container at path with the given entries, in
// the supplied name order. key is the subkey for this container's
// contents (derived by the caller via crypto.DeriveSubkey); salt is
// stored in the header so a reader can recompute the same subkey from
// the store's root key. When path's name carries ".gz", the cleartext
// body is gzip-compressed before being handed to the AEAD stream.
func Create(path string, key crypto.SecretBytes, salt string, names []string, entries map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buffered := bufio.NewWriter(f)

	if err := writeHeader(buffered, salt); err != nil {
		return err
	}

	sw, err := crypto.NewStreamWriter(buffered, key, rand.Reader)
	if err != nil {
		return err
	}

	var bodyWriter io.Writer = sw
	var gz *gzip.Writer
	if IsGzipName(path) {
		gz = gzip.NewWriter(sw)
		bodyWriter = gz
	}

	if err := writeBody(bodyWriter, names, entries); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	if err := sw.Close(); err != nil {
		return err
	}

	return buffered.Flush()
}

// Open decrypts the container at path and returns its index and a
// random-access reader over its entries.
func Open(path string, key crypto.SecretBytes) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buffered := bufio.NewReader(f)

	if _, err := readHeader(buffered); err != nil {
		return nil, err
	}

	sr, err := crypto.NewStreamReader(buffered, key)
	if err != nil {
		return nil, err
	}

	var bodyReader io.Reader = sr
	if IsGzipName(path) {
		gz, err := gzip.NewReader(sr)
		if err != nil {
			return nil, fmt.Errorf("container: %w: bad gzip body: %v", bazaerr.ErrIntegrityFailure, err)
		}
		defer gz.Close()
		bodyReader = gz
	}

	index, entries, err := readBody(bodyReader)
	if err != nil {
		return nil, err
	}

	return &Reader{index: index, entries: entries}, nil
}

// ReadSalt reads only the plaintext header of the container at path and
// returns its stored salt, without needing the container's key. Used at
// store-open time to recompute the root key's subkeys before any
// container can be decrypted.
func ReadSalt(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return readHeader(bufio.NewReader(f))
}
