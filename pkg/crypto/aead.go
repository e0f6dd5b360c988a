package crypto

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/mbme/baza/pkg/bazaerr"
)

// ChunkSize is the plaintext size of every chunk but the last in a
// streamed AEAD body. Chunking lets containers and blobs be
// encrypted/decrypted without loading the whole file into memory.
const ChunkSize = 64 * 1024

// nonceSize is fixed by XChaCha20-Poly1305: a 24-byte random nonce per
// chunk, safe to generate independently for every chunk without a
// counter.
const nonceSize = chacha20poly1305.NonceSizeX

// StreamWriter encrypts a byte stream into a sequence of independently
// authenticated chunks, each length-prefixed and preceded by its own
// random nonce. A final zero-length chunk marks end of stream.
type StreamWriter struct {
	aead cipher.AEAD
	w    io.Writer
	rng  io.Reader
}

// NewStreamWriter wraps w so that every Write call encrypts and flushes
// one chunk immediately; callers must call Close to emit the terminal
// empty chunk.
func NewStreamWriter(w io.Writer, key SecretBytes, rng io.Reader) (*StreamWriter, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: %w: %v", bazaerr.ErrCryptoInvalid, err)
	}

	return &StreamWriter{aead: aead, w: w, rng: rng}, nil
}

// Write encrypts p as a sequence of at-most-ChunkSize plaintext chunks
// and writes them to the underlying writer.
func (sw *StreamWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > ChunkSize {
			n = ChunkSize
		}

		if err := sw.writeChunk(p[:n]); err != nil {
			return total, err
		}

		total += n
		p = p[n:]
	}
	return total, nil
}

// Close writes the terminal empty chunk that signals end of stream to
// the reader. It does not close the underlying writer.
func (sw *StreamWriter) Close() error {
	return sw.writeChunk(nil)
}

func (sw *StreamWriter) writeChunk(plaintext []byte) error {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(sw.rng, nonce); err != nil {
		return fmt.Errorf("crypto: generating chunk nonce: %w", err)
	}

	ciphertext := sw.aead.Seal(nil, nonce, plaintext, nil)

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(ciphertext)))

	if _, err := sw.w.Write(header); err != nil {
		return err
	}
	if _, err := sw.w.Write(nonce); err != nil {
		return err
	}
	if _, err := sw.w.Write(ciphertext); err != nil {
		return err
	}

	return nil
}

// StreamReader decrypts a stream produced by StreamWriter.
type StreamReader struct {
	aead cipher.AEAD
	r    io.Reader
	buf  []byte
	eof  bool
}

// NewStreamReader wraps r for chunk-at-a-time decryption.
func NewStreamReader(r io.Reader, key SecretBytes) (*StreamReader, error) {
	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: %w: %v", bazaerr.ErrCryptoInvalid, err)
	}

	return &StreamReader{aead: aead, r: r}, nil
}

// Read implements io.Reader, pulling and decrypting chunks as needed.
func (sr *StreamReader) Read(p []byte) (int, error) {
	if len(sr.buf) == 0 {
		if sr.eof {
			return 0, io.EOF
		}

		chunk, err := sr.readChunk()
		if err != nil {
			return 0, err
		}
		if len(chunk) == 0 {
			sr.eof = true
			return 0, io.EOF
		}
		sr.buf = chunk
	}

	n := copy(p, sr.buf)
	sr.buf = sr.buf[n:]
	return n, nil
}

func (sr *StreamReader) readChunk() ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(sr.r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("crypto: %w: stream truncated before terminal chunk", bazaerr.ErrIntegrityFailure)
		}
		return nil, err
	}
	size := binary.BigEndian.Uint32(header)

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(sr.r, nonce); err != nil {
		return nil, fmt.Errorf("crypto: %w: %v", bazaerr.ErrIntegrityFailure, err)
	}

	ciphertext := make([]byte, size)
	if _, err := io.ReadFull(sr.r, ciphertext); err != nil {
		return nil, fmt.Errorf("crypto: %w: %v", bazaerr.ErrIntegrityFailure, err)
	}

	plaintext, err := sr.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w: chunk authentication failed", bazaerr.ErrCryptoInvalid)
	}

	return plaintext, nil
}
