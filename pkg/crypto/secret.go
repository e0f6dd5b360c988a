// Package crypto implements baza's cryptographic primitives: password
// key derivation, per-file subkey derivation, chunked AEAD streaming,
// content hashing, HMAC auth tokens, and self-signed instance
// certificates.
package crypto

// SecretBytes holds key material that must be scrubbed from memory once
// no longer needed. Go has no destructors, so callers must defer Wipe()
// explicitly wherever a SecretBytes is created or received.
type SecretBytes struct {
	b []byte
}

// NewSecretBytes takes ownership of b. Callers should not retain their
// own reference to b afterwards.
func NewSecretBytes(b []byte) SecretBytes {
	return SecretBytes{b: b}
}

// Bytes exposes the underlying key material. The returned slice aliases
// SecretBytes' storage; it becomes invalid after Wipe.
func (s SecretBytes) Bytes() []byte {
	return s.b
}

// Len reports the number of bytes held.
func (s SecretBytes) Len() int {
	return len(s.b)
}

// Clone returns an independent copy backed by its own storage.
func (s SecretBytes) Clone() SecretBytes {
	out := make([]byte, len(s.b))
	copy(out, s.b)
	return SecretBytes{b: out}
}

// Wipe overwrites the held bytes with zeroes. It is safe to call more
// than once; later calls are no-ops once the slice is empty.
func (s *SecretBytes) Wipe() {
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}
