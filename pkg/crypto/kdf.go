package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

// MinPasswordLength and MinSaltLength are the minimum accepted inputs
// to DeriveRootKey.
const (
	MinPasswordLength = 8
	MinSaltLength     = 8
)

// Argon2id tuning. These are fixed rather than configurable: a store's
// salt and format version are already persisted in its state header, so
// changing these would need a new format version, not a runtime knob.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // KiB, i.e. 64 MiB
	argon2Threads = 4
	rootKeyLength = 32
)

// DeriveRootKey derives the root key for a store from its password and
// salt using Argon2id. The root key is never used to encrypt anything
// directly; every file kind derives its own subkey from it via
// DeriveSubkey.
func DeriveRootKey(password []byte, salt string) (SecretBytes, error) {
	if len(password) < MinPasswordLength {
		return SecretBytes{}, fmt.Errorf("crypto: password must be at least %d bytes", MinPasswordLength)
	}
	if len(salt) < MinSaltLength {
		return SecretBytes{}, fmt.Errorf("crypto: salt must be at least %d bytes", MinSaltLength)
	}

	key := argon2.IDKey(password, []byte(salt), argon2Time, argon2Memory, argon2Threads, rootKeyLength)

	return NewSecretBytes(key), nil
}

// DeriveSubkey derives a file-kind-specific key from root using HKDF, so
// that the state file, the storage file, and every blob each get an
// independent key that cannot be used to recover root or any sibling
// subkey. context should be a stable string such as "state", "storage",
// or "blob:"+blobID.
func DeriveSubkey(root SecretBytes, context string) (SecretBytes, error) {
	reader := hkdf.New(sha256.New, root.Bytes(), nil, []byte(context))

	subkey := make([]byte, rootKeyLength)
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return SecretBytes{}, fmt.Errorf("crypto: deriving subkey for %q: %w", context, err)
	}

	return NewSecretBytes(subkey), nil
}
