// Package ids defines the small opaque identifier types shared across
// baza's documents, instances, and content-addressed blobs. They live in
// their own leaf package so that pkg/revision and pkg/document can both
// depend on them without depending on each other.
package ids

import (
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// randomIDLength is how many characters of the base32-encoded random
// payload a generated Id or InstanceId keeps.
const randomIDLength = 14

// crockfordAlphabet is Crockford's base32 alphabet: unambiguous, no
// padding, lowercase for readability in file names and log lines.
const crockfordAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

var crockfordEncoding = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

// generateRandomID returns a short opaque random string suitable for use
// as a document id or instance id: 16 random bytes from uuid.New(),
// re-encoded in Crockford base32 and truncated to randomIDLength chars.
func generateRandomID() string {
	raw := uuid.New()
	encoded := crockfordEncoding.EncodeToString(raw[:])
	if len(encoded) > randomIDLength {
		encoded = encoded[:randomIDLength]
	}
	return encoded
}

// Id identifies a single document, stable across every revision of it.
type Id string

// NewId generates a fresh random document id.
func NewId() Id {
	return Id(generateRandomID())
}

func (id Id) String() string { return string(id) }

// InstanceId identifies one device/process that writes to a baza store.
// It appears as a key in every Revision and is stamped into the state
// file when a store is first created.
type InstanceId string

// NewInstanceId generates a fresh random instance id.
func NewInstanceId() InstanceId {
	return InstanceId(generateRandomID())
}

func (id InstanceId) String() string { return string(id) }

const blobPrefix = "sha256-"

// sha256RawLength is the base64url-without-padding length of a raw
// SHA-256 digest: ceil(32*8/6) = 43, but we keep the trailing padding-free
// form produced by base64.URLEncoding.WithPadding(base64.NoPadding),
// which is 43 characters; blobIDLength accounts for the prefix.
const blobIDLength = len(blobPrefix) + 43

// BLOBId is the content address of a blob: "sha256-" followed by the
// URL-safe base64 (no padding) encoding of the blob's SHA-256 digest.
type BLOBId string

// NewBLOBId builds the canonical BLOBId for a raw SHA-256 digest.
func NewBLOBId(sha256Digest []byte) BLOBId {
	return BLOBId(blobPrefix + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sha256Digest))
}

// ParseBLOBId validates and wraps a previously-serialised blob id, e.g.
// one read back from a container index or received from a peer.
func ParseBLOBId(value string) (BLOBId, error) {
	if err := ValidateBLOBId(value); err != nil {
		return "", err
	}
	return BLOBId(value), nil
}

// ValidateBLOBId reports whether value has the shape of a BLOBId: the
// right prefix, the right length, and a plausible base64url body. It does
// not verify the digest matches any content.
func ValidateBLOBId(value string) error {
	if !strings.HasPrefix(value, blobPrefix) {
		return fmt.Errorf("ids: blob id must start with %q", blobPrefix)
	}

	if len(value) != blobIDLength {
		return fmt.Errorf("ids: blob id must be %d chars long, got %d", blobIDLength, len(value))
	}

	hash := value[len(blobPrefix):]
	for _, c := range hash {
		valid := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
		if !valid {
			return fmt.Errorf("ids: blob id hash segment is not valid base64url")
		}
	}

	return nil
}

func (id BLOBId) String() string { return string(id) }

// RandomLockKey generates an opaque key granting exclusive access to a
// document lock, handed to the caller that created the lock and required
// on every subsequent write while it is held.
func RandomLockKey() string {
	return generateRandomID()
}
