package crypto

import (
	"crypto/sha256"
	"io"

	"github.com/mbme/baza/pkg/ids"
)

// HashReader streams r, computing its SHA-256 digest and returning the
// canonical BLOBId for the content, without buffering it in memory.
func HashReader(r io.Reader) (ids.BLOBId, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}

	return ids.NewBLOBId(h.Sum(nil)), nil
}

// HashBytes returns the canonical BLOBId for content already in memory.
func HashBytes(content []byte) ids.BLOBId {
	sum := sha256.Sum256(content)
	return ids.NewBLOBId(sum[:])
}
