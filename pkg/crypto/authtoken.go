package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mbme/baza/pkg/bazaerr"
)

// authTokenPlainTextLength is the random plaintext length of a
// generated auth token.
const authTokenPlainTextLength = 64

const authTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// AuthToken is a shared-secret proof presented by one peer to another: a
// random plaintext plus its HMAC tag under the pairing's shared key.
// Used both directions of a sync request so each side authenticates the
// other without a certificate authority.
type AuthToken struct {
	PlainText string
	Tag       []byte
}

// GenerateAuthToken creates a fresh token signed with key.
func GenerateAuthToken(key SecretBytes) (AuthToken, error) {
	plainText, err := randomAlphanumeric(authTokenPlainTextLength)
	if err != nil {
		return AuthToken{}, err
	}

	return AuthToken{
		PlainText: plainText,
		Tag:       signHMAC(key, plainText),
	}, nil
}

// Verify reports whether t was produced with key.
func (t AuthToken) Verify(key SecretBytes) error {
	expected := signHMAC(key, t.PlainText)
	if !hmac.Equal(expected, t.Tag) {
		return fmt.Errorf("crypto: %w: auth token signature mismatch", bazaerr.ErrCryptoInvalid)
	}
	return nil
}

// Serialize renders t as "plaintext-hex(tag)", the header value carried
// on sync requests and responses.
func (t AuthToken) Serialize() string {
	return fmt.Sprintf("%s-%s", t.PlainText, hex.EncodeToString(t.Tag))
}

// ParseAuthToken parses the format produced by Serialize.
func ParseAuthToken(value string) (AuthToken, error) {
	plainText, tagHex, ok := strings.Cut(value, "-")
	if !ok {
		return AuthToken{}, fmt.Errorf("crypto: malformed auth token")
	}

	tag, err := hex.DecodeString(tagHex)
	if err != nil {
		return AuthToken{}, fmt.Errorf("crypto: malformed auth token tag: %w", err)
	}

	return AuthToken{PlainText: plainText, Tag: tag}, nil
}

func signHMAC(key SecretBytes, msg string) []byte {
	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func randomAlphanumeric(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	out := make([]byte, n)
	for i, b := range raw {
		out[i] = authTokenAlphabet[int(b)%len(authTokenAlphabet)]
	}

	return string(out), nil
}
