package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// certValidity is long enough that a personal store's instance cert
// never needs an online rotation path; each peer is its own root, so
// there is no CA to coordinate renewal with.
const certValidity = 10 * 365 * 24 * time.Hour

// SelfSignedCertificate is a self-signed leaf certificate identifying
// one baza instance for peer-to-peer TLS, paired with its private key.
type SelfSignedCertificate struct {
	PrivateKeyDER  SecretBytes
	CertificateDER []byte
}

// NewSelfSignedCertificate generates a fresh ECDSA P-256 keypair and a
// self-signed certificate with commonName as its stable CN, the value
// peers compare against to recognise this instance across TLS sessions.
func NewSelfSignedCertificate(commonName string) (SelfSignedCertificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("crypto: generating cert key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("crypto: generating cert serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("crypto: self-signing cert: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return SelfSignedCertificate{}, fmt.Errorf("crypto: marshalling cert key: %w", err)
	}

	return SelfSignedCertificate{
		PrivateKeyDER:  NewSecretBytes(keyDER),
		CertificateDER: certDER,
	}, nil
}

// ToPEM renders the certificate and private key as a combined PEM
// document, suitable for writing to disk under the instance's state
// directory.
func (c SelfSignedCertificate) ToPEM() []byte {
	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: c.PrivateKeyDER.Bytes()})...)
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.CertificateDER})...)
	return out
}

// FromPEM parses the format produced by ToPEM.
func FromPEM(data []byte) (SelfSignedCertificate, error) {
	var cert SelfSignedCertificate

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}

		switch block.Type {
		case "EC PRIVATE KEY":
			cert.PrivateKeyDER = NewSecretBytes(block.Bytes)
		case "CERTIFICATE":
			cert.CertificateDER = block.Bytes
		}
	}

	if cert.PrivateKeyDER.Len() == 0 || len(cert.CertificateDER) == 0 {
		return SelfSignedCertificate{}, fmt.Errorf("crypto: PEM document missing private key or certificate")
	}

	return cert, nil
}

// TLSCertificate adapts c into the form crypto/tls expects for a server
// or client certificate.
func (c SelfSignedCertificate) TLSCertificate() (tls.Certificate, error) {
	key, err := x509.ParseECPrivateKey(c.PrivateKeyDER.Bytes())
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("crypto: parsing cert key: %w", err)
	}

	leaf, err := x509.ParseCertificate(c.CertificateDER)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("crypto: parsing cert: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{c.CertificateDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}
