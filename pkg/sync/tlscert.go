package sync

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// verifyAgainstPinned builds a tls.Config.VerifyPeerCertificate callback
// that accepts only a connection presenting exactly the certificate bytes
// pinned at pairing time. Baza has no cluster and therefore no
// certificate authority to establish chain-of-trust with, unlike a
// multi-node deployment: each instance self-signs its own certificate
// (crypto.NewSelfSignedCertificate) and a peer that has paired with it
// once pins that certificate instead of verifying a chain.
func verifyAgainstPinned(pinned *tls.Certificate) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	pinnedDER := pinned.Certificate[0]

	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		for _, raw := range rawCerts {
			if bytes.Equal(raw, pinnedDER) {
				return nil
			}
		}
		return fmt.Errorf("sync: peer certificate does not match pinned certificate")
	}
}
