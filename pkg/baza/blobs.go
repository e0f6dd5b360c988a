package baza

import (
	"fmt"
	"io"

	"github.com/mbme/baza/pkg/events"
	"github.com/mbme/baza/pkg/ids"
)

// AddBlob hashes and installs r as a new staged blob, returning its
// content address. The blob only becomes reachable from a committed
// document once a document referencing it is staged and committed.
func (b *Baza) AddBlob(r io.Reader) (ids.BLOBId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return "", err
	}

	id, err := b.blobs.AddBlob(r)
	if err != nil {
		return "", fmt.Errorf("baza: adding blob: %w", err)
	}

	b.events.Publish(&events.Event{
		Type:    events.EventBlobStaged,
		Message: fmt.Sprintf("staged blob %s", id),
		Metadata: map[string]string{
			"blob_id": string(id),
		},
	})

	return id, nil
}

// GetBlob opens id for reading, whether still staged or already
// committed.
func (b *Baza) GetBlob(id ids.BLOBId) (io.Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	return b.blobs.GetBlob(id)
}

// ListBlobs returns every blob id known locally, staged or committed.
func (b *Baza) ListBlobs() ([]ids.BLOBId, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	return b.blobs.ListBlobs()
}

// VerifyBlobIntegrity re-hashes a blob's decrypted content and confirms
// it still matches id.
func (b *Baza) VerifyBlobIntegrity(id ids.BLOBId) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkOpen(); err != nil {
		return err
	}

	return b.blobs.VerifyIntegrity(id)
}
