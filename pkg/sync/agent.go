package sync

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mbme/baza/pkg/baza"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/ids"
)

// Agent is one remote instance the sync engine can talk to: fetch its
// Ping summary, pull a changeset, and fetch an individual blob. The
// same Engine drives an Agent over either an in-process store (tests)
// or the network.
type Agent interface {
	// PeerID identifies the agent for logging and PeerError reporting.
	PeerID() string
	Ping(ctx context.Context) (Ping, error)
	PullChangeset(ctx context.Context, req ChangesetRequest) (Changeset, error)
	FetchBlob(ctx context.Context, id ids.BLOBId) (io.ReadCloser, error)
}

// InMemoryAgent wraps a local *baza.Baza directly, with no network
// involved: used by tests that exercise the sync engine's ordering and
// conflict-detection logic without a listening HTTP server, and by a
// single process that happens to hold two stores open at once.
type InMemoryAgent struct {
	id    string
	store *baza.Baza
}

// NewInMemoryAgent wraps store, identified to the engine as id (normally
// store.InstanceId(), but overridable so tests can label peers clearly).
func NewInMemoryAgent(id string, store *baza.Baza) *InMemoryAgent {
	return &InMemoryAgent{id: id, store: store}
}

func (a *InMemoryAgent) PeerID() string { return a.id }

func (a *InMemoryAgent) Ping(ctx context.Context) (Ping, error) {
	return Ping{
		InstanceId:  a.store.InstanceId(),
		DataVersion: a.store.DataVersion(),
		Rev:         a.store.StoreRevision(),
	}, nil
}

func (a *InMemoryAgent) PullChangeset(ctx context.Context, req ChangesetRequest) (Changeset, error) {
	docs, err := a.store.PullChangeset(req.BaseRev)
	if err != nil {
		return Changeset{}, err
	}
	return Changeset{DataVersion: a.store.DataVersion(), Documents: docs}, nil
}

func (a *InMemoryAgent) FetchBlob(ctx context.Context, id ids.BLOBId) (io.ReadCloser, error) {
	r, err := a.store.GetBlob(id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}

// NetworkAgent talks to a remote instance over the wire protocol: HTTPS
// with a self-signed per-instance certificate and an HMAC AuthToken
// proving both sides hold the same pairing secret.
type NetworkAgent struct {
	peerID  string
	baseURL string
	authKey crypto.SecretBytes
	client  *http.Client
}

// NewNetworkAgent builds a client for the peer reachable at baseURL
// (e.g. "https://192.168.1.14:4242"), authenticating with authKey and
// trusting only the peer's pinned certificate from a prior discovery or
// pairing step.
func NewNetworkAgent(peerID, baseURL string, authKey crypto.SecretBytes, trustedCert *tls.Certificate) *NetworkAgent {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			//nolint:gosec // chain trust is replaced by pinned-cert + HMAC verification below
			InsecureSkipVerify: true,
		},
	}
	if trustedCert != nil {
		transport.TLSClientConfig.VerifyPeerCertificate = verifyAgainstPinned(trustedCert)
	}

	return &NetworkAgent{
		peerID:  peerID,
		baseURL: baseURL,
		authKey: authKey,
		client:  &http.Client{Transport: transport},
	}
}

func (a *NetworkAgent) PeerID() string { return a.peerID }

func (a *NetworkAgent) Ping(ctx context.Context) (Ping, error) {
	var out Ping
	if err := a.doJSON(ctx, http.MethodGet, "/ping", nil, &out); err != nil {
		return Ping{}, fmt.Errorf("sync: ping %s: %w", a.peerID, err)
	}
	return out, nil
}

func (a *NetworkAgent) PullChangeset(ctx context.Context, req ChangesetRequest) (Changeset, error) {
	var out Changeset
	if err := a.doJSON(ctx, http.MethodPost, "/changeset", req, &out); err != nil {
		return Changeset{}, fmt.Errorf("sync: pull changeset from %s: %w", a.peerID, err)
	}
	return out, nil
}

func (a *NetworkAgent) FetchBlob(ctx context.Context, id ids.BLOBId) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/blobs/"+string(id), nil)
	if err != nil {
		return nil, err
	}
	a.signRequest(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sync: fetch blob %s from %s: %w", id, a.peerID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("sync: fetch blob %s from %s: status %d", id, a.peerID, resp.StatusCode)
	}

	if err := verifyResponseAuth(resp, a.authKey); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp.Body, nil
}

func (a *NetworkAgent) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	a.signRequest(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(raw))
	}

	if err := verifyResponseAuth(resp, a.authKey); err != nil {
		return err
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *NetworkAgent) signRequest(req *http.Request) {
	token, err := crypto.GenerateAuthToken(a.authKey)
	if err != nil {
		return
	}
	req.Header.Set(authHeader, token.Serialize())
}

func verifyResponseAuth(resp *http.Response, key crypto.SecretBytes) error {
	raw := resp.Header.Get(authHeader)
	if raw == "" {
		return fmt.Errorf("sync: peer response missing %s header", authHeader)
	}
	token, err := crypto.ParseAuthToken(raw)
	if err != nil {
		return fmt.Errorf("sync: malformed peer auth token: %w", err)
	}
	return token.Verify(key)
}

// authHeader carries the serialised AuthToken on every request and
// response, proving both sides hold the pairing's shared secret.
const authHeader = "X-Baza-Auth"

// blobIDHeader echoes the content address on blob responses; the
// receiver re-hashes the body and compares against it regardless, so the
// header is diagnostic, not load-bearing.
const blobIDHeader = "X-Baza-Blob-Id"
