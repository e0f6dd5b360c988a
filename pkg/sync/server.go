package sync

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/mbme/baza/pkg/baza"
	"github.com/mbme/baza/pkg/crypto"
	"github.com/mbme/baza/pkg/ids"
	"github.com/mbme/baza/pkg/log"
)

// Server exposes a *baza.Baza's sync-facing API over the wire protocol:
// GET /ping, POST /changeset, GET /blobs/<id>. Every request and response
// carries an HMAC AuthToken proving both sides hold the pairing secret,
// since baza has no certificate authority to establish trust instead.
type Server struct {
	store   *baza.Baza
	authKey crypto.SecretBytes
	cert    *tls.Certificate

	mu      sync.Mutex
	httpSrv *http.Server
	running bool
}

// NewServer builds a Server for store, authenticating peers with authKey
// and serving over cert.
func NewServer(store *baza.Baza, authKey crypto.SecretBytes, cert *tls.Certificate) *Server {
	return &Server{store: store, authKey: authKey, cert: cert}
}

// Start listens on addr (e.g. ":4242") until ctx is cancelled or Stop is
// called.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sync: server already running")
	}
	s.running = true

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.withAuth(s.handlePing))
	mux.HandleFunc("/changeset", s.withAuth(s.handleChangeset))
	mux.HandleFunc("/blobs/", s.withAuth(s.handleBlob))

	s.httpSrv = &http.Server{
		Addr:      addr,
		Handler:   mux,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{*s.cert}, MinVersion: tls.VersionTLS13},
	}
	s.mu.Unlock()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sync: listening on %s: %w", addr, err)
	}
	tlsListener := tls.NewListener(listener, s.httpSrv.TLSConfig)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(tlsListener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger := log.WithInstance(string(s.store.InstanceId()))
	logger.Info().Str("addr", addr).Msg("sync server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Stop()
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(context.Background())
}

// withAuth wraps h, rejecting any request missing a valid AuthToken and
// stamping a fresh one on the response so the client can verify this
// server too.
func (s *Server) withAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(authHeader)
		if raw == "" {
			http.Error(w, "missing auth token", http.StatusUnauthorized)
			return
		}
		token, err := crypto.ParseAuthToken(raw)
		if err != nil {
			http.Error(w, "malformed auth token", http.StatusUnauthorized)
			return
		}
		if err := token.Verify(s.authKey); err != nil {
			http.Error(w, "invalid auth token", http.StatusUnauthorized)
			return
		}

		reply, err := crypto.GenerateAuthToken(s.authKey)
		if err == nil {
			w.Header().Set(authHeader, reply.Serialize())
		}

		h(w, r)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	ping := Ping{
		InstanceId:  s.store.InstanceId(),
		DataVersion: s.store.DataVersion(),
		Rev:         s.store.StoreRevision(),
	}
	writeJSON(w, ping)
}

func (s *Server) handleChangeset(w http.ResponseWriter, r *http.Request) {
	var req ChangesetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	docs, err := s.store.PullChangeset(req.BaseRev)
	if err != nil {
		logger := log.WithInstance(string(s.store.InstanceId()))
		logger.Error().Err(err).Msg("pulling changeset for peer")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, Changeset{DataVersion: s.store.DataVersion(), Documents: docs})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/blobs/")

	blobID, err := ids.ParseBLOBId(idStr)
	if err != nil {
		http.Error(w, "bad blob id", http.StatusBadRequest)
		return
	}

	reader, err := s.store.GetBlob(blobID)
	if err != nil {
		http.Error(w, "blob not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set(blobIDHeader, string(blobID))
	if _, err := io.Copy(w, reader); err != nil {
		logger := log.WithInstance(string(s.store.InstanceId()))
		logger.Error().Err(err).Msg("streaming blob to peer")
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
