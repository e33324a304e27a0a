// server.go - HTTP surface of the settlement pool.
//
// All binary fields cross the wire hex-encoded; proofs travel as the
// hex of their CBOR encoding. Sentinel errors from the pool map onto
// stable HTTP statuses so callers can branch without parsing messages.

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"shieldedpool/internal/merkle"
	"shieldedpool/internal/nullifier"
	"shieldedpool/internal/pool"
	"shieldedpool/internal/verifier"
	"shieldedpool/internal/vkregistry"
)

// Server serves the pool's HTTP API.
type Server struct {
	pool *pool.Pool
	log  zerolog.Logger
	http *http.Server
}

// NewServer wires the handler mux for a pool.
func NewServer(addr string, p *pool.Pool, log zerolog.Logger) *Server {
	s := &Server{pool: p, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/deposit", s.handleDeposit)
	mux.HandleFunc("POST /v1/settle", s.handleSettle)
	mux.HandleFunc("POST /v1/keys", s.handleRegisterKey)
	mux.HandleFunc("POST /v1/keys/deactivate", s.handleDeactivateKey)
	mux.HandleFunc("POST /v1/pause", s.handlePause)
	mux.HandleFunc("POST /v1/unpause", s.handleUnpause)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/settled/{nullifier}", s.handleSettled)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error { return s.http.ListenAndServe() }

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error { return s.http.Shutdown(ctx) }

type depositRequest struct {
	Commitment string `json:"commitment"`
	Amount     uint64 `json:"amount"`
}

type depositResponse struct {
	LeafIndex uint64 `json:"leaf_index"`
	NewRoot   string `json:"new_root"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	commitment, err := parseHash(req.Commitment)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	ev, err := s.pool.Deposit(commitment, req.Amount)
	if err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, depositResponse{
		LeafIndex: ev.LeafIndex,
		NewRoot:   hex.EncodeToString(ev.NewRoot[:]),
	})
}

type settleRequest struct {
	Caller  string   `json:"caller"`
	Proof   string   `json:"proof"`
	Signals []string `json:"signals"`
}

type settleResponse struct {
	Nullifier string `json:"nullifier"`
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseIdentity(req.Caller)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	proofBytes, err := hex.DecodeString(req.Proof)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	proof, err := verifier.ParseProof(proofBytes)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	signals := make([]merkle.Hash, len(req.Signals))
	for i, sig := range req.Signals {
		if signals[i], err = parseHash(sig); err != nil {
			s.fail(w, http.StatusBadRequest, err)
			return
		}
	}

	ev, err := s.pool.WithdrawWithProof(caller, proof, signals)
	if err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, settleResponse{
		Nullifier: hex.EncodeToString(ev.Nullifier[:]),
		Recipient: hex.EncodeToString(ev.Recipient[:]),
		Amount:    ev.Amount,
	})
}

type registerKeyRequest struct {
	Caller  string `json:"caller"`
	Circuit string `json:"circuit"`
	Version string `json:"version"`
	Key     string `json:"key"`
}

func (s *Server) handleRegisterKey(w http.ResponseWriter, r *http.Request) {
	var req registerKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseIdentity(req.Caller)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	keyBytes, err := hex.DecodeString(req.Key)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	entry, err := s.pool.Keys().Register([32]byte(caller), req.Circuit, req.Version, keyBytes)
	if err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, map[string]string{
		"circuit":  entry.CircuitName,
		"version":  entry.Version,
		"key_hash": hex.EncodeToString(entry.KeyHash[:]),
	})
}

type deactivateKeyRequest struct {
	Caller  string `json:"caller"`
	Circuit string `json:"circuit"`
	Version string `json:"version"`
}

func (s *Server) handleDeactivateKey(w http.ResponseWriter, r *http.Request) {
	var req deactivateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseIdentity(req.Caller)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pool.Keys().Deactivate([32]byte(caller), req.Circuit, req.Version); err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, map[string]bool{"deactivated": true})
}

type pauseRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.setPaused(w, r, false)
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	caller, err := parseIdentity(req.Caller)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if paused {
		err = s.pool.Pause(caller)
	} else {
		err = s.pool.Unpause(caller)
	}
	if err != nil {
		s.failMapped(w, err)
		return
	}
	s.reply(w, map[string]bool{"paused": paused})
}

type statusResponse struct {
	Balance             uint64 `json:"balance"`
	TotalDeposited      uint64 `json:"total_deposited"`
	TotalWithdrawn      uint64 `json:"total_withdrawn"`
	TotalVerifiedAmount uint64 `json:"total_verified_amount"`
	NullifierCount      int    `json:"nullifier_count"`
	LeafCount           uint64 `json:"leaf_count"`
	Root                string `json:"root"`
	Paused              bool   `json:"paused"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.pool.Stats()
	s.reply(w, statusResponse{
		Balance:             st.Balance,
		TotalDeposited:      st.TotalDeposited,
		TotalWithdrawn:      st.TotalWithdrawn,
		TotalVerifiedAmount: st.TotalVerifiedAmount,
		NullifierCount:      st.NullifierCount,
		LeafCount:           st.LeafCount,
		Root:                hex.EncodeToString(st.Root[:]),
		Paused:              st.Paused,
	})
}

func (s *Server) handleSettled(w http.ResponseWriter, r *http.Request) {
	n, err := parseHash(r.PathValue("nullifier"))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.reply(w, map[string]bool{"settled": s.pool.IsSettled(n)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.reply(w, map[string]string{"status": "ok"})
}

func (s *Server) reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// failMapped translates pool sentinels into HTTP statuses.
func (s *Server) failMapped(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrUnauthorized),
		errors.Is(err, pool.ErrUnauthorizedWithdrawal),
		errors.Is(err, vkregistry.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, pool.ErrVerifierPaused):
		code = http.StatusServiceUnavailable
	case errors.Is(err, nullifier.ErrDoubleSpend),
		errors.Is(err, vkregistry.ErrKeyExists):
		code = http.StatusConflict
	case errors.Is(err, pool.ErrInvalidAmount),
		errors.Is(err, pool.ErrInvalidMerkleRoot),
		errors.Is(err, pool.ErrInsufficientFunds),
		errors.Is(err, merkle.ErrTreeFull),
		errors.Is(err, nullifier.ErrRegistryFull),
		errors.Is(err, verifier.ErrInvalidProof),
		errors.Is(err, verifier.ErrInvalidPublicInputCount),
		errors.Is(err, verifier.ErrInvalidPublicSignal),
		errors.Is(err, verifier.ErrInvalidVerificationKey),
		errors.Is(err, vkregistry.ErrCircuitNameTooLong),
		errors.Is(err, vkregistry.ErrVersionTooLong),
		errors.Is(err, vkregistry.ErrBadVersion),
		errors.Is(err, vkregistry.ErrEmptyVerificationKey),
		errors.Is(err, vkregistry.ErrVerificationKeyTooLarge):
		code = http.StatusBadRequest
	case errors.Is(err, vkregistry.ErrKeyNotFound),
		errors.Is(err, vkregistry.ErrKeyDeactivated):
		code = http.StatusNotFound
	}
	s.fail(w, code, err)
}

func parseHash(s string) (merkle.Hash, error) {
	var h merkle.Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errors.New("value must be 32 bytes of hex")
	}
	copy(h[:], b)
	return h, nil
}

func parseIdentity(s string) (pool.Identity, error) {
	h, err := parseHash(s)
	return pool.Identity(h), err
}
