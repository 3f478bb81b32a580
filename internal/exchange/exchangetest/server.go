// Package exchangetest provides an in-process exchange API for tests.
package exchangetest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"imxmint/internal/ethauth"
	"imxmint/internal/exchange"
	"imxmint/internal/stark"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const registrationMessage = "Only sign this key linking request from Immutable X"

// Server emulates the registration and mint endpoints. It verifies every signature
// the real API would and keeps a ledger of minted token ids per contract.
type Server struct {
	// RegisterTxHash is returned by /v1/users for first-time registrations.
	RegisterTxHash string
	// MintStatus, when non-zero, makes /v2/mints fail with that status.
	MintStatus int

	mu         sync.Mutex
	registered map[string]string
	minted     map[string]map[string]string
	mints      [][]exchange.WireMint
	calls      map[string]int
	nextTxID   int64

	httpServer *httptest.Server
}

func NewServer() *Server {
	s := &Server{
		registered: make(map[string]string),
		minted:     make(map[string]map[string]string),
		calls:      make(map[string]int),
		nextTxID:   1,
	}

	verifier := &ethauth.Verifier{MaxSkew: time.Minute}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/signable-registration", s.handleSignableRegistration)
	mux.HandleFunc("/v1/users", s.handleRegisterUser)
	mux.HandleFunc("/v2/mints", s.handleMints)

	s.httpServer = httptest.NewServer(verifier.Middleware(s.count(mux)))
	return s
}

func (s *Server) URL() string {
	return s.httpServer.URL
}

func (s *Server) Close() {
	s.httpServer.Close()
}

// Calls reports how many requests hit path.
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Mints returns every accepted mint body in arrival order.
func (s *Server) Mints() [][]exchange.WireMint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]exchange.WireMint, len(s.mints))
	copy(out, s.mints)
	return out
}

// Owner returns the recipient of a minted token, or "" if it was never minted.
func (s *Server) Owner(contract, tokenID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minted[strings.ToLower(contract)][tokenID]
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type signableRegistrationRequest struct {
	EtherKey string `json:"ether_key"`
	StarkKey string `json:"stark_key"`
}

func (s *Server) handleSignableRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload signableRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.EtherKey == "" || payload.StarkKey == "" {
		http.Error(w, "ether_key and stark_key are required", http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, exchange.SignableRegistrationResponse{
		SignableMessage: registrationMessage,
		PayloadHash:     registrationHash(payload.EtherKey, payload.StarkKey),
	})
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload exchange.RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if err := validateRegistration(payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	etherKey := strings.ToLower(payload.EtherKey)

	s.mu.Lock()
	_, already := s.registered[etherKey]
	s.registered[etherKey] = payload.StarkKey
	txHash := s.RegisterTxHash
	s.mu.Unlock()

	if already {
		txHash = ""
	}
	writeJSON(w, http.StatusOK, exchange.RegisterResponse{TxHash: txHash})
}

func (s *Server) handleMints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.MintStatus != 0 {
		http.Error(w, "mint rejected", s.MintStatus)
		return
	}

	var payload []exchange.WireMint
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	minter := strings.ToLower(r.Header.Get(ethauth.HeaderAddress))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.registered[minter]; !ok {
		http.Error(w, "minter is not registered", http.StatusForbidden)
		return
	}
	for _, m := range payload {
		if err := verifyMintSignature(m, minter); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if err := s.checkUnminted(m); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
	}

	var results []exchange.MintResult
	for _, m := range payload {
		contract := strings.ToLower(m.ContractAddress)
		if s.minted[contract] == nil {
			s.minted[contract] = make(map[string]string)
		}
		for _, u := range m.Users {
			for _, t := range u.Tokens {
				s.minted[contract][t.ID] = u.User
				results = append(results, exchange.MintResult{
					ContractAddress: m.ContractAddress,
					TokenID:         t.ID,
					TxID:            s.nextTxID,
				})
				s.nextTxID++
			}
		}
	}
	s.mints = append(s.mints, payload)

	writeJSON(w, http.StatusOK, exchange.MintResponse{Results: results})
}

// checkUnminted must be called with s.mu held.
func (s *Server) checkUnminted(m exchange.WireMint) error {
	seen := make(map[string]bool)
	ledger := s.minted[strings.ToLower(m.ContractAddress)]
	for _, u := range m.Users {
		for _, t := range u.Tokens {
			if t.Blueprint == "" {
				return errors.Errorf("token %s: blueprint is required", t.ID)
			}
			if seen[t.ID] || ledger[t.ID] != "" {
				return errors.Errorf("token %s already minted", t.ID)
			}
			seen[t.ID] = true
		}
	}
	return nil
}

func validateRegistration(req exchange.RegisterUserRequest) error {
	if req.EtherKey == "" || req.StarkKey == "" {
		return errors.New("ether_key and stark_key are required")
	}

	ethSig, err := hexutil.Decode(req.EthSignature)
	if err != nil {
		return errors.New("invalid eth_signature")
	}
	signer, err := ethauth.RecoverPersonal([]byte(registrationMessage), ethSig)
	if err != nil || !strings.EqualFold(signer.Hex(), req.EtherKey) {
		return errors.New("eth_signature does not match ether_key")
	}

	starkSig, err := stark.ParseSignature(req.StarkSignature)
	if err != nil {
		return err
	}
	msg, err := stark.ParseMessageHash(registrationHash(req.EtherKey, req.StarkKey))
	if err != nil {
		return err
	}
	pub, ok := new(big.Int).SetString(strings.TrimPrefix(req.StarkKey, "0x"), 16)
	if !ok {
		return errors.New("invalid stark_key")
	}
	if err := stark.Verify(pub, msg, starkSig); err != nil {
		return err
	}
	return nil
}

func verifyMintSignature(m exchange.WireMint, minter string) error {
	sig, err := hexutil.Decode(m.AuthSignature)
	if err != nil {
		return errors.New("invalid auth_signature")
	}
	msg, err := exchange.MintAuthMessage(m.SignableMint)
	if err != nil {
		return err
	}
	signer, err := ethauth.RecoverPersonal(msg, sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer.Hex(), minter) {
		return errors.New("auth_signature does not match minter")
	}
	return nil
}

// registrationHash derives a deterministic 250-bit payload hash for a key pair.
func registrationHash(etherKey, starkKey string) string {
	sum := crypto.Keccak256([]byte(strings.ToLower(etherKey)), []byte(strings.ToLower(starkKey)))
	v := new(big.Int).SetBytes(sum)
	v.Rsh(v, 6)
	return fmt.Sprintf("0x%x", v)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
