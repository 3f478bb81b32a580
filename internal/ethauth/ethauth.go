// Package ethauth signs exchange requests with the wallet key and verifies those signatures.
package ethauth

import (
	"crypto/ecdsa"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const (
	HeaderAddress   = "x-imx-eth-address"
	HeaderSignature = "x-imx-eth-signature"
	HeaderTimestamp = "x-imx-eth-timestamp"
)

var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrMissingTimestamp = errors.New("missing request timestamp")
	ErrStaleTimestamp   = errors.New("stale request timestamp")
	ErrInvalidSignature = errors.New("invalid request signature")
)

// SignRaw returns the EIP-191 personal_sign signature of msg as r || s || v.
// The exchange expects v as the bare recovery id (0 or 1), not 27/28.
func SignRaw(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(msg), key)
	if err != nil {
		return nil, errors.Wrap(err, "sign message")
	}
	return sig, nil
}

// RecoverPersonal returns the address that produced sig over msg. Both 0/1 and 27/28 recovery bytes are accepted.
func RecoverPersonal(msg, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errors.Wrapf(ErrInvalidSignature, "length %d", len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return common.Address{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Transport adds wallet signature headers to every outgoing request.
type Transport struct {
	Base http.RoundTripper
	Key  *ecdsa.PrivateKey
	Now  func() time.Time
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	now := time.Now()
	if t.Now != nil {
		now = t.Now()
	}
	ts := strconv.FormatInt(now.Unix(), 10)

	sig, err := SignRaw(t.Key, []byte(ts))
	if err != nil {
		return nil, err
	}

	signed := req.Clone(req.Context())
	signed.Header.Set(HeaderAddress, strings.ToLower(crypto.PubkeyToAddress(t.Key.PublicKey).Hex()))
	signed.Header.Set(HeaderTimestamp, ts)
	signed.Header.Set(HeaderSignature, hexutil.Encode(sig))

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(signed)
}

// Verifier rejects requests whose signature headers are missing, stale, or not signed by the claimed address.
type Verifier struct {
	MaxSkew time.Duration
	Now     func() time.Time
}

func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := v.Verify(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Verify checks the signature headers on r.
func (v *Verifier) Verify(r *http.Request) error {
	sigHeader := r.Header.Get(HeaderSignature)
	if sigHeader == "" {
		return ErrMissingSignature
	}
	tsHeader := r.Header.Get(HeaderTimestamp)
	if tsHeader == "" {
		return ErrMissingTimestamp
	}
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return ErrMissingTimestamp
	}

	now := time.Now()
	if v.Now != nil {
		now = v.Now()
	}
	reqTime := time.Unix(ts, 0)
	if now.Sub(reqTime) > v.MaxSkew || reqTime.Sub(now) > v.MaxSkew {
		return ErrStaleTimestamp
	}

	sig, err := hexutil.Decode(sigHeader)
	if err != nil {
		return ErrInvalidSignature
	}
	signer, err := RecoverPersonal([]byte(tsHeader), sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(signer.Hex(), r.Header.Get(HeaderAddress)) {
		return ErrInvalidSignature
	}
	return nil
}
