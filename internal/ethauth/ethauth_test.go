package ethauth

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const testKeyHex = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestSignRawRecover(t *testing.T) {
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	msg := []byte("hello exchange")
	sig, err := SignRaw(key, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if v := sig[crypto.RecoveryIDOffset]; v != 0 && v != 1 {
		t.Fatalf("expected 0/1 recovery byte, got %d", v)
	}

	addr, err := RecoverPersonal(msg, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if addr != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("recovered %s", addr.Hex())
	}

	legacy := append([]byte(nil), sig...)
	legacy[crypto.RecoveryIDOffset] += 27
	if addr, err := RecoverPersonal(msg, legacy); err != nil || addr != crypto.PubkeyToAddress(key.PublicKey) {
		t.Fatalf("expected 27/28 signature to recover the same signer, got %s %v", addr.Hex(), err)
	}

	if _, err := RecoverPersonal(msg, sig[:10]); err == nil {
		t.Fatalf("expected error for short signature")
	}
}

// The exchange recovers signers from the personal_sign of the 0x-prefixed hex text.
func TestSignRawHexTextVector(t *testing.T) {
	key, _ := crypto.HexToECDSA(testKeyHex)
	msg := []byte("0xc1fff30472b889fbd2406a9570b9dcf48aabb8419cc881873fb7e31d09f0ed37")

	sig, err := SignRaw(key, msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	want := "0x25773f94774ffff1d2f2ae818e13ef999992f2673973bec36e773ff0e8b4033b" +
		"2aaa5be166f652e16f104234b7d18c2cecbce23f71f2d6801ee95d4d6a08fa3b01"
	if got := hexutil.Encode(sig); got != want {
		t.Fatalf("signature mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestTransportSignsRequests(t *testing.T) {
	key, _ := crypto.HexToECDSA(testKeyHex)
	now := time.Unix(1_700_000_000, 0)

	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	called := false
	srv := httptest.NewServer(v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})))
	defer srv.Close()

	client := &http.Client{Transport: &Transport{Key: key, Now: func() time.Time { return now }}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !called {
		t.Fatalf("expected signed request to pass, got %d", resp.StatusCode)
	}
}

func TestVerifierRejectsStaleTimestamp(t *testing.T) {
	key, _ := crypto.HexToECDSA(testKeyHex)
	signedAt := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(signedAt.Unix(), 10)
	sig, _ := SignRaw(key, []byte(ts))

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set(HeaderAddress, strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex()))
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))

	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return signedAt.Add(5 * time.Minute) }}
	if err := v.Verify(req); err != ErrStaleTimestamp {
		t.Fatalf("expected stale timestamp, got %v", err)
	}
}

func TestVerifierRejectsWrongAddress(t *testing.T) {
	key, _ := crypto.HexToECDSA(testKeyHex)
	now := time.Unix(1_700_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig, _ := SignRaw(key, []byte(ts))

	req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
	req.Header.Set(HeaderAddress, "0x966355f6d0603c9cd347cf73bb17444559824fa5")
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, hexutil.Encode(sig))

	rec := httptest.NewRecorder()
	v := &Verifier{MaxSkew: time.Minute, Now: func() time.Time { return now }}
	v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestVerifierMissingHeaders(t *testing.T) {
	v := &Verifier{MaxSkew: time.Minute}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := v.Verify(req); err != ErrMissingSignature {
		t.Fatalf("expected missing signature, got %v", err)
	}
	req.Header.Set(HeaderSignature, "0xdead")
	if err := v.Verify(req); err != ErrMissingTimestamp {
		t.Fatalf("expected missing timestamp, got %v", err)
	}
}
