package stark

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMessageTooLarge  = errors.New("message hash exceeds 251 bits")
	ErrInvalidSignature = errors.New("invalid stark signature")
)

// Signature is a Stark ECDSA signature.
type Signature struct {
	R, S *big.Int
}

// Hex serializes the signature as 0x || r (32 bytes) || s (32 bytes).
func (s Signature) Hex() string {
	return fmt.Sprintf("0x%064x%064x", s.R, s.S)
}

// ParseSignature reverses Signature.Hex.
func ParseSignature(raw string) (Signature, error) {
	raw = strings.TrimPrefix(raw, "0x")
	if len(raw) != 128 {
		return Signature{}, errors.Wrapf(ErrInvalidSignature, "length %d", len(raw))
	}
	r, ok := new(big.Int).SetString(raw[:64], 16)
	if !ok {
		return Signature{}, errors.Wrap(ErrInvalidSignature, "r")
	}
	s, ok := new(big.Int).SetString(raw[64:], 16)
	if !ok {
		return Signature{}, errors.Wrap(ErrInvalidSignature, "s")
	}
	return Signature{R: r, S: s}, nil
}

// ParseMessageHash parses a 0x-prefixed hex payload hash, which must be below 2^251.
func ParseMessageHash(hexHash string) (*big.Int, error) {
	h := strings.TrimPrefix(strings.TrimPrefix(hexHash, "0x"), "0X")
	if h == "" {
		return nil, errors.Errorf("empty message hash")
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return nil, errors.Errorf("invalid message hash %q", hexHash)
	}
	if v.Cmp(maxElement) >= 0 {
		return nil, ErrMessageTooLarge
	}
	return v, nil
}

// Sign produces a deterministic signature over msgHash.
func (k *PrivateKey) Sign(msgHash *big.Int) (Signature, error) {
	if msgHash.Sign() < 0 || msgHash.Cmp(maxElement) >= 0 {
		return Signature{}, ErrMessageTooLarge
	}

	for counter := uint32(0); ; counter++ {
		nonce := deterministicNonce(k.D, msgHash, counter)

		r := G.Mul(nonce).X
		if r == nil || r.Sign() == 0 || r.Cmp(maxElement) >= 0 {
			continue
		}

		// s = (msg + r*d) / k mod N
		sum := new(big.Int).Mul(r, k.D)
		sum.Add(sum, msgHash)
		sum.Mod(sum, N)
		if sum.Sign() == 0 {
			continue
		}
		w := divMod(nonce, sum, N)
		if w.Sign() == 0 || w.Cmp(maxElement) >= 0 {
			continue
		}
		s := new(big.Int).ModInverse(w, N)
		return Signature{R: new(big.Int).Set(r), S: s}, nil
	}
}

// Verify checks sig over msgHash against the public x coordinate. Either y coordinate is accepted.
func Verify(publicX *big.Int, msgHash *big.Int, sig Signature) error {
	if sig.R == nil || sig.S == nil {
		return ErrInvalidSignature
	}
	if sig.R.Sign() <= 0 || sig.R.Cmp(maxElement) >= 0 {
		return errors.Wrap(ErrInvalidSignature, "r out of range")
	}
	if sig.S.Sign() <= 0 || sig.S.Cmp(N) >= 0 {
		return errors.Wrap(ErrInvalidSignature, "s out of range")
	}
	if msgHash.Sign() < 0 || msgHash.Cmp(maxElement) >= 0 {
		return ErrMessageTooLarge
	}

	pub, err := pointFromX(publicX)
	if err != nil {
		return err
	}

	w := new(big.Int).ModInverse(sig.S, N)
	if w == nil || w.Cmp(maxElement) >= 0 {
		return errors.Wrap(ErrInvalidSignature, "w out of range")
	}

	u1 := new(big.Int).Mul(msgHash, w)
	u1.Mod(u1, N)
	u2 := new(big.Int).Mul(sig.R, w)
	u2.Mod(u2, N)

	base := G.Mul(u1)
	for _, q := range []Point{pub, pub.Neg()} {
		candidate := base.Add(q.Mul(u2))
		if !candidate.IsInfinity() && candidate.X.Cmp(sig.R) == 0 {
			return nil
		}
	}
	return ErrInvalidSignature
}

// pointFromX recovers a curve point with the given x coordinate.
func pointFromX(x *big.Int) (Point, error) {
	if x == nil || x.Sign() <= 0 || x.Cmp(P) >= 0 {
		return Point{}, errors.New("public key out of range")
	}
	rhs := new(big.Int).Exp(x, big.NewInt(3), P)
	rhs.Add(rhs, new(big.Int).Mul(alpha, x))
	rhs.Add(rhs, beta)
	rhs.Mod(rhs, P)

	y := new(big.Int).ModSqrt(rhs, P)
	if y == nil {
		return Point{}, errors.New("public key is not on the curve")
	}
	return Point{X: new(big.Int).Set(x), Y: y}, nil
}

func deterministicNonce(d, msgHash *big.Int, counter uint32) *big.Int {
	mac := hmac.New(sha256.New, padded(d))
	mac.Write(padded(msgHash))
	mac.Write([]byte{byte(counter >> 24), byte(counter >> 16), byte(counter >> 8), byte(counter)})
	k := new(big.Int).SetBytes(mac.Sum(nil))
	k.Mod(k, N)
	if k.Sign() == 0 {
		k.SetInt64(1)
	}
	return k
}

func padded(v *big.Int) []byte {
	out := make([]byte, 32)
	return v.FillBytes(out)
}
