package stark

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

const (
	// SignableMessage is signed with the wallet key to seed the session key derivation.
	SignableMessage = "Only sign this request if you’ve initiated an action with Immutable X."

	purpose     = 2645
	layer       = "starkex"
	application = "immutablex"
	accountIdx  = 1
)

var (
	mask31 = big.NewInt(1<<31 - 1)

	// sha256 digests are below 2^256; keys are accepted only below the largest multiple of N under that bound.
	grindLimit = func() *big.Int {
		maxDigest := new(big.Int).Lsh(big.NewInt(1), 256)
		return maxDigest.Sub(maxDigest, new(big.Int).Mod(maxDigest, N))
	}()
)

// PrivateKey is a Stark session key.
type PrivateKey struct {
	D      *big.Int
	Public Point
}

// NewPrivateKey wraps a scalar in [1, N) and computes its public point.
func NewPrivateKey(d *big.Int) (*PrivateKey, error) {
	if d.Sign() <= 0 || d.Cmp(N) >= 0 {
		return nil, errors.New("stark private key out of range")
	}
	return &PrivateKey{D: new(big.Int).Set(d), Public: G.Mul(d)}, nil
}

// PublicKeyHex returns the x coordinate of the public point, 0x-prefixed and zero padded.
func (k *PrivateKey) PublicKeyHex() string {
	return fmt.Sprintf("0x%064x", k.Public.X)
}

// AccountPath returns the hierarchical path used for the exchange session key of address.
func AccountPath(address common.Address) []uint32 {
	addr := new(big.Int).SetBytes(address.Bytes())
	low := new(big.Int).And(addr, mask31)
	high := new(big.Int).And(new(big.Int).Rsh(addr, 31), mask31)

	return []uint32{
		bip32.FirstHardenedChild + purpose,
		bip32.FirstHardenedChild + hashBits(layer),
		bip32.FirstHardenedChild + hashBits(application),
		bip32.FirstHardenedChild + uint32(low.Uint64()),
		bip32.FirstHardenedChild + uint32(high.Uint64()),
		accountIdx,
	}
}

func hashBits(s string) uint32 {
	sum := sha256.Sum256([]byte(s))
	v := new(big.Int).SetBytes(sum[:])
	return uint32(v.And(v, mask31).Uint64())
}

// KeyFromEthSignature derives the session key for address from the wallet's 65-byte
// signature of SignableMessage. Only the s component seeds the derivation.
func KeyFromEthSignature(signature []byte, address common.Address) (*PrivateKey, error) {
	if len(signature) != 65 {
		return nil, errors.Errorf("eth signature must be 65 bytes, got %d", len(signature))
	}
	master, err := bip32.NewMasterKey(signature[32:64])
	if err != nil {
		return nil, errors.Wrap(err, "master key")
	}

	key := master
	for _, idx := range AccountPath(address) {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, errors.Wrapf(err, "derive child %d", idx)
		}
	}

	return NewPrivateKey(GrindKey(common.LeftPadBytes(key.Key, 32)))
}

// GrindKey hashes seed with an increasing index until the digest is uniformly reducible mod N.
func GrindKey(seed []byte) *big.Int {
	for i := 0; ; i++ {
		digest := hashWithIndex(seed, i)
		if digest.Cmp(grindLimit) < 0 {
			return digest.Mod(digest, N)
		}
	}
}

func hashWithIndex(seed []byte, index int) *big.Int {
	idx := big.NewInt(int64(index)).Bytes()
	if len(idx) == 0 {
		idx = []byte{0}
	}
	buf := make([]byte, 0, len(seed)+len(idx))
	buf = append(buf, seed...)
	buf = append(buf, idx...)
	sum := sha256.Sum256(buf)
	return new(big.Int).SetBytes(sum[:])
}
