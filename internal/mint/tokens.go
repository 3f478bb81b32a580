package mint

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"imxmint/internal/config"
	"imxmint/internal/exchange"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var (
	ErrTooMany    = errors.New("tried to mint too many tokens")
	ErrIDOverflow = errors.New("token ids overflow uint64")
)

// TooManyError rejects a run that reaches the per-run maximum. It matches ErrTooMany.
type TooManyError struct {
	Max int
}

func (e *TooManyError) Error() string {
	return fmt.Sprintf("%s. Maximum %d", ErrTooMany, e.Max)
}

func (e *TooManyError) Unwrap() error {
	return ErrTooMany
}

// Args are the command-line inputs of a run.
type Args struct {
	Wallet string
	Number int
}

// Validate enforces the per-run maximum. It makes no network calls.
func (a Args) Validate(maxMint int) error {
	if a.Number >= maxMint {
		return errors.WithStack(&TooManyError{Max: maxMint})
	}
	if a.Number <= 0 {
		return errors.Errorf("number must be positive, got %d", a.Number)
	}
	if !common.IsHexAddress(a.Wallet) {
		return errors.Errorf("invalid wallet address %q", a.Wallet)
	}
	return nil
}

// BuildTokens returns count tokens with consecutive ids starting at start.
func BuildTokens(start uint64, count int) []exchange.Token {
	tokens := make([]exchange.Token, 0, count)
	for i := 0; i < count; i++ {
		tokens = append(tokens, exchange.Token{
			ID:        strconv.FormatUint(start+uint64(i), 10),
			Blueprint: exchange.Blueprint,
		})
	}
	return tokens
}

// BuildGroups lays out the CLI wallet's tokens followed by each configured group.
// Ids come from a single cursor starting at base, so no two groups overlap.
func BuildGroups(wallet string, number int, base uint64, specs []config.GroupSpec) ([]exchange.RecipientGroup, error) {
	groups := make([]exchange.RecipientGroup, 0, len(specs)+1)
	cursor := base

	add := func(address string, count int) error {
		if uint64(count) > math.MaxUint64-cursor {
			return errors.Wrapf(ErrIDOverflow, "%d tokens from id %d", count, cursor)
		}
		groups = append(groups, exchange.RecipientGroup{
			EtherKey: strings.ToLower(address),
			Tokens:   BuildTokens(cursor, count),
		})
		cursor += uint64(count)
		return nil
	}

	if err := add(wallet, number); err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if err := add(spec.Address, spec.Count); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// BuildPayload wraps the groups in the single-element envelope the mint endpoint expects.
func BuildPayload(contractAddress string, groups []exchange.RecipientGroup) []exchange.MintRequest {
	return []exchange.MintRequest{{
		ContractAddress: contractAddress,
		Users:           groups,
	}}
}

// CountTokens sums the tokens across every request in a payload.
func CountTokens(payload []exchange.MintRequest) int {
	n := 0
	for _, req := range payload {
		for _, g := range req.Users {
			n += len(g.Tokens)
		}
	}
	return n
}
