package mint

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"imxmint/internal/chain"
	"imxmint/internal/config"
	"imxmint/internal/exchange"
	"imxmint/internal/metrics"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var ErrTransactionRejected = errors.New("Transaction rejected")

// Exchange is the exchange session the runner drives.
type Exchange interface {
	Address() string
	StarkPublicKey() string
	RegisterSigner(ctx context.Context, req exchange.RegisterRequest) (exchange.RegisterResponse, error)
	MintV2(ctx context.Context, reqs []exchange.MintRequest) (exchange.MintResponse, error)
}

// Waiter blocks until a transaction is mined.
type Waiter interface {
	WaitMined(ctx context.Context, txHash string) (*types.Receipt, error)
}

// Deps is built once per process and handed to the runner.
type Deps struct {
	Log      *zap.Logger
	Exchange Exchange
	Chain    Waiter
	Metrics  *metrics.Recorder
	Network  string
	Now      func() time.Time
}

type Runner struct {
	cfg  config.MintConfig
	deps Deps
}

func NewRunner(cfg config.MintConfig, deps Deps) *Runner {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run registers the signer, waits for any registration transaction, then submits one off-chain mint.
func (r *Runner) Run(ctx context.Context, args Args) (resp exchange.MintResponse, err error) {
	defer func() {
		r.deps.Metrics.MarkRun(err == nil, r.deps.Now())
	}()

	if err := args.Validate(r.cfg.MaxMint); err != nil {
		return exchange.MintResponse{}, err
	}
	log := r.deps.Log
	log.Debug("base token id", zap.Uint64("tokenId", r.cfg.BaseTokenID))

	if err := r.register(ctx); err != nil {
		return exchange.MintResponse{}, err
	}

	log.Info(fmt.Sprintf("OFF-CHAIN MINT %d NFTS", args.Number))

	groups, err := BuildGroups(args.Wallet, args.Number, r.cfg.BaseTokenID, r.cfg.Groups)
	if err != nil {
		return exchange.MintResponse{}, err
	}
	payload := BuildPayload(r.cfg.TokenAddress, groups)

	raw, err := json.Marshal(payload)
	if err != nil {
		return exchange.MintResponse{}, errors.Wrap(err, "encode payload")
	}
	log.Info("mint payload", zap.String("payload", string(raw)))

	resp, err = r.deps.Exchange.MintV2(ctx, payload)
	if err != nil {
		r.deps.Metrics.IncSubmission("failed")
		return exchange.MintResponse{}, err
	}
	r.deps.Metrics.IncSubmission("submitted")
	r.deps.Metrics.AddTokens(CountTokens(payload))

	log.Info("mint submitted", zap.Any("result", resp))
	return resp, nil
}

func (r *Runner) register(ctx context.Context) error {
	log := r.deps.Log
	log.Info("MINTER REGISTRATION")

	result, err := r.deps.Exchange.RegisterSigner(ctx, exchange.RegisterRequest{
		EtherKey:       strings.ToLower(r.deps.Exchange.Address()),
		StarkPublicKey: r.deps.Exchange.StarkPublicKey(),
	})
	if err != nil {
		r.deps.Metrics.IncRegistration("failed")
		return err
	}

	if result.TxHash == "" {
		r.deps.Metrics.IncRegistration("registered")
		log.Info("Minter registered, continuing...")
		return nil
	}

	log.Info("Waiting for minter registration...")
	receipt, err := r.waitForTransaction(ctx, result.TxHash)
	if err != nil {
		if errors.Is(err, ErrTransactionRejected) {
			r.deps.Metrics.IncRegistration("rejected")
		} else {
			r.deps.Metrics.IncRegistration("failed")
		}
		return err
	}
	r.deps.Metrics.IncRegistration("confirmed")
	log.Info(fmt.Sprintf("Transaction Mined: %d", receipt.BlockNumber))
	return nil
}

func (r *Runner) waitForTransaction(ctx context.Context, txHash string) (*types.Receipt, error) {
	etherscan, alchemy := chain.ExplorerLinks(r.deps.Network, txHash)
	r.deps.Log.Info("Waiting for transaction",
		zap.String("txId", txHash),
		zap.String("etherscanLink", etherscan),
		zap.String("alchemyLink", alchemy),
	)

	receipt, err := r.deps.Chain.WaitMined(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, errors.Wrapf(ErrTransactionRejected, "tx %s", txHash)
	}
	return receipt, nil
}
