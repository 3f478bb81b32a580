package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"imxmint/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

const defaultPollInterval = 2 * time.Second

// ReceiptSource is the part of an RPC client the provider polls.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Provider waits for transactions on the configured network.
type Provider struct {
	source       ReceiptSource
	network      string
	pollInterval time.Duration
	timeout      time.Duration
	close        func()
}

// RPCURL resolves the JSON-RPC endpoint: an explicit URL wins over the Alchemy network/key pair.
func RPCURL(cfg config.ChainConfig) string {
	if cfg.RPCURL != "" {
		return cfg.RPCURL
	}
	return fmt.Sprintf("https://eth-%s.alchemyapi.io/v2/%s", cfg.Network, cfg.AlchemyAPIKey)
}

// Dial connects to the RPC endpoint described by cfg.
func Dial(ctx context.Context, cfg config.ChainConfig) (*Provider, error) {
	cli, err := ethclient.DialContext(ctx, RPCURL(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "dial rpc")
	}
	p := NewProvider(cli, cfg.Network, cfg.ConfirmTimeout)
	p.close = cli.Close
	return p, nil
}

// NewProvider wraps an existing receipt source. A zero timeout waits until ctx is done.
func NewProvider(source ReceiptSource, network string, timeout time.Duration) *Provider {
	return &Provider{
		source:       source,
		network:      network,
		pollInterval: defaultPollInterval,
		timeout:      timeout,
	}
}

// WithPollInterval overrides the receipt polling interval.
func (p *Provider) WithPollInterval(d time.Duration) *Provider {
	p.pollInterval = d
	return p
}

func (p *Provider) Network() string {
	return p.network
}

func (p *Provider) Close() {
	if p.close != nil {
		p.close()
	}
}

// WaitMined polls until txHash has a receipt or ctx is cancelled.
func (p *Provider) WaitMined(ctx context.Context, txHash string) (*types.Receipt, error) {
	if len(txHash) != 66 || !strings.HasPrefix(txHash, "0x") {
		return nil, errors.Errorf("invalid transaction hash %q", txHash)
	}
	hash := common.HexToHash(txHash)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.source.TransactionReceipt(ctx, hash)
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, errors.Wrap(err, "fetch receipt")
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "waiting for %s", txHash)
		case <-ticker.C:
		}
	}
}

// ExplorerLinks returns block-explorer and mempool URLs for txHash.
func ExplorerLinks(network, txHash string) (etherscan, alchemy string) {
	host := "etherscan.io"
	if network != "" && network != "mainnet" && network != "homestead" {
		host = network + ".etherscan.io"
	}
	etherscan = fmt.Sprintf("https://%s/tx/%s", host, txHash)
	alchemy = fmt.Sprintf("https://dashboard.alchemyapi.io/mempool/eth-%s/tx/%s", network, txHash)
	return etherscan, alchemy
}

// ParsePrivateKey accepts a hex key with or without the 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return key, nil
}
