package mint

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"imxmint/internal/config"
	"imxmint/internal/exchange"
	"imxmint/internal/metrics"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const pendingTx = "0x8f0ba1f3a7d1a1c6c36e3d6b4ee5e06b4c4df1b1a9b3fb0b8a8a3c2cf3b4f0aa"

type fakeExchange struct {
	registerResp exchange.RegisterResponse
	registerErr  error
	mintErr      error

	registered []exchange.RegisterRequest
	minted     [][]exchange.MintRequest
}

func (f *fakeExchange) Address() string        { return "0x71562b71999873DB5b286dF957af199Ec94617F7" }
func (f *fakeExchange) StarkPublicKey() string { return "0x0759ca09377679ecd535a81e83039658bf40959283187c654c5416f439403cf5" }

func (f *fakeExchange) RegisterSigner(_ context.Context, req exchange.RegisterRequest) (exchange.RegisterResponse, error) {
	f.registered = append(f.registered, req)
	return f.registerResp, f.registerErr
}

func (f *fakeExchange) MintV2(_ context.Context, reqs []exchange.MintRequest) (exchange.MintResponse, error) {
	f.minted = append(f.minted, reqs)
	if f.mintErr != nil {
		return exchange.MintResponse{}, f.mintErr
	}
	return exchange.MintResponse{Results: []exchange.MintResult{{TokenID: reqs[0].Users[0].Tokens[0].ID, TxID: 1}}}, nil
}

type fakeWaiter struct {
	receipt *types.Receipt
	err     error
	waited  []string
}

func (f *fakeWaiter) WaitMined(_ context.Context, txHash string) (*types.Receipt, error) {
	f.waited = append(f.waited, txHash)
	return f.receipt, f.err
}

func testMintConfig() config.MintConfig {
	return config.MintConfig{
		TokenAddress: "0x2ca7e3fa937cae708c32bc2713c20740f3c4fc3b",
		BaseTokenID:  1000,
		MaxMint:      10,
		Groups:       config.DefaultGroups,
	}
}

func newTestRunner(ex *fakeExchange, w *fakeWaiter) (*Runner, *observer.ObservedLogs, *metrics.Recorder) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := metrics.NewRecorder()
	r := NewRunner(testMintConfig(), Deps{
		Log:      zap.New(core),
		Exchange: ex,
		Chain:    w,
		Metrics:  rec,
		Network:  "ropsten",
	})
	return r, logs, rec
}

func TestRunRegisteredSignerSkipsWait(t *testing.T) {
	ex := &fakeExchange{}
	w := &fakeWaiter{}
	r, logs, _ := newTestRunner(ex, w)

	if _, err := r.Run(context.Background(), Args{Wallet: testWallet, Number: 3}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(w.waited) != 0 {
		t.Fatalf("expected no wait for an empty tx hash, waited on %v", w.waited)
	}
	if len(ex.registered) != 1 || ex.registered[0].EtherKey != "0x71562b71999873db5b286df957af199ec94617f7" {
		t.Fatalf("unexpected registration %+v", ex.registered)
	}
	if logs.FilterMessage("Minter registered, continuing...").Len() != 1 {
		t.Fatalf("missing registered log line")
	}

	if len(ex.minted) != 1 {
		t.Fatalf("expected exactly one mint submission, got %d", len(ex.minted))
	}
	payload := ex.minted[0]
	if len(payload) != 1 || len(payload[0].Users) != 3 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	assertIDs(t, payload[0].Users[0].Tokens, "1000", "1001", "1002")
	assertIDs(t, payload[0].Users[1].Tokens, "1003", "1004")
	assertIDs(t, payload[0].Users[2].Tokens, "1005", "1006")

	entries := logs.FilterMessage("mint payload").All()
	if len(entries) != 1 || !strings.Contains(entries[0].ContextMap()["payload"].(string), `"blueprint":"onchain-metadata"`) {
		t.Fatalf("expected payload audit log, got %+v", entries)
	}
}

func TestRunWaitsForRegistration(t *testing.T) {
	ex := &fakeExchange{registerResp: exchange.RegisterResponse{TxHash: pendingTx}}
	w := &fakeWaiter{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(1234)}}
	r, logs, _ := newTestRunner(ex, w)

	if _, err := r.Run(context.Background(), Args{Wallet: testWallet, Number: 1}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(w.waited) != 1 || w.waited[0] != pendingTx {
		t.Fatalf("expected wait on %s, got %v", pendingTx, w.waited)
	}
	if logs.FilterMessage("Transaction Mined: 1234").Len() != 1 {
		t.Fatalf("missing mined log line")
	}
	waiting := logs.FilterMessage("Waiting for transaction").All()
	if len(waiting) != 1 || !strings.Contains(waiting[0].ContextMap()["etherscanLink"].(string), "ropsten.etherscan.io/tx/"+pendingTx) {
		t.Fatalf("missing explorer link, got %+v", waiting)
	}
	if len(ex.minted) != 1 {
		t.Fatalf("expected mint after confirmation")
	}
}

func TestRunRejectedRegistrationStopsBeforeMint(t *testing.T) {
	ex := &fakeExchange{registerResp: exchange.RegisterResponse{TxHash: pendingTx}}
	w := &fakeWaiter{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(1)}}
	r, logs, _ := newTestRunner(ex, w)

	_, err := r.Run(context.Background(), Args{Wallet: testWallet, Number: 3})
	if !errors.Is(err, ErrTransactionRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if len(ex.minted) != 0 {
		t.Fatalf("mint must not be submitted after a rejected registration")
	}
	if logs.FilterMessage("OFF-CHAIN MINT 3 NFTS").Len() != 0 {
		t.Fatalf("token construction must not start after a rejected registration")
	}
}

func TestRunTooManyMakesNoCalls(t *testing.T) {
	ex := &fakeExchange{}
	w := &fakeWaiter{}
	r, _, _ := newTestRunner(ex, w)

	for _, n := range []int{10, 11, 1000} {
		_, err := r.Run(context.Background(), Args{Wallet: testWallet, Number: n})
		if !errors.Is(err, ErrTooMany) {
			t.Fatalf("number %d: expected ErrTooMany, got %v", n, err)
		}
	}
	if len(ex.registered) != 0 || len(ex.minted) != 0 || len(w.waited) != 0 {
		t.Fatalf("expected no remote calls")
	}
}

func TestRunPropagatesRemoteErrors(t *testing.T) {
	boom := errors.New("exchange unavailable")

	ex := &fakeExchange{registerErr: boom}
	r, _, _ := newTestRunner(ex, &fakeWaiter{})
	if _, err := r.Run(context.Background(), Args{Wallet: testWallet, Number: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected registration error, got %v", err)
	}

	ex = &fakeExchange{mintErr: boom}
	r, _, _ = newTestRunner(ex, &fakeWaiter{})
	if _, err := r.Run(context.Background(), Args{Wallet: testWallet, Number: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected mint error, got %v", err)
	}

	w := &fakeWaiter{err: boom}
	r, _, _ = newTestRunner(&fakeExchange{registerResp: exchange.RegisterResponse{TxHash: pendingTx}}, w)
	if _, err := r.Run(context.Background(), Args{Wallet: testWallet, Number: 1}); !errors.Is(err, boom) {
		t.Fatalf("expected wait error, got %v", err)
	}
}

func TestRunNeverLogsErrors(t *testing.T) {
	ex := &fakeExchange{mintErr: errors.New("boom")}
	r, logs, _ := newTestRunner(ex, &fakeWaiter{})

	_, _ = r.Run(context.Background(), Args{Wallet: testWallet, Number: 1})
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 0 {
		t.Fatalf("the runner must leave error logging to the caller")
	}
}
