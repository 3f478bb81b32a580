package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"imxmint/internal/chain"
	"imxmint/internal/config"
	"imxmint/internal/exchange"
	"imxmint/internal/logging"
	"imxmint/internal/metrics"
	"imxmint/internal/mint"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Env is everything a run needs from the process. Tests replace the constructors.
type Env struct {
	Stdout io.Writer
	Stderr io.Writer

	LoadConfig func() (*config.AppConfig, error)
	NewLogger  func(level string) (*zap.Logger, error)
	// Connect builds the exchange session and chain provider. It runs only after the arguments are accepted.
	Connect func(ctx context.Context, cfg *config.AppConfig) (mint.Exchange, mint.Waiter, func(), error)
}

// DefaultEnv wires the real config loader, logger, exchange client and chain provider.
func DefaultEnv() Env {
	return Env{
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		LoadConfig: config.Load,
		NewLogger:  logging.New,
		Connect:    connect,
	}
}

func connect(ctx context.Context, cfg *config.AppConfig) (mint.Exchange, mint.Waiter, func(), error) {
	provider, err := chain.Dial(ctx, cfg.Chain)
	if err != nil {
		return nil, nil, nil, err
	}
	client, err := exchange.Build(exchange.Config{
		BaseURL:       cfg.Exchange.PublicAPIURL,
		APIKey:        cfg.Exchange.APIKey,
		PrivateKeyHex: cfg.Chain.PrivateKey,
	})
	if err != nil {
		provider.Close()
		return nil, nil, nil, errors.Wrap(err, "build exchange client")
	}
	return client, provider, provider.Close, nil
}

// Run executes the batch-mint command and returns the process exit code.
func Run(args []string) int {
	return RunWith(args, DefaultEnv())
}

func RunWith(args []string, env Env) int {
	cfg, err := env.LoadConfig()
	if err != nil {
		// no configured level yet
		logger, _ := env.NewLogger("info")
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Error("config error", zap.Error(err))
		_ = logger.Sync()
		return 1
	}

	logger, err := env.NewLogger(cfg.Service.LogLevel)
	if err != nil {
		logger, _ = env.NewLogger("info")
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Error("logger error", zap.Error(err))
		_ = logger.Sync()
		return 1
	}
	defer func() { _ = logger.Sync() }()

	recorder := metrics.NewRecorder()
	cmd := newCommand(cfg, env, logger, recorder)
	cmd.SetArgs(args)
	cmd.SetOut(env.Stdout)
	cmd.SetErr(env.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := cmd.ExecuteContext(ctx)

	if err := recorder.Flush(cfg.Service.MetricsTextfile, cfg.Service.PushgatewayURL); err != nil {
		logger.Warn("metrics flush failed", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("batch mint failed", zap.Error(runErr))
		return 1
	}
	return 0
}

func newCommand(cfg *config.AppConfig, env Env, logger *zap.Logger, recorder *metrics.Recorder) *cobra.Command {
	var args mint.Args

	cmd := &cobra.Command{
		Use:           "batch-mint",
		Short:         "Register the minter and submit one off-chain batch mint",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// reject before any network activity
			if err := args.Validate(cfg.Mint.MaxMint); err != nil {
				return err
			}

			ctx := cmd.Context()
			ex, waiter, closeFn, err := env.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			runner := mint.NewRunner(cfg.Mint, mint.Deps{
				Log:      logger,
				Exchange: ex,
				Chain:    waiter,
				Metrics:  recorder,
				Network:  cfg.Chain.Network,
			})
			_, err = runner.Run(ctx, args)
			return err
		},
	}

	cmd.Flags().StringVarP(&args.Wallet, "wallet", "w", "", "Wallet to receive minted NFTs")
	cmd.Flags().IntVarP(&args.Number, "number", "n", 0, "Number of NFTs to mint. Maximum: "+strconv.Itoa(cfg.Mint.MaxMint))
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}
