package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/web3-frozen/yield-indexer/internal/apr"
	"github.com/web3-frozen/yield-indexer/internal/config"
	"github.com/web3-frozen/yield-indexer/internal/indexer"
	"github.com/web3-frozen/yield-indexer/internal/logging"
	"github.com/web3-frozen/yield-indexer/internal/pricing"
	"github.com/web3-frozen/yield-indexer/internal/store"
	"github.com/web3-frozen/yield-indexer/internal/token"
)

type rootFlags struct {
	tokensFile string
	dataFile   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "indexer",
		Short:         "Record yield-bearing token prices and trailing APRs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.tokensFile, "tokens", "", "token list file (overrides TOKENS_FILE)")
	root.PersistentFlags().StringVar(&flags.dataFile, "data", "", "snapshot file (overrides DATA_FILE)")

	root.AddCommand(
		newSnapshotCmd(flags),
		newRunCmd(flags),
		newQueryCmd(flags),
		newExportCmd(flags),
	)
	return root
}

// env is what every subcommand shares: configuration, a logger and the
// resources to release on exit.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []io.Closer
}

func setup(flags *rootFlags) (*env, error) {
	cfg := config.Load()
	if flags.tokensFile != "" {
		cfg.TokensFile = flags.tokensFile
	}
	if flags.dataFile != "" {
		cfg.DataFile = flags.dataFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return &env{cfg: cfg, logger: logger, closers: []io.Closer{logCloser}}, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close()
	}
}

// openPrimary opens the durable store without touching any price source.
func (e *env) openPrimary(ctx context.Context) (store.Backend, error) {
	primary, err := store.OpenPrimary(ctx, e.cfg.StoreOptions(), e.logger)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, primary)
	return primary, nil
}

func (e *env) newIndexer(ctx context.Context) (*indexer.Indexer, error) {
	tokens, err := token.LoadFile(e.cfg.TokensFile)
	if err != nil {
		return nil, err
	}

	rpcURLs := e.cfg.RPCURLs()
	for _, d := range tokens {
		if d.OnChain() && d.Resolved() {
			if _, ok := rpcURLs[strings.ToLower(d.Chain)]; !ok {
				e.logger.Warn("no rpc endpoint for token chain", "token", d.ID, "chain", d.Chain)
			}
		}
	}
	chains, err := pricing.DialChains(ctx, rpcURLs, e.logger)
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, closerFunc(chains.Close))
	prices := pricing.NewDefaultAdapter(chains, pricing.NewPyth(e.cfg.PythHermesURL), e.logger, e.cfg.FetchTimeout)

	primary, err := e.openPrimary(ctx)
	if err != nil {
		return nil, err
	}
	opts := []indexer.Option{
		indexer.WithRetention(e.cfg.Retention),
		indexer.WithEstimator(apr.New(apr.DefaultConfig())),
	}
	publisher, err := store.OpenPublisher(ctx, e.cfg.StoreOptions(), e.logger)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		e.closers = append(e.closers, publisher)
		opts = append(opts, indexer.WithPublisher(publisher))
	}

	e.logger.Info("indexer ready",
		"tokens", len(tokens),
		"chains", len(rpcURLs),
		"store", primary.Name(),
		"publish", publisher != nil,
	)
	return indexer.New(tokens, prices, primary, e.logger, opts...), nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}
