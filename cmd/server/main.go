package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"loyaltymint/internal/config"
	"loyaltymint/internal/journal"
	"loyaltymint/internal/mint"
	"loyaltymint/internal/node"
	"loyaltymint/internal/server"
	"loyaltymint/internal/wallet"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	logger := newLogger(cfg.Log)

	ctx := context.Background()

	var store journal.Store
	if cfg.Journal.PostgresDSN != "" {
		pg, err := journal.NewPostgresStore(ctx, cfg.Journal.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("journal store error")
		}
		defer pg.Close()
		store = pg
	} else {
		fs, err := journal.NewFileStore(cfg.Journal.Path)
		if err != nil {
			logger.Fatal().Err(err).Msg("journal store error")
		}
		store = fs
	}

	var executor mint.Executor
	if cfg.Node.RPCURL == config.MemoryRPCURL {
		logger.Warn().Msg("using in-process ledger, nothing is sent to a fullnode")
		executor = node.NewMemoryLedger()
	} else {
		rpcClient, err := node.DialRPCClient(ctx, node.RPCClientConfig{
			URL:     cfg.Node.RPCURL,
			Timeout: cfg.Node.Timeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("node client error")
		}
		defer rpcClient.Close()
		executor = rpcClient
	}

	signer, closeSigner, err := newSigner(ctx, cfg.Wallet, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("wallet error")
	}
	defer closeSigner()

	apiServer, err := server.NewServer(server.Deps{
		Config:   cfg,
		Signer:   signer,
		Executor: executor,
		Journal:  store,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.With().Timestamp().Str("service", "loyaltymint").Logger()
}

func newSigner(ctx context.Context, cfg config.WalletConfig, logger zerolog.Logger) (mint.Signer, func(), error) {
	if cfg.BridgeURL != "" {
		remote, err := wallet.DialRemoteSigner(ctx, cfg.BridgeURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return remote, remote.Close, nil
	}

	mnemonic := cfg.Mnemonic
	if mnemonic == "" {
		generated, err := wallet.GenerateMnemonic()
		if err != nil {
			return nil, nil, err
		}
		mnemonic = generated
		logger.Warn().Msg("WALLET_MNEMONIC not set, signing with a throwaway key")
	}
	kp, err := wallet.NewKeypairSignerFromMnemonic(mnemonic, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("address", kp.Address()).Msg("local wallet ready")
	return kp, func() {}, nil
}
