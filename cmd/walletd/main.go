package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"walletcore/api"
	"walletcore/chains"
	"walletcore/chains/btc"
	"walletcore/chains/evm"
	"walletcore/config"
	"walletcore/keystore"
	"walletcore/native/multisig"
	"walletcore/notify"
	"walletcore/observability/logging"
	"walletcore/recovery"
	"walletcore/relay"
	"walletcore/router"
	"walletcore/storage/walletdb"
	"walletcore/wallet"
)

func main() {
	configPath := flag.String("config", "wallet.toml", "path to the wallet configuration file")
	env := flag.String("env", "", "deployment environment label for logs")
	flag.Parse()

	if err := run(*configPath, *env); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, env string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var fileCfg *logging.FileConfig
	if cfg.Log.File != "" {
		fileCfg = &logging.FileConfig{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}
	}
	log := logging.Setup("walletd", env, cfg.Log.Level, fileCfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.KeystorePath), 0o700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}

	store, err := walletdb.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	keys, err := keystore.Open(cfg.KeystorePath)
	if err != nil {
		return err
	}
	defer keys.Close()

	registry := chains.NewRegistry()
	for code, chain := range cfg.Chains {
		switch code {
		case btc.ChainCode:
			registry.Register(btc.NewAdapter(btc.NewClient(chain.RPCURL, chain.RPCUser, chain.RPCPassword), chain.HRP))
		default:
			registry.Register(evm.NewAdapter(code, chain.ChainID, chain.Symbol, evm.NewClient(chain.RPCURL, chain.AuthToken)))
		}
	}
	log.Info("chain adapters registered", "chains", registry.Codes())

	promRegistry := prometheus.NewRegistry()

	engine := multisig.NewEngine(store)
	engine.SetAdapters(registry)
	engine.SetKeyStore(keys)
	engine.SetLogger(log)
	engine.SetEmitter(multisig.MultiEmitter{
		notify.NewLogEmitter(log),
		notify.NewMetricsEmitter(promRegistry),
	})

	relayClient := relay.New(relay.Config{
		BaseURL:           cfg.Relay.BaseURL,
		DeviceID:          cfg.Relay.DeviceID,
		JWTSecret:         cfg.Relay.JWTSecret,
		TokenTTL:          time.Duration(cfg.Relay.TokenTTLSeconds) * time.Second,
		RequestsPerSecond: cfg.Relay.RequestsPerSecond,
	})

	log.Info("relay configured",
		"baseURL", cfg.Relay.BaseURL,
		"deviceID", cfg.Relay.DeviceID,
		logging.MaskField("jwtSecret", cfg.Relay.JWTSecret),
	)

	recoverer := recovery.New(recovery.Config{Engine: engine, Relay: relayClient, Logger: log})
	inbound := router.New(router.Config{Engine: engine, Recoverer: recoverer, Logger: log})
	service := wallet.New(wallet.Config{Engine: engine, Relay: relayClient, Logger: log})
	server := api.New(api.Config{
		Service:   service,
		Recoverer: recoverer,
		Inbound:   inbound,
		Metrics:   promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		Logger:    log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Rebuild shared state before serving so a reinstalled wallet starts
	// from the backend's view.
	if err := recoverer.RecoverAll(ctx); err != nil {
		log.Warn("initial recovery failed", "err", err)
	}
	go recoverer.Run(ctx, cfg.SyncInterval())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("walletd listening", "address", cfg.ListenAddress)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
