// Package main is the entry point for the TrustChain report ledger node
// (tcm). It opens the ledger store, serves the ABCI application to a local
// Tendermint process, announces the node over mDNS and serves the read API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"trustchain.mini/tcm/internal/abci"
	"trustchain.mini/tcm/internal/actions"
	"trustchain.mini/tcm/internal/api"
	"trustchain.mini/tcm/internal/config"
	"trustchain.mini/tcm/internal/discovery"
	"trustchain.mini/tcm/internal/docs"
	"trustchain.mini/tcm/internal/events"
	"trustchain.mini/tcm/internal/identity"
	"trustchain.mini/tcm/internal/ledger"
	"trustchain.mini/tcm/internal/logger"
	"trustchain.mini/tcm/internal/metrics"
	"trustchain.mini/tcm/internal/store"
	"trustchain.mini/tcm/internal/tendermint"
	"trustchain.mini/tcm/internal/types"
	"trustchain.mini/tcm/internal/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "configuration file (JSON or YAML)")
	noTendermint := flag.Bool("no-tendermint", false, "serve ABCI only; Tendermint is started elsewhere")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcm: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tcm: %v\n", err)
		os.Exit(1)
	}
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, !*noTendermint, log); err != nil {
		log.Error("tcm exited", "err", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, launchTendermint bool, log *slog.Logger) error {
	log.Info("tcm starting", "version", types.Version, "build", types.BuildTime)

	id, err := identity.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info("node identity loaded", "address", id.Address())

	if err := ensurePortAvailable(cfg.Port); err != nil {
		return fmt.Errorf("port %d unavailable: %w", cfg.Port, err)
	}

	st, sqlite, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tmHome := cfg.TendermintHome
	if tmHome == "" {
		tmHome = tendermint.TendermintHome()
	}
	if launchTendermint {
		if err := tendermint.InitTendermint(tmHome); err != nil {
			return err
		}
	}
	nodeID, err := tendermint.NodeID(tmHome)
	if err != nil {
		log.Warn("tendermint node id unavailable; peers cannot dial this node", "err", err)
	}

	recorder, shutdownMetrics, err := setupMetrics(ctx, cfg, nodeID)
	if err != nil {
		return err
	}
	defer shutdownMetrics()

	// A nil *store.SQLite must not become a non-nil interface.
	var backups actions.Backuper
	var apiBackups []api.Option
	if sqlite != nil {
		backups = sqlite
		apiBackups = append(apiBackups, api.WithBackups(sqlite, cfg.MaxBackups))
	}

	l, err := ledger.New(st,
		ledger.WithParams(cfg.LedgerParams()),
		ledger.WithLogger(log),
		ledger.WithObserver(recorder),
		ledger.WithLifecycleHook(actions.New(cfg, backups, log)),
	)
	if err != nil {
		return err
	}

	recent := events.NewLog(cfg.EventLogSize)
	broker := events.NewBroker()
	sinks := []events.Sink{recent, broker}
	if cfg.RedisAddr != "" {
		pub, rdb := events.NewRedisPublisher(events.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Stream:   cfg.RedisStream,
			MaxLen:   int64(cfg.EventLogSize) * 100,
		})
		defer rdb.Close()
		sinks = append(sinks, pub)
		log.Info("publishing events to redis", "addr", cfg.RedisAddr, "stream", cfg.RedisStream)
	}

	app, err := abci.NewABCIApplication(ctx, l, st,
		abci.WithSink(events.NewFanout(log, sinks...)),
		abci.WithLogger(log),
	)
	if err != nil {
		return err
	}

	if err := writeGenesis(ctx, st, tmHome, cfg, id, log); err != nil {
		return err
	}

	abciServer, err := tendermint.NewABCIServer(app, &tendermint.Config{
		TendermintHome: tmHome,
		SocketAddress:  cfg.ABCISocket,
	}, log)
	if err != nil {
		return err
	}
	if err := abciServer.Start(); err != nil {
		return err
	}
	defer abciServer.Stop()

	var tmErr <-chan error
	if launchTendermint {
		cmd := tendermint.GetTendermintCommand(tmHome, cfg.ABCISocket)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start tendermint: %w", err)
		}
		log.Info("tendermint started", "home", tmHome, "pid", cmd.Process.Pid)
		tmErr = waitProcess(cmd)
		defer stopProcess(cmd, tmErr, log)
	}

	if nodeID != "" {
		disc, err := discovery.NewDiscoveryService(discovery.Config{
			ServiceName: cfg.MDNSServiceName,
			APIPort:     cfg.Port,
			P2PPort:     cfg.P2PPort,
			NodeID:      nodeID,
		}, peersWriter(tmHome, log), log)
		if err != nil {
			log.Warn("mDNS discovery unavailable", "err", err)
		} else if err := disc.Start(ctx); err != nil {
			log.Warn("mDNS announce failed", "err", err)
		} else {
			defer disc.Stop()
		}
	}

	opts := append([]api.Option{
		api.WithDocs(docs.NewService(cfg.DocsDir, log)),
		api.WithNodeID(nodeID),
	}, apiBackups...)
	apiService := api.NewService(l, recent, log, opts...)
	server := web.NewServer(web.Config{
		Port:      cfg.Port,
		RateLimit: cfg.APIRateLimit,
		Burst:     cfg.APIBurst,
	}, apiService, broker, recent, log)
	serverErr := server.Start(ctx)
	log.Info("API available", "url", fmt.Sprintf("http://localhost:%d/api/health", cfg.Port))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		return nil
	case err := <-serverErr:
		return fmt.Errorf("web server exited: %w", err)
	case err := <-tmErr:
		if err == nil {
			err = errors.New("process ended")
		}
		return fmt.Errorf("tendermint exited: %w", err)
	}
}

// openStore opens the configured backend. The SQLite store is also returned
// on its own for backups; it is nil for the other drivers.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, *store.SQLite, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		slog.Warn("using the memory store; ledger state is lost on exit")
		return store.NewMemory(), nil, nil
	case config.DriverPostgres:
		s, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		s, err := store.OpenSQLite(ctx, cfg.DatabasePath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("ledger store opened", "path", s.Path(), "backups", s.BackupDir())
		return s, s, nil
	}
}

func setupMetrics(ctx context.Context, cfg *config.Config, nodeID string) (*metrics.Recorder, func(), error) {
	if cfg.OTLPEndpoint == "" {
		return metrics.Noop(), func() {}, nil
	}
	mp, err := metrics.NewProvider(ctx, metrics.ExportConfig{
		Endpoint: cfg.OTLPEndpoint,
		Insecure: cfg.OTLPInsecure,
		NodeID:   nodeID,
	})
	if err != nil {
		return nil, nil, err
	}
	rec, err := metrics.NewRecorder(mp)
	if err != nil {
		return nil, nil, err
	}
	return rec, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown", "err", err)
		}
	}, nil
}

// writeGenesis fills the genesis app_state while the chain has no blocks.
// The admin defaults to this node's identity.
func writeGenesis(ctx context.Context, st store.Store, tmHome string, cfg *config.Config, id *identity.Identity, log *slog.Logger) error {
	commit, err := st.LastCommit(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if commit.Height > 0 {
		return nil
	}
	admin := cfg.GenesisAdmin
	if admin == "" {
		admin = id.Address()
	} else if _, err := identity.ParseAddress(admin); err != nil {
		return fmt.Errorf("genesis_admin: %w", err)
	}
	err = tendermint.SetGenesisAppState(tmHome, abci.GenesisState{Admin: admin, Version: cfg.Ledger.Version})
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("no genesis file; skipping app_state", "home", tmHome)
		return nil
	}
	if err != nil {
		return err
	}
	log.Info("genesis app_state written", "admin", admin, "version", cfg.Ledger.Version)
	return nil
}

func peersWriter(tmHome string, log *slog.Logger) func([]string) {
	return func(peers []string) {
		changed, err := tendermint.SetPersistentPeers(tmHome, peers)
		if err != nil {
			log.Warn("failed to write persistent peers", "err", err)
			return
		}
		if changed {
			log.Info("persistent peers updated; restart tendermint to apply", "peers", peers)
		}
	}
}

func waitProcess(cmd *exec.Cmd) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- cmd.Wait()
		close(ch)
	}()
	return ch
}

func stopProcess(cmd *exec.Cmd, done <-chan error, log *slog.Logger) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("tendermint did not stop; killing")
		_ = cmd.Process.Kill()
	}
}

func ensurePortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return listener.Close()
}
