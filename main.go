package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wfunc/tetbridge/bridge"
	"github.com/wfunc/tetbridge/config"
	"github.com/wfunc/tetbridge/logger"
	"github.com/wfunc/tetbridge/monitor"
	"github.com/wfunc/tetbridge/network"
	"github.com/wfunc/tetbridge/rpc"
	"github.com/wfunc/tetbridge/server"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "path to a YAML config file (default: ./config.yaml when present)")
	flag.Parse()

	// Initialize logger
	logger.Init()

	// Load configuration; nothing is opened before it validates
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.LoadConfig(".")
	}
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		logger.Log.Fatalf("Failed to configure logger: %v", err)
	}
	defer logger.Sync()
	log := logger.Log

	metrics := monitor.NewMonitor(cfg.Monitor.Namespace)
	if err := metrics.StartServer(cfg.Monitor.Address); err != nil {
		log.Fatalf("Failed to start metrics server: %v", err)
	}
	defer metrics.Close()

	health, err := rpc.NewServer(cfg.RPC.Address, log.Named("rpc"), bridge.ChannelDecision, bridge.ChannelSession)
	if err != nil {
		log.Fatalf("Failed to create RPC server: %v", err)
	}

	b := bridge.New(*cfg, metrics, log.Named("bridge"),
		bridge.WithStateObserver(func(name string, s network.State) {
			health.SetServing(name, s == network.StateOpen)
		}),
	)

	log.Infow("Starting bridge", "user", cfg.Account.Username, "decision", cfg.AI.URL)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.ConnectAI(ctx); err != nil {
		// The session still runs; snapshots are dropped until a redial succeeds.
		log.Errorf("Decision channel unavailable: %v", err)
	}

	front := server.NewServer(cfg.Session.HTTPAddress, cfg.Session.Path, b, log.Named("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		health.Start()
		return nil
	})
	g.Go(front.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		teardownCtx, cancel := context.WithTimeout(context.Background(), cfg.Session.TeardownTimeout)
		defer cancel()
		if err := b.Teardown(teardownCtx); err != nil {
			log.Warnf("Teardown: %v", err)
		}
		health.Stop()
		return front.Shutdown(teardownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorf("Bridge stopped: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}
