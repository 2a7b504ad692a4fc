package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mini-dynamo/mini-dynamo/internal/antientropy"
	"github.com/mini-dynamo/mini-dynamo/internal/api"
	"github.com/mini-dynamo/mini-dynamo/internal/config"
	"github.com/mini-dynamo/mini-dynamo/internal/gossip"
	"github.com/mini-dynamo/mini-dynamo/internal/replica"
	"github.com/mini-dynamo/mini-dynamo/internal/replication"
	"github.com/mini-dynamo/mini-dynamo/internal/ring"
	"github.com/mini-dynamo/mini-dynamo/pkg/types"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "dynamo",
		Short: "mini-dynamo distributed key-value store node",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file path")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mini-dynamo v%s (built: %s)\n", version, buildTime)
		},
	}
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a mini-dynamo node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("node-id", "", "unique node identifier")
	flags.String("address", "127.0.0.1", "listen address")
	flags.Int("port", 8080, "HTTP port")
	flags.Int("gossip-port", 7946, "gossip UDP port")
	flags.String("data-dir", "./data", "data directory")
	flags.StringSlice("seeds", nil, "seed node gossip addresses (host:port)")
	flags.Int("replication", 3, "replication factor (N)")
	flags.Int("write-quorum", 2, "write quorum (W)")
	flags.Int("vnodes", 150, "virtual nodes per physical node")
	flags.Int("sync-interval-ms", 60_000, "anti-entropy sync interval in milliseconds")
	flags.Int("gossip-interval-ms", 1_000, "gossip round interval in milliseconds")
	flags.Int("failure-threshold-ms", 3_000, "gossip failure threshold in milliseconds")
	flags.String("node-fail-mode", "always_succeed", "fail injector mode: always_succeed, always_fail, partial")

	return cmd
}

// applyFlagOverrides layers cobra's kebab-case CLI flags on top of a
// config already populated by defaults/file/env (spec §6's option table
// puts flags last in precedence). Only flags the operator actually set
// are applied, so an unset flag never clobbers a config-file or env
// value sitting below it in the layering.
func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("node-id") {
		cfg.NodeID, _ = flags.GetString("node-id")
	}
	if flags.Changed("address") {
		cfg.Address, _ = flags.GetString("address")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("gossip-port") {
		cfg.GossipPort, _ = flags.GetInt("gossip-port")
	}
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("seeds") {
		cfg.SeedNodes, _ = flags.GetStringSlice("seeds")
	}
	if flags.Changed("replication") {
		cfg.Replication.Factor, _ = flags.GetInt("replication")
	}
	if flags.Changed("write-quorum") {
		cfg.Replication.WriteQuorum, _ = flags.GetInt("write-quorum")
	}
	if flags.Changed("vnodes") {
		cfg.Ring.Vnodes, _ = flags.GetInt("vnodes")
	}
	if flags.Changed("sync-interval-ms") {
		cfg.AntiEntropy.IntervalMs, _ = flags.GetInt("sync-interval-ms")
	}
	if flags.Changed("gossip-interval-ms") {
		cfg.Gossip.IntervalMs, _ = flags.GetInt("gossip-interval-ms")
	}
	if flags.Changed("failure-threshold-ms") {
		cfg.Gossip.FailureThresholdMs, _ = flags.GetInt("failure-threshold-ms")
	}
	if flags.Changed("node-fail-mode") {
		cfg.Test.NodeFailMode, _ = flags.GetString("node-fail-mode")
	}
}

func runServe(cmd *cobra.Command) error {
	flags := cmd.Flags()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	applyFlagOverrides(cfg, flags)

	if cfg.NodeID == "" {
		cfg.NodeID = fmt.Sprintf("%s-%d", cfg.Address, cfg.Port)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar().With("node_id", cfg.NodeID)

	log.Infow("starting node", "address", cfg.Address, "port", cfg.Port, "gossip_port", cfg.GossipPort)
	log.Infow("replication config", "N", cfg.Replication.Factor, "W", cfg.Replication.WriteQuorum)

	hashRing := ring.New(cfg.Ring.Vnodes)
	hashRing.AddNode(cfg.NodeID)

	store := replica.NewStore(cfg.NodeID)
	defer store.Close()
	client := replica.NewLocalClient(store)

	var failMode replica.FailMode
	switch cfg.Test.NodeFailMode {
	case "always_fail":
		failMode = replica.FailAlwaysFail
	case "partial":
		failMode = replica.FailPartial
	default:
		failMode = replica.FailAlwaysSucceed
	}
	injected := replica.NewFailInjector(cfg.NodeID, client)
	injected.SetMode(failMode)

	coordCfg := replication.Config{
		ReplicationFactor: cfg.Replication.Factor,
		WriteQuorum:       cfg.Replication.WriteQuorum,
		DispatchDeadline:  5 * time.Second,
	}
	coordinator := replication.NewCoordinator(cfg.NodeID, coordCfg, log)

	transport, err := gossip.NewUDPTransport(cfg.NodeID, fmt.Sprintf(":%d", cfg.GossipPort), log)
	if err != nil {
		return fmt.Errorf("starting gossip transport: %w", err)
	}

	onRevive := func(nodeID string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		coordinator.Hints().RetryAll(ctx)
	}
	gossiper := gossip.NewGossiper(cfg.NodeID, cfg.FailureThreshold(), cfg.GossipInterval(), onRevive, log)
	transport.Attach(gossiper)
	gossiper.SeedAllAlive([]*types.Node{{ID: cfg.NodeID, Address: cfg.Address, Port: cfg.Port, State: types.NodeAlive}})

	coordinator.RegisterNode(cfg.NodeID, injected, gossiper)

	for _, seedAddr := range cfg.SeedNodes {
		if err := transport.AddPeer(seedAddr, seedAddr); err != nil {
			log.Warnw("failed to resolve seed", "seed", seedAddr, "error", err)
		}
	}

	synchronizer := antientropy.NewSynchronizer(coordinator, cfg.AntiEntropyInterval(), cfg.Replication.Factor, log)

	transport.Start()
	gossiper.Start()
	synchronizer.Start(hashRing)

	server := api.NewServer(cfg, hashRing, coordinator, log)
	go func() {
		if err := server.Start(); err != nil && err != api.ErrServerClosed {
			log.Errorw("http server error", "error", err)
		}
	}()

	log.Infow("node ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Infow("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	synchronizer.Stop()
	gossiper.Stop()
	transport.Stop()

	if err := server.Stop(ctx); err != nil {
		log.Errorw("error stopping server", "error", err)
	}

	log.Infow("shutdown complete")
	return nil
}
