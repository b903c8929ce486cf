// zion-pool is the mining-pool daemon: it embeds a Zion chain node for
// template/mempool state, then wires the stratum listener (C4), stream
// scheduler (C6) and revenue proxy (X) into one running process behind a
// stats/metrics HTTP server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zion-chain/zion-node/config"
	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/node"
	"github.com/zion-chain/zion-node/internal/revenue"
	"github.com/zion-chain/zion-node/internal/scheduler"
	"github.com/zion-chain/zion-node/internal/shares"
	"github.com/zion-chain/zion-node/internal/statsapi"
	"github.com/zion-chain/zion-node/internal/stratum"
	"github.com/zion-chain/zion-node/pkg/types"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "zion-pool: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Pool.Enabled {
		fmt.Fprintln(os.Stderr, "zion-pool: pool.enabled is false in config")
		os.Exit(1)
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zion-pool: start node: %v\n", err)
		os.Exit(1)
	}
	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "zion-pool: start node: %v\n", err)
		os.Exit(1)
	}

	logger := klog.WithComponent("pool-daemon")

	coinbaseStr := cfg.Pool.Coinbase
	if coinbaseStr == "" {
		coinbaseStr = cfg.Mining.Coinbase
	}
	var coinbase types.Address
	if coinbaseStr != "" {
		coinbase, err = types.ParseAddress(coinbaseStr)
		if err != nil {
			logger.Fatal().Err(err).Msg("Invalid pool.coinbase address")
		}
	} else {
		logger.Warn().Msg("No pool.coinbase configured; templates will mint to the zero address")
	}

	genesis := n.Genesis()
	algoAt := func(h uint64) byte { return config.AlgorithmAt(genesis.Protocol.Consensus.AlgorithmSchedule, h) }
	templates := stratum.NewTemplateBuilder(
		n.Chain(), n.Mempool(), algoAt, n.ExpectedDifficulty,
		coinbase, genesis.Protocol.Consensus.BlockReward, config.MaxBlockTxs,
	)

	dupWindow := time.Duration(cfg.Pool.DuplicateShareWindowSeconds) * time.Second
	if dupWindow <= 0 {
		dupWindow = 10 * time.Minute
	}
	validator := shares.NewValidator(dupWindow)

	pool := stratum.New(stratum.Config{
		ListenAddr:     cfg.Pool.ListenAddr,
		Port:           cfg.Pool.StratumPort,
		StaleTimeout:   5 * time.Minute,
		ExtranonceSize: cfg.Pool.ExtranonceSize,
		CosmicHarmonyLittleEndian: cfg.Pool.CosmicHarmonyLittleEndian,
		VarDiff: stratum.VarDiffConfig{
			Min:                cfg.Pool.MinDifficulty,
			Max:                cfg.Pool.MaxDifficulty,
			Start:              cfg.Pool.StartDifficulty,
			TargetShareSeconds: cfg.Pool.TargetShareSeconds,
			RetargetWindow:     cfg.Pool.RetargetWindowShare,
			MinRetargetSeconds: cfg.Pool.MinRetargetSeconds,
		},
	}, templates, validator)

	sched := scheduler.New(scheduler.FromConfig(cfg.Scheduler, cfg.Revenue))
	revMgr := revenue.NewManager(cfg.Revenue, sched)

	pool.SetRouter(sched)
	pool.SetRegistrar(sched)
	pool.SetForwarder(revMgr)
	sched.SetHub(pool)

	if err := pool.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start stratum server")
	}

	statsAddr := fmt.Sprintf("%s:%d", cfg.Pool.ListenAddr, cfg.Pool.StatsPort)
	statsSrv := statsapi.New(statsAddr, pool, sched, revMgr)
	if err := statsSrv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start stats API server")
	}

	stopCh := make(chan struct{})
	go sched.RunTimeSplitLoop(stopCh)
	go revMgr.Run(stopCh)

	logger.Info().
		Str("stratum_addr", pool.Addr()).
		Str("stats_addr", statsSrv.Addr()).
		Uint64("chain_height", n.Height()).
		Msg("zion-pool started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("zion-pool shutting down")
	close(stopCh)
	statsSrv.Stop()
	pool.Stop()
	n.Stop()
}
