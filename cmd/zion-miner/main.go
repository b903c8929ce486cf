// zion-miner is a standalone stratum miner: it speaks to a single upstream
// pool (either this repo's own internal/stratum.Server or any compatible
// XMRig/classic-stratum pool) and has no dependency on node configuration,
// genesis data, or chain storage.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/minerclient"
)

func main() {
	pool := flag.String("pool", "127.0.0.1:3333", "pool host:port")
	wallet := flag.String("wallet", "", "payout address")
	worker := flag.String("worker", "rig0", "worker/rig name")
	algo := flag.String("algo", "", "algorithm hint (informational; the pool's job is authoritative)")
	threads := flag.Int("threads", runtime.NumCPU(), "CPU mining threads")
	revenueLock := flag.Int("revenue-lock-secs", 120, "seconds to hold an external-coin job before accepting a native job push")
	logLevel := flag.String("log-level", "info", "log level")
	logJSON := flag.Bool("log-json", false, "emit JSON logs")
	statsInterval := flag.Duration("stats-interval", 30*time.Second, "how often to print stats")
	flag.Parse()

	if *wallet == "" {
		fmt.Fprintln(os.Stderr, "zion-miner: -wallet is required")
		os.Exit(1)
	}

	if err := klog.Init(*logLevel, *logJSON, ""); err != nil {
		fmt.Fprintf(os.Stderr, "zion-miner: log init: %v\n", err)
		os.Exit(1)
	}

	client := minerclient.New(minerclient.Config{
		PoolAddr:           *pool,
		Wallet:             *wallet,
		Worker:             *worker,
		Algorithm:          *algo,
		RevenueLockSeconds: *revenueLock,
	})
	miner := minerclient.NewMiner(client, *threads)

	stopCh := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go miner.Run(stopCh)

	klog.Miner.Info().Str("pool", *pool).Str("worker", *worker).Int("threads", *threads).Msg("zion-miner started")

	ticker := time.NewTicker(*statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sigCh:
			close(stopCh)
			klog.Miner.Info().Msg("zion-miner shutting down")
			return
		case <-ticker.C:
			s := client.Stats()
			klog.Miner.Info().
				Bool("connected", s.Connected).
				Uint64("jobs", s.JobsReceived).
				Uint64("found", s.SharesFound).
				Uint64("accepted", s.SharesAccepted).
				Uint64("rejected", s.SharesRejected).
				Uint64("stale_dropped", s.StaleDropped).
				Uint64("reconnects", s.Reconnects).
				Msg("stats")
		}
	}
}
