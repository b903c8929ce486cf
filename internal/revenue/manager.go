package revenue

import (
	"strings"
	"time"

	"github.com/zion-chain/zion-node/config"
	klog "github.com/zion-chain/zion-node/internal/log"
)

const (
	defaultMinBackoff = 5 * time.Second
	defaultMaxBackoff = 60 * time.Second
)

// Manager owns one Client per configured external coin and satisfies
// internal/stratum.ShareForwarder, so the stratum server can hand it shares
// the stream scheduler routed to an external stream without importing this
// package directly.
type Manager struct {
	clients map[string]*Client
	stats   map[string]*poolStats
}

// NewManager builds a Client for every coin listed in cfg.Endpoints, wiring
// each to sink (normally the pool's *scheduler.Scheduler). Coins with no
// wallet configured are skipped, matching the original's
// "Skipping: no wallet configured" behavior.
func NewManager(cfg config.RevenueConfig, sink JobSink) *Manager {
	m := &Manager{
		clients: make(map[string]*Client),
		stats:   make(map[string]*poolStats),
	}
	if !cfg.Enabled {
		return m
	}

	minBackoff := time.Duration(cfg.ReconnectMinBackoffSeconds) * time.Second
	if minBackoff <= 0 {
		minBackoff = defaultMinBackoff
	}
	maxBackoff := time.Duration(cfg.ReconnectMaxBackoffSeconds) * time.Second
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}

	for coin, endpoint := range cfg.Endpoints {
		key := strings.ToLower(coin)
		wallet := cfg.Wallets[coin]
		if wallet == "" {
			klog.Revenue.Warn().Str("coin", coin).Msg("Skipping: no wallet configured")
			continue
		}

		protocol := ParseProtocol(cfg.Protocols[coin], coin)
		algorithm := cfg.Algorithms[coin]
		if algorithm == "" || algorithm == "auto" {
			algorithm = DetectAlgorithm(coin)
		}

		stats := &poolStats{}
		client := newClient(coin, endpoint, wallet, cfg.Workers[coin], protocol, algorithm,
			cfg.ProxyListenAddrs[coin], sink, stats, minBackoff, maxBackoff)

		m.clients[key] = client
		m.stats[key] = stats
		klog.Revenue.Info().Str("coin", coin).Str("protocol", protocol.String()).Str("algorithm", algorithm).Msg("Revenue client configured")
	}

	if addr := cfg.DebugProxyListenAddr; addr != "" {
		for _, client := range m.clients {
			if client.proxyListenAddr == "" {
				client.proxyListenAddr = addr
				break
			}
		}
	}

	return m
}

// Run starts every configured client's reconnect loop in its own goroutine
// and blocks until stopCh closes.
func (m *Manager) Run(stopCh <-chan struct{}) {
	if len(m.clients) == 0 {
		<-stopCh
		return
	}
	for _, client := range m.clients {
		go client.Run(stopCh)
	}
	<-stopCh
}

// SubmitExternalShare implements internal/stratum.ShareForwarder.
func (m *Manager) SubmitExternalShare(coin, jobID, nonceHex, resultHex, worker string) {
	client, ok := m.clients[strings.ToLower(coin)]
	if !ok {
		klog.Revenue.Warn().Str("coin", coin).Msg("Share routed to unconfigured external coin, dropping")
		return
	}

	// The client authorizes upstream with its own configured wallet/worker
	// pair; only the rig-name suffix (if any) of the local identity matters.
	rigName := worker
	if idx := strings.LastIndex(worker, "."); idx >= 0 {
		rigName = worker[idx+1:]
	}

	client.QueueSubmit(ShareSubmission{
		Coin:      coin,
		JobID:     jobID,
		Nonce:     nonceHex,
		Worker:    rigName,
		Result:    resultHex,
		Algorithm: client.algorithm,
	})
}

// Stats returns a point-in-time snapshot of every configured coin's counters
// for the stats API (spec.md §6 `/api/v1/external/stats`).
func (m *Manager) Stats() map[string]CoinStats {
	out := make(map[string]CoinStats, len(m.stats))
	for coin, stats := range m.stats {
		out[coin] = stats.snapshot(coin)
	}
	return out
}
