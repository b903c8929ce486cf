// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// StrictAddress selects strict (39-char body) vs. relaxed bech32 address
	// validation. ZION_STRICT_ADDRESS env var overrides this.
	StrictAddress bool `conf:"strict_address"`

	// DevMode gates development-only RPC methods (dev.*) behind an
	// explicit opt-in, never enabled by default.
	DevMode bool `conf:"dev_mode"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Storage
	Storage StorageConfig

	// Mining (node-local block production)
	Mining MiningConfig

	// Pool stratum server (C4)
	Pool PoolConfig

	// Revenue proxy (external-pool mining)
	Revenue RevenueConfig

	// Stream scheduler (C6)
	Scheduler SchedulerConfig

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled      bool     `conf:"p2p.enabled"`
	ListenAddr   string   `conf:"p2p.listen"`
	Port         int      `conf:"p2p.port"`
	Seeds        []string `conf:"p2p.seeds"`
	MaxPeers     int      `conf:"p2p.maxpeers"`
	MaxInbound   int      `conf:"p2p.maxinbound"`
	MaxOutbound  int      `conf:"p2p.maxoutbound"`
	NetworkMagic uint32   `conf:"p2p.magic"` // Rejects handshakes from a different network.
	ClearBans    bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// StorageConfig holds KV-storage tuning knobs.
type StorageConfig struct {
	// MapSizeGB is read from storage.mapsizegb; ZION_DB_MAP_SIZE_GB overrides.
	// The Badger store is opened without it, so it does not limit the database.
	MapSizeGB int `conf:"storage.mapsizegb"`
}

// MiningConfig holds block production settings.
type MiningConfig struct {
	Enabled  bool   `conf:"mining.enabled"`
	Coinbase string `conf:"mining.coinbase"`
	Threads  int    `conf:"mining.threads"`
}

// PoolConfig holds the stratum server's operational settings.
type PoolConfig struct {
	Enabled    bool   `conf:"pool.enabled"`
	ListenAddr string `conf:"pool.listen"`
	StratumPort int   `conf:"pool.stratum_port"`
	StatsPort  int    `conf:"pool.stats_port"`

	// Coinbase receives the block reward for every template the pool mints;
	// distributing it to individual miners is payout accounting, out of scope.
	Coinbase string `conf:"pool.coinbase"`

	// VarDiff tuning (spec.md §4.4.1).
	MinDifficulty       uint64 `conf:"pool.min_difficulty"`
	MaxDifficulty       uint64 `conf:"pool.max_difficulty"`
	StartDifficulty     uint64 `conf:"pool.start_difficulty"`
	TargetShareSeconds  int    `conf:"pool.target_share_seconds"`
	RetargetWindowShare int    `conf:"pool.retarget_window_shares"`
	MinRetargetSeconds  int    `conf:"pool.min_retarget_seconds"`

	ExtranonceSize int `conf:"pool.extranonce_size"`

	// DuplicateShareWindowSeconds bounds how long a (job_id, nonce, miner)
	// tuple is remembered to reject duplicate submissions.
	DuplicateShareWindowSeconds int `conf:"pool.duplicate_window_seconds"`

	MaxMisbehavior int `conf:"pool.max_misbehavior"`

	// CosmicHarmonyLittleEndian selects the byte order used when interpreting
	// the CosmicHarmony algorithm's 32-bit state0 target word (internal/shares;
	// spec.md §4.5 leaves this pool-startup configurable rather than fixed).
	CosmicHarmonyLittleEndian bool `conf:"pool.cosmic_harmony_little_endian"`
}

// RevenueConfig holds the external-pool revenue-proxy settings.
type RevenueConfig struct {
	Enabled bool `conf:"revenue.enabled"`

	// HasGPU overrides platform GPU detection when non-nil.
	// ZION_HAS_GPU env var sets this.
	HasGPU *bool

	// RevenueLockSeconds: see DESIGN.md Open Question decision (default 120,
	// a per-pool tunable, not a protocol constant). ZION_REVENUE_LOCK_SECS overrides.
	RevenueLockSeconds int `conf:"revenue.lock_seconds"`

	// Endpoints maps coin name -> upstream pool address
	// ("stratum+tcp://host:port" or "host:port").
	Endpoints map[string]string `conf:"revenue.endpoints"`

	// Wallets maps coin name -> payout address at the upstream pool.
	// A coin with no wallet configured is skipped at startup (no credentials
	// to mine with), matching the original's "Skipping: no wallet configured".
	Wallets map[string]string `conf:"revenue.wallets"`

	// Workers maps coin name -> worker/rig name sent alongside the wallet.
	// Optional; an absent entry authorizes with the bare wallet address.
	Workers map[string]string `conf:"revenue.workers"`

	// Protocols optionally overrides per-coin dialect autodetection
	// ("ethstratum", "stratum", "cryptonote"). An absent or unknown entry
	// falls back to DetectProtocol(coin).
	Protocols map[string]string `conf:"revenue.protocols"`

	// Algorithms optionally overrides per-coin algorithm-name autodetection.
	// An absent or "auto" entry falls back to DetectAlgorithm(coin).
	Algorithms map[string]string `conf:"revenue.algorithms"`

	// ProxyListenAddrs maps coin name -> local debug-proxy listen address
	// (spec.md §4.7's "optional local-listening port"; absent disables it
	// for that coin).
	ProxyListenAddrs map[string]string `conf:"revenue.proxy_listen"`

	// DebugProxyListenAddr, if non-empty, exposes a transparent local TCP
	// listener that forwards raw bytes to/from the upstream pool connection
	// (spec.md §4.7's debugging port; empty disables it). Deprecated in
	// favor of the per-coin ProxyListenAddrs; kept for a single-stream setup.
	DebugProxyListenAddr string `conf:"revenue.debug_proxy_listen"`

	ReconnectMinBackoffSeconds int `conf:"revenue.reconnect_min_backoff_seconds"`
	ReconnectMaxBackoffSeconds int `conf:"revenue.reconnect_max_backoff_seconds"`
}

// SchedulerConfig holds the stream-scheduler's operational settings.
type SchedulerConfig struct {
	// EnableStreamSwitch allows the scheduler to move miners between
	// ZION/Revenue streams at runtime. ZION_ENABLE_STREAM_SWITCH overrides.
	EnableStreamSwitch bool `conf:"scheduler.enable_stream_switch"`

	// ForceCoin, if set, pins the Revenue stream to a single coin regardless
	// of the profit-switcher's recommendation.
	ForceCoin string `conf:"scheduler.force_coin"`

	// PerMinerThreshold is the connected-miner count at or above which the
	// scheduler switches from TimeSplit to PerMiner allocation.
	PerMinerThreshold int `conf:"scheduler.per_miner_threshold"`

	MinStintSeconds int `conf:"scheduler.min_stint_seconds"`

	// ZionShare, RevenueShare, NCLShare are the target compute-time shares
	// for the three streams (spec.md §4.6); normalized to sum to 1 at
	// startup. Defaults: 0.50 / 0.25 / 0.25.
	ZionShare    float64 `conf:"scheduler.zion_share"`
	RevenueShare float64 `conf:"scheduler.revenue_share"`
	NCLShare     float64 `conf:"scheduler.ncl_share"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.zion
//	macOS:   ~/Library/Application Support/Zion
//	Windows: %APPDATA%\Zion
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zion"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Zion")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Zion")
		}
		return filepath.Join(home, "AppData", "Roaming", "Zion")
	default:
		return filepath.Join(home, ".zion")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// BlocksDir returns the blocks storage directory.
func (c *Config) BlocksDir() string {
	return filepath.Join(c.ChainDataDir(), "blocks")
}

// UTXODir returns the UTXO database directory.
func (c *Config) UTXODir() string {
	return filepath.Join(c.ChainDataDir(), "utxo")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "zion.conf")
}
