package config

// DefaultMainnet returns the default node configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network:       Mainnet,
		DataDir:       DefaultDataDir(),
		StrictAddress: true,
		P2P: P2PConfig{
			Enabled:      true,
			ListenAddr:   "0.0.0.0",
			Port:         30303,
			MaxPeers:     50,
			MaxInbound:   40,
			MaxOutbound:  10,
			NetworkMagic: 0x5a494f4e, // "ZION"
			Seeds:        []string{},
		},
		RPC: RPCConfig{
			Enabled:    true,
			Addr:       "127.0.0.1",
			Port:       8545,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Storage: StorageConfig{
			MapSizeGB: 16,
		},
		Mining: MiningConfig{
			Enabled: false,
			Threads: 1,
		},
		Pool: PoolConfig{
			Enabled:                     false,
			ListenAddr:                  "0.0.0.0",
			StratumPort:                 3333,
			StatsPort:                   8080,
			MinDifficulty:               64,
			MaxDifficulty:               1 << 40,
			StartDifficulty:             1024,
			TargetShareSeconds:          10,
			RetargetWindowShare:         10,
			MinRetargetSeconds:          60,
			ExtranonceSize:              4,
			DuplicateShareWindowSeconds: 600,
			MaxMisbehavior:              10,
		},
		Revenue: RevenueConfig{
			Enabled:                    false,
			RevenueLockSeconds:         120,
			Endpoints:                  map[string]string{},
			ReconnectMinBackoffSeconds: 1,
			ReconnectMaxBackoffSeconds: 60,
		},
		Scheduler: SchedulerConfig{
			EnableStreamSwitch: true,
			PerMinerThreshold:  4,
			MinStintSeconds:    10,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default node configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.StrictAddress = false
	cfg.P2P.Port = 30304
	cfg.P2P.NetworkMagic = 0x74494f4e // "tION"
	cfg.RPC.Port = 8645
	cfg.Pool.StratumPort = 13333
	cfg.Pool.StatsPort = 18080
	return cfg
}

// Default returns the default node configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Testnet:
		return DefaultTestnet()
	default:
		return DefaultMainnet()
	}
}
