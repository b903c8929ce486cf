package config

import "fmt"

// Validate checks runtime node config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.P2P.Port < 0 || cfg.P2P.Port > 65535 {
		return fmt.Errorf("p2p.port must be in range [0, 65535]")
	}
	if cfg.RPC.Port < 0 || cfg.RPC.Port > 65535 {
		return fmt.Errorf("rpc.port must be in range [0, 65535]")
	}
	if cfg.Pool.Enabled {
		if cfg.Pool.StratumPort < 0 || cfg.Pool.StratumPort > 65535 {
			return fmt.Errorf("pool.stratum_port must be in range [0, 65535]")
		}
		if cfg.Pool.MinDifficulty == 0 {
			return fmt.Errorf("pool.min_difficulty must be positive")
		}
		if cfg.Pool.MaxDifficulty < cfg.Pool.MinDifficulty {
			return fmt.Errorf("pool.max_difficulty must be >= pool.min_difficulty")
		}
		if cfg.Pool.StartDifficulty < cfg.Pool.MinDifficulty || cfg.Pool.StartDifficulty > cfg.Pool.MaxDifficulty {
			return fmt.Errorf("pool.start_difficulty must be within [min_difficulty, max_difficulty]")
		}
	}
	if cfg.Revenue.Enabled && cfg.Revenue.RevenueLockSeconds < 0 {
		return fmt.Errorf("revenue.lock_seconds must not be negative")
	}

	return nil
}
