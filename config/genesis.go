package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zion-chain/zion-node/pkg/crypto"
	"github.com/zion-chain/zion-node/pkg/types"
)

// =============================================================================
// Protocol Rules (immutable, defined in genesis)
// These MUST match across all nodes or consensus breaks.
// =============================================================================

// ConsensusPoW is the only consensus type this chain runs.
const ConsensusPoW = "pow"

// Denomination constants.
// 1 coin = 10^12 base units. All on-chain values are in base units.
const (
	Decimals  = 12
	Coin      = 1_000_000_000_000 // 10^12 base units per coin
	MilliCoin = 1_000_000_000     // 10^9
	MicroCoin = 1_000_000         // 10^6
)

// CoinbaseMaturity is the number of blocks a coinbase output must wait
// before it can be spent. Prevents issues during reorgs.
const CoinbaseMaturity uint64 = 20

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize = 2_000_000 // 2 MB max block size (header + all tx signing bytes)
	MaxBlockTxs  = 500       // Max transactions per block (including coinbase)
	MaxTxInputs  = 2500      // Max inputs per transaction
	MaxTxOutputs = 2500      // Max outputs per transaction
)

// Algorithm tag bytes for the block-template blob's 1-byte algorithm field.
// These are the only values a chain-schedule entry or a pool job may carry.
const (
	AlgoBlake3Autolykos byte = 0 // 256-bit, Blake3/Autolykos-like (C5: U256BigEndian)
	AlgoRandomXFamily   byte = 1 // 64-bit little-endian target comparison (C5: U64LittleEndian)
	AlgoYescryptFamily  byte = 2 // 224-bit big-endian target comparison (C5: U224BigEndian)
	AlgoCosmicHarmony   byte = 3 // 32-bit word target, configurable endianness (C5: U32Target)
)

// AlgorithmName returns the canonical lowercase name for an algorithm tag,
// used in job_ids and stats API output.
func AlgorithmName(tag byte) string {
	switch tag {
	case AlgoBlake3Autolykos:
		return "blake3"
	case AlgoRandomXFamily:
		return "randomx"
	case AlgoYescryptFamily:
		return "yescrypt"
	case AlgoCosmicHarmony:
		return "cosmicharmony"
	default:
		return "unknown"
	}
}

// AlgorithmScheduleEntry assigns an algorithm tag to every height >= FromHeight,
// until superseded by a later entry with a higher FromHeight.
type AlgorithmScheduleEntry struct {
	FromHeight uint64 `json:"from_height"`
	Algorithm  byte   `json:"algorithm"`
}

// AlgorithmAt returns the algorithm tag in effect at height h. The schedule
// must be sorted ascending by FromHeight and start at 0; AlgorithmAt walks it
// in order and returns the last entry whose FromHeight <= h.
func AlgorithmAt(schedule []AlgorithmScheduleEntry, h uint64) byte {
	chosen := AlgoBlake3Autolykos
	for _, e := range schedule {
		if e.FromHeight > h {
			break
		}
		chosen = e.Algorithm
	}
	return chosen
}

// Genesis holds the genesis block configuration and protocol rules.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"` // Native coin symbol (e.g., "ZION")

	// Genesis block
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations (address -> balance in base units)
	Alloc map[string]uint64 `json:"alloc"`

	// Protocol rules
	Protocol ProtocolConfig `json:"protocol"`
}

// ForkSchedule defines block heights at which protocol upgrades activate.
// A zero value means the fork is not scheduled.
type ForkSchedule struct {
	// Future forks are added here as fields.
}

// IsActive returns true if a fork at forkHeight has activated at currentHeight.
// Returns false if forkHeight is 0 (not scheduled).
func (f *ForkSchedule) IsActive(forkHeight, currentHeight uint64) bool {
	return forkHeight > 0 && currentHeight >= forkHeight
}

// ProtocolConfig holds consensus-critical rules.
// All nodes MUST agree on these values.
type ProtocolConfig struct {
	Consensus ConsensusRules `json:"consensus"`
	Forks     ForkSchedule   `json:"forks,omitempty"`
}

// ConsensusRules defines how blocks are produced and validated.
type ConsensusRules struct {
	Type string `json:"type"` // always "pow"

	BlockTime int `json:"block_time"` // Target seconds between blocks

	InitialDifficulty uint64 `json:"initial_difficulty"`
	DifficultyAdjust  int    `json:"difficulty_adjust"` // Blocks between adjustments

	// AlgorithmSchedule maps height ranges to the algorithm tag a block at
	// that height must use. Must start with an entry at FromHeight 0.
	AlgorithmSchedule []AlgorithmScheduleEntry `json:"algorithm_schedule"`

	// Economics
	BlockReward     uint64 `json:"block_reward"`               // Base units per block
	MaxSupply       uint64 `json:"max_supply"`                 // Total coin cap in base units (0 = unlimited)
	HalvingInterval uint64 `json:"halving_interval,omitempty"` // Blocks between reward halvings (0 = no halving)
	MinFeeRate      uint64 `json:"min_fee_rate"`                // Minimum fee rate (base units per byte of SigningBytes)
}

// =============================================================================
// Testnet Identity
//
// Derived from the well-known BIP-39 test mnemonic (DO NOT use on mainnet):
//
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon abandon
//	abandon abandon abandon abandon abandon abandon abandon art
//
// Derivation path: m/44'/8888'/0'/0/0 (no passphrase)
// =============================================================================

const (
	// TestnetAddress is the well-known testnet funding address (tzion HRP),
	// the bech32 encoding of the 20 repeated bytes 0x11.
	TestnetAddress = "tzion1qzyg3zyg3zyg3zyg3zyg3zyg3zyg3zyg3tvu0hz"
)

// =============================================================================
// Pre-defined genesis configurations
// =============================================================================

// defaultAlgorithmSchedule is the mainnet/testnet chain-schedule: Blake3/Autolykos-like
// from genesis, rotating through the remaining three algorithms at fixed intervals so
// the pool and share validator exercise every target geometry in normal operation.
func defaultAlgorithmSchedule() []AlgorithmScheduleEntry {
	return []AlgorithmScheduleEntry{
		{FromHeight: 0, Algorithm: AlgoBlake3Autolykos},
		{FromHeight: 10_000, Algorithm: AlgoRandomXFamily},
		{FromHeight: 20_000, Algorithm: AlgoYescryptFamily},
		{FromHeight: 30_000, Algorithm: AlgoCosmicHarmony},
		{FromHeight: 40_000, Algorithm: AlgoBlake3Autolykos},
	}
}

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:   "zion-mainnet-1",
		ChainName: "Zion Mainnet",
		Symbol:    "ZION",
		Timestamp: 1770734103, // 2026-02-10
		ExtraData: "Zion Genesis",
		Alloc:     map[string]uint64{},
		Protocol: ProtocolConfig{
			Consensus: ConsensusRules{
				Type:              ConsensusPoW,
				BlockTime:         60, // 60 second target block interval
				InitialDifficulty: 1_000_000,
				DifficultyAdjust:  2016,
				AlgorithmSchedule: defaultAlgorithmSchedule(),
				BlockReward:       50 * Coin,
				MaxSupply:         21_000_000 * Coin,
				HalvingInterval:   1_051_200, // ~2 years at 60s blocks
				MinFeeRate:        1000,      // base units per signing byte
			},
		},
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "zion-testnet-1"
	g.ChainName = "Zion Testnet"
	g.ExtraData = "Zion Testnet Genesis"

	// More relaxed rules for testnet.
	g.Protocol.Consensus.InitialDifficulty = 100
	g.Protocol.Consensus.DifficultyAdjust = 20
	g.Protocol.Consensus.MinFeeRate = 1

	g.Alloc = map[string]uint64{
		TestnetAddress: 200_000 * Coin,
	}

	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}

	if g.Protocol.Consensus.Type != ConsensusPoW {
		return fmt.Errorf("unknown consensus type: %s", g.Protocol.Consensus.Type)
	}
	if g.Protocol.Consensus.InitialDifficulty == 0 {
		return fmt.Errorf("pow requires initial_difficulty")
	}
	if g.Protocol.Consensus.BlockTime <= 0 {
		return fmt.Errorf("block_time must be positive")
	}
	if g.Protocol.Consensus.BlockReward == 0 {
		return fmt.Errorf("block_reward must be positive")
	}
	if len(g.Protocol.Consensus.AlgorithmSchedule) == 0 || g.Protocol.Consensus.AlgorithmSchedule[0].FromHeight != 0 {
		return fmt.Errorf("algorithm_schedule must start with an entry at height 0")
	}

	// Validate alloc addresses and check total doesn't exceed max supply.
	var totalAlloc uint64
	for addrStr, v := range g.Alloc {
		if _, err := types.ParseAddress(addrStr); err != nil {
			return fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		totalAlloc += v
	}
	if g.Protocol.Consensus.MaxSupply > 0 && totalAlloc > g.Protocol.Consensus.MaxSupply {
		return fmt.Errorf("genesis allocations (%d) exceed max_supply (%d)",
			totalAlloc, g.Protocol.Consensus.MaxSupply)
	}

	return nil
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
