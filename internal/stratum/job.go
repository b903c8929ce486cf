package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/zion-chain/zion-node/config"
	"github.com/zion-chain/zion-node/internal/shares"
	"github.com/zion-chain/zion-node/pkg/block"
	"github.com/zion-chain/zion-node/pkg/tx"
	"github.com/zion-chain/zion-node/pkg/types"
)

// maxUint256 is 2^256 - 1, used to derive target hex strings from a
// difficulty value the same way internal/consensus.PoW does.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// difficultyToTargetHex renders MaxUint256/difficulty as a 64-char hex
// string, matching the byte width internal/shares compares block targets
// against (U256BigEndian).
func difficultyToTargetHex(difficulty uint64) string {
	if difficulty == 0 {
		return hex.EncodeToString(maxUint256.Bytes())
	}
	d := new(big.Int).SetUint64(difficulty)
	t := new(big.Int).Div(maxUint256, d)
	buf := make([]byte, 32)
	t.FillBytes(buf)
	return hex.EncodeToString(buf)
}

// ChainState is the read-only chain view a template is built from.
type ChainState interface {
	Height() uint64
	TipHash() types.Hash
	TipTimestamp() uint64
}

// MempoolSelector selects transactions for a new template.
type MempoolSelector interface {
	SelectForBlock(limit int) []*tx.Transaction
	GetFee(txHash types.Hash) uint64
}

// AlgorithmSchedule reports the chain-mandated algorithm at a given height
// (config.AlgorithmAt bound to the network's schedule).
type AlgorithmSchedule func(height uint64) byte

// DifficultyFn reports the network difficulty a new block at height must meet.
type DifficultyFn func(height uint64) uint64

// ScheduledJob is the uniform job envelope handed to sessions, carrying
// either a native (ZION) job or a re-keyed external one from the stream
// scheduler (spec.md §4.6).
type ScheduledJob struct {
	StreamID      string
	JobID         string // full id, includes the algorithm suffix
	BaseID        string // id without the algorithm suffix; keys the template cache
	BlobHex       string
	AlgorithmName string
	TargetHex     string // share (pool) difficulty target, set per session at distribution time
	BlockTargetHex string
	Difficulty    uint64
	Height        uint64
	Coin          string
	CleanJobs     bool
	SeedHash      string
}

// TemplateBuilder produces unsealed block-template blobs for the pool to
// hand out as jobs. It never finds a nonce itself — mining happens on the
// miner side, and shares are recomputed and checked in internal/shares.
type TemplateBuilder struct {
	chain      ChainState
	pool       MempoolSelector
	algoAt     AlgorithmSchedule
	difficulty DifficultyFn
	coinbase   types.Address
	blockReward uint64
	maxBlockTxs int

	mu      sync.Mutex
	current *builtTemplate
}

type builtTemplate struct {
	baseID    string
	blobHex   string
	height    uint64
	algoTag   byte
	algoName  string
	targetHex string
	difficulty uint64
}

// NewTemplateBuilder creates a builder that reads chain/mempool state on
// demand; it holds no goroutine of its own.
func NewTemplateBuilder(chain ChainState, pool MempoolSelector, algoAt AlgorithmSchedule, difficulty DifficultyFn, coinbase types.Address, blockReward uint64, maxBlockTxs int) *TemplateBuilder {
	return &TemplateBuilder{
		chain:       chain,
		pool:        pool,
		algoAt:      algoAt,
		difficulty:  difficulty,
		coinbase:    coinbase,
		blockReward: blockReward,
		maxBlockTxs: maxBlockTxs,
	}
}

// Refresh rebuilds the template from current chain/mempool state and returns
// true if the resulting base id differs from the one last handed out (i.e.
// a broadcast is due). Call whenever the tip height changes.
func (b *TemplateBuilder) Refresh() (builtTemplate, bool) {
	height := b.chain.Height() + 1
	algoTag := b.algoAt(height)
	algoName := config.AlgorithmName(algoTag)
	difficulty := b.difficulty(height)

	var selected []*tx.Transaction
	var totalFees uint64
	if b.pool != nil {
		limit := b.maxBlockTxs - 1
		if limit < 0 {
			limit = 0
		}
		selected = b.pool.SelectForBlock(limit)
		for _, t := range selected {
			totalFees += b.pool.GetFee(t.Hash())
		}
	}

	coinbaseTx := buildCoinbase(b.coinbase, b.blockReward+totalFees, height)
	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbaseTx)
	txs = append(txs, selected...)

	sort.Slice(txs[1:], func(i, j int) bool {
		hi, hj := txs[1+i].Hash(), txs[1+j].Hash()
		return hashLess(hi, hj)
	})

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}
	merkle := block.ComputeMerkleRoot(txHashes)

	timestamp := b.chain.TipTimestamp()
	if timestamp == 0 {
		timestamp = 1
	}

	blob := encodeJobBlob(block.CurrentVersion, height, b.chain.TipHash(), merkle, timestamp, difficulty)
	baseID := fmt.Sprintf("h%d-%s", height, shortPrefix(b.chain.TipHash()))

	built := builtTemplate{
		baseID:     baseID,
		blobHex:    hex.EncodeToString(blob),
		height:     height,
		algoTag:    algoTag,
		algoName:   algoName,
		targetHex:  difficultyToTargetHex(difficulty),
		difficulty: difficulty,
	}

	b.mu.Lock()
	changed := b.current == nil || b.current.baseID != built.baseID
	b.current = &built
	b.mu.Unlock()

	return built, changed
}

// Current returns the last-built template, building one if none exists yet.
func (b *TemplateBuilder) Current() builtTemplate {
	b.mu.Lock()
	cur := b.current
	b.mu.Unlock()
	if cur == nil {
		built, _ := b.Refresh()
		return built
	}
	return *cur
}

// encodeJobBlob lays out the canonical share pre-image used by
// internal/shares: version(4) || height(8) || prev_hash(32) ||
// merkle_root(32) || timestamp(8) || difficulty(8), all little-endian.
func encodeJobBlob(version uint32, height uint64, prevHash, merkle types.Hash, timestamp, difficulty uint64) []byte {
	buf := make([]byte, 0, shares.HeaderLen)
	buf = binary.LittleEndian.AppendUint32(buf, version)
	buf = binary.LittleEndian.AppendUint64(buf, height)
	buf = append(buf, prevHash[:]...)
	buf = append(buf, merkle[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, timestamp)
	buf = binary.LittleEndian.AppendUint64(buf, difficulty)
	return buf
}

func shortPrefix(h types.Hash) string {
	s := h.String()
	if len(s) < 8 {
		return s
	}
	return s[:8]
}

func hashLess(a, b types.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// buildCoinbase mirrors internal/miner.BuildCoinbase: the block height is
// folded into the coinbase input so every coinbase hash is unique.
func buildCoinbase(addr types.Address, reward, height uint64) *tx.Transaction {
	heightBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(heightBytes, height)
	return &tx.Transaction{
		Version: 1,
		Inputs: []tx.Input{{
			PrevOut:   types.Outpoint{},
			Signature: heightBytes,
		}},
		Outputs: []tx.Output{{
			Value:   reward,
			Address: addr,
		}},
	}
}

// JobID builds the full "h{height}-{prev_hash_prefix8}-{timestamp}-{algorithm}"
// identifier (spec.md §4.4). timestamp is the job's mint time, distinct from
// the block header timestamp, so two jobs over the same template at
// different broadcast times get distinct ids. The duplicate-share cache
// keys on the job blob, not the id.
func JobID(baseID string, timestamp int64, algorithmName string) string {
	return fmt.Sprintf("%s-%d-%s", baseID, timestamp, algorithmName)
}
