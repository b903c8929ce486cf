package chain

import (
	"testing"

	"github.com/zion-chain/zion-node/config"
	"github.com/zion-chain/zion-node/internal/consensus"
	"github.com/zion-chain/zion-node/internal/storage"
	"github.com/zion-chain/zion-node/internal/utxo"
	"github.com/zion-chain/zion-node/pkg/block"
	"github.com/zion-chain/zion-node/pkg/crypto"
	"github.com/zion-chain/zion-node/pkg/tx"
	"github.com/zion-chain/zion-node/pkg/types"
)

// testGenesis returns a minimal valid genesis config with an allocation.
func testGenesis(t *testing.T) (*config.Genesis, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())

	return &config.Genesis{
		ChainID:   "test-chain-1",
		ChainName: "Test Chain",
		Timestamp: 1700000000,
		Alloc: map[string]uint64{
			addr.String(): 5000,
		},
		Protocol: config.ProtocolConfig{
			Consensus: config.ConsensusRules{
				Type:              config.ConsensusPoW,
				BlockTime:         3,
				InitialDifficulty: 1,
				BlockReward:       1000,
				AlgorithmSchedule: []config.AlgorithmScheduleEntry{{FromHeight: 0, Algorithm: config.AlgoBlake3Autolykos}},
			},
		},
	}, addr
}

// testChain creates a PoW chain initialized from a genesis block.
func testChain(t *testing.T) (*Chain, *config.Genesis) {
	t.Helper()

	pow, err := consensus.NewPoW(1, 0, 3)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}

	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)

	ch, err := New("test-chain-1", db, utxoStore, pow)
	if err != nil {
		t.Fatalf("New chain: %v", err)
	}

	gen, _ := testGenesis(t)
	if err := ch.InitFromGenesis(gen); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	ch.SetConsensusRules(gen.Protocol.Consensus)

	return ch, gen
}

// testCoinbaseTx returns a minimal coinbase transaction for test blocks.
func testCoinbaseTx(reward uint64) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Inputs:  []tx.Input{{PrevOut: types.Outpoint{}}},
		Outputs: []tx.Output{{Value: reward}},
	}
}

// mineNextBlock builds and seals a block extending the chain's current tip.
// txs, if provided, are appended after the coinbase.
func mineNextBlock(t *testing.T, ch *Chain, pow *consensus.PoW, extra ...*tx.Transaction) *block.Block {
	t.Helper()

	state := ch.State()
	txs := append([]*tx.Transaction{testCoinbaseTx(1000)}, extra...)

	hashes := make([]types.Hash, len(txs))
	for i, transaction := range txs {
		hashes[i] = transaction.Hash()
	}
	merkle := block.ComputeMerkleRoot(hashes)

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   state.TipHash,
		MerkleRoot: merkle,
		Timestamp:  1700000001 + state.Height,
		Height:     state.Height + 1,
	}
	if err := pow.Prepare(header); err != nil {
		t.Fatalf("Prepare: %v", err)
	}

	blk := block.NewBlock(header, txs)
	if err := pow.Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	return blk
}

// --- Genesis Tests ---

func TestCreateGenesisBlock(t *testing.T) {
	gen, _ := testGenesis(t)
	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		t.Fatalf("CreateGenesisBlock: %v", err)
	}
	if blk.Header.Height != 0 {
		t.Errorf("genesis height = %d, want 0", blk.Header.Height)
	}
	if !blk.Header.PrevHash.IsZero() {
		t.Error("genesis PrevHash should be zero")
	}
	if blk.Header.Timestamp != gen.Timestamp {
		t.Errorf("timestamp = %d, want %d", blk.Header.Timestamp, gen.Timestamp)
	}
	if len(blk.Transactions) != 1 {
		t.Fatalf("genesis should have 1 tx, got %d", len(blk.Transactions))
	}
	if blk.Hash().IsZero() {
		t.Error("genesis hash should not be zero")
	}
}

func TestCreateGenesisBlock_WithAlloc(t *testing.T) {
	gen, addr := testGenesis(t)
	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		t.Fatalf("CreateGenesisBlock: %v", err)
	}

	coinbase := blk.Transactions[0]
	if len(coinbase.Outputs) != 1 {
		t.Fatalf("coinbase should have 1 output, got %d", len(coinbase.Outputs))
	}
	out := coinbase.Outputs[0]
	if out.Value != 5000 {
		t.Errorf("output value = %d, want 5000", out.Value)
	}
	if out.Address != addr {
		t.Errorf("output address mismatch: got %s want %s", out.Address, addr)
	}
}

func TestCreateGenesisBlock_NoAlloc(t *testing.T) {
	gen := &config.Genesis{
		ChainID:   "test",
		Timestamp: 1000,
		Alloc:     nil,
		Protocol: config.ProtocolConfig{
			Consensus: config.ConsensusRules{
				Type: config.ConsensusPoW, BlockTime: 3, InitialDifficulty: 1,
				AlgorithmSchedule: []config.AlgorithmScheduleEntry{{FromHeight: 0}},
			},
		},
	}
	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		t.Fatalf("CreateGenesisBlock: %v", err)
	}
	if len(blk.Transactions[0].Outputs) != 1 {
		t.Fatalf("expected a single zero-value placeholder output")
	}
	if blk.Transactions[0].Outputs[0].Value != 0 {
		t.Errorf("placeholder output value = %d, want 0", blk.Transactions[0].Outputs[0].Value)
	}
}

func TestCreateGenesisBlock_NilConfig(t *testing.T) {
	if _, err := CreateGenesisBlock(nil); err == nil {
		t.Error("expected error for nil genesis config")
	}
}

// --- New() Tests ---

func TestNew_NilArgs(t *testing.T) {
	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)
	pow, _ := consensus.NewPoW(1, 0, 3)

	if _, err := New("t", nil, utxoStore, pow); err == nil {
		t.Error("expected error for nil db")
	}
	if _, err := New("t", db, nil, pow); err == nil {
		t.Error("expected error for nil utxo set")
	}
	if _, err := New("t", db, utxoStore, nil); err == nil {
		t.Error("expected error for nil engine")
	}
}

// --- ProcessBlock Tests ---

func TestChain_ProcessBlock_ExtendsTip(t *testing.T) {
	ch, _ := testChain(t)
	pow, _ := consensus.NewPoW(1, 0, 3)

	blk := mineNextBlock(t, ch, pow)
	if err := ch.ProcessBlock(blk); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}

	if ch.Height() != 1 {
		t.Errorf("height = %d, want 1", ch.Height())
	}
	if ch.TipHash() != blk.Hash() {
		t.Error("tip hash mismatch")
	}
	if ch.Supply() != 6000 {
		t.Errorf("supply = %d, want 6000", ch.Supply())
	}
}

func TestChain_ProcessBlock_RejectsDuplicate(t *testing.T) {
	ch, _ := testChain(t)
	pow, _ := consensus.NewPoW(1, 0, 3)

	blk := mineNextBlock(t, ch, pow)
	if err := ch.ProcessBlock(blk); err != nil {
		t.Fatalf("ProcessBlock: %v", err)
	}
	if err := ch.ProcessBlock(blk); err != ErrBlockKnown {
		t.Errorf("expected ErrBlockKnown, got %v", err)
	}
}

func TestChain_ProcessBlock_RejectsBadPrevHash(t *testing.T) {
	ch, _ := testChain(t)
	pow, _ := consensus.NewPoW(1, 0, 3)

	blk := mineNextBlock(t, ch, pow)
	blk.Header.PrevHash = types.Hash{0xFF}
	blk.Header.MerkleRoot = block.ComputeMerkleRoot([]types.Hash{blk.Transactions[0].Hash()})
	if err := pow.Seal(blk); err != nil {
		t.Fatalf("reseal: %v", err)
	}

	if err := ch.ProcessBlock(blk); err == nil {
		t.Error("expected error for unknown prev hash")
	}
}

func TestChain_ProcessBlock_CoinbaseMintLimit(t *testing.T) {
	ch, _ := testChain(t)
	pow, _ := consensus.NewPoW(1, 0, 3)

	state := ch.State()
	overpay := testCoinbaseTx(999999)
	hashes := []types.Hash{overpay.Hash()}
	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   state.TipHash,
		MerkleRoot: block.ComputeMerkleRoot(hashes),
		Timestamp:  1700000001,
		Height:     1,
	}
	if err := pow.Prepare(header); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	blk := block.NewBlock(header, []*tx.Transaction{overpay})
	if err := pow.Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if err := ch.ProcessBlock(blk); err == nil {
		t.Error("expected coinbase reward exceeded error")
	}
}

func TestChain_ProcessBlock_CoinbaseMaturity(t *testing.T) {
	ch, _ := testChain(t)
	pow, _ := consensus.NewPoW(1, 0, 3)

	blk1 := mineNextBlock(t, ch, pow)
	if err := ch.ProcessBlock(blk1); err != nil {
		t.Fatalf("ProcessBlock 1: %v", err)
	}

	coinbaseOut := types.Outpoint{TxID: blk1.Transactions[0].Hash(), Index: 0}
	spend := tx.NewBuilder().AddInput(coinbaseOut).AddOutput(500, types.Address{}).Build()

	blk2 := mineNextBlock(t, ch, pow, spend)
	if err := ch.ProcessBlock(blk2); err == nil {
		t.Error("expected immature coinbase spend to be rejected")
	}
}

// --- Finality ---

func TestChain_IsFinalized(t *testing.T) {
	ch, _ := testChain(t)
	if ch.FinalizedHeight() != 0 {
		t.Errorf("FinalizedHeight at genesis = %d, want 0", ch.FinalizedHeight())
	}
	if !ch.IsFinalized(0) {
		t.Error("genesis should be finalized when chain is shallow")
	}
}
