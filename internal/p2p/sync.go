package p2p

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zion-chain/zion-node/pkg/block"
	"github.com/zion-chain/zion-node/pkg/tx"
)

// Syncer drives block synchronization requests against specific peers and
// serves the corresponding provider-backed responses.
type Syncer struct {
	node *Node
}

// NewSyncer creates a new chain syncer attached to the given node.
func NewSyncer(node *Node) *Syncer {
	return &Syncer{node: node}
}

// RegisterHandler sets the provider used to answer GetBlocks/GetBlocksIBD
// requests from peers.
func (s *Syncer) RegisterHandler(provider func(fromHeight uint64, max uint32) []*block.Block) {
	s.node.blockProvider = provider
}

// RegisterTxProvider sets the provider used to answer GetTx requests from
// peers (mempool lookup, falling back to confirmed chain history).
func (s *Syncer) RegisterTxProvider(provider func(id string) *tx.Transaction) {
	s.node.txProvider = provider
}

// RequestBlocks asks a specific peer for a contiguous range of blocks,
// used for ordinary (non-IBD) catch-up and fork-point walkback.
func (s *Syncer) RequestBlocks(ctx context.Context, id PeerID, fromHeight uint64, maxBlocks uint32) ([]*block.Block, error) {
	p := s.node.getPeer(id)
	if p == nil {
		return nil, fmt.Errorf("unknown peer %s", id)
	}
	payload, err := p.request(ctx, MsgGetBlocks, getBlocksMsg{FromHeight: fromHeight, Limit: maxBlocks}, MsgBlocks)
	if err != nil {
		return nil, fmt.Errorf("request blocks: %w", err)
	}
	var resp blocksMsg
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode blocks response: %w", err)
	}
	return resp.Blocks, nil
}

// RequestBlocksIBD asks a specific peer for a batch of blocks during initial
// block download, returning the batch plus how many blocks remain beyond it.
func (s *Syncer) RequestBlocksIBD(ctx context.Context, id PeerID, fromHeight uint64, maxBlocks uint32) ([]*block.Block, uint64, error) {
	p := s.node.getPeer(id)
	if p == nil {
		return nil, 0, fmt.Errorf("unknown peer %s", id)
	}
	payload, err := p.request(ctx, MsgGetBlocksIBD, getBlocksIBDMsg{FromHeight: fromHeight, Limit: maxBlocks}, MsgBlocksIBD)
	if err != nil {
		return nil, 0, fmt.Errorf("request blocks (ibd): %w", err)
	}
	var resp blocksIBDMsg
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode blocks_ibd response: %w", err)
	}
	return resp.Blocks, resp.Remaining, nil
}
