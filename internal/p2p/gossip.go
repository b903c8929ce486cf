package p2p

import (
	"github.com/zion-chain/zion-node/pkg/block"
	"github.com/zion-chain/zion-node/pkg/tx"
)

// BroadcastTx floods a NewTx announcement to every connected peer. Peers
// that want the body pull it back via GetTx.
func (n *Node) BroadcastTx(t *tx.Transaction) error {
	n.floodAll(MsgNewTx, newTxMsg{ID: t.Hash().String()})
	return nil
}

// BroadcastBlock floods a NewBlock announcement to every connected peer.
// Peers that want the body pull it back via GetBlocks.
func (n *Node) BroadcastBlock(b *block.Block) error {
	n.floodAll(MsgNewBlock, newBlockMsg{Height: b.Header.Height, Hash: b.Hash().String()})
	return nil
}

func (n *Node) floodAll(typ MsgType, payload interface{}) {
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()

	for _, p := range peers {
		p.send(typ, payload)
	}
}
