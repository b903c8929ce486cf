package p2p

import (
	"encoding/json"
	"time"

	"github.com/zion-chain/zion-node/pkg/block"
	"github.com/zion-chain/zion-node/pkg/tx"
)

// ProtocolVersion is the current wire protocol version. Peers that advertise
// an older version are rejected during handshake.
const ProtocolVersion = 1

// userAgent identifies this implementation in the handshake.
const userAgent = "zion-node/1.0"

const (
	// handshakeTimeout bounds how long the initial Handshake/HandshakeAck
	// exchange may take before the connection is dropped.
	handshakeTimeout = 10 * time.Second

	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 30 * time.Second

	// maxLineSize caps a single newline-delimited JSON frame, IBD batches
	// included. A longer frame ends the peer's read loop.
	maxLineSize = 16 * 1024 * 1024

	// ibdMaxLineSize is a larger cap; the frame reader does not apply it.
	ibdMaxLineSize = 64 * 1024 * 1024

	// requestTimeout bounds a single outstanding request/response round trip.
	requestTimeout = 30 * time.Second

	// maxBlocksPerRequest caps a single Blocks response.
	maxBlocksPerRequest = 500

	// IBDBatchSize is the batch size requested via GetBlocksIBD while in IBD.
	IBDBatchSize = 500

	// outboundReserved keeps this many outbound slots free even when
	// MaxPeers inbound connections are already attached (anti-eclipse).
	outboundReserved = 8
)

// MsgType identifies the payload carried by an envelope.
type MsgType string

const (
	MsgHandshake    MsgType = "handshake"
	MsgHandshakeAck MsgType = "handshake_ack"
	MsgNewBlock     MsgType = "new_block"
	MsgGetBlocks    MsgType = "get_blocks"
	MsgBlocks       MsgType = "blocks"
	MsgGetBlocksIBD MsgType = "get_blocks_ibd"
	MsgBlocksIBD    MsgType = "blocks_ibd"
	MsgGetTip       MsgType = "get_tip"
	MsgTip          MsgType = "tip"
	MsgNewTx        MsgType = "new_tx"
	MsgGetTx        MsgType = "get_tx"
	MsgTx           MsgType = "tx"
)

// envelope is the single newline-delimited JSON frame exchanged on the wire.
// Exactly one logical message is carried per line.
type envelope struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// handshakeMsg is the first frame either endpoint sends after connecting.
type handshakeMsg struct {
	Version      int    `json:"version"`
	Agent        string `json:"agent"`
	Height       uint64 `json:"height"`
	NetworkMagic string `json:"network_magic"`
	Nonce        uint64 `json:"nonce"`
}

// handshakeAckMsg is sent once a peer's Handshake has been validated.
type handshakeAckMsg struct {
	Version int    `json:"version"`
	Height  uint64 `json:"height"`
	Nonce   uint64 `json:"nonce"`
}

// newBlockMsg announces a block without carrying its body.
type newBlockMsg struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// getBlocksMsg requests a contiguous range of blocks for normal gossip sync.
type getBlocksMsg struct {
	FromHeight uint64 `json:"from_height"`
	Limit      uint32 `json:"limit"`
}

// blocksMsg carries the blocks requested by GetBlocks.
type blocksMsg struct {
	Blocks []*block.Block `json:"blocks"`
}

// getBlocksIBDMsg requests a batch of blocks during initial block download.
type getBlocksIBDMsg struct {
	FromHeight uint64 `json:"from_height"`
	Limit      uint32 `json:"limit"`
}

// blocksIBDMsg carries an IBD batch plus how many blocks remain beyond it.
type blocksIBDMsg struct {
	Blocks    []*block.Block `json:"blocks"`
	Remaining uint64         `json:"remaining"`
}

// tipMsg answers a GetTip query.
type tipMsg struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// newTxMsg announces a transaction id without carrying its body.
type newTxMsg struct {
	ID string `json:"id"`
}

// getTxMsg requests a transaction by id.
type getTxMsg struct {
	ID string `json:"id"`
}

// txMsg carries the transaction requested by GetTx. Transaction is nil if
// the responder does not have it.
type txMsg struct {
	Transaction *tx.Transaction `json:"transaction"`
}
