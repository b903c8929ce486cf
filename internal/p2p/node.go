// Package p2p implements peer-to-peer networking: a raw TCP transport
// carrying newline-delimited JSON messages, peer banning, and peer address
// persistence across restarts.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/storage"
	"github.com/zion-chain/zion-node/pkg/block"
	"github.com/zion-chain/zion-node/pkg/tx"
	"github.com/zion-chain/zion-node/pkg/types"
	"golang.org/x/time/rate"
)

const (
	// peerConnectTimeout bounds a single outbound dial attempt.
	peerConnectTimeout = 5 * time.Second

	// seedRetryInterval is how often connectSeedsLoop retries when peerless.
	seedRetryInterval = 10 * time.Second

	// banPruneInterval is how often expired bans are swept from memory/disk.
	banPruneInterval = 10 * time.Minute
)

// Config holds P2P node configuration.
type Config struct {
	ListenAddr string
	Port       int
	Seeds      []string
	MaxPeers   int
	NoDiscover bool       // disable background seed-retry and persisted-peer reconnect
	DB         storage.DB // peer/ban persistence (nil disables both, for tests)
	NetworkID  string     // isolates the network_magic per chain
}

// Node is a raw-TCP P2P node.
type Node struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	selfID PeerID
	magic  string
	nonce  uint64

	listener net.Listener

	mu    sync.RWMutex
	peers map[PeerID]*Peer

	BanManager *BanManager // nil until Start
	peerStore  *PeerStore  // nil if Config.DB is nil

	genesisHash types.Hash
	heightFn    func() uint64

	txHandler       func(PeerID, []byte)
	blockHandler    func(PeerID, []byte)
	onPeerConnected func()

	blockProvider  func(fromHeight uint64, max uint32) []*block.Block
	heightProvider func() (uint64, string)
	txProvider     func(id string) *tx.Transaction

	ibdMu sync.Mutex
	inIBD bool

	ipLimMu    sync.Mutex
	ipLimiters map[string]*rate.Limiter
}

// New creates a new P2P node with the given config.
func New(cfg Config) *Node {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
		peers:      make(map[PeerID]*Peer),
		magic:      cfg.NetworkID,
		nonce:      randomNonce(),
		selfID:     PeerID(randomSessionID()),
		ipLimiters: make(map[string]*rate.Limiter),
	}
	if cfg.DB != nil {
		n.peerStore = NewPeerStore(cfg.DB)
	}
	return n
}

func randomNonce() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

func randomSessionID() string {
	var buf [8]byte
	rand.Read(buf[:])
	return fmt.Sprintf("%x", buf)
}

// SetGenesisHash folds the genesis hash into the network_magic advertised
// during handshake, so peers on an incompatible chain are rejected at the
// same point peers on a different network would be.
func (n *Node) SetGenesisHash(h types.Hash) {
	n.genesisHash = h
	base := n.cfg.NetworkID
	if base == "" {
		base = "zion"
	}
	n.magic = base + ":" + h.String()[:16]
}

// SetHeightFn sets the function used to report best height during handshake.
// GetTip queries are answered by the provider set with
// Syncer.RegisterHeightHandler.
func (n *Node) SetHeightFn(fn func() uint64) {
	n.heightFn = fn
}

// SetPeerConnectedHandler registers a callback invoked after any peer
// completes its handshake and is added to the peer set.
func (n *Node) SetPeerConnectedHandler(fn func()) {
	n.onPeerConnected = fn
}

// SetTxHandler registers a callback for transactions pulled in response to
// a NewTx announcement. The callback receives the sender and the marshaled
// transaction.
func (n *Node) SetTxHandler(fn func(from PeerID, data []byte)) {
	n.txHandler = fn
}

// SetBlockHandler registers a callback for blocks pulled in response to a
// NewBlock announcement. The callback receives the sender and the marshaled
// block.
func (n *Node) SetBlockHandler(fn func(from PeerID, data []byte)) {
	n.blockHandler = fn
}

// SetIBD marks the node as mid initial-block-download. While true, gossip
// NewBlock announcements are ignored (spec: IBD suppresses normal gossip).
func (n *Node) SetIBD(v bool) {
	n.ibdMu.Lock()
	n.inIBD = v
	n.ibdMu.Unlock()
}

func (n *Node) isInIBD() bool {
	n.ibdMu.Lock()
	defer n.ibdMu.Unlock()
	return n.inIBD
}

// Start opens the listening socket, connects to seeds, and begins the
// background peer-persistence and ban-pruning loops.
func (n *Node) Start() error {
	if n.cfg.DB != nil {
		banStore := NewBanStore(n.cfg.DB)
		n.BanManager = NewBanManager(banStore, n)
		n.BanManager.LoadBans()
	} else {
		n.BanManager = NewBanManager(nil, n)
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.ListenAddr, n.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	n.listener = ln

	n.wg.Add(1)
	go n.acceptLoop()

	logger := klog.WithComponent("p2p")

	if len(n.cfg.Seeds) > 0 {
		logger.Info().Int("seeds", len(n.cfg.Seeds)).Msg("Connecting to seeds...")
		n.connectSeedsOnce()
		if !n.cfg.NoDiscover {
			n.wg.Add(1)
			go n.connectSeedsLoop()
		}
	}

	if n.peerStore != nil && !n.cfg.NoDiscover {
		n.wg.Add(1)
		go n.reconnectPersistedPeers()
		n.wg.Add(1)
		go n.runPersistLoop()
	}

	n.wg.Add(1)
	go n.runBanPruneLoop()

	return nil
}

// Stop cancels all background loops, closes the listener, and disconnects
// every peer. It blocks until everything has unwound.
func (n *Node) Stop() error {
	n.persistPeers()
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	for _, p := range peers {
		p.close()
	}

	n.wg.Wait()
	return nil
}

// ID returns this node's ephemeral session identifier (log/diagnostics use
// only — it carries no cryptographic meaning on the wire).
func (n *Node) ID() PeerID {
	return n.selfID
}

// Addrs returns the address this node is listening on.
func (n *Node) Addrs() []string {
	if n.listener == nil {
		return nil
	}
	return []string{n.listener.Addr().String()}
}

// Dial connects to addr as an explicit outbound peer (used by tests and
// manual peer addition, outside the seed list).
func (n *Node) Dial(addr string) error {
	return n.dial(addr, "manual")
}

func (n *Node) dial(addr, source string) error {
	conn, err := net.DialTimeout("tcp", addr, peerConnectTimeout)
	if err != nil {
		return err
	}
	n.wg.Add(1)
	go n.handleConn(conn, true, source)
	return nil
}

// DisconnectPeer closes the connection to id and removes it from the peer set.
func (n *Node) DisconnectPeer(id PeerID) error {
	n.mu.RLock()
	p, ok := n.peers[id]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown peer %s", id)
	}
	p.close()
	return nil
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// PeerList returns a snapshot of connected peers.
func (n *Node) PeerList() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}

func (n *Node) getPeer(id PeerID) *Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers[id]
}

// addPeer registers p if no connection to the same identity already exists
// and, for inbound connections, there is room under MaxPeers while still
// reserving outboundReserved slots for our own outbound dials.
func (n *Node) addPeer(p *Peer) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.peers[p.ID]; exists {
		return false
	}

	if n.cfg.MaxPeers > 0 {
		if p.Outbound {
			if len(n.peers) >= n.cfg.MaxPeers {
				return false
			}
		} else {
			inbound := 0
			for _, existing := range n.peers {
				if !existing.Outbound {
					inbound++
				}
			}
			if inbound >= n.cfg.MaxPeers-outboundReserved {
				return false
			}
		}
	}

	n.peers[p.ID] = p
	return true
}

func (n *Node) removePeer(id PeerID) {
	n.mu.Lock()
	delete(n.peers, id)
	n.mu.Unlock()
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	logger := klog.WithComponent("p2p")

	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
				return
			default:
				logger.Debug().Err(err).Msg("accept failed")
				continue
			}
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

		if n.BanManager != nil && n.BanManager.IsBanned(PeerID(host)) {
			conn.Close()
			continue
		}
		if !n.allowInboundConnect(host) {
			conn.Close()
			continue
		}

		n.wg.Add(1)
		go n.handleConn(conn, false, "inbound")
	}
}

// allowInboundConnect rate-limits new connection attempts per remote IP
// (spec: "Per-IP connection rate limit with a short temp-ban on exceed").
func (n *Node) allowInboundConnect(host string) bool {
	n.ipLimMu.Lock()
	lim, ok := n.ipLimiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 3)
		n.ipLimiters[host] = lim
	}
	n.ipLimMu.Unlock()
	return lim.Allow()
}

func (n *Node) handleConn(conn net.Conn, outbound bool, source string) {
	defer n.wg.Done()
	logger := klog.WithComponent("p2p")

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	remoteID := PeerID(host)

	if n.BanManager != nil && n.BanManager.IsBanned(remoteID) {
		conn.Close()
		return
	}

	p := newPeer(conn, remoteID, outbound, source)

	if err := n.performHandshake(p); err != nil {
		logger.Debug().Err(err).Str("peer", string(remoteID)).Msg("Handshake failed")
		if n.BanManager != nil {
			n.BanManager.RecordOffense(remoteID, PenaltyHandshakeFail, err.Error())
		}
		conn.Close()
		return
	}

	if !n.addPeer(p) {
		conn.Close()
		return
	}
	defer n.removePeer(p.ID)
	defer p.close()

	logger.Info().Str("peer", string(remoteID)).Bool("outbound", outbound).Str("source", source).Msg("Peer connected")

	if n.onPeerConnected != nil {
		go n.onPeerConnected()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		p.writeLoop()
	}()

	n.readLoop(p)
}

func (n *Node) readLoop(p *Peer) {
	for {
		env, err := p.readEnvelope()
		if err != nil {
			return
		}
		if !n.isInIBD() {
			if !p.msgLimiter.Allow() {
				if n.BanManager != nil {
					n.BanManager.RecordOffense(p.ID, PenaltyFlood, "message rate exceeded")
				}
				return
			}
		}
		n.dispatch(p, env)
	}
}

func (n *Node) dispatch(p *Peer, env *envelope) {
	switch env.Type {
	case MsgBlocks, MsgBlocksIBD, MsgTip, MsgTx:
		p.mu.Lock()
		if p.pendingType == env.Type {
			ch := p.pendingCh
			p.pendingType = ""
			p.pendingCh = nil
			p.mu.Unlock()
			select {
			case ch <- env.Payload:
			default:
			}
			return
		}
		p.mu.Unlock()
		// Unsolicited response for nothing we asked: ignore.
	case MsgNewBlock:
		n.handleNewBlock(p, env.Payload)
	case MsgNewTx:
		n.handleNewTx(p, env.Payload)
	case MsgGetBlocks:
		n.handleGetBlocks(p, env.Payload)
	case MsgGetBlocksIBD:
		n.handleGetBlocksIBD(p, env.Payload)
	case MsgGetTip:
		n.handleGetTip(p)
	case MsgGetTx:
		n.handleGetTx(p, env.Payload)
	default:
		if p.recordMisbehavior() > 10 && n.BanManager != nil {
			n.BanManager.RecordOffense(p.ID, PenaltyFlood, "unknown message type: "+string(env.Type))
		}
	}
}

func (n *Node) handleNewBlock(p *Peer, payload json.RawMessage) {
	go func() {
		var msg newBlockMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		if n.isInIBD() {
			return // gossip NewBlock is ignored while catching up
		}
		ctx, cancel := context.WithTimeout(n.ctx, requestTimeout)
		defer cancel()
		respPayload, err := p.request(ctx, MsgGetBlocks, getBlocksMsg{FromHeight: msg.Height, Limit: 1}, MsgBlocks)
		if err != nil {
			return
		}
		var resp blocksMsg
		if err := json.Unmarshal(respPayload, &resp); err != nil || len(resp.Blocks) == 0 {
			return
		}
		data, err := json.Marshal(resp.Blocks[0])
		if err != nil {
			return
		}
		if n.blockHandler != nil {
			n.invokeBlockHandler(p.ID, data)
		}
	}()
}

// invokeBlockHandler runs the registered block handler with panic recovery,
// so a misbehaving callback cannot take down the read loop.
func (n *Node) invokeBlockHandler(from PeerID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			klog.WithComponent("p2p").Error().Interface("panic", r).Msg("block handler panicked")
		}
	}()
	n.blockHandler(from, data)
}

func (n *Node) handleNewTx(p *Peer, payload json.RawMessage) {
	go func() {
		var msg newTxMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(n.ctx, requestTimeout)
		defer cancel()
		respPayload, err := p.request(ctx, MsgGetTx, getTxMsg{ID: msg.ID}, MsgTx)
		if err != nil {
			return
		}
		var resp txMsg
		if err := json.Unmarshal(respPayload, &resp); err != nil || resp.Transaction == nil {
			return
		}
		data, err := json.Marshal(resp.Transaction)
		if err != nil {
			return
		}
		if n.txHandler != nil {
			n.invokeTxHandler(p.ID, data)
		}
	}()
}

// invokeTxHandler runs the registered tx handler with panic recovery, so a
// misbehaving callback cannot take down the read loop.
func (n *Node) invokeTxHandler(from PeerID, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			klog.WithComponent("p2p").Error().Interface("panic", r).Msg("tx handler panicked")
		}
	}()
	n.txHandler(from, data)
}

func (n *Node) handleGetBlocks(p *Peer, payload json.RawMessage) {
	go func() {
		var req getBlocksMsg
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}
		limit := req.Limit
		if limit == 0 || limit > maxBlocksPerRequest {
			limit = maxBlocksPerRequest
		}
		var blocks []*block.Block
		if n.blockProvider != nil {
			blocks = n.blockProvider(req.FromHeight, limit)
		}
		p.send(MsgBlocks, blocksMsg{Blocks: blocks})
	}()
}

func (n *Node) handleGetBlocksIBD(p *Peer, payload json.RawMessage) {
	go func() {
		var req getBlocksIBDMsg
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}
		limit := req.Limit
		if limit == 0 || limit > IBDBatchSize {
			limit = IBDBatchSize
		}
		var blocks []*block.Block
		if n.blockProvider != nil {
			blocks = n.blockProvider(req.FromHeight, limit)
		}
		if uint32(len(blocks)) > limit {
			blocks = blocks[:limit]
		}
		var remaining uint64
		if n.heightProvider != nil && len(blocks) > 0 {
			localHeight, _ := n.heightProvider()
			lastHeight := blocks[len(blocks)-1].Header.Height
			if localHeight > lastHeight {
				remaining = localHeight - lastHeight
			}
		}
		p.send(MsgBlocksIBD, blocksIBDMsg{Blocks: blocks, Remaining: remaining})
	}()
}

func (n *Node) handleGetTip(p *Peer) {
	go func() {
		var height uint64
		var hash string
		if n.heightProvider != nil {
			height, hash = n.heightProvider()
		}
		p.send(MsgTip, tipMsg{Height: height, Hash: hash})
	}()
}

func (n *Node) handleGetTx(p *Peer, payload json.RawMessage) {
	go func() {
		var req getTxMsg
		if err := json.Unmarshal(payload, &req); err != nil {
			return
		}
		var t *tx.Transaction
		if n.txProvider != nil {
			t = n.txProvider(req.ID)
		}
		p.send(MsgTx, txMsg{Transaction: t})
	}()
}

// connectSeedsOnce tries to connect to each configured seed once (blocking).
func (n *Node) connectSeedsOnce() {
	logger := klog.WithComponent("p2p")
	for _, addr := range n.cfg.Seeds {
		if err := n.dial(addr, "seed"); err != nil {
			logger.Warn().Str("addr", addr).Err(err).Msg("Seed connect failed")
		} else {
			logger.Info().Str("addr", addr).Msg("Seed connected")
		}
	}
}

// connectSeedsLoop retries seed connections while peerless.
func (n *Node) connectSeedsLoop() {
	defer n.wg.Done()
	logger := klog.WithComponent("p2p")

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(seedRetryInterval):
			if n.PeerCount() == 0 {
				logger.Info().Int("seeds", len(n.cfg.Seeds)).Msg("No peers, retrying seeds...")
				n.connectSeedsOnce()
			}
		}
	}
}

func (n *Node) reconnectPersistedPeers() {
	defer n.wg.Done()
	if n.peerStore == nil {
		return
	}

	n.peerStore.PruneStale(staleThreshold)
	records, err := n.peerStore.LoadAll()
	if err != nil {
		return
	}

	for _, rec := range records {
		for _, addr := range rec.Addrs {
			if err := n.dial(addr, "persisted"); err == nil {
				break
			}
		}
	}
}

func (n *Node) persistPeers() {
	if n.peerStore == nil {
		return
	}

	n.mu.RLock()
	snapshot := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		snapshot = append(snapshot, p)
	}
	n.mu.RUnlock()

	now := time.Now().Unix()
	for _, p := range snapshot {
		if !p.Outbound {
			continue // only dial-able (outbound) addresses are useful to persist
		}
		rec := PeerRecord{
			ID:       string(p.ID),
			Addrs:    []string{p.Addr},
			LastSeen: now,
			Source:   p.Source,
		}
		n.peerStore.Save(rec) // best-effort
	}
}

func (n *Node) runPersistLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.persistPeers()
			n.peerStore.PruneStale(staleThreshold)
		}
	}
}

func (n *Node) runBanPruneLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(banPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.BanManager != nil {
				n.BanManager.pruneExpired()
			}
		}
	}
}
