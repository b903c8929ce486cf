package p2p

import (
	"testing"
	"time"

	"github.com/zion-chain/zion-node/pkg/types"
)

func TestNode_ValidateHandshake_Success(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NetworkID: "test"})
	n.SetGenesisHash(types.Hash{0x01, 0x02, 0x03})

	msg := handshakeMsg{
		Version:      ProtocolVersion,
		Agent:        userAgent,
		Height:       100,
		NetworkMagic: n.magic,
		Nonce:        n.nonce + 1,
	}

	if err := n.validateHandshake(msg); err != nil {
		t.Errorf("expected success, got: %v", err)
	}
}

func TestNode_ValidateHandshake_MagicMismatch(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NetworkID: "test"})
	n.SetGenesisHash(types.Hash{0x01, 0x02, 0x03})

	msg := handshakeMsg{
		Version:      ProtocolVersion,
		NetworkMagic: "some-other-network:deadbeef",
		Nonce:        n.nonce + 1,
	}

	if err := n.validateHandshake(msg); err == nil {
		t.Error("expected network magic mismatch error, got nil")
	}
}

func TestNode_ValidateHandshake_VersionTooLow(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NetworkID: "test"})
	n.SetGenesisHash(types.Hash{0x01})

	msg := handshakeMsg{
		Version:      0, // Below minimum.
		NetworkMagic: n.magic,
		Nonce:        n.nonce + 1,
	}

	if err := n.validateHandshake(msg); err == nil {
		t.Error("expected version too low error, got nil")
	}
}

func TestNode_ValidateHandshake_SelfConnection(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NetworkID: "test"})
	n.SetGenesisHash(types.Hash{0x01})

	msg := handshakeMsg{
		Version:      ProtocolVersion,
		NetworkMagic: n.magic,
		Nonce:        n.nonce, // Matches our own nonce.
	}

	if err := n.validateHandshake(msg); err == nil {
		t.Error("expected self-connection error, got nil")
	}
}

func TestNode_SetGenesisHash_FoldsIntoMagic(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0, NetworkID: "zion-main"})
	before := n.magic

	h := types.Hash{0xaa, 0xbb, 0xcc}
	n.SetGenesisHash(h)

	if n.magic == before {
		t.Error("network_magic should change once genesis hash is set")
	}
	if n.genesisHash != h {
		t.Error("genesis hash not stored")
	}

	// Same genesis on a differently-named network still yields a distinct magic.
	n2 := New(Config{ListenAddr: "127.0.0.1", Port: 0, NetworkID: "zion-test"})
	n2.SetGenesisHash(h)
	if n.magic == n2.magic {
		t.Error("distinct network IDs should not collide even with the same genesis hash")
	}
}

func TestNode_DisconnectPeer_Unknown(t *testing.T) {
	n := New(Config{ListenAddr: "127.0.0.1", Port: 0})
	if err := n.DisconnectPeer(PeerID("203.0.113.9")); err == nil {
		t.Error("DisconnectPeer should fail for an unknown peer")
	}
}

func TestNode_DisconnectPeer(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	connectNodes(t, nodeA, nodeB)

	remote := peerIDOn(nodeA)
	if err := nodeA.DisconnectPeer(remote); err != nil {
		t.Fatalf("DisconnectPeer: %v", err)
	}

	waitForPeers(t, nodeA, 0)
}

func TestTwoNodes_Handshake_Success(t *testing.T) {
	genesis := types.Hash{0x01, 0x02, 0x03}

	nodeA := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeA.SetGenesisHash(genesis)
	nodeA.SetHeightFn(func() uint64 { return 10 })
	if err := nodeA.Start(); err != nil {
		t.Fatalf("start nodeA: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })

	nodeB := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeB.SetGenesisHash(genesis)
	nodeB.SetHeightFn(func() uint64 { return 10 })
	if err := nodeB.Start(); err != nil {
		t.Fatalf("start nodeB: %v", err)
	}
	t.Cleanup(func() { nodeB.Stop() })

	if err := nodeB.Dial(nodeA.Addrs()[0]); err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForPeers(t, nodeA, 1)
	waitForPeers(t, nodeB, 1)
}

func TestTwoNodes_Handshake_GenesisMismatch(t *testing.T) {
	nodeA := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeA.SetGenesisHash(types.Hash{0x01})
	nodeA.SetHeightFn(func() uint64 { return 10 })
	if err := nodeA.Start(); err != nil {
		t.Fatalf("start nodeA: %v", err)
	}
	t.Cleanup(func() { nodeA.Stop() })

	nodeB := New(Config{ListenAddr: "127.0.0.1", Port: 0, NoDiscover: true, NetworkID: "test"})
	nodeB.SetGenesisHash(types.Hash{0xff}) // Different genesis.
	nodeB.SetHeightFn(func() uint64 { return 10 })
	if err := nodeB.Start(); err != nil {
		t.Fatalf("start nodeB: %v", err)
	}
	t.Cleanup(func() { nodeB.Stop() })

	nodeB.Dial(nodeA.Addrs()[0])

	// The handshake should fail closed: neither side ever adds a peer.
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if nodeA.PeerCount() != 0 {
		t.Errorf("nodeA should have 0 peers after genesis mismatch, got %d", nodeA.PeerCount())
	}
	if nodeB.PeerCount() != 0 {
		t.Errorf("nodeB should have 0 peers after genesis mismatch, got %d", nodeB.PeerCount())
	}
}
