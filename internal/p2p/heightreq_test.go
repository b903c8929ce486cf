package p2p

import (
	"context"
	"testing"
	"time"
)

func TestHeightRequest_RoundTrip(t *testing.T) {
	nodeA := startTestNode(t) // provider: has a chain
	nodeB := startTestNode(t) // requester

	syncerA := NewSyncer(nodeA)
	syncerA.RegisterHeightHandler(func() (uint64, string) {
		return 42, "abcdef1234567890"
	})

	connectNodes(t, nodeA, nodeB)

	syncerB := NewSyncer(nodeB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := syncerB.RequestHeight(ctx, peerIDOn(nodeB))
	if err != nil {
		t.Fatalf("RequestHeight: %v", err)
	}

	if resp.Height != 42 {
		t.Errorf("Height = %d, want 42", resp.Height)
	}
	if resp.TipHash != "abcdef1234567890" {
		t.Errorf("TipHash = %s, want abcdef1234567890", resp.TipHash)
	}
}

func TestHeightRequest_NoPeer(t *testing.T) {
	node := startTestNode(t)
	syncer := NewSyncer(node)

	// A peer ID that was never added to this node's peer map.
	fakePeer := PeerID("203.0.113.7")

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	_, err := syncer.RequestHeight(ctx, fakePeer)
	if err == nil {
		t.Fatal("expected error for unknown peer")
	}
}
