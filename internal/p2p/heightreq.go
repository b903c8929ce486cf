package p2p

import (
	"context"
	"encoding/json"
	"fmt"
)

// HeightResponse contains a peer's chain height and tip hash.
type HeightResponse struct {
	Height  uint64 `json:"height"`
	TipHash string `json:"tip_hash"`
}

// RegisterHeightHandler sets the provider used to answer GetTip requests
// from peers.
func (s *Syncer) RegisterHeightHandler(heightFn func() (uint64, string)) {
	s.node.heightProvider = heightFn
}

// RequestHeight queries a specific peer for its chain height and tip hash.
func (s *Syncer) RequestHeight(ctx context.Context, id PeerID) (*HeightResponse, error) {
	p := s.node.getPeer(id)
	if p == nil {
		return nil, fmt.Errorf("unknown peer %s", id)
	}
	payload, err := p.request(ctx, MsgGetTip, struct{}{}, MsgTip)
	if err != nil {
		return nil, fmt.Errorf("request tip: %w", err)
	}
	var resp tipMsg
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode tip response: %w", err)
	}
	return &HeightResponse{Height: resp.Height, TipHash: resp.Hash}, nil
}
