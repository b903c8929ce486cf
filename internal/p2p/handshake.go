package p2p

import (
	"context"
	"encoding/json"
	"fmt"
)

// performHandshake runs the symmetric Handshake/HandshakeAck exchange for a
// freshly-connected peer, in both directions: each side sends a Handshake
// and expects a HandshakeAck back. Returns an error if the peer is on a
// different network, an incompatible protocol version, or turns out to be
// ourselves (matching nonce).
func (n *Node) performHandshake(p *Peer) error {
	ctx, cancel := context.WithTimeout(n.ctx, handshakeTimeout)
	defer cancel()

	var height uint64
	if n.heightFn != nil {
		height = n.heightFn()
	}

	ours := handshakeMsg{
		Version:      ProtocolVersion,
		Agent:        userAgent,
		Height:       height,
		NetworkMagic: n.magic,
		Nonce:        n.nonce,
	}
	if err := p.writeLine(MsgHandshake, ours); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	env, err := readEnvelopeCtx(ctx, p)
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if env.Type != MsgHandshake {
		return fmt.Errorf("expected handshake, got %s", env.Type)
	}
	var peerMsg handshakeMsg
	if err := unmarshalPayload(env, &peerMsg); err != nil {
		return fmt.Errorf("decode handshake: %w", err)
	}
	if err := n.validateHandshake(peerMsg); err != nil {
		return err
	}

	ack := handshakeAckMsg{Version: ProtocolVersion, Height: height, Nonce: n.nonce}
	if err := p.writeLine(MsgHandshakeAck, ack); err != nil {
		return fmt.Errorf("send handshake_ack: %w", err)
	}

	env, err = readEnvelopeCtx(ctx, p)
	if err != nil {
		return fmt.Errorf("read handshake_ack: %w", err)
	}
	if env.Type != MsgHandshakeAck {
		return fmt.Errorf("expected handshake_ack, got %s", env.Type)
	}
	var peerAck handshakeAckMsg
	if err := unmarshalPayload(env, &peerAck); err != nil {
		return fmt.Errorf("decode handshake_ack: %w", err)
	}
	if peerAck.Nonce == n.nonce {
		return fmt.Errorf("self-connection detected (nonce match)")
	}
	if peerAck.Version < ProtocolVersion {
		return fmt.Errorf("protocol version too low: peer=%d min=%d", peerAck.Version, ProtocolVersion)
	}

	p.mu.Lock()
	p.height = peerAck.Height
	p.mu.Unlock()

	return nil
}

// validateHandshake checks a peer's Handshake frame for compatibility.
func (n *Node) validateHandshake(msg handshakeMsg) error {
	if msg.NetworkMagic == "" || msg.NetworkMagic != n.magic {
		return fmt.Errorf("network magic mismatch: peer=%q local=%q", msg.NetworkMagic, n.magic)
	}
	if msg.Nonce == n.nonce {
		return fmt.Errorf("self-connection detected (nonce match)")
	}
	if msg.Version < ProtocolVersion {
		return fmt.Errorf("protocol version too low: peer=%d min=%d", msg.Version, ProtocolVersion)
	}
	return nil
}

// readEnvelopeCtx reads one frame, respecting ctx cancellation by racing the
// blocking scanner read against the context on a background goroutine.
func readEnvelopeCtx(ctx context.Context, p *Peer) (*envelope, error) {
	type result struct {
		env *envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := p.readEnvelope()
		ch <- result{env, err}
	}()

	select {
	case r := <-ch:
		return r.env, r.err
	case <-ctx.Done():
		p.close()
		return nil, ctx.Err()
	}
}

func unmarshalPayload(env *envelope, v interface{}) error {
	return json.Unmarshal(env.Payload, v)
}
