package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PeerID identifies a remote node. Since the wire protocol carries no public
// key material, identity is the remote connection's IP address — the unit
// bans and rate limits are naturally scoped to.
type PeerID string

func (id PeerID) String() string { return string(id) }

// Peer is one connected remote node over a raw TCP connection.
type Peer struct {
	ID          PeerID
	Addr        string // remote "ip:port" of the connection
	ConnectedAt time.Time
	Outbound    bool
	Source      string // "seed", "inbound", "persisted", "manual"

	conn    net.Conn
	scanner *bufio.Scanner
	sendCh  chan []byte
	closeCh chan struct{}
	closeOnce sync.Once

	msgLimiter *rate.Limiter

	mu          sync.Mutex
	height      uint64
	misbehavior int

	pendingType MsgType
	pendingCh   chan json.RawMessage
	reqMu       sync.Mutex
}

func newPeer(conn net.Conn, id PeerID, outbound bool, source string) *Peer {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Peer{
		ID:          id,
		Addr:        conn.RemoteAddr().String(),
		ConnectedAt: time.Now(),
		Outbound:    outbound,
		Source:      source,
		conn:        conn,
		scanner:     sc,
		sendCh:      make(chan []byte, 256),
		closeCh:     make(chan struct{}),
		msgLimiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 50),
	}
}

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.conn.Close()
	})
}

// writeLine marshals and writes a single frame directly on the connection.
// Used only for the synchronous handshake exchange, before writeLoop starts.
func (p *Peer) writeLine(typ MsgType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	line, err := json.Marshal(envelope{Type: typ, Payload: data})
	if err != nil {
		return err
	}
	line = append(line, '\n')
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = p.conn.Write(line)
	return err
}

// readEnvelope blocks for the next newline-delimited frame. Used both during
// handshake and, indirectly, by the node's per-peer read loop.
func (p *Peer) readEnvelope() (*envelope, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var env envelope
	if err := json.Unmarshal(p.scanner.Bytes(), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, nil
}

// writeLoop drains sendCh and writes frames queued by send. Runs for the
// lifetime of the connection.
func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.closeCh:
			return
		case line := <-p.sendCh:
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := p.conn.Write(line); err != nil {
				p.close()
				return
			}
		}
	}
}

// send queues a frame for asynchronous delivery via writeLoop.
func (p *Peer) send(typ MsgType, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	line, err := json.Marshal(envelope{Type: typ, Payload: data})
	if err != nil {
		return err
	}
	line = append(line, '\n')
	select {
	case p.sendCh <- line:
		return nil
	case <-p.closeCh:
		return fmt.Errorf("peer closed")
	}
}

// request sends reqType and blocks until a respType frame arrives, ctx is
// done, or the peer disconnects. Only one request may be outstanding on a
// peer at a time; concurrent callers serialize on reqMu.
func (p *Peer) request(ctx context.Context, reqType MsgType, reqPayload interface{}, respType MsgType) (json.RawMessage, error) {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	ch := make(chan json.RawMessage, 1)
	p.mu.Lock()
	p.pendingType = respType
	p.pendingCh = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.pendingType = ""
		p.pendingCh = nil
		p.mu.Unlock()
	}()

	if err := p.send(reqType, reqPayload); err != nil {
		return nil, err
	}

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closeCh:
		return nil, fmt.Errorf("peer closed")
	}
}

// recordMisbehavior bumps the peer's local counter, returning the new total.
func (p *Peer) recordMisbehavior() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.misbehavior++
	return p.misbehavior
}
