package revenue

import (
	"io"
	"net"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
)

// ProxyListener exposes a local TCP port that transparently forwards raw
// bytes to the upstream pool connection, for debugging with an external
// miner or packet capture pointed at a coin's real pool (spec.md §4.7's
// "optional local-listening port").
type ProxyListener struct {
	coin       string
	listenAddr string
	upstream   string
}

func newProxyListener(coin, listenAddr, upstream string) *ProxyListener {
	return &ProxyListener{coin: coin, listenAddr: listenAddr, upstream: upstream}
}

func (p *ProxyListener) run(stopCh <-chan struct{}) {
	ln, err := net.Listen("tcp", p.listenAddr)
	if err != nil {
		klog.Revenue.Error().Str("coin", p.coin).Str("addr", p.listenAddr).Err(err).Msg("Debug proxy failed to listen")
		return
	}
	defer ln.Close()
	klog.Revenue.Info().Str("coin", p.coin).Str("addr", p.listenAddr).Str("upstream", p.upstream).Msg("Debug proxy listening")

	go func() {
		<-stopCh
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
				klog.Revenue.Warn().Str("coin", p.coin).Err(err).Msg("Debug proxy accept failed")
				return
			}
		}
		go p.relay(conn)
	}
}

func (p *ProxyListener) relay(local net.Conn) {
	defer local.Close()

	remote, err := net.DialTimeout("tcp", p.upstream, 15*time.Second)
	if err != nil {
		klog.Revenue.Warn().Str("coin", p.coin).Err(err).Msg("Debug proxy dial upstream failed")
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	copyAndSignal := func(dst, src net.Conn) {
		io.Copy(dst, src)
		done <- struct{}{}
	}
	go copyAndSignal(remote, local)
	go copyAndSignal(local, remote)
	<-done
}

// runDebugProxy starts the client's debug proxy and blocks until stopCh
// closes, matching the shape of Run's sessionStratum/sessionCryptoNote calls.
func (c *Client) runDebugProxy(stopCh <-chan struct{}) {
	newProxyListener(c.coin, c.proxyListenAddr, c.url).run(stopCh)
}
