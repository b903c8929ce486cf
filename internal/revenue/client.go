package revenue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/scheduler"
)

const maxLineSize = 256 * 1024

// JobSink receives canonical jobs parsed off an upstream connection. The
// stream scheduler (internal/scheduler.Scheduler) implements this directly.
type JobSink interface {
	UpdateExternalJob(job scheduler.ExternalJob)
}

// Client maintains one upstream connection to a single external coin's pool,
// in whichever dialect that pool speaks (spec.md §4.7).
type Client struct {
	coin      string
	url       string
	wallet    string
	worker    string
	protocol  Protocol
	algorithm string

	proxyListenAddr string

	sink  JobSink
	stats *poolStats

	submitCh chan ShareSubmission

	minBackoff, maxBackoff time.Duration

	mu                sync.Mutex
	currentDifficulty float64
	currentTarget     string
	currentExtranonce string
}

func newClient(coin, url, wallet, worker string, protocol Protocol, algorithm, proxyListenAddr string, sink JobSink, stats *poolStats, minBackoff, maxBackoff time.Duration) *Client {
	return &Client{
		coin:            strings.ToLower(coin),
		url:             cleanStratumURL(url),
		wallet:          wallet,
		worker:          worker,
		protocol:        protocol,
		algorithm:       algorithm,
		proxyListenAddr: proxyListenAddr,
		sink:            sink,
		stats:           stats,
		submitCh:        make(chan ShareSubmission, 64),
		minBackoff:      minBackoff,
		maxBackoff:      maxBackoff,
	}
}

func cleanStratumURL(url string) string {
	url = strings.TrimPrefix(url, "stratum+tcp://")
	url = strings.TrimPrefix(url, "stratum://")
	return url
}

// Run drives the client's reconnect loop until stopCh closes.
func (c *Client) Run(stopCh <-chan struct{}) {
	if c.proxyListenAddr != "" {
		go c.runDebugProxy(stopCh)
	}

	backoff := c.minBackoff
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		klog.Revenue.Info().Str("coin", c.coin).Str("url", c.url).Msg("Connecting to external pool")
		var err error
		if c.protocol == CryptoNoteStratum {
			err = c.sessionCryptoNote(stopCh)
		} else {
			err = c.sessionStratum(stopCh)
		}
		c.stats.connected.Store(false)

		if err != nil {
			klog.Revenue.Error().Str("coin", c.coin).Err(err).Msg("External pool connection error, reconnecting")
			backoff = nextBackoff(backoff, c.maxBackoff)
		} else {
			backoff = c.minBackoff
		}

		select {
		case <-stopCh:
			return
		case <-time.After(backoff):
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// QueueSubmit enqueues a share for resubmission upstream. Drops and logs if
// the bounded queue (spec.md §5 "bounded (64); over-capacity submissions are
// dropped and counted") is full.
func (c *Client) QueueSubmit(sub ShareSubmission) {
	select {
	case c.submitCh <- sub:
	default:
		klog.Revenue.Warn().Str("coin", c.coin).Str("job_id", sub.JobID).Msg("Submit queue full, dropping share")
	}
}

func (c *Client) setDifficulty(d float64) {
	c.mu.Lock()
	c.currentDifficulty = d
	c.mu.Unlock()
}

func (c *Client) setTarget(t string) {
	c.mu.Lock()
	c.currentTarget = t
	c.mu.Unlock()
}

func (c *Client) setExtranonce(e string) {
	c.mu.Lock()
	c.currentExtranonce = e
	c.mu.Unlock()
}

func (c *Client) snapshot() (difficulty float64, target, extranonce string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDifficulty, c.currentTarget, c.currentExtranonce
}

// writer is a small sendCh/writeLoop pair, the same shape
// internal/stratum.Session uses for its own outbound queue.
type writer struct {
	conn    net.Conn
	sendCh  chan []byte
	closeCh chan struct{}
	once    sync.Once
}

func newWriter(conn net.Conn) *writer {
	return &writer{conn: conn, sendCh: make(chan []byte, 64), closeCh: make(chan struct{})}
}

func (w *writer) run() {
	for {
		select {
		case <-w.closeCh:
			return
		case line := <-w.sendCh:
			w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if _, err := w.conn.Write(line); err != nil {
				w.stop()
				return
			}
		}
	}
}

func (w *writer) send(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')
	select {
	case w.sendCh <- data:
	case <-w.closeCh:
	}
}

func (w *writer) stop() {
	w.once.Do(func() { close(w.closeCh) })
}

// sessionStratum runs an EthStratum or StandardStratum session: subscribe,
// authorize, then alternate between reading mining.notify/set_difficulty
// frames and draining queued share submissions.
func (c *Client) sessionStratum(stopCh <-chan struct{}) error {
	conn, err := net.DialTimeout("tcp", c.url, 15*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	c.stats.connected.Store(true)

	w := newWriter(conn)
	go w.run()
	defer w.stop()

	subParams := []interface{}{fmt.Sprintf("ZION-Proxy/1.0/%s", c.coin)}
	if c.protocol == EthStratum {
		subParams = append(subParams, "EthereumStratum/1.0.0")
	}
	w.send(map[string]interface{}{"id": 1, "method": "mining.subscribe", "params": subParams})
	klog.Revenue.Info().Str("coin", c.coin).Str("protocol", c.protocol.String()).Msg("> mining.subscribe")

	var authorized atomic.Bool
	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() { stopOnce.Do(func() { close(done) }) }
	defer stop()

	var submitCounter uint64
	go func() {
		for {
			select {
			case <-done:
				return
			case <-stopCh:
				return
			case sub := <-c.submitCh:
				if !authorized.Load() {
					continue
				}
				id := atomic.AddUint64(&submitCounter, 1) + 9
				params := []interface{}{c.wallet + "." + sub.Worker, sub.JobID, sub.Nonce}
				if sub.Result != "" {
					params = append(params, sub.Result)
				}
				w.send(map[string]interface{}{"id": id, "method": "mining.submit", "params": params})
				c.stats.sharesSubmitted.Add(1)
				klog.Revenue.Debug().Str("coin", c.coin).Uint64("id", id).Msg("> mining.submit")
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read: %w", err)
			}
			return fmt.Errorf("stream closed by remote")
		}

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		if methodRaw, ok := msg["method"]; ok {
			var method string
			json.Unmarshal(methodRaw, &method)
			c.handleStratumNotification(method, msg)
			continue
		}

		var id int
		if idRaw, ok := msg["id"]; ok {
			json.Unmarshal(idRaw, &id)
		}
		hasError := hasJSONError(msg["error"])

		switch {
		case id == 1:
			if hasError {
				return fmt.Errorf("subscribe rejected")
			}
			c.handleSubscribeResult(msg["result"])
			wallet := c.wallet
			if c.worker != "" {
				wallet = c.wallet + "." + c.worker
			}
			w.send(map[string]interface{}{"id": 2, "method": "mining.authorize", "params": []string{wallet, "x"}})
			klog.Revenue.Info().Str("coin", c.coin).Msg("> mining.authorize")
		case id == 2:
			if hasError {
				return fmt.Errorf("authorize rejected")
			}
			authorized.Store(true)
			klog.Revenue.Info().Str("coin", c.coin).Msg("Authorized")
		case id >= 10:
			if hasError {
				c.stats.sharesRejected.Add(1)
			} else {
				c.stats.sharesAccepted.Add(1)
			}
		}
	}
}

func hasJSONError(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	return string(raw) != "null"
}

func (c *Client) handleSubscribeResult(raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		for i := len(arr) - 1; i >= 0; i-- {
			var s string
			if json.Unmarshal(arr[i], &s) == nil && isHexExtranonce(s) {
				c.setExtranonce(s)
				return
			}
		}
		return
	}
	var s string
	if json.Unmarshal(raw, &s) == nil && isHexExtranonce(s) {
		c.setExtranonce(s)
	}
}

func isHexExtranonce(s string) bool {
	if s == "" || len(s) > 16 {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func (c *Client) handleStratumNotification(method string, msg map[string]json.RawMessage) {
	switch method {
	case "mining.notify":
		var params []json.RawMessage
		if err := json.Unmarshal(msg["params"], &params); err != nil || len(params) == 0 {
			return
		}
		var jobID, headerHash string
		json.Unmarshal(params[0], &jobID)
		if c.protocol == EthStratum && len(params) >= 3 {
			json.Unmarshal(params[2], &headerHash)
		} else if len(params) >= 2 {
			json.Unmarshal(params[1], &headerHash)
		}
		headerHash = strings.TrimPrefix(headerHash, "0x")
		cleanJobs := false
		if len(params) > 0 {
			json.Unmarshal(params[len(params)-1], &cleanJobs)
		}

		difficulty, target, extranonce := c.snapshot()
		job := ExternalJob{
			Coin:       c.coin,
			Algorithm:  c.algorithm,
			JobID:      jobID,
			HeaderHash: headerHash,
			Blob:       headerHash,
			Target:     target,
			Difficulty: difficulty,
			CleanJobs:  cleanJobs,
			Timestamp:  time.Now(),
			Extranonce: extranonce,
		}
		c.stats.jobsReceived.Add(1)
		c.sink.UpdateExternalJob(job.toSchedulerJob())
		klog.Revenue.Debug().Str("coin", c.coin).Str("job_id", jobID).Msg("Job forwarded")

	case "mining.set_difficulty", "mining.set_target":
		var params []json.RawMessage
		if err := json.Unmarshal(msg["params"], &params); err != nil || len(params) == 0 {
			return
		}
		var f float64
		if json.Unmarshal(params[0], &f) == nil {
			c.setDifficulty(f)
			return
		}
		var s string
		if json.Unmarshal(params[0], &s) == nil {
			c.setTarget(s)
		}

	case "mining.set_extranonce":
		var params []json.RawMessage
		if err := json.Unmarshal(msg["params"], &params); err == nil && len(params) > 0 {
			var s string
			json.Unmarshal(params[0], &s)
			c.setExtranonce(s)
		}
	}
}
