package minerclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
)

const maxLineSize = 256 * 1024

// dialect is which of the two pool wire dialects the upstream turned out to
// speak, discovered at connect time (grounded on
// original_source/miner/src/stratum/mod.rs's ClientProtocol).
type dialect int

const (
	dialectUnknown dialect = iota
	dialectXMRig
	dialectClassic
)

// Config describes one upstream pool connection.
type Config struct {
	PoolAddr   string // host:port, no scheme
	Wallet     string
	Worker     string
	Algorithm  string // hint only; the pool's job notifications are authoritative
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// RevenueLockSeconds holds a just-started external-coin job in place
	// against pushes of the native coin's job for this many seconds, so a
	// slow algorithm (RandomX on CPU) gets a fair shot at a share before
	// being preempted (spec.md §4.8). Zero uses the default of 120s.
	RevenueLockSeconds int
}

type pendingCall struct {
	resultCh chan json.RawMessage
	errCh    chan string
}

// Client is a single upstream stratum connection: reconnect/backoff,
// dialect autodetection, and a watch-style job feed. Nonce bookmarking,
// stale-share dropping, and the actual hashing loop live one layer up, in
// Miner (worker.go), which only depends on Client's public surface.
type Client struct {
	cfg Config

	jobs  *JobWatch
	stats stats

	mu         sync.Mutex
	conn       net.Conn
	w          *writer
	dlct       dialect
	sessionID  string
	subscribed string // classic dialect's notification subscription id
	authorized atomic.Bool

	nextID  atomic.Uint64
	pending sync.Map // id uint64 -> *pendingCall

	revenueLockUntil time.Time
	revenueLockMu    sync.Mutex
}

// New creates a client for the given upstream; call Run to start it.
func New(cfg Config) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.RevenueLockSeconds <= 0 {
		cfg.RevenueLockSeconds = 120
	}
	return &Client{cfg: cfg, jobs: newJobWatch()}
}

// Jobs returns the client's job feed; callers block on Chan() and re-read
// Get() to notice rotations.
func (c *Client) Jobs() *JobWatch { return c.jobs }

// Stats snapshots the client's counters.
func (c *Client) Stats() Stats { return c.stats.snapshot() }

// Run drives the connect/read/reconnect loop until stopCh closes.
func (c *Client) Run(stopCh <-chan struct{}) {
	backoff := c.cfg.MinBackoff
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		klog.Miner.Info().Str("pool", c.cfg.PoolAddr).Msg("Connecting to pool")
		err := c.session(stopCh)
		c.stats.connected.Store(false)

		if err != nil {
			klog.Miner.Error().Err(err).Msg("Pool connection error, reconnecting")
			c.stats.reconnects.Add(1)
			backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
		} else {
			backoff = c.cfg.MinBackoff
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

// writer is the same sendCh/writeLoop shape internal/stratum.Session and
// internal/revenue.Client use for their outbound queues.
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

func (w *writer) stop() { w.once.Do(func() { close(w.closeCh) }) }

// session dials once, performs the login-then-subscribe dialect probe, and
// runs the read loop until the connection drops or stopCh closes.
func (c *Client) session(stopCh <-chan struct{}) error {
	conn, err := net.DialTimeout("tcp", c.cfg.PoolAddr, 15*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.PoolAddr, err)
	}
	defer conn.Close()

	w := newWriter(conn)
	go w.run()
	defer w.stop()

	c.mu.Lock()
	c.conn, c.w = conn, w
	c.mu.Unlock()

	// Try the XMRig login first; a classic pool replies with an error or an
	// unrecognized method and the fallback below takes over on timeout.
	loginID := c.nextID.Add(1)
	loginCh := make(chan json.RawMessage, 1)
	errCh := make(chan string, 1)
	c.pending.Store(loginID, &pendingCall{resultCh: loginCh, errCh: errCh})
	defer c.pending.Delete(loginID)

	login := strings.TrimSuffix(c.cfg.Wallet+"."+c.cfg.Worker, ".")
	w.send(map[string]interface{}{
		"id": loginID, "method": "login",
		"params": map[string]string{"login": login, "pass": "x", "agent": "zion-miner/1.0"},
	})

	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop(conn) }()

	select {
	case result := <-loginCh:
		c.setDialect(dialectXMRig)
		c.handleLoginResult(result)
		c.stats.connected.Store(true)
		klog.Miner.Info().Msg("Authenticated (XMRig dialect)")
	case msg := <-errCh:
		klog.Miner.Debug().Str("error", msg).Msg("login rejected, falling back to classic dialect")
		if err := c.subscribeAndAuthorizeClassic(w); err != nil {
			return err
		}
	case <-time.After(5 * time.Second):
		if err := c.subscribeAndAuthorizeClassic(w); err != nil {
			return err
		}
	case err := <-readDone:
		if err != nil {
			return err
		}
		return fmt.Errorf("connection closed during handshake")
	case <-stopCh:
		return nil
	}

	select {
	case <-stopCh:
		return nil
	case err := <-readDone:
		return err
	}
}

func (c *Client) setDialect(d dialect) {
	c.mu.Lock()
	c.dlct = d
	c.mu.Unlock()
}

func (c *Client) subscribeAndAuthorizeClassic(w *writer) error {
	c.setDialect(dialectClassic)
	subID := c.nextID.Add(1)
	w.send(map[string]interface{}{"id": subID, "method": "mining.subscribe", "params": []string{"zion-miner/1.0"}})

	login := strings.TrimSuffix(c.cfg.Wallet+"."+c.cfg.Worker, ".")
	authID := c.nextID.Add(1)
	w.send(map[string]interface{}{"id": authID, "method": "mining.authorize", "params": []string{login, "x"}})
	c.authorized.Store(true)
	c.stats.connected.Store(true)
	klog.Miner.Info().Msg("Subscribed/authorized (classic dialect)")
	return nil
}

func (c *Client) handleLoginResult(raw json.RawMessage) {
	var res struct {
		ID  string          `json:"id"`
		Job json.RawMessage `json:"job"`
	}
	if json.Unmarshal(raw, &res) != nil {
		return
	}
	c.sessionID = res.ID
	c.authorized.Store(true)
	if len(res.Job) > 0 {
		c.handleXMRigJob(res.Job)
	}
}

func (c *Client) readLoop(conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for {
		conn.SetReadDeadline(time.Now().Add(120 * time.Second))
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
			c.handleNotification(method, msg)
			continue
		}

		var id uint64
		if idRaw, ok := msg["id"]; ok {
			var idStr string
			if json.Unmarshal(idRaw, &idStr) == nil {
				id, _ = strconv.ParseUint(idStr, 10, 64)
			} else {
				json.Unmarshal(idRaw, &id)
			}
		}
		c.dispatchResponse(id, msg)
	}
}

func (c *Client) dispatchResponse(id uint64, msg map[string]json.RawMessage) {
	v, ok := c.pending.Load(id)
	pc, _ := v.(*pendingCall)

	if errRaw, hasErr := msg["error"]; hasErr && string(errRaw) != "null" && len(errRaw) > 0 {
		if ok {
			select {
			case pc.errCh <- string(errRaw):
			default:
			}
		}
		return
	}

	if ok {
		select {
		case pc.resultCh <- msg["result"]:
		default:
		}
		return
	}

	// Unsolicited result (no pending call for this id): counted as a submit
	// acknowledgement that arrived after SubmitShare's own wait timed out.
	c.handleSubmitAck(msg["result"])
}

func (c *Client) handleSubmitAck(raw json.RawMessage) {
	if acceptedResult(raw) {
		c.stats.sharesAccepted.Add(1)
	} else {
		c.stats.sharesRejected.Add(1)
	}
}

// acceptedResult interprets the several shapes a submit response takes
// across dialects: a bare bool, an "OK"/"ACCEPTED" string, or a
// {"status":"OK"} object.
func acceptedResult(raw json.RawMessage) bool {
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		s = strings.ToUpper(s)
		return s == "OK" || s == "ACCEPTED"
	}
	var obj struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Status != "" {
		s := strings.ToUpper(obj.Status)
		return s == "OK" || s == "ACCEPTED"
	}
	return false
}

func (c *Client) handleNotification(method string, msg map[string]json.RawMessage) {
	switch method {
	case "job":
		c.handleXMRigJob(msg["params"])
	case "mining.notify":
		c.handleClassicNotify(msg["params"])
	case "mining.set_difficulty", "mining.set_target":
		c.handleSetDifficulty(msg["params"])
	}
}

func (c *Client) handleXMRigJob(raw json.RawMessage) {
	var p struct {
		JobID     string `json:"job_id"`
		Blob      string `json:"blob"`
		Target    string `json:"target"`
		Height    uint64 `json:"height"`
		Algo      string `json:"algo"`
		SeedHash  string `json:"seed_hash"`
		CleanJobs bool   `json:"clean_jobs"`
	}
	if json.Unmarshal(raw, &p) != nil || p.JobID == "" {
		return
	}
	c.acceptJob(Job{
		JobID: p.JobID, Blob: p.Blob, Target: p.Target, Height: p.Height,
		Algorithm: normalizeAlgo(p.Algo), SeedHash: p.SeedHash, CleanJobs: p.CleanJobs,
		Coin: externalCoin(p.JobID),
	})
}

func (c *Client) handleClassicNotify(raw json.RawMessage) {
	var params []json.RawMessage
	if json.Unmarshal(raw, &params) != nil || len(params) < 5 {
		return
	}
	var jobID, blob, target, algo, seedHash string
	var height uint64
	var cleanJobs bool
	json.Unmarshal(params[0], &jobID)
	json.Unmarshal(params[1], &blob)
	json.Unmarshal(params[2], &target)
	json.Unmarshal(params[3], &height)
	json.Unmarshal(params[4], &algo)
	if len(params) > 5 {
		json.Unmarshal(params[5], &seedHash)
	}
	if len(params) > 6 {
		json.Unmarshal(params[6], &cleanJobs)
	}
	c.acceptJob(Job{
		JobID: jobID, Blob: blob, Target: target, Height: height,
		Algorithm: normalizeAlgo(algo), SeedHash: seedHash, CleanJobs: cleanJobs,
		Coin: externalCoin(jobID),
	})
}

// handleSetDifficulty applies a new share target to the in-flight job
// immediately, without waiting for the next notify (spec.md §4.8).
func (c *Client) handleSetDifficulty(raw json.RawMessage) {
	var params []json.RawMessage
	if json.Unmarshal(raw, &params) != nil || len(params) == 0 {
		return
	}
	var diff float64
	if json.Unmarshal(params[0], &diff) != nil || diff <= 0 {
		return
	}
	job, ok := c.jobs.Get()
	if !ok {
		return
	}
	job.Target = difficultyToTargetHex(job.Algorithm, diff)
	c.jobs.Set(job)
}

// externalCoin returns the lowercased coin name for an "ext-<coin>-<id>"
// job id, or "" for a native job.
func externalCoin(jobID string) string {
	if !strings.HasPrefix(jobID, "ext-") {
		return ""
	}
	rest := strings.TrimPrefix(jobID, "ext-")
	if idx := strings.IndexByte(rest, '-'); idx > 0 {
		return strings.ToLower(rest[:idx])
	}
	return strings.ToLower(rest)
}

// normalizeAlgo fills in the handful of short aliases pools advertise
// instead of the canonical algorithm name internal/shares expects.
func normalizeAlgo(algo string) string {
	switch strings.ToLower(algo) {
	case "rx/0", "rx":
		return "randomx"
	case "cn/r", "cryptonight_r":
		return "cryptonight_r"
	case "":
		return "randomx"
	default:
		return strings.ToLower(algo)
	}
}

// acceptJob applies the revenue lock (spec.md §4.8) before publishing a
// newly-received job to the watch channel: a native job arriving while an
// external job's lock window is still open is dropped, not queued.
func (c *Client) acceptJob(j Job) {
	c.revenueLockMu.Lock()
	locked := !c.revenueLockUntil.IsZero() && time.Now().Before(c.revenueLockUntil)
	if j.External() {
		c.revenueLockUntil = time.Now().Add(time.Duration(c.cfg.RevenueLockSeconds) * time.Second)
	} else if locked {
		c.revenueLockMu.Unlock()
		klog.Miner.Debug().Str("job_id", j.JobID).Msg("Revenue lock active, dropping native job push")
		return
	} else {
		c.revenueLockUntil = time.Time{}
	}
	c.revenueLockMu.Unlock()

	c.stats.jobsReceived.Add(1)
	c.jobs.Set(j)
	klog.Miner.Debug().Str("job_id", j.JobID).Str("algo", j.Algorithm).Msg("Job accepted")
}

// SubmitShare sends a share for the given job and nonce, and reports
// whether the pool accepted it. resultHex may be empty for dialects that
// don't require it.
func (c *Client) SubmitShare(job Job, nonceHex, resultHex string) (bool, error) {
	c.mu.Lock()
	w := c.w
	dlct := c.dlct
	c.mu.Unlock()
	if w == nil {
		return false, fmt.Errorf("not connected")
	}

	id := c.nextID.Add(1)
	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan string, 1)
	c.pending.Store(id, &pendingCall{resultCh: resultCh, errCh: errCh})
	defer c.pending.Delete(id)

	c.stats.sharesSubmitted.Add(1)
	if dlct == dialectXMRig {
		w.send(map[string]interface{}{
			"id": id, "method": "submit",
			"params": map[string]string{"id": c.sessionID, "job_id": job.JobID, "nonce": nonceHex, "result": resultHex},
		})
	} else {
		login := strings.TrimSuffix(c.cfg.Wallet+"."+c.cfg.Worker, ".")
		params := []string{login, job.JobID, nonceHex}
		if resultHex != "" {
			params = append(params, resultHex)
		}
		w.send(map[string]interface{}{"id": id, "method": "mining.submit", "params": params})
	}

	select {
	case result := <-resultCh:
		accepted := acceptedResult(result)
		if accepted {
			c.stats.sharesAccepted.Add(1)
		} else {
			c.stats.sharesRejected.Add(1)
		}
		return accepted, nil
	case msg := <-errCh:
		c.stats.sharesRejected.Add(1)
		return false, fmt.Errorf("submit rejected: %s", msg)
	case <-time.After(15 * time.Second):
		return false, fmt.Errorf("submit timed out")
	}
}
