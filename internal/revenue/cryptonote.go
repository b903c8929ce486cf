package revenue

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

// sessionCryptoNote runs the login -> job -> submit JSON-RPC dialect used by
// MoneroOcean-style RandomX/XMR pools. Completely different handshake from
// sessionStratum's subscribe/authorize flow.
func (c *Client) sessionCryptoNote(stopCh <-chan struct{}) error {
	conn, err := net.DialTimeout("tcp", c.url, 15*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	c.stats.connected.Store(true)

	w := newWriter(conn)
	go w.run()
	defer w.stop()

	pass := "x"
	if c.worker != "" {
		pass = c.worker
	}
	w.send(map[string]interface{}{
		"id": 1, "jsonrpc": "2.0", "method": "login",
		"params": map[string]interface{}{
			"login": c.wallet,
			"pass":  pass,
			"agent": fmt.Sprintf("ZION-Pool-Proxy/1.0/%s", c.coin),
			"algo":  []string{"rx/0", "cn/r", "cn-heavy/xhv", "cn/gpu", "argon2/chukwav2", "rx/arq", "rx/sfx", "gr"},
		},
	})
	klog.Revenue.Info().Str("coin", c.coin).Msg("> login (CryptoNote)")

	var sessionMu sync.Mutex
	var sessionID string
	var authorized atomic.Bool

	done := make(chan struct{})
	var stopOnce sync.Once
	defer stopOnce.Do(func() { close(done) })

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
				sessionMu.Lock()
				sid := sessionID
				sessionMu.Unlock()
				id := atomic.AddUint64(&submitCounter, 1) + 9
				params := map[string]interface{}{
					"id":     sid,
					"job_id": sub.JobID,
					"nonce":  sub.Nonce,
					"result": sub.Result,
				}
				if sub.Algorithm != "" {
					params["algo"] = sub.Algorithm
				}
				w.send(map[string]interface{}{"id": id, "jsonrpc": "2.0", "method": "submit", "params": params})
				c.stats.sharesSubmitted.Add(1)
				klog.Revenue.Debug().Str("coin", c.coin).Uint64("id", id).Msg("> CN submit")
			}
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineSize)
	for {
		conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read: %w", err)
			}
			return fmt.Errorf("CN stream closed by remote")
		}

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}

		if methodRaw, ok := msg["method"]; ok {
			var method string
			json.Unmarshal(methodRaw, &method)
			if method == "job" {
				c.handleCryptoNoteJob(msg["params"])
			}
			continue
		}

		idRaw, ok := msg["id"]
		if !ok {
			continue
		}
		var id int
		json.Unmarshal(idRaw, &id)
		hasError := hasJSONError(msg["error"])

		switch {
		case id == 1:
			if hasError {
				return fmt.Errorf("CN login rejected")
			}
			var result struct {
				ID  string          `json:"id"`
				Job json.RawMessage `json:"job"`
			}
			json.Unmarshal(msg["result"], &result)
			sessionMu.Lock()
			sessionID = result.ID
			sessionMu.Unlock()
			if len(result.Job) > 0 {
				c.handleCryptoNoteJob(result.Job)
			}
			authorized.Store(true)
			klog.Revenue.Info().Str("coin", c.coin).Msg("CN login successful")
		case id >= 10:
			accepted := false
			if !hasError {
				var result struct {
					Status string `json:"status"`
				}
				json.Unmarshal(msg["result"], &result)
				accepted = strings.EqualFold(result.Status, "OK")
			}
			if accepted {
				c.stats.sharesAccepted.Add(1)
			} else {
				c.stats.sharesRejected.Add(1)
			}
		}
	}
}

func (c *Client) handleCryptoNoteJob(raw json.RawMessage) {
	var job struct {
		JobID    string `json:"job_id"`
		Blob     string `json:"blob"`
		Target   string `json:"target"`
		SeedHash string `json:"seed_hash"`
		Height   uint64 `json:"height"`
		Algo     string `json:"algo"`
	}
	if err := json.Unmarshal(raw, &job); err != nil {
		return
	}

	algorithm := c.algorithm
	switch job.Algo {
	case "rx/0", "randomx":
		algorithm = "randomx"
	case "cn/r", "cryptonight/r":
		algorithm = "cryptonight_r"
	case "":
	default:
		algorithm = strings.ReplaceAll(job.Algo, "/", "_")
	}

	ext := ExternalJob{
		Coin:       c.coin,
		Algorithm:  algorithm,
		JobID:      job.JobID,
		SeedHash:   job.SeedHash,
		HeaderHash: job.Blob,
		Blob:       job.Blob,
		Target:     job.Target,
		Difficulty: compactTargetDifficulty(job.Target),
		CleanJobs:  true,
		Timestamp:  time.Now(),
		Height:     job.Height,
	}
	c.stats.jobsReceived.Add(1)
	c.sink.UpdateExternalJob(ext.toSchedulerJob())
	klog.Revenue.Debug().Str("coin", c.coin).Str("job_id", job.JobID).Uint64("height", job.Height).Msg("CN job forwarded")
}

// compactTargetDifficulty converts a MoneroOcean-style compact 4-byte
// little-endian target hex string to an approximate share difficulty.
// A longer (32-byte) target is left as 1.0 — this client only needs
// difficulty for display/stats, never for validating the share itself
// (that stays the upstream pool's job).
func compactTargetDifficulty(target string) float64 {
	if len(target) != 8 {
		return 1.0
	}
	b0, err0 := strconv.ParseUint(target[6:8], 16, 8)
	b1, err1 := strconv.ParseUint(target[4:6], 16, 8)
	b2, err2 := strconv.ParseUint(target[2:4], 16, 8)
	b3, err3 := strconv.ParseUint(target[0:2], 16, 8)
	if err0 != nil || err1 != nil || err2 != nil || err3 != nil {
		return 1.0
	}
	targetU32 := uint32(b0)<<24 | uint32(b1)<<16 | uint32(b2)<<8 | uint32(b3)
	if targetU32 == 0 {
		return 1.0
	}
	return float64(0xFFFFFFFF) / float64(targetU32)
}
