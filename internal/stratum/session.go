package stratum

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const maxLineSize = 64 * 1024

// hashrateWindow bounds how many accepted-share timestamps a session keeps
// for its EstimatedHashrate approximation.
const hashrateWindow = 32

// SessionState tracks where a connection is in the login/authorize handshake.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
)

// Session is one connected miner. It carries its own extranonce, VarDiff
// state, and knowledge of the job it last received, independent of every
// other session sharing the same listener.
type Session struct {
	ID      string
	Addr    string
	Dialect Dialect
	State   SessionState

	conn    net.Conn
	scanner *bufio.Scanner
	sendCh  chan []byte
	closeCh chan struct{}
	closeOnce sync.Once

	Extranonce string // hex-encoded, unique per session

	mu            sync.Mutex
	Wallet        string
	Worker        string
	Algorithm     string // chain-schedule algorithm name at the height of CurrentJobID
	CurrentJobID  string
	vardiff       *varDiffState
	lastActivity  time.Time
	group         string // "zion", "revenue" or "ncl"; set by the scheduler

	sharesAccepted  atomic.Uint64
	sharesRejected  atomic.Uint64
	hashrateSamples []time.Time // accepted-share arrival times, most recent hashrateWindow
	connectedAt     time.Time
}

// newSession wraps conn in a Session with a freshly generated extranonce.
func newSession(conn net.Conn, extranonceSize int, vardiff VarDiffConfig) *Session {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), maxLineSize)

	nonce := make([]byte, extranonceSize)
	rand.Read(nonce)

	return &Session{
		ID:           randomSessionID(),
		Addr:         conn.RemoteAddr().String(),
		conn:         conn,
		scanner:      sc,
		sendCh:       make(chan []byte, 64),
		closeCh:      make(chan struct{}),
		Extranonce:   hex.EncodeToString(nonce),
		vardiff:      newVarDiffState(vardiff),
		lastActivity: time.Now(),
		connectedAt:  time.Now(),
		group:        "zion",
	}
}

func randomSessionID() string {
	var buf [8]byte
	rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.conn.Close()
	})
}

// readLine blocks for the next newline-delimited JSON frame.
func (s *Session) readLine() ([]byte, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errConnClosed
	}
	line := make([]byte, len(s.scanner.Bytes()))
	copy(line, s.scanner.Bytes())
	return line, nil
}

// writeLoop drains sendCh to the connection for the lifetime of the session.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case line := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := s.conn.Write(line); err != nil {
				s.close()
				return
			}
		}
	}
}

// send queues a JSON-RPC message for asynchronous delivery.
func (s *Session) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	select {
	case s.sendCh <- data:
		return nil
	case <-s.closeCh:
		return errConnClosed
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Session) setJob(algorithmName, jobID string) {
	s.mu.Lock()
	s.Algorithm = algorithmName
	s.CurrentJobID = jobID
	s.mu.Unlock()
}

func (s *Session) job() (algorithm, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Algorithm, s.CurrentJobID
}

func (s *Session) difficulty() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vardiff.difficulty
}

// recordShareForVarDiff feeds a just-accepted share into the session's
// VarDiff window, returning a new difficulty if a retarget is due.
func (s *Session) recordShareForVarDiff(now time.Time) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vardiff.recordShare(now)
}

// recordAccepted marks a valid share and feeds the hashrate sample window.
func (s *Session) recordAccepted(now time.Time) {
	s.sharesAccepted.Add(1)
	s.mu.Lock()
	s.hashrateSamples = append(s.hashrateSamples, now)
	if len(s.hashrateSamples) > hashrateWindow {
		s.hashrateSamples = s.hashrateSamples[len(s.hashrateSamples)-hashrateWindow:]
	}
	s.mu.Unlock()
}

func (s *Session) recordRejected() {
	s.sharesRejected.Add(1)
}

// ShareCounts returns the accepted/rejected share totals recorded for this
// session since it connected.
func (s *Session) ShareCounts() (accepted, rejected uint64) {
	return s.sharesAccepted.Load(), s.sharesRejected.Load()
}

// EstimatedHashrate approximates the session's hashrate in hashes/second from
// its accepted-share arrival window and current VarDiff difficulty, the same
// approach used by the Eacred-eacrpool reference: each accepted share at
// difficulty D represents roughly D*2^32 hashes of work, so the rate is the
// share arrival rate scaled by that per-share work estimate. It is an
// approximation, not a measurement: bursty share timing over a short window
// skews it, and an idle session keeps its last estimate until new shares
// arrive.
func (s *Session) EstimatedHashrate() float64 {
	s.mu.Lock()
	samples := s.hashrateSamples
	difficulty := s.vardiff.difficulty
	s.mu.Unlock()

	if len(samples) < 2 {
		return 0
	}
	elapsed := samples[len(samples)-1].Sub(samples[0]).Seconds()
	if elapsed <= 0 {
		return 0
	}
	sharesPerSecond := float64(len(samples)-1) / elapsed
	const hashesPerShareAtDifficultyOne = 4294967296 // 2^32
	return sharesPerSecond * float64(difficulty) * hashesPerShareAtDifficultyOne
}

func (s *Session) identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Worker != "" {
		return s.Wallet + "." + s.Worker
	}
	return s.Wallet
}
