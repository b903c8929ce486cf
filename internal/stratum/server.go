// Package stratum implements the pool's miner-facing TCP server: protocol
// auto-detection between the XMRig-style JSON-RPC dialect and the classic
// mining.* dialect, per-session VarDiff, job distribution, and the
// share-submit flow that hands candidates to internal/shares for
// recomputation and validation.
package stratum

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/shares"
)

var errConnClosed = errors.New("stratum: connection closed")

const writeTimeout = 10 * time.Second

// ErrorKind names the stratum-level rejection categories spec.md §7 lists
// for InvalidShare/Duplicate/Unauthenticated.
type ErrorKind string

const (
	ErrLowDifficulty ErrorKind = "LowDifficulty"
	ErrUnknown       ErrorKind = "Unknown"
	ErrDuplicate     ErrorKind = "DuplicateShare"
	ErrUnauthorized  ErrorKind = "Unauthorized"
)

func classifyReason(reason string) ErrorKind {
	switch reason {
	case "Duplicate share":
		return ErrDuplicate
	case "Does not meet target difficulty":
		return ErrLowDifficulty
	default: // "Unknown algorithm", "Invalid nonce format", "Invalid job blob"
		return ErrUnknown
	}
}

// JobRouter decides whether a job id names a ZION-native job or one the
// stream scheduler (C6) has assigned to an external pool. Nil means every
// job is treated as native, which is correct until internal/scheduler is
// wired in.
type JobRouter interface {
	RouteShare(jobID string) (coin string, external bool)
	CurrentAssignment(sessionGroup string) (job ScheduledJob, ok bool)
}

// MinerRegistrar lets the stream scheduler (C6) assign a newly connected
// session to a compute group ("zion", "revenue", or "ncl") and learn when it
// disconnects. Nil means every session stays in the "zion" group, which is
// correct until internal/scheduler is wired in.
type MinerRegistrar interface {
	RegisterMiner(sessionID string) (group string)
	UnregisterMiner(sessionID string)
}

// ShareForwarder lets the revenue proxy (C4.7's collaborator, internal/revenue)
// receive shares the scheduler routed to an external coin, so they can be
// resubmitted upstream in that coin's own dialect. Nil means external shares
// are accepted locally and never actually forwarded anywhere (acceptable for
// a stratum-only deployment that never enables the revenue stream).
type ShareForwarder interface {
	SubmitExternalShare(coin, jobID, nonceHex, resultHex, worker string)
}

// Config holds the stratum server's listener and policy settings, sourced
// from config.PoolConfig.
type Config struct {
	ListenAddr                string
	Port                      int
	MaxConnections            int
	MaxPerIP                  int
	StaleTimeout              time.Duration
	DuplicateWindow           time.Duration
	ExtranonceSize            int
	CosmicHarmonyLittleEndian bool
	VarDiff                   VarDiffConfig
}

// Server is the pool's stratum listener.
type Server struct {
	cfg       Config
	templates *TemplateBuilder
	validator *shares.Validator
	router    JobRouter
	registrar MinerRegistrar
	forwarder ShareForwarder

	listener net.Listener
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	sessions map[string]*Session
	perIP    map[string]int

	jobsMu    sync.Mutex
	jobCache  map[string]builtTemplate // full job_id -> the template it was minted from
	jobOrder  []string                 // FIFO eviction order

	startedAt time.Time
}

// MinerSummary is the read-only snapshot of one connected session exposed to
// internal/statsapi; it never hands out the *Session itself.
type MinerSummary struct {
	ID                string
	Addr              string
	Wallet            string
	Worker            string
	Group             string
	Algorithm         string
	Difficulty        uint64
	SharesAccepted    uint64
	SharesRejected    uint64
	EstimatedHashrate float64
	ConnectedAt       time.Time
	IdleSeconds       float64
}

// Stats is the pool-wide aggregate exposed on /stats and /pool.
type Stats struct {
	ConnectedMiners   int
	TotalSharesAccepted uint64
	TotalSharesRejected uint64
	TotalHashrate       float64
	UptimeSeconds       float64
}

// Sessions returns a point-in-time snapshot of every connected miner. The
// returned slice shares no mutable state with the live sessions.
func (s *Server) Sessions() []MinerSummary {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]MinerSummary, 0, len(sessions))
	for _, sess := range sessions {
		sess.mu.Lock()
		wallet, worker, group, algo := sess.Wallet, sess.Worker, sess.group, sess.Algorithm
		connectedAt := sess.connectedAt
		difficulty := sess.vardiff.difficulty
		sess.mu.Unlock()
		accepted, rejected := sess.ShareCounts()
		out = append(out, MinerSummary{
			ID:                sess.ID,
			Addr:              sess.Addr,
			Wallet:            wallet,
			Worker:            worker,
			Group:             group,
			Algorithm:         algo,
			Difficulty:        difficulty,
			SharesAccepted:    accepted,
			SharesRejected:    rejected,
			EstimatedHashrate: sess.EstimatedHashrate(),
			ConnectedAt:       connectedAt,
			IdleSeconds:       sess.idleSince().Seconds(),
		})
	}
	return out
}

// MinerByIdentity finds a connected session whose wallet (optionally
// "wallet.worker") matches addr, for /api/v1/miner/:addr/stats.
func (s *Server) MinerByIdentity(addr string) (MinerSummary, bool) {
	for _, m := range s.Sessions() {
		identity := m.Wallet
		if m.Worker != "" {
			identity = m.Wallet + "." + m.Worker
		}
		if identity == addr || m.Wallet == addr {
			return m, true
		}
	}
	return MinerSummary{}, false
}

// Stats aggregates pool-wide totals across every connected session.
func (s *Server) Stats() Stats {
	sessions := s.Sessions()
	st := Stats{ConnectedMiners: len(sessions)}
	if !s.startedAt.IsZero() {
		st.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	for _, m := range sessions {
		st.TotalSharesAccepted += m.SharesAccepted
		st.TotalSharesRejected += m.SharesRejected
		st.TotalHashrate += m.EstimatedHashrate
	}
	return st
}

const maxCachedJobs = 1000

// cacheJob remembers which built template a job id was minted from, so a
// later submit against that job id (even after the native template has
// moved on) can still be resolved (spec.md §4.4 step 1).
func (s *Server) cacheJob(jobID string, built builtTemplate) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if _, exists := s.jobCache[jobID]; !exists {
		s.jobOrder = append(s.jobOrder, jobID)
	}
	s.jobCache[jobID] = built
	for len(s.jobOrder) > maxCachedJobs {
		oldest := s.jobOrder[0]
		s.jobOrder = s.jobOrder[1:]
		delete(s.jobCache, oldest)
	}
}

// resolveJob looks up the template a job id was minted from, falling back
// to the current template on a cache miss.
func (s *Server) resolveJob(jobID string) (builtTemplate, bool) {
	s.jobsMu.Lock()
	built, ok := s.jobCache[jobID]
	s.jobsMu.Unlock()
	if ok {
		return built, true
	}
	if s.templates == nil {
		return builtTemplate{}, false
	}
	klog.Pool.Warn().Str("job_id", jobID).Msg("Unknown job id, falling back to current template")
	return s.templates.Current(), false
}

// algorithmFromJobID extracts the trailing algorithm name from a job id
// ("h{height}-{prefix8}-{timestamp}-{algorithm}"). The algorithm always
// comes from the job id, never the session's last-seen algorithm, since a
// session can be concurrently targeted by jobs of different algorithms.
func algorithmFromJobID(jobID string) string {
	idx := strings.LastIndex(jobID, "-")
	if idx < 0 {
		return ""
	}
	return jobID[idx+1:]
}

// New creates a stratum server. templates supplies native block-template
// jobs; validator recomputes and checks submitted shares.
func New(cfg Config, templates *TemplateBuilder, validator *shares.Validator) *Server {
	if cfg.ExtranonceSize <= 0 {
		cfg.ExtranonceSize = 4
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 5 * time.Minute
	}
	return &Server{
		cfg:       cfg,
		templates: templates,
		validator: validator,
		sessions:  make(map[string]*Session),
		perIP:     make(map[string]int),
		jobCache:  make(map[string]builtTemplate),
		stopCh:    make(chan struct{}),
	}
}

// SetRouter installs the stream scheduler's routing hook.
func (s *Server) SetRouter(r JobRouter) { s.router = r }

// SetRegistrar installs the stream scheduler's miner group assignment hook.
func (s *Server) SetRegistrar(r MinerRegistrar) { s.registrar = r }

// SetForwarder installs the revenue proxy's share-forwarding hook.
func (s *Server) SetForwarder(f ShareForwarder) { s.forwarder = f }

// Start opens the listening socket and begins the accept, template-refresh,
// stale-reap, and duplicate-cache pruning loops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.ListenAddr, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("stratum listen %s: %w", addr, err)
	}
	s.listener = ln
	s.startedAt = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	s.wg.Add(1)
	go s.templateLoop()

	s.wg.Add(1)
	go s.staleReapLoop()

	if s.validator != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.validator.RunPruneLoop(s.stopCh)
		}()
	}

	klog.Pool.Info().Str("addr", addr).Msg("Stratum server listening")
	return nil
}

// Addr returns the address the stratum listener is bound to.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.cfg.ListenAddr, s.cfg.Port)
}

// Stop closes the listener, disconnects every session, and waits for all
// background loops to unwind.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}

	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}

		host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
		if !s.admit(host) {
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn, host)
	}
}

// admit enforces the global connection cap and per-IP cap (spec.md §4.4:
// "default 10"). Returns false if the connection must be rejected.
func (s *Server) admit(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.MaxConnections > 0 && len(s.sessions) >= s.cfg.MaxConnections {
		return false
	}
	perIPCap := s.cfg.MaxPerIP
	if perIPCap <= 0 {
		perIPCap = 10
	}
	if s.perIP[host] >= perIPCap {
		return false
	}
	s.perIP[host]++
	return true
}

func (s *Server) release(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perIP[host]--
	if s.perIP[host] <= 0 {
		delete(s.perIP, host)
	}
}

func (s *Server) handleConn(conn net.Conn, host string) {
	defer s.wg.Done()
	defer s.release(host)

	sess := newSession(conn, s.cfg.ExtranonceSize, s.cfg.VarDiff)
	if s.registrar != nil {
		sess.group = s.registrar.RegisterMiner(sess.ID)
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.ID)
		s.mu.Unlock()
		if s.registrar != nil {
			s.registrar.UnregisterMiner(sess.ID)
		}
		sess.close()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.writeLoop()
	}()

	for {
		line, err := sess.readLine()
		if err != nil {
			return
		}
		sess.touch()
		s.dispatch(sess, line)
	}
}

func (s *Server) dispatch(sess *Session, line []byte) {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return
	}

	if sess.Dialect == DialectUnknown {
		sess.Dialect = detectDialect(req.Method)
		if sess.Dialect == DialectUnknown {
			return
		}
	}

	switch sess.Dialect {
	case DialectXMRig:
		s.handleXMRig(sess, req)
	case DialectClassic:
		s.handleClassic(sess, req)
	}
}

// templateLoop polls for a new native template and, on change, broadcasts
// a fresh job to every authenticated session (spec.md §4.4 "Job distribution").
func (s *Server) templateLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.templates == nil {
				continue
			}
			built, changed := s.templates.Refresh()
			if changed {
				s.broadcastTemplate(built)
			}
		}
	}
}

func (s *Server) broadcastTemplate(built builtTemplate) {
	now := time.Now()
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if sess.State != StateAuthenticated {
			continue
		}
		sess.mu.Lock()
		group := sess.group
		sess.mu.Unlock()
		if group == "revenue" {
			// Revenue-group sessions are served by the scheduler's own
			// push path (SetBestCoin / external job ingestion), not by
			// native template rotation.
			continue
		}
		job := s.nativeJobFor(sess, built, now)
		s.pushJob(sess, job)
	}
}

// SetSessionGroup updates the compute-stream group a session belongs to, as
// decided by the stream scheduler (C6). Used for PerMiner-mode assignment
// and rebalances.
func (s *Server) SetSessionGroup(sessionID, group string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.mu.Lock()
	sess.group = group
	sess.mu.Unlock()
	return true
}

// SetGroupForAll retags every currently connected session with group. Used
// when the scheduler is in TimeSplit mode and the single pool-wide active
// phase changes.
func (s *Server) SetGroupForAll(group string) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.mu.Lock()
		sess.group = group
		sess.mu.Unlock()
	}
}

// PushJobToSession sends job, unsolicited, to one session.
func (s *Server) PushJobToSession(sessionID string, job ScheduledJob) bool {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok || sess.State != StateAuthenticated {
		return false
	}
	s.pushJob(sess, job)
	return true
}

// PushJobToGroup broadcasts job to every authenticated session currently
// tagged with group.
func (s *Server) PushJobToGroup(group string, job ScheduledJob) {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.mu.Lock()
		g := sess.group
		sess.mu.Unlock()
		if g != group || sess.State != StateAuthenticated {
			continue
		}
		s.pushJob(sess, job)
	}
}

// nativeJobFor builds the per-session ScheduledJob view of built: the share
// target is scaled to the session's own VarDiff difficulty, never the
// network difficulty directly.
func (s *Server) nativeJobFor(sess *Session, built builtTemplate, mintedAt time.Time) ScheduledJob {
	algoName := built.algoName
	jobID := JobID(built.baseID, mintedAt.Unix(), algoName)
	sess.setJob(algoName, jobID)
	s.cacheJob(jobID, built)
	return ScheduledJob{
		JobID:          jobID,
		BaseID:         built.baseID,
		BlobHex:        built.blobHex,
		AlgorithmName:  algoName,
		TargetHex:      ShareTargetHex(algoName, sess.difficulty(), s.cfg.CosmicHarmonyLittleEndian),
		BlockTargetHex: built.targetHex,
		Difficulty:     built.difficulty,
		Height:         built.height,
		CleanJobs:      true,
	}
}

// pushJob sends job as an unsolicited push in the session's dialect: a
// "job" notification for dialect A, a mining.notify for dialect B.
func (s *Server) pushJob(sess *Session, job ScheduledJob) {
	switch sess.Dialect {
	case DialectXMRig:
		sess.send(rpcResponse{Method: "job", Params: xmrigJobPayload{
			JobID: job.JobID, Blob: job.BlobHex, Target: job.TargetHex,
			Height: job.Height, Algo: job.AlgorithmName, SeedHash: job.SeedHash,
			CleanJobs: job.CleanJobs,
		}})
	case DialectClassic:
		sess.send(rpcResponse{Method: "mining.notify", Params: jobToNotifyParams(job)})
	}
}

// applyRetarget pushes mining.set_difficulty/equivalent followed immediately
// by a fresh job at the new target, atomically from the session's point of
// view (state is updated before either message is sent).
func (s *Server) applyRetarget(sess *Session, newDifficulty uint64) {
	built := s.templates.Current()
	algoName, _ := sess.job()
	if algoName == "" {
		algoName = built.algoName
	}
	targetHex := ShareTargetHex(algoName, newDifficulty, s.cfg.CosmicHarmonyLittleEndian)

	switch sess.Dialect {
	case DialectClassic:
		sess.send(rpcResponse{Method: "mining.set_difficulty", Params: []interface{}{newDifficulty}})
	case DialectXMRig:
		// XMRig dialect carries target directly inside the job payload; no
		// separate difficulty notification exists for it.
	}

	now := time.Now()
	jobID := JobID(built.baseID, now.Unix(), algoName)
	job := ScheduledJob{
		JobID:         jobID,
		BaseID:        built.baseID,
		BlobHex:       built.blobHex,
		AlgorithmName: algoName,
		TargetHex:     targetHex,
		Height:        built.height,
		CleanJobs:     false,
	}
	sess.setJob(algoName, jobID)
	s.cacheJob(jobID, built)
	s.pushJob(sess, job)
}

func (s *Server) staleReapLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reapStale()
		}
	}
}

func (s *Server) reapStale() {
	s.mu.Lock()
	stale := make([]*Session, 0)
	for _, sess := range s.sessions {
		if sess.idleSince() > s.cfg.StaleTimeout {
			stale = append(stale, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		klog.Pool.Debug().Str("session", sess.ID).Msg("Reaping stale stratum connection")
		sess.close()
	}
}

// extractNonceAndResult finds an 8-hex-char nonce and optional 64-hex-char
// result among the given candidate strings, per spec.md §4.4 step 2
// ("positions vary by client; fall back to scanning params").
func extractNonceAndResult(candidates ...string) (nonce, result string) {
	for _, c := range candidates {
		c = strings.TrimPrefix(c, "0x")
		switch {
		case nonce == "" && isHex(c) && len(c) == 8:
			nonce = c
		case result == "" && isHex(c) && len(c) == 64:
			result = c
		}
	}
	return nonce, result
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	if err == nil {
		return true
	}
	// 64-char results overflow uint64; fall back to a charset check.
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}
