// Package scheduler implements the stream scheduler (spec.md §4.6): it
// allocates connected miners' compute across the three named streams
// (ZION native, Revenue external-pool, NCL AI), in either TimeSplit mode
// (few miners, one stream active pool-wide at a time) or PerMiner mode
// (each miner pinned to a group once enough miners are connected), and owns
// the job_id -> coin routing table that lets the pool server decide whether
// a submitted share is validated locally or forwarded externally.
package scheduler

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zion-chain/zion-node/config"
	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/stratum"
)

// MinerGroup names the compute-stream a session is currently assigned to.
// The strings match internal/stratum.Session's own group tag exactly.
type MinerGroup string

const (
	GroupZion    MinerGroup = "zion"
	GroupRevenue MinerGroup = "revenue"
	GroupNCL     MinerGroup = "ncl"
)

// Mode is the scheduler's current allocation strategy, chosen by miner count.
type Mode int

const (
	TimeSplit Mode = iota
	PerMiner
)

func (m Mode) String() string {
	if m == PerMiner {
		return "PerMiner"
	}
	return "TimeSplit"
}

// ExternalJob is the canonical form an inbound job from internal/revenue is
// published in (spec.md §4.7's ExternalJob), before the scheduler re-keys it
// under the local ext-<coin>- job id convention.
type ExternalJob struct {
	Coin       string
	Algorithm  string
	JobID      string // the upstream pool's own job id, unprefixed
	SeedHash   string
	HeaderHash string
	BlobHex    string
	TargetHex  string
	Difficulty uint64
	CleanJobs  bool
	Extranonce string
	Height     uint64
}

// SessionHub is the subset of internal/stratum.Server the scheduler needs to
// retag sessions and push unsolicited jobs. *stratum.Server implements this.
type SessionHub interface {
	SetSessionGroup(sessionID, group string) bool
	SetGroupForAll(group string)
	PushJobToSession(sessionID string, job stratum.ScheduledJob) bool
	PushJobToGroup(group string, job stratum.ScheduledJob)
}

// Config configures a Scheduler. Zero-valued ZionShare/RevenueShare/NCLShare
// all together select the 50/25/25 default; otherwise the three values are
// normalized to sum to 1 as given (a deployer may legitimately zero out
// Revenue or NCL to disable that stream entirely).
type Config struct {
	ZionShare         float64
	RevenueShare      float64
	NCLShare          float64
	PerMinerThreshold int
	MinStintSeconds   int
	ForceCoin         string
	HasGPU            *bool
}

// FromConfig adapts config.SchedulerConfig/config.RevenueConfig (as loaded
// from TOML/env) into a scheduler.Config.
func FromConfig(sc config.SchedulerConfig, rc config.RevenueConfig) Config {
	return Config{
		ZionShare:         sc.ZionShare,
		RevenueShare:      sc.RevenueShare,
		NCLShare:          sc.NCLShare,
		PerMinerThreshold: sc.PerMinerThreshold,
		MinStintSeconds:   sc.MinStintSeconds,
		ForceCoin:         sc.ForceCoin,
		HasGPU:            rc.HasGPU,
	}
}

const maxJobCoinEntries = 1000

// Scheduler is the pool's stream scheduler (C6).
type Scheduler struct {
	zionShare, revenueShare, nclShare float64
	perMinerThreshold                 int
	minStintSeconds                   int
	cpuOnly                           bool

	hub SessionHub

	mu                  sync.RWMutex
	bestCoin            string
	groups              map[string]MinerGroup
	mode                Mode
	totalMiners         int
	timeSplitPhase      int // 0 zion, 1 revenue, 2 ncl
	timeSplitLastSwitch time.Time
	zionTimeSecs        float64
	revenueTimeSecs     float64
	nclTimeSecs         float64

	extMu        sync.RWMutex
	externalJobs map[string]ExternalJob // coin (lowercase) -> latest job

	jobMu        sync.Mutex
	jobCoinMap   map[string]string // full job_id -> coin ("zion" or the external coin)
	jobCoinOrder []string
}

// New builds a Scheduler from cfg. Compute shares are normalized to sum to 1;
// CPU-only detection applies cfg.HasGPU as an override and otherwise defaults
// to CPU-only, matching the teacher's own "no GPU probe in a container"
// default (see DESIGN.md for why no platform GPU probe is attempted).
func New(cfg Config) *Scheduler {
	zion, revenue, ncl := cfg.ZionShare, cfg.RevenueShare, cfg.NCLShare
	if zion <= 0 && revenue <= 0 && ncl <= 0 {
		zion, revenue, ncl = 0.50, 0.25, 0.25
	}
	if zion < 0 {
		zion = 0
	}
	if revenue < 0 {
		revenue = 0
	}
	if ncl < 0 {
		ncl = 0
	}
	total := zion + revenue + ncl
	if total > 0.01 {
		zion, revenue, ncl = zion/total, revenue/total, ncl/total
	} else {
		zion, revenue, ncl = 1, 0, 0
	}

	cpuOnly := true
	if cfg.HasGPU != nil {
		cpuOnly = !*cfg.HasGPU
	}
	bestCoin := "ERG"
	if cpuOnly {
		bestCoin = "XMR"
	}
	if cfg.ForceCoin != "" {
		bestCoin = strings.ToUpper(cfg.ForceCoin)
	}

	sch := &Scheduler{
		zionShare:           zion,
		revenueShare:        revenue,
		nclShare:            ncl,
		perMinerThreshold:   cfg.PerMinerThreshold,
		minStintSeconds:     cfg.MinStintSeconds,
		cpuOnly:             cpuOnly,
		bestCoin:            bestCoin,
		groups:              make(map[string]MinerGroup),
		mode:                TimeSplit,
		timeSplitLastSwitch: time.Now(),
		externalJobs:        make(map[string]ExternalJob),
		jobCoinMap:          make(map[string]string),
	}

	klog.Scheduler.Info().
		Float64("zion_share", zion).Float64("revenue_share", revenue).Float64("ncl_share", ncl).
		Str("best_coin", bestCoin).Bool("cpu_only", cpuOnly).
		Msg("Stream scheduler initialized")
	return sch
}

// SetHub installs the stratum server's session hub. Must be called once,
// before RegisterMiner/SetBestCoin/UpdateExternalJob can push anything.
func (sch *Scheduler) SetHub(h SessionHub) { sch.hub = h }

func ceilShare(total int, share float64) int {
	return int(math.Ceil(float64(total) * share))
}

// countGroups must be called with sch.mu held.
func (sch *Scheduler) countGroups() (zion, revenue, ncl int) {
	for _, g := range sch.groups {
		switch g {
		case GroupZion:
			zion++
		case GroupRevenue:
			revenue++
		case GroupNCL:
			ncl++
		}
	}
	return
}

// updateMode must be called with sch.mu held.
func (sch *Scheduler) updateMode(total int) {
	threshold := sch.perMinerThreshold
	if threshold <= 0 {
		threshold = 4
	}
	newMode := TimeSplit
	if total >= threshold {
		newMode = PerMiner
	}
	if newMode != sch.mode {
		klog.Scheduler.Info().Str("mode", newMode.String()).Int("miners", total).Msg("Scheduler mode changed")
		sch.mode = newMode
	}
}

// RegisterMiner implements stratum.MinerRegistrar: assign a newly connected
// session to the first group, in order Zion, Revenue, NCL, whose count is
// below its ceil(total·share) target, maintaining the 50/25/25-style ratio
// as miners join.
func (sch *Scheduler) RegisterMiner(sessionID string) string {
	sch.mu.Lock()
	zionCount, revenueCount, _ := sch.countGroups()
	total := len(sch.groups) + 1

	targetZion := ceilShare(total, sch.zionShare)
	targetRevenue := ceilShare(total, sch.revenueShare)

	var group MinerGroup
	switch {
	case zionCount < targetZion:
		group = GroupZion
	case revenueCount < targetRevenue && sch.revenueShare > 0:
		group = GroupRevenue
	case sch.nclShare > 0:
		group = GroupNCL
	case sch.revenueShare > 0:
		group = GroupRevenue
	default:
		group = GroupZion
	}

	sch.groups[sessionID] = group
	sch.totalMiners = total
	sch.updateMode(total)
	sch.mu.Unlock()

	klog.Scheduler.Info().Str("session", sessionID).Str("group", string(group)).Int("total_miners", total).Msg("Miner registered")
	return string(group)
}

// UnregisterMiner implements stratum.MinerRegistrar.
func (sch *Scheduler) UnregisterMiner(sessionID string) {
	sch.mu.Lock()
	delete(sch.groups, sessionID)
	total := len(sch.groups)
	sch.totalMiners = total
	sch.updateMode(total)
	sch.mu.Unlock()
}

// GetMinerGroup returns the group a session currently belongs to, defaulting
// to GroupZion for an unknown session id.
func (sch *Scheduler) GetMinerGroup(sessionID string) MinerGroup {
	sch.mu.RLock()
	defer sch.mu.RUnlock()
	if g, ok := sch.groups[sessionID]; ok {
		return g
	}
	return GroupZion
}

// Rebalance migrates PerMiner-mode sessions to correct ratio deviations
// (spec.md §4.6: "Periodic rebalance migrates miners to correct
// deviations"). No-op outside PerMiner mode.
func (sch *Scheduler) Rebalance() {
	type change struct {
		sessionID string
		group     MinerGroup
	}

	sch.mu.Lock()
	if sch.mode != PerMiner || len(sch.groups) == 0 {
		sch.mu.Unlock()
		return
	}
	total := len(sch.groups)
	targetZion := ceilShare(total, sch.zionShare)
	targetRevenue := ceilShare(total, sch.revenueShare)
	zionCount, revenueCount, _ := sch.countGroups()

	var changes []change
	switch {
	case zionCount > targetZion:
		toMove := zionCount - targetZion
		moved := 0
		for sid, g := range sch.groups {
			if moved >= toMove {
				break
			}
			if g != GroupZion {
				continue
			}
			var newGroup MinerGroup
			switch {
			case revenueCount < targetRevenue && sch.revenueShare > 0:
				newGroup = GroupRevenue
				revenueCount++
			case sch.nclShare > 0:
				newGroup = GroupNCL
			default:
				continue
			}
			sch.groups[sid] = newGroup
			changes = append(changes, change{sid, newGroup})
			moved++
		}
	case zionCount < targetZion:
		toMove := targetZion - zionCount
		moved := 0
		for sid, g := range sch.groups {
			if moved >= toMove {
				break
			}
			if g == GroupZion {
				continue
			}
			sch.groups[sid] = GroupZion
			changes = append(changes, change{sid, GroupZion})
			moved++
		}
	}
	sch.mu.Unlock()

	if len(changes) == 0 {
		return
	}
	klog.Scheduler.Info().Int("count", len(changes)).Msg("Scheduler rebalanced miners")
	if sch.hub == nil {
		return
	}
	for _, c := range changes {
		sch.hub.SetSessionGroup(c.sessionID, string(c.group))
		if c.group == GroupRevenue {
			if job, coin, ok := sch.revenueJob(); ok {
				full := externalJobID(coin, job.JobID)
				sch.registerJob(coin, full)
				sch.hub.PushJobToSession(c.sessionID, toScheduledJob(coin, full, job))
			}
		}
		// A miner moved back to Zion or NCL is picked up by the next
		// native template broadcast tick; no immediate push needed.
	}
}

// SetBestCoin changes the scheduler's "best profit coin" and, if it
// actually changed, pushes the new revenue job to the Revenue group only
// (spec.md §4.6: "never to Zion group").
func (sch *Scheduler) SetBestCoin(coin string) {
	newCoin := strings.ToLower(coin)

	sch.mu.Lock()
	old := strings.ToLower(sch.bestCoin)
	if old == newCoin {
		sch.mu.Unlock()
		return
	}
	sch.bestCoin = newCoin
	sch.mu.Unlock()

	klog.Scheduler.Info().Str("from", old).Str("to", newCoin).Msg("Best revenue coin changed")

	job, resolvedCoin, ok := sch.revenueJob()
	if !ok || sch.hub == nil {
		return
	}
	full := externalJobID(resolvedCoin, job.JobID)
	sch.registerJob(resolvedCoin, full)
	sch.hub.PushJobToGroup(string(GroupRevenue), toScheduledJob(resolvedCoin, full, job))
}

// UpdateExternalJob ingests a freshly published job from internal/revenue
// (spec.md §4.6 "External job ingestion"), re-keying it under the local
// coin, and pushes it to the Revenue group if it's for the current best coin.
func (sch *Scheduler) UpdateExternalJob(job ExternalJob) {
	coin := strings.ToLower(job.Coin)
	sch.extMu.Lock()
	sch.externalJobs[coin] = job
	sch.extMu.Unlock()

	full := externalJobID(coin, job.JobID)
	sch.registerJob(coin, full)

	sch.mu.RLock()
	best := strings.ToLower(sch.bestCoin)
	sch.mu.RUnlock()
	if coin != best || sch.hub == nil {
		return
	}
	sch.hub.PushJobToGroup(string(GroupRevenue), toScheduledJob(coin, full, job))
}

// revenueJob resolves the current best-profit external job, applying the
// CPU-only fallback rule (spec.md §4.6 "Best revenue coin").
func (sch *Scheduler) revenueJob() (ExternalJob, string, bool) {
	sch.mu.RLock()
	best := strings.ToLower(sch.bestCoin)
	cpuOnly := sch.cpuOnly
	sch.mu.RUnlock()

	sch.extMu.RLock()
	defer sch.extMu.RUnlock()

	if job, ok := sch.externalJobs[best]; ok {
		return job, best, true
	}
	if cpuOnly {
		if job, ok := sch.externalJobs["xmr"]; ok {
			klog.Scheduler.Info().Str("best_coin", strings.ToUpper(best)).Msg("Revenue: best coin unavailable, using XMR (CPU-only mode)")
			return job, "xmr", true
		}
		return ExternalJob{}, "", false
	}
	for coin, job := range sch.externalJobs {
		klog.Scheduler.Info().Str("best_coin", strings.ToUpper(best)).Str("fallback", strings.ToUpper(coin)).Msg("Revenue: best coin unavailable, using fallback job")
		return job, coin, true
	}
	return ExternalJob{}, "", false
}

// CurrentAssignment implements stratum.JobRouter: only the Revenue group has
// a scheduler-owned assignment; Zion and NCL groups fall back to the
// stratum server's own native template (spec.md §4.6: "NCL miners get ZION
// jobs when not doing AI work").
func (sch *Scheduler) CurrentAssignment(sessionGroup string) (stratum.ScheduledJob, bool) {
	if sessionGroup != string(GroupRevenue) {
		return stratum.ScheduledJob{}, false
	}
	job, coin, ok := sch.revenueJob()
	if !ok {
		return stratum.ScheduledJob{}, false
	}
	full := externalJobID(coin, job.JobID)
	sch.registerJob(coin, full)
	return toScheduledJob(coin, full, job), true
}

// RouteShare implements stratum.JobRouter (spec.md §4.6 "route_share"):
// look up the job registry first; fall back to detecting the ext-<coin>-
// prefix for a job id minted before the registry entry was made.
func (sch *Scheduler) RouteShare(jobID string) (coin string, external bool) {
	sch.jobMu.Lock()
	c, ok := sch.jobCoinMap[jobID]
	sch.jobMu.Unlock()
	if ok {
		if strings.EqualFold(c, "zion") {
			return "", false
		}
		return c, true
	}

	if strings.HasPrefix(jobID, "ext-") {
		parts := strings.SplitN(jobID, "-", 3)
		if len(parts) >= 2 && parts[1] != "" {
			return parts[1], true
		}
	}
	return "", false
}

// registerJob records job_id -> coin in the bounded (≤1000, FIFO) registry.
func (sch *Scheduler) registerJob(coin, jobID string) {
	sch.jobMu.Lock()
	defer sch.jobMu.Unlock()
	if _, exists := sch.jobCoinMap[jobID]; !exists {
		sch.jobCoinOrder = append(sch.jobCoinOrder, jobID)
	}
	sch.jobCoinMap[jobID] = strings.ToLower(coin)
	for len(sch.jobCoinOrder) > maxJobCoinEntries {
		oldest := sch.jobCoinOrder[0]
		sch.jobCoinOrder = sch.jobCoinOrder[1:]
		delete(sch.jobCoinMap, oldest)
	}
}

func externalJobID(coin, originalJobID string) string {
	return "ext-" + strings.ToLower(coin) + "-" + originalJobID
}

func toScheduledJob(coin, fullJobID string, job ExternalJob) stratum.ScheduledJob {
	return stratum.ScheduledJob{
		StreamID:      "ext-" + strings.ToLower(coin),
		JobID:         fullJobID,
		BlobHex:       job.BlobHex,
		AlgorithmName: job.Algorithm,
		TargetHex:     job.TargetHex,
		Difficulty:    job.Difficulty,
		Height:        job.Height,
		Coin:          strings.ToUpper(coin),
		CleanJobs:     job.CleanJobs,
		SeedHash:      job.SeedHash,
	}
}

// RunTimeSplitLoop drives TimeSplit-mode phase switching until stopCh closes.
// No-op while the scheduler is in PerMiner mode.
func (sch *Scheduler) RunTimeSplitLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			sch.maybeSwitch()
		}
	}
}

// maybeSwitch implements spec.md §4.6's TimeSplit rule: stay in the active
// phase for at least the minimum stint, then switch to whichever phase's
// actual share of wall time so far is furthest below its target (greedy
// deficit minimization), only when that deficit exceeds a 2% dead band.
func (sch *Scheduler) maybeSwitch() {
	sch.mu.Lock()
	if sch.mode != TimeSplit {
		sch.mu.Unlock()
		return
	}

	now := time.Now()
	elapsed := now.Sub(sch.timeSplitLastSwitch).Seconds()
	minStint := float64(sch.minStintSeconds)
	if minStint <= 0 {
		minStint = 10
	}
	if elapsed < minStint {
		sch.mu.Unlock()
		return
	}

	switch sch.timeSplitPhase {
	case 0:
		sch.zionTimeSecs += elapsed
	case 1:
		sch.revenueTimeSecs += elapsed
	case 2:
		sch.nclTimeSecs += elapsed
	}
	sch.timeSplitLastSwitch = now

	total := sch.zionTimeSecs + sch.revenueTimeSecs + sch.nclTimeSecs
	if total < 1.0 {
		sch.mu.Unlock()
		return
	}

	actualZion := sch.zionTimeSecs / total
	actualRevenue := sch.revenueTimeSecs / total
	actualNCL := sch.nclTimeSecs / total

	zionDeficit := sch.zionShare - actualZion
	revenueDeficit := sch.revenueShare - actualRevenue
	nclDeficit := sch.nclShare - actualNCL

	maxDeficit := math.Max(zionDeficit, math.Max(revenueDeficit, nclDeficit))
	if maxDeficit < 0.02 {
		sch.mu.Unlock()
		return
	}

	nextPhase := 0
	switch {
	case zionDeficit >= revenueDeficit && zionDeficit >= nclDeficit:
		nextPhase = 0
	case revenueDeficit >= nclDeficit && sch.revenueShare > 0:
		nextPhase = 1
	case sch.nclShare > 0:
		nextPhase = 2
	default:
		nextPhase = 0
	}

	if nextPhase == sch.timeSplitPhase {
		sch.mu.Unlock()
		return
	}
	sch.timeSplitPhase = nextPhase
	sch.mu.Unlock()

	sch.broadcastPhase(nextPhase, actualZion, actualRevenue, actualNCL)
}

func (sch *Scheduler) broadcastPhase(phase int, actualZion, actualRevenue, actualNCL float64) {
	var group MinerGroup
	switch phase {
	case 0:
		group = GroupZion
	case 1:
		group = GroupRevenue
	default:
		group = GroupNCL
	}

	klog.Scheduler.Info().Str("phase", string(group)).
		Float64("zion_actual", actualZion).Float64("revenue_actual", actualRevenue).Float64("ncl_actual", actualNCL).
		Msg("TimeSplit phase changed")

	if sch.hub == nil {
		return
	}
	sch.hub.SetGroupForAll(string(group))

	if group == GroupRevenue {
		if job, coin, ok := sch.revenueJob(); ok {
			full := externalJobID(coin, job.JobID)
			sch.registerJob(coin, full)
			sch.hub.PushJobToGroup(string(GroupRevenue), toScheduledJob(coin, full, job))
		}
		return
	}
	// Zion and NCL phases ride the native template; the next
	// broadcastTemplate tick (now unblocked since every session is tagged
	// zion/ncl) delivers it.
}

// Stats reports the scheduler's current allocation for the stats API
// (spec.md §6 `/api/v1/scheduler/status`).
type Stats struct {
	Mode             string
	BestCoin         string
	AvailableCoins   []string
	TotalMiners      int
	ZionMiners       int
	RevenueMiners    int
	NCLMiners        int
	TimeSplitPhase   string
	ZionActualPct    float64
	RevenueActualPct float64
	NCLActualPct     float64
	TargetZionPct    float64
	TargetRevenuePct float64
	TargetNCLPct     float64
}

func (sch *Scheduler) Stats() Stats {
	sch.mu.RLock()
	defer sch.mu.RUnlock()

	zionCount, revenueCount, nclCount := sch.countGroups()
	total := sch.zionTimeSecs + sch.revenueTimeSecs + sch.nclTimeSecs
	var zPct, rPct, nPct float64
	if total > 0 {
		zPct = sch.zionTimeSecs / total * 100
		rPct = sch.revenueTimeSecs / total * 100
		nPct = sch.nclTimeSecs / total * 100
	}

	sch.extMu.RLock()
	coins := make([]string, 0, len(sch.externalJobs))
	for c := range sch.externalJobs {
		coins = append(coins, strings.ToUpper(c))
	}
	sch.extMu.RUnlock()
	sort.Strings(coins)

	return Stats{
		Mode:             sch.mode.String(),
		BestCoin:         strings.ToUpper(sch.bestCoin),
		AvailableCoins:   coins,
		TotalMiners:      len(sch.groups),
		ZionMiners:       zionCount,
		RevenueMiners:    revenueCount,
		NCLMiners:        nclCount,
		TimeSplitPhase:   phaseName(sch.timeSplitPhase),
		ZionActualPct:    zPct,
		RevenueActualPct: rPct,
		NCLActualPct:     nPct,
		TargetZionPct:    sch.zionShare * 100,
		TargetRevenuePct: sch.revenueShare * 100,
		TargetNCLPct:     sch.nclShare * 100,
	}
}

func phaseName(phase int) string {
	switch phase {
	case 1:
		return "revenue"
	case 2:
		return "ncl"
	default:
		return "zion"
	}
}
