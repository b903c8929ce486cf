package stratum

import "time"

// VarDiffConfig carries the session-independent tuning knobs (from
// config.PoolConfig) that shape every session's retarget decisions.
type VarDiffConfig struct {
	Min                uint64
	Max                uint64
	Start              uint64
	TargetShareSeconds int
	RetargetWindow     int // shares per retarget window
	MinRetargetSeconds int // rate-limit: at most one retarget per this many seconds
}

// varDiffState is the per-session VarDiff bookkeeping (spec.md §4.4.1):
// last_retarget_time, a sliding window of recent share timestamps, and the
// current target interval.
type varDiffState struct {
	cfg VarDiffConfig

	difficulty      uint64
	lastRetargetAt  time.Time
	shareTimestamps []time.Time
}

func newVarDiffState(cfg VarDiffConfig) *varDiffState {
	start := cfg.Start
	if start < cfg.Min {
		start = cfg.Min
	}
	if cfg.Max > 0 && start > cfg.Max {
		start = cfg.Max
	}
	return &varDiffState{
		cfg:            cfg,
		difficulty:     start,
		lastRetargetAt: time.Now(),
	}
}

// recordShare logs the share's arrival time and, if the rate-limit window
// has elapsed and enough samples have accumulated, returns a new difficulty
// to retarget to. ok is false when no retarget should happen right now.
func (v *varDiffState) recordShare(now time.Time) (newDifficulty uint64, ok bool) {
	v.shareTimestamps = append(v.shareTimestamps, now)
	window := v.cfg.RetargetWindow
	if window <= 0 {
		window = 8
	}
	if len(v.shareTimestamps) > window {
		v.shareTimestamps = v.shareTimestamps[len(v.shareTimestamps)-window:]
	}

	minInterval := time.Duration(v.cfg.MinRetargetSeconds) * time.Second
	if now.Sub(v.lastRetargetAt) < minInterval {
		return 0, false
	}
	if len(v.shareTimestamps) < window {
		return 0, false
	}

	elapsed := v.shareTimestamps[len(v.shareTimestamps)-1].Sub(v.shareTimestamps[0])
	if elapsed <= 0 {
		return 0, false
	}
	avgInterval := elapsed.Seconds() / float64(len(v.shareTimestamps)-1)
	target := float64(v.cfg.TargetShareSeconds)
	if target <= 0 {
		target = 10
	}

	// Band: only retarget if the observed rate deviates by more than 50%
	// from the target in either direction.
	if avgInterval > target*0.5 && avgInterval < target*1.5 {
		return 0, false
	}

	ratio := target / avgInterval
	next := float64(v.difficulty) * ratio
	newDiff := clampDifficulty(uint64(next), v.cfg.Min, v.cfg.Max)
	if newDiff == v.difficulty {
		return 0, false
	}

	v.difficulty = newDiff
	v.lastRetargetAt = now
	v.shareTimestamps = v.shareTimestamps[:0]
	return newDiff, true
}

func clampDifficulty(d, min, max uint64) uint64 {
	if d < min {
		d = min
	}
	if max > 0 && d > max {
		d = max
	}
	if d == 0 {
		d = 1
	}
	return d
}
