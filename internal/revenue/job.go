package revenue

import (
	"math"
	"time"

	"github.com/zion-chain/zion-node/internal/scheduler"
)

// ExternalJob is the canonical job shape published by an upstream pool
// connection (spec.md §4.7's ExternalJob), before it crosses into
// internal/scheduler's own re-keyed representation.
type ExternalJob struct {
	Coin       string
	Algorithm  string
	JobID      string
	SeedHash   string
	HeaderHash string
	Blob       string // CryptoNote blob, or == HeaderHash for EthStratum-family jobs
	Target     string
	Difficulty float64
	CleanJobs  bool
	Timestamp  time.Time
	Extranonce string
	RawParams  []string
	Height     uint64
}

// toSchedulerJob converts the wire-level job into scheduler.ExternalJob,
// rounding the floating-point pool difficulty to the nearest integer share
// difficulty the rest of the codebase works in.
func (j ExternalJob) toSchedulerJob() scheduler.ExternalJob {
	diff := j.Difficulty
	if diff < 0 {
		diff = 0
	}
	return scheduler.ExternalJob{
		Coin:       j.Coin,
		Algorithm:  j.Algorithm,
		JobID:      j.JobID,
		SeedHash:   j.SeedHash,
		HeaderHash: j.HeaderHash,
		BlobHex:    j.Blob,
		TargetHex:  j.Target,
		Difficulty: uint64(math.Round(diff)),
		CleanJobs:  j.CleanJobs,
		Extranonce: j.Extranonce,
		Height:     j.Height,
	}
}

// ShareSubmission is a share queued for resubmission to an external pool,
// in whatever dialect that pool's client speaks.
type ShareSubmission struct {
	Coin      string
	JobID     string
	Nonce     string
	Worker    string
	Result    string // required for CryptoNote/RandomX pools
	Algorithm string
}
