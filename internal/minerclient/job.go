// Package minerclient implements the client side of the stratum protocol
// (spec.md §4.8): a single upstream connection with reconnect/backoff,
// dialect autodetection, a watch-style job channel, and a strided-nonce
// worker pool that hashes against whatever algorithm the current job names.
package minerclient

import "strings"

// Job is the client's local view of the job most recently pushed by the
// pool, in either the classic mining.notify array shape or the XMRig-style
// job object shape — both normalized to this struct by the stratum client.
type Job struct {
	JobID     string
	Blob      string
	Target    string
	Height    uint64
	Algorithm string
	SeedHash  string
	CleanJobs bool
	Coin      string // non-empty for ext-* (revenue-stream) jobs
}

// External reports whether this job belongs to the revenue stream rather
// than the native coin (spec.md §4.6's "ext-" job id prefix).
func (j Job) External() bool {
	return strings.HasPrefix(j.JobID, "ext-")
}

// bookmarkKey strips the rotating timestamp component from a job id so
// logically-equivalent job rotations (same height/template, same algorithm,
// different timestamp) map to the same nonce bookmark (spec.md §4.8).
//
// Native job ids have the shape "h{height}-{prefix8}-{timestamp}-{algo}";
// stripping the third dash-separated field collapses rotations of the same
// template back to one key. External ("ext-<coin>-<id>") ids have no such
// rotating component and are used as-is.
func bookmarkKey(jobID string) string {
	if strings.HasPrefix(jobID, "ext-") {
		return jobID
	}
	parts := strings.Split(jobID, "-")
	if len(parts) != 4 {
		return jobID
	}
	return parts[0] + "-" + parts[1] + "-" + parts[3]
}
