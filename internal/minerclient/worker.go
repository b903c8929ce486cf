package minerclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"

	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/shares"
)

// found carries a candidate share out of the worker pool to the submit
// queue, alongside the exact job it was mined against (needed for the
// stale-share check once it reaches the front of the queue).
type found struct {
	job   Job
	nonce uint32
	hash  []byte
}

// Miner owns one Client plus the strided-nonce worker pool that hashes
// against its current job, the nonce-bookmark table that survives job
// rotations, and the submit queue that drops stale shares (spec.md §4.8).
// The worker-pool shape is adapted from internal/consensus.PoW.sealParallel:
// a goroutine per thread, each pre-partitioned by stride, each checking for
// cancellation only every so many iterations rather than every hash.
type Miner struct {
	client  *Client
	threads int

	bookmarksMu sync.Mutex
	bookmarks   map[string]uint32

	submitCh chan found
}

// NewMiner builds a miner that drives client with the given thread count
// (clamped to at least 1).
func NewMiner(client *Client, threads int) *Miner {
	if threads < 1 {
		threads = 1
	}
	return &Miner{
		client:    client,
		threads:   threads,
		bookmarks: make(map[string]uint32),
		submitCh:  make(chan found, 64),
	}
}

// Run drives the client's connection and the mining loop until stopCh
// closes: each job rotation cancels the previous search and starts a new
// one, bookmarked by where the previous search for that job identity left
// off.
func (m *Miner) Run(stopCh <-chan struct{}) {
	go m.client.Run(stopCh)
	go m.drainSubmits(stopCh)

	jobs := m.client.Jobs()
	var cancel context.CancelFunc
	defer func() {
		if cancel != nil {
			cancel()
		}
	}()

	for {
		ch := jobs.Chan()
		if job, ok := jobs.Get(); ok {
			if cancel != nil {
				cancel()
			}
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go m.mineJob(ctx, job)
		}

		select {
		case <-stopCh:
			return
		case <-ch:
		}
	}
}

// mineJob searches job's nonce space across m.threads goroutines, resuming
// from the job identity's bookmark rather than zero, and queues the first
// hit for submission.
func (m *Miner) mineJob(ctx context.Context, job Job) {
	algo, ok := shares.LookupAlgorithm(job.Algorithm)
	if !ok {
		klog.Miner.Warn().Str("algo", job.Algorithm).Msg("Unknown algorithm, skipping job")
		return
	}
	header, err := hex.DecodeString(job.Blob)
	if err != nil {
		klog.Miner.Warn().Str("job_id", job.JobID).Msg("Malformed job blob, skipping job")
		return
	}

	key := bookmarkKey(job.JobID)
	startNonce := m.bookmarkFor(key)
	stride := uint32(m.threads)

	var progress atomic.Uint32
	progress.Store(startNonce)

	hits := make(chan found, 1)
	var wg sync.WaitGroup
	for i := 0; i < m.threads; i++ {
		wg.Add(1)
		go func(offset uint32) {
			defer wg.Done()
			nonce := startNonce + offset
			for iter := uint32(0); ; iter++ {
				if iter&0xFFFF == 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				hash := algo.Hash(header, uint64(nonce), job.Height)
				if algo.Width.Meets(hash, job.Target) {
					select {
					case hits <- found{job: job, nonce: nonce, hash: hash}:
					default:
					}
					bumpProgress(&progress, nonce+1)
					return
				}

				if iter&0xFFF == 0 {
					bumpProgress(&progress, nonce)
				}
				if nonce > ^uint32(0)-stride {
					return
				}
				nonce += stride
			}
		}(uint32(i))
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case hit := <-hits:
		m.client.stats.sharesFound.Add(1)
		m.saveBookmark(key, progress.Load())
		select {
		case m.submitCh <- found{job: hit.job, nonce: hit.nonce, hash: hit.hash}:
		default:
			klog.Miner.Warn().Str("job_id", hit.job.JobID).Msg("Submit queue full, dropping share")
		}
	case <-ctx.Done():
		<-done
		m.saveBookmark(key, progress.Load())
	case <-done:
		m.saveBookmark(key, progress.Load())
	}
}

// bumpProgress advances the shared high-water mark, racily but safely: a
// lost race only means the bookmark is a little more conservative than it
// needed to be, never nonce loss.
func bumpProgress(progress *atomic.Uint32, nonce uint32) {
	for {
		cur := progress.Load()
		if nonce <= cur {
			return
		}
		if progress.CompareAndSwap(cur, nonce) {
			return
		}
	}
}

func (m *Miner) bookmarkFor(key string) uint32 {
	m.bookmarksMu.Lock()
	defer m.bookmarksMu.Unlock()
	return m.bookmarks[key]
}

func (m *Miner) saveBookmark(key string, nonce uint32) {
	m.bookmarksMu.Lock()
	m.bookmarks[key] = nonce
	m.bookmarksMu.Unlock()
}

// drainSubmits pops queued shares and submits them, dropping any whose job
// no longer matches the client's current job — a post-rotation flush of
// stale entries must not count against the "3 consecutive errors →
// reconnect" logic a caller might layer on top of SubmitShare.
func (m *Miner) drainSubmits(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case f := <-m.submitCh:
			current, ok := m.client.Jobs().Get()
			if !ok || current.JobID != f.job.JobID {
				m.client.stats.staleDropped.Add(1)
				klog.Miner.Debug().Str("job_id", f.job.JobID).Msg("Dropping stale share")
				continue
			}
			nonceHex := fmt.Sprintf("%08x", f.nonce)
			resultHex := hex.EncodeToString(f.hash)
			accepted, err := m.client.SubmitShare(f.job, nonceHex, resultHex)
			if err != nil {
				klog.Miner.Warn().Err(err).Str("job_id", f.job.JobID).Msg("Share submission failed")
				continue
			}
			klog.Miner.Info().Str("job_id", f.job.JobID).Bool("accepted", accepted).Msg("Share submitted")
		}
	}
}
