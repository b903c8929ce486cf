package minerclient

import "sync"

// JobWatch is a single-slot broadcast channel for the "current job", the Go
// shape of the watch-channel the original miner keeps its job state in:
// readers block on Chan() until the next Set(), then re-read Get().
type JobWatch struct {
	mu     sync.Mutex
	job    Job
	hasJob bool
	ch     chan struct{}
}

func newJobWatch() *JobWatch {
	return &JobWatch{ch: make(chan struct{})}
}

// Get returns the current job, if any has been set yet.
func (w *JobWatch) Get() (Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.job, w.hasJob
}

// Set stores a new job and wakes every goroutine blocked in Chan().
func (w *JobWatch) Set(j Job) {
	w.mu.Lock()
	w.job = j
	w.hasJob = true
	closing := w.ch
	w.ch = make(chan struct{})
	w.mu.Unlock()
	close(closing)
}

// Chan returns the notification channel for the current value; it closes
// exactly once, the next time Set() is called.
func (w *JobWatch) Chan() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}
