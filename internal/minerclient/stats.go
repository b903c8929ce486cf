package minerclient

import "sync/atomic"

// stats holds the atomic counters a running client updates from its read
// and submit paths; Stats() renders a point-in-time snapshot of them, the
// same split internal/revenue.poolStats/CoinStats uses.
type stats struct {
	connected       atomic.Bool
	jobsReceived    atomic.Uint64
	sharesFound     atomic.Uint64
	sharesSubmitted atomic.Uint64
	sharesAccepted  atomic.Uint64
	sharesRejected  atomic.Uint64
	staleDropped    atomic.Uint64
	reconnects      atomic.Uint64
}

// Stats is a point-in-time, race-free snapshot of a client's counters.
type Stats struct {
	Connected       bool
	JobsReceived    uint64
	SharesFound     uint64
	SharesSubmitted uint64
	SharesAccepted  uint64
	SharesRejected  uint64
	StaleDropped    uint64
	Reconnects      uint64
}

func (s *stats) snapshot() Stats {
	return Stats{
		Connected:       s.connected.Load(),
		JobsReceived:    s.jobsReceived.Load(),
		SharesFound:     s.sharesFound.Load(),
		SharesSubmitted: s.sharesSubmitted.Load(),
		SharesAccepted:  s.sharesAccepted.Load(),
		SharesRejected:  s.sharesRejected.Load(),
		StaleDropped:    s.staleDropped.Load(),
		Reconnects:      s.reconnects.Load(),
	}
}
