package revenue

import "sync/atomic"

// poolStats are the per-coin counters spec.md §4.7 obligates the proxy to
// maintain ("counting shares_submitted/accepted/rejected", "a connected
// flag per coin").
type poolStats struct {
	jobsReceived     atomic.Uint64
	sharesSubmitted  atomic.Uint64
	sharesAccepted   atomic.Uint64
	sharesRejected   atomic.Uint64
	connected        atomic.Bool
}

// CoinStats is a point-in-time snapshot of one coin's counters, safe to
// marshal as JSON for the stats API (spec.md §6 `/api/v1/external/stats`).
type CoinStats struct {
	Coin            string `json:"coin"`
	Connected       bool   `json:"connected"`
	JobsReceived    uint64 `json:"jobs_received"`
	SharesSubmitted uint64 `json:"shares_submitted"`
	SharesAccepted  uint64 `json:"shares_accepted"`
	SharesRejected  uint64 `json:"shares_rejected"`
}

func (s *poolStats) snapshot(coin string) CoinStats {
	return CoinStats{
		Coin:            coin,
		Connected:       s.connected.Load(),
		JobsReceived:    s.jobsReceived.Load(),
		SharesSubmitted: s.sharesSubmitted.Load(),
		SharesAccepted:  s.sharesAccepted.Load(),
		SharesRejected:  s.sharesRejected.Load(),
	}
}
