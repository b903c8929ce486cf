package revenue

import "testing"

func TestPoolStatsSnapshot(t *testing.T) {
	var s poolStats
	s.jobsReceived.Add(3)
	s.sharesSubmitted.Add(2)
	s.sharesAccepted.Add(1)
	s.sharesRejected.Add(1)
	s.connected.Store(true)

	snap := s.snapshot("etc")
	want := CoinStats{Coin: "etc", Connected: true, JobsReceived: 3, SharesSubmitted: 2, SharesAccepted: 1, SharesRejected: 1}
	if snap != want {
		t.Errorf("snapshot mismatch: got %+v, want %+v", snap, want)
	}
}
