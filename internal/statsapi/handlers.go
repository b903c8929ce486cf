package statsapi

import (
	"net/http"
	"strings"
	"time"
)

// poolSummary is the /pool payload: the static identity fields plus the
// connected-miner count. /stats carries the live counters in statsResponse.
type poolSummary struct {
	Algorithms        []string `json:"algorithms"`
	StratumAddr       string   `json:"stratum_addr"`
	ConnectedMiners   int      `json:"connected_miners"`
}

type statsResponse struct {
	ConnectedMiners     int     `json:"connected_miners"`
	TotalSharesAccepted uint64  `json:"total_shares_accepted"`
	TotalSharesRejected uint64  `json:"total_shares_rejected"`
	TotalHashrate       float64 `json:"total_hashrate"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, statsResponse{})
		return
	}
	st := s.pool.Stats()
	writeJSON(w, statsResponse{
		ConnectedMiners:     st.ConnectedMiners,
		TotalSharesAccepted: st.TotalSharesAccepted,
		TotalSharesRejected: st.TotalSharesRejected,
		TotalHashrate:       st.TotalHashrate,
		UptimeSeconds:       st.UptimeSeconds,
	})
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	summary := poolSummary{
		Algorithms:  []string{"randomx", "yescrypt", "cosmicharmony", "blake3"},
		StratumAddr: s.addr,
	}
	if s.pool != nil {
		summary.ConnectedMiners = s.pool.Stats().ConnectedMiners
	}
	writeJSON(w, summary)
}

// minerView is the JSON-facing shape of stratum.MinerSummary; exported field
// names here are the stats API's contract, independent of the internal
// struct's own naming.
type minerView struct {
	ID                string  `json:"id"`
	Wallet            string  `json:"wallet"`
	Worker            string  `json:"worker"`
	Group             string  `json:"group"`
	Algorithm         string  `json:"algorithm"`
	Difficulty        uint64  `json:"difficulty"`
	SharesAccepted    uint64  `json:"shares_accepted"`
	SharesRejected    uint64  `json:"shares_rejected"`
	EstimatedHashrate float64 `json:"estimated_hashrate"`
	ConnectedAt       string  `json:"connected_at"`
	IdleSeconds       float64 `json:"idle_seconds"`
}

func (s *Server) handleMiners(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, []minerView{})
		return
	}
	sessions := s.pool.Sessions()
	out := make([]minerView, 0, len(sessions))
	for _, m := range sessions {
		out = append(out, minerView{
			ID:                m.ID,
			Wallet:            m.Wallet,
			Worker:            m.Worker,
			Group:             m.Group,
			Algorithm:         m.Algorithm,
			Difficulty:        m.Difficulty,
			SharesAccepted:    m.SharesAccepted,
			SharesRejected:    m.SharesRejected,
			EstimatedHashrate: m.EstimatedHashrate,
			ConnectedAt:       m.ConnectedAt.UTC().Format(time.RFC3339),
			IdleSeconds:       m.IdleSeconds,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleMinerStats(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if s.pool == nil {
		http.NotFound(w, r)
		return
	}
	m, ok := s.pool.MinerByIdentity(addr)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, minerView{
		ID:                m.ID,
		Wallet:            m.Wallet,
		Worker:            m.Worker,
		Group:             m.Group,
		Algorithm:         m.Algorithm,
		Difficulty:        m.Difficulty,
		SharesAccepted:    m.SharesAccepted,
		SharesRejected:    m.SharesRejected,
		EstimatedHashrate: m.EstimatedHashrate,
		ConnectedAt:       m.ConnectedAt.UTC().Format(time.RFC3339),
		IdleSeconds:       m.IdleSeconds,
	})
}

// handleBlocks and handleBlocksRecent: the pool has no block-found ledger
// (see DESIGN.md — submitting a winning share on to internal/chain is out of
// scope, same boundary as /payouts below), so both return a structurally
// valid, always-empty list rather than fabricating data.
func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, []struct{}{})
}

func (s *Server) handleBlocksRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, []struct{}{})
}

// payoutsResponse is the structurally valid, empty/zeroed shape spec.md §6's
// /payouts endpoint returns: payout accounting itself is out of scope (no
// ledger of paid amounts exists), but the endpoint's shape is real.
type payoutsResponse struct {
	Payouts   []struct{} `json:"payouts"`
	TotalPaid uint64     `json:"total_paid"`
}

func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, payoutsResponse{Payouts: []struct{}{}})
}

type profitStatusResponse struct {
	BestCoin       string   `json:"best_coin"`
	AvailableCoins []string `json:"available_coins"`
	Mode           string   `json:"mode"`
}

func (s *Server) handleProfitStatus(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeJSON(w, profitStatusResponse{})
		return
	}
	st := s.sched.Stats()
	writeJSON(w, profitStatusResponse{
		BestCoin:       st.BestCoin,
		AvailableCoins: st.AvailableCoins,
		Mode:           st.Mode,
	})
}

func (s *Server) handleProfitSwitch(w http.ResponseWriter, r *http.Request) {
	coin := strings.ToUpper(r.PathValue("coin"))
	if s.sched == nil || coin == "" {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	s.sched.SetBestCoin(coin)
	writeJSON(w, map[string]string{"best_coin": coin})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		http.Error(w, "scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.sched.Stats())
}

// buybackStatusResponse: buyback execution is a treasury operation spec.md
// never assigns to the pool process; the endpoint exists for API
// completeness and always reports disabled/zeroed.
type buybackStatusResponse struct {
	Enabled     bool   `json:"enabled"`
	LastRunAt   string `json:"last_run_at,omitempty"`
	TotalBought uint64 `json:"total_bought"`
}

func (s *Server) handleBuybackStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buybackStatusResponse{})
}

func (s *Server) handleExternalStats(w http.ResponseWriter, r *http.Request) {
	if s.revMgr == nil {
		writeJSON(w, map[string]interface{}{})
		return
	}
	writeJSON(w, s.revMgr.Stats())
}
