package statsapi

import "github.com/prometheus/client_golang/prometheus"

// collector renders the pool's live in-memory state as Prometheus samples on
// every scrape, rather than keeping a duplicate set of gauges updated out of
// band; internal/stratum.Server, internal/scheduler.Scheduler and
// internal/revenue.Manager remain the single source of truth for their own
// counters.
type collector struct {
	s *Server

	connectedMiners   *prometheus.Desc
	sharesAccepted    *prometheus.Desc
	sharesRejected    *prometheus.Desc
	hashrate          *prometheus.Desc
	uptimeSeconds     *prometheus.Desc
	schedulerZionPct  *prometheus.Desc
	schedulerRevPct   *prometheus.Desc
	schedulerNCLPct   *prometheus.Desc
	externalAccepted  *prometheus.Desc
	externalRejected  *prometheus.Desc
	externalConnected *prometheus.Desc
}

func newCollector(s *Server) *collector {
	return &collector{
		s:               s,
		connectedMiners: prometheus.NewDesc("zion_pool_connected_miners", "Number of stratum sessions currently connected.", nil, nil),
		sharesAccepted:  prometheus.NewDesc("zion_pool_shares_accepted_total", "Shares accepted across all connected miners.", nil, nil),
		sharesRejected:  prometheus.NewDesc("zion_pool_shares_rejected_total", "Shares rejected across all connected miners.", nil, nil),
		hashrate:        prometheus.NewDesc("zion_pool_hashrate_estimate", "Estimated pool hashrate in hashes/second, summed from per-session VarDiff windows.", nil, nil),
		uptimeSeconds:   prometheus.NewDesc("zion_pool_uptime_seconds", "Seconds since the stratum listener started.", nil, nil),
		schedulerZionPct: prometheus.NewDesc("zion_scheduler_zion_actual_pct", "Actual compute-time share currently going to the ZION stream.", nil, nil),
		schedulerRevPct:  prometheus.NewDesc("zion_scheduler_revenue_actual_pct", "Actual compute-time share currently going to the Revenue stream.", nil, nil),
		schedulerNCLPct:  prometheus.NewDesc("zion_scheduler_ncl_actual_pct", "Actual compute-time share currently going to the NCL stream.", nil, nil),
		externalAccepted:  prometheus.NewDesc("zion_revenue_shares_accepted_total", "Shares accepted by an external-pool revenue client.", []string{"coin"}, nil),
		externalRejected:  prometheus.NewDesc("zion_revenue_shares_rejected_total", "Shares rejected by an external-pool revenue client.", []string{"coin"}, nil),
		externalConnected: prometheus.NewDesc("zion_revenue_connected", "1 if the external-pool revenue client for this coin is connected.", []string{"coin"}, nil),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedMiners
	ch <- c.sharesAccepted
	ch <- c.sharesRejected
	ch <- c.hashrate
	ch <- c.uptimeSeconds
	ch <- c.schedulerZionPct
	ch <- c.schedulerRevPct
	ch <- c.schedulerNCLPct
	ch <- c.externalAccepted
	ch <- c.externalRejected
	ch <- c.externalConnected
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	if c.s.pool != nil {
		st := c.s.pool.Stats()
		ch <- prometheus.MustNewConstMetric(c.connectedMiners, prometheus.GaugeValue, float64(st.ConnectedMiners))
		ch <- prometheus.MustNewConstMetric(c.sharesAccepted, prometheus.CounterValue, float64(st.TotalSharesAccepted))
		ch <- prometheus.MustNewConstMetric(c.sharesRejected, prometheus.CounterValue, float64(st.TotalSharesRejected))
		ch <- prometheus.MustNewConstMetric(c.hashrate, prometheus.GaugeValue, st.TotalHashrate)
		ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, st.UptimeSeconds)
	}

	if c.s.sched != nil {
		st := c.s.sched.Stats()
		ch <- prometheus.MustNewConstMetric(c.schedulerZionPct, prometheus.GaugeValue, st.ZionActualPct)
		ch <- prometheus.MustNewConstMetric(c.schedulerRevPct, prometheus.GaugeValue, st.RevenueActualPct)
		ch <- prometheus.MustNewConstMetric(c.schedulerNCLPct, prometheus.GaugeValue, st.NCLActualPct)
	}

	if c.s.revMgr != nil {
		for coin, cs := range c.s.revMgr.Stats() {
			ch <- prometheus.MustNewConstMetric(c.externalAccepted, prometheus.CounterValue, float64(cs.SharesAccepted), coin)
			ch <- prometheus.MustNewConstMetric(c.externalRejected, prometheus.CounterValue, float64(cs.SharesRejected), coin)
			connected := 0.0
			if cs.Connected {
				connected = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.externalConnected, prometheus.GaugeValue, connected, coin)
		}
	}
}
