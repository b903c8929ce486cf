// Package statsapi serves the pool's read-only HTTP surface: JSON endpoints
// for dashboards (spec.md §6 "Stats API") and a Prometheus 0.0.4 text
// exposition at /metrics. It never mutates pool state except for the one
// admin action spec.md §6 lists, /api/v1/profit/switch/:coin.
package statsapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/revenue"
	"github.com/zion-chain/zion-node/internal/scheduler"
	"github.com/zion-chain/zion-node/internal/stratum"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the pool's stats/metrics HTTP listener, grounded on
// internal/rpc.Server's New/Start/Addr/Stop shape.
type Server struct {
	addr string

	pool   *stratum.Server
	sched  *scheduler.Scheduler
	revMgr *revenue.Manager

	registry *prometheus.Registry
	server   *http.Server
	logger   zerolog.Logger
	ln       net.Listener
}

// New builds a stats API server. sched and revMgr may be nil (a
// stratum-only deployment with no stream scheduler or revenue proxy
// configured still serves /stats, /miners, /blocks, /payouts and /metrics).
func New(addr string, pool *stratum.Server, sched *scheduler.Scheduler, revMgr *revenue.Manager) *Server {
	s := &Server{
		addr:   addr,
		pool:   pool,
		sched:  sched,
		revMgr: revMgr,
		logger: klog.WithComponent("statsapi"),
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(newCollector(s))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /pool", s.handlePool)
	mux.HandleFunc("GET /miners", s.handleMiners)
	mux.HandleFunc("GET /blocks", s.handleBlocks)
	mux.HandleFunc("GET /payouts", s.handlePayouts)
	mux.HandleFunc("GET /api/v1/miner/{addr}/stats", s.handleMinerStats)
	mux.HandleFunc("GET /api/v1/blocks/recent/{count}", s.handleBlocksRecent)
	mux.HandleFunc("GET /api/v1/profit/status", s.handleProfitStatus)
	mux.HandleFunc("POST /api/v1/profit/switch/{coin}", s.handleProfitSwitch)
	mux.HandleFunc("GET /api/v1/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("GET /api/v1/buyback/status", s.handleBuybackStatus)
	mux.HandleFunc("GET /api/v1/external/stats", s.handleExternalStats)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Stats API server error")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Stats API listening")
	return nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
