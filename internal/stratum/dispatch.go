package stratum

import (
	"encoding/json"
	"strings"
	"time"

	klog "github.com/zion-chain/zion-node/internal/log"
	"github.com/zion-chain/zion-node/internal/shares"
)

// parseWalletWorker splits XMRig/classic's "wallet.worker" login identity.
func parseWalletWorker(login string) (wallet, worker string) {
	if i := strings.IndexByte(login, '.'); i >= 0 {
		return login[:i], login[i+1:]
	}
	return login, ""
}

func (s *Server) handleXMRig(sess *Session, req rpcRequest) {
	switch req.Method {
	case "login":
		var p xmrigLoginParams
		json.Unmarshal(req.Params, &p)
		sess.mu.Lock()
		sess.Wallet, sess.Worker = parseWalletWorker(p.Login)
		sess.mu.Unlock()
		sess.State = StateAuthenticated

		job := s.currentAssignment(sess)
		sess.send(rpcResponse{ID: req.ID, Result: xmrigLoginResult{
			ID:  sess.ID,
			Job: xmrigJobPayload{JobID: job.JobID, Blob: job.BlobHex, Target: job.TargetHex, Height: job.Height, Algo: job.AlgorithmName, CleanJobs: true},
			Status: "OK",
		}})

	case "submit":
		var p xmrigSubmitParams
		json.Unmarshal(req.Params, &p)
		if sess.State != StateAuthenticated {
			s.replyError(sess, req.ID, ErrUnauthorized, "not authenticated", "", 0)
			return
		}
		nonce, result := extractNonceAndResult(p.Nonce, p.Result)
		res := s.submitShare(sess, p.JobID, nonce, result)
		s.replySubmit(sess, req.ID, p.JobID, res)

	case "keepalived":
		sess.send(rpcResponse{ID: req.ID, Result: xmrigSubmitResult{Status: "KEEPALIVED"}})

	case "getjob":
		if sess.State != StateAuthenticated {
			s.replyError(sess, req.ID, ErrUnauthorized, "not authenticated", "", 0)
			return
		}
		job := s.currentAssignment(sess)
		sess.send(rpcResponse{ID: req.ID, Result: xmrigJobPayload{
			JobID: job.JobID, Blob: job.BlobHex, Target: job.TargetHex,
			Height: job.Height, Algo: job.AlgorithmName, SeedHash: job.SeedHash,
			CleanJobs: job.CleanJobs,
		}})
	}
}

func (s *Server) handleClassic(sess *Session, req rpcRequest) {
	switch req.Method {
	case "mining.subscribe":
		sess.send(rpcResponse{ID: req.ID, Result: classicSubscribeResult{
			Subscriptions: [][2]string{{"mining.notify", sess.ID}},
			Extranonce1:   sess.Extranonce,
			Extranonce2Sz: 4,
		}})

	case "mining.authorize":
		var params []string
		json.Unmarshal(req.Params, &params)
		if len(params) > 0 {
			sess.mu.Lock()
			sess.Wallet, sess.Worker = parseWalletWorker(params[0])
			sess.mu.Unlock()
		}
		sess.State = StateAuthenticated
		sess.send(rpcResponse{ID: req.ID, Result: true})

		sess.send(rpcResponse{Method: "mining.set_difficulty", Params: []interface{}{sess.difficulty()}})
		job := s.currentAssignment(sess)
		s.pushJob(sess, job)

	case "mining.submit":
		var params []string
		json.Unmarshal(req.Params, &params)
		if sess.State != StateAuthenticated {
			s.replyError(sess, req.ID, ErrUnauthorized, "not authenticated", "", 0)
			return
		}
		if len(params) < 5 {
			s.replyError(sess, req.ID, ErrUnknown, "malformed submit", "", 0)
			return
		}
		// worker, jobID, extranonce2, ntime, nonce
		jobID := params[1]
		nonce, result := extractNonceAndResult(params[4], params[2])
		res := s.submitShare(sess, jobID, nonce, result)
		s.replySubmit(sess, req.ID, jobID, res)
	}
}

func (s *Server) currentOrRefresh() builtTemplate {
	if s.templates == nil {
		return builtTemplate{}
	}
	return s.templates.Current()
}

// currentAssignment implements "getjob semantics" (spec.md §4.4): if the
// session is in the Revenue group and an external job is active, return
// that; otherwise the native template job.
func (s *Server) currentAssignment(sess *Session) ScheduledJob {
	sess.mu.Lock()
	group := sess.group
	sess.mu.Unlock()

	if s.router != nil && group == "revenue" {
		if job, ok := s.router.CurrentAssignment(group); ok {
			return job
		}
	}
	built := s.currentOrRefresh()
	return s.nativeJobFor(sess, built, time.Now())
}

// submitShare runs the full share-submit flow (spec.md §4.4 "Share submit
// flow"): external-coin short-circuit, then recompute+validate via
// internal/shares, then VarDiff bookkeeping.
func (s *Server) submitShare(sess *Session, jobID, nonceHex, resultHex string) shares.Result {
	if coin, external := s.routeJob(jobID); external {
		// The stream scheduler forwards to the external pool and the
		// miner is told success immediately; the external pool is the
		// ultimate arbiter (spec.md §4.4 step 3).
		klog.Pool.Debug().Str("coin", coin).Str("job_id", jobID).Msg("Forwarding share to external pool")
		if s.forwarder != nil {
			originalJobID := strings.TrimPrefix(jobID, "ext-"+coin+"-")
			s.forwarder.SubmitExternalShare(coin, originalJobID, nonceHex, resultHex, sess.identity())
		}
		sess.recordAccepted(time.Now())
		return shares.Result{Valid: true, Reason: "Forwarded", MeetsShareTarget: true}
	}

	built, _ := s.resolveJob(jobID)
	algoName := algorithmFromJobID(jobID)
	if algoName == "" {
		algoName = built.algoName
	}

	result := s.validator.Validate(shares.Submission{
		Algorithm:      algoName,
		JobBlobHex:     built.blobHex,
		JobTargetHex:   ShareTargetHex(algoName, sess.difficulty(), s.cfg.CosmicHarmonyLittleEndian),
		BlockTargetHex: built.targetHex,
		Height:         built.height,
		NonceHex:       nonceHex,
		ResultHex:      resultHex,
		MinerIdentity:  sess.identity(),
	})

	if result.Valid {
		now := time.Now()
		sess.recordAccepted(now)
		if newDiff, retarget := sess.recordShareForVarDiff(now); retarget {
			s.applyRetarget(sess, newDiff)
		}
		if result.IsBlock {
			// Assembling and submitting the winning block to internal/chain
			// is payout-accounting-adjacent plumbing out of scope here (see
			// DESIGN.md); this at least surfaces the event for an operator.
			klog.Pool.Info().
				Str("miner", sess.identity()).
				Uint64("height", built.height).
				Str("job_id", jobID).
				Msg("Share meets block target")
		}
	} else {
		sess.recordRejected()
	}
	return result
}

func (s *Server) routeJob(jobID string) (coin string, external bool) {
	if s.router == nil {
		return "", false
	}
	return s.router.RouteShare(jobID)
}

func (s *Server) replySubmit(sess *Session, id json.RawMessage, jobID string, res shares.Result) {
	if res.Valid {
		switch sess.Dialect {
		case DialectXMRig:
			sess.send(rpcResponse{ID: id, Result: xmrigSubmitResult{Status: "OK"}})
		case DialectClassic:
			sess.send(rpcResponse{ID: id, Result: true})
		}
		return
	}
	s.replyError(sess, id, classifyReason(res.Reason), res.Reason, jobID, 0)
}

func (s *Server) replyError(sess *Session, id json.RawMessage, kind ErrorKind, reason, jobID string, difficulty uint64) {
	errPayload := map[string]interface{}{
		"kind":       string(kind),
		"reason":     reason,
		"job_id":     jobID,
		"difficulty": difficulty,
	}
	switch sess.Dialect {
	case DialectXMRig:
		data, _ := json.Marshal(errPayload)
		sess.send(rpcResponse{ID: id, Error: &rpcError{Code: -1, Message: string(data)}})
	case DialectClassic:
		sess.send(rpcResponse{ID: id, Result: false, Error: &rpcError{Code: -1, Message: reason}})
	}
}
