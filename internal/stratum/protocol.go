package stratum

import (
	"encoding/json"
)

// Dialect identifies which of the two stratum dialects a session speaks.
type Dialect int

const (
	// DialectUnknown is the state before the first method name is seen.
	DialectUnknown Dialect = iota
	// DialectXMRig is the JSON-RPC dialect using login/submit/keepalived/getjob.
	DialectXMRig
	// DialectClassic is the mining.subscribe/authorize/submit dialect.
	DialectClassic
)

// rpcRequest is the generic shape both dialects use on the wire: a JSON-RPC
// style envelope with an id, a method name, and params of varying shape.
type rpcRequest struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse is a reply or a server-initiated notification (id omitted).
type rpcResponse struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"` // set only on notifications
	Result interface{}     `json:"result,omitempty"`
	Error  *rpcError       `json:"error"`
	Params interface{}     `json:"params,omitempty"` // set only on notifications
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// detectDialect inspects the first request's method name.
func detectDialect(method string) Dialect {
	switch method {
	case "login", "submit", "keepalived", "getjob":
		return DialectXMRig
	case "mining.subscribe", "mining.authorize", "mining.submit":
		return DialectClassic
	default:
		return DialectUnknown
	}
}

// --- Dialect A (XMRig-style) payloads ---

type xmrigLoginParams struct {
	Login string `json:"login"` // "wallet.worker"
	Pass  string `json:"pass"`
	Agent string `json:"agent"`
}

type xmrigSubmitParams struct {
	ID     string `json:"id"`
	JobID  string `json:"job_id"`
	Nonce  string `json:"nonce"`
	Result string `json:"result"`
}

type xmrigJobPayload struct {
	JobID      string `json:"job_id"`
	Blob       string `json:"blob"`
	Target     string `json:"target"`
	Height     uint64 `json:"height"`
	Algo       string `json:"algo"`
	SeedHash   string `json:"seed_hash,omitempty"`
	CleanJobs  bool   `json:"clean_jobs"`
}

type xmrigLoginResult struct {
	ID     string          `json:"id"`
	Job    xmrigJobPayload `json:"job"`
	Status string          `json:"status"`
}

type xmrigSubmitResult struct {
	Status string `json:"status"`
}

// --- Dialect B (classic mining.*) payloads ---

// classicSubscribeResult mirrors the Bitcoin-stratum subscribe reply shape:
// [[[notifyMethod, subID]], extranonce1, extranonce2Size].
type classicSubscribeResult struct {
	Subscriptions [][2]string `json:"-"`
	Extranonce1   string      `json:"-"`
	Extranonce2Sz int         `json:"-"`
}

func (r classicSubscribeResult) MarshalJSON() ([]byte, error) {
	subs := make([][2]string, 0, len(r.Subscriptions))
	subs = append(subs, r.Subscriptions...)
	return json.Marshal([]interface{}{subs, r.Extranonce1, r.Extranonce2Sz})
}

func jobToNotifyParams(j ScheduledJob) []interface{} {
	return []interface{}{j.JobID, j.BlobHex, j.TargetHex, j.Height, j.AlgorithmName, j.SeedHash, j.CleanJobs}
}
