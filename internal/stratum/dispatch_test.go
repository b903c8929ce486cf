package stratum

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/zion-chain/zion-node/config"
	"github.com/zion-chain/zion-node/internal/shares"
	"github.com/zion-chain/zion-node/pkg/types"
)

func testServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	chain := &fakeChain{height: 9, tip: types.Hash{9, 9, 9}, timestamp: 1000}
	var addr types.Address
	templates := NewTemplateBuilder(chain, emptyPool{}, fixedSchedule(config.AlgoBlake3Autolykos), fixedDifficulty(1_000_000), addr, 1000, 500)
	validator := shares.NewValidator(time.Minute)

	cfg := Config{
		ExtranonceSize: 4,
		StaleTimeout:   5 * time.Minute,
		VarDiff: VarDiffConfig{
			Min: 1, Max: 1_000_000_000, Start: 1,
			TargetShareSeconds: 10, RetargetWindow: 100, MinRetargetSeconds: 3600,
		},
	}
	s := New(cfg, templates, validator)

	serverConn, clientConn := net.Pipe()
	sess := newSession(serverConn, cfg.ExtranonceSize, cfg.VarDiff)
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	go func() {
		for {
			line, err := sess.readLine()
			if err != nil {
				return
			}
			s.dispatch(sess, line)
		}
	}()
	go sess.writeLoop()

	return s, clientConn
}

func writeLine(t *testing.T, conn net.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		t.Fatal(err)
	}
}

func readResponse(t *testing.T, conn net.Conn) rpcResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("decode response: %v, line=%s", err, line)
	}
	return resp
}

func TestDispatch_XMRigLoginAndSubmit(t *testing.T) {
	_, conn := testServer(t)
	defer conn.Close()

	writeLine(t, conn, map[string]interface{}{
		"id": 1, "method": "login",
		"params": map[string]string{"login": "zion1minerwallet.rig1", "pass": "x"},
	})
	loginResp := readResponse(t, conn)
	if loginResp.Error != nil {
		t.Fatalf("login returned error: %+v", loginResp.Error)
	}

	resultBytes, _ := json.Marshal(loginResp.Result)
	var loginResult xmrigLoginResult
	json.Unmarshal(resultBytes, &loginResult)
	if loginResult.Status != "OK" {
		t.Fatalf("login status = %q, want OK", loginResult.Status)
	}
	if loginResult.Job.JobID == "" {
		t.Fatal("login should hand out an initial job")
	}

	writeLine(t, conn, map[string]interface{}{
		"id": 2, "method": "submit",
		"params": map[string]string{
			"id": loginResult.ID, "job_id": loginResult.Job.JobID,
			"nonce": "00000001", "result": "",
		},
	})
	submitResp := readResponse(t, conn)
	if submitResp.Error != nil {
		t.Fatalf("first submit should be accepted, got error: %+v", submitResp.Error)
	}

	// A duplicate submit must be rejected.
	writeLine(t, conn, map[string]interface{}{
		"id": 3, "method": "submit",
		"params": map[string]string{
			"id": loginResult.ID, "job_id": loginResult.Job.JobID,
			"nonce": "00000001", "result": "",
		},
	})
	dupResp := readResponse(t, conn)
	if dupResp.Error == nil {
		t.Fatal("duplicate submit should be rejected")
	}
}

func TestDispatch_ClassicSubscribeAuthorizeSubmit(t *testing.T) {
	_, conn := testServer(t)
	defer conn.Close()

	writeLine(t, conn, map[string]interface{}{
		"id": 1, "method": "mining.subscribe", "params": []string{"test-miner/1.0"},
	})
	subResp := readResponse(t, conn)
	if subResp.Error != nil {
		t.Fatalf("subscribe error: %+v", subResp.Error)
	}

	writeLine(t, conn, map[string]interface{}{
		"id": 2, "method": "mining.authorize", "params": []string{"zion1minerwallet.rig1", "x"},
	})
	authResp := readResponse(t, conn)
	if authResp.Error != nil {
		t.Fatalf("authorize error: %+v", authResp.Error)
	}

	// mining.set_difficulty push.
	diffPush := readResponse(t, conn)
	if diffPush.Method != "mining.set_difficulty" {
		t.Fatalf("expected mining.set_difficulty push, got method=%q", diffPush.Method)
	}

	// mining.notify push carrying the initial job.
	notify := readResponse(t, conn)
	if notify.Method != "mining.notify" {
		t.Fatalf("expected mining.notify push, got method=%q", notify.Method)
	}
	params, _ := notify.Params.([]interface{})
	if len(params) == 0 {
		t.Fatal("mining.notify should carry params")
	}
	jobID, _ := params[0].(string)

	writeLine(t, conn, map[string]interface{}{
		"id": 3, "method": "mining.submit",
		"params": []string{"rig1", jobID, "00000000", "deadbeef", "00000002"},
	})
	submitResp := readResponse(t, conn)
	if submitResp.Error != nil {
		t.Fatalf("classic submit should be accepted, got error: %+v", submitResp.Error)
	}
}

func TestDispatch_SubmitBeforeAuthRejected(t *testing.T) {
	_, conn := testServer(t)
	defer conn.Close()

	writeLine(t, conn, map[string]interface{}{
		"id": 1, "method": "submit",
		"params": map[string]string{"id": "x", "job_id": "h1-aaaaaaaa-1-blake3", "nonce": "00000001"},
	})
	resp := readResponse(t, conn)
	if resp.Error == nil {
		t.Fatal("submit before login should be rejected")
	}
}

func TestDispatch_UnknownMethodIgnored(t *testing.T) {
	_, conn := testServer(t)
	defer conn.Close()

	writeLine(t, conn, map[string]interface{}{"id": 1, "method": "nonsense", "params": nil})

	// Follow with a real login; if dialect detection got stuck, this would
	// never produce a response and the test would time out.
	writeLine(t, conn, map[string]interface{}{
		"id": 2, "method": "login",
		"params": map[string]string{"login": "zion1w.rig", "pass": "x"},
	})
	resp := readResponse(t, conn)
	if resp.Error != nil {
		t.Fatalf("login after unknown method should still work: %+v", resp.Error)
	}
}
