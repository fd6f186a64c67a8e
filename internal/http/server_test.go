package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
)

const base = "http://127.0.0.1:6137"

func init() { gin.SetMode(gin.TestMode) }

type stubSigner struct{}

func (stubSigner) Approve(_ context.Context, req approval.Request, d approval.Decision) (any, error) {
	if req.Kind.Signing() && string(d.Secret) != "pw" {
		return nil, approval.InputError(errors.New("wrong password"))
	}
	return map[string]string{"kind": string(req.Kind)}, nil
}

type testEnv struct {
	srv   *Server
	coord *approval.Coordinator
	ext   string
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	coord := approval.New(stubSigner{}, approval.Config{Timeout: time.Minute, Retention: time.Minute, QueueLimit: 4})
	t.Cleanup(coord.Close)

	srv, err := NewServer(Config{
		StateDir:         t.TempDir(),
		PublicURL:        base,
		UIAllowedOrigins: []string{"http://localhost:5173"},
	}, coord, nil, http.NotFoundHandler())
	require.NoError(t, err)
	return &testEnv{srv: srv, coord: coord}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, base+path, &buf)
	req.RemoteAddr = "127.0.0.1:50000"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) agent() map[string]string {
	return map[string]string{agentSessionHeader: e.srv.agentSessionToken}
}

func (e *testEnv) pair(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/agent/extension/pair", nil, e.agent())
	require.Equal(t, http.StatusOK, rec.Code)
	var resp pairResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PairingToken)
	e.ext = resp.PairingToken
}

func (e *testEnv) extension() map[string]string {
	return map[string]string{extensionPairHeader: e.ext}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) extensionResponse {
	t.Helper()
	var out extensionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// relay posts a relay request in the background; the handler blocks until
// the session is resolved.
func (e *testEnv) relay(t *testing.T, req relayRequest) <-chan *httptest.ResponseRecorder {
	t.Helper()
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() { done <- e.do(t, http.MethodPost, "/relay/request", req, e.extension()) }()
	return done
}

func (e *testEnv) waitPending(t *testing.T, n int) []approval.SessionView {
	t.Helper()
	require.Eventually(t, func() bool { return len(e.coord.Pending()) == n }, 5*time.Second, 10*time.Millisecond)
	return e.coord.Pending()
}

func TestLoopbackOnly(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, base+"/healthz", nil)
	req.RemoteAddr = "10.0.0.8:4000"
	rec = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "http://evil.example/healthz", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAgentRoutesRequireToken(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodGet, "/agent/approvals", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/agent/approvals", nil, map[string]string{agentSessionHeader: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/agent/approvals", nil, e.agent())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtensionRoutesRequirePairing(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodGet, "/extension/permissions", nil, nil)
	assert.Equal(t, http.StatusPreconditionRequired, rec.Code)

	e.pair(t)
	rec = e.do(t, http.MethodGet, "/extension/permissions", nil, map[string]string{extensionPairHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodGet, "/extension/permissions", nil, e.extension())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.FileExists(t, e.srv.pairingTokenPath)
}

func TestPairCodeExchange(t *testing.T) {
	e := newTestServer(t)

	link, err := e.srv.NewPairCode()
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	q, err := url.ParseQuery(strings.TrimPrefix(u.Fragment, "/?"))
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/pair/exchange", pairExchangeReq{PairID: q.Get("pair_id"), Code: "WRONGCODE"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/pair/exchange", pairExchangeReq{PairID: q.Get("pair_id"), Code: q.Get("code")}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp pairExchangeResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, e.srv.agentSessionToken, resp.Token)
	assert.Equal(t, agentSessionHeader, resp.Header)

	rec = e.do(t, http.MethodPost, "/pair/exchange", pairExchangeReq{PairID: q.Get("pair_id"), Code: q.Get("code")}, nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestSigningRequiresConnectedOrigin(t *testing.T) {
	e := newTestServer(t)
	e.pair(t)

	rec := e.do(t, http.MethodPost, "/relay/request", relayRequest{
		TabID:   "7",
		Origin:  "https://dapp.example",
		Kind:    approval.KindSignMessage,
		Payload: json.RawMessage(`{"message":"00"}`),
	}, e.extension())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, reasonApprovalRequired, decode(t, rec).Error)
	assert.Empty(t, e.coord.Pending())
}

func TestConnectThenSign(t *testing.T) {
	e := newTestServer(t)
	e.pair(t)

	done := e.relay(t, relayRequest{TabID: "7", Origin: "https://dapp.example/path", Kind: approval.KindConnect})
	views := e.waitPending(t, 1)
	assert.Equal(t, "https://dapp.example", views[0].Origin)

	rec := e.do(t, http.MethodPost, "/agent/approvals/"+views[0].ID+"/decision", decisionRequest{Approve: true}, e.agent())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = <-done
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.OK)
	assert.True(t, e.srv.perms.IsAllowed("https://dapp.example"))

	done = e.relay(t, relayRequest{
		TabID:   "7",
		Origin:  "https://dapp.example",
		Kind:    approval.KindSignMessage,
		Payload: json.RawMessage(`{"message":"00"}`),
	})
	views = e.waitPending(t, 1)
	id := views[0].ID

	rec = e.do(t, http.MethodPost, "/agent/approvals/"+id+"/decision", decisionRequest{Approve: true, Password: "bad"}, e.agent())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodGet, "/agent/approvals/"+id, nil, e.agent())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/agent/approvals/"+id+"/decision", decisionRequest{Approve: true, Password: "pw"}, e.agent())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = <-done
	resp = decode(t, rec)
	assert.True(t, resp.OK)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, approval.ReplyApproved, data["status"])
}

func TestWindowCloseAbandons(t *testing.T) {
	e := newTestServer(t)
	e.pair(t)

	done := e.relay(t, relayRequest{TabID: "3", Origin: "https://dapp.example", Kind: approval.KindConnect})
	views := e.waitPending(t, 1)

	rec := e.do(t, http.MethodPost, "/agent/approvals/"+views[0].ID+"/close", nil, e.agent())
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode(t, <-done)
	assert.False(t, resp.OK)
	data := resp.Data.(map[string]any)
	assert.Equal(t, approval.ReplyDeclined, data["status"])
	assert.Equal(t, approval.ReasonAbandoned, data["reason"])
	assert.False(t, e.srv.perms.IsAllowed("https://dapp.example"))

	// late decisions are no-ops
	rec = e.do(t, http.MethodPost, "/agent/approvals/"+views[0].ID+"/decision", decisionRequest{Approve: true}, e.agent())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTabCloseAbandonsQueue(t *testing.T) {
	e := newTestServer(t)
	e.pair(t)

	first := e.relay(t, relayRequest{TabID: "9", Origin: "https://dapp.example", Kind: approval.KindConnect})
	e.waitPending(t, 1)
	second := e.relay(t, relayRequest{TabID: "9", Origin: "https://dapp.example", Kind: approval.KindConnect})
	e.waitPending(t, 2)

	rec := e.do(t, http.MethodPost, "/agent/tabs/9/close", nil, e.agent())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec).Data.(map[string]any)["abandoned"])

	assert.False(t, decode(t, <-first).OK)
	assert.False(t, decode(t, <-second).OK)
}

func TestUnknownApproval(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodPost, "/agent/approvals/missing/decision", decisionRequest{Approve: true}, e.agent())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/agent/approvals/missing", nil, e.agent())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPermissionsRoundTrip(t *testing.T) {
	e := newTestServer(t)
	e.pair(t)

	rec := e.do(t, http.MethodPost, "/extension/permissions/set", setPermissionRequest{Origin: "HTTPS://Dapp.Example", Allowed: true}, e.extension())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/extension/permissions/status?origin=https://dapp.example", nil, e.extension())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec).Data.(map[string]any)["allowed"])

	reloaded := NewPermissionStore(filepath.Join(filepath.Dir(e.srv.pairingTokenPath), "permissions.json"))
	require.NoError(t, reloaded.Load())
	assert.True(t, reloaded.IsAllowed("https://dapp.example"))
}

func TestCORS(t *testing.T) {
	e := newTestServer(t)

	rec := e.do(t, http.MethodOptions, "/agent/approvals/x/decision", nil, map[string]string{
		"Origin":                        "http://localhost:5173",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = e.do(t, http.MethodGet, "/agent/approvals", nil, map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodOptions, "/relay/request", nil, map[string]string{"Origin": "chrome-extension://abcdef"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "chrome-extension://abcdef", rec.Header().Get("Access-Control-Allow-Origin"))
}
