package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
)

func TestSessionsCounters(t *testing.T) {
	s := NewSessions()
	s.SessionOpened(approval.KindSignMessage)
	s.SessionOpened(approval.KindSignMessage)
	s.SessionResolved(approval.KindSignMessage, approval.StatusApproved, "", time.Second)
	s.SessionResolved(approval.KindSignMessage, approval.StatusExpired, approval.ReasonAbandoned, 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.opened.WithLabelValues("signMessage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.resolved.WithLabelValues("signMessage", "approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.resolved.WithLabelValues("signMessage", "abandoned")))
	assert.Equal(t, 1, testutil.CollectAndCount(s.duration))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "approved", outcome(approval.StatusApproved, ""))
	assert.Equal(t, "declined", outcome(approval.StatusRejected, approval.ReasonDeclined))
	assert.Equal(t, "error", outcome(approval.StatusRejected, approval.ReasonError))
	assert.Equal(t, "abandoned", outcome(approval.StatusExpired, approval.ReasonAbandoned))
}

func TestHandler(t *testing.T) {
	s := NewSessions()
	s.SessionOpened(approval.KindConnect)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `quantum_wallet_sessions_opened_total{kind="connect"} 1`))
}
