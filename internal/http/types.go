package http

import (
	"encoding/json"
	"time"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
)

const (
	extensionPairHeader = "X-QA-Extension"
	agentSessionHeader  = "X-QA-Session"
)

// corsPolicy with nil allowedOrigins reflects any well-formed origin.
type corsPolicy struct {
	allowedOrigins map[string]struct{}
	allowMethods   string

	allowHeaders string
	maxAge       int
}

type extensionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type relayRequest struct {
	TabID           string          `json:"tabId"`
	Origin          string          `json:"origin"`
	Kind            approval.Kind   `json:"kind"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	DeclaredNetwork string          `json:"declaredNetwork,omitempty"`
}

type setPermissionRequest struct {
	Origin  string `json:"origin"`
	Allowed bool   `json:"allowed"`
}

type decisionRequest struct {
	Approve  bool   `json:"approve"`
	Password string `json:"password,omitempty"`
}

type networkDecisionRequest struct {
	Accept bool `json:"accept"`
}

type pairResp struct {
	OK               bool   `json:"ok"`
	PairingToken     string `json:"pairingToken"`
	PairingTokenPath string `json:"pairingTokenPath,omitempty"`
}

type Pairing struct {
	CodeHash  []byte
	ExpiresAt time.Time
	Used      bool
	Token     string
}

type pairExchangeReq struct {
	PairID string `json:"pair_id"`
	Code   string `json:"code"`
}

type pairExchangeResp struct {
	OK     bool   `json:"ok"`
	Token  string `json:"token"`
	Header string `json:"header"`
}
