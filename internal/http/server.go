// Package http is the loopback API between the browser extension, the consent
// UI and the approval coordinator.
package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
	"github.com/quantumauth-io/quantum-wallet-core/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-core/internal/networks"
)

const reasonApprovalRequired = "approval_required"

type Config struct {
	// StateDir holds the permission allowlist and the pairing token.
	StateDir string
	// PublicURL is where the consent UI reaches this server.
	PublicURL        string
	UIAllowedOrigins []string
	PairTTL          time.Duration
}

type Server struct {
	cfg         Config
	coordinator *approval.Coordinator
	networks    *networks.Manager
	metrics     http.Handler
	engine      *gin.Engine

	agentSessionToken string
	uiAllowedOrigins  map[string]struct{}

	perms            *PermissionStore
	pairingTokenPath string

	pairings   map[string]*Pairing
	pairingsMu sync.Mutex
}

// NewServer wires the routes. metrics may be nil.
func NewServer(cfg Config, coordinator *approval.Coordinator, nets *networks.Manager, metrics http.Handler) (*Server, error) {
	if coordinator == nil {
		return nil, errors.New("approval coordinator is required")
	}
	if cfg.PairTTL <= 0 {
		cfg.PairTTL = 60 * time.Second
	}

	s := &Server{
		cfg:              cfg,
		coordinator:      coordinator,
		networks:         nets,
		metrics:          metrics,
		pairings:         make(map[string]*Pairing),
		pairingTokenPath: filepath.Join(cfg.StateDir, constants.PairingFile),
	}

	s.perms = NewPermissionStore(filepath.Join(cfg.StateDir, constants.PermissionsFile))
	if err := s.perms.Load(); err != nil {
		return nil, err
	}

	token, err := newSessionToken()
	if err != nil {
		return nil, errors.Wrap(err, "agent session token")
	}
	s.agentSessionToken = token

	s.uiAllowedOrigins = make(map[string]struct{}, len(cfg.UIAllowedOrigins))
	for _, o := range cfg.UIAllowedOrigins {
		if o = normalizeOrigin(o); o != "" {
			s.uiAllowedOrigins[o] = struct{}{}
		}
	}

	s.engine = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), s.corsByPath(), loopbackOnly())

	r.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}
	r.POST("/pair/exchange", s.handleTokenPair)

	ext := r.Group("/", s.extensionPairedGuards())
	{
		ext.POST("/relay/request", s.handleRelayRequest)
		ext.GET("/extension/permissions", s.handleGetPermissions)
		ext.GET("/extension/permissions/status", s.handleGetPermissionStatus)
		ext.POST("/extension/permissions/set", s.handleSetPermission)
		ext.GET("/extension/network", s.handleActiveNetwork)
	}

	agent := r.Group("/agent", s.agentGuards())
	{
		agent.GET("/approvals", s.handleListApprovals)
		agent.GET("/approvals/:id", s.handleGetApproval)
		agent.POST("/approvals/:id/decision", s.handleDecision)
		agent.POST("/approvals/:id/network", s.handleNetworkDecision)
		agent.POST("/approvals/:id/close", s.handleWindowClosed)
		agent.POST("/tabs/:tab/close", s.handleTabClosed)
		agent.POST("/extension/pair", s.handleAgentExtensionPair)
		agent.GET("/extension/status", s.handleAgentExtensionStatus)
	}
	return r
}

// NewPairCode registers a one-time code the consent UI trades for the agent
// token and returns the URL that carries it.
func (s *Server) NewPairCode() (string, error) {
	pairID := uuid.NewString()
	code, err := generatePairCode()
	if err != nil {
		return "", errors.Wrap(err, "pair code")
	}

	s.pairingsMu.Lock()
	s.pairings[pairID] = &Pairing{
		CodeHash:  hashCode(code),
		ExpiresAt: time.Now().Add(s.cfg.PairTTL),
		Token:     s.agentSessionToken,
	}
	s.pairingsMu.Unlock()

	return fmt.Sprintf("%s/#/?server=%s&pair_id=%s&code=%s",
		s.cfg.PublicURL,
		url.QueryEscape(s.cfg.PublicURL),
		url.QueryEscape(pairID),
		url.QueryEscape(code),
	), nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleTokenPair(c *gin.Context) {
	var req pairExchangeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "invalid JSON"})
		return
	}
	req.PairID = strings.TrimSpace(req.PairID)
	req.Code = strings.TrimSpace(req.Code)
	if req.PairID == "" || req.Code == "" {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "missing pair_id or code"})
		return
	}

	now := time.Now()

	s.pairingsMu.Lock()
	for id, p := range s.pairings {
		if p == nil || now.After(p.ExpiresAt) {
			delete(s.pairings, id)
		}
	}

	p, ok := s.pairings[req.PairID]
	if !ok || p.Used {
		s.pairingsMu.Unlock()
		c.JSON(http.StatusGone, extensionResponse{Error: "pair expired"})
		return
	}

	got := sha256.Sum256([]byte(req.Code))
	if len(p.CodeHash) != sha256.Size || subtle.ConstantTimeCompare(p.CodeHash, got[:]) != 1 {
		s.pairingsMu.Unlock()
		c.JSON(http.StatusUnauthorized, extensionResponse{Error: "invalid code"})
		return
	}

	p.Used = true
	token := p.Token
	s.pairingsMu.Unlock()

	c.JSON(http.StatusOK, pairExchangeResp{OK: true, Token: token, Header: agentSessionHeader})
}

func (s *Server) handleAgentExtensionPair(c *gin.Context) {
	token, err := newSessionToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, extensionResponse{Error: "failed to generate token"})
		return
	}
	if err := writePairingTokenFile(s.pairingTokenPath, token); err != nil {
		log.Error("write pairing token", "error", err)
		c.JSON(http.StatusInternalServerError, extensionResponse{Error: "failed to write pairing token"})
		return
	}
	c.JSON(http.StatusOK, pairResp{OK: true, PairingToken: token, PairingTokenPath: s.pairingTokenPath})
}

func (s *Server) handleAgentExtensionStatus(c *gin.Context) {
	_, err := loadPairingToken(s.pairingTokenPath)
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: gin.H{"paired": err == nil}})
}

func (s *Server) handleGetPermissions(c *gin.Context) {
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: gin.H{"grants": s.perms.List()}})
}

func (s *Server) handleGetPermissionStatus(c *gin.Context) {
	origin := normalizeOrigin(c.Query("origin"))
	if origin == "" {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "missing/invalid origin"})
		return
	}
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: gin.H{"origin": origin, "allowed": s.perms.IsAllowed(origin)}})
}

func (s *Server) handleSetPermission(c *gin.Context) {
	var req setPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "invalid JSON"})
		return
	}
	origin := normalizeOrigin(req.Origin)
	if origin == "" {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "missing/invalid origin"})
		return
	}
	if err := s.perms.Set(origin, req.Allowed); err != nil {
		log.Error("save permission", "origin", origin, "error", err)
		c.JSON(http.StatusInternalServerError, extensionResponse{Error: "failed to save permission"})
		return
	}
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: gin.H{"origin": origin, "allowed": req.Allowed}})
}

func (s *Server) handleActiveNetwork(c *gin.Context) {
	if s.networks == nil {
		c.JSON(http.StatusNotFound, extensionResponse{Error: "no networks configured"})
		return
	}
	n, ok := s.networks.Active()
	if !ok {
		c.JSON(http.StatusNotFound, extensionResponse{Error: "no active network"})
		return
	}
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: n})
}

// handleRelayRequest blocks until the session's single reply is delivered.
// A client that disconnects abandons its session.
func (s *Server) handleRelayRequest(c *gin.Context) {
	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "invalid JSON"})
		return
	}
	origin := normalizeOrigin(req.Origin)
	if origin == "" {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "missing/invalid origin"})
		return
	}
	if req.Kind.Signing() && !s.perms.IsAllowed(origin) {
		c.JSON(http.StatusForbidden, extensionResponse{
			Error: reasonApprovalRequired,
			Data:  approval.Reply{Status: approval.ReplyDeclined, Reason: reasonApprovalRequired},
		})
		return
	}

	ticket, err := s.coordinator.Open(c.Request.Context(), approval.Envelope{
		TabID:           req.TabID,
		Origin:          origin,
		Kind:            req.Kind,
		Payload:         req.Payload,
		DeclaredNetwork: req.DeclaredNetwork,
	})
	if err != nil {
		writeApprovalError(c, err)
		return
	}

	reply := ticket.Wait(c.Request.Context())
	if req.Kind == approval.KindConnect && reply.Approved() {
		if err := s.perms.Grant(origin, grantViaConnect); err != nil {
			log.Error("save permission", "origin", origin, "error", err)
		}
	}
	c.JSON(http.StatusOK, extensionResponse{OK: reply.Approved(), Data: reply})
}

func (s *Server) handleListApprovals(c *gin.Context) {
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: s.coordinator.Pending()})
}

func (s *Server) handleGetApproval(c *gin.Context) {
	view, err := s.coordinator.Session(c.Param("id"))
	if err != nil {
		writeApprovalError(c, err)
		return
	}
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: view})
}

func (s *Server) handleDecision(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "invalid JSON"})
		return
	}
	secret := []byte(req.Password)
	defer func() {
		for i := range secret {
			secret[i] = 0
		}
	}()

	id := c.Param("id")
	if err := s.coordinator.Resolve(c.Request.Context(), id, approval.Decision{Approve: req.Approve, Secret: secret}); err != nil {
		writeApprovalError(c, err)
		return
	}
	s.respondWithSession(c, id)
}

func (s *Server) handleNetworkDecision(c *gin.Context) {
	var req networkDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, extensionResponse{Error: "invalid JSON"})
		return
	}
	id := c.Param("id")
	if err := s.coordinator.ConfirmNetworkSwitch(c.Request.Context(), id, req.Accept); err != nil {
		writeApprovalError(c, err)
		return
	}
	s.respondWithSession(c, id)
}

func (s *Server) handleWindowClosed(c *gin.Context) {
	id := c.Param("id")
	if err := s.coordinator.WindowClosed(id); err != nil {
		writeApprovalError(c, err)
		return
	}
	s.respondWithSession(c, id)
}

func (s *Server) handleTabClosed(c *gin.Context) {
	n := s.coordinator.CloseTab(c.Param("tab"))
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: gin.H{"abandoned": n}})
}

func (s *Server) respondWithSession(c *gin.Context, id string) {
	view, err := s.coordinator.Session(id)
	if err != nil {
		// retention elapsed between the call and the lookup
		c.JSON(http.StatusOK, extensionResponse{OK: true})
		return
	}
	c.JSON(http.StatusOK, extensionResponse{OK: true, Data: view})
}

func writeApprovalError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, approval.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, approval.ErrNetworkMismatch),
		errors.Is(err, approval.ErrSessionQueued),
		errors.Is(err, approval.ErrSessionBusy):
		status = http.StatusConflict
	case errors.Is(err, approval.ErrCoordinatorClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, networks.ErrUnknownNetwork):
		status = http.StatusUnprocessableEntity
	case approval.IsInputError(err):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Error("approval request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, extensionResponse{Error: err.Error()})
}
