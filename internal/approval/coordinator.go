// Package approval tracks consent-gated requests from the moment a relay
// submits them until exactly one reply has been delivered back.
//
// Each browser tab has a FIFO queue of sessions. Only the head of a queue is
// shown to the user; the rest wait in StatusPending. A session's reply channel
// is written once, by finish, under the coordinator lock.
package approval

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

type Config struct {
	// Timeout bounds how long an active session waits for the user.
	Timeout time.Duration
	// Retention is how long finished sessions are remembered so late
	// duplicate decisions stay no-ops.
	Retention time.Duration
	// QueueLimit bounds the sessions waiting behind the active one per tab.
	QueueLimit int
}

func DefaultConfig() Config {
	return Config{
		Timeout:    5 * time.Minute,
		Retention:  10 * time.Minute,
		QueueLimit: 8,
	}
}

type Option func(*Coordinator)

func WithNetworkState(n NetworkState) Option { return func(c *Coordinator) { c.network = n } }

func WithConsentUI(ui ConsentUI) Option { return func(c *Coordinator) { c.ui = ui } }

func WithObserver(o Observer) Option { return func(c *Coordinator) { c.observer = o } }

type session struct {
	id             string
	env            Envelope
	status         Status
	preview        any
	switchRequired bool
	inFlight       bool
	done           bool
	createdAt      time.Time
	activatedAt    time.Time
	expiresAt      time.Time
	timer          *time.Timer
	reply          chan Reply
}

type tombstone struct {
	view SessionView
	at   time.Time
}

type resolution struct {
	kind   Kind
	status Status
	reason string
	dur    time.Duration
}

// effects are collected under the lock and run after it is released, so
// hooks may call back into the coordinator.
type effects struct {
	opened   []Kind
	present  []SessionView
	dismiss  []string
	resolved []resolution
}

type Coordinator struct {
	mu         sync.Mutex
	cfg        Config
	signer     Signer
	network    NetworkState
	ui         ConsentUI
	observer   Observer
	sessions   map[string]*session
	tabs       map[string][]*session
	tombstones map[string]tombstone
	closed     bool
	now        func() time.Time
}

func New(signer Signer, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.QueueLimit < 0 {
		cfg.QueueLimit = 0
	}

	c := &Coordinator{
		cfg:        cfg,
		signer:     signer,
		sessions:   make(map[string]*session),
		tabs:       make(map[string][]*session),
		tombstones: make(map[string]tombstone),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ticket is the requester's handle on one session.
type Ticket struct {
	ID    string
	c     *Coordinator
	reply <-chan Reply
}

// Wait blocks until the session's reply is delivered. If ctx ends first the
// session is abandoned and the resulting reply returned.
func (t *Ticket) Wait(ctx context.Context) Reply {
	select {
	case r := <-t.reply:
		return r
	case <-ctx.Done():
		_ = t.c.Expire(t.ID)
		return <-t.reply
	}
}

// Request opens a session and waits for its reply.
func (c *Coordinator) Request(ctx context.Context, env Envelope) (Reply, error) {
	t, err := c.Open(ctx, env)
	if err != nil {
		return Reply{}, err
	}
	return t.Wait(ctx), nil
}

// Open registers env as a new session for its tab. Input problems are
// returned synchronously and create no session.
func (c *Coordinator) Open(ctx context.Context, env Envelope) (*Ticket, error) {
	env.TabID = strings.TrimSpace(env.TabID)
	if env.TabID == "" {
		return nil, InputError(errors.New("tab id is required"))
	}
	if !env.Kind.Valid() {
		return nil, InputError(errors.Newf("unsupported request kind %q", env.Kind))
	}

	s := &session{
		id:    env.TabID + "-" + uuid.NewString(),
		env:   env,
		reply: make(chan Reply, 1),
	}

	if p, ok := c.signer.(Previewer); ok {
		preview, err := p.Preview(ctx, Request{SessionID: s.id, Envelope: env})
		if err != nil {
			return nil, InputError(err)
		}
		s.preview = preview
	}

	var fx effects
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}
	c.gcLocked()

	queue := c.tabs[env.TabID]
	if len(queue) > c.cfg.QueueLimit {
		c.mu.Unlock()
		return nil, errors.Wrapf(ErrSessionBusy, "tab %s has %d queued requests", env.TabID, len(queue)-1)
	}

	s.status = StatusPending
	s.createdAt = c.now()
	c.sessions[s.id] = s
	c.tabs[env.TabID] = append(queue, s)
	fx.opened = append(fx.opened, env.Kind)
	if len(queue) == 0 {
		fx.present = append(fx.present, c.activateLocked(s))
	}
	c.mu.Unlock()

	log.Info("approval session opened", "id", s.id, "kind", env.Kind, "origin", env.Origin, "queued", len(queue))
	c.run(fx)
	return &Ticket{ID: s.id, c: c, reply: s.reply}, nil
}

// activateLocked moves the head of a tab queue in front of the user and arms
// its timeout.
func (c *Coordinator) activateLocked(s *session) SessionView {
	s.status = StatusAwaitingUser
	s.activatedAt = c.now()
	s.expiresAt = s.activatedAt.Add(c.cfg.Timeout)

	s.switchRequired = c.mismatchLocked(s)

	id := s.id
	s.timer = time.AfterFunc(c.cfg.Timeout, func() {
		log.Warn("approval session timed out", "id", id)
		_ = c.Expire(id)
	})
	return c.viewLocked(s)
}

// Resolve applies the user's decision. Approval runs the signer outside the
// lock; if the session finished meanwhile the result is discarded. Input
// errors from the signer leave the session open and are returned. A decision
// for a session that already finished is a no-op.
func (c *Coordinator) Resolve(ctx context.Context, id string, d Decision) error {
	c.mu.Lock()
	s, err := c.liveLocked(id)
	if s == nil {
		c.mu.Unlock()
		return err
	}

	if !d.Approve {
		fx := c.finishLocked(s, StatusRejected, Reply{Status: ReplyDeclined, Reason: ReasonDeclined})
		c.mu.Unlock()
		c.run(fx)
		return nil
	}

	// another session may have switched networks since this one was shown
	if s.status == StatusAwaitingUser {
		s.switchRequired = c.mismatchLocked(s)
	}

	switch {
	case s.status != StatusAwaitingUser:
		c.mu.Unlock()
		return errors.Wrapf(ErrSessionQueued, "session %s", id)
	case s.switchRequired:
		c.mu.Unlock()
		return errors.Wrapf(ErrNetworkMismatch, "request declares %q", s.env.DeclaredNetwork)
	case s.inFlight:
		c.mu.Unlock()
		return errors.Wrapf(ErrSessionBusy, "session %s is already being signed", id)
	}
	s.inFlight = true
	req := Request{SessionID: s.id, Envelope: s.env}
	c.mu.Unlock()

	data, signErr := c.signer.Approve(ctx, req, d)

	c.mu.Lock()
	s.inFlight = false
	if s.done {
		c.mu.Unlock()
		log.Info("approval result discarded", "id", id)
		return nil
	}
	if signErr != nil && IsInputError(signErr) {
		c.mu.Unlock()
		return signErr
	}

	var fx effects
	if signErr != nil {
		log.Error("approval failed", "id", id, "kind", s.env.Kind, "error", signErr)
		fx = c.finishLocked(s, StatusRejected, Reply{Status: ReplyDeclined, Reason: ReasonError})
	} else {
		fx = c.finishLocked(s, StatusApproved, Reply{Status: ReplyApproved, Data: data})
	}
	c.mu.Unlock()
	c.run(fx)
	return nil
}

// ConfirmNetworkSwitch answers the network-switch step of a session. Accepting
// switches the active network; declining rejects the session.
func (c *Coordinator) ConfirmNetworkSwitch(ctx context.Context, id string, accept bool) error {
	c.mu.Lock()
	s, err := c.liveLocked(id)
	if s == nil {
		c.mu.Unlock()
		return err
	}
	if s.status == StatusAwaitingUser {
		s.switchRequired = c.mismatchLocked(s)
	}
	if !s.switchRequired {
		c.mu.Unlock()
		return nil
	}
	if !accept {
		fx := c.finishLocked(s, StatusRejected, Reply{Status: ReplyDeclined, Reason: ReasonDeclined})
		c.mu.Unlock()
		c.run(fx)
		return nil
	}
	target := s.env.DeclaredNetwork
	c.mu.Unlock()

	if err := c.network.SwitchNetwork(ctx, target); err != nil {
		return errors.Wrapf(err, "switch to %s", target)
	}
	log.Info("network switched for approval", "id", id, "network", target)

	c.mu.Lock()
	fx := c.regateLocked(s)
	c.mu.Unlock()
	c.run(fx)
	return nil
}

// regateLocked recomputes the network gate of every presented session after
// the active network changed and re-presents the ones that changed, plus
// switched if it is still live.
func (c *Coordinator) regateLocked(switched *session) effects {
	var fx effects
	for _, queue := range c.tabs {
		if len(queue) == 0 {
			continue
		}
		head := queue[0]
		if head.done || head.status != StatusAwaitingUser {
			continue
		}
		gated := c.mismatchLocked(head)
		if gated == head.switchRequired && head != switched {
			continue
		}
		head.switchRequired = gated
		fx.present = append(fx.present, c.viewLocked(head))
	}
	return fx
}

// mismatchLocked reports whether s is a signing request whose declared
// network is not the active one.
func (c *Coordinator) mismatchLocked(s *session) bool {
	if c.network == nil || !s.env.Kind.Signing() || strings.TrimSpace(s.env.DeclaredNetwork) == "" {
		return false
	}
	return !c.network.Matches(s.env.DeclaredNetwork)
}

// Expire abandons a session: timeout, closed consent window or a requester
// that went away all end here.
func (c *Coordinator) Expire(id string) error {
	c.mu.Lock()
	s, err := c.liveLocked(id)
	if s == nil {
		c.mu.Unlock()
		return err
	}
	fx := c.finishLocked(s, StatusExpired, Reply{Status: ReplyDeclined, Reason: ReasonAbandoned})
	c.mu.Unlock()
	c.run(fx)
	return nil
}

// WindowClosed is Expire under the name the consent UI uses.
func (c *Coordinator) WindowClosed(id string) error { return c.Expire(id) }

// CloseTab abandons every session of a tab, queued ones included.
func (c *Coordinator) CloseTab(tabID string) int {
	c.mu.Lock()
	queue := append([]*session(nil), c.tabs[tabID]...)
	var fx effects
	// finish queued sessions first so none of them is promoted
	for i := len(queue) - 1; i >= 0; i-- {
		fx.merge(c.finishLocked(queue[i], StatusExpired, Reply{Status: ReplyDeclined, Reason: ReasonAbandoned}))
	}
	c.mu.Unlock()
	c.run(fx)
	if len(queue) > 0 {
		log.Info("tab closed", "tab", tabID, "sessions", len(queue))
	}
	return len(queue)
}

// Close abandons all live sessions and refuses new ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	var fx effects
	for tab := range c.tabs {
		queue := append([]*session(nil), c.tabs[tab]...)
		for i := len(queue) - 1; i >= 0; i-- {
			fx.merge(c.finishLocked(queue[i], StatusExpired, Reply{Status: ReplyDeclined, Reason: ReasonAbandoned}))
		}
	}
	c.mu.Unlock()
	c.run(fx)
}

// Pending lists live sessions, oldest first.
func (c *Coordinator) Pending() []SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SessionView, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, c.viewLocked(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Session returns a live session, or the final view of a recently finished one.
func (c *Coordinator) Session(id string) (SessionView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[id]; ok {
		return c.viewLocked(s), nil
	}
	if t, ok := c.tombstones[id]; ok {
		return t.view, nil
	}
	return SessionView{}, errors.Wrapf(ErrSessionNotFound, "id %s", id)
}

// liveLocked returns the live session for id. A nil session with a nil error
// means the session already finished.
func (c *Coordinator) liveLocked(id string) (*session, error) {
	if s, ok := c.sessions[id]; ok {
		return s, nil
	}
	if _, ok := c.tombstones[id]; ok {
		return nil, nil
	}
	return nil, errors.Wrapf(ErrSessionNotFound, "id %s", id)
}

// finishLocked is the only place a reply is sent.
func (c *Coordinator) finishLocked(s *session, status Status, r Reply) effects {
	var fx effects
	if s.done {
		return fx
	}
	s.done = true
	s.status = status
	if s.timer != nil {
		s.timer.Stop()
	}
	s.reply <- r

	now := c.now()
	view := c.viewLocked(s)
	view.Reason = r.Reason
	view.Preview = nil
	c.tombstones[s.id] = tombstone{view: view, at: now}
	delete(c.sessions, s.id)

	queue := c.tabs[s.env.TabID]
	wasHead := len(queue) > 0 && queue[0] == s
	next := queue[:0]
	for _, q := range queue {
		if q != s {
			next = append(next, q)
		}
	}
	if len(next) == 0 {
		delete(c.tabs, s.env.TabID)
	} else {
		c.tabs[s.env.TabID] = next
		if wasHead {
			fx.present = append(fx.present, c.activateLocked(next[0]))
		}
	}

	dur := now.Sub(s.createdAt)
	fx.dismiss = append(fx.dismiss, s.id)
	fx.resolved = append(fx.resolved, resolution{kind: s.env.Kind, status: status, reason: r.Reason, dur: dur})
	log.Info("approval session finished", "id", s.id, "status", status, "reason", r.Reason, "duration", dur)
	return fx
}

func (c *Coordinator) viewLocked(s *session) SessionView {
	v := SessionView{
		ID:                    s.id,
		TabID:                 s.env.TabID,
		Origin:                s.env.Origin,
		Kind:                  s.env.Kind,
		Status:                s.status,
		DeclaredNetwork:       s.env.DeclaredNetwork,
		NetworkSwitchRequired: s.switchRequired,
		Preview:               s.preview,
		CreatedAt:             s.createdAt,
		ExpiresAt:             s.expiresAt,
	}
	if c.network != nil {
		v.ActiveNetwork = c.network.ActiveNetwork()
	}
	for i, q := range c.tabs[s.env.TabID] {
		if q == s {
			v.QueuePosition = i
		}
	}
	return v
}

func (c *Coordinator) gcLocked() {
	cutoff := c.now().Add(-c.cfg.Retention)
	for id, t := range c.tombstones {
		if t.at.Before(cutoff) {
			delete(c.tombstones, id)
		}
	}
}

func (fx *effects) merge(o effects) {
	fx.opened = append(fx.opened, o.opened...)
	fx.present = append(fx.present, o.present...)
	fx.dismiss = append(fx.dismiss, o.dismiss...)
	fx.resolved = append(fx.resolved, o.resolved...)
}

func (c *Coordinator) run(fx effects) {
	if c.observer != nil {
		for _, k := range fx.opened {
			c.observer.SessionOpened(k)
		}
		for _, r := range fx.resolved {
			c.observer.SessionResolved(r.kind, r.status, r.reason, r.dur)
		}
	}
	if c.ui != nil {
		for _, id := range fx.dismiss {
			c.ui.Dismiss(id)
		}
		for _, v := range fx.present {
			c.ui.Present(v)
		}
	}
}
