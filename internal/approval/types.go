package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

type Kind string

const (
	KindConnect         Kind = "connect"
	KindSignMessage     Kind = "signMessage"
	KindSignTransaction Kind = "signTransaction"
	KindSignTypedData   Kind = "signTypedData"
)

func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindSignMessage, KindSignTransaction, KindSignTypedData:
		return true
	}
	return false
}

// Signing reports whether the kind produces a signature.
func (k Kind) Signing() bool { return k.Valid() && k != KindConnect }

type Status string

const (
	StatusPending      Status = "pending"
	StatusAwaitingUser Status = "awaiting_user"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusExpired      Status = "expired"
)

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

const (
	ReplyApproved = "APPROVED"
	ReplyDeclined = "DECLINED"

	ReasonDeclined  = "user_declined"
	ReasonAbandoned = "user_abandoned"
	ReasonError     = "error"
)

var (
	ErrSessionNotFound   = errors.New("unknown approval session")
	ErrSessionBusy       = errors.New("approval session busy")
	ErrSessionQueued     = errors.New("approval session is not yet presented")
	ErrNetworkMismatch   = errors.New("network switch must be confirmed before signing")
	ErrCoordinatorClosed = errors.New("approval coordinator closed")

	// ErrInvalidInput marks errors the user can correct without losing the
	// session, like a wrong password or a malformed payload.
	ErrInvalidInput = errors.New("invalid input")
)

// InputError marks err as correctable by the user.
func InputError(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrInvalidInput)
}

func IsInputError(err error) bool { return errors.Is(err, ErrInvalidInput) }

// Envelope is an inbound relay request.
type Envelope struct {
	TabID           string          `json:"tabId"`
	Origin          string          `json:"origin"`
	Kind            Kind            `json:"kind"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	DeclaredNetwork string          `json:"declaredNetwork,omitempty"`
}

// Reply is the single outcome delivered back to the relay.
type Reply struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (r Reply) Approved() bool { return r.Status == ReplyApproved }

// Decision is what the consent UI posts for a session.
type Decision struct {
	Approve bool
	// Secret unlocks signing material; the coordinator never retains it.
	Secret []byte
}

// Request is handed to the Signer once the user approves.
type Request struct {
	SessionID string
	Envelope
}

type SessionView struct {
	ID                    string    `json:"id"`
	TabID                 string    `json:"tabId"`
	Origin                string    `json:"origin"`
	Kind                  Kind      `json:"kind"`
	Status                Status    `json:"status"`
	Reason                string    `json:"reason,omitempty"`
	DeclaredNetwork       string    `json:"declaredNetwork,omitempty"`
	ActiveNetwork         string    `json:"activeNetwork,omitempty"`
	NetworkSwitchRequired bool      `json:"networkSwitchRequired"`
	Preview               any       `json:"preview,omitempty"`
	CreatedAt             time.Time `json:"createdAt"`
	ExpiresAt             time.Time `json:"expiresAt,omitempty"`
	QueuePosition         int       `json:"queuePosition"`
}

// Signer performs the approved operation, typed-data hashing included.
type Signer interface {
	Approve(ctx context.Context, req Request, d Decision) (any, error)
}

// Previewer optionally decodes a payload for display. Errors reject the
// request before a session is created.
type Previewer interface {
	Preview(ctx context.Context, req Request) (any, error)
}

// NetworkState resolves declared networks, which may be names or chain ids.
type NetworkState interface {
	ActiveNetwork() string
	// Matches reports whether declared resolves to the active network.
	// Unknown networks never match.
	Matches(declared string) bool
	SwitchNetwork(ctx context.Context, name string) error
}

// ConsentUI is notified when a session needs the user and when it is done.
type ConsentUI interface {
	Present(view SessionView)
	Dismiss(id string)
}

type Observer interface {
	SessionOpened(kind Kind)
	SessionResolved(kind Kind, status Status, reason string, d time.Duration)
}
