package http

import (
	"fmt"

	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
)

// consentNotifier points the user at the consent UI page for each session
// that needs a decision. The UI itself polls /agent/approvals.
type consentNotifier struct {
	publicURL string
}

// NewConsentNotifier returns an approval.ConsentUI that logs where the
// consent page for a session can be opened.
func NewConsentNotifier(publicURL string) approval.ConsentUI {
	return &consentNotifier{publicURL: publicURL}
}

func (n *consentNotifier) Present(v approval.SessionView) {
	log.Info("approval required",
		"id", v.ID,
		"kind", v.Kind,
		"origin", v.Origin,
		"networkSwitchRequired", v.NetworkSwitchRequired,
		"url", fmt.Sprintf("%s/#/approvals/%s", n.publicURL, v.ID),
	)
}

func (n *consentNotifier) Dismiss(id string) {
	log.Info("approval closed", "id", id)
}
