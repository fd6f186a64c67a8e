package http

import (
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet-core/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-core/internal/securefile"
)

// Grant records when an origin was connected.
type Grant struct {
	Origin    string    `json:"origin"`
	GrantedAt time.Time `json:"grantedAt"`
	// Via is "connect" for grants made by an approved connect request and
	// "manual" for ones set through the permissions route.
	Via string `json:"via"`
}

const (
	grantViaConnect = "connect"
	grantViaManual  = "manual"
)

type permissionFile struct {
	Schema int              `json:"schema"`
	Grants map[string]Grant `json:"grants"`
}

// PermissionStore is the allowlist of origins that completed a connect
// request. Signing requests from other origins are refused without opening
// a session.
type PermissionStore struct {
	mu     sync.RWMutex
	path   string
	grants map[string]Grant
}

func NewPermissionStore(path string) *PermissionStore {
	return &PermissionStore{path: path, grants: make(map[string]Grant)}
}

// Load replaces the in-memory grants with the file contents. A missing file
// is an empty allowlist.
func (ps *PermissionStore) Load() error {
	pf, err := securefile.ReadJSON[permissionFile](ps.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, "load permissions file")
	}
	if pf.Schema != constants.SchemaV1 {
		return errors.Newf("permissions file schema %d is not supported", pf.Schema)
	}

	grants := make(map[string]Grant, len(pf.Grants))
	for origin, g := range pf.Grants {
		if o := normalizeOrigin(origin); o != "" {
			g.Origin = o
			grants[o] = g
		}
	}

	ps.mu.Lock()
	ps.grants = grants
	ps.mu.Unlock()
	return nil
}

func (ps *PermissionStore) IsAllowed(origin string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	_, ok := ps.grants[origin]
	return ok
}

// Grant allows origin. An existing grant keeps its original time.
func (ps *PermissionStore) Grant(origin, via string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.grants[origin]; ok {
		return nil
	}
	next := ps.copyLocked()
	next[origin] = Grant{Origin: origin, GrantedAt: time.Now().UTC(), Via: via}
	return ps.commitLocked(next)
}

func (ps *PermissionStore) Revoke(origin string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.grants[origin]; !ok {
		return nil
	}
	next := ps.copyLocked()
	delete(next, origin)
	return ps.commitLocked(next)
}

// Set grants or revokes origin manually.
func (ps *PermissionStore) Set(origin string, allowed bool) error {
	if allowed {
		return ps.Grant(origin, grantViaManual)
	}
	return ps.Revoke(origin)
}

// List returns the grants ordered by origin.
func (ps *PermissionStore) List() []Grant {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]Grant, 0, len(ps.grants))
	for _, g := range ps.grants {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

func (ps *PermissionStore) copyLocked() map[string]Grant {
	out := make(map[string]Grant, len(ps.grants)+1)
	for k, v := range ps.grants {
		out[k] = v
	}
	return out
}

// commitLocked persists next and only then makes it visible.
func (ps *PermissionStore) commitLocked(next map[string]Grant) error {
	pf := permissionFile{Schema: constants.SchemaV1, Grants: next}
	if err := securefile.WriteJSON(ps.path, pf, constants.FilePerm, constants.DirectoryPerm); err != nil {
		return errors.Wrap(err, "write permissions file")
	}
	ps.grants = next
	return nil
}
