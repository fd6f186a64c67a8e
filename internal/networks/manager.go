// Package networks keeps the list of known networks and which one is active.
// The active network is what approval sessions compare declared networks to.
package networks

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"

	"github.com/quantumauth-io/quantum-wallet-core/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-core/internal/securefile"
)

var ErrUnknownNetwork = errors.New("unknown network")

var chainDefaults = map[string]struct {
	Name     string
	Explorer string
}{
	"0x1":      {"mainnet", "https://etherscan.io"},
	"0xaa36a7": {"sepolia", "https://sepolia.etherscan.io"},
	"0x2eb":    {"flow-evm", "https://evm.flowscan.io"},
	"0x221":    {"flow-evm-testnet", "https://evm-testnet.flowscan.io"},
	"0x2105":   {"base", "https://basescan.org"},
	"0x14a34":  {"base-sepolia", "https://sepolia.basescan.org"},
}

type Manager struct {
	path string

	mu     sync.Mutex
	store  Store
	active atomic.Pointer[Network]
}

// NewManager loads path if it exists.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, store: NewEmptyStore()}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) Path() string { return m.path }

// EnsureFromConfig adds configured networks that are missing, fills blank
// fields of existing ones without overwriting user values, and selects
// defaultActive when nothing is active yet.
func (m *Manager) EnsureFromConfig(defaults []Network, defaultActive string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	changed := false
	for _, dn := range defaults {
		dn = normalize(dn)
		if dn.Name == "" {
			continue
		}
		existing, ok := m.store.Networks[dn.Name]
		if !ok {
			m.store.Networks[dn.Name] = dn
			changed = true
			continue
		}
		if existing.Explorer == "" && dn.Explorer != "" {
			existing.Explorer = dn.Explorer
			changed = true
		}
		if existing.RpcUrl == "" && dn.RpcUrl != "" {
			existing.RpcUrl = dn.RpcUrl
			changed = true
		}
		if existing.ChainIdHex == "" && dn.ChainIdHex != "" {
			existing.ChainIdHex = dn.ChainIdHex
			changed = true
		}
		m.store.Networks[dn.Name] = existing
	}

	if _, ok := m.store.Networks[m.store.Active]; !ok {
		want := normalizeKey(defaultActive)
		if _, ok := m.store.Networks[want]; !ok {
			want = ""
			if names := m.sortedNames(); len(names) > 0 {
				want = names[0]
			}
		}
		if want != m.store.Active {
			m.store.Active = want
			changed = true
		}
	}
	m.publishActive()

	if _, err := os.Stat(m.path); err != nil {
		changed = true
	}
	if changed {
		return m.persist()
	}
	return nil
}

func (m *Manager) AddNetwork(n Network) (Network, error) {
	n = normalize(n)
	if n.Name == "" {
		return Network{}, errors.New("network.name is required")
	}
	if n.Kind == KindEVM && n.ChainIdHex == "" {
		return Network{}, errors.New("network.chainIdHex is required for evm networks")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.store.Networks[n.Name]; exists {
		return Network{}, errors.Newf("network name already exists: %s", n.Name)
	}
	if n.ChainIdHex != "" {
		if other, ok := m.findByChainLocked(n.ChainIdHex); ok {
			return Network{}, errors.Newf("network already exists for chainIdHex %s (name: %s)", n.ChainIdHex, other.Name)
		}
	}
	m.store.Networks[n.Name] = n
	if err := m.persist(); err != nil {
		return Network{}, err
	}
	return n, nil
}

func (m *Manager) RemoveNetwork(name string) error {
	name = normalizeKey(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Networks[name]; !ok {
		return nil
	}
	if name == m.store.Active {
		return errors.Newf("cannot remove the active network %s", name)
	}
	delete(m.store.Networks, name)
	return m.persist()
}

func (m *Manager) List() []Network {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Network, 0, len(m.store.Networks))
	for _, name := range m.sortedNames() {
		out = append(out, m.store.Networks[name])
	}
	return out
}

// Lookup resolves a network by name or by chain id.
func (m *Manager) Lookup(nameOrChain string) (Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookupLocked(nameOrChain)
}

// Active returns the active network; ok is false when none is configured.
func (m *Manager) Active() (Network, bool) {
	n := m.active.Load()
	if n == nil {
		return Network{}, false
	}
	return *n, true
}

func (m *Manager) ActiveNetwork() string {
	n, _ := m.Active()
	return n.Name
}

// Matches reports whether declared, a name or chain id, resolves to the
// active network.
func (m *Manager) Matches(declared string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked(declared)
	if err != nil {
		return false
	}
	return n.Name == m.store.Active
}

// SwitchNetwork makes name the active network and persists the choice.
// Chain ids are accepted in place of names.
func (m *Manager) SwitchNetwork(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.lookupLocked(name)
	if err != nil {
		return err
	}
	prev := m.store.Active
	m.store.Active = n.Name
	if err := m.persist(); err != nil {
		m.store.Active = prev
		return err
	}
	m.publishActive()
	log.Info("switched network", "from", prev, "to", n.Name, "chain", n.ChainIdHex)
	return nil
}

// Enrich fills name and explorer of well-known chains.
func Enrich(n Network) Network {
	n = normalize(n)
	if d, ok := chainDefaults[n.ChainIdHex]; ok {
		if n.Name == "" {
			n.Name = d.Name
		}
		if n.Explorer == "" {
			n.Explorer = d.Explorer
		}
		if n.Kind == "" {
			n.Kind = KindEVM
		}
	}
	return n
}

func (m *Manager) lookupLocked(nameOrChain string) (Network, error) {
	key := normalizeKey(nameOrChain)
	if n, ok := m.store.Networks[key]; ok {
		return n, nil
	}
	if n, ok := m.findByChainLocked(key); ok {
		return n, nil
	}
	return Network{}, errors.Wrapf(ErrUnknownNetwork, "%q", nameOrChain)
}

func (m *Manager) findByChainLocked(chain string) (Network, bool) {
	want := normalizeChainIdHex(chain)
	if want == "" || want == "0x" {
		return Network{}, false
	}
	for _, n := range m.store.Networks {
		if n.ChainIdHex == want {
			return n, true
		}
	}
	return Network{}, false
}

func (m *Manager) publishActive() {
	n, ok := m.store.Networks[m.store.Active]
	if !ok {
		m.active.Store(nil)
		return
	}
	m.active.Store(&n)
}

func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.store.Networks))
	for name := range m.store.Networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) load() error {
	s, err := securefile.ReadJSON[Store](m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.Wrap(err, "load networks file")
	}

	norm := NewEmptyStore()
	if s.Schema != 0 {
		norm.Schema = s.Schema
	}
	for k, n := range s.Networks {
		if n.Name == "" {
			n.Name = k
		}
		n = normalize(n)
		if n.Name == "" {
			continue
		}
		norm.Networks[n.Name] = n
	}
	norm.Active = normalizeKey(s.Active)

	m.store = norm
	m.publishActive()
	return nil
}

func (m *Manager) persist() error {
	return securefile.WriteJSON(m.path, m.store, constants.FilePerm, constants.DirectoryPerm)
}

func normalize(n Network) Network {
	n.Name = normalizeKey(n.Name)
	n.Kind = Kind(strings.ToLower(strings.TrimSpace(string(n.Kind))))
	if n.Kind == "" {
		n.Kind = KindFlow
		if n.ChainIdHex != "" {
			n.Kind = KindEVM
		}
	}
	n.ChainIdHex = normalizeChainIdHex(n.ChainIdHex)
	n.Explorer = strings.TrimSpace(n.Explorer)
	n.RpcUrl = strings.TrimSpace(n.RpcUrl)
	return n
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeChainIdHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}
