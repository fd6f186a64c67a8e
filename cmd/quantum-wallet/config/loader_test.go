package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumauth-io/quantum-wallet-core/internal/networks"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "6137", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Approval.Timeout)
	assert.Equal(t, 8, cfg.Approval.QueueLimit)
	assert.Equal(t, "m/44'/539'/0'/0/0", cfg.Derivation.DefaultPath)
	assert.Equal(t, "flow-mainnet", cfg.Networks.Active)

	known := cfg.KnownNetworks()
	require.NotEmpty(t, known)
	assert.Equal(t, networks.KindFlow, known[0].Kind)

	ac := cfg.ApprovalConfig()
	assert.Equal(t, 10*time.Minute, ac.Retention)
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
approval:
  timeout: 30s
networks:
  active: sepolia
`), 0o600))
	t.Setenv("QW_APPROVAL_QUEUELIMIT", "3")

	cfg, err := Load("", dir)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Approval.Timeout)
	assert.Equal(t, 3, cfg.Approval.QueueLimit)
	assert.Equal(t, "sepolia", cfg.Networks.Active)
	assert.Equal(t, "6137", cfg.Server.Port)
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
networks:
  known:
    - name: solana
      kind: svm
`), 0o600))

	_, err := Load(p)
	require.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestLoadExplicitFileWinsOverSearchPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
server:
  port: "7000"
`), 0o600))
	explicit := filepath.Join(t.TempDir(), "wallet.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte(`
server:
  port: "7001"
`), 0o600))

	cfg, err := Load(explicit, filepath.Join(t.TempDir(), "absent"), dir)
	require.NoError(t, err)
	assert.Equal(t, "7001", cfg.Server.Port)

	t.Setenv("QW_SERVER_PORT", "7002")
	cfg, err = Load(explicit, dir)
	require.NoError(t, err)
	assert.Equal(t, "7002", cfg.Server.Port)
}
