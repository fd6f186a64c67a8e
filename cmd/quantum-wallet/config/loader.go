package config

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/quantumauth-io/quantum-wallet-core/internal/approval"
	"github.com/quantumauth-io/quantum-wallet-core/internal/networks"
)

//go:embed default.yaml
var EmbeddedConfigYAML []byte

const EnvPrefix = "QW"

type ServerSettings struct {
	Host             string        `mapstructure:"host"`
	Port             string        `mapstructure:"port"`
	PublicURL        string        `mapstructure:"publicURL"`
	PairTTL          time.Duration `mapstructure:"pairTTL"`
	UIAllowedOrigins []string      `mapstructure:"uiAllowedOrigins"`
}

type ApprovalSettings struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Retention  time.Duration `mapstructure:"retention"`
	QueueLimit int           `mapstructure:"queueLimit"`
}

type DerivationSettings struct {
	DefaultPath string `mapstructure:"defaultPath"`
}

type KeystoreSettings struct {
	DummyScryptN int `mapstructure:"dummyScryptN"`
	DummyScryptP int `mapstructure:"dummyScryptP"`
}

type NetworkSettings struct {
	Name       string `mapstructure:"name"`
	Kind       string `mapstructure:"kind"`
	ChainIdHex string `mapstructure:"chainIdHex"`
	Explorer   string `mapstructure:"explorer"`
	RpcUrl     string `mapstructure:"rpcUrl"`
}

type NetworksSettings struct {
	Active string            `mapstructure:"active"`
	Known  []NetworkSettings `mapstructure:"known"`
}

type Config struct {
	Server     ServerSettings     `mapstructure:"server"`
	Approval   ApprovalSettings   `mapstructure:"approval"`
	Derivation DerivationSettings `mapstructure:"derivation"`
	Keystore   KeystoreSettings   `mapstructure:"keystore"`
	Networks   NetworksSettings   `mapstructure:"networks"`
}

// SearchPaths lists the directories checked for config.yaml, lowest
// precedence first.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append([]string{filepath.Join(home, ".config", "quantumauth-wallet")}, paths...)
	}
	return paths
}

// Load reads the embedded defaults, merges config.yaml from paths and then a
// QW_ prefixed environment. explicit, when set, must exist.
func Load(explicit string, paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(EmbeddedConfigYAML)); err != nil {
		return nil, errors.Wrap(err, "read embedded config")
	}

	for _, dir := range paths {
		p := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := mergeFile(v, p); err != nil {
			return nil, err
		}
	}
	if explicit != "" {
		if err := mergeFile(v, explicit); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open config %s", path)
	}
	defer func() { _ = f.Close() }()
	if err := v.MergeConfig(f); err != nil {
		return errors.Wrapf(err, "merge config %s", path)
	}
	return nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("server.port is required")
	}
	if c.Approval.Timeout <= 0 {
		return errors.Newf("approval.timeout must be positive, got %s", c.Approval.Timeout)
	}
	if c.Approval.QueueLimit < 0 {
		return errors.Newf("approval.queueLimit must not be negative, got %d", c.Approval.QueueLimit)
	}
	for i, n := range c.Networks.Known {
		switch networks.Kind(strings.ToLower(n.Kind)) {
		case networks.KindFlow, networks.KindEVM:
		default:
			return errors.Newf("networks.known[%d] %q: unknown kind %q", i, n.Name, n.Kind)
		}
	}
	return nil
}

func (c *Config) ApprovalConfig() approval.Config {
	out := approval.DefaultConfig()
	out.Timeout = c.Approval.Timeout
	if c.Approval.Retention > 0 {
		out.Retention = c.Approval.Retention
	}
	out.QueueLimit = c.Approval.QueueLimit
	return out
}

func (c *Config) KnownNetworks() []networks.Network {
	out := make([]networks.Network, 0, len(c.Networks.Known))
	for _, n := range c.Networks.Known {
		out = append(out, networks.Network{
			Name:       n.Name,
			Kind:       networks.Kind(strings.ToLower(n.Kind)),
			ChainIdHex: n.ChainIdHex,
			Explorer:   n.Explorer,
			RpcUrl:     n.RpcUrl,
		})
	}
	return out
}
