package main

import (
	"os"

	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/spf13/cobra"

	walletconfig "github.com/quantumauth-io/quantum-wallet-core/cmd/quantum-wallet/config"
	"github.com/quantumauth-io/quantum-wallet-core/internal/constants"
	"github.com/quantumauth-io/quantum-wallet-core/internal/keystore"
	"github.com/quantumauth-io/quantum-wallet-core/internal/securefile"
	"github.com/quantumauth-io/quantum-wallet-core/internal/vault"
	"github.com/quantumauth-io/quantum-wallet-core/internal/wallet"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type rootFlags struct {
	configFile string
	stateDir   string
}

func main() {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "quantum-wallet",
		Short:         "Wallet key derivation, signing and approval core",
		Version:       Version + " (" + Commit + ", " + BuildDate + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "path to a config.yaml overriding the defaults")
	root.PersistentFlags().StringVar(&flags.stateDir, "state-dir", "", "directory holding the vault, networks and permissions")

	root.AddCommand(
		newServeCmd(flags),
		newDeriveCmd(flags),
		newImportKeystoreCmd(flags),
		newImportMnemonicCmd(flags),
		newAccountsCmd(flags),
		newHashTypedDataCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Error("quantum-wallet", "error", err)
		os.Exit(1)
	}
}

func (f *rootFlags) load() (*walletconfig.Config, error) {
	return walletconfig.Load(f.configFile, walletconfig.SearchPaths()...)
}

func (f *rootFlags) resolveStateDir() (string, error) {
	if f.stateDir != "" {
		return f.stateDir, nil
	}
	return securefile.StateDir(constants.AppName)
}

// openWallet opens the vault in the state dir with the keystore importer
// tuned from config.
func (f *rootFlags) openWallet(cfg *walletconfig.Config) (*wallet.Wallet, string, error) {
	dir, err := f.resolveStateDir()
	if err != nil {
		return nil, "", err
	}
	v, err := vault.Open(dir)
	if err != nil {
		return nil, "", err
	}

	var opts []keystore.Option
	if cfg.Keystore.DummyScryptN > 0 && cfg.Keystore.DummyScryptP > 0 {
		opts = append(opts, keystore.WithDummyScrypt(cfg.Keystore.DummyScryptN, cfg.Keystore.DummyScryptP))
	}
	return wallet.New(v, keystore.NewImporter(opts...)), dir, nil
}
