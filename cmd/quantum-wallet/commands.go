package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/quantumauth-io/quantum-wallet-core/internal/curvemath"
	"github.com/quantumauth-io/quantum-wallet-core/internal/keyderivation"
	"github.com/quantumauth-io/quantum-wallet-core/internal/prompt"
	"github.com/quantumauth-io/quantum-wallet-core/internal/typeddata"
	"github.com/quantumauth-io/quantum-wallet-core/internal/vault"
	"github.com/quantumauth-io/quantum-wallet-core/internal/wallet"
)

type accountFlags struct {
	address  string
	keyIndex int
	signAlgo string
	hashAlgo string
	label    string
}

func (a *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&a.address, "address", "", "account address; empty uses the EVM address of a secp256k1 key")
	cmd.Flags().IntVar(&a.keyIndex, "key-index", 0, "account key index")
	cmd.Flags().StringVar(&a.signAlgo, "sign-algo", "ECDSA_secp256k1", "ECDSA_P256 or ECDSA_secp256k1")
	cmd.Flags().StringVar(&a.hashAlgo, "hash-algo", "SHA3_256", "SHA2_256 or SHA3_256")
	cmd.Flags().StringVar(&a.label, "label", "", "display label")
}

func (a *accountFlags) options() (wallet.ImportOptions, error) {
	sa, err := curvemath.ParseSignAlgo(a.signAlgo)
	if err != nil {
		return wallet.ImportOptions{}, err
	}
	ha, err := curvemath.ParseHashAlgo(a.hashAlgo)
	if err != nil {
		return wallet.ImportOptions{}, err
	}
	return wallet.ImportOptions{
		Address:  a.address,
		KeyIndex: a.keyIndex,
		SignAlgo: sa,
		HashAlgo: ha,
		Label:    a.label,
	}, nil
}

type derivedKeys struct {
	Path       string `json:"path"`
	P256       string `json:"p256"`
	Secp256k1  string `json:"secp256k1"`
	EVMAddress string `json:"evmAddress"`
}

func newDeriveCmd(flags *rootFlags) *cobra.Command {
	var (
		path           string
		withPassphrase bool
	)
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the public keys a seed phrase derives at a path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Derivation.DefaultPath
			}

			in, err := readDerivationInput(path, withPassphrase)
			if err != nil {
				return err
			}
			tuple, err := keyderivation.DeriveFromSeed(in)
			if err != nil {
				return err
			}
			defer tuple.Private.Zero()

			addr, err := keyderivation.EVMAddress(tuple.Public.SECP256K1.PubK)
			if err != nil {
				return err
			}
			return printJSON(cmd, derivedKeys{
				Path:       path,
				P256:       hex.EncodeToString(tuple.Public.P256.PubK),
				Secp256k1:  hex.EncodeToString(tuple.Public.SECP256K1.PubK),
				EVMAddress: addr.Hex(),
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "BIP-32 derivation path (default from config)")
	cmd.Flags().BoolVar(&withPassphrase, "passphrase", false, "prompt for a BIP-39 passphrase")
	return cmd
}

func newImportMnemonicCmd(flags *rootFlags) *cobra.Command {
	var (
		acct           accountFlags
		path           string
		withPassphrase bool
	)
	cmd := &cobra.Command{
		Use:   "import-mnemonic",
		Short: "Add a seed-phrase account to the vault",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Derivation.DefaultPath
			}
			opts, err := acct.options()
			if err != nil {
				return err
			}
			w, _, err := flags.openWallet(cfg)
			if err != nil {
				return err
			}

			in, err := readDerivationInput(path, withPassphrase)
			if err != nil {
				return err
			}
			opts.Password, err = prompt.VaultPassword("Vault password: ")
			if err != nil {
				return err
			}
			defer prompt.ZeroBytes(opts.Password)

			a, err := w.ImportMnemonic(in, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}
	acct.register(cmd)
	cmd.Flags().StringVar(&path, "path", "", "BIP-32 derivation path (default from config)")
	cmd.Flags().BoolVar(&withPassphrase, "passphrase", false, "prompt for a BIP-39 passphrase")
	return cmd
}

func newImportKeystoreCmd(flags *rootFlags) *cobra.Command {
	var acct accountFlags
	cmd := &cobra.Command{
		Use:   "import-keystore <file>",
		Short: "Decrypt a V3 keystore file and add its key to the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			opts, err := acct.options()
			if err != nil {
				return err
			}
			blob, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "read keystore %s", args[0])
			}
			w, _, err := flags.openWallet(cfg)
			if err != nil {
				return err
			}

			ksPassword, err := prompt.Secret("Keystore password: ")
			if err != nil {
				return err
			}
			defer prompt.ZeroBytes(ksPassword)
			opts.Password, err = prompt.VaultPassword("Vault password: ")
			if err != nil {
				return err
			}
			defer prompt.ZeroBytes(opts.Password)

			a, err := w.ImportKeystore(blob, string(ksPassword), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}
	acct.register(cmd)
	return cmd
}

func newAccountsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List vault accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := flags.resolveStateDir()
			if err != nil {
				return err
			}
			v, err := vault.Open(dir)
			if err != nil {
				return err
			}
			return printJSON(cmd, v.Accounts())
		},
	}
}

func newHashTypedDataCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-typed-data <file>",
		Short: "Print the EIP-712 digest of a typed-data JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}
			doc, err := typeddata.Parse(raw)
			if err != nil {
				return err
			}
			digest, err := typeddata.HashHex(doc)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), digest)
			return err
		},
	}
}

func readDerivationInput(path string, withPassphrase bool) (keyderivation.DerivationInput, error) {
	mnemonic, err := prompt.Secret("Seed phrase: ")
	if err != nil {
		return keyderivation.DerivationInput{}, err
	}
	defer prompt.ZeroBytes(mnemonic)

	in := keyderivation.DerivationInput{
		Mnemonic: strings.Join(strings.Fields(string(mnemonic)), " "),
		Path:     path,
	}
	if withPassphrase {
		pp, err := prompt.Secret("Passphrase: ")
		if err != nil {
			return keyderivation.DerivationInput{}, err
		}
		in.Passphrase = string(pp)
		prompt.ZeroBytes(pp)
	}
	return in, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
