// Package prompt reads answers and secrets from the terminal.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/term"
)

const MinVaultPasswordLen = 8

var ErrWeakPassword = errors.New("password rejected")

// LineWithDefault reads one line from r, returning def for an empty answer.
func LineWithDefault(r io.Reader, label, def string) string {
	if def != "" {
		_, _ = fmt.Fprintf(os.Stderr, "%s [%s]: ", label, def)
	} else {
		_, _ = fmt.Fprintf(os.Stderr, "%s: ", label)
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

// Secret reads without echo. Used for keystore passwords and mnemonics, which
// are checked elsewhere.
func Secret(label string) ([]byte, error) {
	_, _ = fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(os.Stderr)
	if err != nil {
		ZeroBytes(b)
		return nil, errors.Wrap(err, "password input failed")
	}
	return b, nil
}

// VaultPassword reads the password that seals new vault secrets.
func VaultPassword(label string) ([]byte, error) {
	pw, err := Secret(label)
	if err != nil {
		return nil, err
	}
	if err := CheckVaultPassword(pw); err != nil {
		ZeroBytes(pw)
		return nil, err
	}
	return pw, nil
}

func CheckVaultPassword(pw []byte) error {
	if len(pw) < MinVaultPasswordLen {
		return errors.Wrapf(ErrWeakPassword, "must be at least %d characters long", MinVaultPasswordLen)
	}
	for _, b := range pw {
		if !isAllowedPasswordChar(b) {
			return errors.Wrap(ErrWeakPassword, "use letters, numbers, and special characters only")
		}
	}
	return nil
}

// printable ASCII without space
func isAllowedPasswordChar(b byte) bool {
	return b > 0x20 && b < 0x7f
}

func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
