package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVaultPassword(t *testing.T) {
	tests := []struct {
		name string
		pw   string
		ok   bool
	}{
		{"short", "abc", false},
		{"space", "correct horse", false},
		{"control", "abcdefg\x01", false},
		{"ok", "S3cure!pass", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVaultPassword([]byte(tt.pw))
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrWeakPassword)
		})
	}
}

func TestLineWithDefault(t *testing.T) {
	assert.Equal(t, "m/44'/60'/0'/0/1", LineWithDefault(strings.NewReader("m/44'/60'/0'/0/1\n"), "path", "m/44'/60'/0'/0/0"))
	assert.Equal(t, "def", LineWithDefault(strings.NewReader("\n"), "path", "def"))
	assert.Equal(t, "def", LineWithDefault(strings.NewReader(""), "path", "def"))
	assert.Equal(t, "last", LineWithDefault(strings.NewReader("last"), "path", "def"))
}

func TestZeroBytes(t *testing.T) {
	b := []byte("secret")
	ZeroBytes(b)
	assert.Equal(t, make([]byte, 6), b)
}
