package keystore

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	gethkeystore "github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "1ab42cc412b618bdea3a599e3c9bae199ebf030895b039e9db1e30dafb12b727"

func lightImporter() *Importer {
	return NewImporter(WithDummyScrypt(gethkeystore.LightScryptN, gethkeystore.LightScryptP))
}

func encryptFixture(t *testing.T, password string) []byte {
	t.Helper()
	priv, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)

	key := &gethkeystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(priv.PublicKey),
		PrivateKey: priv,
	}
	blob, err := gethkeystore.EncryptKey(key, password, gethkeystore.LightScryptN, gethkeystore.LightScryptP)
	require.NoError(t, err)
	return blob
}

func TestImportJSON(t *testing.T) {
	blob := encryptFixture(t, "correct horse")
	imp := lightImporter()

	first, err := imp.ImportJSON(blob, "correct horse")
	require.NoError(t, err)
	second, err := imp.ImportJSON(blob, "correct horse")
	require.NoError(t, err)

	assert.Equal(t, testKeyHex, hex.EncodeToString(first))
	assert.Equal(t, first, second)
}

func TestImportJSONFailuresLookTheSame(t *testing.T) {
	blob := encryptFixture(t, "correct horse")
	imp := lightImporter()

	var doc map[string]any
	require.NoError(t, json.Unmarshal(blob, &doc))
	doc["crypto"].(map[string]any)["ciphertext"] = "00"
	corrupt, err := json.Marshal(doc)
	require.NoError(t, err)

	tests := []struct {
		name     string
		blob     []byte
		password string
	}{
		{"wrong password", blob, "battery staple"},
		{"empty password", blob, ""},
		{"corrupt ciphertext", corrupt, "correct horse"},
		{"not json", []byte("{nope"), "correct horse"},
		{"empty document", []byte("{}"), "correct horse"},
		{"unknown version", []byte(`{"version":1}`), "correct horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := imp.ImportJSON(tt.blob, tt.password)
			require.ErrorIs(t, err, ErrKeystoreDecryptionFailed)
			assert.Nil(t, key)
			assert.Equal(t, ErrKeystoreDecryptionFailed.Error(), err.Error())
		})
	}
}

func TestImportJSONDummyKDFOnlyBeforeDocumentKDF(t *testing.T) {
	blob := encryptFixture(t, "correct horse")

	var doc map[string]any
	require.NoError(t, json.Unmarshal(blob, &doc))

	// a zero key under a valid MAC fails after the document's KDF ran
	cj, err := gethkeystore.EncryptDataV3(make([]byte, 32), []byte("correct horse"), gethkeystore.LightScryptN, gethkeystore.LightScryptP)
	require.NoError(t, err)
	zeroKey, err := json.Marshal(map[string]any{
		"version": 3,
		"id":      uuid.NewString(),
		"address": doc["address"],
		"crypto":  cj,
	})
	require.NoError(t, err)

	badCipher := cloneDoc(t, doc)
	badCipher["crypto"].(map[string]any)["cipher"] = "aes-256-gcm"
	badKDF := cloneDoc(t, doc)
	badKDF["crypto"].(map[string]any)["kdf"] = "argon2id"
	badMAC := cloneDoc(t, doc)
	badMAC["crypto"].(map[string]any)["mac"] = "zz"

	tests := []struct {
		name     string
		blob     []byte
		password string
		burned   bool
	}{
		{"wrong password", blob, "battery staple", false},
		{"key rejected after mac", zeroKey, "correct horse", false},
		{"not json", []byte("{nope"), "correct horse", true},
		{"unknown version", []byte(`{"version":1}`), "correct horse", true},
		{"unsupported cipher", marshalDoc(t, badCipher), "correct horse", true},
		{"unsupported kdf", marshalDoc(t, badKDF), "correct horse", true},
		{"mac not hex", marshalDoc(t, badMAC), "correct horse", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp := lightImporter()
			_, err := imp.ImportJSON(tt.blob, tt.password)
			require.ErrorIs(t, err, ErrKeystoreDecryptionFailed)
			if tt.burned {
				assert.EqualValues(t, 1, imp.burns.Load())
			} else {
				assert.Zero(t, imp.burns.Load())
			}
		})
	}

	imp := lightImporter()
	_, err = imp.ImportJSON(blob, "correct horse")
	require.NoError(t, err)
	assert.Zero(t, imp.burns.Load())
}

func TestReachesKDF(t *testing.T) {
	blob := encryptFixture(t, "correct horse")
	assert.True(t, reachesKDF(blob))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(blob, &doc))
	params := doc["crypto"].(map[string]any)["kdfparams"].(map[string]any)

	params["n"] = float64(3)
	assert.False(t, reachesKDF(marshalDoc(t, doc)))
	params["n"] = float64(gethkeystore.LightScryptN)
	params["dklen"] = float64(16)
	assert.False(t, reachesKDF(marshalDoc(t, doc)))
	params["dklen"] = float64(32)
	assert.True(t, reachesKDF(marshalDoc(t, doc)))

	doc["id"] = "not-a-uuid"
	assert.False(t, reachesKDF(marshalDoc(t, doc)))
}

func cloneDoc(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(marshalDoc(t, doc), &out))
	return out
}

func marshalDoc(t *testing.T, doc map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return b
}
