// Package securefile reads and writes JSON files, optionally sealed with a
// password. Sealed files use Argon2id for key derivation and
// XChaCha20-Poly1305 for authenticated encryption. All writes are atomic.
package securefile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrInvalidPasswordOrCorrupt is returned when a sealed file does not open.
// It stays generic so callers cannot tell a wrong password from tampering.
var ErrInvalidPasswordOrCorrupt = errors.New("invalid password or corrupted file")

var ErrEmptyPassword = errors.New("securefile: empty password")

const envelopeVersion = 2

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time    uint32 `json:"argon_time"`
	Memory  uint32 `json:"argon_memory_kib"`
	Threads uint8  `json:"argon_threads"`
	KeyLen  uint32 `json:"argon_key_len"`
}

var DefaultKDF = KDFParams{
	Time:    2,
	Memory:  64 * 1024,
	Threads: 1,
	KeyLen:  32,
}

// envelope is the on-disk form of a sealed file.
type envelope struct {
	Version int       `json:"version"`
	KDF     KDFParams `json:"kdf"`
	Salt    string    `json:"salt_b64"`
	Nonce   string    `json:"nonce_b64"`
	CT      string    `json:"ct_b64"`
}

type Options struct {
	KDF           KDFParams
	FilePerm      os.FileMode
	DirectoryPerm os.FileMode
	// AAD binds the ciphertext to a context string; it must match on read.
	AAD []byte
}

func defaultOptions() Options {
	return Options{
		KDF:           DefaultKDF,
		FilePerm:      0o600,
		DirectoryPerm: 0o700,
	}
}

func mergeOptions(opt ...Options) Options {
	o := defaultOptions()
	if len(opt) == 0 {
		return o
	}
	in := opt[0]
	if in.KDF.KeyLen != 0 {
		o.KDF = in.KDF
	}
	if in.FilePerm != 0 {
		o.FilePerm = in.FilePerm
	}
	if in.DirectoryPerm != 0 {
		o.DirectoryPerm = in.DirectoryPerm
	}
	if in.AAD != nil {
		o.AAD = in.AAD
	}
	return o
}

// WriteEncryptedJSON seals v with password and writes it to path.
func WriteEncryptedJSON[T any](path string, v T, password []byte, opt ...Options) error {
	o := mergeOptions(opt...)
	if err := checkPassword(password); err != nil {
		return err
	}

	plain, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal json")
	}
	defer zeroBytes(plain)

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, "rand salt")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "rand nonce")
	}

	key := argon2.IDKey(password, salt, o.KDF.Time, o.KDF.Memory, o.KDF.Threads, o.KDF.KeyLen)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errors.Wrap(err, "aead")
	}

	env := envelope{
		Version: envelopeVersion,
		KDF:     o.KDF,
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Nonce:   base64.StdEncoding.EncodeToString(nonce),
		CT:      base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plain, o.AAD)),
	}
	return WriteJSON(path, env, o.FilePerm, o.DirectoryPerm)
}

// ReadEncryptedJSON opens a file written by WriteEncryptedJSON.
func ReadEncryptedJSON[T any](path string, password []byte, opt ...Options) (T, error) {
	var zero T
	o := mergeOptions(opt...)
	if err := checkPassword(password); err != nil {
		return zero, err
	}

	env, err := ReadJSON[envelope](path)
	if err != nil {
		return zero, err
	}
	if env.Version != envelopeVersion {
		return zero, errors.Newf("unsupported envelope version: %d", env.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return zero, ErrInvalidPasswordOrCorrupt
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return zero, ErrInvalidPasswordOrCorrupt
	}
	ct, err := base64.StdEncoding.DecodeString(env.CT)
	if err != nil {
		return zero, ErrInvalidPasswordOrCorrupt
	}
	if env.KDF.KeyLen != chacha20poly1305.KeySize {
		return zero, ErrInvalidPasswordOrCorrupt
	}

	key := argon2.IDKey(password, salt, env.KDF.Time, env.KDF.Memory, env.KDF.Threads, env.KDF.KeyLen)
	defer zeroBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return zero, errors.Wrap(err, "aead")
	}
	plain, err := aead.Open(nil, nonce, ct, o.AAD)
	if err != nil {
		return zero, ErrInvalidPasswordOrCorrupt
	}
	defer zeroBytes(plain)

	var out T
	if err := json.Unmarshal(plain, &out); err != nil {
		return zero, errors.Wrap(err, "unmarshal json")
	}
	return out, nil
}

// WriteJSON marshals v as indented JSON and writes it atomically.
func WriteJSON[T any](path string, v T, permFile, permDir os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), permDir); err != nil {
		return errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal json")
	}
	return AtomicWriteFile(path, b, permFile)
}

func ReadJSON[T any](path string) (T, error) {
	var zero T
	b, err := os.ReadFile(path)
	if err != nil {
		return zero, errors.Wrap(err, "read file")
	}
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return zero, errors.Wrap(err, "unmarshal json")
	}
	return out, nil
}

// AtomicWriteFile writes through a temp file and a rename.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return errors.Wrap(err, "write tmp")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "rename")
	}
	return nil
}

// StateDir returns <home>/.config/<app>[/<env>], where env comes from QA_ENV.
func StateDir(app string) (string, error) {
	if strings.TrimSpace(app) == "" {
		return "", errors.New("app must not be empty")
	}
	envFolder, err := EnvFolder()
	if err != nil {
		return "", err
	}

	base := ""
	if realHome := os.Getenv("SNAP_REAL_HOME"); realHome != "" {
		base = filepath.Join(realHome, ".config")
	} else if home := os.Getenv("HOME"); home != "" {
		base = filepath.Join(home, ".config")
	} else if dir, err := os.UserConfigDir(); err == nil {
		base = dir
	} else {
		return "", errors.Wrap(err, "UserConfigDir")
	}

	dir := filepath.Join(base, app)
	if envFolder != "" {
		dir = filepath.Join(dir, envFolder)
	}
	return dir, nil
}

// EnvFolder maps QA_ENV to a state sub-folder; production uses none.
func EnvFolder() (string, error) {
	raw := strings.TrimSpace(os.Getenv("QA_ENV"))
	switch strings.ToLower(raw) {
	case "", "prod", "production":
		return "", nil
	case "local":
		return "local", nil
	case "dev", "develop", "development":
		return "develop", nil
	default:
		return "", errors.Newf("invalid QA_ENV %q (allowed: local, develop, empty)", raw)
	}
}

func checkPassword(password []byte) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}
	if isAllZero(password) {
		return errors.Wrap(ErrEmptyPassword, "zeroed buffer")
	}
	return nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
