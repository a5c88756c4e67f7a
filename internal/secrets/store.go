package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// lightweight per-user secret store (file, 0600) with AES-GCM obfuscation.
// Not a replacement for OS keychains but avoids plain-text config.

const fileName = "keys.json"

// ErrKeyNotFound is returned when no key is stored for a provider.
var ErrKeyNotFound = errors.New("key not found")

type secretFile struct {
	Keys map[string]string `json:"keys"` // provider -> base64(ciphertext)
}

// Store keeps annotation provider keys in Dir.
type Store struct {
	Dir string
}

// Default places the key file in the user config directory.
func Default() (Store, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return Store{}, errors.Wrap(err, "locate config dir")
	}
	return Store{Dir: filepath.Join(dir, "budgettracker")}, nil
}

func (s Store) StoreProviderKey(provider, key string) error {
	if provider = norm(provider); provider == "" {
		return errors.New("provider required")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("key required")
	}
	path, err := s.filePath()
	if err != nil {
		return err
	}
	sf, _ := load(path)
	if sf.Keys == nil {
		sf.Keys = map[string]string{}
	}
	ct, err := encrypt([]byte(strings.TrimSpace(key)))
	if err != nil {
		return err
	}
	sf.Keys[provider] = base64.StdEncoding.EncodeToString(ct)
	return save(path, sf)
}

func (s Store) FetchProviderKey(provider string) (string, error) {
	if provider = norm(provider); provider == "" {
		return "", errors.New("provider required")
	}
	path, err := s.filePath()
	if err != nil {
		return "", err
	}
	sf, err := load(path)
	if err != nil {
		return "", err
	}
	enc, ok := sf.Keys[provider]
	if !ok {
		return "", ErrKeyNotFound
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", errors.Wrap(err, "decode key")
	}
	pt, err := decrypt(raw)
	if err != nil {
		return "", errors.Wrap(err, "decrypt key")
	}
	return string(pt), nil
}

func (s Store) DeleteProviderKey(provider string) error {
	if provider = norm(provider); provider == "" {
		return errors.New("provider required")
	}
	path, err := s.filePath()
	if err != nil {
		return err
	}
	sf, err := load(path)
	if err != nil {
		return err
	}
	if _, ok := sf.Keys[provider]; !ok {
		return ErrKeyNotFound
	}
	delete(sf.Keys, provider)
	return save(path, sf)
}

func (s Store) filePath() (string, error) {
	if s.Dir == "" {
		return "", errors.New("secrets: directory not set")
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil { // restrict directory
		return "", errors.Wrap(err, "create secrets dir")
	}
	return filepath.Join(s.Dir, fileName), nil
}

func load(path string) (secretFile, error) {
	var sf secretFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return secretFile{}, nil
		}
		return sf, err
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		return sf, errors.Wrapf(err, "decode %s", path)
	}
	return sf, nil
}

func save(path string, sf secretFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func norm(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

func masterKey() []byte {
	base := fmt.Sprintf("budgettracker-%s-%s", runtime.GOOS, os.Getenv("USER"))
	hash := sha256.Sum256([]byte(base))
	return hash[:]
}

func newGCM() (cipher.AEAD, error) {
	block, err := aes.NewCipher(masterKey())
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func encrypt(plain []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func decrypt(ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:gcm.NonceSize()]
	body := ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}
