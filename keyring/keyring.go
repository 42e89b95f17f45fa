// Package keyring provides secure credential storage.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpn-dialer/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = common.ConfigDirName
	checkKey    = "vpn-dialer-check"
)

// ErrNotFound is returned when no credential is stored for a profile.
var ErrNotFound = common.ErrCredentialsNotFound

// Vault stores one secret per connection profile.
// Backend selection happens on first use, not at construction.
type Vault struct {
	service   string
	localFile string

	initOnce sync.Once
	mu       sync.RWMutex
	useLocal bool
	local    map[string]string
	key      []byte
}

// New creates a Vault for service. localFile is the encrypted fallback store;
// when empty it defaults to ~/.config/vpn-dialer/.credentials.
func New(service, localFile string) *Vault {
	return &Vault{service: service, localFile: localFile}
}

var defaultVault = New(serviceName, "")

func (v *Vault) init() {
	v.initOnce.Do(func() {
		if err := keyring.Set(v.service, checkKey, "check"); err == nil {
			_ = keyring.Delete(v.service, checkKey)
			return
		}
		common.LogWarn("System keyring unavailable, using encrypted local storage")
		v.enableLocal()
	})
}

// enableLocal switches to the encrypted file backend. Callers hold no lock.
func (v *Vault) enableLocal() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.useLocal {
		return
	}

	if v.localFile == "" {
		if dir, err := common.GetConfigDir(); err == nil {
			v.localFile = filepath.Join(dir, common.CredentialsFileName)
		}
	}
	v.key = deriveKey(v.service)
	v.local = make(map[string]string)
	v.useLocal = true
	v.loadLocalLocked()
}

// deriveKey builds a machine-bound key for the local fallback store.
func deriveKey(service string) []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%s-%d", service, hostname, getMachineID(), os.Getuid())

	key := make([]byte, chacha20poly1305.KeySize)
	reader := hkdf.New(sha256.New, []byte(secret), []byte(service), []byte("local credential store"))
	if _, err := io.ReadFull(reader, key); err != nil {
		sum := sha256.Sum256([]byte(secret))
		return sum[:]
	}
	return key
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (v *Vault) loadLocalLocked() {
	if v.localFile == "" {
		return
	}
	data, err := os.ReadFile(v.localFile)
	if err != nil {
		return
	}

	decrypted, err := v.decrypt(data)
	if err != nil {
		common.LogWarn("Could not decrypt local credential store: %v", err)
		return
	}

	if err := json.Unmarshal(decrypted, &v.local); err != nil {
		common.LogWarn("Could not parse local credential store: %v", err)
	}
}

func (v *Vault) saveLocal() error {
	v.mu.RLock()
	data, err := json.Marshal(v.local)
	path := v.localFile
	v.mu.RUnlock()
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("%w: no local credential file", common.ErrEncryption)
	}

	encrypted, err := v.encrypt(data)
	if err != nil {
		return err
	}

	return os.WriteFile(path, encrypted, 0600)
}

func (v *Vault) encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (v *Vault) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}

func (v *Vault) isLocal() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.useLocal
}

// Store saves a password for a connection profile.
func (v *Vault) Store(profile, password string) error {
	if profile == "" {
		return errors.New("profile cannot be empty")
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}
	v.init()

	if !v.isLocal() {
		if err := keyring.Set(v.service, profile, password); err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed, falling back to local storage")
		v.enableLocal()
	}

	v.mu.Lock()
	v.local[profile] = password
	v.mu.Unlock()
	return v.saveLocal()
}

// Get retrieves a password for a connection profile.
func (v *Vault) Get(profile string) (string, error) {
	if profile == "" {
		return "", errors.New("profile cannot be empty")
	}
	v.init()

	if !v.isLocal() {
		password, err := keyring.Get(v.service, profile)
		if err == nil {
			return password, nil
		}
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("keyring lookup failed: %w", err)
	}

	v.mu.RLock()
	password, exists := v.local[profile]
	v.mu.RUnlock()
	if !exists {
		return "", ErrNotFound
	}
	return password, nil
}

// Delete removes a password for a connection profile.
func (v *Vault) Delete(profile string) error {
	if profile == "" {
		return errors.New("profile cannot be empty")
	}
	v.init()

	if !v.isLocal() {
		err := keyring.Delete(v.service, profile)
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return err
		}
		return nil
	}

	v.mu.Lock()
	delete(v.local, profile)
	v.mu.Unlock()
	return v.saveLocal()
}

// Exists checks if a credential exists for a connection profile.
func (v *Vault) Exists(profile string) bool {
	_, err := v.Get(profile)
	return err == nil
}

// Store saves a password in the default vault.
func Store(profile, password string) error {
	return defaultVault.Store(profile, password)
}

// Get retrieves a password from the default vault.
func Get(profile string) (string, error) {
	return defaultVault.Get(profile)
}

// Delete removes a password from the default vault.
func Delete(profile string) error {
	return defaultVault.Delete(profile)
}

// Exists checks the default vault for a credential.
func Exists(profile string) bool {
	return defaultVault.Exists(profile)
}
