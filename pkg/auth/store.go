package auth

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/pico-agents/coreagent/pkg/logger"
)

var (
	storeMu   sync.Mutex
	storePath = defaultStorePath()
	storeKey  [32]byte
)

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.coreagent/credentials.enc"
	}
	return filepath.Join(home, ".coreagent", "credentials.enc")
}

// SetStorePath overrides where credentials are persisted; used by the CLI to
// honor --data-dir.
func SetStorePath(path string) {
	storeMu.Lock()
	defer storeMu.Unlock()
	storePath = path
}

// SetEncryptionKey installs the secretbox key used to encrypt credentials at
// rest. Without a key, credentials are stored in cleartext — acceptable for
// local development but the CLI's auth commands always set one.
func SetEncryptionKey(key [32]byte) {
	storeMu.Lock()
	defer storeMu.Unlock()
	storeKey = key
}

type credentialFile struct {
	Credentials map[string]*AuthCredential `json:"credentials"`
}

// GetCredential loads the stored credential for provider, or nil if none
// has been saved.
func GetCredential(provider string) (*AuthCredential, error) {
	storeMu.Lock()
	defer storeMu.Unlock()

	f, err := readStore()
	if err != nil {
		return nil, err
	}
	return f.Credentials[provider], nil
}

// SetCredential persists cred under its Provider key.
func SetCredential(provider string, cred *AuthCredential) error {
	storeMu.Lock()
	defer storeMu.Unlock()

	f, err := readStore()
	if err != nil {
		return err
	}
	if f.Credentials == nil {
		f.Credentials = make(map[string]*AuthCredential)
	}
	f.Credentials[provider] = cred
	return writeStore(f)
}

func readStore() (*credentialFile, error) {
	data, err := os.ReadFile(storePath)
	if os.IsNotExist(err) {
		return &credentialFile{Credentials: map[string]*AuthCredential{}}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading credential store")
	}

	if storeKey != ([32]byte{}) {
		plain, err := decrypt(data, storeKey)
		if err != nil {
			return nil, errors.Wrap(err, "decrypting credential store")
		}
		data = plain
	}

	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing credential store")
	}
	return &f, nil
}

func writeStore(f *credentialFile) error {
	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return errors.Wrap(err, "creating credential store directory")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding credential store")
	}

	if storeKey != ([32]byte{}) {
		data, err = encrypt(data, storeKey)
		if err != nil {
			return errors.Wrap(err, "encrypting credential store")
		}
	}

	tmp := storePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "writing credential store")
	}
	if err := os.Rename(tmp, storePath); err != nil {
		return errors.Wrap(err, "finalizing credential store")
	}

	logger.DebugCF("auth", "credential store updated", map[string]interface{}{"path": storePath})
	return nil
}

func encrypt(plain []byte, key [32]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &key), nil
}

func decrypt(data []byte, key [32]byte) ([]byte, error) {
	if len(data) < 24 {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [24]byte
	copy(nonce[:], data[:24])
	plain, ok := secretbox.Open(nil, data[24:], &nonce, &key)
	if !ok {
		return nil, errors.New("decryption failed: wrong key or corrupted store")
	}
	return plain, nil
}
