package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrGeneratePepper returns the pepper stored at path, creating the file
// with a fresh random pepper when it does not exist yet.
//
// Losing the pepper file invalidates every hash created with it.
func LoadOrGeneratePepper(path string) (string, error) {
	return loadOrGenerateSecret(path, "pepper")
}

// LoadOrGenerateMasterKey returns the key that seals signing keys at rest,
// creating it at path on first use.
//
// Losing the master key file makes every stored signing key unreadable.
func LoadOrGenerateMasterKey(path string) (string, error) {
	return loadOrGenerateSecret(path, "master key")
}

func loadOrGenerateSecret(path, name string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("cryptox: %s path is empty", name)
	}

	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("cryptox: %s file %q is empty", name, path)
		}
		return secret, nil
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("cryptox: read %s: %w", name, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("cryptox: create %s dir: %w", name, err)
	}

	raw := make([]byte, keyLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("cryptox: generate %s: %w", name, err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	if err := os.WriteFile(path, []byte(secret), 0600); err != nil {
		return "", fmt.Errorf("cryptox: write %s: %w", name, err)
	}
	return secret, nil
}
