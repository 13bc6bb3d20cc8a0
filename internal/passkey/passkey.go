// Package passkey resolves storage-folder passphrases through the OS
// keyring, keyed by the folder's absolute path.
package passkey

import (
	"fmt"
	"path/filepath"

	"github.com/zalando/go-keyring"
)

const serviceName = "pictdb"

func account(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve folder path: %w", err)
	}
	return abs, nil
}

// Save stores the passphrase for a storage folder in the OS keyring.
func Save(dir, passphrase string) error {
	acct, err := account(dir)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, acct, passphrase)
}

// Get retrieves the passphrase for a storage folder from the OS keyring.
func Get(dir string) (string, error) {
	acct, err := account(dir)
	if err != nil {
		return "", err
	}
	return keyring.Get(serviceName, acct)
}

// Forget removes the stored passphrase for a storage folder.
func Forget(dir string) error {
	acct, err := account(dir)
	if err != nil {
		return err
	}
	return keyring.Delete(serviceName, acct)
}

// Has checks whether a passphrase is stored for a storage folder.
func Has(dir string) bool {
	_, err := Get(dir)
	return err == nil
}
