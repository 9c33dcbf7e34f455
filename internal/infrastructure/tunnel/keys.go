package tunnel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// LocateKey returns the first regular file among names inside dir.
func LocateKey(dir string, names []string) (string, error) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no private key among %v in %s", repository.ErrCredentialNotFound, names, dir)
}

// LoadSigner locates and parses the private key used for both hops.
func LoadSigner(dir string, names []string) (ssh.Signer, error) {
	path, err := LocateKey(dir, names)
	if err != nil {
		return nil, err
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", repository.ErrCredentialNotFound, path, err)
	}
	signer, err := ssh.ParsePrivateKey(pem)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("%w: %s is passphrase protected", repository.ErrCredentialNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s is unusable: %w", repository.ErrCredentialNotFound, path, err)
	}
	return signer, nil
}
