// Package crypto seals snapshot files for the remote cache and fingerprints
// them for the manifest.
package crypto

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/zeebo/blake3"
)

// Encrypt writes src sealed to recipient into dst.
func Encrypt(src, dst string, recipient age.Recipient) error {
	return transform(src, dst, func(w io.Writer, r io.Reader) error {
		sealed, err := age.Encrypt(w, recipient)
		if err != nil {
			return err
		}
		if _, err := io.Copy(sealed, r); err != nil {
			return err
		}
		return sealed.Close()
	})
}

// Decrypt opens src with identity into dst.
func Decrypt(src, dst string, identity age.Identity) error {
	return transform(src, dst, func(w io.Writer, r io.Reader) error {
		opened, err := age.Decrypt(r, identity)
		if err != nil {
			return err
		}
		_, err = io.Copy(w, opened)
		return err
	})
}

// transform streams src through fn into a temporary file next to dst and
// renames it into place, so dst never holds a half-written result.
func transform(src, dst string, fn func(w io.Writer, r io.Reader) error) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// HashFile returns the hex BLAKE3 digest of a file.
func HashFile(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func VerifyFile(filename, expected string) error {
	actual, err := HashFile(filename)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", filename, err)
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("BLAKE3 mismatch for %s: expected %s, got %s", filename, expected, actual)
	}
	return nil
}

// LoadIdentity reads an age-keygen style key file; comment lines are skipped.
func LoadIdentity(path string) (*age.X25519Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identity, err := age.ParseX25519Identity(line)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return identity, nil
	}

	return nil, fmt.Errorf("no private key found in %s", path)
}
