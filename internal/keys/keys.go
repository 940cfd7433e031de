// Package keys manages the age key pair that encrypts snapshots in the remote
// cache.
package keys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"dumphook/internal/config"
	"dumphook/internal/crypto"
	"dumphook/internal/snapshot"

	"filippo.io/age"
)

// Generate creates a key pair. With outPath set the identity is written there
// in age-keygen format and only the public key is printed.
func Generate(_ context.Context, outPath string, w io.Writer) (*age.X25519Identity, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	recipient := identity.Recipient().String()

	if outPath != "" {
		if err := WriteIdentity(outPath, identity); err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "remote.age_public_key:    %s\n", recipient)
		fmt.Fprintf(w, "remote.age_identity_file: %s\n", outPath)
		return identity, nil
	}

	fmt.Fprintf(w, "remote.age_public_key: %s\n", recipient)
	fmt.Fprintf(w, "identity:              %s\n", identity.String())
	fmt.Fprintln(w, "Store the identity in the file named by remote.age_identity_file; anyone holding it can read cached snapshots.")
	return identity, nil
}

// WriteIdentity stores identity at path, readable by the owner only. An
// existing file is never overwritten.
func WriteIdentity(path string, identity *age.X25519Identity) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("identity file %s already exists", path)
		}
		return err
	}
	_, err = fmt.Fprintf(f, "# created: %s\n# public key: %s\n%s\n",
		time.Now().Format(time.RFC3339), identity.Recipient(), identity)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write identity file: %w", err)
	}
	return nil
}

func Run(ctx context.Context, configPath, privateKeyPath string, w io.Writer) error {
	s, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if privateKeyPath == "" {
		privateKeyPath = s.Remote.AgeIdentityFile
	}
	return Test(ctx, s, privateKeyPath, w)
}

// Test sends a throwaway snapshot through the same encrypt, decrypt and BLAKE3
// steps a remote push and pull use.
func Test(_ context.Context, s *config.Settings, privateKeyPath string, w io.Writer) error {
	if s.Remote.AgePublicKey == "" {
		return fmt.Errorf("remote.age_public_key is not set")
	}
	recipient, err := age.ParseX25519Recipient(s.Remote.AgePublicKey)
	if err != nil {
		return fmt.Errorf("remote.age_public_key: %w", err)
	}
	if privateKeyPath == "" {
		return fmt.Errorf("private key file must be specified")
	}
	identity, err := crypto.LoadIdentity(privateKeyPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "recipient %s, identity %s\n", s.Remote.AgePublicKey, privateKeyPath)

	dir, err := os.MkdirTemp("", "dumphook-keys-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	sample := filepath.Join(dir, "sample"+snapshot.Ext)
	payload := fmt.Sprintf("key check %d\n", time.Now().UnixNano())
	if err := os.WriteFile(sample, []byte(payload), 0o644); err != nil {
		return err
	}
	want, err := crypto.HashFile(sample)
	if err != nil {
		return err
	}

	sealed := sample + ".age"
	if err := crypto.Encrypt(sample, sealed, recipient); err != nil {
		return fmt.Errorf("encryption failed: %w", err)
	}
	opened := filepath.Join(dir, "opened"+snapshot.Ext)
	if err := crypto.Decrypt(sealed, opened, identity); err != nil {
		return fmt.Errorf("decryption failed, identity does not belong to remote.age_public_key: %w", err)
	}
	if err := crypto.VerifyFile(opened, want); err != nil {
		return err
	}

	fmt.Fprintln(w, "ok: snapshots pushed with this recipient can be pulled with this identity")
	return nil
}
