package check

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"dumphook/internal/config"
	"dumphook/internal/crypto"
	"dumphook/internal/engine"
	"dumphook/internal/remote"
	"dumphook/internal/util"
)

// Checker verifies that a configuration can actually be used on this machine.
type Checker struct {
	Out io.Writer
	// NewBackend builds the remote backend; the S3 backend when nil.
	NewBackend func(ctx context.Context, s *config.Settings) (remote.Backend, error)
}

func Run(ctx context.Context, configPath string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	fmt.Fprintln(w, "config: OK")

	return Checker{Out: w}.Settings(ctx, cfg)
}

func (c Checker) Settings(ctx context.Context, s *config.Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Dumps location
	if err := util.EnsureDirs(s.DumpsLocation); err != nil {
		return fmt.Errorf("dumps_location: %w", err)
	}
	scratch, err := os.CreateTemp(s.DumpsLocation, ".check-")
	if err != nil {
		return fmt.Errorf("dumps_location %s is not writable: %w", s.DumpsLocation, err)
	}
	scratch.Close()
	os.Remove(scratch.Name())
	fmt.Fprintf(c.Out, "dumps_location %s: OK\n", s.DumpsLocation)

	// Engine tools
	sources := s.Sources
	if !s.MultiSource() {
		sources = []config.Source{s.DefaultSource()}
	}
	checked := make(map[config.Engine]bool)
	for _, src := range sources {
		if checked[src.Engine] {
			continue
		}
		checked[src.Engine] = true

		if err := engine.CheckTools(src.Engine, s.Tools); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
		names, _ := engine.Tools(src.Engine, s.Tools)
		fmt.Fprintf(c.Out, "engine %s tools %s: OK\n", src.Engine, strings.Join(names, ", "))
	}

	if s.Remote.Enabled {
		if err := c.remote(ctx, s); err != nil {
			return err
		}
	}

	fmt.Fprintln(c.Out, "all checks passed")
	return nil
}

func (c Checker) remote(ctx context.Context, s *config.Settings) error {
	if err := remote.ValidateStorageClass(s.RemoteStorageClass()); err != nil {
		return fmt.Errorf("remote: %w", err)
	}

	newBackend := c.NewBackend
	if newBackend == nil {
		newBackend = func(ctx context.Context, s *config.Settings) (remote.Backend, error) {
			return remote.NewFromSettings(ctx, s)
		}
	}
	backend, err := newBackend(ctx, s)
	if err != nil {
		return fmt.Errorf("S3 init: %w", err)
	}
	if err := backend.VerifyCredentials(ctx); err != nil {
		return fmt.Errorf("S3 credentials: %w", err)
	}
	fmt.Fprintf(c.Out, "S3 bucket %s: OK\n", s.Remote.Bucket)

	if s.Remote.AgeIdentityFile != "" {
		identity, err := crypto.LoadIdentity(s.Remote.AgeIdentityFile)
		if err != nil {
			return fmt.Errorf("remote.age_identity_file: %w", err)
		}
		if s.Remote.AgePublicKey != "" && identity.Recipient().String() != s.Remote.AgePublicKey {
			return fmt.Errorf("remote.age_identity_file does not match remote.age_public_key")
		}
		fmt.Fprintln(c.Out, "age key pair: OK")
	}
	return nil
}
