package dumphook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dumphook/internal/crypto"
	"dumphook/internal/manifest"
	"dumphook/internal/remote"
	"dumphook/internal/snapshot"
	"dumphook/internal/util"
)

type (
	// RemoteStore is the object store backing the remote snapshot cache.
	RemoteStore  = remote.Backend
	RemoteObject = remote.ObjectInfo
)

func (h *Hook) remoteBackend(ctx context.Context) (RemoteStore, error) {
	h.remoteMu.Lock()
	defer h.remoteMu.Unlock()

	if h.remote != nil {
		return h.remote, nil
	}
	backend, err := remote.NewFromSettings(ctx, h.settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 backend: %w", err)
	}
	h.remote = backend
	return backend, nil
}

// push uploads every file of the snapshot at path, then its manifest. A
// generation is only visible remotely once its manifest is there.
func (h *Hook) push(ctx context.Context, path string, m *manifest.Snapshot) error {
	backend, err := h.remoteBackend(ctx)
	if err != nil {
		return err
	}
	loc := h.settings.DumpsLocation

	tmpDir, err := os.MkdirTemp("", "dumphook-push-")
	if err != nil {
		return fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	uploaded := *m
	uploaded.Encrypted = h.recipient != nil

	for _, src := range m.Sources {
		local := filepath.Join(loc, filepath.FromSlash(src.File))
		remotePath, err := util.RemotePath(loc, local)
		if err != nil {
			return err
		}

		file := local
		if h.recipient != nil {
			file = filepath.Join(tmpDir, src.Name+snapshot.Ext+".age")
			if err := crypto.Encrypt(local, file, h.recipient); err != nil {
				return fmt.Errorf("failed to encrypt %s: %w", local, err)
			}
			remotePath += ".age"
		}

		if err := backend.Upload(ctx, file, remotePath, src.Blake3Hash); err != nil {
			return fmt.Errorf("failed to upload source %s: %w", src.Name, err)
		}
		h.logger.Debug("Uploaded snapshot file", "source", src.Name, "remotePath", remotePath)
	}

	manifestFile := filepath.Join(tmpDir, "manifest.yaml")
	if err := manifest.Write(manifestFile, &uploaded); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	manifestRemote, err := util.RemotePath(loc, snapshot.ManifestPath(path))
	if err != nil {
		return err
	}
	if err := backend.Upload(ctx, manifestFile, manifestRemote, ""); err != nil {
		return fmt.Errorf("failed to upload manifest: %w", err)
	}

	h.logger.Info("Pushed snapshot to remote cache", "path", path, "sources", len(m.Sources))
	return nil
}

// pull downloads the remote generation matching path. It reports false without
// error when the remote cache has no such generation. Files are staged and
// verified before anything replaces the local snapshot.
func (h *Hook) pull(ctx context.Context, path string) (bool, error) {
	backend, err := h.remoteBackend(ctx)
	if err != nil {
		return false, err
	}
	s := h.settings
	loc := s.DumpsLocation
	multi := s.MultiSource()

	manifestRemote, err := util.RemotePath(loc, snapshot.ManifestPath(path))
	if err != nil {
		return false, err
	}
	if _, err := backend.Head(ctx, manifestRemote); err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			h.logger.Debug("Snapshot not in remote cache", "path", path)
			return false, nil
		}
		return false, fmt.Errorf("failed to check remote manifest: %w", err)
	}

	tmpDir, err := os.MkdirTemp(loc, ".pull-")
	if err != nil {
		return false, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	manifestFile := filepath.Join(tmpDir, "manifest.yaml")
	if err := backend.Download(ctx, manifestRemote, manifestFile); err != nil {
		return false, fmt.Errorf("failed to download manifest: %w", err)
	}
	m, err := manifest.Read(manifestFile)
	if err != nil {
		return false, fmt.Errorf("failed to read remote manifest: %w", err)
	}
	if m.MultiSource != multi {
		return false, fmt.Errorf("remote snapshot multi_source=%t does not match local settings", m.MultiSource)
	}
	if m.Encrypted && h.identity == nil {
		return false, fmt.Errorf("remote snapshot is encrypted but no age identity is configured")
	}

	entries := make(map[string]manifest.SourceEntry, len(m.Sources))
	for _, e := range m.Sources {
		entries[e.Name] = e
	}

	type staged struct {
		file   string
		target string
	}
	var files []staged

	for _, t := range targets(s, path) {
		entry, ok := entries[t.Name]
		if !ok {
			return false, fmt.Errorf("remote snapshot has no source %s", t.Name)
		}
		remotePath, err := util.RemotePath(loc, t.Path)
		if err != nil {
			return false, err
		}

		file := filepath.Join(tmpDir, t.Name+snapshot.Ext)
		if m.Encrypted {
			encrypted := file + ".age"
			if err := backend.Download(ctx, remotePath+".age", encrypted); err != nil {
				return false, fmt.Errorf("failed to download source %s: %w", t.Name, err)
			}
			if err := crypto.Decrypt(encrypted, file, h.identity); err != nil {
				return false, fmt.Errorf("failed to decrypt source %s: %w", t.Name, err)
			}
		} else if err := backend.Download(ctx, remotePath, file); err != nil {
			return false, fmt.Errorf("failed to download source %s: %w", t.Name, err)
		}

		if err := crypto.VerifyFile(file, entry.Blake3Hash); err != nil {
			return false, fmt.Errorf("source %s: %w", t.Name, err)
		}
		files = append(files, staged{file: file, target: t.Path})
	}

	// Move into place
	if err := snapshot.Remove(path); err != nil {
		return false, err
	}
	if multi {
		if err := util.EnsureDirs(path); err != nil {
			return false, err
		}
	}
	for _, f := range files {
		if err := os.Rename(f.file, f.target); err != nil {
			return false, fmt.Errorf("failed to move %s into place: %w", f.target, err)
		}
	}

	m.Encrypted = false
	if err := manifest.Write(snapshot.ManifestPath(path), m); err != nil {
		return false, fmt.Errorf("failed to write manifest: %w", err)
	}

	h.logger.Info("Pulled snapshot from remote cache", "path", path, "sources", len(files))
	return true, nil
}
