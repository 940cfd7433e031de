package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"dumphook/internal/crypto"

	"gopkg.in/yaml.v3"
)

func GetSystemInfo() SystemInfo {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return SystemInfo{
		Hostname: hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
	}
}

// Entry hashes one captured file. baseDir is the directory file paths are
// recorded relative to.
func Entry(baseDir, name, engine, database, file string) (SourceEntry, error) {
	info, err := os.Stat(file)
	if err != nil {
		return SourceEntry{}, fmt.Errorf("failed to stat %s: %w", file, err)
	}
	hash, err := crypto.HashFile(file)
	if err != nil {
		return SourceEntry{}, fmt.Errorf("failed to hash %s: %w", file, err)
	}
	rel, err := filepath.Rel(baseDir, file)
	if err != nil {
		return SourceEntry{}, err
	}
	return SourceEntry{
		Name:       name,
		Engine:     engine,
		Database:   database,
		File:       filepath.ToSlash(rel),
		Size:       info.Size(),
		Blake3Hash: hash,
	}, nil
}

// Verify checks every file listed in m against its recorded hash.
func Verify(baseDir string, m *Snapshot) error {
	for _, src := range m.Sources {
		path := filepath.Join(baseDir, filepath.FromSlash(src.File))
		if err := crypto.VerifyFile(path, src.Blake3Hash); err != nil {
			return fmt.Errorf("source %s: %w", src.Name, err)
		}
	}
	return nil
}

func Write(filename string, m *Snapshot) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}

func Read(filename string) (*Snapshot, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var m Snapshot
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
