package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// RemotePath maps a local path under the dumps location to a slash-separated
// path under "snapshots/".
func RemotePath(location, localPath string) (string, error) {
	rel, err := filepath.Rel(location, localPath)
	if err != nil {
		return "", fmt.Errorf("failed to relate %s to %s: %w", localPath, location, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside of %s", localPath, location)
	}
	return filepath.ToSlash(filepath.Join("snapshots", rel)), nil
}
