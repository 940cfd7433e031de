// Package snapshot derives where a named dump lives on disk.
//
// A single-source snapshot is one file, <location>/<name>[suffix].dump. A
// multi-source snapshot is a directory, <location>/<name>[suffix]/, holding one
// <source>.dump file per source. The suffix encodes the invalidation key:
// "_<YYYYMMDDhhmmss>" for an explicit creation time or "_actual<tag>" for a
// rolling tag.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	Ext            = ".dump"
	ManifestSuffix = ".manifest.yaml"

	timestampLayout = "20060102150405"
	actualMarker    = "_actual"
)

// Key is the invalidation key of one generation. CreatedOn takes precedence
// over Actual; the zero Key means no key.
type Key struct {
	CreatedOn time.Time
	Actual    string
}

func (k Key) IsZero() bool {
	return k.CreatedOn.IsZero() && k.Actual == ""
}

// Suffix is the filename segment the key contributes.
func (k Key) Suffix() string {
	switch {
	case !k.CreatedOn.IsZero():
		return "_" + FormatTimestamp(k.CreatedOn)
	case k.Actual != "":
		return actualMarker + k.Actual
	default:
		return ""
	}
}

func (k Key) String() string {
	switch {
	case !k.CreatedOn.IsZero():
		return "created_on=" + k.CreatedOn.UTC().Format(time.RFC3339)
	case k.Actual != "":
		return "actual=" + k.Actual
	default:
		return "none"
	}
}

// FormatTimestamp is the canonical numeric encoding of an instant, in UTC so the
// same instant always yields the same name.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func Path(location, name string, key Key, multi bool) string {
	p := filepath.Join(location, name+key.Suffix())
	if multi {
		return p
	}
	return p + Ext
}

// Pattern matches every actual-tag generation of name.
func Pattern(location, name string, multi bool) string {
	p := filepath.Join(escapeMeta(filepath.ToSlash(location)), escapeMeta(name)+actualMarker+"*")
	if multi {
		return p
	}
	return p + escapeMeta(Ext)
}

// Generations lists the existing actual-tag generations of name, sorted.
func Generations(location, name string, multi bool) ([]string, error) {
	matches, err := doublestar.FilepathGlob(Pattern(location, name, multi))
	if err != nil {
		return nil, fmt.Errorf("failed to glob generations of %s: %w", name, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// AllGenerations lists every generation of name whatever its key: the keyless
// snapshot, creation-time generations and actual-tag generations.
func AllGenerations(location, name string, multi bool) ([]string, error) {
	ext := ""
	if !multi {
		ext = escapeMeta(Ext)
	}
	base := filepath.Join(escapeMeta(filepath.ToSlash(location)), escapeMeta(name))
	patterns := []string{
		base + ext,
		base + "_" + strings.Repeat("[0-9]", len(timestampLayout)) + ext,
		Pattern(location, name, multi),
	}

	var all []string
	for _, p := range patterns {
		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("failed to glob generations of %s: %w", name, err)
		}
		for _, m := range matches {
			if !strings.HasSuffix(m, ManifestSuffix) {
				all = append(all, m)
			}
		}
	}
	sort.Strings(all)
	return all, nil
}

// Parse splits a snapshot base name (without ".dump") into the dump name and
// its key. A timestamp that does not parse is treated as part of the name.
func Parse(base string) (string, Key) {
	if i := strings.LastIndex(base, "_"); i > 0 && len(base)-i-1 == len(timestampLayout) {
		if t, err := time.Parse(timestampLayout, base[i+1:]); err == nil {
			return base[:i], Key{CreatedOn: t}
		}
	}
	if i := strings.LastIndex(base, actualMarker); i > 0 {
		return base[:i], Key{Actual: base[i+len(actualMarker):]}
	}
	return base, Key{}
}

// SourcePath is the per-source file inside a multi-source snapshot directory.
func SourcePath(dir, source string) string {
	return filepath.Join(dir, source+Ext)
}

func ManifestPath(path string) string {
	return path + ManifestSuffix
}

// Exists reports whether a snapshot of the expected shape is present: a regular
// file in single-source mode, a directory in multi-source mode.
func Exists(path string, multi bool) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if multi {
		return info.IsDir(), nil
	}
	return info.Mode().IsRegular(), nil
}

// Remove deletes a snapshot and its manifest. Missing files are not an error.
func Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove snapshot %s: %w", path, err)
	}
	if err := os.Remove(ManifestPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest of %s: %w", path, err)
	}
	return nil
}

// RemoveGenerations deletes every actual-tag generation of name and returns
// what was removed.
func RemoveGenerations(location, name string, multi bool) ([]string, error) {
	matches, err := Generations(location, name, multi)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, m := range matches {
		if strings.HasSuffix(m, ManifestSuffix) {
			continue
		}
		if err := Remove(m); err != nil {
			return removed, err
		}
		removed = append(removed, m)
	}
	return removed, nil
}

func escapeMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
