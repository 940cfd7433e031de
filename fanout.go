package dumphook

import (
	"errors"
	"fmt"

	"dumphook/internal/config"
	"dumphook/internal/snapshot"
)

type target struct {
	Name   string
	Source Source
	Path   string
}

// targets lists the per-source files of the snapshot at path: the snapshot
// itself for the default source, or one file per configured source inside the
// snapshot directory, in declaration order.
func targets(s *Settings, path string) []target {
	if !s.MultiSource() {
		return []target{{Name: config.DefaultSourceName, Source: s.DefaultSource(), Path: path}}
	}

	out := make([]target, 0, len(s.Sources))
	for _, src := range s.Sources {
		out = append(out, target{Name: src.Name, Source: src, Path: snapshot.SourcePath(path, src.Name)})
	}
	return out
}

// forEachSource calls fn for every target. A failing source does not stop the
// others; all failures are returned joined.
func (h *Hook) forEachSource(path string, fn func(t target, a Adapter) error) error {
	var errs []error
	for _, t := range targets(h.settings, path) {
		a, err := h.adapters(t.Source)
		if err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", t.Name, err))
			continue
		}
		if err := fn(t, a); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}
