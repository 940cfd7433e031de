package list

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dumphook/internal/config"
	"dumphook/internal/manifest"
	"dumphook/internal/snapshot"
)

type SourceInfo struct {
	Name       string `json:"name"`
	Engine     string `json:"engine,omitempty"`
	Database   string `json:"database,omitempty"`
	File       string `json:"file"`
	SizeBytes  int64  `json:"size_bytes"`
	Blake3Hash string `json:"blake3_hash,omitempty"`
}

type Info struct {
	Name         string       `json:"name"`
	Key          string       `json:"key"`
	Path         string       `json:"path"`
	MultiSource  bool         `json:"multi_source"`
	Datetime     int64        `json:"datetime"`
	DatetimeStr  string       `json:"datetime_str"`
	SizeBytes    int64        `json:"size_bytes"`
	Sources      []SourceInfo `json:"sources"`
	ManifestPath string       `json:"manifest_path,omitempty"`
}

type Output struct {
	DumpsLocation string `json:"dumps_location"`
	Name          string `json:"name,omitempty"`
	Snapshots     []Info `json:"snapshots"`
	Summary       struct {
		TotalSnapshots  int   `json:"total_snapshots"`
		TotalSizeBytes  int64 `json:"total_size_bytes"`
		WithoutManifest int   `json:"without_manifest"`
	} `json:"summary"`
}

func Run(_ context.Context, configPath, name string, w io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	output, err := Collect(cfg, name)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(output); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}

// Collect describes the local snapshots of the configured mode, optionally
// only those of one dump name.
func Collect(s *config.Settings, name string) (*Output, error) {
	multi := s.MultiSource()
	output := &Output{
		DumpsLocation: s.DumpsLocation,
		Name:          name,
		Snapshots:     []Info{},
	}

	var paths []string
	if name != "" {
		matches, err := snapshot.AllGenerations(s.DumpsLocation, name, multi)
		if err != nil {
			return nil, err
		}
		paths = matches
	} else {
		entries, err := os.ReadDir(s.DumpsLocation)
		if err != nil {
			if os.IsNotExist(err) {
				return output, nil
			}
			return nil, fmt.Errorf("failed to read dumps location: %w", err)
		}
		for _, e := range entries {
			n := e.Name()
			if strings.HasPrefix(n, ".") || strings.HasSuffix(n, snapshot.ManifestSuffix) {
				continue
			}
			if multi != e.IsDir() || (!multi && !strings.HasSuffix(n, snapshot.Ext)) {
				continue
			}
			paths = append(paths, filepath.Join(s.DumpsLocation, n))
		}
	}
	sort.Strings(paths)

	for _, p := range paths {
		info, err := describe(s, p, multi)
		if err != nil {
			return nil, err
		}
		// The generation glob for "my" also matches "my_actual_data_actual2".
		if name != "" && info.Name != name {
			continue
		}
		if info.ManifestPath == "" {
			output.Summary.WithoutManifest++
		}
		output.Snapshots = append(output.Snapshots, *info)
	}

	output.Summary.TotalSnapshots = len(output.Snapshots)
	for _, info := range output.Snapshots {
		output.Summary.TotalSizeBytes += info.SizeBytes
	}

	return output, nil
}

func describe(s *config.Settings, path string, multi bool) (*Info, error) {
	name, key := snapshot.Parse(strings.TrimSuffix(filepath.Base(path), snapshot.Ext))
	info := &Info{
		Name:        name,
		Key:         key.String(),
		Path:        path,
		MultiSource: multi,
		Sources:     []SourceInfo{},
	}

	manifestPath := snapshot.ManifestPath(path)
	if m, err := manifest.Read(manifestPath); err == nil {
		info.ManifestPath = manifestPath
		info.Datetime = m.Datetime
		if m.Name != "" {
			info.Name = m.Name
			info.Key = m.Key
		}
		for _, src := range m.Sources {
			info.Sources = append(info.Sources, SourceInfo{
				Name:       src.Name,
				Engine:     src.Engine,
				Database:   src.Database,
				File:       src.File,
				SizeBytes:  src.Size,
				Blake3Hash: src.Blake3Hash,
			})
			info.SizeBytes += src.Size
		}
	} else {
		// No manifest, fall back to what is on disk.
		st, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
		info.Datetime = st.ModTime().Unix()

		files := []string{path}
		if multi {
			files, err = filepath.Glob(filepath.Join(path, "*"+snapshot.Ext))
			if err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			fst, err := os.Stat(f)
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", f, err)
			}
			rel, _ := filepath.Rel(s.DumpsLocation, f)
			srcName := config.DefaultSourceName
			if multi {
				srcName = strings.TrimSuffix(filepath.Base(f), snapshot.Ext)
			}
			info.Sources = append(info.Sources, SourceInfo{
				Name:      srcName,
				File:      filepath.ToSlash(rel),
				SizeBytes: fst.Size(),
			})
			info.SizeBytes += fst.Size()
		}
	}

	info.DatetimeStr = time.Unix(info.Datetime, 0).Format("2006-01-02 15:04:05")
	return info, nil
}
