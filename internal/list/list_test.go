package list

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"dumphook/internal/config"
	"dumphook/internal/manifest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollectSingleSource(t *testing.T) {
	s := config.Default()
	s.DumpsLocation = t.TempDir()

	writeFile(t, filepath.Join(s.DumpsLocation, "d.dump"), "abc")
	writeFile(t, filepath.Join(s.DumpsLocation, "d_actual2.dump"), "abcdef")
	writeFile(t, filepath.Join(s.DumpsLocation, "other_20240101000000.dump"), "x")
	writeFile(t, filepath.Join(s.DumpsLocation, ".d.lock"), "pid: 1")
	require.NoError(t, os.MkdirAll(filepath.Join(s.DumpsLocation, "multi"), 0o755))

	entry, err := manifest.Entry(s.DumpsLocation, config.DefaultSourceName, "postgres", "fixtures", filepath.Join(s.DumpsLocation, "d_actual2.dump"))
	require.NoError(t, err)
	require.NoError(t, manifest.Write(filepath.Join(s.DumpsLocation, "d_actual2.dump.manifest.yaml"), &manifest.Snapshot{
		Name:     "d",
		Key:      "actual=2",
		Datetime: 1700000000,
		Sources:  []manifest.SourceEntry{entry},
	}))

	out, err := Collect(s, "")
	require.NoError(t, err)

	require.Len(t, out.Snapshots, 3)
	assert.Equal(t, "d", out.Snapshots[0].Name)
	assert.Equal(t, "none", out.Snapshots[0].Key)
	assert.Empty(t, out.Snapshots[0].ManifestPath)

	withManifest := out.Snapshots[1]
	assert.Equal(t, "actual=2", withManifest.Key)
	assert.Equal(t, int64(1700000000), withManifest.Datetime)
	require.Len(t, withManifest.Sources, 1)
	assert.Equal(t, "fixtures", withManifest.Sources[0].Database)
	assert.Equal(t, int64(6), withManifest.SizeBytes)

	assert.Equal(t, "other", out.Snapshots[2].Name)
	assert.Equal(t, "created_on=2024-01-01T00:00:00Z", out.Snapshots[2].Key)

	assert.Equal(t, 3, out.Summary.TotalSnapshots)
	assert.Equal(t, 2, out.Summary.WithoutManifest)
	assert.Equal(t, int64(10), out.Summary.TotalSizeBytes)
}

func TestCollectFilterByName(t *testing.T) {
	s := config.Default()
	s.DumpsLocation = t.TempDir()

	writeFile(t, filepath.Join(s.DumpsLocation, "d_actual1.dump"), "a")
	writeFile(t, filepath.Join(s.DumpsLocation, "dd_actual1.dump"), "a")

	out, err := Collect(s, "d")
	require.NoError(t, err)
	require.Len(t, out.Snapshots, 1)
	assert.Equal(t, "d", out.Snapshots[0].Name)
}

func TestCollectNamesContainingActual(t *testing.T) {
	s := config.Default()
	s.DumpsLocation = t.TempDir()

	writeFile(t, filepath.Join(s.DumpsLocation, "my_actual_data_actual2.dump"), "a")
	tagged := filepath.Join(s.DumpsLocation, "my_actualx_actual2.dump")
	writeFile(t, tagged, "b")
	entry, err := manifest.Entry(s.DumpsLocation, config.DefaultSourceName, "postgres", "fixtures", tagged)
	require.NoError(t, err)
	require.NoError(t, manifest.Write(tagged+".manifest.yaml", &manifest.Snapshot{
		Name:    "my",
		Key:     "actual=x_actual2",
		Sources: []manifest.SourceEntry{entry},
	}))

	out, err := Collect(s, "")
	require.NoError(t, err)
	require.Len(t, out.Snapshots, 2)
	assert.Equal(t, "my_actual_data", out.Snapshots[0].Name)
	assert.Equal(t, "actual=2", out.Snapshots[0].Key)
	assert.Equal(t, "my", out.Snapshots[1].Name)
	assert.Equal(t, "actual=x_actual2", out.Snapshots[1].Key)

	out, err = Collect(s, "my")
	require.NoError(t, err)
	require.Len(t, out.Snapshots, 1)
	assert.Equal(t, tagged, out.Snapshots[0].Path)
	assert.Equal(t, 1, out.Summary.TotalSnapshots)
}

func TestCollectMultiSource(t *testing.T) {
	s := config.Default()
	s.DumpsLocation = t.TempDir()
	s.Sources = []config.Source{
		{Name: "primary", Engine: config.EnginePostgres, Database: "a"},
		{Name: "secondary", Engine: config.EngineMySQL, Database: "b"},
	}

	writeFile(t, filepath.Join(s.DumpsLocation, "d", "primary.dump"), "aa")
	writeFile(t, filepath.Join(s.DumpsLocation, "d", "secondary.dump"), "bbb")
	writeFile(t, filepath.Join(s.DumpsLocation, "single.dump"), "ignored")

	out, err := Collect(s, "")
	require.NoError(t, err)
	require.Len(t, out.Snapshots, 1)

	info := out.Snapshots[0]
	assert.True(t, info.MultiSource)
	assert.Equal(t, int64(5), info.SizeBytes)
	require.Len(t, info.Sources, 2)
	assert.Equal(t, "primary", info.Sources[0].Name)
	assert.Equal(t, "d/secondary.dump", info.Sources[1].File)
}

func TestCollectMissingLocation(t *testing.T) {
	s := config.Default()
	s.DumpsLocation = filepath.Join(t.TempDir(), "missing")

	out, err := Collect(s, "")
	require.NoError(t, err)
	assert.Empty(t, out.Snapshots)
}

func TestRunWritesJSON(t *testing.T) {
	dir := t.TempDir()
	location := filepath.Join(dir, "dumps")
	writeFile(t, filepath.Join(location, "d.dump"), "abc")

	configPath := filepath.Join(dir, "dump_hook.yaml")
	writeFile(t, configPath, "dumps_location: "+location+"\n")

	var buf bytes.Buffer
	require.NoError(t, Run(context.Background(), configPath, "", &buf))

	var out Output
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, location, out.DumpsLocation)
	require.Len(t, out.Snapshots, 1)
	assert.Equal(t, "d", out.Snapshots[0].Name)
}
