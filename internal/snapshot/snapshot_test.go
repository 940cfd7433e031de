package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPath(t *testing.T) {
	createdOn := time.Date(2024, 1, 15, 10, 30, 5, 0, time.UTC)

	tests := []struct {
		name  string
		key   Key
		multi bool
		want  string
	}{
		{
			name: "no key",
			want: "tmp/x/d.dump",
		},
		{
			name: "created on",
			key:  Key{CreatedOn: createdOn},
			want: "tmp/x/d_20240115103005.dump",
		},
		{
			name: "actual tag",
			key:  Key{Actual: "1"},
			want: "tmp/x/d_actual1.dump",
		},
		{
			name: "created on wins over actual",
			key:  Key{CreatedOn: createdOn, Actual: "2"},
			want: "tmp/x/d_20240115103005.dump",
		},
		{
			name:  "multi-source has no extension",
			multi: true,
			want:  "tmp/x/d",
		},
		{
			name:  "multi-source with actual tag",
			key:   Key{Actual: "v3"},
			multi: true,
			want:  "tmp/x/d_actualv3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Path("tmp/x", "d", tt.key, tt.multi)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, Path("tmp/x", "d", tt.key, tt.multi))
		})
	}
}

func TestFormatTimestampIsZoneIndependent(t *testing.T) {
	utc := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tokyo := utc.In(time.FixedZone("JST", 9*60*60))

	assert.Equal(t, "20240601120000", FormatTimestamp(utc))
	assert.Equal(t, FormatTimestamp(utc), FormatTimestamp(tokyo))
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "none", Key{}.String())
	assert.Equal(t, "actual=7", Key{Actual: "7"}.String())
	assert.Equal(t, "created_on=2024-06-01T12:00:00Z", Key{CreatedOn: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}.String())
	assert.True(t, Key{}.IsZero())
	assert.False(t, Key{Actual: "x"}.IsZero())
}

func TestPattern(t *testing.T) {
	assert.Equal(t, "tmp/x/d_actual*.dump", Pattern("tmp/x", "d", false))
	assert.Equal(t, "tmp/x/d_actual*", Pattern("tmp/x", "d", true))
	assert.Equal(t, `tmp/x/fix\[1\]_actual*.dump`, Pattern("tmp/x", "fix[1]", false))
}

func TestSourceAndManifestPath(t *testing.T) {
	assert.Equal(t, "tmp/x/d/primary.dump", SourcePath("tmp/x/d", "primary"))
	assert.Equal(t, "tmp/x/d.dump.manifest.yaml", ManifestPath("tmp/x/d.dump"))
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestGenerationsSingleSource(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "d_actual1.dump"))
	touch(t, filepath.Join(dir, "d_actual2.dump"))
	touch(t, filepath.Join(dir, "d.dump"))
	touch(t, filepath.Join(dir, "d_20240101000000.dump"))
	touch(t, filepath.Join(dir, "other_actual1.dump"))
	touch(t, filepath.Join(dir, "d_actual1.dump.manifest.yaml"))

	got, err := Generations(dir, "d", false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "d_actual1.dump"),
		filepath.Join(dir, "d_actual2.dump"),
	}, got)
}

func TestRemoveGenerationsMultiSource(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "d_actual1", "primary.dump"))
	touch(t, filepath.Join(dir, "d_actual1.manifest.yaml"))
	touch(t, filepath.Join(dir, "d", "primary.dump"))

	removed, err := RemoveGenerations(dir, "d", true)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "d_actual1")}, removed)

	assert.NoDirExists(t, filepath.Join(dir, "d_actual1"))
	assert.NoFileExists(t, filepath.Join(dir, "d_actual1.manifest.yaml"))
	assert.FileExists(t, filepath.Join(dir, "d", "primary.dump"))
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "d.dump")
	touch(t, file)
	multi := filepath.Join(dir, "m")
	require.NoError(t, os.MkdirAll(multi, 0o755))

	ok, err := Exists(file, false)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(file, true)
	require.NoError(t, err)
	assert.False(t, ok, "a file is not a multi-source snapshot")

	ok, err = Exists(multi, true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(filepath.Join(dir, "missing.dump"), false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	assert.NoError(t, Remove(filepath.Join(t.TempDir(), "missing.dump")))
}

func TestAllGenerations(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "d.dump"))
	touch(t, filepath.Join(dir, "d_20240101000000.dump"))
	touch(t, filepath.Join(dir, "d_actual3.dump"))
	touch(t, filepath.Join(dir, "d_users.dump"))
	touch(t, filepath.Join(dir, "dd.dump"))

	got, err := AllGenerations(dir, "d", false)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "d.dump"),
		filepath.Join(dir, "d_20240101000000.dump"),
		filepath.Join(dir, "d_actual3.dump"),
	}, got)
}

func TestParse(t *testing.T) {
	tests := []struct {
		base     string
		wantName string
		wantKey  Key
	}{
		{base: "d", wantName: "d"},
		{base: "d_actual2", wantName: "d", wantKey: Key{Actual: "2"}},
		{base: "users_seed_actualv1.2", wantName: "users_seed", wantKey: Key{Actual: "v1.2"}},
		{base: "d_20240305102030", wantName: "d", wantKey: Key{CreatedOn: time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)}},
		{base: "d_99999999999999", wantName: "d_99999999999999"},
		{base: "d_users", wantName: "d_users"},
		{base: "my_actual_data_actual2", wantName: "my_actual_data", wantKey: Key{Actual: "2"}},
		{base: "my_actual_data_20240305102030", wantName: "my_actual_data", wantKey: Key{CreatedOn: time.Date(2024, 3, 5, 10, 20, 30, 0, time.UTC)}},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			name, key := Parse(tt.base)
			assert.Equal(t, tt.wantName, name)
			assert.True(t, tt.wantKey.CreatedOn.Equal(key.CreatedOn))
			assert.Equal(t, tt.wantKey.Actual, key.Actual)
		})
	}
}
