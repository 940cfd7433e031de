package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	dir := t.TempDir()
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	plain := filepath.Join(dir, "users.dump")
	require.NoError(t, os.WriteFile(plain, []byte("PGDMP fixture bytes"), 0o644))

	sealed := plain + ".age"
	require.NoError(t, Encrypt(plain, sealed, identity.Recipient()))

	sealedData, err := os.ReadFile(sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(sealedData), "fixture bytes")

	opened := filepath.Join(dir, "users.restored.dump")
	require.NoError(t, Decrypt(sealed, opened, identity))

	data, err := os.ReadFile(opened)
	require.NoError(t, err)
	assert.Equal(t, "PGDMP fixture bytes", string(data))
}

func TestDecryptWithWrongIdentity(t *testing.T) {
	dir := t.TempDir()
	owner, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	stranger, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	plain := filepath.Join(dir, "users.dump")
	require.NoError(t, os.WriteFile(plain, []byte("data"), 0o644))
	require.NoError(t, Encrypt(plain, plain+".age", owner.Recipient()))

	out := filepath.Join(dir, "out")
	assert.Error(t, Decrypt(plain+".age", out, stranger))
	assert.NoFileExists(t, out, "failed decrypt leaves nothing behind")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o644))

	hashA, err := HashFile(a)
	require.NoError(t, err)
	hashB, err := HashFile(b)
	require.NoError(t, err)

	assert.Len(t, hashA, 64)
	assert.Equal(t, hashA, hashB)

	require.NoError(t, VerifyFile(a, hashA))

	require.NoError(t, os.WriteFile(b, []byte("changed"), 0o644))
	assert.ErrorContains(t, VerifyFile(b, hashA), "BLAKE3 mismatch")
}

func TestLoadIdentity(t *testing.T) {
	identity, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.txt")
	content := "# created: 2024-01-01T00:00:00Z\n# public key: " + identity.Recipient().String() + "\n" + identity.String() + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	loaded, err := LoadIdentity(path)
	require.NoError(t, err)
	assert.Equal(t, identity.Recipient().String(), loaded.Recipient().String())

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o600))
	_, err = LoadIdentity(empty)
	assert.Error(t, err)
}
