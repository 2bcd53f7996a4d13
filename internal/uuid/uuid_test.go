package uuid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate_PersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dmr_uuid.txt")

	first, err := LoadOrCreate(path)
	require.NoError(t, err)
	_, err = uuid.Parse(first)
	require.NoError(t, err)

	second, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestLoadOrCreate_StripsPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmr_uuid.txt")
	require.NoError(t, os.WriteFile(path, []byte("uuid:0199ffd9-6856-74cc-a2f2-4c74af0161b1\n"), 0o644))

	id, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.Equal(t, "0199ffd9-6856-74cc-a2f2-4c74af0161b1", id)
}

func TestLoadOrCreate_ReplacesGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmr_uuid.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a uuid"), 0o644))

	id, err := LoadOrCreate(path)
	require.NoError(t, err)
	require.NotEqual(t, "not a uuid", id)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, id+"\n", string(b))
}
