package fsutil

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomicReplacesAndCleansUp(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteFileAtomic(fs, "/a/b/state.json", []byte("one")))
	require.NoError(t, WriteFileAtomic(fs, "/a/b/state.json", []byte("two")))

	data, err := afero.ReadFile(fs, "/a/b/state.json")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := afero.ReadDir(fs, "/a/b")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not linger")
}

func TestWriteJSON(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, WriteJSON(fs, "/out.json", map[string]any{"key": "DFLY-1"}))
	data, err := afero.ReadFile(fs, "/out.json")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"key\": \"DFLY-1\"\n}\n", string(data))
}
