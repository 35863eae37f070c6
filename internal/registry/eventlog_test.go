package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenEventLogCreatesPlainFileWhenNeitherExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ttcom.log")

	log, err := OpenEventLog(path)
	require.NoError(t, err)
	log.Write("home", "test line")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "home: test line")
}

func TestOpenEventLogAppendsToExistingPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ttcom.log")
	require.NoError(t, os.WriteFile(path, []byte("old entry\n"), 0o644))

	log, err := OpenEventLog(path)
	require.NoError(t, err)
	log.Write("home", "new entry")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "old entry")
	assert.Contains(t, string(data), "new entry")
}
