package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultUniverses(t *testing.T) {
	u, err := LoadUniverses("")
	require.NoError(t, err)

	assert.Equal(t, []string{"mexican", "tech", "us"}, u.Names())
	tech, ok := u.Lookup("TECH")
	require.True(t, ok)
	assert.Equal(t, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "META"}, tech)

	_, ok = u.Lookup("crypto")
	assert.False(t, ok)
}

func TestUniverseOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("universes:\n  Tech: [nvda, amd]\n  banks: [JPM, BAC, C]\n"), 0o644))

	u, err := LoadUniverses(path)
	require.NoError(t, err)

	tech, _ := u.Lookup("tech")
	assert.Equal(t, []string{"NVDA", "AMD"}, tech)
	banks, ok := u.Lookup("banks")
	require.True(t, ok)
	assert.Len(t, banks, 3)
	_, ok = u.Lookup("us")
	assert.True(t, ok, "built-in universes survive an override file")
}

func TestUniverseFileErrors(t *testing.T) {
	_, err := LoadUniverses(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("universes:\n  none: []\n"), 0o644))
	_, err = LoadUniverses(path)
	assert.Error(t, err)
}
