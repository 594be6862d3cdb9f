package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsMatchDefault(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("seed: 7\nworkers: 2\nlog_format: json\n"), 0o644))
	t.Setenv("SHELTER_WORKERS", "8")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), c.Seed)
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, 30, c.CandidateTimeoutSec)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	c := Default()
	require.NoError(t, c.Set("contamination", "0.05"))
	require.NoError(t, c.Set("frequency", "w"))
	require.NoError(t, Save(c, path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.05, back.Contamination)
	assert.Equal(t, "W", back.Frequency)
}

func TestSetRejectsBadValues(t *testing.T) {
	cases := []struct{ key, val string }{
		{"contamination", "0"},
		{"contamination", "0.6"},
		{"test_fraction", "abc"},
		{"cv_folds", "1"},
		{"default_k", "1"},
		{"seed", "-1"},
		{"frequency", "H"},
		{"log_level", "trace"},
		{"log_format", "xml"},
		{"api_key", "x"},
	}
	for _, tc := range cases {
		c := Default()
		assert.Error(t, c.Set(tc.key, tc.val), "%s=%s", tc.key, tc.val)
		assert.Equal(t, Default(), c, "%s=%s", tc.key, tc.val)
	}
}

func TestGetCoversEveryKey(t *testing.T) {
	c := Default()
	for _, k := range Keys {
		v, ok := c.Get(k)
		assert.True(t, ok, k)
		require.NoError(t, c.Set(k, v), k)
	}
	assert.Equal(t, Default(), c)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}
