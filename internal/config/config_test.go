package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsAndValidate(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(f, []byte("FEEDS:\n  - name: kitten\n  - name: kitten\n  - name: fox\n"), 0o644))
	c, err := Load(f)
	require.NoError(t, err)
	require.Len(t, c.Feeds, 2, "duplicate feeds are dropped")
	require.Equal(t, "month", c.Archive.Bucket)
	require.Equal(t, 1, c.Concurrency.Feeds)
	require.Equal(t, 2*time.Second, c.Backoff.Base)
	require.Equal(t, time.Minute, c.Backoff.Max)
	require.Equal(t, DefaultRetries, *c.Backoff.Retries)
	require.Equal(t, 10*time.Minute, c.HTTP.AssetTimeout)
	require.Equal(t, DefaultUserAgent, c.HTTP.UserAgent)
	require.Equal(t, "pretty", c.LogFormat)

	require.NoError(t, os.WriteFile(f, []byte("ARCHIVE:\n  bucket: week\n"), 0o644))
	_, err = Load(f)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(f, []byte("FEEDS:\n  - name: ../etc\n"), 0o644))
	_, err = Load(f)
	require.Error(t, err)
}

func TestBackoffRetriesZeroIsKept(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(f, []byte("BACKOFF:\n  retries: 0\n"), 0o644))
	c, err := Load(f)
	require.NoError(t, err)
	require.NotNil(t, c.Backoff.Retries)
	require.Equal(t, 0, *c.Backoff.Retries)
	require.Equal(t, 0, c.Backoff.MaxRetries())

	require.Equal(t, DefaultRetries, Backoff{}.MaxRetries())

	require.NoError(t, os.WriteFile(f, []byte("BACKOFF:\n  retries: -1\n"), 0o644))
	_, err = Load(f)
	require.Error(t, err)
}

func TestBackoffRetriesLocalOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(base, []byte("BACKOFF:\n  retries: 3\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.local.yaml"), []byte("BACKOFF:\n  retries: 0\n"), 0o644))
	c, err := Load(base)
	require.NoError(t, err)
	require.Equal(t, 0, c.Backoff.MaxRetries(), "explicit 0 in the local file overrides base")
}

func TestDurationsAndLocalOverride(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "settings.yaml")
	local := filepath.Join(dir, "settings.local.yaml")
	require.NoError(t, os.WriteFile(base, []byte("BACKOFF:\n  base: 500ms\n  max: 4s\nARCHIVE:\n  dir: /srv/soup\n  bucket: year\n"), 0o644))
	require.NoError(t, os.WriteFile(local, []byte("ARCHIVE:\n  dir: /tmp/soup\n"), 0o644))

	c, err := Load(base)
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, c.Backoff.Base)
	require.Equal(t, 4*time.Second, c.Backoff.Max)
	require.Equal(t, "/tmp/soup", c.Archive.Dir, "local file overrides base")
	require.Equal(t, "year", c.Archive.Bucket, "unset local fields keep base values")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOUP_DIR", "/data/soup")
	t.Setenv("SOUP_UA", "tester/2")
	c, err := LoadOptional(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "/data/soup", c.Archive.Dir)
	require.Equal(t, "tester/2", c.HTTP.UserAgent)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
}

func TestDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(env, []byte("SOUP_PROXY=http://proxy:3128\n"), 0o644))
	t.Setenv("SOUP_PROXY", "")
	os.Unsetenv("SOUP_PROXY")
	LoadDotEnv(env)
	c, err := LoadOptional(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "http://proxy:3128", c.HTTP.Proxy)
}
