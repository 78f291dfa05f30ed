package nodemanager

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalFileFetcherReadsAndTrimsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte("secret-passphrase\n"), 0o600))

	f := LocalFileFetcher{Path: path}
	key, err := f.FetchKey(context.Background())
	require.NoError(t, err)
	require.Equal(t, "secret-passphrase", key)
}

func TestLocalFileFetcherRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte("   \n"), 0o600))

	f := LocalFileFetcher{Path: path}
	_, err := f.FetchKey(context.Background())
	require.Error(t, err)
}

func TestLocalFileFetcherRejectsMissingFile(t *testing.T) {
	f := LocalFileFetcher{Path: filepath.Join(t.TempDir(), "nope.txt")}
	_, err := f.FetchKey(context.Background())
	require.Error(t, err)
}
