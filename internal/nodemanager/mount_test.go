package nodemanager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearloop/backend/infrastructure/logging"
)

type fakeKeyFetcher struct {
	key string
	err error
}

func (f fakeKeyFetcher) FetchKey(ctx context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.key, nil
}

// writeFakeMountScript writes a shell script that reads its stdin (the
// key) and records it to keyOut, so tests can assert which key was
// actually piped to the mount process.
func writeFakeMountScript(t *testing.T, keyOut string) string {
	t.Helper()
	scriptPath := filepath.Join(t.TempDir(), "mount.sh")
	script := "#!/bin/sh\ncat > " + keyOut + "\nexit 0\n"
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))
	return scriptPath
}

func newTestManager(remote, local KeyFetcher, isProduction bool) *Manager {
	return NewManager(isProduction, remote, local, logging.New("test", "info", "text"))
}

func TestMountIfNeededSkipsWhenAlreadyMounted(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(nil, nil, false)

	require.NoError(t, m.MountIfNeeded(context.Background(), VolumeConfig{Dir: dir}))
	require.Equal(t, MountedWithUnknownKey, m.Mode())
}

func TestMountIfNeededUsesRemoteKeyWhenAvailable(t *testing.T) {
	mountDir := filepath.Join(t.TempDir(), "volume")
	keyOut := filepath.Join(t.TempDir(), "key.out")
	script := writeFakeMountScript(t, keyOut)

	m := newTestManager(fakeKeyFetcher{key: "remote-secret"}, nil, true)
	require.NoError(t, m.MountIfNeeded(context.Background(), VolumeConfig{Dir: mountDir, Script: script}))
	require.Equal(t, MountedWithRemoteKey, m.Mode())

	got, err := os.ReadFile(keyOut)
	require.NoError(t, err)
	require.Equal(t, "remote-secret", string(got))
}

func TestMountIfNeededInProductionRefusesLocalFallback(t *testing.T) {
	mountDir := filepath.Join(t.TempDir(), "volume")
	m := newTestManager(fakeKeyFetcher{err: errors.New("peer unreachable")}, fakeKeyFetcher{key: "local-secret"}, true)

	err := m.MountIfNeeded(context.Background(), VolumeConfig{Dir: mountDir})
	require.Error(t, err)
	require.Equal(t, NotMounted, m.Mode())
}

func TestMountIfNeededOutsideProductionFallsBackToLocalKey(t *testing.T) {
	mountDir := filepath.Join(t.TempDir(), "volume")
	keyOut := filepath.Join(t.TempDir(), "key.out")
	script := writeFakeMountScript(t, keyOut)

	m := newTestManager(fakeKeyFetcher{err: errors.New("peer unreachable")}, fakeKeyFetcher{key: "local-secret"}, false)
	require.NoError(t, m.MountIfNeeded(context.Background(), VolumeConfig{Dir: mountDir, Script: script}))
	require.Equal(t, MountedWithLocalKey, m.Mode())

	got, err := os.ReadFile(keyOut)
	require.NoError(t, err)
	require.Equal(t, "local-secret", string(got))
}

func TestMountIfNeededFallsBackToDefaultKeyWhenNoFetcherWorks(t *testing.T) {
	mountDir := filepath.Join(t.TempDir(), "volume")
	keyOut := filepath.Join(t.TempDir(), "key.out")
	script := writeFakeMountScript(t, keyOut)

	m := newTestManager(nil, nil, false)
	require.NoError(t, m.MountIfNeeded(context.Background(), VolumeConfig{Dir: mountDir, Script: script, DefaultKey: "password\n"}))
	require.Equal(t, MountedWithDefaultKey, m.Mode())
}

func TestMountIfNeededFailsWithoutAnyKeySourceOrDefault(t *testing.T) {
	mountDir := filepath.Join(t.TempDir(), "volume")
	m := newTestManager(nil, nil, false)

	err := m.MountIfNeeded(context.Background(), VolumeConfig{Dir: mountDir})
	require.Error(t, err)
}

func TestMountSecureStorageSkipsWhenScriptMissing(t *testing.T) {
	m := newTestManager(nil, nil, false)
	err := m.mountSecureStorage(context.Background(), VolumeConfig{Dir: t.TempDir(), Script: filepath.Join(t.TempDir(), "no-such-script.sh")}, "key")
	require.NoError(t, err)
}

func TestUnmountIfNeededIsNoOpWhenNotMounted(t *testing.T) {
	m := newTestManager(nil, nil, false)
	err := m.UnmountIfNeeded(context.Background(), VolumeConfig{Dir: filepath.Join(t.TempDir(), "not-there")})
	require.NoError(t, err)
}
