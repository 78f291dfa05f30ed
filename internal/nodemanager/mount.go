// Package nodemanager implements the sibling node-management process
// (C10, spec.md §4.9): mounting the encrypted data volume before the
// backend may start, the backend restart/data-reset command, and the
// source/target backup link (the wire codec lives in the backuplink
// subpackage).
package nodemanager

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/nearloop/backend/infrastructure/logging"
)

// Mode records how (or whether) the encrypted volume ended up mounted,
// mirroring the manager's own mount-state enum: a remote key fetched
// from the peer succeeded, a local fallback key was used, the volume's
// default password was in place, the volume turned out already mounted
// by something else, or mounting never happened.
type Mode string

const (
	NotMounted            Mode = "not_mounted"
	MountedWithRemoteKey  Mode = "mounted_with_remote_key"
	MountedWithLocalKey   Mode = "mounted_with_local_key"
	MountedWithDefaultKey Mode = "mounted_with_default_key"
	MountedWithUnknownKey Mode = "mounted_with_unknown_key"
)

// KeyFetcher retrieves the encrypted volume's passphrase from one key
// source. AzureKeyVaultFetcher is the production ("remote peer over
// TLS") implementation; LocalFileFetcher is the non-production fallback.
type KeyFetcher interface {
	FetchKey(ctx context.Context) (string, error)
}

// VolumeConfig describes the volume the Manager mounts and the script
// used to do so.
type VolumeConfig struct {
	// Dir is the mount point; its existence is how MountIfNeeded detects
	// an already-mounted volume (mirrors the original's
	// availability_check_path probe).
	Dir string
	// Script is an external cryptsetup-open-and-mount helper invoked as
	// `script open <dir>`, reading the passphrase from its stdin. If the
	// script does not exist, mounting is skipped with a warning — useful
	// in local development where no such script is installed.
	Script string
	// DefaultKey is tried last, matching the original's "mount using
	// default password" branch when no other key source is usable.
	DefaultKey string
}

// Manager owns the encrypted-volume mount/unmount operations. Production
// gates remote-key use through IsProduction; remoteFetcher and
// localFetcher may each be nil if that key source is unavailable.
type Manager struct {
	IsProduction  bool
	remoteFetcher KeyFetcher
	localFetcher  KeyFetcher
	log           *logging.Logger

	mode Mode
}

// NewManager builds a Manager. remote is the production key source
// (typically an AzureKeyVaultFetcher); local is the non-production
// fallback (typically a LocalFileFetcher). Either may be nil.
func NewManager(isProduction bool, remote, local KeyFetcher, log *logging.Logger) *Manager {
	return &Manager{IsProduction: isProduction, remoteFetcher: remote, localFetcher: local, log: log, mode: NotMounted}
}

// Mode reports the outcome of the most recent MountIfNeeded call.
func (m *Manager) Mode() Mode { return m.mode }

// MountIfNeeded mounts vol's encrypted volume unless it is already
// mounted, trying the remote key first and falling back to a local key
// only outside production (spec.md §4.9: "fetching the encryption key
// from a remote peer over TLS, falling back to a local key only in
// non-production").
func (m *Manager) MountIfNeeded(ctx context.Context, vol VolumeConfig) error {
	if _, err := os.Stat(vol.Dir); err == nil {
		m.log.Info(ctx, "secure storage already mounted", map[string]interface{}{"dir": vol.Dir})
		m.mode = MountedWithUnknownKey
		return nil
	}

	key, mode, err := m.resolveKey(ctx)
	if err != nil {
		if vol.DefaultKey == "" {
			return fmt.Errorf("nodemanager: no usable encryption key: %w", err)
		}
		m.log.Warn(ctx, "mounting secure storage using default password", nil)
		key, mode = vol.DefaultKey, MountedWithDefaultKey
	}

	if err := m.mountSecureStorage(ctx, vol, key); err != nil {
		return err
	}
	m.mode = mode
	return nil
}

// resolveKey tries the remote fetcher, then (outside production only)
// the local fetcher.
func (m *Manager) resolveKey(ctx context.Context) (string, Mode, error) {
	if m.remoteFetcher != nil {
		if key, err := m.remoteFetcher.FetchKey(ctx); err == nil {
			return key, MountedWithRemoteKey, nil
		} else {
			m.log.Warn(ctx, "remote encryption key fetch failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if m.IsProduction {
		return "", NotMounted, fmt.Errorf("nodemanager: remote key required in production")
	}

	if m.localFetcher != nil {
		if key, err := m.localFetcher.FetchKey(ctx); err == nil {
			m.log.Warn(ctx, "using local encryption key, this must not happen in production", nil)
			return key, MountedWithLocalKey, nil
		}
	}

	return "", NotMounted, fmt.Errorf("nodemanager: no key source available")
}

// mountSecureStorage pipes key to the configured mount script's stdin,
// the same handoff the original uses so the passphrase never appears on
// the command line or in a temp file.
func (m *Manager) mountSecureStorage(ctx context.Context, vol VolumeConfig, key string) error {
	if vol.Script == "" {
		m.log.Warn(ctx, "no mount script configured, skipping mount", nil)
		return nil
	}
	if _, err := os.Stat(vol.Script); err != nil {
		m.log.Warn(ctx, "mount script does not exist, skipping mount", map[string]interface{}{"script": vol.Script})
		return nil
	}

	cmd := exec.CommandContext(ctx, vol.Script, "open", vol.Dir)
	cmd.Stdin = bytes.NewBufferString(key)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("nodemanager: mount script failed: %w: %s", err, stderr.String())
	}
	return nil
}

// UnmountIfNeeded closes the encrypted volume unless it is already
// unmounted.
func (m *Manager) UnmountIfNeeded(ctx context.Context, vol VolumeConfig) error {
	if _, err := os.Stat(vol.Dir); err != nil {
		return nil
	}
	if vol.Script == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, vol.Script, "close", vol.Dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("nodemanager: unmount script failed: %w: %s", err, stderr.String())
	}
	m.mode = NotMounted
	return nil
}
