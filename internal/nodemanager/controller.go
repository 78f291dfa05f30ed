package nodemanager

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// BackendController starts and stops the backend process this node
// manager is paired with, via a systemd unit (the same indirection the
// original uses instead of managing the process tree directly).
type BackendController struct {
	// ServiceName is the systemd unit controlling the backend, e.g.
	// "nearloop-backend.service".
	ServiceName string
}

func (c BackendController) run(ctx context.Context, action string) error {
	cmd := exec.CommandContext(ctx, "systemctl", action, c.ServiceName)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("nodemanager: systemctl %s %s: %w: %s", action, c.ServiceName, err, stderr.String())
	}
	return nil
}

// StopBackend stops the backend unit.
func (c BackendController) StopBackend(ctx context.Context) error { return c.run(ctx, "stop") }

// StartBackend starts the backend unit.
func (c BackendController) StartBackend(ctx context.Context) error { return c.run(ctx, "start") }

// ResetBackendData removes every entry under dataDir without removing
// dataDir itself, so the backend recreates current.db/history.db fresh
// on its next start (spec.md §6's "Persisted layout").
func ResetBackendData(dataDir string) error {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return fmt.Errorf("nodemanager: read data dir %q: %w", dataDir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dataDir, entry.Name())); err != nil {
			return fmt.Errorf("nodemanager: remove %q: %w", entry.Name(), err)
		}
	}
	return nil
}
