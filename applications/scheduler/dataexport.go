package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nearloop/backend/domain/content"
)

// exportManifestPrefix/exportManifestExt name the files cleanupDataExports
// scans for under <dataDir>/<accountID>/tmp (spec.md §4.1's per-account
// tmp dir, reused here rather than a new export-specific directory).
const (
	exportManifestPrefix = "export-"
	exportManifestExt    = ".json"
)

// Manifest is the snapshot of one account's exportable data (spec.md §4's
// data-export feature: a manifest the client can later package and ship,
// not the zip/transport itself).
type Manifest struct {
	AccountID        string             `json:"account_id"`
	GeneratedAt      time.Time          `json:"generated_at"`
	DisplayName      string             `json:"display_name"`
	ProfileText      string             `json:"profile_text"`
	Age              int32              `json:"age"`
	ContentItems     []ManifestContent  `json:"content_items"`
	PendingMessages  int                `json:"pending_messages"`
}

// ManifestContent is one media-content item's exportable metadata.
type ManifestContent struct {
	ID    string `json:"id"`
	Slot  int    `json:"slot"`
	State string `json:"state"`
}

// BuildManifest assembles a Manifest for accountID from the profile,
// content, and pending-message stores, and writes it as
// <dataDir>/<accountID>/tmp/export-<uuid>.json. It returns the path
// written.
func (s *Scheduler) BuildManifest(ctx context.Context, accountID string, contents []content.Content, pendingForAccount int) (string, error) {
	p, err := s.deps.Profiles.GetProfile(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("scheduler: build manifest: load profile: %w", err)
	}

	items := make([]ManifestContent, 0, len(contents))
	for _, c := range contents {
		items = append(items, ManifestContent{ID: c.ID, Slot: c.Slot, State: string(c.State)})
	}

	manifest := Manifest{
		AccountID:       accountID,
		GeneratedAt:     time.Now().UTC(),
		DisplayName:     p.DisplayName,
		ProfileText:     p.Text,
		Age:             p.Age,
		ContentItems:    items,
		PendingMessages: pendingForAccount,
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("scheduler: build manifest: encode: %w", err)
	}

	tmpDir := filepath.Join(s.dataDir, accountID, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", fmt.Errorf("scheduler: build manifest: mkdir tmp: %w", err)
	}
	path := filepath.Join(tmpDir, exportManifestPrefix+uuid.NewString()+exportManifestExt)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("scheduler: build manifest: write: %w", err)
	}
	return path, nil
}

// cleanupDataExports removes export manifests older than the configured
// retention from every account's tmp dir (spec.md §4.8's "data-export
// cleanup"). A missing dataDir or per-account tmp dir is not an error:
// the population may simply have no manifests yet.
func (s *Scheduler) cleanupDataExports(ctx context.Context) error {
	if s.dataDir == "" {
		return nil
	}
	accountDirs, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scheduler: cleanup data exports: read data dir: %w", err)
	}

	cutoff := time.Now().Add(-s.exportRetention)
	var removed int
	for _, accountDir := range accountDirs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !accountDir.IsDir() {
			continue
		}
		tmpDir := filepath.Join(s.dataDir, accountDir.Name(), "tmp")
		entries, err := os.ReadDir(tmpDir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || !strings.HasPrefix(name, exportManifestPrefix) || !strings.HasSuffix(name, exportManifestExt) {
				continue
			}
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(tmpDir, name)); err == nil {
				removed++
			}
		}
	}

	if s.deps.Log != nil {
		s.deps.Log.Info(ctx, "data export cleanup complete", map[string]interface{}{"removed": removed})
	}
	return nil
}
